package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Configure installs the default slog logger for the given level and
// optional log file. Valid levels are "none", "error", "warn", "info" and
// "debug". An empty file logs text to stderr, otherwise JSON is written to
// the file, which the caller must close.
func Configure(level, file string) (*slog.Logger, *os.File, error) {
	opts := slog.HandlerOptions{}

	switch level {
	case "none":
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		slog.SetDefault(logger)
		return logger, nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, nil, fmt.Errorf("unexpected log level %q", level)
	}

	var (
		handler slog.Handler
		f       *os.File
	)
	if file == "" {
		handler = slog.NewTextHandler(os.Stderr, &opts)
	} else {
		var err error
		f, err = os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		handler = slog.NewJSONHandler(f, &opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, f, nil
}
