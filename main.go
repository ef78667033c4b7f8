package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/d1nch8g/audiosensor/audio"
	"github.com/d1nch8g/audiosensor/bus"
	"github.com/d1nch8g/audiosensor/config"
	"github.com/d1nch8g/audiosensor/engine"
	"github.com/d1nch8g/audiosensor/health"
	"github.com/d1nch8g/audiosensor/logging"
	"github.com/d1nch8g/audiosensor/observe"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	envFile, sensorID, err := parseArgs(args)
	if err != nil {
		return exitUsage
	}

	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiosensor: %v\n", err)
		return exitFailure
	}

	logger, logFile, err := logging.Configure(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiosensor: %v\n", err)
		return exitFailure
	}
	if logFile != nil {
		defer logFile.Close()
	}
	bus.BridgeLogs(logger.Handler())
	logger.Info("initialized sensor", "sensor_id", sensorID, "broker", cfg.MQTT.Broker(), "source", cfg.Audio.Source)

	// The first signal cancels ctx; stop() restores default handling so a
	// second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		stop()
	}()

	shutdownMetrics, err := observe.InitProvider()
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return exitFailure
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return exitFailure
	}

	topics := bus.TopicsFor(sensorID)
	publisher := bus.NewMQTTPublisher(bus.MQTTConfig{
		Broker:            cfg.MQTT.Broker(),
		Topics:            topics,
		KeepAlive:         config.KeepAlive,
		ConnectTimeout:    config.ConnectTimeout,
		DisconnectQuiesce: config.DisconnectQuiesce,
	}, logger)
	publisher.OnPublishError(func(topic string, _ error) {
		metrics.RecordPublishError(context.Background(), topic)
	})

	opts := []engine.Option{engine.WithLogger(logger), engine.WithMetrics(metrics)}
	var healthSrv *health.Server
	if cfg.HealthAddr != "" {
		healthSrv = health.New()
		opts = append(opts, engine.WithStateHook(func(s engine.State) {
			healthSrv.SetServing(s == engine.Online)
		}))
	}

	sensor := engine.New(engine.Config{
		SensorID:      sensorID,
		BlockLen:      cfg.Audio.FramesPerBuffer * cfg.Audio.Channels,
		BlockDuration: cfg.Audio.BlockDuration(),
	}, newSource(cfg.Audio), publisher, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sensor.Run(gctx)
	})
	if healthSrv != nil {
		g.Go(func() error {
			return healthSrv.ListenAndServe(gctx, cfg.HealthAddr)
		})
	}
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return observe.Serve(gctx, cfg.MetricsAddr)
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(err, engine.ErrStartup) {
			slog.Error("sensor failed to start", "err", err)
		} else {
			slog.Error("sensor stopped", "err", err)
		}
		return exitFailure
	}
	return exitOK
}

// parseArgs returns the dotenv path and the sensor id. Errors have already
// been reported with the usage text. Negative ids must follow "--" so the
// flag parser does not take them for flags.
func parseArgs(args []string) (string, int, error) {
	fs := flag.NewFlagSet("audiosensor", flag.ContinueOnError)
	envFile := fs.String("env", ".env", "path to the dotenv file")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: audiosensor [-env file] [--] <sensor-id>")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return "", 0, err
	}
	id, err := parseSensorID(fs.Args())
	if err != nil {
		fmt.Fprintf(fs.Output(), "audiosensor: %v\n", err)
		fs.Usage()
		return "", 0, err
	}
	return *envFile, id, nil
}

func parseSensorID(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("exactly one sensor id argument is required")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("invalid sensor id %q", args[0])
	}
	return id, nil
}

func newSource(cfg config.AudioConfig) audio.Source {
	ac := audio.Config{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	if cfg.Source == config.SourcePortAudio {
		return audio.NewPortAudioSource(ac)
	}
	return audio.NewReplaySource(cfg.Source, ac)
}
