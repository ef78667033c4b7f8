package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/d1nch8g/audiosensor/audio"
	"github.com/d1nch8g/audiosensor/bus"
	"github.com/d1nch8g/audiosensor/frame"
	"github.com/d1nch8g/audiosensor/observe"
)

// ErrStartup wraps every failure that keeps the sensor from going online.
var ErrStartup = errors.New("sensor startup failed")

// State is the sensor lifecycle as seen by bus subscribers.
type State int32

const (
	Offline State = iota
	Online
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Offline:
		return "offline"
	case Online:
		return "online"
	case ShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the per-process settings of the capture loop
type Config struct {
	SensorID int
	// BlockLen is the number of samples in a full block.
	BlockLen int
	// BlockDuration is the pacing delay after each frame.
	BlockDuration time.Duration
}

// Engine streams captured audio onto the bus and owns the sensor's
// device and bus handles for the lifetime of Run.
type Engine struct {
	config    Config
	topics    bus.Topics
	source    audio.Source
	publisher bus.Publisher
	logger    *slog.Logger
	metrics   *observe.Metrics
	onState   func(State)
	sleep     func(context.Context, time.Duration)

	state   atomic.Int32
	seq     atomic.Uint32
	running atomic.Bool
}

type Option func(*Engine)

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithStateHook registers fn to be called on every lifecycle transition.
func WithStateHook(fn func(State)) Option {
	return func(e *Engine) { e.onState = fn }
}

// WithSleep replaces the pacing delay.
func WithSleep(fn func(context.Context, time.Duration)) Option {
	return func(e *Engine) { e.sleep = fn }
}

// New creates a new sensor engine for the given identity
func New(config Config, source audio.Source, publisher bus.Publisher, opts ...Option) *Engine {
	e := &Engine{
		config:    config,
		topics:    bus.TopicsFor(config.SensorID),
		source:    source,
		publisher: publisher,
		logger:    slog.Default(),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		// Instrument creation on the no-op provider cannot fail.
		e.metrics, _ = observe.NewMetrics(noop.NewMeterProvider())
	}
	e.logger = e.logger.With("sensor_id", config.SensorID)
	return e
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Sequence returns the number the next frame will carry.
func (e *Engine) Sequence() uint32 {
	return e.seq.Load()
}

// Run opens the device, connects the bus, announces "online" and streams
// frames until ctx is cancelled. It then announces "offline", disconnects
// and closes the device, returning nil. Errors before going online are
// wrapped in ErrStartup.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine is already running")
	}
	defer e.running.Store(false)

	if err := e.source.Open(); err != nil {
		return fmt.Errorf("%w: open audio source: %w", ErrStartup, err)
	}

	if err := e.publisher.Connect(ctx); err != nil {
		if cerr := e.source.Close(); cerr != nil {
			e.logger.Warn("failed to close audio source", "err", cerr)
		}
		if ctx.Err() != nil {
			// Abandon the in-flight attempt cleanly so the broker does not
			// fire the offline will for a sensor that never went online.
			e.publisher.Disconnect()
			e.logger.Info("interrupted before going online")
			return nil
		}
		return fmt.Errorf("%w: connect: %w", ErrStartup, err)
	}

	defer func() {
		if err := e.teardown(); err != nil {
			e.logger.Warn("teardown finished with errors", "err", err)
		}
		e.logger.Info("sensor offline")
	}()

	e.publishStatus(bus.StatusOnline)
	e.setState(Online)
	e.logger.Info("sensor online", "topic", e.topics.Data, "status_topic", e.topics.Status)

	e.capture(ctx)
	return nil
}

// capture is the Running state. Cancellation is observed between
// iterations, never in the middle of a publish.
func (e *Engine) capture(ctx context.Context) {
	block := make([]int16, e.config.BlockLen)
	for ctx.Err() == nil {
		n, ok := e.readBlock(ctx, block)
		if !ok {
			return
		}
		e.publishFrame(ctx, block[:n])
		e.sleep(ctx, e.config.BlockDuration)
	}
}

// readBlock retries failed reads immediately after re-arming the device.
// It gives up only when ctx is cancelled.
func (e *Engine) readBlock(ctx context.Context, block []int16) (int, bool) {
	for {
		n, err := e.source.Read(block)
		if err == nil {
			return min(max(n, 0), len(block)), true
		}

		kind := "other"
		if errors.Is(err, audio.ErrOverrun) {
			kind = "overrun"
		}
		e.metrics.RecordCaptureError(ctx, kind)
		e.logger.Warn("capture error, re-arming device", "kind", kind, "err", err)

		if rerr := e.source.Rearm(); rerr != nil {
			e.logger.Warn("re-arm failed", "err", rerr)
		}
		if ctx.Err() != nil {
			return 0, false
		}
	}
}

func (e *Engine) publishFrame(ctx context.Context, samples []int16) {
	seq := e.seq.Load()
	payload := frame.Encode(seq, samples)

	short := len(samples) < e.config.BlockLen
	if short {
		e.logger.Warn("short read", "samples", len(samples), "want", e.config.BlockLen, "seq", seq)
	}

	if err := e.publisher.Publish(e.topics.Data, payload); err != nil {
		e.metrics.RecordPublishError(ctx, e.topics.Data)
		e.logger.Warn("publish failed", "seq", seq, "err", err)
	}

	// Wraps to zero after math.MaxUint32.
	e.seq.Add(1)
	e.metrics.RecordFrame(ctx, len(payload), short)
}

func (e *Engine) publishStatus(status string) error {
	err := e.publisher.Publish(e.topics.Status, []byte(status))
	if err != nil {
		e.metrics.RecordPublishError(context.Background(), e.topics.Status)
		e.logger.Warn("status publish failed", "status", status, "err", err)
	}
	return err
}

// teardown runs every step even if an earlier one failed.
func (e *Engine) teardown() error {
	e.setState(ShuttingDown)

	var errs []error
	if err := e.publishStatus(bus.StatusOffline); err != nil {
		errs = append(errs, fmt.Errorf("offline status: %w", err))
	}
	e.publisher.Disconnect()
	if err := e.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audio source: %w", err))
	}
	return errors.Join(errs...)
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	if e.onState != nil {
		e.onState(s)
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
