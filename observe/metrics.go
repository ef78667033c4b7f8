// Package observe holds the sensor's OpenTelemetry instruments and the
// Prometheus bridge that exposes them on /metrics.
package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/d1nch8g/audiosensor"

// Metrics holds the capture-loop instruments. Safe for concurrent use.
type Metrics struct {
	// FramesPublished counts frames handed to the bus.
	FramesPublished metric.Int64Counter

	// ShortFrames counts frames built from short reads.
	ShortFrames metric.Int64Counter

	// CaptureErrors counts device read errors. Attribute: kind.
	CaptureErrors metric.Int64Counter

	// PublishErrors counts publish failures, immediate or asynchronous.
	PublishErrors metric.Int64Counter

	// FrameBytes records payload sizes.
	FrameBytes metric.Int64Histogram
}

var frameBuckets = []float64{4, 256, 512, 1024, 2048, 2052, 4096}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesPublished, err = m.Int64Counter("sensor.frames.published",
		metric.WithDescription("Frames handed to the message bus."),
	); err != nil {
		return nil, err
	}
	if met.ShortFrames, err = m.Int64Counter("sensor.frames.short",
		metric.WithDescription("Frames built from a short device read."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("sensor.capture.errors",
		metric.WithDescription("Audio device read errors by kind."),
	); err != nil {
		return nil, err
	}
	if met.PublishErrors, err = m.Int64Counter("sensor.publish.errors",
		metric.WithDescription("Failed publishes on any topic."),
	); err != nil {
		return nil, err
	}
	if met.FrameBytes, err = m.Int64Histogram("sensor.frame.bytes",
		metric.WithDescription("Size of published frame payloads."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(frameBuckets...),
	); err != nil {
		return nil, err
	}
	return met, nil
}

// RecordFrame records one published frame of the given payload size.
func (m *Metrics) RecordFrame(ctx context.Context, size int, short bool) {
	m.FramesPublished.Add(ctx, 1)
	m.FrameBytes.Record(ctx, int64(size))
	if short {
		m.ShortFrames.Add(ctx, 1)
	}
}

func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordPublishError(ctx context.Context, topic string) {
	m.PublishErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("topic", topic)))
}

// InitProvider registers a global MeterProvider exporting through
// Prometheus and returns its shutdown function.
func InitProvider() (func(context.Context) error, error) {
	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		if err := srv.Shutdown(context.Background()); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
