// Package observe provides observability primitives for Listen: OpenTelemetry
// metrics with a Prometheus exporter bridge and an optional /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Listen metrics.
const meterName = "github.com/BradleyFarquharson/Listen"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// FramesCaptured counts audio frames delivered by the capture callback.
	FramesCaptured metric.Int64Counter

	// FramesDropped counts frames evicted from the capture channel because
	// the consumer fell behind.
	FramesDropped metric.Int64Counter

	// SegmentsEmitted counts speech segments produced by the segmentation
	// engine.
	SegmentsEmitted metric.Int64Counter

	// RecognizeErrors counts failed recognize calls.
	RecognizeErrors metric.Int64Counter

	// RecognizeDuration tracks transcription latency per segment.
	RecognizeDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live capture sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// local whisper inference on short utterances.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.FramesCaptured, err = m.Int64Counter("listen.audio.frames_captured",
		metric.WithDescription("Total audio frames delivered by the capture callback."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("listen.audio.frames_dropped",
		metric.WithDescription("Total frames evicted because the consumer fell behind."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("listen.segments.emitted",
		metric.WithDescription("Total speech segments emitted by the segmentation engine."),
	); err != nil {
		return nil, err
	}
	if met.RecognizeErrors, err = m.Int64Counter("listen.recognize.errors",
		metric.WithDescription("Total failed recognize calls."),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("listen.recognize.duration",
		metric.WithDescription("Latency of transcription per segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("listen.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordRecognize records one recognize call: its latency and, on failure,
// an error counter increment tagged with the error kind.
func (m *Metrics) RecordRecognize(ctx context.Context, seconds float64, errKind string) {
	m.RecognizeDuration.Record(ctx, seconds)
	if errKind != "" {
		m.RecognizeErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("kind", errKind)),
		)
	}
}
