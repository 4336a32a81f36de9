// Package observe provides the observability primitives for censorbot:
// OpenTelemetry metrics, tracing of censorship sessions, trace-aware logging,
// and HTTP middleware for the health/metrics listener.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus via [InitProvider]. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all censorbot metrics.
const meterName = "github.com/MrWong99/censorbot"

// Trigger outcomes recorded on [Metrics.Triggers].
const (
	OutcomeCensored    = "censored"
	OutcomeBusy        = "busy"
	OutcomeMuteFailed  = "mute_failed"
	OutcomeEmptyAssets = "empty_assets"
	OutcomeFailed      = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	meter metric.Meter

	// RecognitionDuration tracks inference latency per finalized utterance.
	RecognitionDuration metric.Float64Histogram

	// OBSRequestDuration tracks OBS WebSocket request latency. Attributes:
	//   attribute.String("request", ...), attribute.String("status", ...)
	OBSRequestDuration metric.Float64Histogram

	// CensorDuration tracks the wall time of a censorship session, from mute
	// to unmute.
	CensorDuration metric.Float64Histogram

	// FramesCaptured counts frames pushed onto the frame queue.
	FramesCaptured metric.Int64Counter

	// Utterances counts Final recognition results.
	Utterances metric.Int64Counter

	// RecognitionErrors counts frames skipped because of a decoder error.
	RecognitionErrors metric.Int64Counter

	// Detections counts matched profanity tokens. Attribute:
	//   attribute.String("word", ...)
	Detections metric.Int64Counter

	// Triggers counts censorship attempts by outcome. Attribute:
	//   attribute.String("outcome", ...)
	Triggers metric.Int64Counter

	// CleanupFailures counts revert steps that failed after all retries.
	// Attribute: attribute.String("step", "hide"|"unmute")
	CleanupFailures metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// ActiveCensorSessions is 1 while the overlay hold is in progress.
	ActiveCensorSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	queueDepth  metric.Int64ObservableGauge
	queueStalls metric.Int64ObservableCounter
}

// latencyBuckets defines histogram bucket boundaries in seconds. They reach
// past the default 4 s hold so session durations land in a real bucket.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.RecognitionDuration, err = m.Float64Histogram("censorbot.recognition.duration",
		metric.WithDescription("Latency of speech recognition per utterance."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OBSRequestDuration, err = m.Float64Histogram("censorbot.obs.request.duration",
		metric.WithDescription("Latency of OBS WebSocket requests by request type and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CensorDuration, err = m.Float64Histogram("censorbot.censor.duration",
		metric.WithDescription("Wall time of a censorship session from mute to unmute."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.FramesCaptured, err = m.Int64Counter("censorbot.audio.frames",
		metric.WithDescription("Total audio frames captured."),
	); err != nil {
		return nil, err
	}
	if met.Utterances, err = m.Int64Counter("censorbot.recognition.utterances",
		metric.WithDescription("Total finalized utterances."),
	); err != nil {
		return nil, err
	}
	if met.RecognitionErrors, err = m.Int64Counter("censorbot.recognition.errors",
		metric.WithDescription("Total frames skipped because of a recognition error."),
	); err != nil {
		return nil, err
	}
	if met.Detections, err = m.Int64Counter("censorbot.profanity.detections",
		metric.WithDescription("Total profanity tokens detected by word."),
	); err != nil {
		return nil, err
	}
	if met.Triggers, err = m.Int64Counter("censorbot.censor.triggers",
		metric.WithDescription("Total censorship attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CleanupFailures, err = m.Int64Counter("censorbot.censor.cleanup_failures",
		metric.WithDescription("Total revert steps that failed after retries, by step."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("censorbot.breaker.transitions",
		metric.WithDescription("Total circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}

	if met.ActiveCensorSessions, err = m.Int64UpDownCounter("censorbot.censor.active",
		metric.WithDescription("Number of censorship sessions currently holding."),
	); err != nil {
		return nil, err
	}

	if met.queueDepth, err = m.Int64ObservableGauge("censorbot.queue.depth",
		metric.WithDescription("Frames waiting in the capture queue."),
	); err != nil {
		return nil, err
	}
	if met.queueStalls, err = m.Int64ObservableCounter("censorbot.queue.stalls",
		metric.WithDescription("Pushes that blocked on a full capture queue."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("censorbot.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails.
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// QueueStats is the read side of the capture queue.
type QueueStats interface {
	Len() int
	Stalls() int64
}

// ObserveQueue reports q's depth and stall count on every collection. The
// returned registration must be unregistered when q goes away.
func (m *Metrics) ObserveQueue(q QueueStats) (metric.Registration, error) {
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(m.queueDepth, int64(q.Len()))
		o.ObserveInt64(m.queueStalls, q.Stalls())
		return nil
	}, m.queueDepth, m.queueStalls)
}

// RecordTrigger records one censorship attempt with the given outcome.
func (m *Metrics) RecordTrigger(ctx context.Context, outcome string) {
	m.Triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDetections records one increment per matched word.
func (m *Metrics) RecordDetections(ctx context.Context, words []string) {
	for _, w := range words {
		m.Detections.Add(ctx, 1, metric.WithAttributes(attribute.String("word", w)))
	}
}

// RecordCleanupFailure records a revert step that could not be completed.
func (m *Metrics) RecordCleanupFailure(ctx context.Context, step string) {
	m.CleanupFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("step", step)))
}

// RecordOBSRequest records the latency of one OBS request.
func (m *Metrics) RecordOBSRequest(ctx context.Context, request string, latency time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OBSRequestDuration.Record(ctx, latency.Seconds(),
		metric.WithAttributes(
			attribute.String("request", request),
			attribute.String("status", status),
		),
	)
}

// RecordBreakerTransition records a circuit breaker moving to state to.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
