// Package observe provides application-wide observability primitives for
// EXO: OpenTelemetry metrics, distributed tracing, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all EXO metrics.
const meterName = "github.com/exovoice/exo"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// BrainDuration tracks command reasoning latency.
	BrainDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// DispatchLatency tracks end-to-end latency from command submission to
	// spoken reply.
	DispatchLatency metric.Float64Histogram

	// --- Counters ---

	// CommandsHandled counts dispatched commands. Use with attributes:
	//   attribute.String("room", ...), attribute.String("outcome", ...)
	CommandsHandled metric.Int64Counter

	// UtterancesDiscarded counts utterances rejected before dispatch. Use
	// with attributes:
	//   attribute.String("room", ...), attribute.String("reason", ...)
	UtterancesDiscarded metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("exo.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.BrainDuration, err = m.Float64Histogram("exo.brain.duration",
		metric.WithDescription("Latency of command reasoning."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("exo.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchLatency, err = m.Float64Histogram("exo.dispatch.latency",
		metric.WithDescription("End-to-end latency from command submission to spoken reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CommandsHandled, err = m.Int64Counter("exo.commands.handled",
		metric.WithDescription("Total dispatched commands by room and outcome."),
	); err != nil {
		return nil, err
	}
	if met.UtterancesDiscarded, err = m.Int64Counter("exo.utterances.discarded",
		metric.WithDescription("Total utterances rejected before dispatch by room and reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("exo.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("exo.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterSessionGauges registers callback gauges reporting the command queue
// depth and the number of sessions currently being processed. The callbacks
// are polled at collection time. The returned registration can be used to
// unregister the gauges on shutdown.
func (m *Metrics) RegisterSessionGauges(queueDepth, active func() int) (metric.Registration, error) {
	depth, err := m.meter.Int64ObservableGauge("exo.queue.depth",
		metric.WithDescription("Number of commands waiting in the session queue."),
	)
	if err != nil {
		return nil, err
	}
	sessions, err := m.meter.Int64ObservableGauge("exo.sessions.active",
		metric.WithDescription("Number of sessions currently being processed."),
	)
	if err != nil {
		return nil, err
	}
	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(depth, int64(queueDepth()))
		o.ObserveInt64(sessions, int64(active()))
		return nil
	}, depth, sessions)
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCommand records a dispatched command with the standard attribute set.
func (m *Metrics) RecordCommand(ctx context.Context, room, outcome string) {
	m.CommandsHandled.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("room", room),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordDiscard records an utterance rejected before dispatch.
func (m *Metrics) RecordDiscard(ctx context.Context, room, reason string) {
	m.UtterancesDiscarded.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("room", room),
			attribute.String("reason", reason),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
