// Package observe provides application-wide observability primitives for
// Vocality: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Vocality metrics.
const meterName = "github.com/vocality-ai/vocality"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// RecognitionDuration tracks time from stream start to a complete
	// utterance transcript.
	RecognitionDuration metric.Float64Histogram

	// GenerationDuration tracks time to first LLM token per turn.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks time to first synthesized audio chunk per turn.
	SynthesisDuration metric.Float64Histogram

	// TurnDuration tracks the summed stage latency of a completed turn.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// Turns counts completed conversational turns. Use with attribute:
	//   attribute.String("outcome", "completed" | "barged_in" | "aborted")
	Turns metric.Int64Counter

	// Failovers counts speech-recognition backend switches. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("reason", "failover" | "manual")
	Failovers metric.Int64Counter

	// BargeIns counts user interruptions of active synthesis. Use with attribute:
	//   attribute.String("trigger", "energy" | "transcript")
	BargeIns metric.Int64Counter

	// BudgetOverruns counts turns whose total latency exceeded the budget.
	BudgetOverruns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
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
	met := &Metrics{}

	// Histograms.
	if met.RecognitionDuration, err = m.Float64Histogram("vocality.recognition.duration",
		metric.WithDescription("Latency from stream start to a complete utterance transcript."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("vocality.generation.duration",
		metric.WithDescription("Latency to first LLM token."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("vocality.synthesis.duration",
		metric.WithDescription("Latency to first synthesized audio chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("vocality.turn.duration",
		metric.WithDescription("Summed stage latency of a completed turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Turns, err = m.Int64Counter("vocality.turns",
		metric.WithDescription("Completed conversational turns by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Failovers, err = m.Int64Counter("vocality.stt.failovers",
		metric.WithDescription("Speech-recognition backend switches by target provider and reason."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("vocality.bargeins",
		metric.WithDescription("User interruptions of active synthesis by trigger."),
	); err != nil {
		return nil, err
	}
	if met.BudgetOverruns, err = m.Int64Counter("vocality.turn.budget_overruns",
		metric.WithDescription("Turns whose total latency exceeded the configured budget."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("vocality.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("vocality.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("vocality.http.request.duration",
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

// RecordTurn records a completed turn with the given outcome
// ("completed", "barged_in", or "aborted").
func (m *Metrics) RecordTurn(ctx context.Context, outcome string) {
	m.Turns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordFailover records a speech-recognition backend switch to provider for
// the given reason ("failover" or "manual").
func (m *Metrics) RecordFailover(ctx context.Context, provider, reason string) {
	m.Failovers.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		),
	)
}

// RecordBargeIn records a barge-in by trigger ("energy" or "transcript").
func (m *Metrics) RecordBargeIn(ctx context.Context, trigger string) {
	m.BargeIns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
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
