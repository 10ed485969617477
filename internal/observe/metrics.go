// Package observe provides application-wide observability primitives for
// stagehand: OpenTelemetry metrics and a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
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

// meterName is the instrumentation scope name used for all stagehand metrics.
const meterName = "stagehand"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks LLM call latency. Use with attribute:
	//   attribute.String("op", ...) (segment, cards, npc, student, evaluate)
	LLMDuration metric.Float64Histogram

	// SessionDuration tracks full simulated-session wall time.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// CacheLookups counts content-cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss")
	CacheLookups metric.Int64Counter

	// DecksGenerated counts generated decks. Use with attributes:
	//   attribute.String("framework", ...), attribute.String("status", ...)
	DecksGenerated metric.Int64Counter

	// SessionTurns counts dialogue turns across all sessions. Use with
	// attribute: attribute.String("speaker", "npc"|"student")
	SessionTurns metric.Int64Counter

	// SessionsSimulated counts completed sessions. Use with attributes:
	//   attribute.String("persona", ...), attribute.String("status", ...)
	SessionsSimulated metric.Int64Counter

	// OptimizerRounds counts optimizer rounds. Use with attribute:
	//   attribute.String("status", "adopted"|"kept"|"failed")
	OptimizerRounds metric.Int64Counter

	// --- Gauges ---

	// OptimizerBestScore tracks the best panel score of the current run.
	OptimizerBestScore metric.Float64Gauge
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// LLM round-trips and multi-minute simulated sessions.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.LLMDuration, err = m.Float64Histogram("stagehand.llm.duration",
		metric.WithDescription("Latency of LLM calls by pipeline op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("stagehand.session.duration",
		metric.WithDescription("Wall time of simulated dialogue sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.CacheLookups, err = m.Int64Counter("stagehand.cache.lookups",
		metric.WithDescription("Content-cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.DecksGenerated, err = m.Int64Counter("stagehand.decks.generated",
		metric.WithDescription("Generated decks by framework and status."),
	); err != nil {
		return nil, err
	}
	if met.SessionTurns, err = m.Int64Counter("stagehand.session.turns",
		metric.WithDescription("Dialogue turns across all sessions by speaker."),
	); err != nil {
		return nil, err
	}
	if met.SessionsSimulated, err = m.Int64Counter("stagehand.sessions.simulated",
		metric.WithDescription("Completed simulated sessions by persona and status."),
	); err != nil {
		return nil, err
	}
	if met.OptimizerRounds, err = m.Int64Counter("stagehand.optimizer.rounds",
		metric.WithDescription("Optimizer rounds by outcome."),
	); err != nil {
		return nil, err
	}

	if met.OptimizerBestScore, err = m.Float64Gauge("stagehand.optimizer.best_score",
		metric.WithDescription("Best panel score of the current optimization run."),
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

// RecordLLMCall records the latency of one LLM call for the given pipeline op.
func (m *Metrics) RecordLLMCall(ctx context.Context, op string, seconds float64) {
	m.LLMDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
}

// RecordCacheLookup records one content-cache lookup.
func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordTurn records one dialogue turn.
func (m *Metrics) RecordTurn(ctx context.Context, speaker string) {
	m.SessionTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("speaker", speaker)))
}

// RecordSession records one completed session.
func (m *Metrics) RecordSession(ctx context.Context, persona, status string, seconds float64) {
	m.SessionsSimulated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("persona", persona),
		attribute.String("status", status),
	))
	m.SessionDuration.Record(ctx, seconds)
}

// RecordDeck records one deck generation attempt.
func (m *Metrics) RecordDeck(ctx context.Context, framework, status string) {
	m.DecksGenerated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("framework", framework),
		attribute.String("status", status),
	))
}

// RecordOptimizerRound records one optimizer round outcome.
func (m *Metrics) RecordOptimizerRound(ctx context.Context, status string) {
	m.OptimizerRounds.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
