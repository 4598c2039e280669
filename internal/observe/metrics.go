// Package observe provides application-wide observability primitives for
// agentfield: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all agentfield metrics.
const meterName = "github.com/MrWong99/agentfield"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// OracleDuration tracks provider round-trip latency per Oracle operation.
	// Use with attribute: attribute.String("op", "cognize"|"group_cognize"|"synthesize"|"transcribe")
	OracleDuration metric.Float64Histogram

	// TickDuration tracks wall time of one full world tick.
	TickDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// OracleRequests counts Oracle operations by op and outcome. Use with attributes:
	//   attribute.String("op", ...), attribute.String("outcome", "ok"|"fallback"|"error")
	OracleRequests metric.Int64Counter

	// OracleFailures counts provider failures behind the Oracle. Use with attributes:
	//   attribute.String("op", ...), attribute.String("reason", ...)
	OracleFailures metric.Int64Counter

	// TierBudgetExceeded counts agents whose scheduled tick slipped to the
	// next round because the tier budget ran out. Use with attribute:
	//   attribute.String("tier", ...)
	TierBudgetExceeded metric.Int64Counter

	// MemorySweepRows counts rows touched by decay sweeps. Use with attribute:
	//   attribute.String("kind", "decayed"|"deleted"|"rumors")
	MemorySweepRows metric.Int64Counter

	// --- Gauges ---

	// TierAgents records the number of agents per tier after reclassification.
	// Use with attribute: attribute.String("tier", ...)
	TierAgents metric.Int64Gauge

	// ActiveAgents tracks the number of registered simulation agents.
	ActiveAgents metric.Int64UpDownCounter

	// ActiveGroups tracks the number of live group conversations.
	ActiveGroups metric.Int64UpDownCounter

	// WSConnections tracks the number of connected WebSocket clients.
	WSConnections metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for cognition and tick latencies.
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
	if met.OracleDuration, err = m.Float64Histogram("agentfield.oracle.duration",
		metric.WithDescription("Latency of Oracle operations by op."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("agentfield.world.tick.duration",
		metric.WithDescription("Wall time of one world tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("agentfield.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.OracleRequests, err = m.Int64Counter("agentfield.oracle.requests",
		metric.WithDescription("Total Oracle operations by op and outcome."),
	); err != nil {
		return nil, err
	}
	if met.OracleFailures, err = m.Int64Counter("agentfield.oracle.failures",
		metric.WithDescription("Total provider failures behind the Oracle by op and reason."),
	); err != nil {
		return nil, err
	}
	if met.TierBudgetExceeded, err = m.Int64Counter("agentfield.world.tier_budget_exceeded",
		metric.WithDescription("Agents whose tick slipped to the next round, by tier."),
	); err != nil {
		return nil, err
	}
	if met.MemorySweepRows, err = m.Int64Counter("agentfield.memory.sweep_rows",
		metric.WithDescription("Rows touched by memory decay sweeps by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.TierAgents, err = m.Int64Gauge("agentfield.world.tier.agents",
		metric.WithDescription("Agents per scheduling tier after reclassification."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAgents, err = m.Int64UpDownCounter("agentfield.active_agents",
		metric.WithDescription("Number of registered simulation agents."),
	); err != nil {
		return nil, err
	}
	if met.ActiveGroups, err = m.Int64UpDownCounter("agentfield.active_groups",
		metric.WithDescription("Number of live group conversations."),
	); err != nil {
		return nil, err
	}
	if met.WSConnections, err = m.Int64UpDownCounter("agentfield.ws.connections",
		metric.WithDescription("Number of connected WebSocket clients."),
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

// RecordOracleOp records one Oracle operation: duration histogram plus the
// request counter with the standard attribute set.
func (m *Metrics) RecordOracleOp(ctx context.Context, op, outcome string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	m.OracleDuration.Record(ctx, seconds, metric.WithAttributes(attribute.String("op", op)))
	m.OracleRequests.Add(ctx, 1, attrs)
}

// RecordOracleFailure records a provider failure behind the Oracle.
func (m *Metrics) RecordOracleFailure(ctx context.Context, op, reason string) {
	m.OracleFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("reason", reason),
		),
	)
}

// RecordTick records the wall time of one world tick.
func (m *Metrics) RecordTick(ctx context.Context, seconds float64) {
	m.TickDuration.Record(ctx, seconds)
}

// RecordTierCount records the post-reclassification agent count for one tier.
func (m *Metrics) RecordTierCount(ctx context.Context, tier string, n int64) {
	m.TierAgents.Record(ctx, n,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordTierBudgetExceeded records agents whose tick slipped, by tier.
func (m *Metrics) RecordTierBudgetExceeded(ctx context.Context, tier string, slipped int64) {
	if slipped <= 0 {
		return
	}
	m.TierBudgetExceeded.Add(ctx, slipped,
		metric.WithAttributes(attribute.String("tier", tier)),
	)
}

// RecordSweep records the row counts of one memory decay sweep.
func (m *Metrics) RecordSweep(ctx context.Context, decayed, deleted, rumors int64) {
	if decayed > 0 {
		m.MemorySweepRows.Add(ctx, decayed, metric.WithAttributes(attribute.String("kind", "decayed")))
	}
	if deleted > 0 {
		m.MemorySweepRows.Add(ctx, deleted, metric.WithAttributes(attribute.String("kind", "deleted")))
	}
	if rumors > 0 {
		m.MemorySweepRows.Add(ctx, rumors, metric.WithAttributes(attribute.String("kind", "rumors")))
	}
}

// RegisterCacheStats registers observable counters that surface memory-cache
// hit/miss totals from the supplied stats function. The returned unregister
// function stops the callback; call it on shutdown.
func RegisterCacheStats(mp metric.MeterProvider, stats func() (hits, misses int64)) (func() error, error) {
	m := mp.Meter(meterName)

	hitCounter, err := m.Int64ObservableCounter("agentfield.cache.hits",
		metric.WithDescription("Total memory-cache hits."),
	)
	if err != nil {
		return nil, err
	}
	missCounter, err := m.Int64ObservableCounter("agentfield.cache.misses",
		metric.WithDescription("Total memory-cache misses."),
	)
	if err != nil {
		return nil, err
	}

	reg, err := m.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		hits, misses := stats()
		o.ObserveInt64(hitCounter, hits)
		o.ObserveInt64(missCounter, misses)
		return nil
	}, hitCounter, missCounter)
	if err != nil {
		return nil, err
	}
	return reg.Unregister, nil
}
