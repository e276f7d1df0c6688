package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Fetch outcomes recorded on resource_fetch_duration_seconds.
const (
	OutcomeSuccess     = "success"
	OutcomeStatusError = "status_error"
	OutcomeTransport   = "transport_error"
	OutcomeStale       = "stale"
)

// Metrics records the lifecycle of keyed fetches. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	cacheLookupsTotal metric.Int64Counter
	fetchDuration     metric.Float64Histogram
	staleResultsTotal metric.Int64Counter
	transportDuration metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.cacheLookupsTotal, err = meter.Int64Counter(
		"resource_cache_lookups_total",
		metric.WithDescription("Total number of resource cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource_cache_lookups_total counter: %w", err)
	}

	m.fetchDuration, err = meter.Float64Histogram(
		"resource_fetch_duration_seconds",
		metric.WithDescription("Time from request issue to the terminal phase, including the latency floor"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource_fetch_duration histogram: %w", err)
	}

	m.staleResultsTotal, err = meter.Int64Counter(
		"resource_stale_results_total",
		metric.WithDescription("Results discarded because the observed key changed before they resolved"),
		metric.WithUnit("{result}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource_stale_results_total counter: %w", err)
	}

	m.transportDuration, err = meter.Float64Histogram(
		"resource_transport_duration_seconds",
		metric.WithDescription("Upstream round-trip duration"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource_transport_duration histogram: %w", err)
	}

	return m, nil
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("result", result),
	))
}

func (m *Metrics) RecordFetch(ctx context.Context, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.fetchDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordStaleResult(ctx context.Context) {
	if m == nil {
		return
	}
	m.staleResultsTotal.Add(ctx, 1)
}

// RecordTransport records an upstream round trip. A zero statusCode means the
// request failed before a response arrived.
func (m *Metrics) RecordTransport(ctx context.Context, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.transportDuration.Record(ctx, durationSeconds, metric.WithAttributes(
		attribute.String("status_class", statusClass(statusCode)),
	))
}

func statusClass(code int) string {
	if code <= 0 {
		return "error"
	}
	return fmt.Sprintf("%dxx", code/100)
}
