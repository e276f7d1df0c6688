package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Slot reads and idempotency lookups are single-row queries, so the
// histogram starts well below the SDK's default first bucket.
var queryBuckets = []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

// Metrics records per-statement timings. A nil *Metrics records nothing.
type Metrics struct {
	queryDuration metric.Float64Histogram
	queryErrors   metric.Int64Counter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	duration, err := meter.Float64Histogram(
		"db_query_duration_seconds",
		metric.WithDescription("Database query duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(queryBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_duration_seconds histogram: %w", err)
	}

	failures, err := meter.Int64Counter(
		"db_query_errors_total",
		metric.WithDescription("Database queries that returned an error other than no rows"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create db_query_errors_total counter: %w", err)
	}

	return &Metrics{queryDuration: duration, queryErrors: failures}, nil
}

// RecordQuery records one statement. pgx.ErrNoRows is a lookup miss, not a
// failure.
func (m *Metrics) RecordQuery(ctx context.Context, operation string, durationSeconds float64, queryErr error) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(attribute.String("operation", operation))
	m.queryDuration.Record(ctx, durationSeconds, attrs)
	if queryErr != nil && !errors.Is(queryErr, pgx.ErrNoRows) {
		m.queryErrors.Add(ctx, 1, attrs)
	}
}
