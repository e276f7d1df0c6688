package events

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Publishing is in-process, so latency buckets start well below a millisecond.
var publishBuckets = []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

// Metrics counts published events per topic. A nil *Metrics records nothing.
type Metrics struct {
	published      metric.Int64Counter
	publishLatency metric.Float64Histogram
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	published, err := meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Todo lifecycle events handed to the event bus"),
	)
	if err != nil {
		return nil, fmt.Errorf("create events_published_total counter: %w", err)
	}

	latency, err := meter.Float64Histogram(
		"event_publish_latency_seconds",
		metric.WithDescription("Time spent handing an event to the event bus"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(publishBuckets...),
	)
	if err != nil {
		return nil, fmt.Errorf("create event_publish_latency_seconds histogram: %w", err)
	}

	return &Metrics{published: published, publishLatency: latency}, nil
}

func (m *Metrics) RecordPublish(ctx context.Context, topic string, durationSeconds float64, success bool) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("topic", topic),
		attribute.String("status", status),
	)
	m.published.Add(ctx, 1, attrs)
	m.publishLatency.Record(ctx, durationSeconds, attrs)
}
