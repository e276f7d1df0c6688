package httpapi

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics covers every route served by the API. A nil *Metrics records nothing.
type Metrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeStreams   metric.Int64UpDownCounter
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	duration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration, excluding event streams"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration_seconds histogram: %w", err)
	}

	total, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total counter: %w", err)
	}

	streams, err := meter.Int64UpDownCounter(
		"http_active_event_streams",
		metric.WithDescription("Open server-sent event streams"),
		metric.WithUnit("{stream}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_active_event_streams counter: %w", err)
	}

	return &Metrics{requestDuration: duration, requestsTotal: total, activeStreams: streams}, nil
}

// RecordRequest counts a finished request under its route. Event streams
// stay open for minutes, so they are counted but kept out of the histogram.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass(statusCode)),
	)
	m.requestsTotal.Add(ctx, 1, attrs)
	if !strings.HasSuffix(route, "/events") {
		m.requestDuration.Record(ctx, durationSeconds, attrs)
	}
}

func (m *Metrics) StreamOpened(ctx context.Context) {
	if m != nil {
		m.activeStreams.Add(ctx, 1)
	}
}

func (m *Metrics) StreamClosed(ctx context.Context) {
	if m != nil {
		m.activeStreams.Add(ctx, -1)
	}
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return fmt.Sprintf("%dxx", code/100)
}
