package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dejobratic/fetchstate/internal/todos/domain"
)

type Metrics struct {
	mutationsTotal metric.Int64Counter
	items          metric.Int64Gauge
	pending        metric.Int64Gauge
}

func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.mutationsTotal, err = meter.Int64Counter(
		"todos_mutations_total",
		metric.WithDescription("Todo list mutations by action"),
		metric.WithUnit("{mutation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create todos_mutations_total counter: %w", err)
	}

	m.items, err = meter.Int64Gauge(
		"todos_items",
		metric.WithDescription("Todos currently in the list"),
		metric.WithUnit("{todo}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create todos_items gauge: %w", err)
	}

	m.pending, err = meter.Int64Gauge(
		"todos_pending_items",
		metric.WithDescription("Todos not yet done"),
		metric.WithUnit("{todo}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create todos_pending_items gauge: %w", err)
	}

	return m, nil
}

// RecordMutation counts one dispatched action. Safe on a nil receiver.
func (m *Metrics) RecordMutation(ctx context.Context, action domain.ActionType, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.mutationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("status", status),
	))
}

// RecordList sets the list size gauges. Safe on a nil receiver.
func (m *Metrics) RecordList(ctx context.Context, todos []domain.Todo) {
	if m == nil {
		return
	}
	m.items.Record(ctx, int64(len(todos)))
	m.pending.Record(ctx, int64(domain.Pending(todos)))
}
