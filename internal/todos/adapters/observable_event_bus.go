package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/fetchstate/internal/events"
	"github.com/dejobratic/fetchstate/internal/telemetry"
	"github.com/dejobratic/fetchstate/internal/todos/domain"
	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

type ObservableEventBus struct {
	bus     ports.EventBus
	metrics *events.Metrics
}

func NewObservableEventBus(bus ports.EventBus, metrics *events.Metrics) *ObservableEventBus {
	return &ObservableEventBus{
		bus:     bus,
		metrics: metrics,
	}
}

func (e *ObservableEventBus) PublishTodoAdded(ctx context.Context, todo domain.Todo) error {
	return e.observe(ctx, events.TopicTodoAdded, todo.ID, func(ctx context.Context) error {
		return e.bus.PublishTodoAdded(ctx, todo)
	})
}

func (e *ObservableEventBus) PublishTodoRemoved(ctx context.Context, id string) error {
	return e.observe(ctx, events.TopicTodoRemoved, id, func(ctx context.Context) error {
		return e.bus.PublishTodoRemoved(ctx, id)
	})
}

func (e *ObservableEventBus) PublishTodoToggled(ctx context.Context, todo domain.Todo) error {
	return e.observe(ctx, events.TopicTodoToggled, todo.ID, func(ctx context.Context) error {
		return e.bus.PublishTodoToggled(ctx, todo)
	})
}

func (e *ObservableEventBus) observe(ctx context.Context, topic, todoID string, publish func(context.Context) error) error {
	ctx, span := telemetry.StartSpan(ctx, "EventBus.Publish",
		attribute.String("todo.id", todoID),
		attribute.String("topic", topic),
	)

	start := time.Now()
	err := publish(ctx)
	e.metrics.RecordPublish(ctx, topic, time.Since(start).Seconds(), err == nil)

	telemetry.EndSpan(span, err)
	return err
}
