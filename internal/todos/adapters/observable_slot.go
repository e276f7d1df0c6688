package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/fetchstate/internal/database"
	"github.com/dejobratic/fetchstate/internal/telemetry"
	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

// ObservableSlot wraps a Slot with spans and storage latency metrics.
type ObservableSlot struct {
	slot    ports.Slot
	backend string
	metrics *database.Metrics
}

// NewObservableSlot decorates slot. backend names the store in span
// attributes, e.g. "file" or "postgres".
func NewObservableSlot(slot ports.Slot, backend string, metrics *database.Metrics) *ObservableSlot {
	return &ObservableSlot{
		slot:    slot,
		backend: backend,
		metrics: metrics,
	}
}

func (s *ObservableSlot) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "Slot.Get",
		attribute.String("slot.key", key),
		attribute.String("slot.backend", s.backend),
	)

	start := time.Now()
	value, ok, err := s.slot.Get(ctx, key)
	s.metrics.RecordQuery(ctx, "slot_get", time.Since(start).Seconds(), err)

	if err == nil {
		telemetry.AddSpanAttributes(span,
			attribute.Bool("slot.found", ok),
			attribute.Int("slot.bytes", len(value)),
		)
	}
	telemetry.EndSpan(span, err)

	return value, ok, err
}

func (s *ObservableSlot) Put(ctx context.Context, key string, value []byte) error {
	ctx, span := telemetry.StartSpan(ctx, "Slot.Put",
		attribute.String("slot.key", key),
		attribute.String("slot.backend", s.backend),
		attribute.Int("slot.bytes", len(value)),
	)

	start := time.Now()
	err := s.slot.Put(ctx, key, value)
	s.metrics.RecordQuery(ctx, "slot_put", time.Since(start).Seconds(), err)

	telemetry.EndSpan(span, err)
	return err
}
