package adapters

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/dejobratic/fetchstate/internal/resources/metrics"
	"github.com/dejobratic/fetchstate/internal/resources/ports"
	"github.com/dejobratic/fetchstate/internal/telemetry"
)

type ObservableTransport struct {
	transport ports.Transport
	metrics   *metrics.Metrics
}

func NewObservableTransport(transport ports.Transport, metrics *metrics.Metrics) *ObservableTransport {
	return &ObservableTransport{
		transport: transport,
		metrics:   metrics,
	}
}

func (t *ObservableTransport) Do(ctx context.Context, key string) (*ports.Response, error) {
	ctx, span := telemetry.StartSpan(ctx, "ResourceTransport.Do", attribute.String("resource.key", key))
	defer span.End()

	start := time.Now()
	resp, err := t.transport.Do(ctx, key)
	duration := time.Since(start).Seconds()

	if err != nil {
		t.metrics.RecordTransport(ctx, 0, duration)
		telemetry.RecordSpanError(span, err)
		return nil, err
	}

	t.metrics.RecordTransport(ctx, resp.StatusCode, duration)
	telemetry.AddSpanAttributes(span,
		attribute.Int("http.response.status_code", resp.StatusCode),
		attribute.Int("http.response.body.size", len(resp.Body)),
	)
	telemetry.SetSpanSuccess(span)
	return resp, nil
}
