package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
)

// ParseLevel maps debug, info, warn and error (case-insensitive) to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level %q: %w", s, err)
	}
	return level, nil
}

// NewLogger writes JSON records to w, or text records when format is "text".
// Records logged with a span in context carry top-level trace_id and span_id.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var root slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		root = slog.NewTextHandler(w, opts)
	}
	return slog.New(&traceHandler{root: root, inner: root})
}

// traceHandler keeps the root handler and the With calls made on top of it
// so span IDs can be attached outside any open group.
type traceHandler struct {
	root  slog.Handler
	inner slog.Handler
	with  []func(slog.Handler) slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	traceID, spanID, ok := SpanIDs(ctx)
	if !ok {
		return h.inner.Handle(ctx, r)
	}

	handler := h.root.WithAttrs([]slog.Attr{
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	})
	for _, apply := range h.with {
		handler = apply(handler)
	}
	return handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.derive(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.derive(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

func (h *traceHandler) derive(apply func(slog.Handler) slog.Handler) *traceHandler {
	return &traceHandler{
		root:  h.root,
		inner: apply(h.inner),
		with:  append(slices.Clip(h.with), apply),
	}
}
