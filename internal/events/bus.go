package events

import (
	"context"
	"log/slog"

	"github.com/dejobratic/fetchstate/internal/todos/domain"
)

// Topics published for todo lifecycle events.
const (
	TopicTodoAdded   = "todo.added"
	TopicTodoRemoved = "todo.removed"
	TopicTodoToggled = "todo.toggled"
)

// LogEventBus writes events to the logger at debug level instead of a broker.
type LogEventBus struct {
	logger *slog.Logger
}

// NewLogEventBus returns a publisher that only logs.
func NewLogEventBus(logger *slog.Logger) *LogEventBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventBus{logger: logger}
}

func (b *LogEventBus) PublishTodoAdded(ctx context.Context, todo domain.Todo) error {
	b.logger.DebugContext(ctx, "event::"+TopicTodoAdded, "todo_id", todo.ID, "description", todo.Description)
	return nil
}

func (b *LogEventBus) PublishTodoRemoved(ctx context.Context, id string) error {
	b.logger.DebugContext(ctx, "event::"+TopicTodoRemoved, "todo_id", id)
	return nil
}

func (b *LogEventBus) PublishTodoToggled(ctx context.Context, todo domain.Todo) error {
	b.logger.DebugContext(ctx, "event::"+TopicTodoToggled, "todo_id", todo.ID, "done", todo.Done)
	return nil
}
