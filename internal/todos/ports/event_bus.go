package ports

import (
	"context"

	"github.com/dejobratic/fetchstate/internal/todos/domain"
)

// EventBus defines the contract for publishing todo lifecycle events.
type EventBus interface {
	PublishTodoAdded(ctx context.Context, todo domain.Todo) error
	PublishTodoRemoved(ctx context.Context, id string) error
	PublishTodoToggled(ctx context.Context, todo domain.Todo) error
}
