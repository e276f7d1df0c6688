package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dejobratic/fetchstate/internal/todos/domain"
	"github.com/dejobratic/fetchstate/internal/todos/metrics"
	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

// Service owns the todo list. The list is read from the slot once and every
// mutation writes the whole list back before it becomes visible.
type Service struct {
	slot      ports.Slot
	key       string
	events    ports.EventBus
	idemStore ports.IdempotencyStore
	logger    *slog.Logger
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	todos []domain.Todo
}

// NewService loads the list stored under key. Absent or unreadable JSON
// starts an empty list; only a failing slot is an error.
func NewService(
	ctx context.Context,
	slot ports.Slot,
	key string,
	events ports.EventBus,
	idem ports.IdempotencyStore,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		slot:      slot,
		key:       key,
		events:    events,
		idemStore: idem,
		logger:    logger,
		metrics:   metrics,
	}

	raw, ok, err := slot.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load todos: %w", err)
	}

	s.todos = s.decode(ctx, raw, ok)
	s.metrics.RecordList(ctx, s.todos)

	return s, nil
}

func (s *Service) decode(ctx context.Context, raw []byte, ok bool) []domain.Todo {
	if !ok {
		return []domain.Todo{}
	}

	var todos []domain.Todo
	if err := json.Unmarshal(raw, &todos); err != nil {
		s.logger.ErrorContext(ctx, "stored todos are not valid JSON, starting empty",
			"slot_key", s.key,
			"error", err,
		)
		return []domain.Todo{}
	}
	if todos == nil {
		// a stored JSON null
		return []domain.Todo{}
	}
	return todos
}

// List returns a copy of the current todos.
func (s *Service) List(_ context.Context) []domain.Todo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.todos)
}

// Count is the number of todos.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.todos)
}

// PendingCount is the number of todos not yet done.
func (s *Service) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.Pending(s.todos)
}

// Add appends a new pending todo.
func (s *Service) Add(ctx context.Context, description string) (domain.Todo, error) {
	todo := domain.Todo{
		ID:          uuid.NewString(),
		Description: strings.TrimSpace(description),
	}
	if err := todo.Validate(); err != nil {
		return domain.Todo{}, err
	}

	if _, err := s.dispatch(ctx, domain.Add(todo)); err != nil {
		return domain.Todo{}, err
	}

	s.publish(ctx, domain.ActionAdd, s.events.PublishTodoAdded(ctx, todo))
	return todo, nil
}

// Remove deletes the todo with id.
func (s *Service) Remove(ctx context.Context, id string) error {
	if _, err := s.dispatch(ctx, domain.Remove(id)); err != nil {
		return err
	}

	s.publish(ctx, domain.ActionRemove, s.events.PublishTodoRemoved(ctx, id))
	return nil
}

// Toggle flips the done flag of the todo with id and returns it.
func (s *Service) Toggle(ctx context.Context, id string) (domain.Todo, error) {
	next, err := s.dispatch(ctx, domain.Toggle(id))
	if err != nil {
		return domain.Todo{}, err
	}

	todo, _ := domain.Find(next, id)
	s.publish(ctx, domain.ActionToggle, s.events.PublishTodoToggled(ctx, todo))
	return todo, nil
}

// dispatch reduces, persists and only then commits the new list.
func (s *Service) dispatch(ctx context.Context, action domain.Action) ([]domain.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if action.ID != "" {
		if _, ok := domain.Find(s.todos, action.ID); !ok {
			s.metrics.RecordMutation(ctx, action.Type, false)
			return nil, ports.ErrNotFound
		}
	}

	next := domain.Reduce(s.todos, action)

	raw, err := json.Marshal(next)
	if err != nil {
		s.metrics.RecordMutation(ctx, action.Type, false)
		return nil, fmt.Errorf("encode todos: %w", err)
	}
	if err := s.slot.Put(ctx, s.key, raw); err != nil {
		s.metrics.RecordMutation(ctx, action.Type, false)
		return nil, fmt.Errorf("persist todos: %w", err)
	}

	s.todos = next
	s.metrics.RecordMutation(ctx, action.Type, true)
	s.metrics.RecordList(ctx, next)

	s.logger.InfoContext(ctx, "todos updated",
		"action", string(action.Type),
		"count", len(next),
		"pending", domain.Pending(next),
	)

	return next, nil
}

// publish logs event failures. The list is already persisted, so a lost
// event does not fail the request.
func (s *Service) publish(ctx context.Context, action domain.ActionType, err error) {
	if err != nil {
		s.logger.WarnContext(ctx, "todo saved but failed to publish event",
			"action", string(action),
			"error", err,
		)
	}
}

// RequestHash fingerprints an add request. Descriptions are compared after
// trimming, the same way Add stores them.
func RequestHash(description string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(description)))
	return hex.EncodeToString(sum[:])
}

// SaveIdempotentResponse records the first response produced for key.
func (s *Service) SaveIdempotentResponse(ctx context.Context, key string, response ports.StoredResponse) error {
	return s.idemStore.Save(ctx, key, response)
}

// GetIdempotentResponse returns the response stored for key, or nil if the key
// is new. A stored response produced by a different request is reported as
// ErrIdempotencyConflict.
func (s *Service) GetIdempotentResponse(ctx context.Context, key, requestHash string) (*ports.StoredResponse, error) {
	stored, err := s.idemStore.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	if stored.RequestHash != "" && stored.RequestHash != requestHash {
		s.logger.WarnContext(ctx, "idempotency key reused with a different request", "idempotency_key", key)
		return nil, ports.ErrIdempotencyConflict
	}
	return stored, nil
}
