package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dejobratic/fetchstate/internal/resources/domain"
	"github.com/dejobratic/fetchstate/internal/resources/ports"
)

// Payload is the opaque decoded body served through the API.
type Payload = json.RawMessage

// Session is a named Manager exposed to API clients.
type Session struct {
	ID    string                       `json:"id"`
	State domain.RequestState[Payload] `json:"state"`
}

// Service keeps the managers of every API session. All sessions share the
// same cache and transport.
type Service struct {
	cache     ports.Cache[Payload]
	transport ports.Transport
	logger    *slog.Logger
	opts      []Option

	mu       sync.RWMutex
	sessions map[string]*Manager[Payload]
}

// NewService wires required dependencies. opts are applied to every session.
func NewService(cache ports.Cache[Payload], transport ports.Transport, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cache:     cache,
		transport: transport,
		logger:    logger,
		opts:      append([]Option{WithLogger(logger)}, opts...),
		sessions:  make(map[string]*Manager[Payload]),
	}
}

// CreateSession registers a new manager that has not observed any key yet.
func (s *Service) CreateSession(ctx context.Context) Session {
	id := uuid.NewString()
	manager := NewManager(s.cache, s.transport, s.opts...)

	s.mu.Lock()
	s.sessions[id] = manager
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "session created", "session_id", id)

	return Session{ID: id, State: manager.State()}
}

// Observe points the session at key.
func (s *Service) Observe(ctx context.Context, id, key string) (domain.RequestState[Payload], error) {
	manager, err := s.session(id)
	if err != nil {
		return domain.RequestState[Payload]{}, err
	}
	return manager.Observe(ctx, key), nil
}

// State returns the session's current state.
func (s *Service) State(_ context.Context, id string) (domain.RequestState[Payload], error) {
	manager, err := s.session(id)
	if err != nil {
		return domain.RequestState[Payload]{}, err
	}
	return manager.State(), nil
}

// Subscription is a live view of one session.
type Subscription struct {
	// Current is the state at subscription time; the callback only sees
	// states applied after it.
	Current domain.RequestState[Payload]
	// Done is closed when the session is closed.
	Done <-chan struct{}
	// Cancel removes the callback.
	Cancel func()
}

// Subscribe registers fn for the session's state changes.
func (s *Service) Subscribe(_ context.Context, id string, fn func(domain.RequestState[Payload])) (Subscription, error) {
	manager, err := s.session(id)
	if err != nil {
		return Subscription{}, err
	}
	current, cancel := manager.Watch(fn)
	return Subscription{Current: current, Done: manager.Done(), Cancel: cancel}, nil
}

// CloseSession stops the session and forgets it.
func (s *Service) CloseSession(ctx context.Context, id string) error {
	s.mu.Lock()
	manager, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return ports.ErrSessionNotFound
	}

	manager.Close()
	s.logger.InfoContext(ctx, "session closed", "session_id", id)
	return nil
}

// CacheSize reports how many payloads are cached.
func (s *Service) CacheSize() int {
	return s.cache.Len()
}

// SessionCount reports how many sessions are open.
func (s *Service) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops every session.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Manager[Payload])
	s.mu.Unlock()

	for _, manager := range sessions {
		manager.Close()
	}
}

func (s *Service) session(id string) (*Manager[Payload], error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	manager, ok := s.sessions[id]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	return manager, nil
}
