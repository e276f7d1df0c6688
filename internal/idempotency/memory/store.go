// Package memory keeps idempotency records for the life of the process.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/dejobratic/fetchstate/internal/todos/ports"
)

// Store is safe for concurrent use. The first response saved for a key wins
// and bodies are copied on the way in and out.
type Store struct {
	mu      sync.RWMutex
	records map[string]ports.StoredResponse
}

func NewStore() *Store {
	return &Store{records: make(map[string]ports.StoredResponse)}
}

func (s *Store) Get(_ context.Context, key string) (*ports.StoredResponse, error) {
	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	record.Body = bytes.Clone(record.Body)
	return &record, nil
}

func (s *Store) Save(_ context.Context, key string, response ports.StoredResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.records[key]; !taken {
		response.Body = bytes.Clone(response.Body)
		s.records[key] = response
	}
	return nil
}

// Len reports how many keys are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
