package memory

import (
	"bytes"
	"context"
	"sync"
)

// Slot keeps values in process memory. Useful for local development and tests.
type Slot struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewSlot constructs an empty in-memory slot.
func NewSlot() *Slot {
	return &Slot{values: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *Slot) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.values[key]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(value), true, nil
}

// Put stores a copy of value under key.
func (s *Slot) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = bytes.Clone(value)
	return nil
}
