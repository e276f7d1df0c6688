// Package counter holds a bounded integer that can be stepped and reset.
package counter

import (
	"errors"
	"sync"
)

// DefaultInitial is the value a counter starts at and resets to.
const DefaultInitial = 10

// ErrAtZero is returned by Decrement when the value is exactly zero.
var ErrAtZero = errors.New("counter is at zero")

type Counter struct {
	mu      sync.Mutex
	initial int
	value   int
}

func New(initial int) *Counter {
	return &Counter{initial: initial, value: initial}
}

// Increment adds by; by <= 0 adds 1.
func (c *Counter) Increment(by int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += step(by)
	return c.value
}

// Decrement subtracts by unless the value is exactly zero. Only zero is
// guarded, so a step larger than the value can still go negative.
func (c *Counter) Decrement(by int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == 0 {
		return 0, ErrAtZero
	}
	c.value -= step(by)
	return c.value, nil
}

// Reset restores the initial value.
func (c *Counter) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = c.initial
	return c.value
}

func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

func step(by int) int {
	if by <= 0 {
		return 1
	}
	return by
}
