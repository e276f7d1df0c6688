package ports

import "errors"

var (
	// ErrNotFound is returned when the requested todo does not exist.
	ErrNotFound = errors.New("todo not found")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different request.
	ErrIdempotencyConflict = errors.New("idempotency key reused with a different request")
)
