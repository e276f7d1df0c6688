package ports

import "errors"

var (
	// ErrSessionNotFound is returned when a session ID is unknown or closed.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyKey is reported when a caller observes an empty resource key.
	ErrEmptyKey = errors.New("resource key is required")
)
