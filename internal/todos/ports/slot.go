package ports

import "context"

// Slot is a key-value persistence slot holding one serialized value per key.
type Slot interface {
	// Get returns the stored bytes. ok is false when nothing was stored.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, key string, value []byte) error
}
