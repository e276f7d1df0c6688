package ports

import "context"

// StoredResponse is the first response produced for an idempotency key.
// RequestHash fingerprints the request that produced it so a reused key
// carrying a different request can be told apart from a retry.
type StoredResponse struct {
	StatusCode  int
	Body        []byte
	TodoID      string
	RequestHash string
}

// IdempotencyStore keeps the first response saved for each key. Get returns
// nil when the key is unknown.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*StoredResponse, error)
	Save(ctx context.Context, key string, response StoredResponse) error
}
