package ports

import "context"

// Response is the fully read upstream answer for a key. Transports return a
// Response for every status code; only faults are reported as errors.
type Response struct {
	StatusCode int
	Status     string
	Body       []byte
}

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Transport issues the network request behind a resource key.
type Transport interface {
	Do(ctx context.Context, key string) (*Response, error)
}
