package domain

// Phase names the lifecycle stage of a RequestState.
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseError   Phase = "error"
)

// ErrorDetail describes why a request ended in the error phase.
// Code is zero when the failure happened before a status was available.
type ErrorDetail struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// RequestState is the observable lifecycle value for a single resource key.
// Data is only meaningful in the success phase and Error is only set in the
// error phase.
type RequestState[T any] struct {
	Key       string       `json:"key"`
	Data      T            `json:"data"`
	IsLoading bool         `json:"isLoading"`
	HasError  bool         `json:"hasError"`
	Error     *ErrorDetail `json:"error,omitempty"`
}

// Loading returns the state shown while a network round-trip is pending.
func Loading[T any](key string) RequestState[T] {
	return RequestState[T]{Key: key, IsLoading: true}
}

// Succeeded returns a resolved state carrying data.
func Succeeded[T any](key string, data T) RequestState[T] {
	return RequestState[T]{Key: key, Data: data}
}

// Failed returns a resolved state describing err.
func Failed[T any](key string, err error) RequestState[T] {
	detail := DetailFromError(err)
	return RequestState[T]{Key: key, HasError: true, Error: &detail}
}

// Phase reports which of the three lifecycle phases the state is in.
func (s RequestState[T]) Phase() Phase {
	switch {
	case s.IsLoading:
		return PhaseLoading
	case s.HasError:
		return PhaseError
	default:
		return PhaseSuccess
	}
}

// IsTerminal indicates whether the request attempt has resolved.
func (s RequestState[T]) IsTerminal() bool {
	return !s.IsLoading
}
