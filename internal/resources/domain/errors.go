package domain

import (
	"errors"
	"fmt"
)

// HTTPStatusError is reported when the upstream answered with a status
// outside the 2xx range.
type HTTPStatusError struct {
	Code    int
	Message string
}

func (e *HTTPStatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream responded with status %d", e.Code)
	}
	return fmt.Sprintf("upstream responded with status %d: %s", e.Code, e.Message)
}

// TransportError is reported when the request could not be completed or the
// response body could not be decoded.
type TransportError struct {
	Message string
	Err     error
}

// NewTransportError wraps err, using its text as the message.
func NewTransportError(err error) *TransportError {
	return &TransportError{Message: err.Error(), Err: err}
}

func (e *TransportError) Error() string {
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// DetailFromError converts a failure into the detail exposed on RequestState.
// Only HTTPStatusError carries a code.
func DetailFromError(err error) ErrorDetail {
	if err == nil {
		return ErrorDetail{}
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return ErrorDetail{Code: statusErr.Code, Message: statusErr.Message}
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return ErrorDetail{Message: transportErr.Message}
	}

	return ErrorDetail{Message: err.Error()}
}
