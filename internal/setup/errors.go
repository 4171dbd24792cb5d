package setup

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the API key was missing or rejected.
	ErrUnauthorized = errors.New("setup: unauthorized")
	// ErrBadPayload means a response or routing blob did not parse.
	ErrBadPayload = errors.New("setup: malformed payload")
)

// RequestError is a non-2xx response from the setup service.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("setup: request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("setup: request failed with status %d", e.StatusCode)
}

// Temporary reports whether retrying could help.
func (e *RequestError) Temporary() bool {
	return e.StatusCode >= 500
}
