package call

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is.
var (
	// ErrAlreadyInCall indicates a second call was attempted while one
	// session is still alive. Exactly one active call is an invariant.
	ErrAlreadyInCall = errors.New("already in a call")

	// ErrMicrophonePermission indicates microphone access was denied.
	ErrMicrophonePermission = errors.New("microphone permission denied")

	// ErrNoSession indicates an operation that requires an active session.
	ErrNoSession = errors.New("no active call session")

	// ErrControllerClosed indicates the controller has shut down.
	ErrControllerClosed = errors.New("call controller closed")

	// ErrBadRouting indicates incoming routing data could not be deciphered.
	ErrBadRouting = errors.New("invalid call routing data")
)

// SetupError wraps a call-setup failure from the HTTP collaborator or
// the signaling connect step. It never leaves a half-started session
// behind: the session is created only after the checks pass.
type SetupError struct {
	// Stage names the setup step that failed ("request", "connect").
	Stage string
	// Cause is the underlying error.
	Cause error
}

// Error returns the error message.
func (e *SetupError) Error() string {
	return fmt.Sprintf("call setup %s: %v", e.Stage, e.Cause)
}

// Unwrap returns the underlying error.
func (e *SetupError) Unwrap() error { return e.Cause }
