package signaling

import (
	"errors"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
)

// ErrorKind classifies channel failures. The classification decides
// retry behavior: ServerRejected closes immediately, everything else
// counts toward the reconnect attempt ceiling.
type ErrorKind int

const (
	// KindUnknown is a failure that fits no other bucket.
	KindUnknown ErrorKind = iota
	// KindNetwork is a transport-level failure (dial, read, reset).
	KindNetwork
	// KindServerRejected is an application-level refusal from the
	// coordination server. Never retried.
	KindServerRejected
	// KindExhausted means the reconnect attempt ceiling was hit.
	KindExhausted
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindServerRejected:
		return "ServerRejected"
	case KindExhausted:
		return "Exhausted"
	default:
		return "Unknown"
	}
}

// ErrChannelClosed is returned for operations on a locally closed channel.
var ErrChannelClosed = errors.New("signaling channel closed")

// ChannelError wraps a transport failure with its classification.
type ChannelError struct {
	Kind  ErrorKind
	Cause error
}

// Error returns the error message.
func (e *ChannelError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signaling: %s: %v", e.Kind, e.Cause)
	}
	return fmt.Sprintf("signaling: %s", e.Kind)
}

// Unwrap returns the underlying error.
func (e *ChannelError) Unwrap() error { return e.Cause }

// classify buckets a websocket or network error into an ErrorKind.
// Server-assigned close codes in the 4000 range and policy violations
// are refusals; anything that smells like the network is Network.
func classify(err error) ErrorKind {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		switch {
		case closeErr.Code == websocket.ClosePolicyViolation:
			return KindServerRejected
		case closeErr.Code >= 4000 && closeErr.Code < 5000:
			return KindServerRejected
		case closeErr.Code == websocket.CloseAbnormalClosure,
			closeErr.Code == websocket.CloseGoingAway:
			return KindNetwork
		default:
			return KindUnknown
		}
	}
	if errors.Is(err, websocket.ErrBadHandshake) {
		// Dialer surfaces 4xx upgrade refusals this way.
		return KindServerRejected
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetwork
	}
	return KindUnknown
}
