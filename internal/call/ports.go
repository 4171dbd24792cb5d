package call

import (
	"context"

	"github.com/google/uuid"

	"github.com/cicareteam/callcore/internal/signaling"
)

// Peer is the display identity of one call participant. The core never
// interprets it beyond passing it to the telephony layer and observers.
type Peer struct {
	ID     string
	Name   string
	Avatar string
}

// RouteInfo is the signaling rendezvous returned by call setup or
// deciphered from an incoming push payload.
type RouteInfo struct {
	Server    string
	Token     string
	FromPhone bool
}

// Telephony is the OS call-UI integration driven by the core. User
// actions travel the other way, as Actions handed to the controller.
type Telephony interface {
	// ReportOutgoing registers a new outgoing call with the OS layer.
	ReportOutgoing(id uuid.UUID, handle string) error
	// ReportIncoming alerts the user about an incoming call.
	ReportIncoming(id uuid.UUID, caller string) error
	// ReportEnded tells the OS layer the call is over. Duplicate
	// reports for the same id must be tolerated.
	ReportEnded(id uuid.UUID, reason EndReason)
}

// ICECandidate is one locally gathered transport candidate destined for
// the remote side.
type ICECandidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex uint16
}

// MediaEngine is the audio transport and negotiation component. The
// core only drives its operations and never inspects its internals.
// Implementations must be safe for concurrent use.
type MediaEngine interface {
	// EnsureMicrophone prepares audio capture. Returns
	// ErrMicrophonePermission when access is denied.
	EnsureMicrophone() error
	// CreateOffer produces a local session description.
	CreateOffer(ctx context.Context) (string, error)
	// CreateAnswer produces a local description in response to a
	// remote offer.
	CreateAnswer(ctx context.Context) (string, error)
	// SetCandidateHandler registers the receiver for locally gathered
	// candidates. Pass nil to detach.
	SetCandidateHandler(fn func(ICECandidate))
	// SetRemoteDescription applies the remote side's description.
	// kind is "offer" or "answer".
	SetRemoteDescription(ctx context.Context, kind, sdp string) error
	// SetMuted toggles capture; reports whether it took effect.
	SetMuted(muted bool) bool
	// Reinitialize rebuilds the transport after a signaling reconnect.
	Reinitialize() error
	// Teardown releases the transport.
	Teardown()
}

// SetupClient performs the one-shot call-setup exchange that yields the
// signaling rendezvous for an outgoing call.
type SetupClient interface {
	CreateCallSession(ctx context.Context, caller, callee Peer, checksum string) (RouteInfo, error)
}

// RouteDecoder deciphers the routing blob attached to an incoming call
// report. Key retrieval is the implementation's business.
type RouteDecoder interface {
	DecodeRouting(ctx context.Context, ciphered string) (RouteInfo, error)
}

// SignalChannel is the slice of the signaling channel the controller
// drives. *signaling.Channel implements it.
type SignalChannel interface {
	Connect(ctx context.Context) error
	Emit(event signaling.Event, data map[string]any)
	AllowReconnect(enabled bool)
	Close()
}

// ChannelFactory builds one SignalChannel per call session.
type ChannelFactory func(server, token string, hooks signaling.Hooks) SignalChannel

var _ SignalChannel = (*signaling.Channel)(nil)
