// Package call implements the call-session state machine and its
// orchestrating controller.
package call

import "fmt"

// Status is the lifecycle state of a call session.
type Status int

const (
	// StatusIdle means no call session exists.
	StatusIdle Status = iota
	// StatusRequesting is an outgoing call waiting for the call-setup
	// exchange to return a signaling server address.
	StatusRequesting
	// StatusDialing is an outgoing call whose signaling channel is up
	// and whose INIT_CALL has been issued.
	StatusDialing
	// StatusRingingOut means the remote side is being alerted.
	StatusRingingOut
	// StatusRingingIn is an incoming call alerting the local user.
	StatusRingingIn
	// StatusAnswerPending is an incoming call the user already answered
	// while the signaling channel was not yet ready. The ANSWER_CALL
	// emission is deferred until readiness.
	StatusAnswerPending
	// StatusConnected means media is flowing.
	StatusConnected
	// StatusReconnecting is a connected call riding out a transport drop.
	StatusReconnecting
	// StatusEnded is terminal; see EndReason for why.
	StatusEnded
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusRequesting:
		return "Requesting"
	case StatusDialing:
		return "Dialing"
	case StatusRingingOut:
		return "RingingOut"
	case StatusRingingIn:
		return "RingingIn"
	case StatusAnswerPending:
		return "AnswerPending"
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusEnded:
		return "Ended"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true once the session has ended. No later channel
// or telephony event may mutate a terminal status.
func (s Status) IsTerminal() bool {
	return s == StatusEnded
}

// validTransitions defines which status transitions are allowed.
// StatusEnded is reachable from everywhere but leads nowhere.
var validTransitions = map[Status][]Status{
	StatusIdle:          {StatusRequesting, StatusRingingIn},
	StatusRequesting:    {StatusDialing, StatusEnded},
	StatusDialing:       {StatusRingingOut, StatusConnected, StatusEnded},
	StatusRingingOut:    {StatusConnected, StatusEnded},
	StatusRingingIn:     {StatusAnswerPending, StatusConnected, StatusEnded},
	StatusAnswerPending: {StatusConnected, StatusEnded},
	StatusConnected:     {StatusReconnecting, StatusEnded},
	StatusReconnecting:  {StatusConnected, StatusEnded},
	StatusEnded:         {},
}

// CanTransitionTo checks whether moving from s to next is legal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// EndReason says why a session reached StatusEnded.
type EndReason int

const (
	// ReasonNone means the session has not ended.
	ReasonNone EndReason = iota
	// ReasonCompleted is a normal hangup after a connected call.
	ReasonCompleted
	// ReasonCancelled means the caller gave up before the call connected.
	ReasonCancelled
	// ReasonRejected means the callee declined.
	ReasonRejected
	// ReasonBusy means the callee was in another call. Strictly terminal.
	ReasonBusy
	// ReasonTimeout means nobody answered within the allotted window.
	ReasonTimeout
	// ReasonFailed means setup or recovery budgets were exhausted.
	ReasonFailed
)

// String returns the string representation of the reason.
func (r EndReason) String() string {
	switch r {
	case ReasonNone:
		return "None"
	case ReasonCompleted:
		return "Completed"
	case ReasonCancelled:
		return "Cancelled"
	case ReasonRejected:
		return "Rejected"
	case ReasonBusy:
		return "Busy"
	case ReasonTimeout:
		return "Timeout"
	case ReasonFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(r))
	}
}

// DisplayText maps a terminal reason to its single human-facing status
// string. The mapping depends only on the reason, never on which error
// path produced it, so UI layers need no knowledge of internal errors.
func (r EndReason) DisplayText() string {
	switch r {
	case ReasonBusy:
		return "busy"
	case ReasonRejected:
		return "declined"
	case ReasonTimeout:
		return "no answer"
	case ReasonFailed:
		return "connection lost"
	default:
		return "call ended"
	}
}

// Direction says which side initiated the call.
type Direction int

const (
	// DirectionOutgoing means the local user placed the call.
	DirectionOutgoing Direction = iota
	// DirectionIncoming means the remote side placed the call.
	DirectionIncoming
)

// String returns the string representation of the direction.
func (d Direction) String() string {
	switch d {
	case DirectionOutgoing:
		return "outgoing"
	case DirectionIncoming:
		return "incoming"
	default:
		return "unknown"
	}
}
