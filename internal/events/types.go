// Package events defines the observer-facing call lifecycle events and
// their publishing infrastructure. Events are transport-agnostic JSON
// payloads; hosts subscribe through a Publisher of their choosing.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the type of call event
type EventType string

const (
	// CallStatus fires on every session status change
	CallStatus EventType = "call.status"
	// CallQuality fires when the signaling quality classification changes
	CallQuality EventType = "call.quality"
	// CallMissed fires when an incoming call rings out unanswered
	CallMissed EventType = "call.missed"
	// CallMuted fires when local capture is muted or unmuted
	CallMuted EventType = "call.muted"
	// CallHeld fires when the call is placed on or taken off hold
	CallHeld EventType = "call.held"
)

// Event is the base interface for all call events
type Event interface {
	// Type returns the event type for routing/filtering
	Type() EventType
	// Subject returns the routing subject this event should publish to
	Subject() string
	// Timestamp returns when the event occurred
	Timestamp() time.Time
	// CallID returns the call correlation ID
	CallID() string
}

// BaseEvent contains fields common to all events
type BaseEvent struct {
	// EventID is a unique identifier for this event instance (for deduplication)
	EventID string `json:"event_id"`
	// EventType identifies the event
	EventType EventType `json:"event_type"`
	// EventTime is when the event occurred (RFC3339Nano)
	EventTime time.Time `json:"event_time"`
	// CallUUID is the session identifier the event pertains to
	CallUUID string `json:"call_uuid"`
	// Direction is "outgoing" or "incoming"
	Direction string `json:"direction,omitempty"`
	// DeviceID identifies the publishing endpoint (for multi-device accounts)
	DeviceID string `json:"device_id,omitempty"`
}

func (e *BaseEvent) Type() EventType      { return e.EventType }
func (e *BaseEvent) Timestamp() time.Time { return e.EventTime }
func (e *BaseEvent) CallID() string       { return e.CallUUID }

// Subject returns the routing subject.
// Format: callcore.calls.<call_uuid>.<event_type_suffix>
func (e *BaseEvent) Subject() string {
	suffix := string(e.EventType)[5:] // strip "call." prefix
	return "callcore.calls." + e.CallUUID + "." + suffix
}

// StatusEvent reports a session status change.
type StatusEvent struct {
	BaseEvent
	Status string `json:"status"`
	// Reason is set only when Status is "ended"
	Reason string `json:"reason,omitempty"`
	// Display is a human-readable line suitable for the call UI
	Display string `json:"display,omitempty"`
	// PeerName and PeerAvatar carry the remote party's profile
	PeerName   string `json:"peer_name,omitempty"`
	PeerAvatar string `json:"peer_avatar,omitempty"`
}

// QualityEvent reports the current signaling link quality.
type QualityEvent struct {
	BaseEvent
	Quality   string `json:"quality"`
	RTTMillis int64  `json:"rtt_ms,omitempty"`
}

// MissedEvent reports an incoming call that rang out unanswered.
type MissedEvent struct {
	BaseEvent
	PeerName string `json:"peer_name,omitempty"`
}

// MuteEvent reports a local capture mute toggle.
type MuteEvent struct {
	BaseEvent
	Muted bool `json:"muted"`
}

// HoldEvent reports a hold toggle.
type HoldEvent struct {
	BaseEvent
	Held bool `json:"held"`
}

// Marshal renders any event as JSON for transport.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
