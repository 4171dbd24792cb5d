package events

import (
	"time"

	"github.com/google/uuid"
)

// Builder provides fluent construction of call events with consistent defaults.
type Builder struct {
	deviceID string
}

// NewBuilder creates an event builder with global defaults.
func NewBuilder(deviceID string) *Builder {
	return &Builder{deviceID: deviceID}
}

// newBase creates a BaseEvent with common fields populated.
func (b *Builder) newBase(eventType EventType, callUUID, direction string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		EventTime: time.Now().UTC(),
		CallUUID:  callUUID,
		Direction: direction,
		DeviceID:  b.deviceID,
	}
}

// StatusBuilder constructs StatusEvent.
type StatusBuilder struct {
	event *StatusEvent
}

// Status starts building a StatusEvent.
func (b *Builder) Status(callUUID, direction, status string) *StatusBuilder {
	return &StatusBuilder{
		event: &StatusEvent{
			BaseEvent: b.newBase(CallStatus, callUUID, direction),
			Status:    status,
		},
	}
}

func (sb *StatusBuilder) Reason(reason string) *StatusBuilder {
	sb.event.Reason = reason
	return sb
}

func (sb *StatusBuilder) Display(text string) *StatusBuilder {
	sb.event.Display = text
	return sb
}

func (sb *StatusBuilder) Peer(name, avatar string) *StatusBuilder {
	sb.event.PeerName = name
	sb.event.PeerAvatar = avatar
	return sb
}

func (sb *StatusBuilder) Build() *StatusEvent {
	return sb.event
}

// QualityBuilder constructs QualityEvent.
type QualityBuilder struct {
	event *QualityEvent
}

// Quality starts building a QualityEvent.
func (b *Builder) Quality(callUUID, quality string) *QualityBuilder {
	return &QualityBuilder{
		event: &QualityEvent{
			BaseEvent: b.newBase(CallQuality, callUUID, ""),
			Quality:   quality,
		},
	}
}

func (qb *QualityBuilder) RTT(d time.Duration) *QualityBuilder {
	qb.event.RTTMillis = d.Milliseconds()
	return qb
}

func (qb *QualityBuilder) Build() *QualityEvent {
	return qb.event
}

// Missed builds a MissedEvent directly; it has no optional fields
// beyond the peer name.
func (b *Builder) Missed(callUUID, peerName string) *MissedEvent {
	return &MissedEvent{
		BaseEvent: b.newBase(CallMissed, callUUID, "incoming"),
		PeerName:  peerName,
	}
}

// Muted builds a MuteEvent.
func (b *Builder) Muted(callUUID string, muted bool) *MuteEvent {
	return &MuteEvent{
		BaseEvent: b.newBase(CallMuted, callUUID, ""),
		Muted:     muted,
	}
}

// Held builds a HoldEvent.
func (b *Builder) Held(callUUID string, held bool) *HoldEvent {
	return &HoldEvent{
		BaseEvent: b.newBase(CallHeld, callUUID, ""),
		Held:      held,
	}
}
