// Package signaling maintains the websocket connection to the
// call-coordination server and speaks its event protocol.
package signaling

// Event is a signaling wire event name. Event names are part of the
// server protocol and must match byte for byte.
type Event string

// Outbound events.
const (
	EventInitCall        Event = "INIT_CALL"
	EventAnswerCall      Event = "ANSWER_CALL"
	EventRingingCall     Event = "RINGING_CALL"
	EventReject          Event = "REJECT"
	EventCancel          Event = "CANCEL"
	EventBusy            Event = "BUSY"
	EventBusyCall        Event = "BUSY_CALL"
	EventRequestHangup   Event = "REQUEST_HANGUP"
	EventICECandidate    Event = "ICE_CANDIDATE"
	EventPing            Event = "PING"
	EventClearingSession Event = "CLEARING_SESSION"
	EventReconnect       Event = "RECONNECT"
)

// Inbound events.
const (
	EventInitOK       Event = "INIT_OK"
	EventAnswerOK     Event = "ANSWER_OK"
	EventRingingOK    Event = "RINGING_OK"
	EventRinging      Event = "RINGING"
	EventAccepted     Event = "ACCEPTED"
	EventConnected    Event = "CONNECTED"
	EventReconnecting Event = "RECONNECTING"
	EventHangup       Event = "HANGUP"
	EventNoAnswer     Event = "NO_ANSWER"
	EventRejected     Event = "REJECTED"
	EventMissedCall   Event = "MISSED_CALL"
	EventSDPAnswer    Event = "SDP_ANSWER"
	EventPong         Event = "PONG"
)

// Events used in both directions.
const (
	// EventSDPOffer carries a session description; the client sends its
	// local offer and the server relays the remote side's.
	EventSDPOffer Event = "SDP_OFFER"

	// EventAck acknowledges a previously sent frame by its ack id.
	EventAck Event = "ACK"
)

// Message is one JSON frame on the wire.
type Message struct {
	Event Event          `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	// Ack carries the sender-assigned id the receiver should echo in an
	// ACK frame. Zero means no acknowledgement is expected.
	Ack uint64 `json:"ack,omitempty"`
}

// SDP extracts the "sdp" field from a message payload, tolerating both
// the flat string form and the nested {type, sdp} object form the
// server uses interchangeably.
func (m Message) SDP() (string, bool) {
	raw, ok := m.Data["sdp"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case string:
		return v, v != ""
	case map[string]any:
		s, _ := v["sdp"].(string)
		return s, s != ""
	default:
		return "", false
	}
}
