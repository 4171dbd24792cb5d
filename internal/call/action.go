package call

import "sync"

// ActionKind identifies a user intent relayed by the telephony layer.
type ActionKind int

const (
	ActionAnswer ActionKind = iota
	ActionEnd
	ActionMute
	ActionHold
)

func (k ActionKind) String() string {
	switch k {
	case ActionAnswer:
		return "answer"
	case ActionEnd:
		return "end"
	case ActionMute:
		return "mute"
	case ActionHold:
		return "hold"
	default:
		return "unknown"
	}
}

// Action is one telephony-layer request. The OS side blocks the call UI
// until the action is acknowledged, so every Action must be resolved
// exactly once. Fulfill and Fail after the first resolution are no-ops.
type Action struct {
	Kind  ActionKind
	Muted bool
	Held  bool

	once sync.Once
	done func(err error)
}

// NewAction wraps a completion callback. done may be nil.
func NewAction(kind ActionKind, done func(err error)) *Action {
	return &Action{Kind: kind, done: done}
}

// Fulfill acknowledges the action as performed.
func (a *Action) Fulfill() {
	a.once.Do(func() {
		if a.done != nil {
			a.done(nil)
		}
	})
}

// Fail acknowledges the action as not performed.
func (a *Action) Fail(err error) {
	a.once.Do(func() {
		if a.done != nil {
			a.done(err)
		}
	})
}
