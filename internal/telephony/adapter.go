// Package telephony bridges the call core to a platform call UI. The
// Adapter keeps the OS-facing call registry and turns user intents into
// acknowledged actions for the controller.
package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/cicareteam/callcore/internal/call"
)

// ActionSink consumes user actions. The call controller implements it.
type ActionSink interface {
	HandleAction(a *call.Action)
}

// Hooks let the embedding platform render call UI changes. All hooks
// are optional and called without internal locks held.
type Hooks struct {
	OnOutgoing func(id uuid.UUID, handle string)
	OnIncoming func(id uuid.UUID, caller string)
	OnEnded    func(id uuid.UUID, reason call.EndReason)
}

type record struct {
	handle string
	ended  bool
}

// Adapter implements call.Telephony over an in-process registry. It is
// the reference integration; platform bindings replace it with their
// native call service.
type Adapter struct {
	mu    sync.Mutex
	sink  ActionSink
	hooks Hooks
	calls map[uuid.UUID]*record
}

var _ call.Telephony = (*Adapter)(nil)

func NewAdapter(hooks Hooks) *Adapter {
	return &Adapter{
		hooks: hooks,
		calls: make(map[uuid.UUID]*record),
	}
}

// SetSink attaches the action consumer. Must be called before any user
// action methods.
func (a *Adapter) SetSink(sink ActionSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

func (a *Adapter) ReportOutgoing(id uuid.UUID, handle string) error {
	a.mu.Lock()
	a.calls[id] = &record{handle: handle}
	a.mu.Unlock()
	slog.Info("[Telephony] Outgoing call reported", "call_id", id, "handle", handle)
	if a.hooks.OnOutgoing != nil {
		a.hooks.OnOutgoing(id, handle)
	}
	return nil
}

func (a *Adapter) ReportIncoming(id uuid.UUID, caller string) error {
	a.mu.Lock()
	a.calls[id] = &record{handle: caller}
	a.mu.Unlock()
	slog.Info("[Telephony] Incoming call reported", "call_id", id, "caller", caller)
	if a.hooks.OnIncoming != nil {
		a.hooks.OnIncoming(id, caller)
	}
	return nil
}

func (a *Adapter) ReportEnded(id uuid.UUID, reason call.EndReason) {
	a.mu.Lock()
	rec, ok := a.calls[id]
	if !ok || rec.ended {
		a.mu.Unlock()
		return
	}
	rec.ended = true
	a.mu.Unlock()
	slog.Info("[Telephony] Call ended", "call_id", id, "reason", reason.String())
	if a.hooks.OnEnded != nil {
		a.hooks.OnEnded(id, reason)
	}
}

// Active reports whether the registry holds a live call.
func (a *Adapter) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, rec := range a.calls {
		if !rec.ended {
			return true
		}
	}
	return false
}

// perform sends one action to the sink and waits for the
// acknowledgement.
func (a *Adapter) perform(ctx context.Context, kind call.ActionKind, muted, held bool) error {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink == nil {
		return fmt.Errorf("telephony: no action sink attached")
	}
	done := make(chan error, 1)
	action := call.NewAction(kind, func(err error) { done <- err })
	action.Muted = muted
	action.Held = held
	sink.HandleAction(action)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Answer accepts the ringing incoming call.
func (a *Adapter) Answer(ctx context.Context) error {
	return a.perform(ctx, call.ActionAnswer, false, false)
}

// End hangs up, cancels or declines, depending on call state.
func (a *Adapter) End(ctx context.Context) error {
	return a.perform(ctx, call.ActionEnd, false, false)
}

// SetMuted toggles local capture.
func (a *Adapter) SetMuted(ctx context.Context, muted bool) error {
	return a.perform(ctx, call.ActionMute, muted, false)
}

// SetHeld toggles hold.
func (a *Adapter) SetHeld(ctx context.Context, held bool) error {
	return a.perform(ctx, call.ActionHold, false, held)
}
