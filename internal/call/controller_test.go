package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/cicareteam/callcore/internal/events"
	"github.com/cicareteam/callcore/internal/signaling"
)

// ---- fakes ----

type fakeTelephony struct {
	mu       sync.Mutex
	outgoing []uuid.UUID
	incoming []uuid.UUID
	ended    map[uuid.UUID][]EndReason
	failNext error
}

func newFakeTelephony() *fakeTelephony {
	return &fakeTelephony{ended: make(map[uuid.UUID][]EndReason)}
}

func (f *fakeTelephony) ReportOutgoing(id uuid.UUID, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.outgoing = append(f.outgoing, id)
	return nil
}

func (f *fakeTelephony) ReportIncoming(id uuid.UUID, caller string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.incoming = append(f.incoming, id)
	return nil
}

func (f *fakeTelephony) ReportEnded(id uuid.UUID, reason EndReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[id] = append(f.ended[id], reason)
}

func (f *fakeTelephony) endedReasons(id uuid.UUID) []EndReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EndReason, len(f.ended[id]))
	copy(out, f.ended[id])
	return out
}

type fakeMedia struct {
	mu        sync.Mutex
	micErr    error
	offerErr  error
	muteCalls []bool
	reinits   int
	teardowns int
	remotes   []string
	candFn    func(ICECandidate)
}

func (f *fakeMedia) EnsureMicrophone() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.micErr
}

func (f *fakeMedia) CreateOffer(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offerErr != nil {
		return "", f.offerErr
	}
	return "v=0 local-offer", nil
}

func (f *fakeMedia) CreateAnswer(ctx context.Context) (string, error) {
	return "v=0 local-answer", nil
}

func (f *fakeMedia) SetRemoteDescription(ctx context.Context, kind, sdp string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remotes = append(f.remotes, kind)
	return nil
}

func (f *fakeMedia) SetMuted(muted bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muteCalls = append(f.muteCalls, muted)
	return true
}

func (f *fakeMedia) Reinitialize() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reinits++
	return nil
}

func (f *fakeMedia) Teardown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns++
}

func (f *fakeMedia) SetCandidateHandler(fn func(ICECandidate)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candFn = fn
}

func (f *fakeMedia) lastMute() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.muteCalls) == 0 {
		return false, false
	}
	return f.muteCalls[len(f.muteCalls)-1], true
}

type fakeSetup struct {
	mu    sync.Mutex
	route RouteInfo
	err   error
	block chan struct{}
	calls int
}

func (f *fakeSetup) CreateCallSession(ctx context.Context, caller, callee Peer, checksum string) (RouteInfo, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	route, err := f.route, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return RouteInfo{}, ctx.Err()
		}
	}
	return route, err
}

type fakeRouter struct {
	route RouteInfo
	err   error
}

func (f *fakeRouter) DecodeRouting(ctx context.Context, ciphered string) (RouteInfo, error) {
	return f.route, f.err
}

type fakeChannel struct {
	mu        sync.Mutex
	hooks     signaling.Hooks
	emits     []signaling.Message
	connected bool
	closed    bool
	grace     bool
	autoReady bool
}

func (f *fakeChannel) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connected = true
	auto := f.autoReady
	hooks := f.hooks
	f.mu.Unlock()
	if auto && hooks.OnReady != nil {
		hooks.OnReady(false)
	}
	return nil
}

func (f *fakeChannel) Emit(event signaling.Event, data map[string]any) {
	f.mu.Lock()
	f.emits = append(f.emits, signaling.Message{Event: event, Data: data})
	f.mu.Unlock()
}

func (f *fakeChannel) AllowReconnect(enabled bool) {
	f.mu.Lock()
	f.grace = enabled
	f.mu.Unlock()
}

func (f *fakeChannel) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeChannel) ready(resumed bool) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnReady != nil {
		hooks.OnReady(resumed)
	}
}

func (f *fakeChannel) deliver(ev signaling.Event, data map[string]any) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnEvent != nil {
		hooks.OnEvent(signaling.Message{Event: ev, Data: data})
	}
}

func (f *fakeChannel) transport(st signaling.ConnState) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnStateChange != nil {
		hooks.OnStateChange(st)
	}
}

func (f *fakeChannel) lost(err error) {
	f.mu.Lock()
	hooks := f.hooks
	f.mu.Unlock()
	if hooks.OnClosed != nil {
		hooks.OnClosed(err)
	}
}

func (f *fakeChannel) sent() []signaling.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signaling.Message, len(f.emits))
	copy(out, f.emits)
	return out
}

func (f *fakeChannel) count(ev signaling.Event) int {
	n := 0
	for _, msg := range f.sent() {
		if msg.Event == ev {
			n++
		}
	}
	return n
}

func (f *fakeChannel) has(ev signaling.Event) bool { return f.count(ev) > 0 }

type recordingPublisher struct {
	mu  sync.Mutex
	evs []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	p.evs = append(p.evs, e)
	p.mu.Unlock()
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) countType(t events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.evs {
		if e.Type() == t {
			n++
		}
	}
	return n
}

// ---- harness ----

type harness struct {
	t      *testing.T
	tel    *fakeTelephony
	media  *fakeMedia
	setup  *fakeSetup
	router *fakeRouter
	pub    *recordingPublisher
	ctrl   *Controller

	mu        sync.Mutex
	channels  []*fakeChannel
	manualRdy bool // when set, channels wait for an explicit ready()
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		tel:    newFakeTelephony(),
		media:  &fakeMedia{},
		setup:  &fakeSetup{route: RouteInfo{Server: "wss://sig.example", Token: "tok"}},
		router: &fakeRouter{route: RouteInfo{Server: "wss://sig.example", Token: "push-tok"}},
		pub:    &recordingPublisher{},
	}
	cfg := Config{
		Local:     Peer{ID: "alice", Name: "Alice"},
		Telephony: h.tel,
		Media:     h.media,
		Setup:     h.setup,
		Router:    h.router,
		Channels: func(server, token string, hooks signaling.Hooks) SignalChannel {
			h.mu.Lock()
			ch := &fakeChannel{hooks: hooks, autoReady: !h.manualRdy}
			h.channels = append(h.channels, ch)
			h.mu.Unlock()
			return ch
		},
		Publisher: h.pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := NewController(cfg)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(ctrl.Close)
	h.ctrl = ctrl
	return h
}

func (h *harness) channel(i int) *fakeChannel {
	h.t.Helper()
	var ch *fakeChannel
	waitFor(h.t, "channel creation", func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.channels) > i {
			ch = h.channels[i]
			return true
		}
		return false
	})
	return ch
}

func (h *harness) status() (Status, bool) {
	info, ok := h.ctrl.Current()
	return info.Status, ok
}

func (h *harness) waitStatus(want Status) {
	h.t.Helper()
	waitFor(h.t, "status "+want.String(), func() bool {
		st, ok := h.status()
		return ok && st == want
	})
}

func (h *harness) waitIdle() {
	h.t.Helper()
	waitFor(h.t, "idle controller", func() bool {
		_, ok := h.ctrl.Current()
		return !ok
	})
}

func (h *harness) act(kind ActionKind, muted, held bool) error {
	h.t.Helper()
	done := make(chan error, 1)
	a := NewAction(kind, func(err error) { done <- err })
	a.Muted = muted
	a.Held = held
	h.ctrl.HandleAction(a)
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("action never acknowledged")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func background(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// ---- outgoing lifecycle ----

func TestOutgoingCallFullLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	info, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob", Name: "Bob"}, "sum")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if info.Direction != DirectionOutgoing {
		t.Errorf("direction = %s", info.Direction)
	}

	ch := h.channel(0)
	waitFor(t, "INIT_CALL", func() bool { return ch.has(signaling.EventInitCall) })

	for _, msg := range ch.sent() {
		if msg.Event == signaling.EventInitCall {
			if msg.Data["checksum"] != "sum" || msg.Data["callee_id"] != "bob" {
				t.Errorf("INIT_CALL payload = %v", msg.Data)
			}
		}
	}

	ch.deliver(signaling.EventInitOK, nil)
	waitFor(t, "local offer", func() bool { return ch.has(signaling.EventSDPOffer) })
	for _, msg := range ch.sent() {
		if msg.Event == signaling.EventSDPOffer {
			if msg.Data["is_caller"] != true {
				t.Errorf("offer payload = %v", msg.Data)
			}
		}
	}

	ch.deliver(signaling.EventRinging, nil)
	h.waitStatus(StatusRingingOut)

	ch.deliver(signaling.EventConnected, nil)
	h.waitStatus(StatusConnected)
	waitFor(t, "reconnect grace armed", func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.grace
	})

	ch.deliver(signaling.EventSDPAnswer, map[string]any{"sdp": "v=0 remote"})
	waitFor(t, "remote answer applied", func() bool {
		h.media.mu.Lock()
		defer h.media.mu.Unlock()
		return len(h.media.remotes) == 1 && h.media.remotes[0] == "answer"
	})

	ch.deliver(signaling.EventHangup, nil)
	h.waitIdle()

	waitFor(t, "clearing emission", func() bool { return ch.has(signaling.EventClearingSession) })
	id := info.ID
	if got := h.tel.endedReasons(id); len(got) != 1 || got[0] != ReasonCompleted {
		t.Errorf("telephony ended = %v, want one Completed", got)
	}
	h.media.mu.Lock()
	teardowns := h.media.teardowns
	h.media.mu.Unlock()
	if teardowns != 1 {
		t.Errorf("teardowns = %d, want 1", teardowns)
	}

	// A duplicate terminal event after teardown changes nothing.
	ch.deliver(signaling.EventHangup, nil)
	time.Sleep(50 * time.Millisecond)
	if got := h.tel.endedReasons(id); len(got) != 1 {
		t.Errorf("duplicate HANGUP reported again: %v", got)
	}
}

func TestStartWhileActiveReturnsAlreadyInCall(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, ""); err != nil {
		t.Fatalf("first start: %v", err)
	}
	_, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "carol"}, "")
	if !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("err = %v, want ErrAlreadyInCall", err)
	}
}

func TestStartWithoutMicrophoneFails(t *testing.T) {
	h := newHarness(t, nil)
	h.media.micErr = ErrMicrophonePermission

	_, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, "")
	if !errors.Is(err, ErrMicrophonePermission) {
		t.Fatalf("err = %v, want ErrMicrophonePermission", err)
	}
	if _, ok := h.ctrl.Current(); ok {
		t.Error("session left behind after refused start")
	}
}

func TestSetupFailureEndsTheCall(t *testing.T) {
	h := newHarness(t, nil)
	h.setup.err = errors.New("boom")

	_, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, "")
	if err == nil {
		t.Fatal("start succeeded despite setup failure")
	}
	h.waitIdle()
}

// ---- cancel while setup is in flight ----

func TestCancelDuringSetupAbsorbsLateCompletion(t *testing.T) {
	h := newHarness(t, nil)
	h.setup.block = make(chan struct{})

	type result struct {
		info Info
		err  error
	}
	results := make(chan result, 1)
	go func() {
		info, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, "")
		results <- result{info, err}
	}()

	h.waitStatus(StatusRequesting)
	if err := h.act(ActionEnd, false, false); err != nil {
		t.Fatalf("end action: %v", err)
	}
	h.waitIdle()

	// Setup completes after the user already gave up.
	close(h.setup.block)

	res := <-results
	if res.err != nil {
		t.Fatalf("start returned error: %v", res.err)
	}
	if res.info.Status != StatusEnded || res.info.Reason != ReasonCancelled {
		t.Errorf("late result = %s/%s, want Ended/Cancelled", res.info.Status, res.info.Reason)
	}

	// The late rendezvous still owes the server a CANCEL exchange.
	ch := h.channel(0)
	waitFor(t, "cancel exchange", func() bool { return ch.has(signaling.EventCancel) })
	waitFor(t, "exchange closed", func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.closed
	})

	if got := h.tel.endedReasons(res.info.ID); len(got) != 1 || got[0] != ReasonCancelled {
		t.Errorf("telephony ended = %v, want one Cancelled", got)
	}
}

func TestCancelBeforeConnectEmitsCancel(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	ch := h.channel(0)
	waitFor(t, "INIT_CALL", func() bool { return ch.has(signaling.EventInitCall) })

	if err := h.act(ActionEnd, false, false); err != nil {
		t.Fatalf("end action: %v", err)
	}
	h.waitIdle()
	if !ch.has(signaling.EventCancel) {
		t.Error("CANCEL not emitted for pre-answer hangup")
	}
}

// ---- incoming ----

func TestIncomingAnswerBeforeSignalingReady(t *testing.T) {
	h := newHarness(t, nil)
	// Channels must not fire readiness until the test says so.
	h.mu.Lock()
	h.manualRdy = true
	h.mu.Unlock()

	info, err := h.ctrl.ReportIncomingCall(background(t), Peer{ID: "carol", Name: "Carol"}, "blob")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if info.Status != StatusRingingIn {
		t.Fatalf("status = %s, want RingingIn", info.Status)
	}

	// Answer while the handshake is still running: acknowledged now,
	// emitted later.
	if err := h.act(ActionAnswer, false, false); err != nil {
		t.Fatalf("answer action: %v", err)
	}
	h.waitStatus(StatusAnswerPending)

	ch := h.channel(0)
	if ch.has(signaling.EventAnswerCall) {
		t.Fatal("ANSWER_CALL emitted before signaling readiness")
	}

	ch.ready(false)
	h.waitStatus(StatusConnected)
	waitFor(t, "deferred answer", func() bool { return ch.has(signaling.EventAnswerCall) })
	if ch.count(signaling.EventAnswerCall) != 1 {
		t.Errorf("ANSWER_CALL count = %d, want 1", ch.count(signaling.EventAnswerCall))
	}
	if !ch.has(signaling.EventRingingCall) {
		t.Error("RINGING_CALL not emitted on readiness")
	}
}

func TestIncomingWhileActiveIsAutoRejectedBusy(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, ""); err != nil {
		t.Fatalf("start: %v", err)
	}
	firstStatus, _ := h.status()

	info, err := h.ctrl.ReportIncomingCall(background(t), Peer{ID: "carol"}, "blob")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if info.Reason != ReasonBusy {
		t.Errorf("reason = %s, want Busy", info.Reason)
	}

	busyCh := h.channel(1)
	waitFor(t, "busy exchange", func() bool { return busyCh.has(signaling.EventBusyCall) })
	if got := h.tel.endedReasons(info.ID); len(got) != 1 || got[0] != ReasonBusy {
		t.Errorf("busy attempt telephony = %v", got)
	}

	// The active call must be untouched.
	if st, ok := h.status(); !ok || st != firstStatus {
		t.Errorf("active call status changed to %s", st)
	}
}

func TestIncomingRingTimeoutIsMissed(t *testing.T) {
	h := newHarness(t, func(cfg *Config) {
		cfg.RingTimeout = 60 * time.Millisecond
	})
	info, err := h.ctrl.ReportIncomingCall(background(t), Peer{ID: "carol", Name: "Carol"}, "blob")
	if err != nil {
		t.Fatalf("incoming: %v", err)
	}

	h.waitIdle()
	if got := h.tel.endedReasons(info.ID); len(got) != 1 || got[0] != ReasonTimeout {
		t.Errorf("telephony ended = %v, want one Timeout", got)
	}
	if h.pub.countType(events.CallMissed) != 1 {
		t.Errorf("missed events = %d, want 1", h.pub.countType(events.CallMissed))
	}
}

func TestDeclineIncomingEmitsReject(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.ReportIncomingCall(background(t), Peer{ID: "carol"}, "blob"); err != nil {
		t.Fatalf("incoming: %v", err)
	}
	h.waitStatus(StatusRingingIn)

	if err := h.act(ActionEnd, false, false); err != nil {
		t.Fatalf("end action: %v", err)
	}
	h.waitIdle()
	ch := h.channel(0)
	if !ch.has(signaling.EventReject) {
		t.Error("REJECT not emitted when declining")
	}
}

// ---- reconnect ----

func TestReconnectRestoresMuteAndRenegotiates(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.ReportIncomingCall(background(t), Peer{ID: "carol"}, "blob"); err != nil {
		t.Fatalf("incoming: %v", err)
	}
	if err := h.act(ActionAnswer, false, false); err != nil {
		t.Fatalf("answer: %v", err)
	}
	h.waitStatus(StatusConnected)

	if err := h.act(ActionMute, true, false); err != nil {
		t.Fatalf("mute: %v", err)
	}

	ch := h.channel(0)
	ch.transport(signaling.StateReconnecting)
	h.waitStatus(StatusReconnecting)

	ch.ready(true)
	h.waitStatus(StatusConnected)

	waitFor(t, "reconnect emission", func() bool { return ch.has(signaling.EventReconnect) })
	waitFor(t, "media rebuilt", func() bool {
		h.media.mu.Lock()
		defer h.media.mu.Unlock()
		return h.media.reinits == 1
	})
	if muted, ok := h.media.lastMute(); !ok || !muted {
		t.Error("mute state not restored after media rebuild")
	}
	waitFor(t, "fresh offer", func() bool { return ch.has(signaling.EventSDPOffer) })
}

func TestReconnectExhaustionFailsTheCall(t *testing.T) {
	h := newHarness(t, nil)
	info, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	ch := h.channel(0)
	ch.deliver(signaling.EventConnected, nil)
	h.waitStatus(StatusConnected)

	ch.lost(&signaling.ChannelError{Kind: signaling.KindExhausted})
	h.waitIdle()
	if got := h.tel.endedReasons(info.ID); len(got) != 1 || got[0] != ReasonFailed {
		t.Errorf("telephony ended = %v, want one Failed", got)
	}
}

// ---- actions ----

func TestMuteForwardsAndPublishes(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := h.act(ActionMute, true, false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if muted, ok := h.media.lastMute(); !ok || !muted {
		t.Error("mute not forwarded to media engine")
	}
	if err := h.act(ActionMute, false, false); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if muted, _ := h.media.lastMute(); muted {
		t.Error("unmute not forwarded to media engine")
	}
	if h.pub.countType(events.CallMuted) != 2 {
		t.Errorf("mute events = %d, want 2", h.pub.countType(events.CallMuted))
	}
}

func TestHoldPreservesUserMuteChoice(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, ""); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := h.act(ActionMute, true, false); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := h.act(ActionHold, false, true); err != nil {
		t.Fatalf("hold: %v", err)
	}
	if err := h.act(ActionHold, false, false); err != nil {
		t.Fatalf("unhold: %v", err)
	}
	// Unhold with mute still chosen keeps capture muted.
	if muted, ok := h.media.lastMute(); !ok || !muted {
		t.Error("user mute lost across hold cycle")
	}
}

func TestActionsWithoutSessionAreResolved(t *testing.T) {
	h := newHarness(t, nil)

	if err := h.act(ActionEnd, false, false); err != nil {
		t.Errorf("end with no call = %v, want nil", err)
	}
	if err := h.act(ActionAnswer, false, false); !errors.Is(err, ErrNoSession) {
		t.Errorf("answer with no call = %v, want ErrNoSession", err)
	}
	if err := h.act(ActionMute, true, false); !errors.Is(err, ErrNoSession) {
		t.Errorf("mute with no call = %v, want ErrNoSession", err)
	}
}

func TestTelephonyReportFailureAbortsStart(t *testing.T) {
	h := newHarness(t, nil)
	h.tel.failNext = errors.New("call UI refused")

	_, err := h.ctrl.StartOutgoingCall(background(t), Peer{ID: "bob"}, "")
	var setupErr *SetupError
	if !errors.As(err, &setupErr) || setupErr.Stage != "telephony" {
		t.Fatalf("err = %v, want telephony SetupError", err)
	}
	if _, ok := h.ctrl.Current(); ok {
		t.Error("session left behind")
	}
}
