package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cicareteam/callcore/internal/events"
	"github.com/cicareteam/callcore/internal/signaling"
)

// Config wires the controller to its collaborators. Telephony, Media,
// Setup, Router and Channels are required.
type Config struct {
	// Local is the identity calls are placed and received as.
	Local Peer
	// DeviceID tags published events; optional.
	DeviceID string

	Telephony Telephony
	Media     MediaEngine
	Setup     SetupClient
	Router    RouteDecoder
	Channels  ChannelFactory
	Publisher events.Publisher

	// RingTimeout bounds how long an incoming call may ring.
	// Defaults to 60 seconds.
	RingTimeout time.Duration
	// ExchangeTimeout bounds fire-and-forget signaling exchanges such
	// as busy rejections. Defaults to 5 seconds.
	ExchangeTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 60 * time.Second
	}
	if c.ExchangeTimeout <= 0 {
		c.ExchangeTimeout = 5 * time.Second
	}
	if c.Publisher == nil {
		c.Publisher = events.NewNoopPublisher()
	}
}

// Controller orchestrates at most one voice call at a time. All state
// mutations run on a single internal loop; public methods are safe from
// any goroutine and post work to that loop.
type Controller struct {
	cfg     Config
	builder *events.Builder

	cmds chan func()
	quit chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// Loop-owned. Never touched outside the run loop.
	sess      *Session
	channel   SignalChannel
	guard     *ringGuard
	cancelled *CancelTracker
}

// NewController validates cfg, starts the control loop and returns the
// controller ready for calls.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Telephony == nil || cfg.Media == nil || cfg.Setup == nil ||
		cfg.Router == nil || cfg.Channels == nil {
		return nil, fmt.Errorf("call: controller config missing a required collaborator")
	}
	cfg.applyDefaults()

	c := &Controller{
		cfg:       cfg,
		builder:   events.NewBuilder(cfg.DeviceID),
		cmds:      make(chan func(), 64),
		quit:      make(chan struct{}),
		cancelled: NewCancelTracker(),
	}
	cfg.Media.SetCandidateHandler(c.onLocalCandidate)
	c.wg.Add(1)
	go c.run()
	return c, nil
}

func (c *Controller) run() {
	defer c.wg.Done()
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post schedules fn on the control loop.
func (c *Controller) post(fn func()) error {
	select {
	case c.cmds <- fn:
		return nil
	case <-c.quit:
		return ErrControllerClosed
	}
}

// postWait runs fn on the loop and waits for it to complete.
func (c *Controller) postWait(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if err := c.post(func() {
		defer close(done)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close hangs up any active call and stops the control loop.
func (c *Controller) Close() {
	c.once.Do(func() {
		done := make(chan struct{})
		if c.post(func() {
			defer close(done)
			if c.sess == nil {
				return
			}
			switch c.sess.Status() {
			case StatusConnected, StatusReconnecting:
				c.terminate(c.sess, ReasonCompleted, signaling.EventRequestHangup)
			case StatusRingingIn, StatusAnswerPending:
				c.terminate(c.sess, ReasonRejected, signaling.EventReject)
			default:
				c.cancelled.Mark(c.sess.ID())
				c.terminate(c.sess, ReasonCancelled, signaling.EventCancel)
			}
		}) == nil {
			<-done
		}
		close(c.quit)
		c.wg.Wait()
		c.cfg.Media.SetCandidateHandler(nil)
		c.cancelled.Close()
	})
}

// Current returns a snapshot of the active session, if any.
func (c *Controller) Current() (Info, bool) {
	var (
		info Info
		ok   bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.postWait(ctx, func() {
		if c.sess != nil {
			info = c.sess.Info()
			ok = true
		}
	}); err != nil {
		return Info{}, false
	}
	return info, ok
}

// StartOutgoingCall places a call to callee. It blocks through call
// setup and the initial signaling connect; lifecycle beyond that point
// is reported through the event publisher. checksum authenticates the
// request towards the setup service.
func (c *Controller) StartOutgoingCall(ctx context.Context, callee Peer, checksum string) (Info, error) {
	var (
		sess     *Session
		beginErr error
	)
	if err := c.postWait(ctx, func() {
		sess, beginErr = c.beginOutgoing(callee, checksum)
	}); err != nil {
		return Info{}, err
	}
	if beginErr != nil {
		return Info{}, beginErr
	}

	route, setupErr := c.cfg.Setup.CreateCallSession(ctx, c.cfg.Local, callee, checksum)

	var (
		ch      SignalChannel
		info    Info
		doneErr error
	)
	if err := c.postWait(ctx, func() {
		ch, info, doneErr = c.completeOutgoingSetup(sess, route, setupErr)
	}); err != nil {
		return Info{}, err
	}
	if doneErr != nil {
		return Info{}, doneErr
	}
	if ch == nil {
		// Cancelled while setup was in flight.
		return info, nil
	}

	if err := ch.Connect(ctx); err != nil {
		_ = c.post(func() { c.connectFailed(sess, err) })
		return Info{}, &SetupError{Stage: "connect", Cause: err}
	}
	if err := c.postWait(ctx, func() { info = sess.Info() }); err != nil {
		return Info{}, err
	}
	return info, nil
}

// beginOutgoing runs on the loop: preconditions, session creation and
// the telephony report.
func (c *Controller) beginOutgoing(callee Peer, checksum string) (*Session, error) {
	if c.sess != nil && !c.sess.Status().IsTerminal() {
		return nil, ErrAlreadyInCall
	}
	if err := c.cfg.Media.EnsureMicrophone(); err != nil {
		return nil, err
	}

	sess := newSession(DirectionOutgoing, callee)
	sess.checksum = checksum
	if err := sess.transitionTo(StatusRequesting); err != nil {
		return nil, err
	}
	if err := c.cfg.Telephony.ReportOutgoing(sess.ID(), callee.Name); err != nil {
		return nil, &SetupError{Stage: "telephony", Cause: err}
	}
	c.sess = sess
	slog.Info("[Controller] Outgoing call started",
		"call_id", sess.ID(), "callee", callee.ID)
	c.publishStatus(sess)
	return sess, nil
}

// completeOutgoingSetup runs on the loop once the setup exchange is
// done. A nil channel with nil error means the call was cancelled while
// the request was in flight.
func (c *Controller) completeOutgoingSetup(sess *Session, route RouteInfo, setupErr error) (SignalChannel, Info, error) {
	if c.sess != sess || sess.Status().IsTerminal() {
		// User hung up while the request was in flight. Late success
		// still owes the far side a cancel exchange.
		if setupErr == nil && c.cancelled.IsCancelled(sess.ID()) {
			c.fireAndForget(route, signaling.EventCancel, map[string]any{
				"uuid":  sess.ID().String(),
				"token": route.Token,
			})
		}
		return nil, sess.Info(), nil
	}
	if setupErr != nil {
		c.terminate(sess, ReasonFailed)
		return nil, Info{}, setupErr
	}

	sess.setRoute(route)
	if err := sess.transitionTo(StatusDialing); err != nil {
		return nil, Info{}, err
	}
	c.publishStatus(sess)
	c.channel = c.makeChannel(route, sess)
	return c.channel, sess.Info(), nil
}

// ReportIncomingCall registers an incoming call delivered out-of-band
// (push payload). cipheredRouting is the opaque routing blob from the
// payload. When another call is active the attempt is auto-rejected as
// busy and the returned Info reflects that.
func (c *Controller) ReportIncomingCall(ctx context.Context, caller Peer, cipheredRouting string) (Info, error) {
	route, err := c.cfg.Router.DecodeRouting(ctx, cipheredRouting)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrBadRouting, err)
	}

	var (
		sess     *Session
		ch       SignalChannel
		info     Info
		beginErr error
	)
	if err := c.postWait(ctx, func() {
		sess, ch, info, beginErr = c.beginIncoming(caller, route)
	}); err != nil {
		return Info{}, err
	}
	if beginErr != nil {
		return Info{}, beginErr
	}
	if ch == nil {
		// Busy: rejected without a session.
		return info, nil
	}

	if err := ch.Connect(ctx); err != nil {
		_ = c.post(func() { c.connectFailed(sess, err) })
		return Info{}, &SetupError{Stage: "connect", Cause: err}
	}
	if err := c.postWait(ctx, func() { info = sess.Info() }); err != nil {
		return Info{}, err
	}
	return info, nil
}

// beginIncoming runs on the loop. A nil channel means the busy path.
func (c *Controller) beginIncoming(caller Peer, route RouteInfo) (*Session, SignalChannel, Info, error) {
	if c.sess != nil && !c.sess.Status().IsTerminal() {
		id := uuid.New()
		slog.Info("[Controller] Incoming call while busy, auto-rejecting",
			"caller", caller.ID, "active_call", c.sess.ID())
		if err := c.cfg.Telephony.ReportIncoming(id, caller.Name); err == nil {
			c.cfg.Telephony.ReportEnded(id, ReasonBusy)
		}
		c.fireAndForget(route, signaling.EventBusyCall, map[string]any{
			"uuid":  id.String(),
			"token": route.Token,
		})
		return nil, nil, Info{
			ID:        id,
			Direction: DirectionIncoming,
			Peer:      caller,
			Status:    StatusEnded,
			Reason:    ReasonBusy,
		}, nil
	}

	sess := newSession(DirectionIncoming, caller)
	sess.setRoute(route)
	if err := sess.transitionTo(StatusRingingIn); err != nil {
		return nil, nil, Info{}, err
	}
	if err := c.cfg.Telephony.ReportIncoming(sess.ID(), caller.Name); err != nil {
		return nil, nil, Info{}, &SetupError{Stage: "telephony", Cause: err}
	}

	c.sess = sess
	c.guard = newRingGuard(sess.ID(), c.cfg.RingTimeout, func(id uuid.UUID) {
		_ = c.post(func() { c.onRingTimeout(id) })
	})
	c.channel = c.makeChannel(route, sess)
	slog.Info("[Controller] Incoming call ringing",
		"call_id", sess.ID(), "caller", caller.ID)
	c.publishStatus(sess)
	return sess, c.channel, sess.Info(), nil
}

// connectFailed runs on the loop after the initial channel connect gave
// up. Reconnect attempts after a successful connect never land here.
func (c *Controller) connectFailed(sess *Session, err error) {
	if c.sess != sess || sess.Status().IsTerminal() {
		return
	}
	slog.Warn("[Controller] Signaling connect failed",
		"call_id", sess.ID(), "error", err)
	c.terminate(sess, ReasonFailed)
}

// makeChannel builds the per-call signaling channel with hooks routed
// into the control loop.
func (c *Controller) makeChannel(route RouteInfo, sess *Session) SignalChannel {
	var ch SignalChannel
	ch = c.cfg.Channels(route.Server, route.Token, signaling.Hooks{
		OnReady: func(resumed bool) {
			_ = c.post(func() { c.onChannelReady(sess, ch, resumed) })
		},
		OnEvent: func(msg signaling.Message) {
			_ = c.post(func() { c.onWireEvent(sess, msg) })
		},
		OnStateChange: func(st signaling.ConnState) {
			_ = c.post(func() { c.onTransportState(sess, st) })
		},
		OnQuality: func(q signaling.Quality, rtt time.Duration) {
			c.publishQuality(sess, q, rtt)
		},
		OnClosed: func(err error) {
			_ = c.post(func() { c.onChannelClosed(sess, err) })
		},
	})
	return ch
}

// onChannelReady runs on the loop each time the channel completes a
// handshake, both on first connect and after resuming a drop.
func (c *Controller) onChannelReady(sess *Session, ch SignalChannel, resumed bool) {
	if c.sess != sess || sess.Status().IsTerminal() {
		// The call died while the handshake was in flight.
		if c.cancelled.IsCancelled(sess.ID()) {
			ch.Emit(signaling.EventCancel, c.payload(sess))
		}
		ch.Close()
		return
	}
	sess.setReady(true)

	if resumed {
		c.resumeAfterReconnect(sess, ch)
		return
	}

	switch sess.Direction() {
	case DirectionOutgoing:
		ch.Emit(signaling.EventInitCall, map[string]any{
			"uuid":        sess.ID().String(),
			"caller_id":   c.cfg.Local.ID,
			"caller_name": c.cfg.Local.Name,
			"callee_id":   sess.Peer().ID,
			"checksum":    sess.Checksum(),
		})
	case DirectionIncoming:
		ch.Emit(signaling.EventRingingCall, c.payload(sess))
		if sess.Status() == StatusAnswerPending {
			// The user answered before signaling was up.
			c.sendAnswer(sess, ch)
		}
	}
}

// resumeAfterReconnect rebuilds media and renegotiates after the
// signaling channel came back inside the reconnect grace.
func (c *Controller) resumeAfterReconnect(sess *Session, ch SignalChannel) {
	if err := c.cfg.Media.Reinitialize(); err != nil {
		slog.Error("[Controller] Media reinit failed after reconnect",
			"call_id", sess.ID(), "error", err)
		c.terminate(sess, ReasonFailed)
		return
	}
	// Restore the capture state the user chose before the drop.
	c.cfg.Media.SetMuted(sess.Muted() || sess.Held())

	ch.Emit(signaling.EventReconnect, c.payload(sess))
	if sess.Status() == StatusReconnecting {
		if err := sess.transitionTo(StatusConnected); err == nil {
			ch.AllowReconnect(true)
			c.publishStatus(sess)
		}
	}
	c.startNegotiation(sess, sess.Direction() == DirectionOutgoing)
}

// sendAnswer emits the answer and moves the session to Connected.
func (c *Controller) sendAnswer(sess *Session, ch SignalChannel) {
	ch.Emit(signaling.EventAnswerCall, map[string]any{
		"uuid":      sess.ID().String(),
		"callee_id": c.cfg.Local.ID,
		"token":     sess.Route().Token,
	})
	c.toConnected(sess)
}

// toConnected is idempotent: a session already Connected stays put.
func (c *Controller) toConnected(sess *Session) {
	if sess.Status() == StatusConnected {
		return
	}
	if err := sess.transitionTo(StatusConnected); err != nil {
		slog.Warn("[Controller] Ignoring connect in current state",
			"call_id", sess.ID(), "status", sess.Status().String())
		return
	}
	if c.channel != nil {
		// From here a transport drop is worth riding out.
		c.channel.AllowReconnect(true)
	}
	c.publishStatus(sess)
}

// onWireEvent runs on the loop for every inbound signaling event.
func (c *Controller) onWireEvent(sess *Session, msg signaling.Message) {
	if c.sess != sess {
		return
	}
	switch msg.Event {
	case signaling.EventInitOK:
		c.startNegotiation(sess, true)
	case signaling.EventAnswerOK:
		c.startNegotiation(sess, false)
	case signaling.EventRingingOK:
		slog.Debug("[Controller] Ringing acknowledged", "call_id", sess.ID())
	case signaling.EventRinging:
		if sess.Status() == StatusDialing {
			if err := sess.transitionTo(StatusRingingOut); err == nil {
				c.publishStatus(sess)
			}
		}
	case signaling.EventAccepted:
		// The far side answered; Connected arrives separately once the
		// server confirms the session.
		slog.Debug("[Controller] Remote accepted", "call_id", sess.ID())
	case signaling.EventConnected:
		c.toConnected(sess)
	case signaling.EventReconnecting:
		if sess.Status() == StatusConnected {
			if err := sess.transitionTo(StatusReconnecting); err == nil {
				c.publishStatus(sess)
			}
		}
	case signaling.EventSDPOffer:
		if sdp, ok := msg.SDP(); ok {
			c.applyRemote(sess, "offer", sdp)
		}
	case signaling.EventSDPAnswer:
		if sdp, ok := msg.SDP(); ok {
			c.applyRemote(sess, "answer", sdp)
		}
	case signaling.EventHangup:
		c.wireTerminal(sess, ReasonCompleted, true)
	case signaling.EventNoAnswer:
		c.wireTerminal(sess, ReasonTimeout, true)
	case signaling.EventRejected:
		c.wireTerminal(sess, ReasonRejected, false)
	case signaling.EventBusy:
		c.wireTerminal(sess, ReasonBusy, false)
	case signaling.EventMissedCall:
		c.cfg.Publisher.Publish(c.builder.Missed(sess.ID().String(), sess.Peer().Name))
		c.wireTerminal(sess, ReasonTimeout, false)
	default:
		slog.Debug("[Controller] Unhandled wire event",
			"call_id", sess.ID(), "event", string(msg.Event))
	}
}

// wireTerminal ends the session from a server-side terminal event.
// Duplicate terminal events are absorbed.
func (c *Controller) wireTerminal(sess *Session, reason EndReason, clearing bool) {
	if sess.Status().IsTerminal() {
		return
	}
	if clearing {
		c.terminate(sess, reason, signaling.EventClearingSession)
		return
	}
	c.terminate(sess, reason)
}

// startNegotiation creates a local offer off-loop and emits it.
func (c *Controller) startNegotiation(sess *Session, asCaller bool) {
	go func() {
		sdp, err := c.cfg.Media.CreateOffer(sess.Context())
		_ = c.post(func() { c.emitDescription(sess, "offer", sdp, err, asCaller) })
	}()
}

// applyRemote installs the remote description off-loop. A remote offer
// is answered with a local description carried on the offer event; the
// far side never sees a distinct answer event from us.
func (c *Controller) applyRemote(sess *Session, kind, sdp string) {
	go func() {
		if err := c.cfg.Media.SetRemoteDescription(sess.Context(), kind, sdp); err != nil {
			_ = c.post(func() { c.negotiationFailed(sess, err) })
			return
		}
		if kind != "offer" {
			return
		}
		answer, err := c.cfg.Media.CreateAnswer(sess.Context())
		_ = c.post(func() { c.emitDescription(sess, "answer", answer, err, false) })
	}()
}

// emitDescription runs on the loop once media produced a description.
func (c *Controller) emitDescription(sess *Session, kind, sdp string, err error, asCaller bool) {
	if c.sess != sess || sess.Status().IsTerminal() {
		return
	}
	if err != nil {
		c.negotiationFailed(sess, err)
		return
	}
	if c.channel == nil {
		return
	}
	c.channel.Emit(signaling.EventSDPOffer, map[string]any{
		"uuid": sess.ID().String(),
		"sdp": map[string]any{
			"type": kind,
			"sdp":  sdp,
		},
		"is_caller": asCaller,
	})
}

func (c *Controller) negotiationFailed(sess *Session, err error) {
	if c.sess != sess || sess.Status().IsTerminal() {
		return
	}
	slog.Error("[Controller] Negotiation failed",
		"call_id", sess.ID(), "error", err)
	c.terminate(sess, ReasonFailed)
}

// onLocalCandidate relays locally gathered candidates to the far side.
func (c *Controller) onLocalCandidate(cand ICECandidate) {
	_ = c.post(func() {
		if c.sess == nil || c.sess.Status().IsTerminal() || c.channel == nil {
			return
		}
		c.channel.Emit(signaling.EventICECandidate, map[string]any{
			"uuid":          c.sess.ID().String(),
			"candidate":     cand.Candidate,
			"sdpMid":        cand.SDPMid,
			"sdpMLineIndex": cand.SDPMLineIndex,
		})
	})
}

// onTransportState runs on the loop for channel transport changes.
func (c *Controller) onTransportState(sess *Session, st signaling.ConnState) {
	if c.sess != sess || sess.Status().IsTerminal() {
		return
	}
	if st == signaling.StateReconnecting && sess.Status() == StatusConnected {
		if err := sess.transitionTo(StatusReconnecting); err == nil {
			c.publishStatus(sess)
		}
	}
}

// onChannelClosed runs on the loop when the channel is finished for
// good. err is nil for a locally requested close.
func (c *Controller) onChannelClosed(sess *Session, err error) {
	if err == nil {
		return
	}
	if c.sess != sess || sess.Status().IsTerminal() {
		return
	}
	slog.Warn("[Controller] Signaling lost",
		"call_id", sess.ID(), "error", err)
	c.terminate(sess, ReasonFailed)
}

// onRingTimeout runs on the loop when an incoming call rang out.
func (c *Controller) onRingTimeout(id uuid.UUID) {
	sess := c.sess
	if sess == nil || sess.ID() != id || sess.Status() != StatusRingingIn {
		return
	}
	slog.Info("[Controller] Incoming call missed", "call_id", id)
	c.cfg.Publisher.Publish(c.builder.Missed(id.String(), sess.Peer().Name))
	c.terminate(sess, ReasonTimeout)
}

// HandleAction dispatches one telephony-layer user action. The action
// is always resolved, even when no call is active.
func (c *Controller) HandleAction(a *Action) {
	var err error
	switch a.Kind {
	case ActionAnswer:
		err = c.post(func() { c.onAnswer(a) })
	case ActionEnd:
		err = c.post(func() { c.onEnd(a) })
	case ActionMute:
		err = c.post(func() { c.onMute(a) })
	case ActionHold:
		err = c.post(func() { c.onHold(a) })
	default:
		a.Fail(fmt.Errorf("unknown action kind %d", int(a.Kind)))
		return
	}
	if err != nil {
		a.Fail(err)
	}
}

// onAnswer runs on the loop.
func (c *Controller) onAnswer(a *Action) {
	sess := c.sess
	if sess == nil || sess.Status().IsTerminal() || sess.Direction() != DirectionIncoming {
		a.Fail(ErrNoSession)
		return
	}
	if c.guard != nil {
		c.guard.cancel()
		c.guard = nil
	}
	if err := c.cfg.Media.EnsureMicrophone(); err != nil {
		a.Fail(err)
		c.terminate(sess, ReasonFailed, signaling.EventReject)
		return
	}

	if sess.Ready() {
		c.sendAnswer(sess, c.channel)
		a.Fulfill()
		return
	}
	// Signaling is still connecting; remember the answer and complete
	// it in onChannelReady. The OS layer is acknowledged now so its
	// call UI does not hang on the handshake.
	if err := sess.transitionTo(StatusAnswerPending); err != nil {
		a.Fail(err)
		return
	}
	c.publishStatus(sess)
	a.Fulfill()
}

// onEnd runs on the loop. The wire event and end reason depend on how
// far the call got.
func (c *Controller) onEnd(a *Action) {
	sess := c.sess
	if sess == nil || sess.Status().IsTerminal() {
		// Nothing to end; unblock the call UI regardless.
		a.Fulfill()
		return
	}
	switch sess.Status() {
	case StatusRingingIn, StatusAnswerPending:
		c.terminate(sess, ReasonRejected, signaling.EventReject)
	case StatusRequesting, StatusDialing, StatusRingingOut:
		c.cancelled.Mark(sess.ID())
		c.terminate(sess, ReasonCancelled, signaling.EventCancel)
	default:
		c.terminate(sess, ReasonCompleted, signaling.EventRequestHangup)
	}
	a.Fulfill()
}

// onMute runs on the loop.
func (c *Controller) onMute(a *Action) {
	sess := c.sess
	if sess == nil || sess.Status().IsTerminal() {
		a.Fail(ErrNoSession)
		return
	}
	if !c.cfg.Media.SetMuted(a.Muted || sess.Held()) {
		a.Fail(fmt.Errorf("mute not applied"))
		return
	}
	sess.setMuted(a.Muted)
	c.cfg.Publisher.Publish(c.builder.Muted(sess.ID().String(), a.Muted))
	a.Fulfill()
}

// onHold runs on the loop. Hold rides on capture mute; the user's own
// mute choice survives unhold.
func (c *Controller) onHold(a *Action) {
	sess := c.sess
	if sess == nil || sess.Status().IsTerminal() {
		a.Fail(ErrNoSession)
		return
	}
	if !c.cfg.Media.SetMuted(a.Held || sess.Muted()) {
		a.Fail(fmt.Errorf("hold not applied"))
		return
	}
	sess.setHeld(a.Held)
	c.cfg.Publisher.Publish(c.builder.Held(sess.ID().String(), a.Held))
	a.Fulfill()
}

// terminate runs on the loop. The first terminal transition wins; any
// later attempt is a no-op. emits are sent before the channel closes.
func (c *Controller) terminate(sess *Session, reason EndReason, emits ...signaling.Event) {
	if sess == nil || c.sess != sess {
		return
	}
	if !sess.end(reason) {
		return
	}
	if c.guard != nil {
		c.guard.cancel()
		c.guard = nil
	}
	if c.channel != nil {
		for _, ev := range emits {
			c.channel.Emit(ev, c.payload(sess))
		}
		c.channel.Close()
		c.channel = nil
	}
	c.cfg.Media.Teardown()
	c.cfg.Telephony.ReportEnded(sess.ID(), reason)
	c.publishStatus(sess)
	c.sess = nil
	slog.Info("[Controller] Call ended",
		"call_id", sess.ID(), "reason", reason.String())
}

// fireAndForget runs a one-shot signaling exchange on its own channel:
// connect, emit one event, close. Failures are logged and dropped.
func (c *Controller) fireAndForget(route RouteInfo, event signaling.Event, data map[string]any) {
	var ch SignalChannel
	ch = c.cfg.Channels(route.Server, route.Token, signaling.Hooks{
		OnReady: func(bool) {
			ch.Emit(event, data)
			ch.Close()
		},
	})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ExchangeTimeout)
		defer cancel()
		if err := ch.Connect(ctx); err != nil {
			slog.Warn("[Controller] One-shot exchange failed",
				"event", string(event), "error", err)
		}
	}()
}

func (c *Controller) payload(sess *Session) map[string]any {
	return map[string]any{
		"uuid":  sess.ID().String(),
		"token": sess.Route().Token,
	}
}

func (c *Controller) publishStatus(sess *Session) {
	info := sess.Info()
	sb := c.builder.Status(info.ID.String(), info.Direction.String(), info.Status.String()).
		Peer(info.Peer.Name, info.Peer.Avatar)
	if info.Status == StatusEnded {
		sb.Reason(info.Reason.String()).Display(info.Reason.DisplayText())
	}
	c.cfg.Publisher.Publish(sb.Build())
}

func (c *Controller) publishQuality(sess *Session, q signaling.Quality, rtt time.Duration) {
	c.cfg.Publisher.Publish(
		c.builder.Quality(sess.ID().String(), string(q)).RTT(rtt).Build())
}
