package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the transport-level connection state, independent of any
// call semantics layered on top.
type ConnState int

const (
	// StateDisconnected is the initial and final state.
	StateDisconnected ConnState = iota
	// StateConnecting is set while the first dial is in flight.
	StateConnecting
	// StateConnected is set once the websocket handshake completed.
	StateConnected
	// StateReconnecting is set while automatic reconnection is running.
	StateReconnecting
)

// String returns the string representation of the state.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateReconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Quality is the coarse signal-quality classification published to
// observers. It never drives state transitions.
type Quality string

const (
	QualityNominal Quality = "nominal"
	QualityWeak    Quality = "weak"
)

// Config holds channel tuning. Zero values take the defaults below.
type Config struct {
	// ReconnectWait is the delay before the first reconnect attempt.
	ReconnectWait time.Duration
	// ReconnectWaitMax caps the backoff growth.
	ReconnectWaitMax time.Duration
	// MaxAttempts is the automatic reconnect ceiling.
	MaxAttempts int
	// AckTimeout bounds how long an emitted frame may stay unacknowledged
	// before it is surfaced as a quality signal.
	AckTimeout time.Duration
	// PingInterval is the latency probe cadence while connected.
	PingInterval time.Duration
	// WeakRTT is the ping round-trip above which quality is weak.
	WeakRTT time.Duration
	// SlowHandshake is the dial duration above which the initial connect
	// itself is reported as weak.
	SlowHandshake time.Duration
}

// DefaultConfig returns the production tuning.
func DefaultConfig() Config {
	return Config{
		ReconnectWait:    2 * time.Second,
		ReconnectWaitMax: 5 * time.Second,
		MaxAttempts:      8,
		AckTimeout:       3 * time.Second,
		PingInterval:     5 * time.Second,
		WeakRTT:          300 * time.Millisecond,
		SlowHandshake:    1500 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.ReconnectWait == 0 {
		c.ReconnectWait = d.ReconnectWait
	}
	if c.ReconnectWaitMax == 0 {
		c.ReconnectWaitMax = d.ReconnectWaitMax
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = d.AckTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = d.PingInterval
	}
	if c.WeakRTT == 0 {
		c.WeakRTT = d.WeakRTT
	}
	if c.SlowHandshake == 0 {
		c.SlowHandshake = d.SlowHandshake
	}
}

// Hooks are the channel's upward-facing callbacks. All of them are
// invoked from channel goroutines; handlers must not block. Events for
// one channel are delivered in receipt order because a single read loop
// dispatches them.
type Hooks struct {
	// OnReady fires when the handshake completes. resumed is true when
	// the channel came back after a mid-call transport drop.
	OnReady func(resumed bool)
	// OnEvent delivers one inbound wire event.
	OnEvent func(msg Message)
	// OnStateChange reports transport state transitions.
	OnStateChange func(state ConnState)
	// OnQuality reports latency classifications. rtt is zero for
	// non-ping signals such as missed acks.
	OnQuality func(q Quality, rtt time.Duration)
	// OnClosed fires exactly once when the channel stops for good:
	// err is nil after a local Close, a *ChannelError otherwise.
	OnClosed func(err error)
}

// Channel owns one websocket connection to the coordination server and
// hides its reconnect policy from the caller. One Channel serves one
// call session and is not reusable after Close.
type Channel struct {
	cfg    Config
	hooks  Hooks
	dialer *websocket.Dialer

	wsURL string
	token string

	mu       sync.Mutex
	state    ConnState
	conn     *websocket.Conn
	outbox   []Message // frames queued while not connected, FIFO
	closed   bool
	finished bool // OnClosed already delivered
	grace    bool // reconnect allowed after a drop
	gen      int  // connection generation, guards stale read loops

	nextAck uint64
	acks    map[uint64]*time.Timer

	pingSent time.Time // zero when no probe outstanding
	pingStop chan struct{}
}

// NewChannel creates a channel for the given server address and token.
// Nothing happens on the network until Connect.
func NewChannel(serverURL, token string, cfg Config, hooks Hooks) *Channel {
	cfg.applyDefaults()
	return &Channel{
		cfg:    cfg,
		hooks:  hooks,
		dialer: websocket.DefaultDialer,
		wsURL:  toWebsocketURL(serverURL),
		token:  token,
		acks:   make(map[uint64]*time.Timer),
	}
}

// toWebsocketURL rewrites http(s) schemes to ws(s), leaving ws URLs as is.
func toWebsocketURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	return u.String()
}

// State returns the current transport state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AllowReconnect enables (or disables) the mid-call reconnect grace
// period. The controller turns it on once the call is established;
// before that, a transport drop is fatal for the attempt.
func (c *Channel) AllowReconnect(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grace = enabled
}

// Connect dials the server and completes the handshake. The token rides
// in the query string. On success the pending outbox is flushed in FIFO
// order and the read and ping loops start.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	started := time.Now()
	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(StateDisconnected)
		c.mu.Unlock()
		return &ChannelError{Kind: classify(err), Cause: err}
	}
	elapsed := time.Since(started)

	c.attach(conn, false)

	if elapsed > c.cfg.SlowHandshake {
		c.quality(QualityWeak, elapsed)
	} else {
		c.quality(QualityNominal, elapsed)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs a fresh connection, flushes the outbox, and starts
// the per-connection goroutines. resumed marks a post-drop reconnect.
func (c *Channel) attach(conn *websocket.Conn, resumed bool) {
	c.mu.Lock()
	c.conn = conn
	c.gen++
	gen := c.gen

	// Queued frames go out first, in the order they were emitted.
	// Emit serializes on the same mutex, so nothing can jump the queue
	// during the flush.
	for _, msg := range c.outbox {
		if err := conn.WriteJSON(msg); err != nil {
			slog.Warn("[Channel] Outbox flush failed", "event", msg.Event, "error", err)
			break
		}
	}
	c.outbox = nil

	c.setStateLocked(StateConnected)
	stop := make(chan struct{})
	c.pingStop = stop
	c.mu.Unlock()

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, stop)

	if c.hooks.OnReady != nil {
		c.hooks.OnReady(resumed)
	}
}

// Emit sends an event, queueing it when not connected. Every frame gets
// an ack id; a missing acknowledgement after AckTimeout is reported as a
// weak-quality signal, never as a state change.
func (c *Channel) Emit(event Event, data map[string]any) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.nextAck++
	msg := Message{Event: event, Data: data, Ack: c.nextAck}
	c.armAckLocked(msg.Ack, event)

	if c.state == StateConnected && c.conn != nil {
		conn := c.conn
		err := conn.WriteJSON(msg)
		c.mu.Unlock()
		if err != nil {
			slog.Warn("[Channel] Write failed", "event", event, "error", err)
		}
		return
	}
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()
	slog.Debug("[Channel] Queued while disconnected", "event", event)
}

// armAckLocked starts the ack watchdog for one frame. Caller holds mu.
func (c *Channel) armAckLocked(id uint64, event Event) {
	c.acks[id] = time.AfterFunc(c.cfg.AckTimeout, func() {
		c.mu.Lock()
		_, pending := c.acks[id]
		delete(c.acks, id)
		c.mu.Unlock()
		if pending {
			slog.Warn("[Channel] Ack timeout", "event", event, "ack", id)
			c.quality(QualityWeak, 0)
		}
	})
}

func (c *Channel) resolveAck(id uint64) {
	c.mu.Lock()
	t, ok := c.acks[id]
	delete(c.acks, id)
	c.mu.Unlock()
	if ok {
		t.Stop()
	}
}

func (c *Channel) readLoop(conn *websocket.Conn, gen int) {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDisconnect(gen, err)
			return
		}
		switch msg.Event {
		case EventAck:
			c.resolveAck(msg.Ack)
		case EventPong:
			c.handlePong()
		default:
			if c.hooks.OnEvent != nil {
				c.hooks.OnEvent(msg)
			}
		}
	}
}

func (c *Channel) pingLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sendPing(conn)
		case <-stop:
			return
		}
	}
}

func (c *Channel) sendPing(conn *websocket.Conn) {
	c.mu.Lock()
	if !c.pingSent.IsZero() {
		// Previous probe never came back within a whole interval.
		c.pingSent = time.Time{}
		c.mu.Unlock()
		c.quality(QualityWeak, c.cfg.PingInterval)
		return
	}
	c.pingSent = time.Now()
	err := conn.WriteJSON(Message{Event: EventPing})
	c.mu.Unlock()
	if err != nil {
		slog.Debug("[Channel] Ping write failed", "error", err)
	}
}

func (c *Channel) handlePong() {
	c.mu.Lock()
	sent := c.pingSent
	c.pingSent = time.Time{}
	c.mu.Unlock()
	if sent.IsZero() {
		return
	}
	rtt := time.Since(sent)
	if rtt > c.cfg.WeakRTT {
		c.quality(QualityWeak, rtt)
	} else {
		c.quality(QualityNominal, rtt)
	}
}

// handleDisconnect decides what a broken read means: local close is
// silent, a server refusal is final, and anything else either fails the
// attempt or enters the reconnect grace period.
func (c *Channel) handleDisconnect(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		// Superseded by Close or by a newer connection.
		c.mu.Unlock()
		return
	}
	c.stopConnLocked()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	kind := classify(err)
	graceful := c.grace && kind != KindServerRejected
	if !graceful {
		c.mu.Unlock()
		slog.Info("[Channel] Disconnected", "kind", kind, "error", err)
		c.finish(&ChannelError{Kind: kind, Cause: err})
		return
	}
	c.setStateLocked(StateReconnecting)
	c.mu.Unlock()

	slog.Info("[Channel] Transport dropped, reconnecting", "error", err)
	go c.reconnectLoop(gen)
}

// reconnectLoop retries the dial with bounded backoff until it succeeds,
// hits the attempt ceiling, or is preempted by Close.
func (c *Channel) reconnectLoop(gen int) {
	wait := c.cfg.ReconnectWait
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		time.Sleep(wait)

		c.mu.Lock()
		if c.closed || gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ReconnectWaitMax)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			slog.Info("[Channel] Reconnected", "attempt", attempt)
			c.attach(conn, true)
			return
		}
		kind := classify(err)
		slog.Warn("[Channel] Reconnect attempt failed",
			"attempt", attempt, "max", c.cfg.MaxAttempts, "kind", kind, "error", err)
		if kind == KindServerRejected {
			c.finish(&ChannelError{Kind: KindServerRejected, Cause: err})
			return
		}

		wait *= 2
		if wait > c.cfg.ReconnectWaitMax {
			wait = c.cfg.ReconnectWaitMax
		}
	}
	c.finish(&ChannelError{Kind: KindExhausted, Cause: nil})
}

// Close tears the channel down locally. Idempotent; OnClosed fires with
// a nil error.
func (c *Channel) Close() {
	c.finish(nil)
}

// finish delivers the terminal callback exactly once and releases the
// connection and all pending ack timers.
func (c *Channel) finish(err error) {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return
	}
	c.finished = true
	c.closed = true
	c.gen++ // orphan any live read loop
	c.stopConnLocked()
	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.conn.Close()
		c.conn = nil
	}
	for id, t := range c.acks {
		t.Stop()
		delete(c.acks, id)
	}
	c.outbox = nil
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if c.hooks.OnClosed != nil {
		c.hooks.OnClosed(err)
	}
}

// stopConnLocked halts the ping loop for the current connection.
// Caller holds mu.
func (c *Channel) stopConnLocked() {
	if c.pingStop != nil {
		close(c.pingStop)
		c.pingStop = nil
	}
	c.pingSent = time.Time{}
}

func (c *Channel) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	if c.hooks.OnStateChange != nil {
		// Fire outside the lock to keep handlers reentrant-safe.
		go c.hooks.OnStateChange(s)
	}
}

func (c *Channel) quality(q Quality, rtt time.Duration) {
	if c.hooks.OnQuality != nil {
		c.hooks.OnQuality(q, rtt)
	}
}
