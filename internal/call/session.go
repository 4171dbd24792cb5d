package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is one voice call from creation to teardown. Status mutations
// happen only on the controller loop; accessors are safe from any
// goroutine.
type Session struct {
	mu sync.RWMutex

	id        uuid.UUID
	direction Direction
	peer      Peer
	route     RouteInfo
	checksum  string

	status    Status
	reason    EndReason
	changedAt time.Time
	createdAt time.Time

	signalingReady bool
	muted          bool
	held           bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(direction Direction, peer Peer) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	return &Session{
		id:        uuid.New(),
		direction: direction,
		peer:      peer,
		status:    StatusIdle,
		createdAt: now,
		changedAt: now,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (s *Session) ID() uuid.UUID        { return s.id }
func (s *Session) Direction() Direction { return s.direction }
func (s *Session) Peer() Peer           { return s.peer }
func (s *Session) Context() context.Context {
	return s.ctx
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Session) Reason() EndReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

func (s *Session) Route() RouteInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route
}

func (s *Session) setRoute(r RouteInfo) {
	s.mu.Lock()
	s.route = r
	s.mu.Unlock()
}

func (s *Session) Checksum() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checksum
}

func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.signalingReady
}

func (s *Session) setReady(ready bool) {
	s.mu.Lock()
	s.signalingReady = ready
	s.mu.Unlock()
}

func (s *Session) Muted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted
}

func (s *Session) setMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

func (s *Session) Held() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.held
}

func (s *Session) setHeld(held bool) {
	s.mu.Lock()
	s.held = held
	s.mu.Unlock()
}

// transitionTo moves the session to next, rejecting moves the lifecycle
// does not allow. Terminal states never transition again.
func (s *Session) transitionTo(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.CanTransitionTo(next) {
		return fmt.Errorf("invalid transition %s -> %s for call %s", s.status, next, s.id)
	}
	slog.Debug("[Session] Status change",
		"call_id", s.id, "from", s.status.String(), "to", next.String())
	s.status = next
	s.changedAt = time.Now()
	return nil
}

// end moves the session to Ended with the given reason and releases its
// context. The first terminal transition wins; later calls report false.
func (s *Session) end(reason EndReason) bool {
	s.mu.Lock()
	if s.status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	s.status = StatusEnded
	s.reason = reason
	s.changedAt = time.Now()
	s.mu.Unlock()
	s.cancel()
	return true
}

// Info is an immutable snapshot of a session.
type Info struct {
	ID        uuid.UUID
	Direction Direction
	Peer      Peer
	Status    Status
	Reason    EndReason
	Ready     bool
	Muted     bool
	Held      bool
	CreatedAt time.Time
}

func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		ID:        s.id,
		Direction: s.direction,
		Peer:      s.peer,
		Status:    s.status,
		Reason:    s.reason,
		Ready:     s.signalingReady,
		Muted:     s.muted,
		Held:      s.held,
		CreatedAt: s.createdAt,
	}
}
