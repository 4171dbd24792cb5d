package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ringGuard bounds how long an incoming call may ring before it is
// treated as missed. One guard per incoming session; firing and
// cancellation race safely and the expiry callback runs at most once.
type ringGuard struct {
	mu    sync.Mutex
	timer *time.Timer
	done  bool
}

// newRingGuard arms a guard for the given session. onExpire receives
// the session id so a late firing can be matched against the current
// session before acting.
func newRingGuard(id uuid.UUID, timeout time.Duration, onExpire func(uuid.UUID)) *ringGuard {
	g := &ringGuard{}
	g.timer = time.AfterFunc(timeout, func() {
		g.mu.Lock()
		fired := !g.done
		g.done = true
		g.mu.Unlock()
		if fired {
			onExpire(id)
		}
	})
	return g
}

// cancel disarms the guard. Safe to call multiple times and after expiry.
func (g *ringGuard) cancel() {
	g.mu.Lock()
	g.done = true
	if g.timer != nil {
		g.timer.Stop()
	}
	g.mu.Unlock()
}
