package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/cicareteam/callcore/internal/store"
)

// cancelWindow covers the race where the user ends an outgoing call
// while its setup request is still in flight. Marks older than the
// window are irrelevant because the setup path has long completed.
const cancelWindow = 2 * time.Second

// CancelTracker remembers recently cancelled call ids so that late
// setup completions can be absorbed instead of resurrecting the call.
type CancelTracker struct {
	marks *store.Expiring[uuid.UUID, time.Time]
}

func NewCancelTracker() *CancelTracker {
	return &CancelTracker{
		marks: store.NewExpiring[uuid.UUID, time.Time](time.Second),
	}
}

// Mark records that the call was cancelled locally.
func (t *CancelTracker) Mark(id uuid.UUID) {
	t.marks.Put(id, time.Now(), cancelWindow)
}

// IsCancelled reports whether the call was cancelled within the window.
func (t *CancelTracker) IsCancelled(id uuid.UUID) bool {
	return t.marks.Has(id)
}

func (t *CancelTracker) Close() {
	t.marks.Close()
}
