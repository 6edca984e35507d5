package predictor

import (
	"sync/atomic"
	"time"
)

// Snapshot is one complete, internally consistent set of ensemble members.
// It is the unit of atomic publish from the trainer to the planner: a reader
// sees either the whole old snapshot or the whole new one, never a mix.
type Snapshot struct {
	Version   int
	CreatedAt time.Time
	Members   []Member
}

// Handle is the single mutable resource shared by the control loop and the
// training loop. Readers Load; the trainer Publishes complete snapshots.
type Handle struct {
	p atomic.Pointer[Snapshot]
}

func NewHandle(initial *Snapshot) *Handle {
	h := &Handle{}
	if initial != nil {
		h.p.Store(initial)
	}
	return h
}

func (h *Handle) Load() *Snapshot {
	return h.p.Load()
}

func (h *Handle) Publish(s *Snapshot) {
	h.p.Store(s)
}
