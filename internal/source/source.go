// Package source defines how appointment snapshots reach the reconciler.
//
// A Source pushes the full current appointment set on every change, never a
// delta. Re-reads that produce the same content are suppressed.
package source

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"sync"

	"pawremind/internal/appointment"
)

// Event is either a new snapshot or a read failure.
type Event struct {
	Source   string
	Snapshot appointment.Snapshot
	Err      error
}

type Source interface {
	Name() string
	// Run emits events to out until ctx is done. It does not close out.
	Run(ctx context.Context, out chan<- Event) error
}

// Filtered is implemented by sources that select rows per participant
// upstream. SetFilter makes the next snapshot reflect the new participant.
type Filtered interface {
	SetFilter(participant string, role appointment.Role)
}

// Hash returns a content hash of appts that ignores their order.
func Hash(appts []appointment.Appointment) uint64 {
	cp := append([]appointment.Appointment(nil), appts...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ID < cp[j].ID })
	b, err := json.Marshal(cp)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Tracker remembers the last emitted content.
type Tracker struct {
	mu   sync.Mutex
	last uint64
	seen bool
}

// Changed reports whether appts differ from the last call and records them.
func (t *Tracker) Changed(appts []appointment.Appointment) bool {
	h := Hash(appts)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.seen && h == t.last {
		return false
	}
	t.last, t.seen = h, true
	return true
}

// Reset makes the next Changed call report true. Sources call it after a
// failure so recovery is always announced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.seen = false
	t.mu.Unlock()
}

// Send delivers ev unless ctx is done first.
func Send(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
