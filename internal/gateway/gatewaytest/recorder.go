// Package gatewaytest provides an in-memory reminder gateway for tests.
package gatewaytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"pawremind/internal/reminder"
)

// Call is one recorded gateway invocation.
type Call struct {
	Op     string // "schedule" or "cancel"
	ID     string
	FireAt time.Time
}

type pending struct {
	FireAt  time.Time
	Content reminder.Content
}

// Recorder implements reminder.Gateway. It records calls in order and keeps
// the set of pending reminders. Cancel of an unknown id succeeds.
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	pending map[string]pending

	// ScheduleErr, when set, is returned by every Schedule call.
	ScheduleErr error
	// CancelErr, when set, is returned by every Cancel call.
	CancelErr error
	// Clock, when set, makes Schedule reject fire times not after Clock()
	// the way the real gateway does.
	Clock func() time.Time
}

func New() *Recorder { return &Recorder{pending: map[string]pending{}} }

func (r *Recorder) Schedule(_ context.Context, id string, fireAt time.Time, c reminder.Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "schedule", ID: id, FireAt: fireAt})
	if r.ScheduleErr != nil {
		return r.ScheduleErr
	}
	if r.Clock != nil && !fireAt.After(r.Clock()) {
		return reminder.ErrFireTimePassed
	}
	if r.pending == nil {
		r.pending = map[string]pending{}
	}
	r.pending[id] = pending{FireAt: fireAt, Content: c}
	return nil
}

func (r *Recorder) Cancel(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Op: "cancel", ID: id})
	if r.CancelErr != nil {
		return r.CancelErr
	}
	delete(r.pending, id)
	return nil
}

// SetErrors swaps the injected failures.
func (r *Recorder) SetErrors(schedule, cancel error) {
	r.mu.Lock()
	r.ScheduleErr, r.CancelErr = schedule, cancel
	r.mu.Unlock()
}

// Calls returns the recorded calls and clears the log.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.calls
	r.calls = nil
	return out
}

// Pending returns the ids currently scheduled, sorted.
func (r *Recorder) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pending))
	for id := range r.pending {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// FireAt returns the fire time of a pending id.
func (r *Recorder) FireAt(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	return p.FireAt, ok
}
