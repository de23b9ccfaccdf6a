package reminder

import (
	"sort"
	"time"

	"pawremind/internal/storage"
)

// Change is the work needed to bring one appointment in line: cancel every
// identifier in Cancel, then schedule every trigger in Schedule.
type Change struct {
	AppointmentID string
	Cancel        []string
	Schedule      []Trigger
}

type slot struct {
	fireAt time.Time
	digest string
}

// Diff compares the desired triggers with the applied ledger, per
// appointment. Unchanged appointments produce nothing unless force is set.
// knownLabels are the offset labels whose identifiers are always cancelled
// before a reschedule. The result is ordered by appointment ID.
func Diff(desired []Trigger, applied []storage.ScheduledEntry, knownLabels []string, force bool) []Change {
	want := map[string][]Trigger{}
	for _, t := range desired {
		want[t.AppointmentID] = append(want[t.AppointmentID], t)
	}
	have := map[string][]storage.ScheduledEntry{}
	for _, e := range applied {
		have[e.AppointmentID] = append(have[e.AppointmentID], e)
	}

	ids := make([]string, 0, len(want)+len(have))
	for id := range want {
		ids = append(ids, id)
	}
	for id := range have {
		if _, ok := want[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var out []Change
	for _, apptID := range ids {
		ts, hs := want[apptID], have[apptID]
		if !force && sameSchedule(ts, hs) {
			continue
		}
		out = append(out, Change{
			AppointmentID: apptID,
			Cancel:        cancelSet(apptID, knownLabels, hs),
			Schedule:      ts,
		})
	}
	return out
}

func sameSchedule(ts []Trigger, hs []storage.ScheduledEntry) bool {
	if len(ts) != len(hs) {
		return false
	}
	m := make(map[string]slot, len(hs))
	for _, e := range hs {
		m[e.ID] = slot{fireAt: e.FireAt, digest: e.Digest}
	}
	for _, t := range ts {
		s, ok := m[t.ID]
		if !ok || !s.fireAt.Equal(t.FireAt) || s.digest != t.Content.Digest() {
			return false
		}
	}
	return true
}

func cancelSet(apptID string, labels []string, hs []storage.ScheduledEntry) []string {
	set := make(map[string]struct{}, len(labels)+len(hs))
	for _, l := range labels {
		set[Identifier(apptID, l)] = struct{}{}
	}
	for _, e := range hs {
		set[e.ID] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
