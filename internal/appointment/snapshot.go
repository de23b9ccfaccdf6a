package appointment

import (
	"sort"
	"time"
)

// Snapshot is the full current set of appointments for one participant,
// as delivered by a source on every change.
type Snapshot struct {
	Participant  string
	Role         Role
	Appointments []Appointment
	At           time.Time
}

// Accepted returns the accepted appointments that belong to the participant.
// An empty Participant matches every appointment.
func (s Snapshot) Accepted() []Appointment {
	out := make([]Appointment, 0, len(s.Appointments))
	for _, a := range s.Appointments {
		if a.Status != StatusAccepted {
			continue
		}
		if s.Participant != "" && !s.Role.Matches(a, s.Participant) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// Upcoming returns appointments whose instant falls in [now, now+window],
// ordered by instant then ID. Malformed appointments are skipped.
func Upcoming(appts []Appointment, now time.Time, window time.Duration, loc *time.Location) []Appointment {
	type item struct {
		a  Appointment
		at time.Time
	}
	end := now.Add(window)
	items := make([]item, 0, len(appts))
	for _, a := range appts {
		at, err := a.Instant(loc)
		if err != nil || at.Before(now) || at.After(end) {
			continue
		}
		items = append(items, item{a: a, at: at})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].at.Equal(items[j].at) {
			return items[i].at.Before(items[j].at)
		}
		return items[i].a.ID < items[j].a.ID
	})
	out := make([]Appointment, len(items))
	for i, it := range items {
		out[i] = it.a
	}
	return out
}
