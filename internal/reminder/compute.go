package reminder

import (
	"errors"
	"sort"
	"time"

	"pawremind/internal/appointment"
)

// Trigger is one reminder to be scheduled.
type Trigger struct {
	ID            string
	AppointmentID string
	Label         string
	FireAt        time.Time
	Content       Content
}

// Identifier is the idempotency key of a reminder.
func Identifier(appointmentID, label string) string {
	return appointmentID + "-" + label
}

// Compute returns the triggers of a whose fire time is strictly after now,
// in offset order. A malformed date or time yields an *InputError.
func Compute(a appointment.Appointment, now time.Time, offsets []Offset, loc *time.Location) ([]Trigger, error) {
	at, err := a.Instant(loc)
	if err != nil {
		return nil, &InputError{AppointmentID: a.ID, Err: err}
	}
	content := ContentFor(a)
	out := make([]Trigger, 0, len(offsets))
	for _, o := range offsets {
		fireAt := at.Add(-o.Before)
		if !fireAt.After(now) {
			continue
		}
		out = append(out, Trigger{
			ID:            Identifier(a.ID, o.Label),
			AppointmentID: a.ID,
			Label:         o.Label,
			FireAt:        fireAt,
			Content:       content,
		})
	}
	return out, nil
}

// Calculator binds the offsets and timezone used to compute triggers.
type Calculator struct {
	Offsets  []Offset
	Location *time.Location
}

func NewCalculator(offsets []Offset, loc *time.Location) (Calculator, error) {
	if len(offsets) == 0 {
		offsets = DefaultOffsets()
	}
	if err := ValidateOffsets(offsets); err != nil {
		return Calculator{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	return Calculator{Offsets: append([]Offset(nil), offsets...), Location: loc}, nil
}

// Plan is the desired schedule for one snapshot.
type Plan struct {
	Triggers []Trigger
	// Skipped holds one error per appointment that could not be computed.
	Skipped []error
}

// Plan computes the triggers of every accepted appointment in appts.
// Invalid appointments are collected in Skipped and never fail the batch.
func (c Calculator) Plan(appts []appointment.Appointment, now time.Time) Plan {
	sorted := append([]appointment.Appointment(nil), appts...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var p Plan
	seen := make(map[string]struct{}, len(sorted))
	for _, a := range sorted {
		if a.Status != appointment.StatusAccepted {
			continue
		}
		if a.ID == "" {
			p.Skipped = append(p.Skipped, &InputError{Err: errors.New("missing appointment id")})
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		ts, err := Compute(a, now, c.Offsets, c.Location)
		if err != nil {
			p.Skipped = append(p.Skipped, err)
			continue
		}
		p.Triggers = append(p.Triggers, ts...)
	}
	return p
}
