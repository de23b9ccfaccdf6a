// Package appointment holds the vet appointment record as delivered by a
// data source, its status lifecycle and date/time parsing.
package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

var (
	ErrInvalidDate = errors.New("invalid appointment date")
	ErrInvalidTime = errors.New("invalid appointment time")
)

// Appointment is one booking between an owner (From) and a vet (To).
// Records are soft-deleted through Status, never removed.
type Appointment struct {
	ID     string `json:"id" yaml:"id"`
	From   string `json:"from" yaml:"from"`
	To     string `json:"to" yaml:"to"`
	Date   string `json:"date" yaml:"date"` // YYYY-MM-DD
	Time   string `json:"time" yaml:"time"` // HH:MM, 24-hour
	Pet    string `json:"pet" yaml:"pet"`
	Status Status `json:"status" yaml:"status"`
}

// Instant combines Date and Time into one instant in loc (time.Local when nil).
func (a Appointment) Instant(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d := strings.TrimSpace(a.Date)
	if d == "" {
		return time.Time{}, fmt.Errorf("%w: missing", ErrInvalidDate)
	}
	day, err := time.ParseInLocation(DateLayout, d, loc)
	if err != nil || len(d) != len(DateLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, a.Date)
	}

	tm := strings.TrimSpace(a.Time)
	if tm == "" {
		return time.Time{}, fmt.Errorf("%w: missing", ErrInvalidTime)
	}
	clock, err := time.Parse(TimeLayout, tm)
	if err != nil || len(tm) != len(TimeLayout) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTime, a.Time)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Role selects which side of an appointment a participant is on.
type Role string

const (
	RoleOwner Role = "owner"
	RoleVet   Role = "vet"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleOwner, "":
		return RoleOwner, nil
	case RoleVet, "doctor":
		return RoleVet, nil
	default:
		return "", fmt.Errorf("unknown role %q (want owner|vet)", s)
	}
}

// Matches reports whether participant is on this role's side of a.
func (r Role) Matches(a Appointment, participant string) bool {
	if r == RoleVet {
		return a.To == participant
	}
	return a.From == participant
}
