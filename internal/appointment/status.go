package appointment

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
	StatusDeleted  Status = "deleted"
)

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusPending, StatusAccepted, StatusRejected, StatusDeleted:
		return st, nil
	default:
		return "", fmt.Errorf("unknown appointment status %q", s)
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool { return s == StatusRejected || s == StatusDeleted }

var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusDeleted},
	StatusAccepted: {StatusRejected, StatusDeleted},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
// Re-applying the current status is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
