package reminder

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Offset is a named duration before an appointment at which a reminder fires.
type Offset struct {
	Label  string
	Before time.Duration
}

// DefaultOffsets returns the stock reminder set: a day ahead and a short
// lead just before the appointment.
func DefaultOffsets() []Offset {
	return []Offset{
		{Label: "24hours", Before: 24 * time.Hour},
		{Label: "5min", Before: 5 * time.Minute},
	}
}

// ValidateOffsets checks that labels are non-empty, unique and free of '-'
// (so {appointmentID}-{label} identifiers stay unambiguous), and that every
// duration is positive.
func ValidateOffsets(offsets []Offset) error {
	if len(offsets) == 0 {
		return errors.New("at least one offset is required")
	}
	seen := make(map[string]struct{}, len(offsets))
	for i, o := range offsets {
		label := strings.TrimSpace(o.Label)
		switch {
		case label == "":
			return fmt.Errorf("offsets[%d]: label is required", i)
		case label != o.Label:
			return fmt.Errorf("offsets[%d]: label %q has surrounding whitespace", i, o.Label)
		case strings.Contains(label, "-"):
			return fmt.Errorf("offsets[%d]: label %q must not contain '-'", i, label)
		case o.Before <= 0:
			return fmt.Errorf("offsets[%d] (%s): duration must be > 0", i, label)
		}
		if _, dup := seen[label]; dup {
			return fmt.Errorf("offsets[%d]: duplicate label %q", i, label)
		}
		seen[label] = struct{}{}
	}
	return nil
}

// Labels returns the labels of offsets, in order.
func Labels(offsets []Offset) []string {
	out := make([]string, 0, len(offsets))
	for _, o := range offsets {
		out = append(out, o.Label)
	}
	return out
}
