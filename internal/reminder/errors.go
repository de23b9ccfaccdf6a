package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidScheduleInput marks an appointment whose date or time cannot
	// be parsed. The appointment is skipped; the batch continues.
	ErrInvalidScheduleInput = errors.New("invalid schedule input")
	// ErrSchedulingUnavailable marks a gateway failure (permission denied,
	// scheduler disabled, API error). It is surfaced once and not retried.
	ErrSchedulingUnavailable = errors.New("scheduling unavailable")
	// ErrFireTimePassed is returned by a gateway for a fire time that is no
	// longer in the future. The trigger is dropped like any past offset.
	ErrFireTimePassed = errors.New("fire time passed")
	// ErrDataSource marks an upstream query failure. The ledger is kept.
	ErrDataSource = errors.New("appointment source failed")
)

// InputError reports why one appointment could not be computed.
type InputError struct {
	AppointmentID string
	Err           error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("appointment %q: %v", e.AppointmentID, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func (e *InputError) Is(target error) bool { return target == ErrInvalidScheduleInput }

// DataSourceError wraps a failure reported by an appointment source.
type DataSourceError struct {
	Source string
	Err    error
}

func (e *DataSourceError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%v: %v", ErrDataSource, e.Err)
	}
	return fmt.Sprintf("%v (%s): %v", ErrDataSource, e.Source, e.Err)
}

func (e *DataSourceError) Unwrap() error { return e.Err }

func (e *DataSourceError) Is(target error) bool { return target == ErrDataSource }

// Unavailable wraps err as ErrSchedulingUnavailable unless it already is one.
func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrSchedulingUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSchedulingUnavailable, err)
}
