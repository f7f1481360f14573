package schedule

import (
	"errors"
	"fmt"
)

var (
	// ErrCommitted is returned for any mutation attempted after the shutdown
	// commit point.
	ErrCommitted = errors.New("shutdown has already started and can no longer be changed")
	// ErrNoActive is returned when an operation needs an active schedule.
	ErrNoActive = errors.New("no active schedule")
)

// ValidationError reports malformed input. It is returned before any state
// is touched.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Msg
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SelectorIntegrityError means a stored selector no longer validates at
// tick time. The schedule is cancelled rather than assumed finished.
type SelectorIntegrityError struct {
	ScheduleID string
	Err        error
}

func (e *SelectorIntegrityError) Error() string {
	return fmt.Sprintf("NO_FAIL_OPEN_PROCESS_EXIT: process-exit selector invalid (%v); cancelled for safety", e.Err)
}

func (e *SelectorIntegrityError) Unwrap() error { return e.Err }
