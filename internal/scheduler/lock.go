package scheduler

import (
	"fmt"

	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/metrics"
)

// ConcurrencyRecoveryError records that the state lock was taken over after a
// panic while it was held. The in-memory state is kept as it was.
type ConcurrencyRecoveryError struct {
	Cause any
}

func (e ConcurrencyRecoveryError) Error() string {
	return fmt.Sprintf("state lock recovered after panic: %v", e.Cause)
}

// withLock runs fn with the state lock held. A panic in fn poisons the lock,
// releases it and propagates. Events pushed by fn are exported once the lock
// is released.
func (s *Service) withLock(fn func() error) error {
	s.mu.Lock()
	if s.poisoned != nil {
		rec := ConcurrencyRecoveryError{Cause: s.poisoned}
		s.poisoned = nil
		s.log.Error("recovered scheduler state lock", "error", rec)
		metrics.IncLockRecovery()
		s.pushLocked("", history.EventLockRecovered, history.ResultError, rec.Error())
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.poisoned = r
				s.outbox = nil
				s.mu.Unlock()
				panic(r)
			}
		}()
		err = fn()
	}()

	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, e := range out {
		s.exporter.Publish(e)
	}
	return err
}

// pushLocked appends an event to the history. The caller holds the lock.
func (s *Service) pushLocked(scheduleID string, typ history.EventType, result history.Result, reason string) {
	e := s.st.PushEvent(s.now(), scheduleID, typ, result, reason)
	s.outbox = append(s.outbox, e)
}
