package schedule

import (
	"fmt"
	"time"
)

// ValidatePostponeMinutes checks the snooze length.
func ValidatePostponeMinutes(minutes int) error {
	if minutes < 1 || minutes > MaxPostponeMinutes {
		return &ValidationError{Field: "minutes", Msg: fmt.Sprintf("must be within 1..%d", MaxPostponeMinutes)}
	}
	return nil
}

// Postpone delays s by minutes. A processExit schedule keeps watching its
// target but cannot enter the final warning before the snooze ends. A
// time-based schedule becomes a countdown that fires minutes from now.
func Postpone(s *Schedule, minutes int, now time.Time) error {
	if err := ValidatePostponeMinutes(minutes); err != nil {
		return err
	}
	if s == nil {
		return ErrNoActive
	}
	if s.Committed() {
		return ErrCommitted
	}
	until := now.Add(time.Duration(minutes) * time.Minute)

	s.Status = StatusArmed
	s.FinalWarningStartedAt = nil
	s.MissingSince = nil
	s.ShutdownInitiatedAt = nil
	if s.Mode == ModeProcessExit {
		s.SnoozeUntil = timePtr(until)
	} else {
		s.Mode = ModeCountdown
		s.Summary = fmt.Sprintf("Snoozed for %d minutes", minutes)
		s.TriggerAt = timePtr(until)
		s.TargetLocalTime = ""
		s.RecordedUTCOffsetMinutes = nil
		s.FiredAlerts = []int{}
		s.ProcessSelector = nil
		s.TrackedPIDs = []int{}
		s.SnoozeUntil = nil
		s.MatchDegradedLogged = false
	}
	SyncShutdownAt(s)
	return nil
}

// TryCommit marks s as shutting down. It succeeds only once, and only from
// the final warning stage.
func TryCommit(s *Schedule, now time.Time) bool {
	if s == nil || s.Committed() || s.Status != StatusFinalWarning {
		return false
	}
	s.Status = StatusShuttingDown
	s.ShutdownInitiatedAt = timePtr(now)
	if s.FinalWarningStartedAt == nil {
		s.FinalWarningStartedAt = timePtr(now)
	}
	SyncShutdownAt(s)
	return true
}

// SetFinalWarningDuration applies a new final warning length to an
// uncommitted schedule and reports whether anything changed.
func SetFinalWarningDuration(s *Schedule, sec int) bool {
	if s == nil || s.Committed() || s.FinalWarningDurationSec == sec {
		return false
	}
	s.FinalWarningDurationSec = sec
	SyncShutdownAt(s)
	return true
}

// SanitizeForPersist returns the on-disk form of s: the transient
// shutting-down status becomes the final warning, the commit stamp is
// dropped and out-of-range values are repaired.
func SanitizeForPersist(s *Schedule) *Schedule {
	if s == nil {
		return nil
	}
	c := s.Clone()
	if c.Status == StatusShuttingDown {
		c.Status = StatusFinalWarning
	}
	c.ShutdownInitiatedAt = nil
	c.FinalWarningDurationSec = NormalizeFinalWarning(c.FinalWarningDurationSec)
	SyncShutdownAt(c)
	return c
}

// SanitizeLoaded repairs a schedule read from disk. fallbackFinalWarning
// replaces an out-of-range final warning duration.
func SanitizeLoaded(s *Schedule, fallbackFinalWarning int) *Schedule {
	if s == nil {
		return nil
	}
	c := s.Clone()
	if c.Status == StatusShuttingDown || !c.Status.Valid() {
		c.Status = StatusFinalWarning
	}
	c.ShutdownInitiatedAt = nil
	if c.FinalWarningDurationSec < MinFinalWarningSec || c.FinalWarningDurationSec > MaxFinalWarningSec {
		c.FinalWarningDurationSec = NormalizeFinalWarning(fallbackFinalWarning)
	}
	SyncShutdownAt(c)
	return c
}
