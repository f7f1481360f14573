package schedule

import (
	"fmt"
	"slices"
	"time"

	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/history"
)

// NotificationTitle is used for every user-facing notification.
const NotificationTitle = "Auto Shutdown Scheduler"

// Scan carries the process evidence gathered for a processExit schedule.
// ScheduleID and Status record what the scan was started for; evidence for a
// different schedule or stage is ignored.
type Scan struct {
	ScheduleID string
	Status     Status
	Result     *detector.Result
	// Invalid is set when the stored selector no longer validates.
	Invalid error
}

func (sc *Scan) matches(s *Schedule) bool {
	return sc != nil && sc.ScheduleID == s.ID && sc.Status == s.Status
}

// PendingEvent is a history entry produced by a tick. The caller stamps the
// schedule id and time.
type PendingEvent struct {
	Type   history.EventType
	Reason string
}

// Notification is a message the caller should deliver to the user.
type Notification struct {
	Title string
	Body  string
}

// Effects summarizes what a tick did and what the caller must do next.
type Effects struct {
	Changed       bool
	Events        []PendingEvent
	Notifications []Notification
	// Transition is set when the status changed, as [from, to].
	Transition *[2]Status
	// Execute is set when the tick committed the schedule; the caller must
	// dispatch the shutdown command.
	Execute bool
	// FailSafe is set when the caller must cancel the schedule.
	FailSafe *SelectorIntegrityError
}

func (e *Effects) event(typ history.EventType, reason string) {
	e.Events = append(e.Events, PendingEvent{Type: typ, Reason: reason})
	e.Changed = true
}

func (e *Effects) notify(body string) {
	e.Notifications = append(e.Notifications, Notification{Title: NotificationTitle, Body: body})
}

func (e *Effects) transition(from, to Status) {
	e.Transition = &[2]Status{from, to}
	e.Changed = true
}

// Tick advances s by one step at now. scan may be nil when no fresh process
// evidence is available. s is modified in place.
func Tick(s *Schedule, now time.Time, scan *Scan) Effects {
	var fx Effects
	if s == nil {
		return fx
	}
	switch s.Status {
	case StatusArmed:
		if s.Mode.TimeBased() {
			tickArmedTime(s, now, &fx)
		} else {
			tickArmedProcess(s, now, scan, &fx)
		}
	case StatusFinalWarning:
		tickFinalWarning(s, now, scan, &fx)
	case StatusShuttingDown:
		return fx
	}
	if fx.FailSafe != nil {
		return fx
	}
	if SyncShutdownAt(s) {
		fx.Changed = true
	}
	return fx
}

func tickArmedTime(s *Schedule, now time.Time, fx *Effects) {
	if s.Mode == ModeSpecificTime && s.TargetLocalTime != "" {
		off := UTCOffsetMinutes(now)
		if s.RecordedUTCOffsetMinutes == nil || *s.RecordedUTCOffsetMinutes != off {
			if next, err := NextLocalTarget(s.TargetLocalTime, now); err == nil {
				s.TriggerAt = timePtr(next)
				s.RecordedUTCOffsetMinutes = &off
				fx.event(history.EventTimezoneRealigned, "specific-time schedule was realigned after timezone change")
			}
		}
	}
	if s.TriggerAt == nil {
		return
	}
	var remaining int64
	if s.TriggerAt.After(now) {
		remaining = int64(s.TriggerAt.Sub(now) / time.Second)
	}
	for _, threshold := range s.PreAlerts {
		if remaining > 0 && remaining <= int64(threshold) && !slices.Contains(s.FiredAlerts, threshold) {
			s.FiredAlerts = append(s.FiredAlerts, threshold)
			fx.event(history.EventAlerted, fmt.Sprintf("pre-alert fired at %ds", threshold))
			fx.notify(PreAlertMessage(threshold))
		}
	}
	if remaining == 0 {
		enterFinalWarning(s, now, fx)
		fx.Events = append(fx.Events, PendingEvent{Type: history.EventFinalWarning, Reason: "entered shutdown waiting mode (final warning stage)"})
		fx.notify(FinalWarningMessage(s.FinalWarningDurationSec))
	}
}

func tickArmedProcess(s *Schedule, now time.Time, scan *Scan, fx *Effects) {
	if s.SnoozeUntil != nil && !now.Before(*s.SnoozeUntil) {
		s.SnoozeUntil = nil
		fx.Changed = true
	}
	if !scan.matches(s) {
		return
	}
	if scan.Invalid != nil {
		failSafe(s, scan.Invalid, fx)
		return
	}
	if scan.Result == nil {
		return
	}
	applyEvidence(s, scan.Result, fx)
	if scan.Result.Running {
		if s.MissingSince != nil {
			s.MissingSince = nil
			fx.Changed = true
		}
		return
	}
	if s.MissingSince == nil {
		s.MissingSince = timePtr(now)
		fx.Changed = true
	}
	stable := time.Duration(s.ProcessStableSec) * time.Second
	snoozed := s.SnoozeUntil != nil && now.Before(*s.SnoozeUntil)
	if now.Sub(*s.MissingSince) >= stable && !snoozed {
		s.MissingSince = nil
		enterFinalWarning(s, now, fx)
		fx.Events = append(fx.Events, PendingEvent{Type: history.EventFinalWarning, Reason: "target process exited; entered shutdown waiting mode"})
		fx.notify(ProcessExitFinalWarningMessage(s.FinalWarningDurationSec))
	}
}

func tickFinalWarning(s *Schedule, now time.Time, scan *Scan, fx *Effects) {
	if s.Mode == ModeProcessExit {
		// Committing a processExit schedule needs fresh evidence that the
		// target is still gone.
		if !scan.matches(s) {
			return
		}
		if scan.Invalid != nil {
			failSafe(s, scan.Invalid, fx)
			return
		}
		if scan.Result == nil {
			return
		}
		applyEvidence(s, scan.Result, fx)
		if scan.Result.Running {
			s.Status = StatusArmed
			s.FinalWarningStartedAt = nil
			s.MissingSince = nil
			s.ShutdownInitiatedAt = nil
			fx.transition(StatusFinalWarning, StatusArmed)
			fx.event(history.EventFinalWarningReverted, fmt.Sprintf("target process detected again (%s)", scan.Result.Source))
			fx.notify(RevertedMessage())
			return
		}
	}
	if s.FinalWarningStartedAt == nil {
		s.FinalWarningStartedAt = timePtr(now)
		fx.Changed = true
	}
	dur := time.Duration(s.FinalWarningDurationSec) * time.Second
	if now.Sub(*s.FinalWarningStartedAt) >= dur && TryCommit(s, now) {
		fx.transition(StatusFinalWarning, StatusShuttingDown)
		fx.event(history.EventShutdownInitiated, "final warning elapsed; shutdown command starting")
		fx.Execute = true
	}
}

func enterFinalWarning(s *Schedule, now time.Time, fx *Effects) {
	s.Status = StatusFinalWarning
	s.FinalWarningStartedAt = timePtr(now)
	s.ShutdownInitiatedAt = nil
	fx.transition(StatusArmed, StatusFinalWarning)
}

func applyEvidence(s *Schedule, r *detector.Result, fx *Effects) {
	matched := r.MatchedPIDs
	if matched == nil {
		matched = []int{}
	}
	if !slices.Equal(s.TrackedPIDs, matched) {
		s.TrackedPIDs = append([]int{}, matched...)
		fx.Changed = true
	}
	if r.Degraded && !s.MatchDegradedLogged {
		s.MatchDegradedLogged = true
		fx.event(history.EventProcessMatchDegraded, "advanced process matching unavailable; fell back to name matching")
	}
}

func failSafe(s *Schedule, cause error, fx *Effects) {
	s.MissingSince = nil
	s.TrackedPIDs = []int{}
	s.FinalWarningStartedAt = nil
	s.ShutdownInitiatedAt = nil
	fx.FailSafe = &SelectorIntegrityError{ScheduleID: s.ID, Err: cause}
	fx.Changed = true
	fx.notify(FailSafeMessage())
}

func PreAlertMessage(thresholdSec int) string {
	if thresholdSec%60 == 0 {
		return fmt.Sprintf("Shutdown in %d minute(s).", thresholdSec/60)
	}
	return fmt.Sprintf("Shutdown in %d second(s).", thresholdSec)
}

func FinalWarningMessage(sec int) string {
	return fmt.Sprintf("Shutdown in %d seconds unless cancelled.", sec)
}

func ProcessExitFinalWarningMessage(sec int) string {
	return fmt.Sprintf("Target process exited. Shutdown in %d seconds unless cancelled.", sec)
}

func RevertedMessage() string {
	return "Target process detected again. Shutdown waiting was cancelled and monitoring resumed."
}

func FailSafeMessage() string {
	return "Process selector became invalid. The schedule was cancelled for safety."
}
