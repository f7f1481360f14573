package schedule

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/loykin/autosd/internal/detector"
)

const maxDurationSec = math.MaxInt64 / int64(time.Second)

// NewID formats a schedule id from the arm instant and the id sequence.
func NewID(now time.Time, seq uint64) string {
	return fmt.Sprintf("sch-%d-%d", now.UnixMilli(), seq)
}

// Build validates req and returns a new Armed schedule with id seq.
// Nothing outside the returned value is modified.
func Build(req Request, settings Settings, now time.Time, seq uint64) (*Schedule, error) {
	s := &Schedule{
		ID:                      NewID(now, seq),
		Mode:                    req.Mode,
		ArmedAt:                 now,
		Status:                  StatusArmed,
		FiredAlerts:             []int{},
		TrackedPIDs:             []int{},
		ProcessStableSec:        NormalizeStableSec(req.ProcessStableSec),
		FinalWarningDurationSec: NormalizeFinalWarning(settings.FinalWarningSec),
	}
	alerts := req.PreAlerts
	if alerts == nil {
		alerts = settings.DefaultPreAlerts
	}
	s.PreAlerts = NormalizeAlerts(alerts)

	switch req.Mode {
	case ModeCountdown:
		if req.DurationSec <= 0 {
			return nil, &ValidationError{Field: "durationSec", Msg: "must be greater than zero"}
		}
		if int64(req.DurationSec) > maxDurationSec {
			return nil, &ValidationError{Field: "durationSec", Msg: "duration is too large"}
		}
		s.TriggerAt = timePtr(now.Add(time.Duration(req.DurationSec) * time.Second))
		s.Summary = fmt.Sprintf("Countdown %dm %ds", req.DurationSec/60, req.DurationSec%60)
	case ModeSpecificTime:
		if req.TargetLocalTime == "" {
			return nil, &ValidationError{Field: "targetLocalTime", Msg: "required for specificTime mode"}
		}
		trigger, err := NextLocalTarget(req.TargetLocalTime, now)
		if err != nil {
			return nil, err
		}
		s.TriggerAt = timePtr(trigger)
		s.TargetLocalTime = req.TargetLocalTime
		off := UTCOffsetMinutes(now)
		s.RecordedUTCOffsetMinutes = &off
		s.Summary = "Shutdown at local time " + req.TargetLocalTime
	case ModeProcessExit:
		if req.ProcessSelector == nil {
			return nil, &ValidationError{Field: "processSelector", Msg: "required for processExit mode"}
		}
		sel, err := detector.Validate(*req.ProcessSelector)
		if err != nil {
			return nil, &ValidationError{Field: "processSelector", Msg: err.Error(), Err: err}
		}
		s.ProcessSelector = &sel
		descriptor := sel.Name
		if descriptor == "" {
			descriptor = "PID " + strconv.Itoa(sel.PID)
		}
		s.Summary = fmt.Sprintf("Shutdown when %s exits (stable %ds)", descriptor, s.ProcessStableSec)
	default:
		return nil, &ValidationError{Field: "mode", Msg: fmt.Sprintf("unknown mode %q", req.Mode)}
	}

	SyncShutdownAt(s)
	return s, nil
}

var errTimeFormat = errors.New("target time must match HH:MM format")

// NextLocalTarget resolves HH:MM to its next occurrence strictly after now,
// in now's location. A wall-clock time skipped by a DST transition is an error.
func NextLocalTarget(hhmm string, now time.Time) (time.Time, error) {
	if len(hhmm) != 5 {
		return time.Time{}, &ValidationError{Field: "targetLocalTime", Msg: errTimeFormat.Error(), Err: errTimeFormat}
	}
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "targetLocalTime", Msg: errTimeFormat.Error(), Err: errTimeFormat}
	}
	h, m := parsed.Hour(), parsed.Minute()
	resolve := func(day time.Time) (time.Time, error) {
		t := time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, now.Location())
		if t.Hour() != h || t.Minute() != m {
			return time.Time{}, &ValidationError{Field: "targetLocalTime", Msg: "unable to resolve local target time"}
		}
		return t, nil
	}
	target, err := resolve(now)
	if err != nil {
		return time.Time{}, err
	}
	if !target.After(now) {
		y, mo, d := now.Date()
		target, err = resolve(time.Date(y, mo, d+1, 12, 0, 0, 0, now.Location()))
		if err != nil {
			return time.Time{}, err
		}
	}
	return target, nil
}

// UTCOffsetMinutes returns the zone offset of t in minutes east of UTC.
func UTCOffsetMinutes(t time.Time) int {
	_, off := t.Zone()
	return off / 60
}

// ComputeShutdownAt derives the advisory shutdown instant. It is display-only
// and never decides when execution happens.
func ComputeShutdownAt(s *Schedule) *time.Time {
	fw := time.Duration(s.FinalWarningDurationSec) * time.Second
	switch s.Status {
	case StatusArmed:
		if s.Mode.TimeBased() && s.TriggerAt != nil {
			return timePtr(s.TriggerAt.Add(fw))
		}
		return nil
	case StatusFinalWarning, StatusShuttingDown:
		if s.FinalWarningStartedAt != nil {
			return timePtr(s.FinalWarningStartedAt.Add(fw))
		}
	}
	return nil
}

// SyncShutdownAt recomputes ShutdownAt and reports whether it changed.
func SyncShutdownAt(s *Schedule) bool {
	next := ComputeShutdownAt(s)
	if equalTimePtr(s.ShutdownAt, next) {
		return false
	}
	s.ShutdownAt = next
	return true
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
