package schedule

import (
	"time"

	"github.com/loykin/autosd/internal/detector"
)

// Mode selects what triggers a schedule.
type Mode string

const (
	ModeCountdown    Mode = "countdown"
	ModeSpecificTime Mode = "specificTime"
	ModeProcessExit  Mode = "processExit"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeCountdown, ModeSpecificTime, ModeProcessExit:
		return true
	}
	return false
}

// TimeBased reports whether the mode fires at a computed instant.
func (m Mode) TimeBased() bool {
	return m == ModeCountdown || m == ModeSpecificTime
}

// Status is the lifecycle stage of the active schedule.
type Status string

const (
	StatusArmed        Status = "armed"
	StatusFinalWarning Status = "finalWarning"
	// StatusShuttingDown exists only in memory; it is written to disk as
	// StatusFinalWarning.
	StatusShuttingDown Status = "shuttingDown"
)

// Statuses lists every status, in lifecycle order.
var Statuses = []Status{StatusArmed, StatusFinalWarning, StatusShuttingDown}

func (s Status) Valid() bool {
	switch s {
	case StatusArmed, StatusFinalWarning, StatusShuttingDown:
		return true
	}
	return false
}

// Request describes a schedule to arm. Optional fields use their zero value
// for "absent"; a nil PreAlerts means "use the settings defaults".
type Request struct {
	Mode             Mode               `json:"mode"`
	DurationSec      int                `json:"durationSec,omitempty"`
	TargetLocalTime  string             `json:"targetLocalTime,omitempty"`
	ProcessSelector  *detector.Selector `json:"processSelector,omitempty"`
	PreAlerts        []int              `json:"preAlerts,omitempty"`
	ProcessStableSec int                `json:"processStableSec,omitempty"`
}

// Schedule is the one active schedule. Optional instants are nil when unset.
type Schedule struct {
	ID      string    `json:"id"`
	Mode    Mode      `json:"mode"`
	Summary string    `json:"summary"`
	ArmedAt time.Time `json:"armedAt"`

	TriggerAt                *time.Time `json:"triggerAt,omitempty"`
	TargetLocalTime          string     `json:"targetLocalTime,omitempty"`
	RecordedUTCOffsetMinutes *int       `json:"recordedUtcOffsetMinutes,omitempty"`

	PreAlerts   []int `json:"preAlerts"`
	FiredAlerts []int `json:"firedAlerts"`

	ProcessSelector     *detector.Selector `json:"processSelector,omitempty"`
	TrackedPIDs         []int              `json:"trackedPids"`
	ProcessStableSec    int                `json:"processStableSec"`
	MissingSince        *time.Time         `json:"missingSince,omitempty"`
	SnoozeUntil         *time.Time         `json:"snoozeUntil,omitempty"`
	MatchDegradedLogged bool               `json:"matchDegradedLogged"`

	Status                  Status     `json:"status"`
	FinalWarningStartedAt   *time.Time `json:"finalWarningStartedAt,omitempty"`
	FinalWarningDurationSec int        `json:"finalWarningDurationSec"`
	ShutdownAt              *time.Time `json:"shutdownAt,omitempty"`
	ShutdownInitiatedAt     *time.Time `json:"shutdownInitiatedAt,omitempty"`
}

// Committed reports whether the irreversible shutdown step has started.
func (s *Schedule) Committed() bool {
	return s.Status == StatusShuttingDown || s.ShutdownInitiatedAt != nil
}

// Clone returns a deep copy. Time pointers are never mutated in place, so
// they are shared.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	c.PreAlerts = append([]int(nil), s.PreAlerts...)
	c.FiredAlerts = append([]int(nil), s.FiredAlerts...)
	c.TrackedPIDs = append([]int(nil), s.TrackedPIDs...)
	if s.ProcessSelector != nil {
		sel := *s.ProcessSelector
		c.ProcessSelector = &sel
	}
	if s.RecordedUTCOffsetMinutes != nil {
		off := *s.RecordedUTCOffsetMinutes
		c.RecordedUTCOffsetMinutes = &off
	}
	return &c
}

// Clone returns a deep copy of the request.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	if r.PreAlerts != nil {
		c.PreAlerts = append([]int{}, r.PreAlerts...)
	}
	if r.ProcessSelector != nil {
		sel := *r.ProcessSelector
		c.ProcessSelector = &sel
	}
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }
