package client

import "time"

// Selector identifies the process a processExit schedule waits for.
type Selector struct {
	PID             int    `json:"pid,omitempty"`
	Name            string `json:"name,omitempty"`
	Executable      string `json:"executable,omitempty"`
	CmdlineContains string `json:"cmdlineContains,omitempty"`
}

// ArmRequest represents a request to arm a schedule.
// Mode is one of countdown, specificTime, processExit.
type ArmRequest struct {
	Mode             string    `json:"mode"`
	DurationSec      int       `json:"durationSec,omitempty"`
	TargetLocalTime  string    `json:"targetLocalTime,omitempty"`
	ProcessSelector  *Selector `json:"processSelector,omitempty"`
	PreAlerts        []int     `json:"preAlerts,omitempty"`
	ProcessStableSec int       `json:"processStableSec,omitempty"`
}

// Schedule is the active schedule as reported by the daemon.
type Schedule struct {
	ID                      string     `json:"id"`
	Mode                    string     `json:"mode"`
	Summary                 string     `json:"summary"`
	Status                  string     `json:"status"`
	ArmedAt                 time.Time  `json:"armedAt"`
	TriggerAt               *time.Time `json:"triggerAt,omitempty"`
	TargetLocalTime         string     `json:"targetLocalTime,omitempty"`
	PreAlerts               []int      `json:"preAlerts"`
	FiredAlerts             []int      `json:"firedAlerts"`
	ProcessSelector         *Selector  `json:"processSelector,omitempty"`
	TrackedPIDs             []int      `json:"trackedPids"`
	SnoozeUntil             *time.Time `json:"snoozeUntil,omitempty"`
	FinalWarningStartedAt   *time.Time `json:"finalWarningStartedAt,omitempty"`
	FinalWarningDurationSec int        `json:"finalWarningDurationSec"`
	ShutdownAt              *time.Time `json:"shutdownAt,omitempty"`
}

type Settings struct {
	DefaultPreAlerts []int `json:"defaultPreAlerts"`
	FinalWarningSec  int   `json:"finalWarningSec"`
	SimulateOnly     bool  `json:"simulateOnly"`
}

// SettingsUpdate changes only the fields that are set.
type SettingsUpdate struct {
	DefaultPreAlerts []int `json:"defaultPreAlerts,omitempty"`
	FinalWarningSec  *int  `json:"finalWarningSec,omitempty"`
	SimulateOnly     *bool `json:"simulateOnly,omitempty"`
}

// Event is one history entry.
type Event struct {
	ScheduleID string    `json:"scheduleId,omitempty"`
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Result     string    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
}

// PendingExit is a guarded quit request waiting for a decision.
type PendingExit struct {
	Source      string    `json:"source"`
	Status      string    `json:"status"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Snapshot is the daemon state returned by GET /snapshot.
type Snapshot struct {
	Active              *Schedule    `json:"active,omitempty"`
	Settings            Settings     `json:"settings"`
	History             []Event      `json:"history"`
	LastScheduleRequest *ArmRequest  `json:"lastScheduleRequest,omitempty"`
	Now                 time.Time    `json:"now"`
	StatusMessage       string       `json:"statusMessage"`
	PendingExit         *PendingExit `json:"pendingExit,omitempty"`
}

type ProcessInfo struct {
	PID        int    `json:"pid"`
	Name       string `json:"name"`
	Executable string `json:"executable,omitempty"`
	StartUnix  int64  `json:"startUnix,omitempty"`
}

// QuitResponse reports whether a quit request went through or is guarded.
// Decision is proceed or guardRequested.
type QuitResponse struct {
	Decision string       `json:"decision"`
	Pending  *PendingExit `json:"pending,omitempty"`
}

type Resolution struct {
	Exit       bool `json:"exit"`
	HideWindow bool `json:"hideWindow"`
}

type MenuResult struct {
	Action   string    `json:"action"`
	Message  string    `json:"message,omitempty"`
	Schedule *Schedule `json:"schedule,omitempty"`
	Decision string    `json:"decision,omitempty"`
}

type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
