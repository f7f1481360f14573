package history

import (
	"context"
	"time"
)

// Limit is the maximum number of events kept in the persisted log.
const Limit = 250

// EventType defines the kind of scheduler event.
type EventType string

const (
	EventArmed                   EventType = "armed"
	EventCancelled               EventType = "cancelled"
	EventPostponed               EventType = "postponed"
	EventAlerted                 EventType = "alerted"
	EventFinalWarning            EventType = "final_warning"
	EventFinalWarningReverted    EventType = "final_warning_reverted"
	EventTimezoneRealigned       EventType = "timezone_realigned"
	EventProcessMatchDegraded    EventType = "process_match_degraded"
	EventShutdownInitiated       EventType = "shutdown_initiated"
	EventExecuted                EventType = "executed"
	EventFailed                  EventType = "failed"
	EventResumeNotSupported      EventType = "resume_not_supported"
	EventStateParseFailed        EventType = "state_parse_failed"
	EventStateRestoredFromBackup EventType = "state_restored_from_backup"
	EventLockRecovered           EventType = "lock_recovered"
	EventSettingsUpdated         EventType = "settings_updated"
	EventReplaceRolledBack       EventType = "replace_rolled_back"
	EventTickFailed              EventType = "tick_failed"
)

// Result is the outcome recorded with an event.
type Result string

const (
	ResultOK    Result = "ok"
	ResultError Result = "error"
)

// Event is one entry of the execution history.
type Event struct {
	ScheduleID string    `json:"scheduleId,omitempty"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Result     Result    `json:"result"`
	Reason     string    `json:"reason,omitempty"`
}

// Append adds e to events and evicts the oldest entries beyond limit.
// A non-positive limit falls back to Limit.
func Append(events []Event, e Event, limit int) []Event {
	if limit <= 0 {
		limit = Limit
	}
	events = append(events, e)
	if over := len(events) - limit; over > 0 {
		events = append(events[:0:0], events[over:]...)
	}
	return events
}

// Trim drops the oldest events so that at most limit remain.
func Trim(events []Event, limit int) []Event {
	if limit <= 0 {
		limit = Limit
	}
	if over := len(events) - limit; over > 0 {
		return append(events[:0:0], events[over:]...)
	}
	return events
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
