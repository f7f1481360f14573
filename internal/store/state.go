package store

import (
	"time"

	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/schedule"
)

// Version is the on-disk format version.
const Version = 1

// PersistedState is the JSON document written to the state file.
type PersistedState struct {
	Version             int                `json:"version"`
	Settings            schedule.Settings  `json:"settings"`
	History             []history.Event    `json:"history"`
	Active              *schedule.Schedule `json:"active,omitempty"`
	IDSeq               uint64             `json:"idSeq"`
	LastScheduleRequest *schedule.Request  `json:"lastScheduleRequest,omitempty"`
}

// State is the in-memory scheduler state. It is not safe for concurrent use;
// the scheduler service guards it with a lock.
type State struct {
	Settings            schedule.Settings
	History             []history.Event
	Active              *schedule.Schedule
	IDSeq               uint64
	LastScheduleRequest *schedule.Request
}

// NewState returns the default state.
func NewState() *State {
	return &State{
		Settings: schedule.DefaultSettings(),
		History:  []history.Event{},
	}
}

// FromPersisted normalizes p into a State.
func FromPersisted(p PersistedState) *State {
	st := &State{
		Settings:            p.Settings,
		History:             history.Trim(append([]history.Event{}, p.History...), history.Limit),
		IDSeq:               p.IDSeq,
		LastScheduleRequest: p.LastScheduleRequest.Clone(),
	}
	st.Settings.Normalize()
	st.Active = schedule.SanitizeLoaded(p.Active, st.Settings.FinalWarningSec)
	return st
}

// ToPersisted returns the on-disk form of st.
func (st *State) ToPersisted() PersistedState {
	settings := st.Settings
	settings.DefaultPreAlerts = append([]int(nil), st.Settings.DefaultPreAlerts...)
	settings.Normalize()
	return PersistedState{
		Version:             Version,
		Settings:            settings,
		History:             append([]history.Event{}, st.History...),
		Active:              schedule.SanitizeForPersist(st.Active),
		IDSeq:               st.IDSeq,
		LastScheduleRequest: st.LastScheduleRequest.Clone(),
	}
}

// Clone returns a deep copy of st.
func (st *State) Clone() *State {
	c := *st
	c.Settings.DefaultPreAlerts = append([]int(nil), st.Settings.DefaultPreAlerts...)
	c.History = append([]history.Event{}, st.History...)
	c.Active = st.Active.Clone()
	c.LastScheduleRequest = st.LastScheduleRequest.Clone()
	return &c
}

// PushEvent appends an event stamped at now and returns it.
func (st *State) PushEvent(now time.Time, scheduleID string, typ history.EventType, result history.Result, reason string) history.Event {
	e := history.Event{
		ScheduleID: scheduleID,
		Type:       typ,
		Timestamp:  now,
		Result:     result,
		Reason:     reason,
	}
	st.History = history.Append(st.History, e, history.Limit)
	return e
}

// DiscardActive drops a restored active schedule. Automatic resume is not
// supported, so this runs on every load.
func (st *State) DiscardActive(now time.Time) bool {
	if st.Active == nil {
		return false
	}
	id := st.Active.ID
	st.Active = nil
	st.PushEvent(now, id, history.EventResumeNotSupported, history.ResultOK,
		"automatic resume of an active schedule is not supported; it was cleared at startup")
	return true
}
