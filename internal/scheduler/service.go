package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/metrics"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/schedule"
	"github.com/loykin/autosd/internal/store"
)

const (
	DefaultScanTimeout  = 10 * time.Second
	DefaultTickInterval = time.Second
)

// Store loads and persists the scheduler state.
type Store interface {
	Load(now time.Time) (store.Outcome, error)
	Persist(st *store.State) error
}

// Dispatcher runs the shutdown command.
type Dispatcher interface {
	Dispatch(ctx context.Context, simulateOnly bool) (dispatch.Report, error)
}

// Options wires the collaborators of a Service. Store, Detector and
// Dispatcher are required.
type Options struct {
	Store        Store
	Detector     detector.Detector
	Dispatcher   Dispatcher
	Notifier     notify.Notifier
	Exporter     *history.Exporter
	Logger       *slog.Logger
	Now          func() time.Time
	ScanTimeout  time.Duration
	TickInterval time.Duration
}

// Service owns the scheduler state. Every mutation goes through the state
// lock, which is never held across a process scan or the shutdown command.
type Service struct {
	mu       sync.Mutex
	poisoned any
	st       *store.State
	outbox   []history.Event

	store    Store
	det      detector.Detector
	disp     Dispatcher
	notifier notify.Notifier
	exporter *history.Exporter
	log      *slog.Logger
	now      func() time.Time

	scanTimeout time.Duration
	interval    time.Duration
	scanning    atomic.Bool
}

// Snapshot is a consistent copy of the scheduler state.
type Snapshot struct {
	Active              *schedule.Schedule `json:"active,omitempty"`
	Settings            schedule.Settings  `json:"settings"`
	History             []history.Event    `json:"history"`
	LastScheduleRequest *schedule.Request  `json:"lastScheduleRequest,omitempty"`
	Now                 time.Time          `json:"now"`
}

// New returns a service over an already loaded state.
func New(st *store.State, opts Options) *Service {
	if st == nil {
		st = store.NewState()
	}
	s := &Service{
		st:          st,
		store:       opts.Store,
		det:         opts.Detector,
		disp:        opts.Dispatcher,
		notifier:    opts.Notifier,
		exporter:    opts.Exporter,
		log:         opts.Logger,
		now:         opts.Now,
		scanTimeout: opts.ScanTimeout,
		interval:    opts.TickInterval,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.notifier == nil {
		s.notifier = notify.Log{Logger: s.log}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.scanTimeout <= 0 {
		s.scanTimeout = DefaultScanTimeout
	}
	if s.interval <= 0 {
		s.interval = DefaultTickInterval
	}
	return s
}

// Open loads the state from opts.Store and returns a ready service. An
// integrity problem with the state file is logged and does not stop startup.
func Open(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	out, loadErr := opts.Store.Load(now())
	s := New(out.State, opts)
	if loadErr != nil {
		s.log.Error("state file integrity problem; continuing with defaults", "error", loadErr)
	}
	if out.NeedsPersist {
		if err := s.withLock(s.persistLocked); err != nil {
			return nil, fmt.Errorf("persist recovered state: %w", err)
		}
	}
	if out.StartupNotice != "" {
		s.notifier.Notify(schedule.NotificationTitle, out.StartupNotice)
	}
	_ = s.withLock(func() error { s.observeLocked(); return nil })
	return s, nil
}

func (s *Service) persistLocked() error {
	if s.store == nil {
		return nil
	}
	return s.store.Persist(s.st)
}

func (s *Service) observeLocked() {
	status := ""
	if s.st.Active != nil {
		status = string(s.st.Active.Status)
	}
	known := make([]string, 0, len(schedule.Statuses))
	for _, st := range schedule.Statuses {
		known = append(known, string(st))
	}
	metrics.SetActiveStatus(status, known)
}

// Snapshot returns a copy of the current state.
func (s *Service) Snapshot() Snapshot {
	var snap Snapshot
	_ = s.withLock(func() error {
		c := s.st.Clone()
		snap = Snapshot{
			Active:              c.Active,
			Settings:            c.Settings,
			History:             c.History,
			LastScheduleRequest: c.LastScheduleRequest,
			Now:                 s.now(),
		}
		return nil
	})
	return snap
}

// ActiveStatus returns the status of the active schedule, if any.
func (s *Service) ActiveStatus() (schedule.Status, bool) {
	var (
		st schedule.Status
		ok bool
	)
	_ = s.withLock(func() error {
		if s.st.Active != nil {
			st, ok = s.st.Active.Status, true
		}
		return nil
	})
	return st, ok
}

// Arm builds a schedule from req and makes it the active one, replacing an
// uncommitted schedule. On a persistence failure the previous state is kept.
func (s *Service) Arm(req schedule.Request) (*schedule.Schedule, error) {
	var armed *schedule.Schedule
	err := s.withLock(func() error {
		if s.st.Active != nil && s.st.Active.Committed() {
			return schedule.ErrCommitted
		}
		next, err := schedule.Build(req, s.st.Settings, s.now(), s.st.IDSeq+1)
		if err != nil {
			return err
		}

		prev := s.st.Clone()
		mark := len(s.outbox)
		if old := s.st.Active; old != nil {
			s.pushLocked(old.ID, history.EventCancelled, history.ResultOK, "cancelled(reason=replace)")
		}
		s.st.IDSeq++
		s.st.Active = next
		s.st.LastScheduleRequest = req.Clone()
		s.pushLocked(next.ID, history.EventArmed, history.ResultOK, next.Summary)

		if err := s.persistLocked(); err != nil {
			s.st = prev
			s.outbox = s.outbox[:mark]
			if prev.Active != nil {
				s.pushLocked(prev.Active.ID, history.EventReplaceRolledBack, history.ResultError,
					"activating the new schedule failed; the previous schedule was restored")
				if perr := s.persistLocked(); perr != nil {
					s.log.Error("persist after rollback failed", "error", perr)
				}
			}
			return fmt.Errorf("save state: %w", err)
		}
		metrics.IncArmed(string(next.Mode))
		s.observeLocked()
		armed = next.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("schedule armed", "id", armed.ID, "mode", armed.Mode, "summary", armed.Summary)
	s.notifier.Notify(schedule.NotificationTitle, armed.Summary)
	return armed, nil
}

// Cancel clears the active schedule. With nothing armed it is a no-op.
func (s *Service) Cancel(reason string) error {
	if reason == "" {
		reason = "cancelled by user"
	}
	cancelled := false
	err := s.withLock(func() error {
		var err error
		cancelled, err = s.cancelLocked(reason)
		return err
	})
	if err != nil {
		return err
	}
	if cancelled {
		s.notifier.Notify(schedule.NotificationTitle, reason)
	}
	return nil
}

func (s *Service) cancelLocked(reason string) (bool, error) {
	a := s.st.Active
	if a == nil {
		return false, nil
	}
	if a.Committed() {
		return false, schedule.ErrCommitted
	}
	s.st.Active = nil
	s.pushLocked(a.ID, history.EventCancelled, history.ResultOK, reason)
	s.observeLocked()
	s.log.Info("schedule cancelled", "id", a.ID, "reason", reason)
	if err := s.persistLocked(); err != nil {
		return true, fmt.Errorf("save state: %w", err)
	}
	return true, nil
}

// Postpone delays the active schedule by minutes.
func (s *Service) Postpone(minutes int, reason string) error {
	if reason == "" {
		reason = fmt.Sprintf("snoozed %d minutes by user", minutes)
	}
	err := s.withLock(func() error {
		if err := schedule.ValidatePostponeMinutes(minutes); err != nil {
			return err
		}
		a := s.st.Active
		if err := schedule.Postpone(a, minutes, s.now()); err != nil {
			return err
		}
		s.pushLocked(a.ID, history.EventPostponed, history.ResultOK, reason)
		s.observeLocked()
		if err := s.persistLocked(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifier.Notify(schedule.NotificationTitle, fmt.Sprintf("Schedule postponed by %d minutes.", minutes))
	return nil
}

// UpdateSettings applies u. A new final warning length also applies to an
// uncommitted active schedule.
func (s *Service) UpdateSettings(u schedule.SettingsUpdate) (schedule.Settings, error) {
	var out schedule.Settings
	err := s.withLock(func() error {
		next, err := s.st.Settings.Apply(u)
		if err != nil {
			return err
		}
		s.st.Settings = next
		schedule.SetFinalWarningDuration(s.st.Active, next.FinalWarningSec)
		s.pushLocked("", history.EventSettingsUpdated, history.ResultOK, "settings were updated")
		out = next
		out.DefaultPreAlerts = append([]int(nil), next.DefaultPreAlerts...)
		if err := s.persistLocked(); err != nil {
			return fmt.Errorf("save state: %w", err)
		}
		return nil
	})
	return out, err
}

// Processes lists running processes for building a selector.
func (s *Service) Processes(ctx context.Context) ([]detector.ProcessInfo, error) {
	if s.det == nil {
		return nil, fmt.Errorf("scheduler: no process detector configured")
	}
	return s.det.List(ctx)
}

// QuickStartRequest returns the last accepted request, or a one hour
// countdown with the default alerts.
func (s *Service) QuickStartRequest() schedule.Request {
	var req schedule.Request
	_ = s.withLock(func() error {
		if s.st.LastScheduleRequest != nil {
			req = *s.st.LastScheduleRequest.Clone()
			return nil
		}
		req = schedule.Request{
			Mode:        schedule.ModeCountdown,
			DurationSec: 60 * 60,
			PreAlerts:   append([]int(nil), s.st.Settings.DefaultPreAlerts...),
		}
		return nil
	})
	return req
}

// StatusMessage describes the remaining time of the active schedule.
func (s *Service) StatusMessage() string {
	var msg string
	_ = s.withLock(func() error {
		now := s.now()
		a := s.st.Active
		switch {
		case a == nil:
			msg = "No active schedule."
		case a.Status == schedule.StatusShuttingDown:
			msg = "Shutdown command is running."
		case a.ShutdownAt != nil:
			msg = fmt.Sprintf("Shutdown at %s, %d seconds left.", a.ShutdownAt.Local().Format("2006-01-02 15:04:05"), remainingSec(*a.ShutdownAt, now))
		case a.TriggerAt != nil:
			msg = fmt.Sprintf("Waiting for shutdown, %d seconds left.", remainingSec(*a.TriggerAt, now))
		default:
			msg = "Waiting for shutdown, watching the target process."
		}
		return nil
	})
	return msg
}

func remainingSec(at, now time.Time) int64 {
	d := at.Sub(now)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

// Notify forwards a message to the configured notifier.
func (s *Service) Notify(body string) {
	s.notifier.Notify(schedule.NotificationTitle, body)
}
