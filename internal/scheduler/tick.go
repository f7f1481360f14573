package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/metrics"
	"github.com/loykin/autosd/internal/schedule"
)

// scanTarget is what a tick needs to know to probe the target process.
type scanTarget struct {
	id       string
	status   schedule.Status
	selector detector.Selector
	tracked  []int
}

type execution struct {
	id       string
	simulate bool
}

// Tick runs one scheduler step: read the target under the lock, scan with
// the lock released, apply the transition, then run the shutdown command if
// the schedule was committed.
func (s *Service) Tick(ctx context.Context) {
	target := s.scanTargetSnapshot()
	var sc *schedule.Scan
	if target != nil {
		sc = s.scan(ctx, *target)
	}

	var (
		notes []schedule.Notification
		exec  *execution
	)
	_ = s.withLock(func() error {
		notes, exec = s.applyTickLocked(sc)
		return nil
	})
	for _, n := range notes {
		s.notifier.Notify(n.Title, n.Body)
	}
	if exec != nil {
		s.execute(ctx, *exec)
	}
}

func (s *Service) scanTargetSnapshot() *scanTarget {
	var t *scanTarget
	_ = s.withLock(func() error {
		a := s.st.Active
		if a == nil || a.Mode != schedule.ModeProcessExit {
			return nil
		}
		if a.Status != schedule.StatusArmed && a.Status != schedule.StatusFinalWarning {
			return nil
		}
		t = &scanTarget{id: a.ID, status: a.Status, tracked: append([]int(nil), a.TrackedPIDs...)}
		if a.ProcessSelector != nil {
			t.selector = *a.ProcessSelector
		}
		return nil
	})
	return t
}

// scan probes the target. It returns nil when no evidence is available: a
// scan is still running, the detector failed or the scan timed out.
func (s *Service) scan(ctx context.Context, t scanTarget) *schedule.Scan {
	sc := &schedule.Scan{ScheduleID: t.id, Status: t.status}
	sel, err := detector.Validate(t.selector)
	if err != nil {
		sc.Invalid = err
		return sc
	}
	if s.det == nil {
		return nil
	}
	if !s.scanning.CompareAndSwap(false, true) {
		s.log.Debug("process scan still running; skipping")
		return nil
	}

	type outcome struct {
		res      detector.Result
		err      error
		panicked bool
	}
	ch := make(chan outcome, 1)
	sctx, cancel := context.WithTimeout(ctx, s.scanTimeout)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.scanning.Store(false)
				metrics.IncTickFailure()
				ch <- outcome{err: fmt.Errorf("process scan panicked: %v", r), panicked: true}
			}
		}()
		res, err := s.det.IsRunning(sctx, sel, t.tracked)
		s.scanning.Store(false)
		ch <- outcome{res: res, err: err}
	}()
	defer cancel()

	select {
	case o := <-ch:
		if o.panicked {
			s.log.Error("process scan panicked", "schedule", t.id, "error", o.err)
			_ = s.withLock(func() error {
				s.pushLocked(t.id, history.EventTickFailed, history.ResultError, o.err.Error())
				return nil
			})
			return nil
		}
		if o.err != nil {
			s.log.Warn("process scan failed", "schedule", t.id, "error", o.err)
			return nil
		}
		sc.Result = &o.res
		metrics.SetMatchedPIDs(len(o.res.MatchedPIDs))
		return sc
	case <-sctx.Done():
		s.log.Warn("process scan timed out", "schedule", t.id, "timeout", s.scanTimeout)
		return nil
	}
}

func (s *Service) applyTickLocked(sc *schedule.Scan) ([]schedule.Notification, *execution) {
	a := s.st.Active
	if a == nil {
		return nil, nil
	}
	now := s.now()
	fired := len(a.FiredAlerts)
	fx := schedule.Tick(a, now, sc)

	for _, th := range a.FiredAlerts[min(fired, len(a.FiredAlerts)):] {
		metrics.IncAlert(strconv.Itoa(th))
	}
	for _, e := range fx.Events {
		s.pushLocked(a.ID, e.Type, history.ResultOK, e.Reason)
		s.log.Info("schedule event", "id", a.ID, "type", e.Type, "reason", e.Reason)
	}
	if fx.Transition != nil {
		metrics.RecordTransition(string(fx.Transition[0]), string(fx.Transition[1]))
	}
	if fx.FailSafe != nil {
		s.log.Error("process-exit schedule cancelled for safety", "id", a.ID, "error", fx.FailSafe)
		s.pushLocked(a.ID, history.EventFailed, history.ResultError, fx.FailSafe.Error())
		s.st.Active = nil
	}
	if fx.Changed || fx.FailSafe != nil {
		s.observeLocked()
		if err := s.persistLocked(); err != nil {
			s.log.Error("persist after tick failed", "error", err)
		}
	}

	var exec *execution
	if fx.Execute {
		exec = &execution{id: a.ID, simulate: s.st.Settings.SimulateOnly}
	}
	return fx.Notifications, exec
}

// execute runs the shutdown command without the lock and records the result.
// The schedule is cleared either way; a failed command is not retried.
func (s *Service) execute(ctx context.Context, e execution) {
	report, err := s.dispatch(ctx, e.simulate)

	_ = s.withLock(func() error {
		if a := s.st.Active; a != nil && a.ID == e.id {
			s.st.Active = nil
		}
		if err != nil {
			s.pushLocked(e.id, history.EventFailed, history.ResultError, err.Error())
			metrics.IncExecution("failed", report.DryRun)
		} else {
			s.pushLocked(e.id, history.EventExecuted, history.ResultOK, report.LogLine())
			metrics.IncExecution("executed", report.DryRun)
		}
		s.observeLocked()
		if perr := s.persistLocked(); perr != nil {
			s.log.Error("persist after execution failed", "error", perr)
		}
		return nil
	})

	if err != nil {
		s.log.Error("shutdown command failed", "id", e.id, "error", err)
		s.notifier.Notify(schedule.NotificationTitle, "Shutdown command failed: "+err.Error())
		return
	}
	s.log.Warn("shutdown dispatched", "id", e.id, "log", report.LogLine())
	if report.DryRun {
		s.notifier.Notify(schedule.NotificationTitle, "Dry run complete. "+report.LogLine())
	}
}

// dispatch runs the dispatcher, turning a missing dispatcher or a panic into
// a DispatchError so the committed schedule is still cleared.
func (s *Service) dispatch(ctx context.Context, simulate bool) (report dispatch.Report, err error) {
	if s.disp == nil {
		return report, &dispatch.DispatchError{Err: errors.New("no dispatcher configured")}
	}
	defer func() {
		if r := recover(); r != nil {
			report = dispatch.Report{DryRun: simulate}
			err = &dispatch.DispatchError{Err: fmt.Errorf("dispatcher panicked: %v", r)}
		}
	}()
	return s.disp.Dispatch(ctx, simulate)
}

// tickSafely runs one tick and turns a panic into a tick_failed event.
func (s *Service) tickSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncTickFailure()
			s.log.Error("scheduler tick panicked", "panic", r)
			_ = s.withLock(func() error {
				s.pushLocked("", history.EventTickFailed, history.ResultError, fmt.Sprintf("tick panicked: %v", r))
				return nil
			})
		}
	}()
	s.Tick(ctx)
}

// Run ticks every interval until ctx is done.
func (s *Service) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tickSafely(ctx)
		}
	}
}
