package lifecycle

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/autosd/internal/schedule"
)

// Window is the main window of a UI shell.
type Window interface {
	ShowMainWindow()
	HideMainWindow()
}

// Headless is the Window used without a UI shell. It only logs.
type Headless struct {
	Logger *slog.Logger
}

func (h Headless) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h Headless) ShowMainWindow() { h.logger().Info("show main window requested") }
func (h Headless) HideMainWindow() { h.logger().Info("hide main window requested") }

// Scheduler is the part of the scheduler service the guard needs.
type Scheduler interface {
	ActiveStatus() (schedule.Status, bool)
	Cancel(reason string) error
}

// Decision is the outcome of an exit request.
type Decision string

const (
	Proceed        Decision = "proceed"
	GuardRequested Decision = "guardRequested"
)

// Action resolves a pending exit request.
type Action string

const (
	ActionCancelAndQuit  Action = "cancelAndQuit"
	ActionKeepBackground Action = "keepBackground"
	ActionReturn         Action = "return"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCancelAndQuit, ActionKeepBackground, ActionReturn:
		return true
	}
	return false
}

// Pending is an exit request waiting for the user's choice.
type Pending struct {
	Source      string          `json:"source"`
	Status      schedule.Status `json:"status"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// Resolution tells the host what to do after Resolve.
type Resolution struct {
	Exit       bool `json:"exit"`
	HideWindow bool `json:"hideWindow"`
}

// Guard intercepts exit requests while a schedule is armed so the daemon is
// not closed by accident.
type Guard struct {
	mu        sync.Mutex
	sched     Scheduler
	win       Window
	exit      func()
	log       *slog.Logger
	allowOnce bool
	pending   *Pending
}

// NewGuard returns a guard. exit is called when the host should quit; it may
// be nil.
func NewGuard(sched Scheduler, win Window, exit func(), log *slog.Logger) *Guard {
	if win == nil {
		win = Headless{Logger: log}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Guard{sched: sched, win: win, exit: exit, log: log}
}

// RequestExit asks to quit. With no armed or final-warning schedule the exit
// proceeds at once; otherwise the window is shown and Resolve must follow.
func (g *Guard) RequestExit(source string) Decision {
	status, ok := g.sched.ActiveStatus()
	if ok && (status == schedule.StatusArmed || status == schedule.StatusFinalWarning) {
		g.mu.Lock()
		g.allowOnce = false
		g.pending = &Pending{Source: source, Status: status, RequestedAt: time.Now()}
		g.mu.Unlock()
		g.log.Info("exit guarded", "source", source, "status", status)
		g.win.ShowMainWindow()
		return GuardRequested
	}

	g.mu.Lock()
	g.allowOnce = true
	g.pending = nil
	g.mu.Unlock()
	g.log.Info("exit allowed", "source", source)
	g.quit()
	return Proceed
}

// Resolve applies the user's choice for a guarded exit.
func (g *Guard) Resolve(action Action) (Resolution, error) {
	var res Resolution
	switch action {
	case ActionCancelAndQuit:
		if err := g.sched.Cancel("user chose to cancel the schedule and quit"); err != nil {
			g.setAllow(false)
			return res, err
		}
		res.Exit = true
	case ActionKeepBackground:
		res.HideWindow = true
	case ActionReturn:
	default:
		return res, &schedule.ValidationError{Field: "action", Msg: fmt.Sprintf("unknown quit guard action %q", action)}
	}

	g.mu.Lock()
	g.pending = nil
	g.allowOnce = res.Exit
	g.mu.Unlock()

	if res.HideWindow {
		g.win.HideMainWindow()
	}
	if res.Exit {
		g.quit()
	}
	return res, nil
}

func (g *Guard) setAllow(v bool) {
	g.mu.Lock()
	g.allowOnce = v
	g.mu.Unlock()
}

// ConsumeAllowExit reports whether an exit was approved and clears the
// approval. Hosts call it from their exit hook.
func (g *Guard) ConsumeAllowExit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	ok := g.allowOnce
	g.allowOnce = false
	return ok
}

// Pending returns the exit request waiting for resolution, if any.
func (g *Guard) Pending() *Pending {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return nil
	}
	p := *g.pending
	return &p
}

func (g *Guard) quit() {
	if g.exit != nil {
		g.exit()
	}
}
