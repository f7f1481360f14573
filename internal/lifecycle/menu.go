package lifecycle

import (
	"fmt"

	"github.com/loykin/autosd/internal/schedule"
)

// MenuAction identifies a tray menu entry.
type MenuAction string

const (
	MenuQuickStart MenuAction = "quick-start-last-request"
	MenuShowStatus MenuAction = "show-status"
	MenuShowWindow MenuAction = "show-window"
	MenuCancel     MenuAction = "cancel"
	MenuSnooze10   MenuAction = "snooze-10-minutes"
	MenuQuit       MenuAction = "quit"
)

// MenuActions lists the entries in display order.
var MenuActions = []MenuAction{MenuQuickStart, MenuShowStatus, MenuShowWindow, MenuCancel, MenuSnooze10, MenuQuit}

// MenuScheduler is the part of the scheduler service the menu drives.
type MenuScheduler interface {
	QuickStartRequest() schedule.Request
	Arm(req schedule.Request) (*schedule.Schedule, error)
	Cancel(reason string) error
	Postpone(minutes int, reason string) error
	StatusMessage() string
	Notify(body string)
}

// MenuResult reports what a menu action did.
type MenuResult struct {
	Action   MenuAction         `json:"action"`
	Message  string             `json:"message,omitempty"`
	Schedule *schedule.Schedule `json:"schedule,omitempty"`
	Decision Decision           `json:"decision,omitempty"`
}

// Menu interprets tray menu actions.
type Menu struct {
	sched MenuScheduler
	guard *Guard
	win   Window
}

func NewMenu(sched MenuScheduler, guard *Guard, win Window) *Menu {
	if win == nil {
		win = Headless{}
	}
	return &Menu{sched: sched, guard: guard, win: win}
}

// Handle runs action. Errors are also sent as notifications, the way a tray
// shell would surface them.
func (m *Menu) Handle(action MenuAction) (MenuResult, error) {
	res := MenuResult{Action: action}
	var err error
	switch action {
	case MenuQuickStart:
		var s *schedule.Schedule
		s, err = m.sched.Arm(m.sched.QuickStartRequest())
		res.Schedule = s
	case MenuShowStatus:
		res.Message = m.sched.StatusMessage()
		m.sched.Notify(res.Message)
	case MenuShowWindow:
		m.win.ShowMainWindow()
	case MenuCancel:
		err = m.sched.Cancel("cancelled from tray menu")
	case MenuSnooze10:
		err = m.sched.Postpone(10, "snoozed 10m from tray menu")
	case MenuQuit:
		res.Decision = m.guard.RequestExit("trayMenu")
	default:
		return res, &schedule.ValidationError{Field: "action", Msg: fmt.Sprintf("unknown menu action %q", action)}
	}
	if err != nil {
		m.sched.Notify(err.Error())
		return res, err
	}
	return res, nil
}
