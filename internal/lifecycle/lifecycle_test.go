package lifecycle

import (
	"errors"
	"testing"

	"github.com/loykin/autosd/internal/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSched struct {
	status    schedule.Status
	active    bool
	cancelErr error
	cancels   []string
	armed     []schedule.Request
	postponed []int
	notes     []string
}

func (f *fakeSched) ActiveStatus() (schedule.Status, bool) { return f.status, f.active }

func (f *fakeSched) Cancel(reason string) error {
	f.cancels = append(f.cancels, reason)
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.active = false
	return nil
}

func (f *fakeSched) QuickStartRequest() schedule.Request {
	return schedule.Request{Mode: schedule.ModeCountdown, DurationSec: 3600}
}

func (f *fakeSched) Arm(req schedule.Request) (*schedule.Schedule, error) {
	f.armed = append(f.armed, req)
	return &schedule.Schedule{ID: "sch-1", Mode: req.Mode}, nil
}

func (f *fakeSched) Postpone(minutes int, _ string) error {
	if !f.active {
		return schedule.ErrNoActive
	}
	f.postponed = append(f.postponed, minutes)
	return nil
}

func (f *fakeSched) StatusMessage() string { return "No active schedule." }
func (f *fakeSched) Notify(body string)    { f.notes = append(f.notes, body) }

type fakeWindow struct{ shown, hidden int }

func (w *fakeWindow) ShowMainWindow() { w.shown++ }
func (w *fakeWindow) HideMainWindow() { w.hidden++ }

func TestRequestExitWithoutScheduleProceeds(t *testing.T) {
	exits := 0
	g := NewGuard(&fakeSched{}, &fakeWindow{}, func() { exits++ }, nil)

	assert.Equal(t, Proceed, g.RequestExit("uiCommand"))
	assert.Equal(t, 1, exits)
	assert.True(t, g.ConsumeAllowExit())
	assert.False(t, g.ConsumeAllowExit(), "approval is consumed once")
}

func TestRequestExitShuttingDownIsNotGuarded(t *testing.T) {
	g := NewGuard(&fakeSched{active: true, status: schedule.StatusShuttingDown}, &fakeWindow{}, nil, nil)
	assert.Equal(t, Proceed, g.RequestExit("trayMenu"))
}

func TestGuardedExitResolutions(t *testing.T) {
	tests := []struct {
		action Action
		want   Resolution
		hidden int
		cancel bool
	}{
		{ActionCancelAndQuit, Resolution{Exit: true}, 0, true},
		{ActionKeepBackground, Resolution{HideWindow: true}, 1, false},
		{ActionReturn, Resolution{}, 0, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			s := &fakeSched{active: true, status: schedule.StatusArmed}
			w := &fakeWindow{}
			exits := 0
			g := NewGuard(s, w, func() { exits++ }, nil)

			require.Equal(t, GuardRequested, g.RequestExit("trayMenu"))
			assert.Equal(t, 1, w.shown)
			p := g.Pending()
			require.NotNil(t, p)
			assert.Equal(t, "trayMenu", p.Source)
			assert.Equal(t, schedule.StatusArmed, p.Status)
			assert.Equal(t, 0, exits)

			res, err := g.Resolve(tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)
			assert.Equal(t, tt.hidden, w.hidden)
			assert.Equal(t, tt.cancel, len(s.cancels) == 1)
			assert.Equal(t, tt.want.Exit, g.ConsumeAllowExit())
			assert.Nil(t, g.Pending())
			if tt.want.Exit {
				assert.Equal(t, 1, exits)
			}
		})
	}
}

func TestCancelAndQuitAfterCommitFails(t *testing.T) {
	s := &fakeSched{active: true, status: schedule.StatusFinalWarning, cancelErr: schedule.ErrCommitted}
	exits := 0
	g := NewGuard(s, &fakeWindow{}, func() { exits++ }, nil)
	g.RequestExit("uiCommand")

	_, err := g.Resolve(ActionCancelAndQuit)
	assert.ErrorIs(t, err, schedule.ErrCommitted)
	assert.Equal(t, 0, exits)
	assert.False(t, g.ConsumeAllowExit())
}

func TestResolveUnknownAction(t *testing.T) {
	g := NewGuard(&fakeSched{}, nil, nil, nil)
	_, err := g.Resolve("explode")
	var ve *schedule.ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestMenuActions(t *testing.T) {
	s := &fakeSched{}
	w := &fakeWindow{}
	g := NewGuard(s, w, nil, nil)
	m := NewMenu(s, g, w)

	res, err := m.Handle(MenuQuickStart)
	require.NoError(t, err)
	require.Len(t, s.armed, 1)
	assert.Equal(t, 3600, s.armed[0].DurationSec)
	assert.Equal(t, "sch-1", res.Schedule.ID)

	res, err = m.Handle(MenuShowStatus)
	require.NoError(t, err)
	assert.Equal(t, "No active schedule.", res.Message)
	assert.Equal(t, []string{"No active schedule."}, s.notes)

	_, err = m.Handle(MenuShowWindow)
	require.NoError(t, err)
	assert.Equal(t, 1, w.shown)

	_, err = m.Handle(MenuSnooze10)
	assert.ErrorIs(t, err, schedule.ErrNoActive)
	assert.Contains(t, s.notes, schedule.ErrNoActive.Error())

	s.active, s.status = true, schedule.StatusArmed
	_, err = m.Handle(MenuSnooze10)
	require.NoError(t, err)
	assert.Equal(t, []int{10}, s.postponed)

	res, err = m.Handle(MenuQuit)
	require.NoError(t, err)
	assert.Equal(t, GuardRequested, res.Decision)

	_, err = m.Handle(MenuCancel)
	require.NoError(t, err)
	assert.Equal(t, []string{"cancelled from tray menu"}, s.cancels)

	_, err = m.Handle("dance")
	assert.Error(t, err)
}
