package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/lifecycle"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/schedule"
	"github.com/loykin/autosd/internal/scheduler"
	"github.com/loykin/autosd/internal/store"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTable []detector.Proc

func (t staticTable) Snapshot(context.Context, detector.Query) ([]detector.Proc, error) {
	return t, nil
}

type harness struct {
	h     http.Handler
	svc   *scheduler.Service
	notes *notify.Recorder
	exits int
}

func setupRouter(t *testing.T, base string) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hs := &harness{notes: notify.NewRecorder(16)}
	hs.svc = scheduler.New(nil, scheduler.Options{
		Store:      store.NewFileStore(afero.NewMemMapFs(), "/var/lib/autosd/scheduler-state.json", nil),
		Detector:   detector.NewMatcher(staticTable{{PID: 42, Name: "backup"}, {PID: 7, Name: "agent"}}),
		Dispatcher: dispatch.New(dispatch.Options{ForceSimulate: true}),
		Notifier:   hs.notes,
	})
	guard := lifecycle.NewGuard(hs.svc, nil, func() { hs.exits++ }, nil)
	hs.h = NewRouter(Options{Service: hs.svc, Guard: guard, Notifications: hs.notes, BasePath: base}).Handler()
	return hs
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func armCountdown(t *testing.T, hs *harness, base string) schedule.Schedule {
	t.Helper()
	rec := doReq(t, hs.h, http.MethodPost, base+"/arm", schedule.Request{Mode: schedule.ModeCountdown, DurationSec: 1800})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[schedule.Schedule](t, rec)
}

func TestHealthUnderBasePath(t *testing.T) {
	hs := setupRouter(t, "/api/")
	assert.Equal(t, http.StatusOK, doReq(t, hs.h, http.MethodGet, "/api/healthz", nil).Code)
	assert.Equal(t, http.StatusNotFound, doReq(t, hs.h, http.MethodGet, "/healthz", nil).Code)
}

func TestArmAndSnapshot(t *testing.T) {
	hs := setupRouter(t, "/api")
	s := armCountdown(t, hs, "/api")
	assert.Equal(t, schedule.StatusArmed, s.Status)
	assert.Equal(t, []int{600, 300, 60}, s.PreAlerts)

	rec := doReq(t, hs.h, http.MethodGet, "/api/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[map[string]any](t, rec)
	active, ok := snap["active"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	assert.Equal(t, s.ID, active["id"])
	assert.Contains(t, snap["statusMessage"], "seconds left")
	assert.NotNil(t, snap["lastScheduleRequest"])
	assert.Nil(t, snap["pendingExit"])

	rec = doReq(t, hs.h, http.MethodGet, "/api/notifications", nil)
	msgs := decode[[]notify.Message](t, rec)
	require.Len(t, msgs, 1)
	assert.Equal(t, s.Summary, msgs[0].Body)
	assert.Empty(t, decode[[]notify.Message](t, doReq(t, hs.h, http.MethodGet, "/api/notifications", nil)))
}

func TestArmRejectsBadInput(t *testing.T) {
	hs := setupRouter(t, "")
	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"unknown mode", schedule.Request{Mode: "sometime"}},
		{"zero duration", schedule.Request{Mode: schedule.ModeCountdown}},
		{"bad local time", schedule.Request{Mode: schedule.ModeSpecificTime, TargetLocalTime: "25:99"}},
		{"missing selector", schedule.Request{Mode: schedule.ModeProcessExit}},
		{"shell selector", schedule.Request{Mode: schedule.ModeProcessExit, ProcessSelector: &detector.Selector{Name: "bash"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doReq(t, hs.h, http.MethodPost, "/arm", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[errorResp](t, rec).Error)
		})
	}
	_, ok := hs.svc.ActiveStatus()
	assert.False(t, ok)
}

func TestCancelAndPostpone(t *testing.T) {
	hs := setupRouter(t, "")

	rec := doReq(t, hs.h, http.MethodPost, "/postpone", postponeReq{Minutes: 10})
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = doReq(t, hs.h, http.MethodPost, "/postpone", postponeReq{Minutes: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	armCountdown(t, hs, "")
	rec = doReq(t, hs.h, http.MethodPost, "/postpone", postponeReq{Minutes: 15, Reason: "meeting"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doReq(t, hs.h, http.MethodPost, "/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, ok := hs.svc.ActiveStatus()
	assert.False(t, ok)

	// Cancelling with nothing armed is a no-op.
	rec = doReq(t, hs.h, http.MethodPost, "/cancel", cancelReq{Reason: "again"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doReq(t, hs.h, http.MethodPost, "/cancel", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hist := hs.svc.Snapshot().History
	require.NotEmpty(t, hist)
	assert.Equal(t, "cancelled by user", hist[len(hist)-1].Reason)
}

func TestSettings(t *testing.T) {
	hs := setupRouter(t, "")
	rec := doReq(t, hs.h, http.MethodPatch, "/settings", `{"finalWarningSec": 5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, hs.h, http.MethodPatch, "/settings", `{"finalWarningSec": 120, "defaultPreAlerts": [60, 900, 60], "simulateOnly": true}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[schedule.Settings](t, rec)
	assert.Equal(t, 120, got.FinalWarningSec)
	assert.Equal(t, []int{900, 60}, got.DefaultPreAlerts)
	assert.True(t, got.SimulateOnly)
}

func TestProcesses(t *testing.T) {
	hs := setupRouter(t, "")
	rec := doReq(t, hs.h, http.MethodGet, "/processes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]detector.ProcessInfo](t, rec)
	require.Len(t, list, 2)
	assert.Equal(t, "agent", list[0].Name)
	assert.Equal(t, 42, list[1].PID)
}

func TestQuitWithoutSchedule(t *testing.T) {
	hs := setupRouter(t, "")
	rec := doReq(t, hs.h, http.MethodPost, "/quit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.Proceed, decode[quitResp](t, rec).Decision)
	assert.Equal(t, 1, hs.exits)

	rec = doReq(t, hs.h, http.MethodPost, "/quit", quitReq{Source: "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuitGuardFlow(t *testing.T) {
	hs := setupRouter(t, "")
	armCountdown(t, hs, "")

	rec := doReq(t, hs.h, http.MethodPost, "/quit", quitReq{Source: "trayMenu"})
	require.Equal(t, http.StatusOK, rec.Code)
	qr := decode[quitResp](t, rec)
	assert.Equal(t, lifecycle.GuardRequested, qr.Decision)
	require.NotNil(t, qr.Pending)
	assert.Equal(t, "trayMenu", qr.Pending.Source)
	assert.Equal(t, 0, hs.exits)

	rec = doReq(t, hs.h, http.MethodPost, "/quit/resolve", resolveReq{Action: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doReq(t, hs.h, http.MethodPost, "/quit/resolve", resolveReq{Action: lifecycle.ActionKeepBackground})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, lifecycle.Resolution{HideWindow: true}, decode[lifecycle.Resolution](t, rec))
	_, ok := hs.svc.ActiveStatus()
	assert.True(t, ok)

	doReq(t, hs.h, http.MethodPost, "/quit", nil)
	rec = doReq(t, hs.h, http.MethodPost, "/quit/resolve", resolveReq{Action: lifecycle.ActionCancelAndQuit})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, lifecycle.Resolution{Exit: true}, decode[lifecycle.Resolution](t, rec))
	assert.Equal(t, 1, hs.exits)
	_, ok = hs.svc.ActiveStatus()
	assert.False(t, ok)
}

func TestMenu(t *testing.T) {
	hs := setupRouter(t, "")

	rec := doReq(t, hs.h, http.MethodPost, "/menu/show-status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "No active schedule.", decode[lifecycle.MenuResult](t, rec).Message)

	rec = doReq(t, hs.h, http.MethodPost, "/menu/snooze-10-minutes", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doReq(t, hs.h, http.MethodPost, "/menu/quick-start-last-request", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[lifecycle.MenuResult](t, rec)
	require.NotNil(t, res.Schedule)
	assert.Equal(t, schedule.ModeCountdown, res.Schedule.Mode)

	rec = doReq(t, hs.h, http.MethodPost, "/menu/fly", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&schedule.ValidationError{Field: "mode", Msg: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", schedule.ErrCommitted), http.StatusConflict},
		{schedule.ErrNoActive, http.StatusConflict},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sanitizeBase(c.in), c.in)
	}
}

func TestIsSafeName(t *testing.T) {
	for _, s := range []string{"api", "trayMenu", "ui-command_1.2"} {
		assert.True(t, isSafeName(s), s)
	}
	for _, s := range []string{"", "..", "a/b", `a\b`, "hello*", "한글"} {
		assert.False(t, isSafeName(s), s)
	}
}

// FuzzArm checks that no request body makes the arm endpoint fail with a
// server error.
func FuzzArm(f *testing.F) {
	f.Add(`{"mode":"countdown","durationSec":60}`)
	f.Add(`{"mode":"specificTime","targetLocalTime":"23:59"}`)
	f.Add(`{"mode":"processExit","processSelector":{"name":"backup"}}`)
	f.Add(`{"mode":"processExit","processSelector":{"pid":-1}}`)
	f.Add(`{"mode":"countdown","durationSec":-5,"preAlerts":[0,-1,99999999]}`)
	f.Add(`[]`)

	f.Fuzz(func(t *testing.T, body string) {
		hs := setupRouter(t, "")
		rec := doReq(t, hs.h, http.MethodPost, "/arm", body)
		if rec.Code >= http.StatusInternalServerError {
			t.Fatalf("arm %q: %d %s", body, rec.Code, rec.Body.String())
		}
	})
}
