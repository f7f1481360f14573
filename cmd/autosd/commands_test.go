package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/lifecycle"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/scheduler"
	"github.com/loykin/autosd/internal/server"
	"github.com/loykin/autosd/internal/store"
	"github.com/loykin/autosd/pkg/client"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTable []detector.Proc

func (t staticTable) Snapshot(context.Context, detector.Query) ([]detector.Proc, error) {
	return t, nil
}

func newTestCommand(t *testing.T) (command, *bytes.Buffer) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	notes := notify.NewRecorder(16)
	svc := scheduler.New(nil, scheduler.Options{
		Store:      store.NewFileStore(afero.NewMemMapFs(), "/state.json", nil),
		Detector:   detector.NewMatcher(staticTable{{PID: 42, Name: "backup", Exe: "/usr/bin/backup"}}),
		Dispatcher: dispatch.New(dispatch.Options{ForceSimulate: true}),
		Notifier:   notes,
	})
	guard := lifecycle.NewGuard(svc, nil, nil, nil)
	ts := httptest.NewServer(server.NewRouter(server.Options{Service: svc, Guard: guard, Notifications: notes, BasePath: "/api"}).Handler())
	t.Cleanup(ts.Close)

	out := &bytes.Buffer{}
	return command{out: out, newClient: func(APIFlags) *client.Client {
		return client.New(client.Config{BaseURL: ts.URL + "/api", Timeout: 5 * time.Second})
	}}, out
}

func TestArmRequest(t *testing.T) {
	tests := []struct {
		name    string
		flags   ArmFlags
		want    client.ArmRequest
		wantErr string
	}{
		{
			name:  "countdown",
			flags: ArmFlags{Mode: "countdown", Duration: 90 * time.Minute, PreAlerts: []int{60}},
			want:  client.ArmRequest{Mode: "countdown", DurationSec: 5400, PreAlerts: []int{60}},
		},
		{
			name:    "countdown needs duration",
			flags:   ArmFlags{Mode: "countdown"},
			wantErr: "--duration",
		},
		{
			name:  "specific time trimmed",
			flags: ArmFlags{Mode: "specificTime", At: " 23:30 "},
			want:  client.ArmRequest{Mode: "specificTime", TargetLocalTime: "23:30"},
		},
		{
			name:  "process exit",
			flags: ArmFlags{Mode: "processExit", Name: "backup", StableSec: 30},
			want: client.ArmRequest{
				Mode:             "processExit",
				ProcessSelector:  &client.Selector{Name: "backup"},
				ProcessStableSec: 30,
			},
		},
		{
			name:    "process exit without selector",
			flags:   ArmFlags{Mode: "processExit"},
			wantErr: "--pid or --name",
		},
		{
			name:    "unknown mode",
			flags:   ArmFlags{Mode: "reboot"},
			wantErr: "unknown mode",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := armRequest(tt.flags)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandsAgainstDaemon(t *testing.T) {
	c, out := newTestCommand(t)

	require.NoError(t, c.Status(StatusFlags{}))
	assert.Contains(t, out.String(), "No active schedule.")
	out.Reset()

	require.NoError(t, c.Arm(ArmFlags{Mode: "countdown", Duration: time.Hour}))
	assert.Contains(t, out.String(), "Armed ")
	out.Reset()

	require.NoError(t, c.Status(StatusFlags{}))
	assert.Contains(t, out.String(), "countdown")
	assert.Contains(t, out.String(), "Settings: final warning 60s")
	out.Reset()

	require.NoError(t, c.Postpone(PostponeFlags{Minutes: 10}))
	assert.Equal(t, "Postponed by 10 minutes.\n", out.String())
	out.Reset()

	require.NoError(t, c.Settings(SettingsFlags{FinalWarningSec: 120, FinalWarningSet: true}))
	assert.Contains(t, out.String(), `"finalWarningSec": 120`)
	out.Reset()

	require.NoError(t, c.Processes(APIFlags{}))
	assert.Contains(t, out.String(), "backup")
	out.Reset()

	require.NoError(t, c.Quit(APIFlags{}))
	assert.Contains(t, out.String(), "resolve-quit")
	out.Reset()

	require.NoError(t, c.ResolveQuit(APIFlags{}, "return"))
	out.Reset()

	require.NoError(t, c.Cancel(CancelFlags{Reason: "not tonight"}))
	assert.Equal(t, "Cancelled.\n", out.String())
	out.Reset()

	require.NoError(t, c.Notifications(APIFlags{}))
	assert.Contains(t, out.String(), "not tonight")
	out.Reset()

	require.NoError(t, c.Menu(APIFlags{}, "show-status"))
	assert.Contains(t, out.String(), "No active schedule.")
}

func TestCommandErrors(t *testing.T) {
	c, _ := newTestCommand(t)

	assert.Error(t, c.Postpone(PostponeFlags{Minutes: 10}))
	assert.Error(t, c.Menu(APIFlags{}, "reboot"))
	assert.Error(t, c.ResolveQuit(APIFlags{}, "maybe"))
	assert.ErrorContains(t, c.Arm(ArmFlags{Mode: "specificTime", At: "25:99"}), "(400)")
}

func TestStatusJSON(t *testing.T) {
	c, out := newTestCommand(t)
	require.NoError(t, c.Status(StatusFlags{JSON: true}))
	assert.Contains(t, out.String(), `"settings"`)
	assert.Contains(t, out.String(), `"statusMessage"`)
}

func TestNewAPIClientURL(t *testing.T) {
	t.Setenv(EnvAPIURL, "http://10.0.0.5:8787/api")
	assert.NotNil(t, newAPIClient(APIFlags{}))
	assert.NotNil(t, newAPIClient(APIFlags{APIUrl: "http://127.0.0.1:9000/api", APITimeout: time.Second}))
}

func TestRootCommandTree(t *testing.T) {
	root := buildRoot(&bytes.Buffer{})
	for _, name := range []string{"serve", "status", "arm", "cancel", "postpone", "settings", "processes", "quit", "resolve-quit", "menu", "notifications"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	cmd, _, err := root.Find([]string{"arm", "process-exit"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("cmdline-contains"))
}
