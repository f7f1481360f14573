package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vals map[string]string) func(string) string {
	return func(k string) string { return vals[k] }
}

type recordRunner struct {
	calls [][]string
	out   []byte
	err   error
	block bool
}

func (r *recordRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, append([]string{name}, args...))
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return r.out, r.err
}

func TestPlanCommandLines(t *testing.T) {
	tests := []struct {
		goos  string
		line  string
		abort string
	}{
		{"windows", "shutdown /s /t 30", "shutdown /a"},
		{"darwin", `osascript -e 'tell application "System Events" to shut down'`, ""},
		{"linux", "shutdown -h +1", "shutdown -c"},
		{"plan9", "shutdown command unsupported on this OS", ""},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			p := PlanFor(tt.goos)
			assert.Equal(t, tt.line, p.CommandLine())
			assert.Equal(t, tt.abort, p.AbortHint)
		})
	}
}

func TestReportLogLine(t *testing.T) {
	r := Report{CommandLine: "shutdown -h +1", AbortHint: "shutdown -c", DryRun: true}
	assert.Equal(t, "DRY_RUN_SHUTDOWN_COMMAND: shutdown -h +1 (abort: shutdown -c)", r.LogLine())
	r = Report{CommandLine: "osascript", DryRun: false}
	assert.Equal(t, "SHUTDOWN_COMMAND_SENT: osascript", r.LogLine())
}

func TestForceSimulate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		cfg  bool
		want bool
	}{
		{"nothing set", nil, false, false},
		{"config", nil, true, true},
		{"env on", map[string]string{EnvForceSimulate: "1"}, false, true},
		{"env yes", map[string]string{EnvForceSimulate: " yes "}, false, true},
		{"env off", map[string]string{EnvForceSimulate: "OFF"}, false, false},
		{"env false", map[string]string{EnvForceSimulate: "false"}, false, false},
		{"ci", map[string]string{"CI": "TRUE"}, false, true},
		{"ci other", map[string]string{"CI": "1"}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(Options{GOOS: "linux", ForceSimulate: tt.cfg, Getenv: env(tt.env)})
			assert.Equal(t, tt.want, d.ForceSimulate())
		})
	}
}

func TestDispatchDryRunDoesNotExecute(t *testing.T) {
	rr := &recordRunner{}
	d := New(Options{GOOS: "linux", Getenv: env(nil), Runner: rr.run})
	r, err := d.Dispatch(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, r.DryRun)
	assert.Empty(t, rr.calls)

	d = New(Options{GOOS: "linux", Getenv: env(map[string]string{"CI": "true"}), Runner: rr.run})
	r, err = d.Dispatch(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, r.DryRun)
	assert.Empty(t, rr.calls)
}

func TestDispatchRunsPlan(t *testing.T) {
	rr := &recordRunner{}
	d := New(Options{GOOS: "windows", Getenv: env(nil), Runner: rr.run})
	r, err := d.Dispatch(context.Background(), false)
	require.NoError(t, err)
	assert.False(t, r.DryRun)
	assert.Equal(t, [][]string{{"shutdown", "/s", "/t", "30"}}, rr.calls)
}

func TestDispatchFailure(t *testing.T) {
	rr := &recordRunner{out: []byte("permission denied\n"), err: errors.New("exit status 1")}
	d := New(Options{GOOS: "linux", Getenv: env(nil), Runner: rr.run})
	_, err := d.Dispatch(context.Background(), false)
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "permission denied", de.Output)
	assert.Contains(t, err.Error(), "shutdown -h +1")
}

func TestDispatchTimeout(t *testing.T) {
	rr := &recordRunner{block: true}
	d := New(Options{GOOS: "linux", Getenv: env(nil), Runner: rr.run, Timeout: 20 * time.Millisecond})
	_, err := d.Dispatch(context.Background(), false)
	var de *DispatchError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatchUnsupportedOS(t *testing.T) {
	d := New(Options{GOOS: "plan9", Getenv: env(nil)})
	_, err := d.Dispatch(context.Background(), false)
	assert.ErrorIs(t, err, ErrUnsupported)

	r, err := d.Dispatch(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, r.DryRun)
}
