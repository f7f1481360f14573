package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
)

// EnvForceSimulate forces dry runs when set to anything but "", 0, false or off.
const EnvForceSimulate = "AUTOSD_FORCE_SIMULATE_ONLY"

const DefaultTimeout = 30 * time.Second

// Report describes a dispatched (or simulated) shutdown command.
type Report struct {
	CommandLine string `json:"commandLine"`
	AbortHint   string `json:"abortHint,omitempty"`
	DryRun      bool   `json:"dryRun"`
}

// LogLine is the history reason recorded for an executed schedule.
func (r Report) LogLine() string {
	prefix := "SHUTDOWN_COMMAND_SENT"
	if r.DryRun {
		prefix = "DRY_RUN_SHUTDOWN_COMMAND"
	}
	line := prefix + ": " + r.CommandLine
	if r.AbortHint != "" {
		line += " (abort: " + r.AbortHint + ")"
	}
	return line
}

// DispatchError reports a shutdown command that could not be run or failed.
type DispatchError struct {
	CommandLine string
	Output      string
	Err         error
}

func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("shutdown command %q failed: %v", e.CommandLine, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Runner executes name with args and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures a Dispatcher. Zero values select the defaults.
type Options struct {
	Timeout       time.Duration
	ForceSimulate bool
	// GOOS selects the command plan; empty means runtime.GOOS.
	GOOS   string
	Getenv func(string) string
	Runner Runner
	Logger *slog.Logger
}

// Dispatcher runs the platform shutdown command.
type Dispatcher struct {
	plan          Plan
	timeout       time.Duration
	forceSimulate bool
	getenv        func(string) string
	run           Runner
	log           *slog.Logger
}

func New(opts Options) *Dispatcher {
	goos := opts.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	d := &Dispatcher{
		plan:          PlanFor(goos),
		timeout:       opts.Timeout,
		forceSimulate: opts.ForceSimulate,
		getenv:        opts.Getenv,
		run:           opts.Runner,
		log:           opts.Logger,
	}
	if d.timeout <= 0 {
		d.timeout = DefaultTimeout
	}
	if d.getenv == nil {
		d.getenv = os.Getenv
	}
	if d.run == nil {
		d.run = runCommand
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	return d
}

// Plan returns the command plan in use.
func (d *Dispatcher) Plan() Plan { return d.plan }

// ForceSimulate reports whether dry runs are forced by configuration or
// environment, regardless of the user's setting.
func (d *Dispatcher) ForceSimulate() bool {
	if d.forceSimulate {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(d.getenv(EnvForceSimulate))) {
	case "", "0", "false", "off":
	default:
		return true
	}
	return strings.EqualFold(strings.TrimSpace(d.getenv("CI")), "true")
}

// Dispatch runs the shutdown command, or only reports it when simulateOnly
// or a forced dry run is in effect.
func (d *Dispatcher) Dispatch(ctx context.Context, simulateOnly bool) (Report, error) {
	r := Report{
		CommandLine: d.plan.CommandLine(),
		AbortHint:   d.plan.AbortHint,
		DryRun:      simulateOnly || d.ForceSimulate(),
	}
	if r.DryRun {
		d.log.Info("shutdown dry run", "command", r.CommandLine)
		return r, nil
	}
	if d.plan.Name == "" {
		return r, &DispatchError{CommandLine: r.CommandLine, Err: ErrUnsupported}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	d.log.Warn("sending shutdown command", "command", r.CommandLine)
	out, err := d.run(ctx, d.plan.Name, d.plan.Args...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", d.timeout, context.DeadlineExceeded)
		}
		return r, &DispatchError{CommandLine: r.CommandLine, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return r, nil
}
