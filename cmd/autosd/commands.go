package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/loykin/autosd/pkg/client"
)

// EnvAPIURL overrides the default daemon URL for client commands.
const EnvAPIURL = "AUTOSD_API_URL"

type command struct {
	out       io.Writer
	newClient func(APIFlags) *client.Client
}

func newAPIClient(f APIFlags) *client.Client {
	cfg := client.DefaultConfig()
	switch {
	case f.APIUrl != "":
		cfg.BaseURL = f.APIUrl
	case os.Getenv(EnvAPIURL) != "":
		cfg.BaseURL = os.Getenv(EnvAPIURL)
	}
	if f.APITimeout > 0 {
		cfg.Timeout = f.APITimeout
	}
	cfg.Insecure = f.Insecure
	return client.New(cfg)
}

func (c command) ctx(f APIFlags) (context.Context, context.CancelFunc) {
	timeout := f.APITimeout
	if timeout <= 0 {
		timeout = client.DefaultConfig().Timeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

func (c command) Status(f StatusFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	snap, err := c.newClient(f.APIFlags).Snapshot(ctx)
	if err != nil {
		return err
	}
	if f.JSON {
		printJSON(c.out, snap)
		return nil
	}

	_, _ = fmt.Fprintf(c.out, "Status:   %s\n", snap.StatusMessage)
	if a := snap.Active; a != nil {
		_, _ = fmt.Fprintf(c.out, "Schedule: %s (%s, %s) %s\n", a.ID, a.Mode, a.Status, a.Summary)
		if len(a.FiredAlerts) > 0 {
			_, _ = fmt.Fprintf(c.out, "Alerts:   %v fired of %v\n", a.FiredAlerts, a.PreAlerts)
		}
	}
	s := snap.Settings
	_, _ = fmt.Fprintf(c.out, "Settings: final warning %ds, alerts %v, simulate-only %t\n", s.FinalWarningSec, s.DefaultPreAlerts, s.SimulateOnly)
	if p := snap.PendingExit; p != nil {
		_, _ = fmt.Fprintf(c.out, "Pending exit from %s while %s; answer with 'autosd resolve-quit'\n", p.Source, p.Status)
	}
	hist := snap.History
	if len(hist) > 5 {
		hist = hist[len(hist)-5:]
	}
	for _, e := range hist {
		_, _ = fmt.Fprintf(c.out, "  %s  %-24s %-5s %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Type, e.Result, e.Reason)
	}
	return nil
}

// armRequest turns flags into an API request. Mode-specific checks are left
// to the daemon.
func armRequest(f ArmFlags) (client.ArmRequest, error) {
	req := client.ArmRequest{Mode: f.Mode, PreAlerts: f.PreAlerts}
	switch f.Mode {
	case "countdown":
		if f.Duration <= 0 {
			return req, errors.New("--duration must be positive")
		}
		req.DurationSec = int(f.Duration.Seconds())
	case "specificTime":
		req.TargetLocalTime = strings.TrimSpace(f.At)
	case "processExit":
		sel := client.Selector{PID: f.PID, Name: f.Name, Executable: f.Executable, CmdlineContains: f.CmdlineContains}
		if sel == (client.Selector{}) {
			return req, errors.New("one of --pid or --name is required")
		}
		req.ProcessSelector = &sel
		req.ProcessStableSec = f.StableSec
	default:
		return req, fmt.Errorf("unknown mode %q", f.Mode)
	}
	return req, nil
}

func (c command) Arm(f ArmFlags) error {
	req, err := armRequest(f)
	if err != nil {
		return err
	}
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	s, err := c.newClient(f.APIFlags).Arm(ctx, req)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Armed %s: %s\n", s.ID, s.Summary)
	return nil
}

func (c command) Cancel(f CancelFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	if err := c.newClient(f.APIFlags).Cancel(ctx, f.Reason); err != nil {
		if client.IsConflict(err) {
			return fmt.Errorf("shutdown already in progress and cannot be cancelled: %w", err)
		}
		return err
	}
	_, _ = fmt.Fprintln(c.out, "Cancelled.")
	return nil
}

func (c command) Postpone(f PostponeFlags) error {
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	if err := c.newClient(f.APIFlags).Postpone(ctx, f.Minutes, f.Reason); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(c.out, "Postponed by %d minutes.\n", f.Minutes)
	return nil
}

func (c command) Settings(f SettingsFlags) error {
	u := client.SettingsUpdate{DefaultPreAlerts: f.PreAlerts}
	if f.FinalWarningSet {
		v := f.FinalWarningSec
		u.FinalWarningSec = &v
	}
	if f.SimulateOnlySet {
		v := f.SimulateOnly
		u.SimulateOnly = &v
	}
	ctx, cancel := c.ctx(f.APIFlags)
	defer cancel()
	s, err := c.newClient(f.APIFlags).UpdateSettings(ctx, u)
	if err != nil {
		return err
	}
	printJSON(c.out, s)
	return nil
}

func (c command) Processes(f APIFlags) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	list, err := c.newClient(f).Processes(ctx)
	if err != nil {
		return err
	}
	for _, p := range list {
		_, _ = fmt.Fprintf(c.out, "%7d  %-24s %s\n", p.PID, p.Name, p.Executable)
	}
	return nil
}

func (c command) Quit(f APIFlags) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	res, err := c.newClient(f).Quit(ctx, "cli")
	if err != nil {
		return err
	}
	if res.Decision == "guardRequested" {
		_, _ = fmt.Fprintln(c.out, "A schedule is armed. Run 'autosd resolve-quit cancelAndQuit|keepBackground|return'.")
		return nil
	}
	_, _ = fmt.Fprintln(c.out, "Daemon is exiting.")
	return nil
}

func (c command) ResolveQuit(f APIFlags, action string) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	res, err := c.newClient(f).ResolveQuit(ctx, action)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Menu(f APIFlags, action string) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	res, err := c.newClient(f).Menu(ctx, action)
	if err != nil {
		return err
	}
	printJSON(c.out, res)
	return nil
}

func (c command) Notifications(f APIFlags) error {
	ctx, cancel := c.ctx(f)
	defer cancel()
	list, err := c.newClient(f).Notifications(ctx)
	if err != nil {
		return err
	}
	for _, n := range list {
		_, _ = fmt.Fprintf(c.out, "[%s] %s\n", n.Title, n.Body)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}
