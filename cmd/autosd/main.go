package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// buildRoot creates the root command. Command output goes to out.
func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	cmd := command{out: out, newClient: newAPIClient}

	root := createRootCommand(globalFlags)
	root.SetOut(out)
	root.AddCommand(
		createServeCommand(globalFlags),
		createStatusCommand(cmd),
		createArmCommand(cmd),
		createCancelCommand(cmd),
		createPostponeCommand(cmd),
		createSettingsCommand(cmd),
		createProcessesCommand(cmd),
		createQuitCommand(cmd),
		createResolveQuitCommand(cmd),
		createMenuCommand(cmd),
		createNotificationsCommand(cmd),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "autosd",
		Short: "Automatic shutdown scheduler",
		Long: `autosd shuts the machine down after a countdown, at a wall-clock time,
or once a watched process has exited. A daemon owns the schedule; the other
commands talk to it over HTTP.

Examples:
  autosd serve --config=/etc/autosd/autosd.toml
  autosd arm countdown --duration=90m
  autosd arm at 23:30
  autosd arm process-exit --name=backup --cmdline-contains=nightly
  autosd status
  autosd postpone --minutes=10
  autosd cancel`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

// addAPIFlags registers the daemon connection flags on cmd.
func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8787/api, env AUTOSD_API_URL)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")
}

func createStatusCommand(c command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active schedule",
		Long: `Show the active schedule, settings and recent history.

Examples:
  autosd status
  autosd status --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(*f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print the full snapshot as JSON")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createArmCommand(c command) *cobra.Command {
	f := &ArmFlags{}
	cmd := &cobra.Command{
		Use:   "arm",
		Short: "Arm a shutdown schedule",
		Long: `Arm a shutdown schedule, replacing the current one unless it is
already committed to shutting down.`,
	}
	cmd.PersistentFlags().IntSliceVar(&f.PreAlerts, "alerts", nil, "pre-alert thresholds in seconds (default from settings)")
	cmd.PersistentFlags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (default http://127.0.0.1:8787/api, env AUTOSD_API_URL)")
	cmd.PersistentFlags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")

	countdown := &cobra.Command{
		Use:   "countdown",
		Short: "Shut down after a duration",
		Example: `  autosd arm countdown --duration=45m
  autosd arm countdown --duration=2h --alerts=600,60`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Mode = "countdown"
			return c.Arm(*f)
		},
	}
	countdown.Flags().DurationVar(&f.Duration, "duration", time.Hour, "time until shutdown")

	at := &cobra.Command{
		Use:     "at HH:MM",
		Short:   "Shut down at the next occurrence of a local time",
		Example: "  autosd arm at 23:30",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Mode = "specificTime"
			f.At = args[0]
			return c.Arm(*f)
		},
	}

	procExit := &cobra.Command{
		Use:   "process-exit",
		Short: "Shut down once a process has exited",
		Example: `  autosd arm process-exit --pid=4242
  autosd arm process-exit --name=python3 --cmdline-contains=train.py --stable=30`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Mode = "processExit"
			return c.Arm(*f)
		},
	}
	procExit.Flags().IntVar(&f.PID, "pid", 0, "process id")
	procExit.Flags().StringVar(&f.Name, "name", "", "process name")
	procExit.Flags().StringVar(&f.Executable, "executable", "", "full executable path")
	procExit.Flags().StringVar(&f.CmdlineContains, "cmdline-contains", "", "substring of the command line")
	procExit.Flags().IntVar(&f.StableSec, "stable", 0, "seconds the process must stay gone (default 10)")

	cmd.AddCommand(countdown, at, procExit)
	return cmd
}

func createCancelCommand(c command) *cobra.Command {
	f := &CancelFlags{}
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Cancel(*f)
		},
	}
	cmd.Flags().StringVar(&f.Reason, "reason", "", "reason recorded in history")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createPostponeCommand(c command) *cobra.Command {
	f := &PostponeFlags{}
	cmd := &cobra.Command{
		Use:   "postpone",
		Short: "Postpone the active schedule",
		Long: `Postpone the active schedule. A time-based schedule becomes a countdown
of the given length; a process-exit schedule keeps watching but cannot enter
the final warning before the snooze ends.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Postpone(*f)
		},
	}
	cmd.Flags().IntVar(&f.Minutes, "minutes", 10, "minutes to postpone (1-1440)")
	cmd.Flags().StringVar(&f.Reason, "reason", "", "reason recorded in history")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createSettingsCommand(c command) *cobra.Command {
	f := &SettingsFlags{}
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Change scheduler settings",
		Example: `  autosd settings --final-warning=120
  autosd settings --alerts=900,300,60 --simulate-only=true`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.FinalWarningSet = cmd.Flags().Changed("final-warning")
			f.SimulateOnlySet = cmd.Flags().Changed("simulate-only")
			return c.Settings(*f)
		},
	}
	cmd.Flags().IntSliceVar(&f.PreAlerts, "alerts", nil, "default pre-alert thresholds in seconds")
	cmd.Flags().IntVar(&f.FinalWarningSec, "final-warning", 0, "final warning length in seconds (15-300)")
	cmd.Flags().BoolVar(&f.SimulateOnly, "simulate-only", false, "log the shutdown command instead of running it")
	addAPIFlags(cmd, &f.APIFlags)
	return cmd
}

func createProcessesCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "processes",
		Short: "List running processes for building a selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Processes(*f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createQuitCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "quit",
		Short: "Ask the daemon to exit",
		Long: `Ask the daemon to exit. While a schedule is armed the request is guarded
and must be answered with 'autosd resolve-quit'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Quit(*f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createResolveQuitCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:       "resolve-quit cancelAndQuit|keepBackground|return",
		Short:     "Answer a guarded quit request",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"cancelAndQuit", "keepBackground", "return"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.ResolveQuit(*f, args[0])
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createMenuCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "menu ACTION",
		Short: "Run a tray menu action",
		Long: `Run a tray menu action: quick-start-last-request, show-status,
show-window, cancel, snooze-10-minutes or quit.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Menu(*f, args[0])
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createNotificationsCommand(c command) *cobra.Command {
	f := &APIFlags{}
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Print and clear queued notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Notifications(*f)
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}
