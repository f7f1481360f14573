package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/autosd/internal/config"
	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/history/factory"
	"github.com/loykin/autosd/internal/lifecycle"
	"github.com/loykin/autosd/internal/logger"
	"github.com/loykin/autosd/internal/metrics"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/scheduler"
	"github.com/loykin/autosd/internal/server"
	"github.com/loykin/autosd/internal/store"
	tlsx "github.com/loykin/autosd/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the scheduler daemon",
		Long: `Start the scheduler daemon. Without a config file the defaults are used
and AUTOSD_* environment variables still apply.

Examples:
  autosd serve
  autosd serve /etc/autosd/autosd.toml
  autosd serve --daemonize --pidfile=/run/autosd.pid --logfile=/var/log/autosd.out`,
		RunE: func(cmd *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServeCommand(serveFlags, args)
		},
	}
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon stdout/stderr to file")
	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if flags.Daemonize {
		if !isDaemonSupported() {
			return errors.New("daemonize is not supported on this platform")
		}
		return daemonize(flags.PidFile, flags.LogFile)
	}
	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	log, logCloser, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	d, err := startDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	go d.handleSignals(ctx)
	return d.wait()
}

// daemon is a running scheduler with its HTTP surface.
type daemon struct {
	cfg      *config.Config
	log      *slog.Logger
	svc      *scheduler.Service
	guard    *lifecycle.Guard
	exporter *history.Exporter
	api      *http.Server
	metrics  *http.Server
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// startDaemon wires every component from cfg and starts the tick loop and
// the listeners. The daemon stops when ctx is done or an exit is approved.
func startDaemon(parent context.Context, cfg *config.Config, log *slog.Logger) (*daemon, error) {
	ctx, cancel := context.WithCancel(parent)
	d := &daemon{cfg: cfg, log: log, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		d.metrics = server.NewServer(cfg.Metrics.Listen, mux, nil, log)
		log.Info("metrics listening", "addr", cfg.Metrics.Listen)
	}

	if cfg.History.Enabled {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		d.exporter = history.NewExporter(log, cfg.History.Buffer, sink)
	}

	notes := notify.NewRecorder(100)
	svc, err := scheduler.Open(scheduler.Options{
		Store:    newStateStore(cfg, log),
		Detector: detector.NewMatcher(detector.SystemTable{}),
		Dispatcher: dispatch.New(dispatch.Options{
			Timeout:       cfg.Dispatch.Timeout,
			ForceSimulate: cfg.Dispatch.ForceSimulate,
			Logger:        log,
		}),
		Notifier:     notify.Multi{notify.Log{Logger: log}, notes},
		Exporter:     d.exporter,
		Logger:       log,
		ScanTimeout:  cfg.Scan.Timeout,
		TickInterval: cfg.Scan.TickInterval,
	})
	if err != nil {
		d.closeAux()
		cancel()
		return nil, err
	}
	d.svc = svc
	win := lifecycle.Headless{Logger: log}
	d.guard = lifecycle.NewGuard(svc, win, cancel, log)

	tlsCfg, err := tlsx.SetupTLS(cfg.Server)
	if err != nil {
		d.closeAux()
		cancel()
		return nil, fmt.Errorf("tls: %w", err)
	}
	router := server.NewRouter(server.Options{
		Service:       svc,
		Guard:         d.guard,
		Menu:          lifecycle.NewMenu(svc, d.guard, win),
		Notifications: notes,
		Logger:        log,
		BasePath:      cfg.Server.BasePath,
	})
	d.api = server.NewServer(cfg.Server.Listen, router.Handler(), tlsCfg, log)
	protocol := "http"
	if tlsCfg != nil {
		protocol = "https"
	}
	log.Info("autosd listening", "protocol", protocol, "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath, "state", cfg.StatePath)

	go func() {
		defer close(d.done)
		svc.Run(ctx)
	}()
	return d, nil
}

func newStateStore(cfg *config.Config, log *slog.Logger) scheduler.Store {
	return store.NewFileStore(afero.NewOsFs(), cfg.StatePath, log)
}

// handleSignals routes the first SIGINT/SIGTERM through the exit guard; a
// second one while the exit is guarded forces it.
func (d *daemon) handleSignals(ctx context.Context) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	guarded := false
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigCh:
			if guarded {
				d.log.Warn("forced exit; the armed schedule is discarded on next start", "signal", sig.String())
				d.cancel()
				return
			}
			if d.guard.RequestExit("signal") == lifecycle.GuardRequested {
				guarded = true
				d.log.Warn("exit guarded by armed schedule; resolve with 'autosd resolve-quit' or signal again to force", "signal", sig.String())
			}
		}
	}
}

// wait blocks until the daemon context ends, then stops the listeners.
func (d *daemon) wait() error {
	<-d.ctx.Done()
	<-d.done
	if d.guard.ConsumeAllowExit() {
		d.log.Info("exit approved")
	}
	d.log.Info("shutting down")

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	if err := d.api.Shutdown(sctx); err != nil {
		errs = append(errs, err)
	}
	d.closeAux()
	return errors.Join(errs...)
}

func (d *daemon) closeAux() {
	if d.metrics != nil {
		_ = d.metrics.Close()
	}
	d.exporter.Close()
}

// Stop ends the daemon without going through the exit guard.
func (d *daemon) Stop() { d.cancel() }
