package autosd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	cfg "github.com/loykin/autosd/internal/config"
	"github.com/loykin/autosd/internal/detector"
	"github.com/loykin/autosd/internal/dispatch"
	"github.com/loykin/autosd/internal/history"
	"github.com/loykin/autosd/internal/lifecycle"
	"github.com/loykin/autosd/internal/metrics"
	"github.com/loykin/autosd/internal/notify"
	"github.com/loykin/autosd/internal/schedule"
	"github.com/loykin/autosd/internal/scheduler"
	iapi "github.com/loykin/autosd/internal/server"
	"github.com/loykin/autosd/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// Re-export core types for external consumers.

type Request = schedule.Request

type Schedule = schedule.Schedule

type Settings = schedule.Settings

type SettingsUpdate = schedule.SettingsUpdate

type Selector = detector.Selector

type Snapshot = scheduler.Snapshot

type HistoryEvent = history.Event

type HistorySink = history.Sink

type Config = cfg.Config

type Mode = schedule.Mode

const (
	ModeCountdown    = schedule.ModeCountdown
	ModeSpecificTime = schedule.ModeSpecificTime
	ModeProcessExit  = schedule.ModeProcessExit
)

// Options configure an embedded Scheduler. StatePath is required.
//
// ForceSimulate makes every dispatch a dry run whatever the persisted
// simulate-only setting says; the setting itself is left untouched.
type Options struct {
	StatePath     string
	ForceSimulate bool
	Logger        *slog.Logger
	Notify        func(title, body string)
	HistorySinks  []HistorySink
	ScanTimeout   time.Duration
	TickInterval  time.Duration
	DispatchLimit time.Duration
}

// Scheduler is a thin facade over internal/scheduler.Service for embedding.
type Scheduler struct {
	inner    *scheduler.Service
	guard    *lifecycle.Guard
	exporter *history.Exporter
}

// New loads the state at opts.StatePath and returns a scheduler. Call Run to
// start evaluating the schedule.
func New(opts Options) (*Scheduler, error) {
	var n notify.Notifier = notify.Log{Logger: opts.Logger}
	if opts.Notify != nil {
		n = notify.Func(opts.Notify)
	}
	var exp *history.Exporter
	if len(opts.HistorySinks) > 0 {
		exp = history.NewExporter(opts.Logger, 0, opts.HistorySinks...)
	}
	svc, err := scheduler.Open(scheduler.Options{
		Store:    store.NewFileStore(afero.NewOsFs(), opts.StatePath, opts.Logger),
		Detector: detector.NewMatcher(detector.SystemTable{}),
		Dispatcher: dispatch.New(dispatch.Options{
			Timeout:       opts.DispatchLimit,
			ForceSimulate: opts.ForceSimulate,
			Logger:        opts.Logger,
		}),
		Notifier:     n,
		Exporter:     exp,
		Logger:       opts.Logger,
		ScanTimeout:  opts.ScanTimeout,
		TickInterval: opts.TickInterval,
	})
	if err != nil {
		exp.Close()
		return nil, err
	}
	return &Scheduler{inner: svc, guard: lifecycle.NewGuard(svc, nil, nil, opts.Logger), exporter: exp}, nil
}

func (s *Scheduler) Run(ctx context.Context) { s.inner.Run(ctx) }

func (s *Scheduler) Arm(r Request) (*Schedule, error) { return s.inner.Arm(r) }

func (s *Scheduler) Cancel(reason string) error { return s.inner.Cancel(reason) }

func (s *Scheduler) Postpone(minutes int, reason string) error {
	return s.inner.Postpone(minutes, reason)
}

func (s *Scheduler) UpdateSettings(u SettingsUpdate) (Settings, error) {
	return s.inner.UpdateSettings(u)
}

func (s *Scheduler) Snapshot() Snapshot { return s.inner.Snapshot() }

func (s *Scheduler) StatusMessage() string { return s.inner.StatusMessage() }

// Close flushes pending history events and closes the sinks.
func (s *Scheduler) Close() { s.exporter.Close() }

func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewHTTPServer starts an HTTP server exposing the scheduler API.
func NewHTTPServer(addr, basePath string, s *Scheduler) *http.Server {
	r := iapi.NewRouter(iapi.Options{Service: s.inner, Guard: s.guard, BasePath: basePath})
	return iapi.NewServer(addr, r.Handler(), nil, nil)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }
