package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	armed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "schedule",
			Name:      "armed_total",
			Help:      "Number of schedules armed, by mode.",
		}, []string{"mode"},
	)
	alerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "schedule",
			Name:      "alerts_total",
			Help:      "Number of pre-alerts fired, by threshold in seconds.",
		}, []string{"threshold"},
	)
	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "schedule",
			Name:      "transitions_total",
			Help:      "Number of schedule status transitions.",
		}, []string{"from", "to"},
	)
	activeStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "autosd",
			Subsystem: "schedule",
			Name:      "active_status",
			Help:      "Status of the active schedule (1 = current status, 0 = otherwise).",
		}, []string{"status"},
	)
	executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "dispatch",
			Name:      "executions_total",
			Help:      "Number of shutdown dispatches, by result and dry-run flag.",
		}, []string{"result", "dry_run"},
	)
	tickFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "driver",
			Name:      "tick_failures_total",
			Help:      "Number of ticks aborted by a recovered panic.",
		},
	)
	lockRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "store",
			Name:      "lock_recoveries_total",
			Help:      "Number of times the state lock was reacquired after a holder panicked.",
		},
	)
	stateRecoveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "autosd",
			Subsystem: "store",
			Name:      "state_recoveries_total",
			Help:      "Number of persisted state recoveries, by kind (backup, defaults).",
		}, []string{"kind"},
	)
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "autosd",
			Subsystem: "process",
			Name:      "scan_duration_seconds",
			Help:      "Duration of process liveness scans, by matching source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"},
	)
	matchedPIDs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "autosd",
			Subsystem: "process",
			Name:      "matched_pids",
			Help:      "Number of PIDs matched by the last scan of the active schedule.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{armed, alerts, transitions, activeStatus, executions, tickFailures, lockRecoveries, stateRecoveries, scanDuration, matchedPIDs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncArmed(mode string) {
	if regOK.Load() {
		armed.WithLabelValues(mode).Inc()
	}
}

func IncAlert(threshold string) {
	if regOK.Load() {
		alerts.WithLabelValues(threshold).Inc()
	}
}

func RecordTransition(from, to string) {
	if regOK.Load() {
		transitions.WithLabelValues(from, to).Inc()
	}
}

// SetActiveStatus marks status as the current one among known. An empty
// status clears every gauge (no active schedule).
func SetActiveStatus(status string, known []string) {
	if !regOK.Load() {
		return
	}
	for _, k := range known {
		v := 0.0
		if k == status {
			v = 1
		}
		activeStatus.WithLabelValues(k).Set(v)
	}
}

func IncExecution(result string, dryRun bool) {
	if regOK.Load() {
		d := "false"
		if dryRun {
			d = "true"
		}
		executions.WithLabelValues(result, d).Inc()
	}
}

func IncTickFailure() {
	if regOK.Load() {
		tickFailures.Inc()
	}
}

func IncLockRecovery() {
	if regOK.Load() {
		lockRecoveries.Inc()
	}
}

func IncStateRecovery(kind string) {
	if regOK.Load() {
		stateRecoveries.WithLabelValues(kind).Inc()
	}
}

func ObserveScan(source string, seconds float64) {
	if regOK.Load() {
		scanDuration.WithLabelValues(source).Observe(seconds)
	}
}

func SetMatchedPIDs(n int) {
	if regOK.Load() {
		matchedPIDs.Set(float64(n))
	}
}
