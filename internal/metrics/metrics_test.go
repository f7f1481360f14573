package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	// idempotent: calling again should be no-op
	require.NoError(t, Register(reg))

	IncArmed("countdown")
	IncAlert("600")
	RecordTransition("armed", "finalWarning")
	SetActiveStatus("armed", []string{"armed", "finalWarning", "shuttingDown"})
	IncExecution("ok", true)
	IncTickFailure()
	IncLockRecovery()
	IncStateRecovery("backup")
	ObserveScan("pidTree", 0.01)
	SetMatchedPIDs(3)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	wantNames := map[string]bool{
		"autosd_schedule_armed_total":          false,
		"autosd_schedule_alerts_total":         false,
		"autosd_schedule_transitions_total":    false,
		"autosd_schedule_active_status":        false,
		"autosd_dispatch_executions_total":     false,
		"autosd_driver_tick_failures_total":    false,
		"autosd_store_lock_recoveries_total":   false,
		"autosd_store_state_recoveries_total":  false,
		"autosd_process_scan_duration_seconds": false,
		"autosd_process_matched_pids":          false,
	}
	for _, mf := range mfs {
		if _, ok := wantNames[mf.GetName()]; ok {
			wantNames[mf.GetName()] = true
			assert.NotEmpty(t, mf.GetMetric(), mf.GetName())
		}
	}
	for n, ok := range wantNames {
		assert.True(t, ok, "expected to find metric %s", n)
	}
}

func TestActiveStatusIsOneHot(t *testing.T) {
	reg := freshRegistry(t)
	known := []string{"armed", "finalWarning", "shuttingDown"}
	SetActiveStatus("finalWarning", known)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "autosd_schedule_active_status" {
			continue
		}
		for _, m := range mf.GetMetric() {
			want := 0.0
			if m.GetLabel()[0].GetValue() == "finalWarning" {
				want = 1
			}
			assert.Equal(t, want, m.GetGauge().GetValue())
		}
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	require.NoError(t, Register(prometheus.DefaultRegisterer))

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncArmed("processExit")

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, _ := io.ReadAll(resp.Body)
	assert.True(t, strings.Contains(string(b), "autosd_schedule_armed_total"))
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncArmed("countdown")
			IncExecution("error", false)
			IncTickFailure()
		}()
	}
	wg.Wait()
	_, err := reg.Gather()
	assert.NoError(t, err)
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// These should be no-ops and not panic when called before Register
	IncArmed("countdown")
	IncAlert("60")
	RecordTransition("a", "b")
	SetActiveStatus("", []string{"armed"})
	IncExecution("ok", false)
	IncTickFailure()
	IncLockRecovery()
	IncStateRecovery("defaults")
	ObserveScan("none", 1)
	SetMatchedPIDs(0)
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(errorRegisterer{})
	require.Error(t, err)
	assert.Equal(t, "test registration error", err.Error())
	assert.False(t, regOK.Load())
}

type errorRegisterer struct{}

func (errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (errorRegisterer) MustRegister(...prometheus.Collector) {}

func (errorRegisterer) Unregister(prometheus.Collector) bool { return false }
