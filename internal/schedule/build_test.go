package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/loykin/autosd/internal/detector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)

func TestBuildCountdown(t *testing.T) {
	s, err := Build(Request{Mode: ModeCountdown, DurationSec: 3600}, DefaultSettings(), base, 7)
	require.NoError(t, err)

	assert.Equal(t, NewID(base, 7), s.ID)
	assert.Equal(t, StatusArmed, s.Status)
	assert.Equal(t, "Countdown 60m 0s", s.Summary)
	require.NotNil(t, s.TriggerAt)
	assert.True(t, s.TriggerAt.Equal(base.Add(time.Hour)))
	assert.Equal(t, []int{600, 300, 60}, s.PreAlerts)
	assert.Empty(t, s.FiredAlerts)
	require.NotNil(t, s.ShutdownAt)
	assert.True(t, s.ShutdownAt.Equal(base.Add(time.Hour+time.Minute)))
	assert.False(t, s.Committed())
}

func TestBuildValidation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"zero duration", Request{Mode: ModeCountdown}, "durationSec"},
		{"negative duration", Request{Mode: ModeCountdown, DurationSec: -5}, "durationSec"},
		{"missing time", Request{Mode: ModeSpecificTime}, "targetLocalTime"},
		{"bad time", Request{Mode: ModeSpecificTime, TargetLocalTime: "9:30"}, "targetLocalTime"},
		{"out of range time", Request{Mode: ModeSpecificTime, TargetLocalTime: "25:00"}, "targetLocalTime"},
		{"missing selector", Request{Mode: ModeProcessExit}, "processSelector"},
		{"empty selector", Request{Mode: ModeProcessExit, ProcessSelector: &detector.Selector{}}, "processSelector"},
		{"shell selector", Request{Mode: ModeProcessExit, ProcessSelector: &detector.Selector{Name: "bash"}}, "processSelector"},
		{"unknown mode", Request{Mode: "later"}, "mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.req, DefaultSettings(), base, 1)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestBuildProcessExit(t *testing.T) {
	req := Request{
		Mode:             ModeProcessExit,
		ProcessSelector:  &detector.Selector{Name: "  bash ", CmdlineContains: "nightly.sh"},
		ProcessStableSec: 2,
		PreAlerts:        []int{30},
	}
	s, err := Build(req, Settings{FinalWarningSec: 120}, base, 3)
	require.NoError(t, err)

	assert.Equal(t, "bash", s.ProcessSelector.Name)
	assert.Equal(t, MinProcessStableSec, s.ProcessStableSec)
	assert.Equal(t, 120, s.FinalWarningDurationSec)
	assert.Equal(t, []int{30}, s.PreAlerts)
	assert.Equal(t, "Shutdown when bash exits (stable 5s)", s.Summary)
	assert.Nil(t, s.TriggerAt)
	assert.Nil(t, s.ShutdownAt)

	req.ProcessSelector = &detector.Selector{PID: 4242}
	s, err = Build(req, DefaultSettings(), base, 4)
	require.NoError(t, err)
	assert.Contains(t, s.Summary, "PID 4242")
}

func TestBuildUsesFallbackFinalWarning(t *testing.T) {
	s, err := Build(Request{Mode: ModeCountdown, DurationSec: 10}, Settings{FinalWarningSec: 5}, base, 1)
	require.NoError(t, err)
	assert.Equal(t, DefaultFinalWarningSec, s.FinalWarningDurationSec)
}

func TestNextLocalTarget(t *testing.T) {
	got, err := NextLocalTarget("23:00", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), got)

	got, err = NextLocalTarget("21:30", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 21, 30, 0, 0, time.UTC), got, "a time equal to now rolls to tomorrow")

	got, err = NextLocalTarget("06:15", base)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 6, 15, 0, 0, time.UTC), got)
}

func TestNextLocalTargetDSTGap(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	// 2026-03-08 02:30 does not exist in New York.
	now := time.Date(2026, 3, 8, 0, 30, 0, 0, loc)
	_, err = NextLocalTarget("02:30", now)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestComputeShutdownAt(t *testing.T) {
	s := &Schedule{Mode: ModeProcessExit, Status: StatusArmed, FinalWarningDurationSec: 60}
	assert.Nil(t, ComputeShutdownAt(s))

	fw := base
	s.Status = StatusFinalWarning
	s.FinalWarningStartedAt = &fw
	got := ComputeShutdownAt(s)
	require.NotNil(t, got)
	assert.True(t, got.Equal(base.Add(time.Minute)))

	assert.True(t, SyncShutdownAt(s))
	assert.False(t, SyncShutdownAt(s))
}
