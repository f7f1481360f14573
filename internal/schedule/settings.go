package schedule

import (
	"fmt"
	"sort"
)

const (
	DefaultFinalWarningSec = 60
	MinFinalWarningSec     = 15
	MaxFinalWarningSec     = 300

	MaxAlertSec = 24 * 60 * 60

	DefaultProcessStableSec = 10
	MinProcessStableSec     = 5
	MaxProcessStableSec     = 600

	MaxPostponeMinutes = 24 * 60
)

// DefaultPreAlerts returns the built-in pre-alert thresholds in seconds.
func DefaultPreAlerts() []int { return []int{600, 300, 60} }

// Settings are the user preferences that outlive any one schedule.
type Settings struct {
	DefaultPreAlerts []int `json:"defaultPreAlerts"`
	FinalWarningSec  int   `json:"finalWarningSec"`
	SimulateOnly     bool  `json:"simulateOnly"`
}

// SettingsUpdate is a partial update; nil fields are left unchanged.
type SettingsUpdate struct {
	DefaultPreAlerts []int `json:"defaultPreAlerts,omitempty"`
	FinalWarningSec  *int  `json:"finalWarningSec,omitempty"`
	SimulateOnly     *bool `json:"simulateOnly,omitempty"`
}

func DefaultSettings() Settings {
	return Settings{
		DefaultPreAlerts: DefaultPreAlerts(),
		FinalWarningSec:  DefaultFinalWarningSec,
	}
}

// Normalize repairs out-of-range values in place.
func (s *Settings) Normalize() {
	s.DefaultPreAlerts = NormalizeAlerts(s.DefaultPreAlerts)
	s.FinalWarningSec = NormalizeFinalWarning(s.FinalWarningSec)
}

// Apply validates u and merges it into a copy of s.
func (s Settings) Apply(u SettingsUpdate) (Settings, error) {
	next := s
	next.DefaultPreAlerts = append([]int(nil), s.DefaultPreAlerts...)
	if u.DefaultPreAlerts != nil {
		next.DefaultPreAlerts = NormalizeAlerts(u.DefaultPreAlerts)
	}
	if u.FinalWarningSec != nil {
		v, err := ValidateFinalWarning(*u.FinalWarningSec)
		if err != nil {
			return s, err
		}
		next.FinalWarningSec = v
	}
	if u.SimulateOnly != nil {
		next.SimulateOnly = *u.SimulateOnly
	}
	return next, nil
}

// NormalizeAlerts keeps thresholds in (0, MaxAlertSec], removes duplicates and
// sorts them descending. An empty result yields the defaults.
func NormalizeAlerts(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if v <= 0 || v > MaxAlertSec {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return DefaultPreAlerts()
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// NormalizeFinalWarning replaces an out-of-range duration with the default.
func NormalizeFinalWarning(sec int) int {
	if sec < MinFinalWarningSec || sec > MaxFinalWarningSec {
		return DefaultFinalWarningSec
	}
	return sec
}

// ValidateFinalWarning rejects an out-of-range duration.
func ValidateFinalWarning(sec int) (int, error) {
	if sec < MinFinalWarningSec || sec > MaxFinalWarningSec {
		return 0, &ValidationError{
			Field: "finalWarningSec",
			Msg:   fmt.Sprintf("must be between %d and %d seconds", MinFinalWarningSec, MaxFinalWarningSec),
		}
	}
	return sec, nil
}

// NormalizeStableSec applies the default for 0 and clamps to the allowed range.
func NormalizeStableSec(sec int) int {
	if sec == 0 {
		return DefaultProcessStableSec
	}
	if sec < MinProcessStableSec {
		return MinProcessStableSec
	}
	if sec > MaxProcessStableSec {
		return MaxProcessStableSec
	}
	return sec
}
