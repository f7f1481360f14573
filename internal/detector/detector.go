package detector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Source names the matching layer that produced a positive result.
type Source string

const (
	SourcePIDTree      Source = "pidTree"
	SourceTrackedPIDs  Source = "trackedPids"
	SourceAdvanced     Source = "advanced"
	SourceNameFallback Source = "nameFallback"
	SourceNone         Source = "none"
)

// Selector identifies the process a processExit schedule waits on.
// Empty strings mean "not set"; PID 0 means "not set".
type Selector struct {
	PID             int    `json:"pid,omitempty"`
	Name            string `json:"name,omitempty"`
	Executable      string `json:"executable,omitempty"`
	CmdlineContains string `json:"cmdlineContains,omitempty"`
}

// Result is the outcome of one liveness query.
type Result struct {
	Running     bool   `json:"running"`
	MatchedPIDs []int  `json:"matchedPids"`
	Source      Source `json:"source"`
	Degraded    bool   `json:"degraded"`
}

// Detector decides whether the process described by a selector is alive.
// Implementations must be safe for concurrent use.
type Detector interface {
	IsRunning(ctx context.Context, sel Selector, tracked []int) (Result, error)
	List(ctx context.Context) ([]ProcessInfo, error)
}

// ProcessInfo is one row of a process listing.
type ProcessInfo struct {
	PID        int    `json:"pid"`
	Name       string `json:"name"`
	Executable string `json:"executable,omitempty"`
	StartUnix  int64  `json:"startUnix,omitempty"`
}

// Normalize trims every text field.
func (s Selector) Normalize() Selector {
	return Selector{
		PID:             s.PID,
		Name:            strings.TrimSpace(s.Name),
		Executable:      strings.TrimSpace(s.Executable),
		CmdlineContains: strings.TrimSpace(s.CmdlineContains),
	}
}

// HasAdvanced reports whether an executable or cmdline criterion is present.
func (s Selector) HasAdvanced() bool {
	return s.Executable != "" || s.CmdlineContains != ""
}

// Describe returns a short human-readable form used in summaries.
func (s Selector) Describe() string {
	var parts []string
	if s.Name != "" {
		parts = append(parts, s.Name)
	}
	if s.PID > 0 {
		parts = append(parts, "pid "+strconv.Itoa(s.PID))
	}
	if s.Executable != "" {
		parts = append(parts, "exe "+s.Executable)
	}
	if s.CmdlineContains != "" {
		parts = append(parts, fmt.Sprintf("cmdline %q", s.CmdlineContains))
	}
	if len(parts) == 0 {
		return "unknown process"
	}
	return strings.Join(parts, ", ")
}

// IsShellLike reports whether a process name is a generic shell. Such names
// match far too many processes to be used on their own.
func IsShellLike(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return false
	}
	if strings.Contains(n, "powershell") || strings.Contains(n, "pwsh") {
		return true
	}
	for _, sh := range []string{"bash", "zsh", "sh"} {
		if n == sh || strings.HasSuffix(n, "/"+sh) {
			return true
		}
	}
	return false
}

// normalizePath lowercases a path and unifies separators so Windows and
// Unix style executable paths compare equal.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"))
}
