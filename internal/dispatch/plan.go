package dispatch

import (
	"errors"
	"strings"
)

// ErrUnsupported is returned when no shutdown command is known for the OS.
var ErrUnsupported = errors.New("shutdown is not supported on this OS")

// Plan is the shutdown command for one platform.
type Plan struct {
	Name      string
	Args      []string
	AbortHint string
}

// CommandLine renders the plan for logs and history.
func (p Plan) CommandLine() string {
	if p.Name == "" {
		return "shutdown command unsupported on this OS"
	}
	parts := []string{p.Name}
	for _, a := range p.Args {
		if strings.ContainsAny(a, " \"") {
			a = "'" + a + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// PlanFor returns the shutdown plan for goos. Windows gets an abortable
// 30 second delay and other Unix systems a one minute delay.
func PlanFor(goos string) Plan {
	switch goos {
	case "windows":
		return Plan{Name: "shutdown", Args: []string{"/s", "/t", "30"}, AbortHint: "shutdown /a"}
	case "darwin":
		return Plan{Name: "osascript", Args: []string{"-e", `tell application "System Events" to shut down`}}
	case "linux", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos":
		return Plan{Name: "shutdown", Args: []string{"-h", "+1"}, AbortHint: "shutdown -c"}
	}
	return Plan{}
}
