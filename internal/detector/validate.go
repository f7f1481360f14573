package detector

import "errors"

var (
	ErrSelectorEmpty = errors.New("process selector needs a pid or a name")
	ErrNegativePID   = errors.New("process selector pid must be positive")
	ErrShellSelector = errors.New("shell-like process names need an executable or cmdline criterion")
)

// Validate normalizes sel and checks that it can identify a process without
// matching an arbitrary shell. The returned selector is the normalized one.
func Validate(sel Selector) (Selector, error) {
	n := sel.Normalize()
	if n.PID < 0 {
		return n, ErrNegativePID
	}
	if n.PID == 0 && n.Name == "" {
		return n, ErrSelectorEmpty
	}
	if n.Name != "" && IsShellLike(n.Name) && !n.HasAdvanced() {
		return n, ErrShellSelector
	}
	return n, nil
}
