package dispatch

import (
	"context"
	"os/exec"
)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204
	cmd := exec.CommandContext(ctx, name, args...)
	return cmd.CombinedOutput()
}
