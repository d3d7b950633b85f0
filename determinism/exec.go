package determinism

import (
	"context"
	"os/exec"
	"strings"
)

// Execer runs external commands (docker, tc). The indirection exists so the
// controller's state machine and cleanup ordering are testable without a
// container runtime.
type Execer interface {
	// Run executes the command and returns its combined output. A non-zero
	// exit is returned as an *exec.ExitError.
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// SystemExecer runs commands on the host.
type SystemExecer struct{}

func (SystemExecer) Run(ctx context.Context, name string, args ...string) (string, error) {
	var cmd = exec.CommandContext(ctx, name, args...)
	var out, err = cmd.CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// ExitCode extracts a command's exit code from its error, with 0 for
// success and -1 for failures that never ran.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr, ok = err.(*exec.ExitError)
	if !ok {
		return -1
	}
	return exitErr.ExitCode()
}
