package probe

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
)

// CommandRunner runs a tool and returns its combined output. A non-nil error may come with
// usable output (ping exits non-zero on partial loss on some platforms).
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// pingArgs builds ping arguments for count echoes with a per-reply wait.
func pingArgs(goos, target string, count int, waitSec int) []string {
	n := strconv.Itoa(count)
	switch goos {
	case "windows":
		return []string{"-n", n, "-w", strconv.Itoa(waitSec * 1000), target}
	case "darwin":
		// -W is in milliseconds on BSD ping.
		return []string{"-c", n, "-W", strconv.Itoa(waitSec * 1000), target}
	default:
		return []string{"-c", n, "-W", strconv.Itoa(waitSec), target}
	}
}

// IsWindows reports whether the host uses Windows tool syntax.
func IsWindows() bool { return runtime.GOOS == "windows" }
