package triage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"

	"github.com/remedy-run/remedy/pkg/log"
)

// Correlation parameters injected into a fix command's environment so it
// can tie its work back to the triggering state.
const (
	EnvPlanID       = "REMEDY_PLAN_ID"
	EnvAttempt      = "REMEDY_ATTEMPT"
	EnvRepo         = "REMEDY_REPO"
	EnvBranch       = "REMEDY_BRANCH"
	EnvBacklogCount = "REMEDY_BACKLOG_COUNT"
	EnvBacklogDir   = "REMEDY_BACKLOG_DIR"
	EnvRunID        = "REMEDY_RUN_ID"
	EnvRunSHA       = "REMEDY_RUN_SHA"
)

// CommandRunner executes a fix command as an explicit argument vector.
// There is deliberately no shell interpretation anywhere on this path:
// the policy allowlist matches argv prefixes, and argv is what runs.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, env map[string]string) (int, error)
}

// ExecRunner runs commands via os/exec with a hard timeout.
type ExecRunner struct {
	// Timeout bounds the fix command's own runtime. Zero means the
	// default of 30 minutes.
	Timeout time.Duration
}

// DefaultFixTimeout bounds a fix command that never finishes on its own.
const DefaultFixTimeout = 30 * time.Minute

// Run executes argv with env merged over the current process environment.
// Returns the exit code; a launch failure returns -1 and the error.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env map[string]string) (int, error) {
	if len(argv) == 0 {
		return -1, fmt.Errorf("empty fix command")
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, argv[0], argv[1:]...)
	cmd.Env = mergedEnv(env)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	log.Debug("running fix command", "argv", argv, "timeout", timeout)
	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	if cmdCtx.Err() == context.DeadlineExceeded {
		return -1, fmt.Errorf("fix command exceeded %s timeout", timeout)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed to launch fix command: %w", err)
}

func mergedEnv(extra map[string]string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}
