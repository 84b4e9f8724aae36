package triage

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipWithoutShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunnerExitCodes(t *testing.T) {
	skipWithoutShell(t)
	r := &ExecRunner{}

	rc, err := r.Run(context.Background(), []string{"sh", "-c", "exit 0"}, nil)
	if err != nil || rc != 0 {
		t.Errorf("Run(exit 0) = %d, %v", rc, err)
	}

	rc, err = r.Run(context.Background(), []string{"sh", "-c", "exit 3"}, nil)
	if err != nil {
		t.Errorf("non-zero exit must not be an error: %v", err)
	}
	if rc != 3 {
		t.Errorf("rc = %d, want 3", rc)
	}
}

func TestExecRunnerEnv(t *testing.T) {
	skipWithoutShell(t)
	r := &ExecRunner{}

	rc, err := r.Run(context.Background(),
		[]string{"sh", "-c", `test "$REMEDY_PLAN_ID" = plan-1 && test "$REMEDY_BACKLOG_COUNT" = 3`},
		map[string]string{EnvPlanID: "plan-1", EnvBacklogCount: "3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if rc != 0 {
		t.Errorf("rc = %d, want 0: correlation env not visible to the command", rc)
	}
}

func TestExecRunnerTimeout(t *testing.T) {
	skipWithoutShell(t)
	r := &ExecRunner{Timeout: 50 * time.Millisecond}

	rc, err := r.Run(context.Background(), []string{"sh", "-c", "sleep 5"}, nil)
	if err == nil {
		t.Fatal("Run() succeeded, want timeout error")
	}
	if rc != -1 {
		t.Errorf("rc = %d, want -1", rc)
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("error = %v, want a timeout message", err)
	}
}

func TestExecRunnerLaunchFailure(t *testing.T) {
	r := &ExecRunner{}

	rc, err := r.Run(context.Background(), []string{"/no/such/binary"}, nil)
	if err == nil {
		t.Fatal("Run() succeeded, want launch error")
	}
	if rc != -1 {
		t.Errorf("rc = %d, want -1", rc)
	}

	if _, err := r.Run(context.Background(), nil, nil); err == nil {
		t.Error("empty argv must fail")
	}
}
