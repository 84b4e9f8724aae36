package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/controller"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/runtimecfg"
	"github.com/remedy-run/remedy/pkg/workflow"
)

// fakeBackend records dispatch and variable calls and returns scripted
// errors.
type fakeBackend struct {
	dispatchErrs []error
	dispatches   int
	lastWorkflow string
	lastRef      string

	varErr   error
	varName  string
	varValue string
}

func (f *fakeBackend) ListRuns(ctx context.Context, wf, branch string, limit int) ([]workflow.RunInfo, error) {
	return nil, nil
}

func (f *fakeBackend) DownloadArtifacts(ctx context.Context, runID int64, destDir string) error {
	return nil
}

func (f *fakeBackend) Dispatch(ctx context.Context, wf, ref string, inputs map[string]interface{}) error {
	f.lastWorkflow, f.lastRef = wf, ref
	idx := f.dispatches
	f.dispatches++
	if idx >= len(f.dispatchErrs) {
		return nil
	}
	return f.dispatchErrs[idx]
}

func (f *fakeBackend) SetVariable(ctx context.Context, name, value string) error {
	f.varName, f.varValue = name, value
	return f.varErr
}

func connErr() error {
	return &workflow.ConnectivityError{Op: "dispatch workflow", Err: errors.New("dial tcp: no route to host")}
}

func testExecutor(t *testing.T, backend workflow.Client, rt runtimecfg.RuntimeConfig) *Executor {
	t.Helper()
	pol := policy.Default()
	pol.AllowedBranches = []string{"develop"}
	pol.AllowedWorkflowDispatches = []string{"ci.yml"}
	pol.QueueRoot = t.TempDir()

	e := New(pol, rt, backend)
	e.Now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }
	return e
}

func writePhoneStatus(t *testing.T, queueRoot string) {
	t.Helper()
	payload := &report.PhoneStatusPayload{
		Phase:           report.PhaseRunning,
		PlanID:          "plan-1",
		ControllerRunID: "run-1",
		Round:           2,
		UnresolvedCount: 3,
		Risk:            report.RiskMedium,
		Reason:          report.ReasonNoFixCommand,
	}
	if err := os.MkdirAll(filepath.Join(queueRoot, controller.PhoneDir), 0o755); err != nil {
		t.Fatalf("failed to create phone dir: %v", err)
	}
	if err := atomicfile.WriteJSON(controller.LatestPhonePath(queueRoot), payload); err != nil {
		t.Fatalf("failed to write phone status: %v", err)
	}
}

func TestExecuteRefreshStatus(t *testing.T) {
	e := testExecutor(t, &fakeBackend{}, runtimecfg.RuntimeConfig{})
	writePhoneStatus(t, e.QueueRoot)

	r := e.Execute(context.Background(), Request{Action: RefreshStatus, View: phonestatus.ViewCompact})
	if !r.OK {
		t.Fatalf("OK = false: %+v", r)
	}
	if r.Reason != report.ActionReasonStatusRefreshed {
		t.Errorf("Reason = %q, want %q", r.Reason, report.ActionReasonStatusRefreshed)
	}
	if r.Result == nil {
		t.Error("Result must carry the projected view")
	}
}

func TestExecuteRefreshStatusUnavailable(t *testing.T) {
	e := testExecutor(t, &fakeBackend{}, runtimecfg.RuntimeConfig{})

	r := e.Execute(context.Background(), Request{Action: RefreshStatus})
	if r.OK {
		t.Error("OK = true, want false")
	}
	if r.Reason != report.ActionReasonStatusUnavailable {
		t.Errorf("Reason = %q, want %q", r.Reason, report.ActionReasonStatusUnavailable)
	}
}

func TestExecuteDispatch(t *testing.T) {
	backend := &fakeBackend{}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{})

	r := e.Execute(context.Background(), Request{
		Action:   DispatchReportOnly,
		Workflow: "ci.yml",
		Branch:   "develop",
	})
	if !r.OK || r.Reason != report.ActionReasonDispatched {
		t.Fatalf("Reason = %q OK = %v, want dispatched: %+v", r.Reason, r.OK, r)
	}
	if backend.lastWorkflow != "ci.yml" || backend.lastRef != "develop" {
		t.Errorf("dispatched %s@%s, want ci.yml@develop", backend.lastWorkflow, backend.lastRef)
	}
}

func TestExecuteDispatchGates(t *testing.T) {
	tests := []struct {
		name       string
		req        Request
		rt         runtimecfg.RuntimeConfig
		wantReason string
	}{
		{
			name:       "workflow not allowlisted",
			req:        Request{Action: DispatchReportOnly, Workflow: "deploy.yml", Branch: "develop"},
			wantReason: report.ActionReasonWorkflowDenied,
		},
		{
			name:       "branch not allowlisted",
			req:        Request{Action: DispatchReportOnly, Workflow: "ci.yml", Branch: "main"},
			wantReason: report.ActionReasonBranchDenied,
		},
		{
			name:       "autonomy off",
			req:        Request{Action: DispatchReportOnly, Workflow: "ci.yml", Branch: "develop"},
			rt:         runtimecfg.RuntimeConfig{AutonomyMode: policy.ModeOff},
			wantReason: report.ActionReasonAutonomyOff,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{}
			e := testExecutor(t, backend, tt.rt)

			r := e.Execute(context.Background(), tt.req)
			if r.OK {
				t.Error("OK = true, want false")
			}
			if r.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", r.Reason, tt.wantReason)
			}
			if backend.dispatches != 0 {
				t.Error("denied action must not reach the backend")
			}
		})
	}
}

func TestExecuteDispatchRetriesConnectivity(t *testing.T) {
	backend := &fakeBackend{dispatchErrs: []error{connErr(), connErr()}}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: true})

	r := e.Execute(context.Background(), Request{
		Action:   DispatchReportOnly,
		Workflow: "ci.yml",
		Branch:   "develop",
		MaxAttempts: 3,
	})
	if !r.OK {
		t.Fatalf("OK = false after retries: %+v", r)
	}
	if backend.dispatches != 3 {
		t.Errorf("dispatch attempts = %d, want 3", backend.dispatches)
	}
}

func TestExecuteDispatchOfflineOutsideCI(t *testing.T) {
	backend := &fakeBackend{dispatchErrs: []error{connErr(), connErr(), connErr()}}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: false})

	r := e.Execute(context.Background(), Request{
		Action:      DispatchReportOnly,
		Workflow:    "ci.yml",
		Branch:      "develop",
		MaxAttempts: 3,
	})
	if !r.OK {
		t.Fatalf("offline dispatch outside CI must succeed with a warning: %+v", r)
	}
	if len(r.Warnings) == 0 {
		t.Error("want a connectivity warning")
	}
}

func TestExecuteDispatchFailsInCI(t *testing.T) {
	backend := &fakeBackend{dispatchErrs: []error{connErr(), connErr(), connErr()}}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: true})

	r := e.Execute(context.Background(), Request{
		Action:      DispatchReportOnly,
		Workflow:    "ci.yml",
		Branch:      "develop",
		MaxAttempts: 3,
	})
	if r.OK {
		t.Error("OK = true, want false inside CI")
	}
	if r.Reason != report.ActionReasonDispatchFailed {
		t.Errorf("Reason = %q, want %q", r.Reason, report.ActionReasonDispatchFailed)
	}
}

func TestExecuteDispatchAbortsOnHardError(t *testing.T) {
	backend := &fakeBackend{dispatchErrs: []error{
		&workflow.APIError{StatusCode: 403, Message: "forbidden"},
		connErr(),
	}}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: true})

	r := e.Execute(context.Background(), Request{
		Action:      DispatchReportOnly,
		Workflow:    "ci.yml",
		Branch:      "develop",
		MaxAttempts: 3,
	})
	if r.OK {
		t.Error("OK = true, want false")
	}
	if backend.dispatches != 1 {
		t.Errorf("dispatch attempts = %d, want 1 (no retry on non-connectivity errors)", backend.dispatches)
	}
}

func TestExecutePauseLoop(t *testing.T) {
	backend := &fakeBackend{}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: true})

	r := e.Execute(context.Background(), Request{Action: PauseLoop})
	if !r.OK || r.Reason != report.ActionReasonModeUpdated {
		t.Fatalf("Reason = %q OK = %v, want mode_updated: %+v", r.Reason, r.OK, r)
	}
	if backend.varName != ModeVariable || backend.varValue != LoopModePaused {
		t.Errorf("variable %s=%s, want %s=%s", backend.varName, backend.varValue, ModeVariable, LoopModePaused)
	}

	var state ModeState
	path := filepath.Join(e.QueueRoot, controller.PhoneDir, ModeStateFile)
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		t.Fatalf("failed to read mode state: %v", err)
	}
	if state.RequestedMode != LoopModePaused || !state.RemoteOK {
		t.Errorf("mode state = %+v, want paused with remote ok", state)
	}
}

func TestExecuteResumeLoopDryRun(t *testing.T) {
	backend := &fakeBackend{}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: true})

	r := e.Execute(context.Background(), Request{Action: ResumeLoop, DryRun: true})
	if !r.OK {
		t.Fatalf("OK = false: %+v", r)
	}
	if backend.varName != "" {
		t.Error("dry run must not touch the remote variable")
	}

	var state ModeState
	path := filepath.Join(e.QueueRoot, controller.PhoneDir, ModeStateFile)
	if err := atomicfile.ReadJSON(path, &state); err != nil {
		t.Fatalf("failed to read mode state: %v", err)
	}
	if state.RequestedMode != LoopModeRunning || !state.DryRun || state.RemoteOK {
		t.Errorf("mode state = %+v, want running dry-run without remote ok", state)
	}
}

func TestExecutePauseLoopOfflineOutsideCI(t *testing.T) {
	backend := &fakeBackend{varErr: connErr()}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{InCI: false})

	r := e.Execute(context.Background(), Request{Action: PauseLoop})
	if !r.OK {
		t.Fatalf("offline mode update outside CI must succeed with a warning: %+v", r)
	}
	if len(r.Warnings) == 0 {
		t.Error("want a connectivity warning")
	}
}

func TestExecutePauseLoopAutonomyOff(t *testing.T) {
	backend := &fakeBackend{}
	e := testExecutor(t, backend, runtimecfg.RuntimeConfig{AutonomyMode: policy.ModeOff})

	r := e.Execute(context.Background(), Request{Action: PauseLoop})
	if r.OK || r.Reason != report.ActionReasonAutonomyOff {
		t.Errorf("Reason = %q OK = %v, want autonomy_mode_off", r.Reason, r.OK)
	}
	if _, err := os.Stat(filepath.Join(e.QueueRoot, controller.PhoneDir, ModeStateFile)); !os.IsNotExist(err) {
		t.Error("denied mode change must not write the mode-state artifact")
	}
}

func TestExecuteUnsupportedAction(t *testing.T) {
	e := testExecutor(t, &fakeBackend{}, runtimecfg.RuntimeConfig{})

	r := e.Execute(context.Background(), Request{Action: "reboot-universe"})
	if r.OK || r.Reason != report.ActionReasonUnsupported {
		t.Errorf("Reason = %q OK = %v, want unsupported_action", r.Reason, r.OK)
	}
}
