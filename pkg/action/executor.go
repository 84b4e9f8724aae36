// Package action executes the small fixed set of policy-gated controller
// actions: status refresh, report-only workflow dispatch, and loop
// pause/resume. Every action yields one report with a fixed-vocabulary
// reason; policy denial has zero side effects.
package action

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/controller"
	"github.com/remedy-run/remedy/pkg/log"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/runtimecfg"
	"github.com/remedy-run/remedy/pkg/workflow"
)

// Supported actions.
const (
	RefreshStatus      = "refresh-status"
	DispatchReportOnly = "dispatch-report-only"
	PauseLoop          = "pause-loop"
	ResumeLoop         = "resume-loop"
)

// Loop modes recorded in the mode-state artifact.
const (
	LoopModePaused  = "paused"
	LoopModeRunning = "running"
)

// ModeVariable is the remote mutable variable mirroring the loop mode.
const ModeVariable = "REMEDY_LOOP_MODE"

// ModeStateFile is the local mode-state artifact inside the phone queue
// directory.
const ModeStateFile = "mode-state.json"

// Request describes one action invocation.
type Request struct {
	Action   string
	View     phonestatus.View
	Workflow string
	Branch   string

	// MaxAttempts bounds dispatch retries.
	MaxAttempts int

	// DryRun records the mode change locally without touching the
	// remote variable.
	DryRun bool
}

// Report is the single output of one action.
type Report struct {
	OK       bool        `json:"ok"`
	Action   string      `json:"action"`
	Reason   string      `json:"reason"`
	Result   interface{} `json:"result,omitempty"`
	Warnings []string    `json:"warnings"`
	Errors   []string    `json:"errors"`
}

// ModeState is the persisted outcome of a pause/resume action.
type ModeState struct {
	RequestedMode string    `json:"requested_mode"`
	RemoteOK      bool      `json:"remote_ok"`
	DryRun        bool      `json:"dry_run"`
	Warnings      []string  `json:"warnings"`
	Errors        []string  `json:"errors"`
	UpdatedAtUTC  time.Time `json:"updated_at_utc"`
}

// Executor runs controller actions against the policy, the runtime
// config, and the workflow backend.
type Executor struct {
	Policy    *policy.Policy
	Runtime   runtimecfg.RuntimeConfig
	Client    workflow.Client
	QueueRoot string

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// New creates an executor.
func New(pol *policy.Policy, rt runtimecfg.RuntimeConfig, client workflow.Client) *Executor {
	return &Executor{
		Policy:    pol,
		Runtime:   rt,
		Client:    client,
		QueueRoot: pol.QueueRoot,
		Now:       time.Now,
	}
}

// Execute runs one action and returns its report.
func (e *Executor) Execute(ctx context.Context, req Request) *Report {
	r := &Report{
		Action:   req.Action,
		Warnings: []string{},
		Errors:   []string{},
	}

	switch req.Action {
	case RefreshStatus:
		e.refreshStatus(req, r)
	case DispatchReportOnly:
		e.dispatch(ctx, req, r)
	case PauseLoop:
		e.setLoopMode(ctx, req, r, LoopModePaused)
	case ResumeLoop:
		e.setLoopMode(ctx, req, r, LoopModeRunning)
	default:
		r.Reason = report.ActionReasonUnsupported
		r.Errors = append(r.Errors, fmt.Sprintf("unsupported action %q", req.Action))
	}
	return r
}

// refreshStatus is a pure read of the latest persisted phone status,
// projected through the requested view.
func (e *Executor) refreshStatus(req Request, r *Report) {
	var payload report.PhoneStatusPayload
	path := controller.LatestPhonePath(e.QueueRoot)
	if err := atomicfile.ReadJSON(path, &payload); err != nil {
		r.Reason = report.ActionReasonStatusUnavailable
		r.Errors = append(r.Errors, err.Error())
		return
	}

	view := req.View
	if view == "" {
		view = phonestatus.ViewCompact
	}
	projected, err := phonestatus.Project(&payload, view)
	if err != nil {
		r.Reason = report.ActionReasonStatusUnavailable
		r.Errors = append(r.Errors, err.Error())
		return
	}
	r.OK = true
	r.Reason = report.ActionReasonStatusRefreshed
	r.Result = projected
}

// dispatch triggers a report-only workflow run after passing the
// workflow and branch allowlists.
func (e *Executor) dispatch(ctx context.Context, req Request, r *Report) {
	if !e.Policy.DispatchAllowed(req.Workflow) {
		r.Reason = report.ActionReasonWorkflowDenied
		r.Errors = append(r.Errors, fmt.Sprintf("workflow %q is not an allowed dispatch target", req.Workflow))
		return
	}
	if !e.Policy.BranchAllowed(req.Branch) {
		r.Reason = report.ActionReasonBranchDenied
		r.Errors = append(r.Errors, fmt.Sprintf("branch %q is not in the allowed set", req.Branch))
		return
	}
	if e.Runtime.EffectiveMode(e.Policy.AutonomyModeDefault) == policy.ModeOff {
		r.Reason = report.ActionReasonAutonomyOff
		r.Errors = append(r.Errors, "runtime autonomy mode is off")
		return
	}

	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	inputs := map[string]interface{}{"mode": policy.ModeReportOnly}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = e.Client.Dispatch(ctx, req.Workflow, req.Branch, inputs)
		if lastErr == nil {
			r.OK = true
			r.Reason = report.ActionReasonDispatched
			return
		}
		if !workflow.IsConnectivityError(lastErr) {
			break
		}
		log.Debug("dispatch attempt failed", "attempt", attempt, "error", lastErr)
	}

	// Outside CI, a purely local connectivity failure must not be
	// conflated with a policy or remote failure.
	if workflow.IsConnectivityError(lastErr) && !e.Runtime.InCI {
		r.OK = true
		r.Reason = report.ActionReasonDispatched
		r.Warnings = append(r.Warnings, fmt.Sprintf("dispatch skipped, no connectivity outside CI: %v", lastErr))
		return
	}

	r.Reason = report.ActionReasonDispatchFailed
	r.Errors = append(r.Errors, lastErr.Error())
}

// setLoopMode writes the local mode-state artifact and mirrors the mode
// to the remote mutable variable unless running dry.
func (e *Executor) setLoopMode(ctx context.Context, req Request, r *Report, mode string) {
	if e.Runtime.EffectiveMode(e.Policy.AutonomyModeDefault) == policy.ModeOff {
		r.Reason = report.ActionReasonAutonomyOff
		r.Errors = append(r.Errors, "runtime autonomy mode is off")
		return
	}

	state := ModeState{
		RequestedMode: mode,
		DryRun:        req.DryRun,
		Warnings:      []string{},
		Errors:        []string{},
		UpdatedAtUTC:  e.Now().UTC(),
	}

	if !req.DryRun {
		err := e.Client.SetVariable(ctx, ModeVariable, mode)
		switch {
		case err == nil:
			state.RemoteOK = true
		case workflow.IsConnectivityError(err) && !e.Runtime.InCI:
			state.Warnings = append(state.Warnings, fmt.Sprintf("remote mode mirror skipped, no connectivity outside CI: %v", err))
		default:
			state.Errors = append(state.Errors, err.Error())
		}
	}

	path := filepath.Join(e.QueueRoot, controller.PhoneDir, ModeStateFile)
	if err := atomicfile.WriteJSON(path, &state); err != nil {
		r.Reason = report.ActionReasonModeUpdateFailed
		r.Errors = append(r.Errors, err.Error())
		return
	}

	r.Result = &state
	r.Warnings = append(r.Warnings, state.Warnings...)
	if len(state.Errors) > 0 {
		r.Reason = report.ActionReasonModeUpdateFailed
		r.Errors = append(r.Errors, state.Errors...)
		return
	}
	r.OK = true
	r.Reason = report.ActionReasonModeUpdated
}
