// Package triage implements the bounded triage loop: poll the remote CI
// workflow for a completed run, read its backlog artifact, optionally run
// an allowlisted fix command, and wait for the CI signal about the fixed
// state. The loop is sequential by design; each attempt depends on the
// terminal state of the previous one.
package triage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/remedy-run/remedy/pkg/log"
	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/workflow"
)

// Params configures one triage loop run.
type Params struct {
	Repo     string
	Branch   string
	Workflow string
	Mode     string
	PlanID   string

	// FixCommand is the argument vector run between attempts. Empty
	// means report-only: a non-empty backlog blocks instead of fixing.
	FixCommand []string

	MaxAttempts  int
	RunListLimit int
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

func (p *Params) defaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.RunListLimit <= 0 {
		p.RunListLimit = 10
	}
	if p.PollInterval <= 0 {
		p.PollInterval = 15 * time.Second
	}
	if p.WaitTimeout <= 0 {
		p.WaitTimeout = 20 * time.Minute
	}
}

// Engine drives bounded remediation attempts against the workflow client.
// It owns no persistent state; the returned report is the whole outcome.
type Engine struct {
	Client workflow.Client
	Policy *policy.Policy
	Runner CommandRunner

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// NewEngine creates an engine with the default exec-based fix runner.
func NewEngine(client workflow.Client, pol *policy.Policy) *Engine {
	return &Engine{
		Client: client,
		Policy: pol,
		Runner: &ExecRunner{},
		Now:    time.Now,
	}
}

// Run executes the triage loop and returns its terminal report. Errors
// are embedded in the report as reasons rather than returned: every
// invocation has a meaningful terminal state.
func (e *Engine) Run(ctx context.Context, p Params) *report.TriageReport {
	p.defaults()

	r := &report.TriageReport{
		Kind:   report.SourceTriageLoop,
		Repo:   p.Repo,
		Branch: p.Branch,
		Mode:   p.Mode,
	}
	defer func() {
		r.GeneratedAt = e.Now().UTC()
		r.OK = r.Reason == report.ReasonResolved
	}()

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		run, err := workflow.WaitForCompletedRun(ctx, e.Client, p.Workflow, p.Branch, p.RunListLimit, p.PollInterval, p.WaitTimeout)
		if err != nil {
			if errors.Is(err, workflow.ErrWaitTimeout) {
				r.Reason = report.ReasonWaitTimeout
			} else {
				r.Reason = report.ReasonListRunsFailed
			}
			r.Attempts = append(r.Attempts, report.Attempt{
				AttemptNo: attempt,
				Status:    report.StatusFailed,
				Message:   err.Error(),
			})
			return r
		}

		att := report.Attempt{
			AttemptNo:     attempt,
			RunID:         run.ID,
			RunSHA:        run.HeadSHA,
			RunURL:        run.URL,
			RunConclusion: run.Conclusion,
			Status:        report.StatusAnalyzing,
		}

		backlog, done := e.analyzeRun(ctx, p, run, &att, r)
		r.Attempts = append(r.Attempts, att)
		if done {
			return r
		}
		r.UnresolvedCount = backlog

		// The fix command pushed a commit; wait for the CI signal about
		// the new head before the next attempt.
		if attempt < p.MaxAttempts {
			next, err := workflow.WaitForNewCompletedRun(ctx, e.Client, p.Workflow, p.Branch, run.HeadSHA, p.RunListLimit, p.PollInterval, p.WaitTimeout)
			if err != nil {
				reason := report.ReasonListRunsFailed
				if errors.Is(err, workflow.ErrWaitTimeout) {
					reason = report.ReasonWaitTimeout
				}
				r.Reason = reason
				r.Attempts = append(r.Attempts, report.Attempt{
					AttemptNo: attempt + 1,
					Status:    report.StatusWaiting,
					Message:   err.Error(),
				})
				return r
			}
			log.Info("new completed run observed", "run_id", next.ID, "sha", next.HeadSHA)
		}
	}

	r.Reason = report.ReasonMaxAttempts
	return r
}

// analyzeRun downloads the run's artifacts, reads the backlog, and either
// terminates the loop or runs the fix command. It returns the backlog
// count and whether the loop reached a terminal state.
func (e *Engine) analyzeRun(ctx context.Context, p Params, run *workflow.RunInfo, att *report.Attempt, r *report.TriageReport) (int, bool) {
	dir, err := os.MkdirTemp("", "remedy-triage-*")
	if err != nil {
		att.Status = report.StatusFailed
		att.Message = fmt.Sprintf("failed to create artifact directory: %v", err)
		r.Reason = report.ReasonArtifactsFailed
		return 0, true
	}
	defer os.RemoveAll(dir)

	if err := e.Client.DownloadArtifacts(ctx, run.ID, dir); err != nil {
		att.Status = report.StatusFailed
		att.Message = err.Error()
		r.Reason = report.ReasonArtifactsFailed
		return 0, true
	}

	backlog, path, err := parseBacklog(dir)
	if err != nil {
		att.Status = report.StatusFailed
		att.Message = err.Error()
		if errors.Is(err, errBacklogMissing) {
			r.Reason = report.ReasonMissingBacklog
		} else {
			r.Reason = report.ReasonInvalidBacklog
		}
		return 0, true
	}

	count := backlog.Count()
	att.BacklogCount = count
	r.UnresolvedCount = count

	if count == 0 {
		att.Status = report.StatusResolved
		r.Reason = report.ReasonResolved
		return 0, true
	}

	if len(p.FixCommand) == 0 {
		att.Status = report.StatusBlocked
		r.Reason = report.ReasonNoFixCommand
		return count, true
	}

	if e.Policy != nil && !e.Policy.FixCommandAllowed(p.FixCommand) {
		att.Status = report.StatusFailed
		att.Message = fmt.Sprintf("fix command %v does not match any allowed prefix", p.FixCommand)
		r.Reason = report.ReasonFixNotAllowed
		return count, true
	}

	env := map[string]string{
		EnvPlanID:       p.PlanID,
		EnvAttempt:      strconv.Itoa(att.AttemptNo),
		EnvRepo:         p.Repo,
		EnvBranch:       p.Branch,
		EnvBacklogCount: strconv.Itoa(count),
		EnvBacklogDir:   filepath.Dir(path),
		EnvRunID:        strconv.FormatInt(run.ID, 10),
		EnvRunSHA:       run.HeadSHA,
	}

	rc, err := e.Runner.Run(ctx, p.FixCommand, env)
	if err != nil || rc != 0 {
		att.Status = report.StatusFailed
		if err != nil {
			att.Message = err.Error()
		} else {
			att.Message = fmt.Sprintf("fix command exited with code %d", rc)
		}
		r.Reason = report.ReasonFixFailed
		return count, true
	}

	att.Status = report.StatusWaiting
	return count, false
}
