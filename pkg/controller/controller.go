// Package controller orchestrates bounded remediation rounds: each round
// runs the triage loop engine, builds a packet, and checkpoints the
// decision state into the queue. Rounds are strictly sequential because
// round N's working branch and checkpoint depend on round N-1's terminal
// state.
package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/log"
	"github.com/remedy-run/remedy/pkg/packet"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/runtimecfg"
	"github.com/remedy-run/remedy/pkg/triage"
)

// DefaultBranchPrefix prefixes per-round working branches.
const DefaultBranchPrefix = "autonomy"

// Config is the caller-requested shape of one controller invocation.
type Config struct {
	PlanID     string
	Repo       string
	Workflow   string
	BranchBase string

	// Mode is the requested controller mode ("report-only" or
	// "fix"). It may be downgraded to report-only by the runtime
	// autonomy mode.
	Mode string

	MaxRounds int
	MaxHours  float64
	MaxTasks  int

	// CheckpointEvery controls how often a round's checkpoint is also
	// copied into the inbox queue. Failures always enqueue immediately.
	CheckpointEvery int

	BranchPrefix string
	FixCommand   []string

	RunListLimit  int
	PollInterval  time.Duration
	WaitTimeout   time.Duration
	MaxAgeHours   float64
	MaxDraftChars int
}

func (c *Config) defaults() {
	if c.MaxRounds <= 0 {
		c.MaxRounds = 3
	}
	if c.MaxHours <= 0 {
		c.MaxHours = 2
	}
	if c.MaxTasks <= 0 {
		c.MaxTasks = 10
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = 1
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = DefaultBranchPrefix
	}
	if c.Mode == "" {
		c.Mode = policy.ModeReportOnly
	}
}

// TriageRunner abstracts the triage loop engine for testing.
type TriageRunner interface {
	Run(ctx context.Context, p triage.Params) *report.TriageReport
}

// PacketBuilder abstracts the packet builder for testing.
type PacketBuilder func(opts packet.Options) (*report.LoopPacket, error)

// Controller runs N guarded remediation rounds.
type Controller struct {
	Policy  *policy.Policy
	Runtime runtimecfg.RuntimeConfig
	Engine  TriageRunner
	Build   PacketBuilder

	// Now is the clock, overridable in tests.
	Now func() time.Time

	// NewRunID generates the controller run identifier.
	NewRunID func() string
}

// New creates a controller wired to the real engine and builder.
func New(pol *policy.Policy, rt runtimecfg.RuntimeConfig, engine TriageRunner) *Controller {
	return &Controller{
		Policy:   pol,
		Runtime:  rt,
		Engine:   engine,
		Build:    packet.Build,
		Now:      time.Now,
		NewRunID: uuid.NewString,
	}
}

// Run executes the controller state machine and returns the final report.
// All failures are embedded in the report; Run never panics the process.
func (c *Controller) Run(ctx context.Context, cfg Config) *report.ControllerReport {
	cfg.defaults()

	cr := &report.ControllerReport{
		PlanID:     cfg.PlanID,
		PacketRoot: c.Policy.PacketRoot,
		QueueRoot:  c.Policy.QueueRoot,
		Warnings:   []string{},
		Errors:     []string{},
	}

	// Pre-flight policy gate: no side effects before this passes.
	if !c.Policy.BranchAllowed(cfg.BranchBase) {
		cr.Errors = append(cr.Errors, fmt.Sprintf("branch %q is not in the allowed set", cfg.BranchBase))
	}
	for _, v := range c.Policy.CheckCaps(cfg.MaxRounds, cfg.MaxHours, cfg.MaxTasks) {
		cr.Errors = append(cr.Errors, v.Error())
	}
	if len(cr.Errors) > 0 {
		cr.Reason = report.ReasonPolicyDenied
		cr.OK = false
		return cr
	}

	// Mode downgrade: a safety default, never an error.
	runtimeMode := c.Runtime.EffectiveMode(c.Policy.AutonomyModeDefault)
	modeEffective := cfg.Mode
	if cfg.Mode != policy.ModeReportOnly && runtimeMode != policy.ModeOperate {
		modeEffective = policy.ModeReportOnly
		cr.Warnings = append(cr.Warnings, fmt.Sprintf(
			"requested mode %q downgraded to %q: runtime autonomy mode is %q, not %q",
			cfg.Mode, policy.ModeReportOnly, runtimeMode, policy.ModeOperate))
	}
	cr.ModeEffective = modeEffective

	cr.ControllerRunID = c.NewRunID()
	layout := Layout{
		PacketRoot:      c.Policy.PacketRoot,
		QueueRoot:       c.Policy.QueueRoot,
		ControllerRunID: cr.ControllerRunID,
	}
	if err := layout.EnsureDirs(); err != nil {
		// An IO failure here is an environment problem, not a policy
		// decision; keep the taxonomies apart.
		cr.Reason = report.ReasonQueueInitFailed
		cr.Errors = append(cr.Errors, err.Error())
		return cr
	}

	started := c.Now()
	for round := 1; round <= cfg.MaxRounds; round++ {
		// Cooperative preemption points: budgets are checked between
		// rounds, never mid-round.
		if c.Now().Sub(started).Hours() >= cfg.MaxHours {
			cr.Reason = report.ReasonMaxHoursReached
			break
		}
		if cr.TasksCompleted >= cfg.MaxTasks {
			cr.Reason = report.ReasonMaxTasksReached
			break
		}

		done := c.runRound(ctx, cfg, cr, layout, round, modeEffective)
		if done {
			break
		}
	}

	if cr.Reason == "" {
		cr.Reason = report.ReasonMaxRoundsReached
	}
	cr.Resolved = cr.Reason == report.ReasonResolved
	cr.OK = len(cr.Errors) == 0 && report.CleanTerminalReasons[cr.Reason]

	if err := atomicfile.WriteJSON(filepath.Join(layout.RunDir(), "controller-report.json"), cr); err != nil {
		log.Warn("failed to persist controller report", "error", err)
	}
	return cr
}

// runRound executes one round end to end. It returns true when the
// controller reached a terminal state.
func (c *Controller) runRound(ctx context.Context, cfg Config, cr *report.ControllerReport, layout Layout, round int, modeEffective string) bool {
	workingBranch := fmt.Sprintf("%s/%s/%s/r%03d", cfg.BranchPrefix, cfg.PlanID, cr.ControllerRunID, round)
	roundDir := layout.RoundDir(round)
	rd := report.Round{
		RoundNo:       round,
		WorkingBranch: workingBranch,
		LoopBranch:    cfg.BranchBase,
	}

	log.Info("starting round", "round", round, "working_branch", workingBranch, "mode", modeEffective)

	fixCommand := cfg.FixCommand
	if modeEffective == policy.ModeReportOnly {
		fixCommand = nil
	}
	triageRpt := c.Engine.Run(ctx, triage.Params{
		Repo:         cfg.Repo,
		Branch:       cfg.BranchBase,
		Workflow:     cfg.Workflow,
		Mode:         modeEffective,
		PlanID:       cfg.PlanID,
		FixCommand:   fixCommand,
		RunListLimit: cfg.RunListLimit,
		PollInterval: cfg.PollInterval,
		WaitTimeout:  cfg.WaitTimeout,
		MaxAttempts:  1,
	})

	rd.TriageReason = triageRpt.Reason
	rd.UnresolvedCount = triageRpt.UnresolvedCount
	if !triageRpt.OK {
		rd.TriageRC = 1
	}

	triagePath := filepath.Join(roundDir, TriageReportFile)
	if err := atomicfile.WriteJSON(triagePath, triageRpt); err != nil {
		cr.Rounds = append(cr.Rounds, rd)
		cr.Errors = append(cr.Errors, err.Error())
		cr.Reason = "triage" + report.ReportMissingSuffix
		return true
	}

	// Read-back: the checkpoint must be built from what was durably
	// written, and a divergence between memory and disk is an integrity
	// violation, not a retryable failure.
	src, err := report.ParseSource(triagePath)
	if err != nil || src.Triage == nil {
		cr.Rounds = append(cr.Rounds, rd)
		if err != nil {
			cr.Errors = append(cr.Errors, err.Error())
		}
		cr.Reason = "triage" + report.ReportMissingSuffix
		return true
	}
	if hard := correlate(triageRpt, src.Triage); hard != "" {
		cr.Rounds = append(cr.Rounds, rd)
		cr.Errors = append(cr.Errors, fmt.Sprintf("round %d failed correlation check: %s", round, hard))
		cr.Reason = hard
		return true
	}

	pkt, err := c.Build(packet.Options{
		Sources:       []string{triagePath},
		PreferSource:  report.SourceTriageLoop,
		MaxAgeHours:   cfg.MaxAgeHours,
		MaxDraftChars: cfg.MaxDraftChars,
		AllowAutoSend: modeEffective == policy.ModeOperate,
		Now:           c.Now,
	})
	if err != nil {
		rd.PacketRC = 1
		cr.Rounds = append(cr.Rounds, rd)
		cr.Errors = append(cr.Errors, err.Error())
		cr.Reason = report.ReasonLoopPacketFailed
		return true
	}
	rd.Risk = pkt.Risk

	packetPath := filepath.Join(roundDir, LoopPacketFile)
	if err := atomicfile.WriteJSON(packetPath, pkt); err != nil {
		rd.PacketRC = 1
		cr.Rounds = append(cr.Rounds, rd)
		cr.Errors = append(cr.Errors, err.Error())
		cr.Reason = report.ReasonLoopPacketFailed
		return true
	}

	checkpoint := packet.NewCheckpoint(packet.CheckpointInput{
		PlanID:          cfg.PlanID,
		ControllerRunID: cr.ControllerRunID,
		Round:           round,
		WorkingBranch:   workingBranch,
		PromotionBranch: cfg.BranchBase,
		SourceTimestamp: triageRpt.GeneratedAt,
		Packet:          pkt,
		TriageReason:    triageRpt.Reason,
		UnresolvedCount: triageRpt.UnresolvedCount,
		EvidenceRefs:    []string{triagePath, packetPath},
		TerminalTrace:   terminalTrace(triageRpt),
		ReplayWindow:    time.Duration(c.Policy.ReplayWindowSeconds) * time.Second,
		Now:             c.Now(),
	})
	rd.RequiresApproval = checkpoint.RequiresApproval

	checkpointPath := filepath.Join(roundDir, CheckpointPacketFile)
	rd.PacketPath = checkpointPath
	if err := atomicfile.WriteJSON(checkpointPath, checkpoint); err != nil {
		cr.Rounds = append(cr.Rounds, rd)
		cr.Errors = append(cr.Errors, err.Error())
		cr.Reason = report.ReasonLoopPacketFailed
		return true
	}

	cr.Rounds = append(cr.Rounds, rd)
	cr.RoundsCompleted = round
	cr.TasksCompleted++

	// Failed rounds enqueue immediately; healthy rounds every
	// checkpoint_every.
	if rd.TriageRC != 0 || round%cfg.CheckpointEvery == 0 {
		if _, err := layout.EnqueueCheckpoint(round, checkpoint); err != nil {
			cr.Errors = append(cr.Errors, err.Error())
			cr.Reason = report.HardReasonNotificationFailed
			return true
		}
	}

	payload := phonestatus.FromController(cr, checkpoint, c.Now())
	payload.Phase = report.PhaseRunning
	if triageRpt.UnresolvedCount <= 0 && triageRpt.Reason == report.ReasonResolved {
		payload.Phase = report.PhaseResolved
	}
	if report.TriageFailureReasons[triageRpt.Reason] {
		payload.Phase = report.PhaseError
	}
	if err := layout.PublishPhone(round, payload); err != nil {
		cr.Errors = append(cr.Errors, err.Error())
		cr.Reason = report.HardReasonNotificationFailed
		return true
	}

	c.appendEvent(cr, round, triageRpt, checkpoint)

	// A failed engine run terminates the controller: the round's checkpoint
	// is already in the inbox, but there is no observed state for a next
	// round to build on.
	if report.TriageFailureReasons[triageRpt.Reason] {
		cr.Errors = append(cr.Errors, fmt.Sprintf("round %d triage loop failed: %s", round, triageRpt.Reason))
		cr.Reason = report.ReasonTriageLoopFailed
		return true
	}

	if triageRpt.UnresolvedCount <= 0 && triageRpt.Reason == report.ReasonResolved {
		cr.Reason = report.ReasonResolved
		return true
	}
	return false
}

// correlate compares the in-memory triage report with its durable
// read-back. Divergence means the artifact on disk does not describe the
// run the controller just observed; acting on it would checkpoint stale
// or foreign state.
func correlate(mem, disk *report.TriageReport) string {
	if len(mem.Attempts) != len(disk.Attempts) {
		return report.HardReasonCorrelationFailed
	}
	if len(mem.Attempts) == 0 {
		return ""
	}
	lastMem := mem.Attempts[len(mem.Attempts)-1]
	lastDisk := disk.Attempts[len(disk.Attempts)-1]
	if lastMem.RunID != lastDisk.RunID {
		return report.HardReasonSourceRunMismatch
	}
	if lastMem.RunSHA != lastDisk.RunSHA {
		return report.HardReasonSHAMismatch
	}
	return ""
}

// terminalTrace renders the engine attempts as bounded trace lines for
// the checkpoint packet and the phone projection.
func terminalTrace(r *report.TriageReport) []string {
	trace := make([]string, 0, len(r.Attempts)+1)
	for _, att := range r.Attempts {
		line := fmt.Sprintf("attempt %d: run=%d backlog=%d status=%s", att.AttemptNo, att.RunID, att.BacklogCount, att.Status)
		if att.Message != "" {
			line += " msg=" + att.Message
		}
		trace = append(trace, line)
	}
	trace = append(trace, fmt.Sprintf("terminal: reason=%q unresolved=%d", r.Reason, r.UnresolvedCount))
	return trace
}

// appendEvent appends a round event to the runtime event log, when one is
// configured. Event log failures are warnings: the log is observability,
// not state.
func (c *Controller) appendEvent(cr *report.ControllerReport, round int, triageRpt *report.TriageReport, pkt *report.CheckpointPacket) {
	if c.Runtime.EventLogPath == "" {
		return
	}
	line := fmt.Sprintf(`{"ts":%q,"actor":%q,"plan_id":%q,"controller_run_id":%q,"round":%d,"reason":%q,"unresolved":%d,"idempotency_key":%q}`,
		c.Now().UTC().Format(time.RFC3339), c.Runtime.Actor, cr.PlanID, cr.ControllerRunID, round,
		triageRpt.Reason, triageRpt.UnresolvedCount, pkt.IdempotencyKey)
	if err := appendLine(c.Runtime.EventLogPath, line); err != nil {
		cr.Warnings = append(cr.Warnings, fmt.Sprintf("failed to append event log: %v", err))
	}
}
