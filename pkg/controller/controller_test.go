package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/packet"
	"github.com/remedy-run/remedy/pkg/policy"
	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/runtimecfg"
	"github.com/remedy-run/remedy/pkg/triage"
)

var ctrlNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

// scriptedEngine returns one canned triage report per round.
type scriptedEngine struct {
	reports []*report.TriageReport
	params  []triage.Params
}

func (s *scriptedEngine) Run(ctx context.Context, p triage.Params) *report.TriageReport {
	s.params = append(s.params, p)
	idx := len(s.params) - 1
	if idx >= len(s.reports) {
		idx = len(s.reports) - 1
	}
	return s.reports[idx]
}

func unresolvedReport(unresolved int) *report.TriageReport {
	return &report.TriageReport{
		Kind:            report.SourceTriageLoop,
		Repo:            "acme/widgets",
		Branch:          "develop",
		UnresolvedCount: unresolved,
		Reason:          report.ReasonNoFixCommand,
		Attempts: []report.Attempt{
			{AttemptNo: 1, RunID: 42, RunSHA: "aaa", BacklogCount: unresolved, Status: report.StatusBlocked},
		},
		GeneratedAt: ctrlNow,
	}
}

func resolvedReport() *report.TriageReport {
	return &report.TriageReport{
		Kind:        report.SourceTriageLoop,
		OK:          true,
		Repo:        "acme/widgets",
		Branch:      "develop",
		Reason:      report.ReasonResolved,
		Attempts: []report.Attempt{
			{AttemptNo: 1, RunID: 43, RunSHA: "bbb", Status: report.StatusResolved},
		},
		GeneratedAt: ctrlNow,
	}
}

func testController(t *testing.T, engine TriageRunner, rt runtimecfg.RuntimeConfig) (*Controller, *policy.Policy) {
	t.Helper()
	root := t.TempDir()
	pol := policy.Default()
	pol.AllowedBranches = []string{"develop"}
	pol.PacketRoot = filepath.Join(root, "packets")
	pol.QueueRoot = filepath.Join(root, "queue")

	c := New(pol, rt, engine)
	c.Now = func() time.Time { return ctrlNow }
	c.NewRunID = func() string { return "run-0001" }
	return c, pol
}

func TestRunPolicyGateDenies(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{resolvedReport()}}
	c, pol := testController(t, engine, runtimecfg.RuntimeConfig{})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "main", // not allowed
		MaxRounds:  99,     // over the hard cap
	})

	if cr.OK {
		t.Error("OK = true, want false")
	}
	if cr.Reason != report.ReasonPolicyDenied {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonPolicyDenied)
	}
	if len(cr.Errors) != 2 {
		t.Errorf("got %d errors, want 2 (branch + cap): %v", len(cr.Errors), cr.Errors)
	}
	if len(engine.params) != 0 {
		t.Error("engine ran despite the policy gate")
	}
	// Denial must have zero side effects.
	if _, err := os.Stat(pol.PacketRoot); !os.IsNotExist(err) {
		t.Errorf("packet root exists after a denied run: %v", err)
	}
	if _, err := os.Stat(pol.QueueRoot); !os.IsNotExist(err) {
		t.Errorf("queue root exists after a denied run: %v", err)
	}
}

func TestRunModeDowngrade(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{resolvedReport()}}
	// Runtime mode is report-only, so a fix request downgrades.
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{AutonomyMode: policy.ModeReportOnly})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		Mode:       "fix",
		FixCommand: []string{"make", "fix"},
		MaxRounds:  1,
	})

	if cr.ModeEffective != policy.ModeReportOnly {
		t.Errorf("ModeEffective = %q, want report-only", cr.ModeEffective)
	}
	if len(cr.Warnings) == 0 || !strings.Contains(cr.Warnings[0], "downgraded") {
		t.Errorf("Warnings = %v, want a downgrade warning", cr.Warnings)
	}
	if len(engine.params) != 1 {
		t.Fatalf("engine ran %d times, want 1", len(engine.params))
	}
	if engine.params[0].FixCommand != nil {
		t.Errorf("fix command passed to engine in report-only mode: %v", engine.params[0].FixCommand)
	}
}

func TestRunOperateModeKeepsFixCommand(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{resolvedReport()}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{AutonomyMode: policy.ModeOperate})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		Mode:       "fix",
		FixCommand: []string{"make", "fix"},
		MaxRounds:  1,
	})

	if cr.ModeEffective != "fix" {
		t.Errorf("ModeEffective = %q, want fix", cr.ModeEffective)
	}
	if len(cr.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", cr.Warnings)
	}
	if got := engine.params[0].FixCommand; len(got) != 2 || got[0] != "make" {
		t.Errorf("FixCommand = %v, want [make fix]", got)
	}
}

func TestRunTwoRoundsToResolved(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{
		unresolvedReport(2),
		resolvedReport(),
	}}
	eventLog := filepath.Join(t.TempDir(), "events.jsonl")
	c, pol := testController(t, engine, runtimecfg.RuntimeConfig{
		EventLogPath: eventLog,
		Actor:        "tester",
	})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		Repo:       "acme/widgets",
		Workflow:   "ci.yml",
		BranchBase: "develop",
		MaxRounds:  5,
	})

	if !cr.OK || !cr.Resolved {
		t.Fatalf("OK = %v Resolved = %v, want both true: %+v", cr.OK, cr.Resolved, cr)
	}
	if cr.Reason != report.ReasonResolved {
		t.Errorf("Reason = %q, want resolved", cr.Reason)
	}
	if cr.RoundsCompleted != 2 || cr.TasksCompleted != 2 {
		t.Errorf("RoundsCompleted = %d TasksCompleted = %d, want 2 and 2", cr.RoundsCompleted, cr.TasksCompleted)
	}
	if len(cr.Rounds) != 2 {
		t.Fatalf("got %d rounds, want 2", len(cr.Rounds))
	}
	if cr.Rounds[0].TriageRC != 1 {
		t.Errorf("round 1 TriageRC = %d, want 1", cr.Rounds[0].TriageRC)
	}
	if cr.Rounds[1].TriageRC != 0 {
		t.Errorf("round 2 TriageRC = %d, want 0", cr.Rounds[1].TriageRC)
	}
	if cr.Rounds[0].Risk != report.RiskMedium {
		t.Errorf("round 1 risk = %q, want medium", cr.Rounds[0].Risk)
	}
	if cr.Rounds[1].Risk != report.RiskLow {
		t.Errorf("round 2 risk = %q, want low", cr.Rounds[1].Risk)
	}
	if !cr.Rounds[0].RequiresApproval {
		t.Error("round 1 must require approval")
	}

	layout := Layout{PacketRoot: pol.PacketRoot, QueueRoot: pol.QueueRoot, ControllerRunID: cr.ControllerRunID}

	// Round artifacts.
	for round := 1; round <= 2; round++ {
		for _, name := range []string{TriageReportFile, LoopPacketFile, CheckpointPacketFile} {
			path := filepath.Join(layout.RoundDir(round), name)
			if _, err := os.Stat(path); err != nil {
				t.Errorf("missing round %d artifact %s: %v", round, name, err)
			}
		}
	}

	// Both rounds enqueue: round 1 failed, round 2 hits checkpoint_every.
	entries, err := os.ReadDir(layout.QueueDir(InboxDir))
	if err != nil {
		t.Fatalf("failed to read inbox: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("inbox has %d entries, want 2", len(entries))
	}

	// Latest phone pointer reflects the terminal round.
	var payload report.PhoneStatusPayload
	if err := atomicfile.ReadJSON(LatestPhonePath(pol.QueueRoot), &payload); err != nil {
		t.Fatalf("failed to read latest phone status: %v", err)
	}
	if payload.Phase != report.PhaseResolved {
		t.Errorf("phone phase = %q, want resolved", payload.Phase)
	}
	if payload.Round != 2 {
		t.Errorf("phone round = %d, want 2", payload.Round)
	}

	// Final report is persisted.
	var persisted report.ControllerReport
	if err := atomicfile.ReadJSON(filepath.Join(layout.RunDir(), "controller-report.json"), &persisted); err != nil {
		t.Fatalf("failed to read persisted report: %v", err)
	}
	if persisted.Reason != report.ReasonResolved {
		t.Errorf("persisted reason = %q, want resolved", persisted.Reason)
	}

	// One event per round.
	data, err := os.ReadFile(eventLog)
	if err != nil {
		t.Fatalf("failed to read event log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Errorf("event log has %d lines, want 2", len(lines))
	}
}

func failedReport(reason string) *report.TriageReport {
	return &report.TriageReport{
		Kind:        report.SourceTriageLoop,
		Repo:        "acme/widgets",
		Branch:      "develop",
		Reason:      reason,
		GeneratedAt: ctrlNow,
	}
}

func TestRunTriageLoopFailureIsTerminal(t *testing.T) {
	// An engine that fails every round must not exhaust the budget into a
	// clean max_rounds_reached.
	engine := &scriptedEngine{reports: []*report.TriageReport{failedReport(report.ReasonWaitTimeout)}}
	c, pol := testController(t, engine, runtimecfg.RuntimeConfig{})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  5,
	})

	if cr.OK || cr.Resolved {
		t.Errorf("OK = %v Resolved = %v, want both false", cr.OK, cr.Resolved)
	}
	if cr.Reason != report.ReasonTriageLoopFailed {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonTriageLoopFailed)
	}
	if len(engine.params) != 1 {
		t.Errorf("engine ran %d rounds, want 1 (failure is terminal)", len(engine.params))
	}
	if len(cr.Errors) == 0 || !strings.Contains(cr.Errors[0], "triage loop failed") {
		t.Errorf("Errors = %v, want the failed round recorded", cr.Errors)
	}

	// The failed round still checkpoints into the inbox for the operator.
	layout := Layout{PacketRoot: pol.PacketRoot, QueueRoot: pol.QueueRoot, ControllerRunID: cr.ControllerRunID}
	entries, err := os.ReadDir(layout.QueueDir(InboxDir))
	if err != nil {
		t.Fatalf("failed to read inbox: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("inbox has %d entries, want 1", len(entries))
	}

	var payload report.PhoneStatusPayload
	if err := atomicfile.ReadJSON(LatestPhonePath(pol.QueueRoot), &payload); err != nil {
		t.Fatalf("failed to read latest phone status: %v", err)
	}
	if payload.Phase != report.PhaseError {
		t.Errorf("phone phase = %q, want error", payload.Phase)
	}
}

func TestRunBlockedRoundsAreNotFailures(t *testing.T) {
	// A blocked round (no fix command) is an observed state, not an engine
	// failure: the controller keeps rounding until the budget ends.
	engine := &scriptedEngine{reports: []*report.TriageReport{unresolvedReport(3)}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  2,
	})

	if cr.Reason != report.ReasonMaxRoundsReached {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonMaxRoundsReached)
	}
	if len(engine.params) != 2 {
		t.Errorf("engine ran %d rounds, want 2", len(engine.params))
	}
}

func TestRunQueueInitFailure(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{resolvedReport()}}
	c, pol := testController(t, engine, runtimecfg.RuntimeConfig{})

	// A regular file where the packet root should be makes MkdirAll fail.
	if err := os.WriteFile(pol.PacketRoot, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  1,
	})

	if cr.OK {
		t.Error("OK = true, want false")
	}
	if cr.Reason != report.ReasonQueueInitFailed {
		t.Errorf("Reason = %q, want %q (an IO failure is not a policy denial)", cr.Reason, report.ReasonQueueInitFailed)
	}
	if len(engine.params) != 0 {
		t.Error("engine ran despite the failed queue init")
	}
}

func TestRunMaxRoundsReached(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{unresolvedReport(3)}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  2,
	})

	if cr.Resolved {
		t.Error("Resolved = true, want false")
	}
	if cr.Reason != report.ReasonMaxRoundsReached {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonMaxRoundsReached)
	}
	if !cr.OK {
		t.Error("exhausting the round budget cleanly is still OK")
	}
	if cr.RoundsCompleted != 2 {
		t.Errorf("RoundsCompleted = %d, want 2", cr.RoundsCompleted)
	}
}

func TestRunMaxTasksReached(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{unresolvedReport(3)}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{})

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  5,
		MaxTasks:   1,
	})

	if cr.Reason != report.ReasonMaxTasksReached {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonMaxTasksReached)
	}
	if cr.TasksCompleted != 1 {
		t.Errorf("TasksCompleted = %d, want 1", cr.TasksCompleted)
	}
}

func TestRunMaxHoursReached(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{unresolvedReport(3)}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{})

	// Every Now() call advances three hours, so the first between-rounds
	// budget check already trips the two hour budget.
	step := 0
	c.Now = func() time.Time {
		step++
		return ctrlNow.Add(time.Duration(step) * 3 * time.Hour)
	}

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  5,
		MaxHours:   2,
	})

	if cr.Reason != report.ReasonMaxHoursReached {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonMaxHoursReached)
	}
	if cr.RoundsCompleted != 0 {
		t.Errorf("RoundsCompleted = %d, want 0", cr.RoundsCompleted)
	}
}

func TestRunPacketBuildFailure(t *testing.T) {
	engine := &scriptedEngine{reports: []*report.TriageReport{unresolvedReport(3)}}
	c, _ := testController(t, engine, runtimecfg.RuntimeConfig{})
	c.Build = func(opts packet.Options) (*report.LoopPacket, error) {
		return nil, &packet.Error{Reason: report.ReasonNoValidSource}
	}

	cr := c.Run(context.Background(), Config{
		PlanID:     "plan-1",
		BranchBase: "develop",
		MaxRounds:  3,
	})

	if cr.OK {
		t.Error("OK = true, want false")
	}
	if cr.Reason != report.ReasonLoopPacketFailed {
		t.Errorf("Reason = %q, want %q", cr.Reason, report.ReasonLoopPacketFailed)
	}
	if len(cr.Rounds) != 1 || cr.Rounds[0].PacketRC != 1 {
		t.Errorf("Rounds = %+v, want one round with PacketRC 1", cr.Rounds)
	}
}

func TestCorrelate(t *testing.T) {
	base := func() *report.TriageReport {
		return &report.TriageReport{
			Attempts: []report.Attempt{
				{AttemptNo: 1, RunID: 42, RunSHA: "aaa"},
				{AttemptNo: 2, RunID: 43, RunSHA: "bbb"},
			},
		}
	}

	if got := correlate(base(), base()); got != "" {
		t.Errorf("identical reports correlate = %q, want clean", got)
	}

	fewer := base()
	fewer.Attempts = fewer.Attempts[:1]
	if got := correlate(base(), fewer); got != report.HardReasonCorrelationFailed {
		t.Errorf("attempt count mismatch = %q, want %q", got, report.HardReasonCorrelationFailed)
	}

	otherRun := base()
	otherRun.Attempts[1].RunID = 99
	if got := correlate(base(), otherRun); got != report.HardReasonSourceRunMismatch {
		t.Errorf("run mismatch = %q, want %q", got, report.HardReasonSourceRunMismatch)
	}

	otherSHA := base()
	otherSHA.Attempts[1].RunSHA = "zzz"
	if got := correlate(base(), otherSHA); got != report.HardReasonSHAMismatch {
		t.Errorf("sha mismatch = %q, want %q", got, report.HardReasonSHAMismatch)
	}

	if got := correlate(&report.TriageReport{}, &report.TriageReport{}); got != "" {
		t.Errorf("empty reports correlate = %q, want clean", got)
	}
}
