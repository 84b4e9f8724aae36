package phonestatus

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/report"
)

// Bundle file names.
const (
	FullFile    = "phone-status.json"
	SummaryFile = "phone-status.md"
	CompactFile = "compact.json"
	TraceFile   = "trace.json"
	ActionsFile = "actions.json"
	TraceLog    = "trace.log"
)

// WriteBundle persists every projection of the payload into dir. Each file
// is published atomically and all derive from the single payload, so a
// reader never observes views disagreeing with each other.
func WriteBundle(dir string, payload *report.PhoneStatusPayload) error {
	views := map[string]View{
		FullFile:    ViewFull,
		CompactFile: ViewCompact,
		TraceFile:   ViewTrace,
		ActionsFile: ViewActions,
	}
	// Deterministic write order keeps partially failed bundles easy to
	// reason about.
	for _, name := range []string{FullFile, CompactFile, TraceFile, ActionsFile} {
		projected, err := Project(payload, views[name])
		if err != nil {
			return err
		}
		if err := atomicfile.WriteJSON(filepath.Join(dir, name), projected); err != nil {
			return err
		}
	}

	traceLines := strings.Join(payload.TerminalTrace, "\n")
	if traceLines != "" {
		traceLines += "\n"
	}
	if err := atomicfile.WriteFile(filepath.Join(dir, TraceLog), []byte(traceLines), 0o644); err != nil {
		return err
	}

	return atomicfile.WriteFile(filepath.Join(dir, SummaryFile), []byte(RenderSummary(payload)), 0o644)
}

// RenderSummary renders the human-readable markdown view of the payload.
func RenderSummary(payload *report.PhoneStatusPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Remediation status: %s\n\n", payload.Phase)
	fmt.Fprintf(&b, "- Plan: `%s`\n", payload.PlanID)
	fmt.Fprintf(&b, "- Controller run: `%s`\n", payload.ControllerRunID)
	fmt.Fprintf(&b, "- Round: %d (rounds completed: %d, tasks: %d)\n",
		payload.Round, payload.RoundsCompleted, payload.TasksCompleted)
	fmt.Fprintf(&b, "- Unresolved findings: %d\n", payload.UnresolvedCount)
	if payload.Risk != "" {
		fmt.Fprintf(&b, "- Risk: %s\n", payload.Risk)
	}
	fmt.Fprintf(&b, "- Reason: %s\n", payload.Reason)
	fmt.Fprintf(&b, "- Requires approval: %t\n", payload.RequiresApproval)
	if payload.WorkingBranch != "" {
		fmt.Fprintf(&b, "- Working branch: `%s`\n", payload.WorkingBranch)
	}
	fmt.Fprintf(&b, "- Updated: %s\n", payload.UpdatedAtUTC.Format(time.RFC3339))

	if payload.DraftText != "" {
		b.WriteString("\n## Draft\n\n")
		b.WriteString(payload.DraftText)
		b.WriteString("\n")
	}
	if len(payload.ProposedActions) > 0 {
		b.WriteString("\n## Proposed actions\n\n")
		for _, action := range payload.ProposedActions {
			fmt.Fprintf(&b, "- %s\n", action)
		}
	}
	return b.String()
}
