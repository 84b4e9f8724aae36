// Package phonestatus reduces full controller state into compact views
// sized for constrained, read-only consumers, and persists them as a
// consistent bundle.
package phonestatus

import (
	"fmt"
	"time"

	"github.com/remedy-run/remedy/pkg/report"
)

// View selects a projection of the phone-status payload.
type View string

const (
	ViewCompact View = "compact"
	ViewTrace   View = "trace"
	ViewActions View = "actions"
	ViewFull    View = "full"
)

// Character budget for the compact draft preview.
const previewChars = 280

// Bound on exposed terminal trace lines.
const maxTraceLines = 50

// CompactView flattens controller, loop, and terminal fields into scalar
// counters plus a short draft preview.
type CompactView struct {
	Phase            report.Phase `json:"phase"`
	PlanID           string       `json:"plan_id"`
	ControllerRunID  string       `json:"controller_run_id"`
	Round            int          `json:"round"`
	RoundsCompleted  int          `json:"rounds_completed"`
	TasksCompleted   int          `json:"tasks_completed"`
	UnresolvedCount  int          `json:"unresolved_count"`
	Risk             report.Risk  `json:"risk"`
	Reason           string       `json:"reason"`
	RequiresApproval bool         `json:"requires_approval"`
	Preview          string       `json:"preview"`
	UpdatedAtUTC     time.Time    `json:"updated_at_utc"`
}

// TraceView exposes only the terminal trace and the raw draft.
type TraceView struct {
	Phase report.Phase `json:"phase"`
	Trace []string     `json:"trace"`
	Draft string       `json:"draft"`
}

// OperatorCommand is one allowed operator follow-up with its risk and
// guard metadata.
type OperatorCommand struct {
	Command     string      `json:"command"`
	Description string      `json:"description"`
	Risk        report.Risk `json:"risk"`
	Guard       string      `json:"guard"`
}

// ActionsView exposes the proposed next actions plus the fixed catalogue
// of operator follow-up commands.
type ActionsView struct {
	Proposed []string          `json:"proposed"`
	Operator []OperatorCommand `json:"operator"`
}

// OperatorCatalogue is the fixed set of follow-up commands a constrained
// consumer may surface.
var OperatorCatalogue = []OperatorCommand{
	{
		Command:     "controller-action --action refresh-status",
		Description: "re-read the latest persisted phone status",
		Risk:        report.RiskLow,
		Guard:       "none",
	},
	{
		Command:     "controller-action --action dispatch-report-only",
		Description: "dispatch an allowlisted workflow in report-only mode",
		Risk:        report.RiskMedium,
		Guard:       "workflow and branch allowlists; autonomy mode != off",
	},
	{
		Command:     "controller-action --action pause-loop",
		Description: "pause the autonomy loop",
		Risk:        report.RiskLow,
		Guard:       "autonomy mode != off",
	},
	{
		Command:     "controller-action --action resume-loop",
		Description: "resume the autonomy loop",
		Risk:        report.RiskHigh,
		Guard:       "autonomy mode != off; operator approval",
	},
}

// Project reduces the payload to the requested view. All views derive from
// the same payload, so a bundle of projections is always self-consistent.
func Project(payload *report.PhoneStatusPayload, view View) (interface{}, error) {
	switch view {
	case ViewCompact:
		return &CompactView{
			Phase:            payload.Phase,
			PlanID:           payload.PlanID,
			ControllerRunID:  payload.ControllerRunID,
			Round:            payload.Round,
			RoundsCompleted:  payload.RoundsCompleted,
			TasksCompleted:   payload.TasksCompleted,
			UnresolvedCount:  payload.UnresolvedCount,
			Risk:             payload.Risk,
			Reason:           payload.Reason,
			RequiresApproval: payload.RequiresApproval,
			Preview:          report.Truncate(payload.DraftText, previewChars),
			UpdatedAtUTC:     payload.UpdatedAtUTC,
		}, nil
	case ViewTrace:
		trace := payload.TerminalTrace
		if len(trace) > maxTraceLines {
			trace = trace[len(trace)-maxTraceLines:]
		}
		return &TraceView{
			Phase: payload.Phase,
			Trace: trace,
			Draft: payload.DraftText,
		}, nil
	case ViewActions:
		return &ActionsView{
			Proposed: payload.ProposedActions,
			Operator: OperatorCatalogue,
		}, nil
	case ViewFull:
		return payload, nil
	}
	return nil, fmt.Errorf("unknown phone-status view %q", view)
}

// FromController derives the phone-status payload from a controller report
// and its latest round.
func FromController(cr *report.ControllerReport, pkt *report.CheckpointPacket, now time.Time) *report.PhoneStatusPayload {
	payload := &report.PhoneStatusPayload{
		PlanID:          cr.PlanID,
		ControllerRunID: cr.ControllerRunID,
		RoundsCompleted: cr.RoundsCompleted,
		TasksCompleted:  cr.TasksCompleted,
		Reason:          cr.Reason,
		UpdatedAtUTC:    now.UTC(),
	}

	if n := len(cr.Rounds); n > 0 {
		last := cr.Rounds[n-1]
		payload.Round = last.RoundNo
		payload.UnresolvedCount = last.UnresolvedCount
		payload.Risk = last.Risk
		payload.RequiresApproval = last.RequiresApproval
		payload.WorkingBranch = last.WorkingBranch
		payload.PacketPath = last.PacketPath
	}

	if pkt != nil {
		payload.DraftText = pkt.DraftText
		payload.ProposedActions = pkt.ProposedActions
		payload.TerminalTrace = pkt.TerminalTrace
	}

	switch {
	case cr.Resolved:
		payload.Phase = report.PhaseResolved
	case !cr.OK:
		payload.Phase = report.PhaseError
	default:
		payload.Phase = report.PhaseRunning
	}
	return payload
}
