// Package report defines the typed report kinds exchanged between the
// triage loop engine, the packet builder, the autonomy controller, and the
// phone-status projector. Every artifact is decoded once at the boundary
// into one of these types; no component passes loosely-typed maps around.
package report

import "time"

// AttemptStatus is the terminal status of one polling cycle inside a
// triage loop run.
type AttemptStatus string

const (
	// StatusAnalyzing means the attempt downloaded a run's backlog and is acting on it
	StatusAnalyzing AttemptStatus = "analyzing-backlog"
	// StatusResolved means the backlog was empty
	StatusResolved AttemptStatus = "resolved"
	// StatusBlocked means the backlog was non-empty and no fix command is configured
	StatusBlocked AttemptStatus = "blocked"
	// StatusFailed means the fix command or an artifact operation failed
	StatusFailed AttemptStatus = "failed"
	// StatusWaiting means the attempt is waiting for a new completed run
	StatusWaiting AttemptStatus = "waiting-for-new-run"
)

// Attempt records one polling cycle inside a triage loop run. Attempts are
// appended in order, 1-based, and never mutated after the run terminates.
type Attempt struct {
	AttemptNo     int           `json:"attempt_no"`
	RunID         int64         `json:"run_id"`
	RunSHA        string        `json:"run_sha"`
	RunURL        string        `json:"run_url"`
	RunConclusion string        `json:"run_conclusion"`
	BacklogCount  int           `json:"backlog_count"`
	Status        AttemptStatus `json:"status"`
	Message       string        `json:"message,omitempty"`
}

// TriageReport is the terminal output of a triage loop engine run.
type TriageReport struct {
	Kind            SourceKind `json:"kind"`
	OK              bool       `json:"ok"`
	Repo            string     `json:"repo"`
	Branch          string     `json:"branch"`
	Mode            string     `json:"mode"`
	UnresolvedCount int        `json:"unresolved_count"`
	Reason          string     `json:"reason"`
	Attempts        []Attempt  `json:"attempts"`
	GeneratedAt     time.Time  `json:"generated_at"`
}

// MutationReport is the terminal output of a mutation-testing loop run.
// It is an alternate packet source, not produced by this module.
type MutationReport struct {
	Kind        SourceKind `json:"kind"`
	OK          bool       `json:"ok"`
	Score       float64    `json:"score"`
	Threshold   float64    `json:"threshold"`
	Reason      string     `json:"reason"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// TriageIssue is a single finding inside a plain triage snapshot.
type TriageIssue struct {
	Severity string `json:"severity"` // "high", "medium", "low"
	Title    string `json:"title"`
	Path     string `json:"path,omitempty"`
}

// TriageSnapshot is a point-in-time triage rollup, either read from an
// artifact or synthesized live by the packet builder when no artifact is
// available.
type TriageSnapshot struct {
	Kind        SourceKind    `json:"kind"`
	Issues      []TriageIssue `json:"issues"`
	Total       int           `json:"total"`
	Reason      string        `json:"reason,omitempty"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// Risk is the coarse classification of how safe it is to act
// automatically on a packet.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// LoopPacket is the packet builder's output: a risk-classified,
// size-bounded handoff document.
type LoopPacket struct {
	Risk           Risk      `json:"risk"`
	Confidence     float64   `json:"confidence"`
	DraftText      string    `json:"draft_text"`
	NextActions    []string  `json:"next_actions"`
	AutoSend       bool      `json:"auto_send"`
	SourceCommand  string    `json:"source_command"`
	SourcePath     string    `json:"source_path"`
	FreshnessHours float64   `json:"freshness_hours"`
	Warnings       []string  `json:"warnings,omitempty"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// CheckpointPacket is one controller round's durable, replay-protected
// artifact. Its idempotency key is a content hash over the causal inputs
// (plan, run, round, source timestamp, summary), so two packets with
// identical causal inputs always carry the same key.
type CheckpointPacket struct {
	SchemaVersion   int       `json:"schema_version"`
	PlanID          string    `json:"plan_id"`
	ControllerRunID string    `json:"controller_run_id"`
	Round           int       `json:"round"`
	TimestampUTC    time.Time `json:"timestamp_utc"`
	WorkingBranch   string    `json:"working_branch"`
	PromotionBranch string    `json:"promotion_branch"`
	Risk            Risk      `json:"risk"`
	RequiresApproval bool     `json:"requires_approval"`
	DraftText       string    `json:"draft_text"`
	ProposedActions []string  `json:"proposed_actions"`
	EvidenceRefs    []string  `json:"evidence_refs"`
	IdempotencyKey  string    `json:"idempotency_key"`
	Nonce           string    `json:"nonce"`
	ExpiresAtUTC    time.Time `json:"expires_at_utc"`
	Status          string    `json:"status"`
	ReasonCode      string    `json:"reason_code"`
	UnresolvedCount int       `json:"unresolved_count"`
	TerminalTrace   []string  `json:"terminal_trace"`
}

// Round is the controller's per-iteration summary. Rounds form an
// append-only sequence in causal order.
type Round struct {
	RoundNo          int    `json:"round_no"`
	WorkingBranch    string `json:"working_branch"`
	LoopBranch       string `json:"loop_branch"`
	TriageRC         int    `json:"triage_rc"`
	PacketRC         int    `json:"packet_rc"`
	TriageReason     string `json:"triage_reason"`
	UnresolvedCount  int    `json:"unresolved_count"`
	Risk             Risk   `json:"risk"`
	PacketPath       string `json:"packet_path"`
	RequiresApproval bool   `json:"requires_approval"`
}

// ControllerReport is the final output of an autonomy controller
// invocation.
type ControllerReport struct {
	OK              bool     `json:"ok"`
	Resolved        bool     `json:"resolved"`
	Reason          string   `json:"reason"`
	PlanID          string   `json:"plan_id"`
	ControllerRunID string   `json:"controller_run_id"`
	ModeEffective   string   `json:"mode_effective"`
	Rounds          []Round  `json:"rounds"`
	TasksCompleted  int      `json:"tasks_completed"`
	RoundsCompleted int      `json:"rounds_completed"`
	Warnings        []string `json:"warnings"`
	Errors          []string `json:"errors"`
	PacketRoot      string   `json:"packet_root"`
	QueueRoot       string   `json:"queue_root"`
}

// Phase is the reduced lifecycle state exposed to constrained consumers.
type Phase string

const (
	PhaseRunning  Phase = "running"
	PhasePaused   Phase = "paused"
	PhaseResolved Phase = "resolved"
	PhaseError    Phase = "error"
)

// PhoneStatusPayload is the reduced, constrained-client-facing snapshot
// derived from a controller report plus its latest round.
type PhoneStatusPayload struct {
	Phase            Phase     `json:"phase"`
	PlanID           string    `json:"plan_id"`
	ControllerRunID  string    `json:"controller_run_id"`
	Round            int       `json:"round"`
	RoundsCompleted  int       `json:"rounds_completed"`
	TasksCompleted   int       `json:"tasks_completed"`
	UnresolvedCount  int       `json:"unresolved_count"`
	Risk             Risk      `json:"risk"`
	Reason           string    `json:"reason"`
	RequiresApproval bool      `json:"requires_approval"`
	WorkingBranch    string    `json:"working_branch"`
	DraftText        string    `json:"draft_text"`
	ProposedActions  []string  `json:"proposed_actions"`
	TerminalTrace    []string  `json:"terminal_trace"`
	PacketPath       string    `json:"packet_path,omitempty"`
	UpdatedAtUTC     time.Time `json:"updated_at_utc"`
}
