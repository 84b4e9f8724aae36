package packet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/remedy-run/remedy/pkg/report"
)

// SchemaVersion is the checkpoint packet schema version.
const SchemaVersion = 1

// StatusPending is the initial status of a freshly written checkpoint.
const StatusPending = "pending"

// CheckpointInput is everything the controller knows about one round when
// it checkpoints it.
type CheckpointInput struct {
	PlanID          string
	ControllerRunID string
	Round           int
	WorkingBranch   string
	PromotionBranch string
	SourceTimestamp time.Time
	Packet          *report.LoopPacket
	TriageReason    string
	UnresolvedCount int
	EvidenceRefs    []string
	TerminalTrace   []string
	ReplayWindow    time.Duration
	Now             time.Time
}

// IdempotencyKey hashes the causal inputs of a checkpoint. Two packets
// produced from identical causal inputs carry the same key, which is what
// gives downstream consumers at-most-once processing.
func IdempotencyKey(planID, controllerRunID string, round int, sourceTimestamp time.Time, summary string) string {
	payload := fmt.Sprintf("%s\x00%s\x00%d\x00%s\x00%s",
		planID, controllerRunID, round, sourceTimestamp.UTC().Format(time.RFC3339Nano), summary)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// NewCheckpoint builds the durable, replay-protected packet for one round.
func NewCheckpoint(in CheckpointInput) *report.CheckpointPacket {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	requiresApproval := in.Packet.Risk != report.RiskLow || !in.Packet.AutoSend

	return &report.CheckpointPacket{
		SchemaVersion:    SchemaVersion,
		PlanID:           in.PlanID,
		ControllerRunID:  in.ControllerRunID,
		Round:            in.Round,
		TimestampUTC:     now,
		WorkingBranch:    in.WorkingBranch,
		PromotionBranch:  in.PromotionBranch,
		Risk:             in.Packet.Risk,
		RequiresApproval: requiresApproval,
		DraftText:        in.Packet.DraftText,
		ProposedActions:  in.Packet.NextActions,
		EvidenceRefs:     in.EvidenceRefs,
		IdempotencyKey:   IdempotencyKey(in.PlanID, in.ControllerRunID, in.Round, in.SourceTimestamp, in.Packet.DraftText),
		Nonce:            uuid.NewString(),
		ExpiresAtUTC:     now.Add(in.ReplayWindow),
		Status:           StatusPending,
		ReasonCode:       in.TriageReason,
		UnresolvedCount:  in.UnresolvedCount,
		TerminalTrace:    in.TerminalTrace,
	}
}

// Accept is the replay check every consumer must apply before acting on a
// checkpoint packet: a packet observed after its expiry is stale state and
// must be rejected.
func Accept(pkt *report.CheckpointPacket, now time.Time) bool {
	if pkt == nil {
		return false
	}
	return !now.After(pkt.ExpiresAtUTC)
}
