package controller

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/remedy-run/remedy/pkg/atomicfile"
	"github.com/remedy-run/remedy/pkg/phonestatus"
	"github.com/remedy-run/remedy/pkg/report"
)

// Queue subdirectories. The queue is the persistence layer: append or
// replace only, no database. A single controller invocation is the sole
// writer for its controller_run_id namespace, so no locking is needed.
const (
	InboxDir   = "inbox"
	OutboxDir  = "outbox"
	ArchiveDir = "archive"
	PhoneDir   = "phone"
)

// Artifact file names inside a round directory.
const (
	TriageReportFile     = "triage-loop.json"
	LoopPacketFile       = "loop-packet.json"
	CheckpointPacketFile = "checkpoint-packet.json"
)

// Layout resolves the on-disk locations for one controller run.
type Layout struct {
	PacketRoot      string
	QueueRoot       string
	ControllerRunID string
}

// RunDir is the controller run's namespace under the packet root.
func (l Layout) RunDir() string {
	return filepath.Join(l.PacketRoot, l.ControllerRunID)
}

// RoundDir is the artifact directory for one round.
func (l Layout) RoundDir(round int) string {
	return filepath.Join(l.RunDir(), fmt.Sprintf("round-%03d", round))
}

// QueueDir resolves one of the queue subdirectories.
func (l Layout) QueueDir(name string) string {
	return filepath.Join(l.QueueRoot, name)
}

// EnsureDirs creates the full queue skeleton.
func (l Layout) EnsureDirs() error {
	dirs := []string{
		l.RunDir(),
		l.QueueDir(InboxDir),
		l.QueueDir(OutboxDir),
		l.QueueDir(ArchiveDir),
		l.QueueDir(PhoneDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnqueueCheckpoint copies a round's checkpoint packet into the inbox
// under a name unique to (run, round), so repeated controller invocations
// never clobber each other's queue entries.
func (l Layout) EnqueueCheckpoint(round int, pkt *report.CheckpointPacket) (string, error) {
	name := fmt.Sprintf("%s-round-%03d-%s", l.ControllerRunID, round, CheckpointPacketFile)
	path := filepath.Join(l.QueueDir(InboxDir), name)
	if err := atomicfile.WriteJSON(path, pkt); err != nil {
		return "", err
	}
	return path, nil
}

// PublishPhone writes the phone-status bundle into the round directory and
// refreshes the phone/latest pointers. Latest pointers are last-writer-
// wins; the per-round bundle is the append-only history.
func (l Layout) PublishPhone(round int, payload *report.PhoneStatusPayload) error {
	if err := phonestatus.WriteBundle(l.RoundDir(round), payload); err != nil {
		return err
	}

	phoneDir := l.QueueDir(PhoneDir)
	if err := atomicfile.WriteJSON(filepath.Join(phoneDir, "latest.json"), payload); err != nil {
		return err
	}
	summary := phonestatus.RenderSummary(payload)
	return atomicfile.WriteFile(filepath.Join(phoneDir, "latest.md"), []byte(summary), 0o644)
}

// LatestPhonePath is where consumers find the most recent phone status.
func LatestPhonePath(queueRoot string) string {
	return filepath.Join(queueRoot, PhoneDir, "latest.json")
}
