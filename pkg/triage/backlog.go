package triage

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// BacklogFileName is the structured findings file expected inside the CI
// run's artifact set.
const BacklogFileName = "backlog.json"

// Finding is one unresolved finding reported by the CI workflow.
type Finding struct {
	ID       string `json:"id"`
	Severity string `json:"severity,omitempty"`
	Title    string `json:"title,omitempty"`
	Path     string `json:"path,omitempty"`
}

// Backlog is the decoded backlog artifact.
type Backlog struct {
	Findings []Finding `json:"findings"`
}

// Count returns the number of unresolved findings.
func (b *Backlog) Count() int {
	return len(b.Findings)
}

// errBacklogMissing distinguishes an absent backlog file from an
// undecodable one.
var errBacklogMissing = fmt.Errorf("backlog file not found")

// findBacklog locates the backlog file anywhere under the artifact
// directory. Artifacts extract into per-artifact subdirectories, so the
// exact depth depends on how the workflow packaged it.
func findBacklog(root string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == BacklogFileName {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to scan artifact directory: %w", err)
	}
	if found == "" {
		return "", errBacklogMissing
	}
	return found, nil
}

// parseBacklog reads and decodes the backlog file under root.
func parseBacklog(root string) (*Backlog, string, error) {
	path, err := findBacklog(root)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to read backlog file: %w", err)
	}

	var backlog Backlog
	if err := json.Unmarshal(data, &backlog); err != nil {
		return nil, path, fmt.Errorf("invalid backlog format: %w", err)
	}
	return &backlog, path, nil
}
