package probe

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/remedy-run/remedy/pkg/report"
	"github.com/remedy-run/remedy/pkg/workflow"
)

// GitStatus probes the working tree for uncommitted changes.
func GitStatus(dir string) Probe {
	return Probe{
		Name: "git-status",
		Run: func(ctx context.Context) (string, error) {
			cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
			cmd.Dir = dir
			out, err := cmd.Output()
			if err != nil {
				return "", fmt.Errorf("git status failed: %w", err)
			}
			if len(out) == 0 {
				return "clean", nil
			}
			return fmt.Sprintf("%d dirty paths", strings.Count(strings.TrimRight(string(out), "\n"), "\n")+1), nil
		},
	}
}

// RunList probes the latest CI runs for a workflow and branch.
func RunList(client workflow.Client, wf, branch string, limit int) Probe {
	return Probe{
		Name: "ci-runs",
		Run: func(ctx context.Context) (string, error) {
			runs, err := client.ListRuns(ctx, wf, branch, limit)
			if err != nil {
				return "", err
			}
			lines := make([]string, 0, len(runs))
			for _, run := range runs {
				lines = append(lines, fmt.Sprintf("%d %s/%s", run.ID, run.Status, run.Conclusion))
			}
			return strings.Join(lines, "; "), nil
		},
	}
}

// MutationSummary probes an on-disk mutation loop report, if present.
func MutationSummary(path string) Probe {
	return Probe{
		Name: "mutation-summary",
		Run: func(ctx context.Context) (string, error) {
			src, err := report.ParseSource(path)
			if err != nil {
				return "", err
			}
			if src.Mutation == nil {
				return "", fmt.Errorf("%s is not a mutation-loop report", path)
			}
			return fmt.Sprintf("score %.2f / threshold %.2f (%s)", src.Mutation.Score, src.Mutation.Threshold, src.Mutation.Reason), nil
		},
	}
}

// DevLogScan probes the newest entries of a development log directory.
func DevLogScan(dir string, limit int) Probe {
	return Probe{
		Name: "dev-log",
		Run: func(ctx context.Context) (string, error) {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return "", fmt.Errorf("failed to scan dev log: %w", err)
			}
			names := make([]string, 0, len(entries))
			for _, e := range entries {
				if !e.IsDir() && strings.HasSuffix(e.Name(), ".md") {
					names = append(names, e.Name())
				}
			}
			sort.Sort(sort.Reverse(sort.StringSlice(names)))
			if len(names) > limit {
				names = names[:limit]
			}
			return strings.Join(names, ", "), nil
		},
	}
}

// Snapshot converts probe results into a live triage snapshot, used by
// the packet builder when no source artifact exists. Failed probes become
// medium-severity findings so the synthesized packet can never look
// cleaner than reality.
func Snapshot(results []Result, now time.Time) *report.TriageSnapshot {
	snap := &report.TriageSnapshot{
		Kind:        report.SourceTriage,
		GeneratedAt: now.UTC(),
	}
	for _, res := range results {
		if res.OK {
			continue
		}
		snap.Issues = append(snap.Issues, report.TriageIssue{
			Severity: "medium",
			Title:    fmt.Sprintf("probe %s failed: %s", res.Name, res.Err),
			Path:     filepath.Join("probe", res.Name),
		})
	}
	snap.Total = len(snap.Issues)
	return snap
}
