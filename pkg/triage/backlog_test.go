package triage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseBacklogNested(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "ci-results", "reports")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("failed to create dirs: %v", err)
	}
	content := `{"findings":[{"id":"F1","severity":"high","title":"nil deref"},{"id":"F2"}]}`
	if err := os.WriteFile(filepath.Join(nested, BacklogFileName), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write backlog: %v", err)
	}

	backlog, path, err := parseBacklog(root)
	if err != nil {
		t.Fatalf("parseBacklog() error = %v", err)
	}
	if backlog.Count() != 2 {
		t.Errorf("Count() = %d, want 2", backlog.Count())
	}
	if filepath.Dir(path) != nested {
		t.Errorf("path = %s, want the nested location", path)
	}
	if backlog.Findings[0].Severity != "high" {
		t.Errorf("finding = %+v", backlog.Findings[0])
	}
}

func TestParseBacklogEmpty(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, BacklogFileName), []byte(`{"findings":[]}`), 0o644); err != nil {
		t.Fatalf("failed to write backlog: %v", err)
	}

	backlog, _, err := parseBacklog(root)
	if err != nil {
		t.Fatalf("parseBacklog() error = %v", err)
	}
	if backlog.Count() != 0 {
		t.Errorf("Count() = %d, want 0", backlog.Count())
	}
}

func TestParseBacklogMissing(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("nothing structured"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	_, _, err := parseBacklog(root)
	if !errors.Is(err, errBacklogMissing) {
		t.Errorf("error = %v, want errBacklogMissing", err)
	}
}

func TestParseBacklogInvalid(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, BacklogFileName), []byte("not json"), 0o644); err != nil {
		t.Fatalf("failed to write backlog: %v", err)
	}

	_, _, err := parseBacklog(root)
	if err == nil {
		t.Fatal("parseBacklog() succeeded on invalid JSON")
	}
	if errors.Is(err, errBacklogMissing) {
		t.Error("invalid backlog must not be reported as missing")
	}
}
