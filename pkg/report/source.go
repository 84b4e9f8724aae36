package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SourceKind identifies which report kind an artifact carries. The set is
// closed: every packet source is exactly one of these.
type SourceKind string

const (
	SourceTriageLoop   SourceKind = "triage-loop"
	SourceMutationLoop SourceKind = "mutation-loop"
	SourceTriage       SourceKind = "triage"
)

// Rank returns the preference rank of the kind relative to prefer, lower
// is better. The preferred kind ranks first, then the remaining kinds in
// declaration order.
func (k SourceKind) Rank(prefer SourceKind) int {
	if k == prefer {
		return 0
	}
	switch k {
	case SourceTriageLoop:
		return 1
	case SourceMutationLoop:
		return 2
	case SourceTriage:
		return 3
	}
	return 4
}

// Source is one parsed packet source artifact. Exactly one of the typed
// report fields is non-nil, matching Kind.
type Source struct {
	Kind      SourceKind
	Path      string
	Timestamp time.Time

	Triage   *TriageReport
	Mutation *MutationReport
	Snapshot *TriageSnapshot
}

// kindProbe extracts just the discriminator from an artifact.
type kindProbe struct {
	Kind SourceKind `json:"kind"`
}

// ParseSource reads and decodes a packet source artifact. The artifact's
// own "kind" field is authoritative; when absent, the kind is inferred
// from the file name. Artifacts that match neither are rejected.
func ParseSource(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", path, err)
	}

	var probe kindProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("invalid source %s: %w", path, err)
	}

	kind := probe.Kind
	if kind == "" {
		kind = inferKind(path)
	}

	src := &Source{Kind: kind, Path: path}
	switch kind {
	case SourceTriageLoop:
		var r TriageReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("invalid triage-loop source %s: %w", path, err)
		}
		r.Kind = kind
		src.Triage = &r
		src.Timestamp = r.GeneratedAt
	case SourceMutationLoop:
		var r MutationReport
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("invalid mutation-loop source %s: %w", path, err)
		}
		r.Kind = kind
		src.Mutation = &r
		src.Timestamp = r.GeneratedAt
	case SourceTriage:
		var r TriageSnapshot
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("invalid triage source %s: %w", path, err)
		}
		r.Kind = kind
		src.Snapshot = &r
		src.Timestamp = r.GeneratedAt
	default:
		return nil, fmt.Errorf("unknown source kind %q in %s", kind, path)
	}

	if src.Timestamp.IsZero() {
		return nil, fmt.Errorf("source %s has no generated_at timestamp", path)
	}
	return src, nil
}

// inferKind maps an artifact file name to a source kind.
func inferKind(path string) SourceKind {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch name {
	case "triage-loop", "triage-loop-report":
		return SourceTriageLoop
	case "mutation-loop", "mutation-loop-report":
		return SourceMutationLoop
	case "triage", "triage-report":
		return SourceTriage
	}
	return ""
}
