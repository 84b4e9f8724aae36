// Package packet converts terminal reports into risk-classified, size-
// bounded handoff packets, and builds the replay-protected checkpoint
// packets the controller persists per round.
package packet

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/remedy-run/remedy/pkg/log"
	"github.com/remedy-run/remedy/pkg/report"
)

// DefaultSourcePaths is the fixed fallback list scanned when the caller
// provides no candidate artifacts.
var DefaultSourcePaths = []string{
	".remedy/triage-loop.json",
	".remedy/mutation-loop.json",
	".remedy/triage.json",
}

// Default bounds for packet construction.
const (
	DefaultMaxAgeHours   = 24.0
	DefaultMaxDraftChars = 4000
)

// highBacklogThreshold is the unresolved count above which a triage-loop
// source classifies as high risk.
const highBacklogThreshold = 8

// Error is a builder failure with a fixed-vocabulary reason.
type Error struct {
	Reason  string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Reason, e.Message)
	}
	return e.Reason
}

// Options configures one packet build.
type Options struct {
	// Sources are candidate artifact paths, scanned in order. Empty
	// falls back to DefaultSourcePaths.
	Sources []string

	// PreferSource ranks first among valid candidates.
	PreferSource report.SourceKind

	// MaxAgeHours rejects sources older than this relative to their own
	// generated_at timestamp.
	MaxAgeHours float64

	// MaxDraftChars bounds the draft text.
	MaxDraftChars int

	// AllowAutoSend permits auto-send evaluation at all. When false the
	// packet never auto-sends, regardless of risk.
	AllowAutoSend bool

	// Snapshot synthesizes a live triage snapshot when no valid source
	// artifact exists. Nil disables synthesis.
	Snapshot func() *report.TriageSnapshot

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

func (o *Options) defaults() {
	if len(o.Sources) == 0 {
		o.Sources = DefaultSourcePaths
	}
	if o.PreferSource == "" {
		o.PreferSource = report.SourceTriageLoop
	}
	if o.MaxAgeHours <= 0 {
		o.MaxAgeHours = DefaultMaxAgeHours
	}
	if o.MaxDraftChars <= 0 {
		o.MaxDraftChars = DefaultMaxDraftChars
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Build scans the candidate sources, selects the most preferred most
// recent valid one, and produces a loop packet. A stale source is an
// error: a packet must describe a state that is still actionable.
func Build(opts Options) (*report.LoopPacket, error) {
	opts.defaults()
	now := opts.Now().UTC()

	var warnings []string
	var candidates []*report.Source
	for _, path := range opts.Sources {
		src, err := report.ParseSource(path)
		if err != nil {
			log.Debug("skipping packet source", "path", path, "error", err)
			continue
		}
		candidates = append(candidates, src)
	}

	var src *report.Source
	if len(candidates) == 0 {
		if opts.Snapshot == nil {
			return nil, &Error{Reason: report.ReasonNoValidSource, Message: "no candidate artifact could be parsed"}
		}
		snap := opts.Snapshot()
		snap.Kind = report.SourceTriage
		if snap.GeneratedAt.IsZero() {
			snap.GeneratedAt = now
		}
		src = &report.Source{
			Kind:      report.SourceTriage,
			Path:      "live",
			Timestamp: snap.GeneratedAt,
			Snapshot:  snap,
		}
		warnings = append(warnings, "no valid source artifact; synthesized live triage snapshot")
	} else {
		// Preferred kind first, then most recent.
		sort.SliceStable(candidates, func(i, j int) bool {
			ri, rj := candidates[i].Kind.Rank(opts.PreferSource), candidates[j].Kind.Rank(opts.PreferSource)
			if ri != rj {
				return ri < rj
			}
			return candidates[i].Timestamp.After(candidates[j].Timestamp)
		})
		src = candidates[0]
	}

	age := now.Sub(src.Timestamp)
	freshness := age.Hours()
	if freshness > opts.MaxAgeHours {
		return nil, &Error{
			Reason:  report.ReasonSourceStale,
			Message: fmt.Sprintf("source %s is %.1fh old, max age %.1fh", src.Path, freshness, opts.MaxAgeHours),
		}
	}

	risk := classify(src)
	pkt := &report.LoopPacket{
		Risk:           risk,
		Confidence:     confidence(risk),
		DraftText:      report.Truncate(draft(src), opts.MaxDraftChars),
		NextActions:    nextActions(src, risk),
		AutoSend:       opts.AllowAutoSend && resolvedCondition(src) && risk == report.RiskLow,
		SourceCommand:  string(src.Kind),
		SourcePath:     src.Path,
		FreshnessHours: freshness,
		Warnings:       warnings,
		GeneratedAt:    now,
	}
	return pkt, nil
}

// classify maps a typed source to its risk band. The thresholds are fixed
// contract values shared with downstream consumers.
func classify(src *report.Source) report.Risk {
	switch src.Kind {
	case report.SourceTriageLoop:
		switch {
		case src.Triage.UnresolvedCount == 0:
			return report.RiskLow
		case src.Triage.UnresolvedCount > highBacklogThreshold:
			return report.RiskHigh
		default:
			return report.RiskMedium
		}
	case report.SourceMutationLoop:
		if src.Mutation.Score < src.Mutation.Threshold {
			return report.RiskHigh
		}
		return report.RiskLow
	case report.SourceTriage:
		var medium bool
		for _, issue := range src.Snapshot.Issues {
			switch issue.Severity {
			case "high":
				return report.RiskHigh
			case "medium":
				medium = true
			}
		}
		if medium {
			return report.RiskMedium
		}
		return report.RiskLow
	}
	return report.RiskHigh
}

// resolvedCondition is the source-specific confirmation that the state is
// actually resolved. Auto-send requires this in addition to low risk; low
// risk alone is not confirmation.
func resolvedCondition(src *report.Source) bool {
	switch src.Kind {
	case report.SourceTriageLoop:
		return src.Triage.UnresolvedCount == 0 && src.Triage.Reason == report.ReasonResolved
	case report.SourceMutationLoop:
		return src.Mutation.Reason == report.ReasonThresholdMet
	case report.SourceTriage:
		return src.Snapshot.Total == 0 && len(src.Snapshot.Issues) == 0
	}
	return false
}

func confidence(risk report.Risk) float64 {
	switch risk {
	case report.RiskLow:
		return 0.9
	case report.RiskMedium:
		return 0.6
	default:
		return 0.3
	}
}

func draft(src *report.Source) string {
	var b strings.Builder
	switch src.Kind {
	case report.SourceTriageLoop:
		r := src.Triage
		fmt.Fprintf(&b, "Triage loop on %s (%s): %d unresolved, terminal reason %q.\n",
			r.Repo, r.Branch, r.UnresolvedCount, r.Reason)
		for _, att := range r.Attempts {
			fmt.Fprintf(&b, "- attempt %d: run %d (%s) backlog=%d status=%s",
				att.AttemptNo, att.RunID, shortSHA(att.RunSHA), att.BacklogCount, att.Status)
			if att.Message != "" {
				fmt.Fprintf(&b, " (%s)", att.Message)
			}
			b.WriteString("\n")
		}
	case report.SourceMutationLoop:
		r := src.Mutation
		fmt.Fprintf(&b, "Mutation loop: score %.2f against threshold %.2f, terminal reason %q.\n",
			r.Score, r.Threshold, r.Reason)
	case report.SourceTriage:
		r := src.Snapshot
		fmt.Fprintf(&b, "Triage snapshot: %d findings.\n", r.Total)
		for _, issue := range r.Issues {
			fmt.Fprintf(&b, "- [%s] %s\n", issue.Severity, issue.Title)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func nextActions(src *report.Source, risk report.Risk) []string {
	if resolvedCondition(src) {
		return []string{"archive packet", "close remediation plan"}
	}
	actions := []string{"review draft"}
	switch risk {
	case report.RiskHigh:
		actions = append(actions, "escalate to operator", "pause loop")
	case report.RiskMedium:
		actions = append(actions, "dispatch report-only run")
	default:
		actions = append(actions, "dispatch report-only run")
	}
	return actions
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
