// Package policy loads and evaluates the governance document that gates
// every autonomous action: allowed branches, allowed workflow dispatch
// targets, allowed fix-command prefixes, and hard caps on rounds, hours,
// and tasks. The document is read fully, once per invocation, and never
// mutated.
package policy

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Autonomy modes recognized by the control plane.
const (
	ModeOff        = "off"
	ModeReportOnly = "report-only"
	ModeOperate    = "operate"
)

// Policy is the parsed governance document.
type Policy struct {
	AutonomyModeDefault       string   `yaml:"autonomy_mode_default"`
	AllowedBranches           []string `yaml:"allowed_branches"`
	AllowedWorkflowDispatches []string `yaml:"allowed_workflow_dispatches"`
	AllowedFixCommandPrefixes []string `yaml:"allowed_fix_command_prefixes"`
	MaxRoundsHardCap          int      `yaml:"max_rounds_hard_cap"`
	MaxHoursHardCap           float64  `yaml:"max_hours_hard_cap"`
	MaxTasksHardCap           int      `yaml:"max_tasks_hard_cap"`
	PacketRoot                string   `yaml:"packet_root"`
	QueueRoot                 string   `yaml:"queue_root"`
	ReplayWindowSeconds       int      `yaml:"replay_window_seconds"`
}

// Default returns the policy used when no document is present: report-only
// autonomy with conservative caps.
func Default() *Policy {
	return &Policy{
		AutonomyModeDefault: ModeReportOnly,
		MaxRoundsHardCap:    10,
		MaxHoursHardCap:     8,
		MaxTasksHardCap:     50,
		PacketRoot:          ".remedy/packets",
		QueueRoot:           ".remedy/queue",
		ReplayWindowSeconds: 86400,
	}
}

// Load reads the policy document at path. Absent keys fall back to the
// defaults; an absent file is an error because callers that pass a path
// expect that exact document to govern the run.
func Load(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy document: %w", err)
	}

	p := Default()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse policy document %s: %w", path, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid policy document %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) validate() error {
	switch p.AutonomyModeDefault {
	case ModeOff, ModeReportOnly, ModeOperate:
	default:
		return fmt.Errorf("unknown autonomy_mode_default %q", p.AutonomyModeDefault)
	}
	if p.MaxRoundsHardCap <= 0 {
		return fmt.Errorf("max_rounds_hard_cap must be positive, got %d", p.MaxRoundsHardCap)
	}
	if p.MaxHoursHardCap <= 0 {
		return fmt.Errorf("max_hours_hard_cap must be positive, got %g", p.MaxHoursHardCap)
	}
	if p.MaxTasksHardCap <= 0 {
		return fmt.Errorf("max_tasks_hard_cap must be positive, got %d", p.MaxTasksHardCap)
	}
	if p.ReplayWindowSeconds <= 0 {
		return fmt.Errorf("replay_window_seconds must be positive, got %d", p.ReplayWindowSeconds)
	}
	return nil
}

// BranchAllowed reports whether branch is in the allowed set. An empty
// allowed set denies everything: autonomy against an unconfigured branch
// list is never safe.
func (p *Policy) BranchAllowed(branch string) bool {
	for _, b := range p.AllowedBranches {
		if b == branch {
			return true
		}
	}
	return false
}

// DispatchAllowed reports whether the workflow file is an allowed dispatch
// target.
func (p *Policy) DispatchAllowed(workflow string) bool {
	for _, w := range p.AllowedWorkflowDispatches {
		if w == workflow {
			return true
		}
	}
	return false
}

// FixCommandAllowed reports whether the fix command's argument vector
// starts with one of the allowed prefixes. The comparison is per-argument,
// never through a shell, so an allowlisted "make" can not be stretched
// into "make; rm -rf".
func (p *Policy) FixCommandAllowed(argv []string) bool {
	if len(argv) == 0 {
		return false
	}
	for _, prefix := range p.AllowedFixCommandPrefixes {
		want := strings.Fields(prefix)
		if len(want) == 0 || len(want) > len(argv) {
			continue
		}
		match := true
		for i, tok := range want {
			if argv[i] != tok {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// CapViolation describes one requested budget exceeding its hard cap.
type CapViolation struct {
	Name      string
	Requested float64
	Cap       float64
}

func (v CapViolation) Error() string {
	return fmt.Sprintf("%s %g exceeds policy hard cap %g", v.Name, v.Requested, v.Cap)
}

// CheckCaps validates requested budgets against the policy hard caps and
// returns every violation, not just the first, so the caller can surface a
// complete error list with zero side effects.
func (p *Policy) CheckCaps(maxRounds int, maxHours float64, maxTasks int) []CapViolation {
	var violations []CapViolation
	if maxRounds > p.MaxRoundsHardCap {
		violations = append(violations, CapViolation{"max_rounds", float64(maxRounds), float64(p.MaxRoundsHardCap)})
	}
	if maxHours > p.MaxHoursHardCap {
		violations = append(violations, CapViolation{"max_hours", maxHours, p.MaxHoursHardCap})
	}
	if maxTasks > p.MaxTasksHardCap {
		violations = append(violations, CapViolation{"max_tasks", float64(maxTasks), float64(p.MaxTasksHardCap)})
	}
	return violations
}
