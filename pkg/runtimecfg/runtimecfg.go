// Package runtimecfg captures process-environment-derived configuration in
// one explicit struct constructed at process entry. Components receive it
// by value and never read ambient environment state themselves.
package runtimecfg

import "os"

// Environment variables recognized at process entry.
const (
	EnvAutonomyMode = "REMEDY_AUTONOMY_MODE"
	EnvEventLog     = "REMEDY_EVENT_LOG"
	EnvActor        = "REMEDY_ACTOR"
	EnvGitHubToken  = "REMEDY_GITHUB_TOKEN"
	EnvCI           = "CI"
)

// RuntimeConfig is the process-wide runtime context. Lifetime is one
// invocation; it is never mutated after construction.
type RuntimeConfig struct {
	// AutonomyMode is the runtime autonomy mode ("off", "report-only",
	// "operate"). Empty means "use the policy default".
	AutonomyMode string

	// EventLogPath is where controller events are appended, if set.
	EventLogPath string

	// Actor labels the operator or automation identity driving this
	// invocation.
	Actor string

	// GitHubToken authenticates the workflow client.
	GitHubToken string

	// InCI is true when running inside a CI environment. Outside CI,
	// connectivity failures on dispatch and mode-mirror actions are
	// downgraded to warnings.
	InCI bool
}

// FromEnv builds the runtime config from the process environment. This is
// the only place in the module that reads environment variables for
// configuration.
func FromEnv() RuntimeConfig {
	token := os.Getenv(EnvGitHubToken)
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return RuntimeConfig{
		AutonomyMode: os.Getenv(EnvAutonomyMode),
		EventLogPath: os.Getenv(EnvEventLog),
		Actor:        os.Getenv(EnvActor),
		GitHubToken:  token,
		InCI:         os.Getenv(EnvCI) != "",
	}
}

// EffectiveMode resolves the runtime autonomy mode against the policy
// default.
func (c RuntimeConfig) EffectiveMode(policyDefault string) string {
	if c.AutonomyMode != "" {
		return c.AutonomyMode
	}
	return policyDefault
}
