package report

// Terminal reasons emitted by the triage loop engine.
const (
	ReasonResolved        = "resolved"
	ReasonNoFixCommand    = "no fix command configured"
	ReasonWaitTimeout     = "timeout waiting for completed run"
	ReasonMissingBacklog  = "missing backlog file"
	ReasonInvalidBacklog  = "invalid backlog format"
	ReasonFixFailed       = "fix command failed"
	ReasonFixNotAllowed   = "fix command not allowlisted"
	ReasonMaxAttempts     = "max attempts reached with unresolved backlog"
	ReasonListRunsFailed  = "failed to list workflow runs"
	ReasonArtifactsFailed = "failed to download artifacts"
)

// Terminal reasons emitted by the packet builder.
const (
	ReasonSourceStale    = "source_stale"
	ReasonNoValidSource  = "no_valid_source"
	ReasonThresholdMet   = "threshold_met"
)

// Terminal reasons emitted by the autonomy controller.
const (
	ReasonPolicyDenied     = "policy_denied"
	ReasonMaxRoundsReached = "max_rounds_reached"
	ReasonMaxHoursReached  = "max_hours_reached"
	ReasonMaxTasksReached  = "max_tasks_reached"
	ReasonTriageLoopFailed = "triage_loop_failed"
	ReasonLoopPacketFailed = "loop_packet_failed"
	ReasonQueueInitFailed  = "queue_init_failed"

	// Suffix for terminal reasons raised when a component's report
	// artifact cannot be read back, e.g. "triage_report_missing".
	ReportMissingSuffix = "_report_missing"
)

// Hard-stop reason codes. These represent integrity violations and
// terminate the controller immediately, bypassing any remaining budget.
const (
	HardReasonSourceRunMismatch  = "source_run_mismatch"
	HardReasonSHAMismatch        = "source_sha_mismatch"
	HardReasonCorrelationFailed  = "correlation_failed"
	HardReasonNotificationFailed = "notification_failed"
)

// HardReasonCodes is the closed set of hard-stop reason codes.
var HardReasonCodes = map[string]bool{
	HardReasonSourceRunMismatch:  true,
	HardReasonSHAMismatch:        true,
	HardReasonCorrelationFailed:  true,
	HardReasonNotificationFailed: true,
}

// IsHardReason reports whether reason is a hard-stop reason code.
func IsHardReason(reason string) bool {
	return HardReasonCodes[reason]
}

// TriageFailureReasons are engine terminal reasons meaning the loop itself
// failed (infrastructure, parsing, fix execution) rather than observing an
// unresolved-but-analyzable backlog. A round ending in one of these is a
// controller terminal state, not an input to the next round.
var TriageFailureReasons = map[string]bool{
	ReasonWaitTimeout:     true,
	ReasonMissingBacklog:  true,
	ReasonInvalidBacklog:  true,
	ReasonFixFailed:       true,
	ReasonFixNotAllowed:   true,
	ReasonListRunsFailed:  true,
	ReasonArtifactsFailed: true,
}

// CleanTerminalReasons are the controller terminal states that still count
// as a successful invocation (ok=true) when no errors accompanied them.
var CleanTerminalReasons = map[string]bool{
	ReasonResolved:         true,
	ReasonMaxRoundsReached: true,
	ReasonMaxHoursReached:  true,
	ReasonMaxTasksReached:  true,
}

// Reasons emitted by the controller action executor.
const (
	ActionReasonDispatched        = "dispatched_report_only"
	ActionReasonWorkflowDenied    = "workflow_not_allowlisted"
	ActionReasonBranchDenied      = "branch_not_allowlisted"
	ActionReasonAutonomyOff       = "autonomy_mode_off"
	ActionReasonModeUpdated       = "mode_updated"
	ActionReasonModeUpdateFailed  = "mode_update_failed"
	ActionReasonDispatchFailed    = "dispatch_failed"
	ActionReasonStatusRefreshed   = "status_refreshed"
	ActionReasonStatusUnavailable = "phone_status_unavailable"
	ActionReasonUnsupported       = "unsupported_action"
)
