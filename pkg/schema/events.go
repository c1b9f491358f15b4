package schema

// Event type constants for the run event log.
const (
	EventRunStarted    = "run_started"
	EventRunCompleted  = "run_completed"
	EventRunFailed     = "run_failed"
	EventStepCompleted = "step_completed"
	EventAttemptFailed = "attempt_failed"
	EventToolFailed    = "tool_failed"
	EventRuleSelected  = "rule_selected"
)
