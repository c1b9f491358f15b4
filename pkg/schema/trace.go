package schema

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// HaltReason explains why the step loop stopped.
type HaltReason string

const (
	HaltNoMatchingRule  HaltReason = "no_matching_rule"
	HaltMaxSteps        HaltReason = "max_steps_reached"
	HaltStructuralError HaltReason = "structural_error"
	HaltCancelled       HaltReason = "cancelled"
)

// AttemptStatus is the outcome of a single agent call.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// StepStatus is the final status of an executed agent step.
type StepStatus string

const (
	StepStatusSuccess StepStatus = "success"
	StepStatusError   StepStatus = "error"
)

// DirectiveSource tells where a tool directive was found in agent output.
type DirectiveSource string

const (
	DirectiveExplicit DirectiveSource = "explicit"
	DirectiveEmbedded DirectiveSource = "embedded"
)

// ErrorDetail is the inspectable part of a failed agent call.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Status  int    `json:"status,omitempty"`
}

// AttemptRecord is one agent-call try. Immutable once appended.
type AttemptRecord struct {
	Attempt     int           `json:"attempt"`
	Status      AttemptStatus `json:"status"`
	RawOutput   string        `json:"raw_output,omitempty"`
	Error       *ErrorDetail  `json:"error,omitempty"`
	ErrorClass  string        `json:"error_class,omitempty"`
	ErrorCode   string        `json:"error_code,omitempty"`
	ShouldRetry bool          `json:"should_retry"`
	RetryReason string        `json:"retry_reason,omitempty"`
	BackoffMs   int64         `json:"backoff_ms"`
	DurationMs  int64         `json:"duration_ms"`
}

// RuleEvaluation records one transition rule evaluated at a step.
type RuleEvaluation struct {
	RuleID    string `json:"rule_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
	Result    bool   `json:"result"`
	Selected  bool   `json:"selected"`
	DecidedBy string `json:"decided_by,omitempty"`
}

// ToolDirective is a request, found in agent output, to invoke a tool.
type ToolDirective struct {
	ToolName string          `json:"tool_name"`
	Input    map[string]any  `json:"input"`
	Source   DirectiveSource `json:"source"`
	Raw      string          `json:"raw,omitempty"`
}

// ToolCallResult is the outcome of one tool directive.
type ToolCallResult struct {
	ToolName       string         `json:"tool_name"`
	Input          map[string]any `json:"input"`
	OK             bool           `json:"ok"`
	Result         any            `json:"result,omitempty"`
	ContextUpdates map[string]any `json:"context_updates,omitempty"`
	Error          string         `json:"error,omitempty"`
	Skipped        bool           `json:"skipped,omitempty"`
	SkipReason     string         `json:"skip_reason,omitempty"`
}

// TraceStep is the audit record of one executed agent. Steps are append-only.
type TraceStep struct {
	Index           int              `json:"index"`
	AgentID         string           `json:"agent_id"`
	AgentName       string           `json:"agent_name,omitempty"`
	AgentRole       string           `json:"agent_role,omitempty"`
	Prompt          string           `json:"prompt,omitempty"`
	InputContext    map[string]any   `json:"input_context"`
	Attempts        []AttemptRecord  `json:"attempts"`
	Status          StepStatus       `json:"status"`
	RawOutput       string           `json:"raw_output,omitempty"`
	Output          any              `json:"output"`
	ToolDirectives  []ToolDirective  `json:"tool_directives,omitempty"`
	ToolResults     []ToolCallResult `json:"tool_results,omitempty"`
	RuleEvaluations []RuleEvaluation `json:"rule_evaluations"`
	SelectedRuleID  *string          `json:"selected_rule_id"`
	NextAgentID     *string          `json:"next_agent_id"`
	StartedAt       time.Time        `json:"started_at"`
	DurationMs      int64            `json:"duration_ms"`
}

// RunResult is the final artifact of a run: the trace plus the final context.
type RunResult struct {
	RunID        string         `json:"run_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Mode         string         `json:"mode"`
	Seed         *int64         `json:"seed,omitempty"`
	Status       RunStatus      `json:"status"`
	HaltReason   HaltReason     `json:"halt_reason,omitempty"`
	Steps        []TraceStep    `json:"steps"`
	Context      map[string]any `json:"context"`
	Error        *WaypointError `json:"error,omitempty"`
	Warnings     []string       `json:"warnings,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  time.Time      `json:"completed_at"`
}

// LastStep returns the most recent trace step, or nil for an empty trace.
func (r *RunResult) LastStep() *TraceStep {
	if len(r.Steps) == 0 {
		return nil
	}
	return &r.Steps[len(r.Steps)-1]
}
