package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeParse             = "PARSE_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeAgentNotFound     = "AGENT_NOT_FOUND"
	ErrCodeToolFailed        = "TOOL_FAILED"
	ErrCodeAgentCall         = "AGENT_CALL_FAILED"
	ErrCodeInterpolation     = "INTERPOLATION_ERROR"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
)

// WaypointError is the structured error type for all waypoint operations.
type WaypointError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	AgentID string         `json:"agent_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *WaypointError) Error() string {
	if e.AgentID != "" {
		return fmt.Sprintf("[%s] agent %s: %s", e.Code, e.AgentID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *WaypointError) Unwrap() error {
	return e.Cause
}

// NewError creates a new WaypointError.
func NewError(code, message string) *WaypointError {
	return &WaypointError{Code: code, Message: message}
}

// NewErrorf creates a new WaypointError with a formatted message.
func NewErrorf(code, format string, args ...any) *WaypointError {
	return &WaypointError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAgent attaches the agent the error occurred on.
func (e *WaypointError) WithAgent(agentID string) *WaypointError {
	e.AgentID = agentID
	return e
}

// WithCause attaches an underlying cause.
func (e *WaypointError) WithCause(err error) *WaypointError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *WaypointError) WithDetails(details map[string]any) *WaypointError {
	e.Details = details
	return e
}

// IsStructural reports whether the error aborts a run rather than being
// absorbed into the trace.
func (e *WaypointError) IsStructural() bool {
	switch e.Code {
	case ErrCodeAgentNotFound, ErrCodeParse, ErrCodeInterpolation, ErrCodeValidation:
		return true
	}
	return false
}
