package agents

import "fmt"

// Provider-independent codes set by the HTTP invoker.
const (
	CodeCircuitOpen = "CIRCUIT_OPEN"
	CodeTransport   = "TRANSPORT"
)

// CallError is a failed agent call. It exposes the code, status and raw
// body the retry classifier inspects.
type CallError struct {
	Status  int
	Code    string
	Message string
	Body    any
	Cause   error
}

func (e *CallError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agent call failed (%d): %s", e.Status, e.Message)
	}
	return "agent call failed: " + e.Message
}

func (e *CallError) Unwrap() error { return e.Cause }

// ErrorCode returns the provider or transport code.
func (e *CallError) ErrorCode() string { return e.Code }

// HTTPStatus returns the response status, 0 when no response arrived.
func (e *CallError) HTTPStatus() int { return e.Status }

// ErrorPayload returns the decoded response body.
func (e *CallError) ErrorPayload() any { return e.Body }
