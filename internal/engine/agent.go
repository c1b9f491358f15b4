package engine

import (
	"context"

	"github.com/rendis/waypoint/internal/tooling"
	"github.com/rendis/waypoint/pkg/schema"
)

// AgentCall is one request to an agent backend.
type AgentCall struct {
	RunID        string              `json:"run_id"`
	StepIndex    int                 `json:"step_index"`
	Attempt      int                 `json:"attempt"`
	AgentID      string              `json:"agent_id"`
	AgentName    string              `json:"agent_name,omitempty"`
	AgentRole    string              `json:"agent_role,omitempty"`
	Prompt       string              `json:"prompt"`
	OutputFormat schema.OutputFormat `json:"output_format"`
	// Context is a private copy of the execution context before the step.
	Context map[string]any `json:"context,omitempty"`
	Seed    *int64         `json:"seed,omitempty"`
}

// AgentResponse is what an agent produced. Output is the parsed form; when
// it is nil the executor parses Raw according to the agent's output format.
type AgentResponse struct {
	Raw    string `json:"raw"`
	Output any    `json:"output,omitempty"`
}

// AgentInvoker calls an agent. Errors that implement AgentError expose the
// code and status used for retry classification.
type AgentInvoker interface {
	Invoke(ctx context.Context, call AgentCall) (*AgentResponse, error)
}

// AgentInvokerFunc adapts a function to AgentInvoker.
type AgentInvokerFunc func(ctx context.Context, call AgentCall) (*AgentResponse, error)

func (f AgentInvokerFunc) Invoke(ctx context.Context, call AgentCall) (*AgentResponse, error) {
	return f(ctx, call)
}

// ParseOutput turns raw agent text into its parsed form. JSON agents whose
// text holds no JSON keep the raw string.
func ParseOutput(format schema.OutputFormat, raw string) any {
	if format == schema.OutputFormatJSON {
		if v, ok := tooling.DecodeJSONOutput(raw); ok {
			return v
		}
	}
	return raw
}
