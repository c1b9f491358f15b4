// Package tooling extracts tool directives from agent output and runs them.
package tooling

import "context"

// Call is a resolved directive handed to a tool runtime. Context is a deep
// copy of the execution context; the runtime must not expect changes to it
// to be seen by the executor.
type Call struct {
	AgentID  string
	ToolName string
	Input    map[string]any
	Context  map[string]any
}

// Response is a tool's result plus the context keys it wants to set.
type Response struct {
	Result         any
	ContextUpdates map[string]any
}

// Invoker runs tool calls.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, call Call) (*Response, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, call Call) (*Response, error) {
	return f(ctx, call)
}
