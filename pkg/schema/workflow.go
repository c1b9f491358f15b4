package schema

import "strings"

// WorkflowDefinition is the immutable input of a run: a directed graph of
// agents connected by guarded transition rules.
type WorkflowDefinition struct {
	Name             string                    `json:"name,omitempty"`
	EntryAgentID     string                    `json:"entry_agent_id"`
	Agents           []AgentSpec               `json:"agents"`
	Rules            []TransitionRule          `json:"rules,omitempty"`
	InitialVariables map[string]any            `json:"initial_variables,omitempty"`
	ToolRegistry     map[string]ToolDefinition `json:"tool_registry,omitempty"`
	Prompts          map[string]string         `json:"prompts,omitempty"`
	InputSchema      map[string]any            `json:"input_schema,omitempty"` // JSON Schema for initial variables
	Metadata         map[string]any            `json:"metadata,omitempty"`
}

// OutputFormat is the shape an agent promises to produce.
type OutputFormat string

const (
	OutputFormatJSON OutputFormat = "json"
	OutputFormatText OutputFormat = "text"
)

// AgentSpec describes a single node of the workflow graph.
type AgentSpec struct {
	ID            string         `json:"id"`
	Name          string         `json:"name,omitempty"`
	Role          string         `json:"role,omitempty"`
	PromptRef     string         `json:"prompt_ref,omitempty"` // key into WorkflowDefinition.Prompts
	Prompt        string         `json:"prompt,omitempty"`     // inline template, wins over PromptRef
	OutputFormat  OutputFormat   `json:"output_format,omitempty"`
	ToolWhitelist []string       `json:"tool_whitelist,omitempty"`
	Retry         *RetryOverride `json:"retry,omitempty"`
}

// AllowsTool reports whether the agent may invoke the named tool.
func (a *AgentSpec) AllowsTool(name string) bool {
	for _, t := range a.ToolWhitelist {
		if t == name {
			return true
		}
	}
	return false
}

// EffectiveFormat returns the declared output format, json when unset.
func (a *AgentSpec) EffectiveFormat() OutputFormat {
	if a.OutputFormat == "" {
		return OutputFormatJSON
	}
	return a.OutputFormat
}

// DisplayName returns the agent name, falling back to its id.
func (a *AgentSpec) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

// TransitionRule is a guarded edge between two agents. A blank condition
// behaves like "always".
type TransitionRule struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
}

// EffectiveCondition returns the condition text with the blank default applied.
func (r *TransitionRule) EffectiveCondition() string {
	if strings.TrimSpace(r.Condition) == "" {
		return "always"
	}
	return r.Condition
}

// RetryOverride is an agent-level retry policy override.
type RetryOverride struct {
	MaxAttempts int      `json:"max_attempts,omitempty"`
	RetryOn     []string `json:"retry_on,omitempty"`
}

// ToolDefinition describes how the HTTP tool runtime reaches a tool.
// The executor treats it as opaque.
type ToolDefinition struct {
	Description string            `json:"description,omitempty"`
	Method      string            `json:"method,omitempty"` // default POST
	URL         string            `json:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ResultMap   string            `json:"result_map,omitempty"` // jq program producing context updates
	Timeout     string            `json:"timeout,omitempty"`
}

// AgentByID returns the agent with the given id, or nil.
func (d *WorkflowDefinition) AgentByID(id string) *AgentSpec {
	for i := range d.Agents {
		if d.Agents[i].ID == id {
			return &d.Agents[i]
		}
	}
	return nil
}

// RulesFrom returns the rules leaving the given agent, in definition order.
func (d *WorkflowDefinition) RulesFrom(agentID string) []TransitionRule {
	var out []TransitionRule
	for _, r := range d.Rules {
		if r.From == agentID {
			out = append(out, r)
		}
	}
	return out
}

// PromptFor resolves the prompt template of an agent: the inline prompt,
// then the referenced prompt, then the reference text itself.
func (d *WorkflowDefinition) PromptFor(agent *AgentSpec) string {
	if agent.Prompt != "" {
		return agent.Prompt
	}
	if p, ok := d.Prompts[agent.PromptRef]; ok {
		return p
	}
	return agent.PromptRef
}
