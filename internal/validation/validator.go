package validation

import "github.com/rendis/waypoint/pkg/schema"

// Validator checks workflow definitions before execution.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// ToolLookup reports whether a tool runtime can serve a tool name.
// *tooling.Registry satisfies it.
type ToolLookup interface {
	Has(name string) bool
}

// Warning codes. Errors reuse the schema error codes.
const (
	WarnUnreachable     = "UNREACHABLE_AGENT"
	WarnCycle           = "CYCLE"
	WarnShadowedRule    = "SHADOWED_RULE"
	WarnLegacyCondition = "LEGACY_CONDITION"
	WarnUnknownRetryOn  = "UNKNOWN_RETRY_CLASS"
	WarnPromptRef       = "UNRESOLVED_PROMPT_REF"
	WarnToolUnverified  = "TOOL_UNVERIFIED"
)
