package validation

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func TestNewJSONSchemaValidator(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.NotNil(t, v.workflowSchema)
}

// --- ValidateDefinition ---

func TestValidateDefinition_Nil(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateDefinition(nil)
	require.Error(t, err)

	wpErr, ok := err.(*schema.WaypointError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, wpErr.Code)
	assert.Contains(t, wpErr.Message, "nil")
}

func TestValidateDefinition_MinimalValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		EntryAgentID: "a",
		Agents:       []schema.AgentSpec{{ID: "a"}},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_FullValid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	def := &schema.WorkflowDefinition{
		Name:         "support",
		EntryAgentID: "triage",
		Agents: []schema.AgentSpec{
			{
				ID:            "triage",
				Name:          "Triage",
				Role:          "router",
				PromptRef:     "triage_prompt",
				OutputFormat:  schema.OutputFormatJSON,
				ToolWhitelist: []string{"lookup_account"},
				Retry:         &schema.RetryOverride{MaxAttempts: 3, RetryOn: []string{"transient", "rate_limit"}},
			},
			{ID: "writer", Prompt: "Reply to ${{context.ticket}}", OutputFormat: schema.OutputFormatText},
		},
		Rules: []schema.TransitionRule{
			{ID: "r1", From: "triage", To: "writer", Condition: "output.category == 'billing'"},
		},
		InitialVariables: map[string]any{"ticket": "refund please", "tier": 2},
		ToolRegistry: map[string]schema.ToolDefinition{
			"lookup_account": {Method: "GET", URL: "https://crm.example.com/accounts", Timeout: "5s", ResultMap: ".account"},
		},
		Prompts:     map[string]string{"triage_prompt": "Classify ${{context.ticket}}"},
		InputSchema: map[string]any{"type": "object"},
		Metadata:    map[string]any{"owner": "support"},
	}
	assert.NoError(t, v.ValidateDefinition(def))
}

func TestValidateDefinition_Violations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		def  *schema.WorkflowDefinition
		want string
	}{
		{
			name: "no agents",
			def:  &schema.WorkflowDefinition{EntryAgentID: "a"},
			want: "/agents",
		},
		{
			name: "empty entry",
			def:  &schema.WorkflowDefinition{Agents: []schema.AgentSpec{{ID: "a"}}},
			want: "/entry_agent_id",
		},
		{
			name: "empty agent id",
			def:  &schema.WorkflowDefinition{EntryAgentID: "a", Agents: []schema.AgentSpec{{ID: ""}}},
			want: "/agents/0/id",
		},
		{
			name: "bad output format",
			def: &schema.WorkflowDefinition{
				EntryAgentID: "a",
				Agents:       []schema.AgentSpec{{ID: "a", OutputFormat: "xml"}},
			},
			want: "/agents/0/output_format",
		},
		{
			name: "rule missing target",
			def: &schema.WorkflowDefinition{
				EntryAgentID: "a",
				Agents:       []schema.AgentSpec{{ID: "a"}},
				Rules:        []schema.TransitionRule{{ID: "r1", From: "a"}},
			},
			want: "/rules/0/to",
		},
		{
			name: "negative max attempts",
			def: &schema.WorkflowDefinition{
				EntryAgentID: "a",
				Agents:       []schema.AgentSpec{{ID: "a", Retry: &schema.RetryOverride{MaxAttempts: -1}}},
			},
			want: "/agents/0/retry/max_attempts",
		},
		{
			name: "bad tool timeout",
			def: &schema.WorkflowDefinition{
				EntryAgentID: "a",
				Agents:       []schema.AgentSpec{{ID: "a"}},
				ToolRegistry: map[string]schema.ToolDefinition{"t": {URL: "http://x", Timeout: "soon"}},
			},
			want: "/tool_registry/t/timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDefinition(tt.def)
			require.Error(t, err)

			wpErr, ok := err.(*schema.WaypointError)
			require.True(t, ok)
			assert.Equal(t, schema.ErrCodeValidation, wpErr.Code)
			violations, ok := wpErr.Details["violations"].([]string)
			require.True(t, ok)
			joined := ""
			for _, v := range violations {
				joined += v + "\n"
			}
			assert.Contains(t, joined, tt.want)
		})
	}
}

// --- ValidateInput ---

var ticketSchema = []byte(`{
	"type": "object",
	"required": ["ticket"],
	"properties": {
		"ticket": {"type": "string", "minLength": 1},
		"tier": {"type": "integer", "minimum": 1}
	}
}`)

func TestValidateInput_EmptySchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateInput(map[string]any{"x": 1}, nil))
}

func TestValidateInput_Valid(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateInput(map[string]any{"ticket": "hi", "tier": 2}, ticketSchema))
}

func TestValidateInput_NilInput(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(nil, ticketSchema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket")
}

func TestValidateInput_MultipleViolations(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{"ticket": "", "tier": 0}, ticketSchema)
	require.Error(t, err)

	wpErr, ok := err.(*schema.WaypointError)
	require.True(t, ok)
	violations, ok := wpErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(violations), 2)
	assert.Contains(t, wpErr.Message, "validation failed with")
}

func TestValidateInput_InvalidSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	err = v.ValidateInput(map[string]any{}, []byte(`{not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid input schema")
}

func TestValidateInput_CachesCompiledSchema(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	require.NoError(t, v.ValidateInput(map[string]any{"ticket": "a"}, ticketSchema))
	require.NoError(t, v.ValidateInput(map[string]any{"ticket": "b"}, ticketSchema))

	v.mu.RLock()
	defer v.mu.RUnlock()
	assert.Len(t, v.cache, 1)
}

func TestValidateInput_Concurrent(t *testing.T) {
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			input := map[string]any{"ticket": "t", "tier": i + 1}
			errs <- v.ValidateInput(input, ticketSchema)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}
