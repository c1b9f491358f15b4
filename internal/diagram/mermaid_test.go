package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func TestRenderMermaid_Definition(t *testing.T) {
	model, err := Build(supportWorkflow(), nil)
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.True(t, strings.HasPrefix(output, "graph TD\n"))
	assert.Contains(t, output, "%% support")

	// Shapes by kind.
	assert.Contains(t, output, `triage[["Triage"]]`)
	assert.Contains(t, output, `billing(["billing"])`)
	assert.Contains(t, output, `__start__(("Start"))`)
	assert.Contains(t, output, `__end__(("End"))`)

	// Condition labels are escaped.
	assert.Contains(t, output, `triage -->|"output.category == 'billing'"| billing`)
	assert.Contains(t, output, "triage --> tech")
	assert.Contains(t, output, "__start__ --> triage")

	assert.Contains(t, output, "classDef success")
	assert.Contains(t, output, "classDef error")
	assert.NotContains(t, output, "class triage")
}

func TestRenderMermaid_Trace(t *testing.T) {
	model, err := Build(supportWorkflow(), billingTrace())
	require.NoError(t, err)

	output := RenderMermaid(model)

	assert.Contains(t, output, `triage ==>|"output.category == 'billing'"| billing`)
	assert.Contains(t, output, `triage -.->|"never"| tech`)
	assert.Contains(t, output, "__start__ ==> triage")
	assert.Contains(t, output, "billing ==> __end__")

	assert.Contains(t, output, "class triage success")
	assert.Contains(t, output, "class billing error")
	assert.Contains(t, output, "class tech unvisited")
	assert.NotContains(t, output, "class __start__")
}

func TestRenderMermaid_EvaluatedLabel(t *testing.T) {
	trace := billingTrace()
	trace.Steps[0].RuleEvaluations = []schema.RuleEvaluation{
		{RuleID: "to_billing", Result: false},
		{RuleID: "to_tech", Result: true, Selected: true},
	}
	model, err := Build(supportWorkflow(), trace)
	require.NoError(t, err)

	output := RenderMermaid(model)
	assert.Contains(t, output, `triage -->|"output.category == 'billing' (evaluated)"| billing`)
}

func TestRenderMermaid_VisitCount(t *testing.T) {
	trace := billingTrace()
	trace.Steps = append(trace.Steps, trace.Steps[1])

	model, err := Build(supportWorkflow(), trace)
	require.NoError(t, err)
	assert.Contains(t, RenderMermaid(model), `billing(["billing x2"])`)
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "a_b_c_d", mermaidSafeID("a.b-c d"))
}

func TestMermaidEscapeLabel(t *testing.T) {
	assert.Equal(t, "output.x #gt; 3 #124;#124; #quot;a#quot;", mermaidEscapeLabel(`output.x > 3 || "a"`))
}
