package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/agents"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollector(reg), reg
}

func TestNewCollector_Registers(t *testing.T) {
	c, reg := newTestCollector(t)
	assert.NotNil(t, c)

	c.RunStarted(context.Background(), &schema.RunResult{})
	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "waypoint_runs_active")
}

func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}

func TestCollector_ToolAndRuleCounters(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	c.ToolCalled(ctx, "r", 0, "a", schema.ToolCallResult{ToolName: "lookup", OK: true})
	c.ToolCalled(ctx, "r", 0, "a", schema.ToolCallResult{ToolName: "lookup", OK: false})
	c.ToolCalled(ctx, "r", 0, "a", schema.ToolCallResult{ToolName: "refund", Skipped: true})
	c.RuleEvaluated(ctx, "r", 0, schema.RuleEvaluation{RuleID: "r1", Result: true})
	c.RuleEvaluated(ctx, "r", 0, schema.RuleEvaluation{RuleID: "r1", Result: false})
	c.RuleEvaluated(ctx, "r", 1, schema.RuleEvaluation{RuleID: "r1", Result: false})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("lookup", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("lookup", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolCallsTotal.WithLabelValues("refund", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleEvaluationsTotal.WithLabelValues("r1", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ruleEvaluationsTotal.WithLabelValues("r1", "false")))
}

func TestCollector_StepCountsAttemptsOnce(t *testing.T) {
	c, _ := newTestCollector(t)

	step := &schema.TraceStep{
		AgentID:    "billing",
		Status:     schema.StepStatusSuccess,
		DurationMs: 1500,
		Attempts: []schema.AttemptRecord{
			{Attempt: 1, Status: schema.AttemptError, ErrorClass: "transient", BackoffMs: 1000},
			{Attempt: 2, Status: schema.AttemptSuccess},
		},
	}
	c.StepCompleted(context.Background(), "r", step)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("billing", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("billing", "error", "transient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("billing", "success", "")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.backoffMsTotal.WithLabelValues("billing")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stepDuration))
}

func TestCollector_InExecutor(t *testing.T) {
	c, _ := newTestCollector(t)

	def := &schema.WorkflowDefinition{
		Name:         "metrics",
		EntryAgentID: "triage",
		Agents:       []schema.AgentSpec{{ID: "triage"}, {ID: "billing"}},
		Rules: []schema.TransitionRule{
			{ID: "to_billing", From: "triage", To: "billing", Condition: "output.category == 'billing'"},
		},
	}

	billingCalls := 0
	inv := engine.AgentInvokerFunc(func(_ context.Context, call engine.AgentCall) (*engine.AgentResponse, error) {
		if call.AgentID == "triage" {
			return &engine.AgentResponse{Output: map[string]any{"category": "billing"}}, nil
		}
		billingCalls++
		if billingCalls == 1 {
			return nil, &agents.CallError{Status: 429, Message: "slow down"}
		}
		return &engine.AgentResponse{Output: map[string]any{"resolved": true}}, nil
	})

	exec := engine.NewExecutor(engine.ExecutorDeps{Simulator: inv, Observer: c})
	res, err := exec.Run(context.Background(), def, engine.RunConfig{DisableSleep: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runsTotal.WithLabelValues("completed", "no_matching_rule")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("triage", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.stepsTotal.WithLabelValues("billing", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attemptsTotal.WithLabelValues("billing", "error", "transient")))
	assert.Equal(t, 1000.0, testutil.ToFloat64(c.backoffMsTotal.WithLabelValues("billing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleEvaluationsTotal.WithLabelValues("to_billing", "true")))
}
