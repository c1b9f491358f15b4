package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Observer publishes executor progress to an EventHub.
type Observer struct {
	engine.NopObserver
	hub    EventHub
	logger *slog.Logger
}

// NewObserver creates an Observer publishing to hub.
func NewObserver(hub EventHub, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Observer{hub: hub, logger: logger}
}

func (o *Observer) RunStarted(ctx context.Context, run *schema.RunResult) {
	o.publish(ctx, StreamEvent{RunID: run.RunID, EventType: schema.EventRunStarted, Payload: map[string]any{
		"workflow_name": run.WorkflowName,
		"mode":          run.Mode,
	}})
}

func (o *Observer) AttemptFailed(ctx context.Context, runID string, step int, agentID string, rec schema.AttemptRecord) {
	o.publish(ctx, StreamEvent{RunID: runID, StepIndex: &step, AgentID: agentID, EventType: schema.EventAttemptFailed, Payload: rec})
}

func (o *Observer) ToolCalled(ctx context.Context, runID string, step int, agentID string, res schema.ToolCallResult) {
	if res.OK || res.Skipped {
		return
	}
	o.publish(ctx, StreamEvent{RunID: runID, StepIndex: &step, AgentID: agentID, EventType: schema.EventToolFailed,
		Payload: map[string]any{"tool_name": res.ToolName, "error": res.Error}})
}

func (o *Observer) RuleEvaluated(ctx context.Context, runID string, step int, eval schema.RuleEvaluation) {
	if !eval.Selected {
		return
	}
	o.publish(ctx, StreamEvent{RunID: runID, StepIndex: &step, AgentID: eval.From, EventType: schema.EventRuleSelected,
		Payload: map[string]any{"rule_id": eval.RuleID, "to": eval.To}})
}

func (o *Observer) StepCompleted(ctx context.Context, runID string, step *schema.TraceStep) {
	idx := step.Index
	payload := map[string]any{"status": step.Status, "attempts": len(step.Attempts), "duration_ms": step.DurationMs}
	if step.NextAgentID != nil {
		payload["next_agent_id"] = *step.NextAgentID
	}
	o.publish(ctx, StreamEvent{RunID: runID, StepIndex: &idx, AgentID: step.AgentID, EventType: schema.EventStepCompleted, Payload: payload})
}

func (o *Observer) RunFinished(ctx context.Context, run *schema.RunResult) {
	eventType := schema.EventRunCompleted
	payload := map[string]any{"halt_reason": run.HaltReason, "steps": len(run.Steps)}
	if run.Status == schema.RunStatusFailed {
		eventType = schema.EventRunFailed
		if run.Error != nil {
			payload["error"] = run.Error.Error()
		}
	}
	o.publish(ctx, StreamEvent{RunID: run.RunID, EventType: eventType, Payload: payload})
}

// publish survives cancellation so subscribers see how a cancelled run ended.
func (o *Observer) publish(ctx context.Context, event StreamEvent) {
	event.Timestamp = time.Now().UTC()
	if err := o.hub.Publish(context.WithoutCancel(ctx), event); err != nil {
		o.logger.WarnContext(ctx, "publish stream event", "event_type", event.EventType, "error", err)
	}
}
