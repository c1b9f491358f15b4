package engine

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// RunObserver receives run progress. Implementations must not block; the
// executor calls them inline.
type RunObserver interface {
	RunStarted(ctx context.Context, run *schema.RunResult)
	AttemptFailed(ctx context.Context, runID string, step int, agentID string, rec schema.AttemptRecord)
	ToolCalled(ctx context.Context, runID string, step int, agentID string, res schema.ToolCallResult)
	RuleEvaluated(ctx context.Context, runID string, step int, eval schema.RuleEvaluation)
	StepCompleted(ctx context.Context, runID string, step *schema.TraceStep)
	RunFinished(ctx context.Context, run *schema.RunResult)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, *schema.RunResult) {}
func (NopObserver) AttemptFailed(context.Context, string, int, string, schema.AttemptRecord) {}
func (NopObserver) ToolCalled(context.Context, string, int, string, schema.ToolCallResult) {}
func (NopObserver) RuleEvaluated(context.Context, string, int, schema.RuleEvaluation)        {}
func (NopObserver) StepCompleted(context.Context, string, *schema.TraceStep)                 {}
func (NopObserver) RunFinished(context.Context, *schema.RunResult)                           {}

// MultiObserver fans out to several observers in order.
type MultiObserver []RunObserver

func (m MultiObserver) RunStarted(ctx context.Context, run *schema.RunResult) {
	for _, o := range m {
		o.RunStarted(ctx, run)
	}
}

func (m MultiObserver) AttemptFailed(ctx context.Context, runID string, step int, agentID string, rec schema.AttemptRecord) {
	for _, o := range m {
		o.AttemptFailed(ctx, runID, step, agentID, rec)
	}
}

func (m MultiObserver) ToolCalled(ctx context.Context, runID string, step int, agentID string, res schema.ToolCallResult) {
	for _, o := range m {
		o.ToolCalled(ctx, runID, step, agentID, res)
	}
}

func (m MultiObserver) RuleEvaluated(ctx context.Context, runID string, step int, eval schema.RuleEvaluation) {
	for _, o := range m {
		o.RuleEvaluated(ctx, runID, step, eval)
	}
}

func (m MultiObserver) StepCompleted(ctx context.Context, runID string, step *schema.TraceStep) {
	for _, o := range m {
		o.StepCompleted(ctx, runID, step)
	}
}

func (m MultiObserver) RunFinished(ctx context.Context, run *schema.RunResult) {
	for _, o := range m {
		o.RunFinished(ctx, run)
	}
}

// EventObserver writes step-level events to an EventAppender. Run-level
// events come from the RunFSM. Append failures are logged, not returned.
type EventObserver struct {
	NopObserver
	appender EventAppender
	logger   *slog.Logger
}

// NewEventObserver creates an EventObserver.
func NewEventObserver(appender EventAppender, logger *slog.Logger) *EventObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventObserver{appender: appender, logger: logger}
}

func (o *EventObserver) AttemptFailed(ctx context.Context, runID string, step int, agentID string, rec schema.AttemptRecord) {
	o.emit(ctx, runID, step, agentID, schema.EventAttemptFailed, rec)
}

func (o *EventObserver) ToolCalled(ctx context.Context, runID string, step int, agentID string, res schema.ToolCallResult) {
	if res.OK || res.Skipped {
		return
	}
	o.emit(ctx, runID, step, agentID, schema.EventToolFailed, map[string]any{"tool_name": res.ToolName, "error": res.Error})
}

func (o *EventObserver) RuleEvaluated(ctx context.Context, runID string, step int, eval schema.RuleEvaluation) {
	if !eval.Selected {
		return
	}
	o.emit(ctx, runID, step, eval.From, schema.EventRuleSelected, map[string]any{"rule_id": eval.RuleID, "to": eval.To})
}

func (o *EventObserver) StepCompleted(ctx context.Context, runID string, step *schema.TraceStep) {
	payload := map[string]any{"status": step.Status, "attempts": len(step.Attempts)}
	if step.NextAgentID != nil {
		payload["next_agent_id"] = *step.NextAgentID
	}
	o.emit(ctx, runID, step.Index, step.AgentID, schema.EventStepCompleted, payload)
}

func (o *EventObserver) emit(ctx context.Context, runID string, step int, agentID, eventType string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		o.logger.WarnContext(ctx, "marshal event payload", "event_type", eventType, "error", err)
		return
	}
	idx := step
	event := &store.Event{RunID: runID, StepIndex: &idx, AgentID: agentID, Type: eventType, Payload: raw}
	if err := o.appender.AppendEvent(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "append run event", "event_type", eventType, "error", err)
	}
}
