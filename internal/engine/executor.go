package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/tooling"
	"github.com/rendis/waypoint/pkg/schema"
)

// Mode selects the agent backend of a run.
type Mode string

const (
	ModeReal Mode = "real"
	ModeSim  Mode = "sim"
)

// DefaultMaxSteps is the step cap applied when RunConfig.MaxSteps is unset.
const DefaultMaxSteps = 10

// Skip reasons recorded on tool results that were not invoked.
const (
	SkipNotWhitelisted = "not_whitelisted"
	SkipNoToolRuntime  = "no_tool_runtime"
)

// RunConfig is the per-run configuration.
type RunConfig struct {
	RunID         string
	Mode          Mode
	Seed          *int64
	MaxSteps      int
	DefaultRetry  *RetryPolicy
	BackoffCapMs  int64
	DisableSleep  bool
	ConditionMode expressions.Mode
	StrictPrompts bool
}

// ExecutorDeps are the collaborators of an Executor. Agents is used in real
// mode, Simulator in sim mode. Tools, Events and Observer are optional.
type ExecutorDeps struct {
	Agents    AgentInvoker
	Simulator AgentInvoker
	Tools     tooling.Invoker
	Events    EventAppender
	Observer  RunObserver
	Logger    *slog.Logger
}

// Executor runs workflow definitions. One Executor may serve many runs
// concurrently; each run owns its context and trace.
type Executor struct {
	deps ExecutorDeps
}

// NewExecutor creates an Executor.
func NewExecutor(deps ExecutorDeps) *Executor {
	if deps.Observer == nil {
		deps.Observer = NopObserver{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Executor{deps: deps}
}

// WithTools returns an Executor sharing e's collaborators that runs tool
// calls on tools.
func (e *Executor) WithTools(tools tooling.Invoker) *Executor {
	deps := e.deps
	deps.Tools = tools
	return &Executor{deps: deps}
}

// WithVariables returns a copy of def whose initial variables are overlaid
// with vars. def is not modified.
func WithVariables(def *schema.WorkflowDefinition, vars map[string]any) *schema.WorkflowDefinition {
	cp := *def
	cp.InitialVariables = expressions.CopyMap(def.InitialVariables)
	if cp.InitialVariables == nil {
		cp.InitialVariables = make(map[string]any, len(vars))
	}
	for k, v := range vars {
		cp.InitialVariables[k] = expressions.CopyValue(v)
	}
	return &cp
}

// run is the state of one in-flight run.
type run struct {
	def       *schema.WorkflowDefinition
	cfg       RunConfig
	result    *schema.RunResult
	invoker   AgentInvoker
	evaluator *expressions.Evaluator
	interp    *expressions.Interpolator
	logger    *slog.Logger
}

// Run executes a workflow until no rule matches, the step cap is reached,
// a structural error occurs, or ctx is cancelled. On error the partial
// result is returned together with the error.
func (e *Executor) Run(ctx context.Context, def *schema.WorkflowDefinition, cfg RunConfig) (*schema.RunResult, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeSim
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}

	invoker, err := e.invokerFor(cfg.Mode)
	if err != nil {
		return nil, err
	}

	result := &schema.RunResult{
		RunID:        cfg.RunID,
		WorkflowName: def.Name,
		Mode:         string(cfg.Mode),
		Seed:         cfg.Seed,
		Status:       schema.RunStatusPending,
		Steps:        []schema.TraceStep{},
		Context:      expressions.CopyMap(def.InitialVariables),
		StartedAt:    time.Now().UTC(),
	}
	if result.Context == nil {
		result.Context = map[string]any{}
	}

	ctx = logging.WithRunID(ctx, cfg.RunID)
	r := &run{
		def:       def,
		cfg:       cfg,
		result:    result,
		invoker:   invoker,
		evaluator: expressions.NewEvaluator(cfg.ConditionMode),
		interp:    expressions.NewInterpolator(cfg.StrictPrompts),
		logger:    e.deps.Logger,
	}
	if r.evaluator.Mode() == expressions.ModeLegacy {
		result.Warnings = append(result.Warnings, "legacy condition mode: unrecognized rule text evaluates to false")
	}

	fsm := NewRunFSM(e.deps.Events)
	if err := fsm.Transition(ctx, cfg.RunID, schema.RunStatusPending, schema.RunStatusRunning,
		map[string]any{"workflow_name": def.Name, "mode": cfg.Mode, "entry_agent_id": def.EntryAgentID}); err != nil {
		return nil, err
	}
	result.Status = schema.RunStatusRunning
	e.deps.Observer.RunStarted(ctx, result)
	r.logger.InfoContext(ctx, "run started", "workflow", def.Name, "mode", cfg.Mode, "entry", def.EntryAgentID)

	runErr := e.loop(ctx, r)

	result.CompletedAt = time.Now().UTC()
	to := schema.RunStatusCompleted
	payload := map[string]any{"halt_reason": result.HaltReason, "steps": len(result.Steps)}
	if runErr != nil {
		to = schema.RunStatusFailed
		result.Error = runErr
		payload["error"] = runErr
	}
	result.Status = to

	// Cancellation must not prevent the terminal event from being written.
	if err := fsm.Transition(context.WithoutCancel(ctx), cfg.RunID, schema.RunStatusRunning, to, payload); err != nil {
		r.logger.WarnContext(ctx, "record run outcome", "error", err)
	}
	e.deps.Observer.RunFinished(ctx, result)

	if runErr != nil {
		r.logger.ErrorContext(ctx, "run failed", "halt_reason", result.HaltReason, "steps", len(result.Steps), "error", runErr)
		return result, runErr
	}
	r.logger.InfoContext(ctx, "run completed", "halt_reason", result.HaltReason, "steps", len(result.Steps))
	return result, nil
}

func (e *Executor) invokerFor(mode Mode) (AgentInvoker, error) {
	switch mode {
	case ModeSim:
		if e.deps.Simulator == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "sim mode requires a simulator")
		}
		return e.deps.Simulator, nil
	case ModeReal:
		if e.deps.Agents == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "real mode requires an agent invoker")
		}
		return e.deps.Agents, nil
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown run mode %q", mode)
	}
}

// loop is the step state machine: current agent id plus step counter.
func (e *Executor) loop(ctx context.Context, r *run) *schema.WaypointError {
	current := r.def.EntryAgentID
	for index := 0; ; index++ {
		if index >= r.cfg.MaxSteps {
			r.result.HaltReason = schema.HaltMaxSteps
			return nil
		}
		if ctx.Err() != nil {
			r.result.HaltReason = schema.HaltCancelled
			return cancelledError(ctx.Err())
		}

		agent := r.def.AgentByID(current)
		if agent == nil {
			r.result.HaltReason = schema.HaltStructuralError
			return schema.NewErrorf(schema.ErrCodeAgentNotFound, "agent %q not found", current).
				WithAgent(current).
				WithDetails(map[string]any{"step_index": index})
		}

		step, err := e.runStep(logging.WithStep(ctx, agent.ID, index), r, agent, index)
		if step != nil {
			r.result.Steps = append(r.result.Steps, *step)
			e.deps.Observer.StepCompleted(ctx, r.cfg.RunID, step)
		}
		if err != nil {
			if err.Code == schema.ErrCodeCancelled {
				r.result.HaltReason = schema.HaltCancelled
			} else {
				r.result.HaltReason = schema.HaltStructuralError
			}
			return err
		}

		if step.NextAgentID == nil {
			r.result.HaltReason = schema.HaltNoMatchingRule
			return nil
		}
		current = *step.NextAgentID
	}
}

// runStep executes one agent. The returned step is non-nil whenever the
// agent was called, so partial work lands in the trace even on error.
func (e *Executor) runStep(ctx context.Context, r *run, agent *schema.AgentSpec, index int) (*schema.TraceStep, *schema.WaypointError) {
	started := time.Now()
	snapshot := expressions.CopyMap(r.result.Context)

	step := &schema.TraceStep{
		Index:           index,
		AgentID:         agent.ID,
		AgentName:       agent.Name,
		AgentRole:       agent.Role,
		InputContext:    snapshot,
		RuleEvaluations: []schema.RuleEvaluation{},
		StartedAt:       started.UTC(),
	}
	defer func() { step.DurationMs = time.Since(started).Milliseconds() }()

	prompt, err := e.fillPrompt(r, agent, index, snapshot)
	if err != nil {
		return nil, err
	}
	step.Prompt = prompt

	raw, output, attempts, callErr := e.callAgent(ctx, r, agent, index, prompt, snapshot)
	step.Attempts = attempts
	if callErr != nil {
		step.Status = schema.StepStatusError
		return step, callErr
	}
	step.RawOutput = raw
	step.Output = output
	step.Status = schema.StepStatusSuccess
	if last := attempts[len(attempts)-1]; last.Status == schema.AttemptError {
		step.Status = schema.StepStatusError
	}

	r.result.Context["output_"+agent.ID] = expressions.CopyValue(output)

	step.ToolDirectives = tooling.Extract(output)
	for _, d := range step.ToolDirectives {
		res := e.callTool(ctx, r, agent, index, d)
		step.ToolResults = append(step.ToolResults, res)
	}

	if err := e.selectRule(ctx, r, agent, step, output); err != nil {
		return step, err
	}
	return step, nil
}

func (e *Executor) fillPrompt(r *run, agent *schema.AgentSpec, index int, snapshot map[string]any) (string, *schema.WaypointError) {
	var lastOutput any
	if last := r.result.LastStep(); last != nil {
		lastOutput = last.Output
	}
	scope := &expressions.PromptScope{
		Context: snapshot,
		Output:  lastOutput,
		Agent:   map[string]any{"id": agent.ID, "name": agent.DisplayName(), "role": agent.Role},
		Run:     map[string]any{"run_id": r.cfg.RunID, "step_index": index, "mode": string(r.cfg.Mode)},
	}
	prompt, unresolved, err := r.interp.Fill(r.def.PromptFor(agent), scope)
	if err != nil {
		var wpErr *schema.WaypointError
		if !errors.As(err, &wpErr) {
			wpErr = schema.NewError(schema.ErrCodeInterpolation, err.Error()).WithCause(err)
		}
		return "", wpErr.WithAgent(agent.ID)
	}
	for _, ref := range unresolved {
		r.result.Warnings = append(r.result.Warnings,
			fmt.Sprintf("step %d (%s): unresolved prompt reference ${{ %s }}", index, agent.ID, ref))
	}
	return prompt, nil
}

// callAgent runs the retry loop. After the last failed attempt the output is
// an error payload, so rule evaluation still runs against it.
func (e *Executor) callAgent(ctx context.Context, r *run, agent *schema.AgentSpec, index int, prompt string, snapshot map[string]any) (string, any, []schema.AttemptRecord, *schema.WaypointError) {
	policy := ResolvePolicy(agent, r.cfg.DefaultRetry)
	m := NewAttemptMachine(policy, r.cfg.BackoffCapMs)
	format := agent.EffectiveFormat()

	var resp *AgentResponse
	for {
		call := AgentCall{
			RunID:        r.cfg.RunID,
			StepIndex:    index,
			Attempt:      m.Attempt(),
			AgentID:      agent.ID,
			AgentName:    agent.Name,
			AgentRole:    agent.Role,
			Prompt:       prompt,
			OutputFormat: format,
			Context:      expressions.CopyMap(snapshot),
			Seed:         r.cfg.Seed,
		}
		began := time.Now()
		var err error
		resp, err = r.invoker.Invoke(ctx, call)
		if ctx.Err() != nil {
			return "", nil, m.Records(), cancelledError(ctx.Err()).WithAgent(agent.ID)
		}
		if err == nil && resp == nil {
			resp = &AgentResponse{}
		}

		res := AttemptResult{Err: err, Duration: time.Since(began)}
		if resp != nil {
			res.Raw = resp.Raw
		}
		state, rec := m.Next(res)
		if rec.Status == schema.AttemptError {
			e.deps.Observer.AttemptFailed(ctx, r.cfg.RunID, index, agent.ID, rec)
			r.logger.WarnContext(ctx, "agent attempt failed",
				"attempt", rec.Attempt, "class", rec.ErrorClass, "code", rec.ErrorCode,
				"retry", rec.ShouldRetry, "reason", rec.RetryReason, "backoff_ms", rec.BackoffMs, "error", err)
		}

		if state != AttemptRetrying {
			break
		}
		if err := WaitForBackoff(ctx, time.Duration(m.BackoffMs())*time.Millisecond, r.cfg.DisableSleep); err != nil {
			return "", nil, m.Records(), cancelledError(err).WithAgent(agent.ID)
		}
		m.Resume()
	}

	records := m.Records()
	if m.State() == AttemptFailed {
		return "", errorOutput(m.LastClassification(), len(records)), records, nil
	}

	output := resp.Output
	if output == nil {
		output = ParseOutput(format, resp.Raw)
	}
	return resp.Raw, output, records, nil
}

// errorOutput is the payload that stands in for the output of a failed step.
func errorOutput(cls Classification, attempts int) map[string]any {
	out := map[string]any{
		"error":       true,
		"message":     cls.Message,
		"error_class": string(cls.Class),
		"attempts":    float64(attempts),
	}
	if cls.Code != "" {
		out["error_code"] = cls.Code
	}
	if cls.Status != 0 {
		out["status"] = float64(cls.Status)
	}
	return out
}

// callTool invokes one directive. Tool failures never fail the step.
func (e *Executor) callTool(ctx context.Context, r *run, agent *schema.AgentSpec, index int, d schema.ToolDirective) schema.ToolCallResult {
	res := schema.ToolCallResult{ToolName: d.ToolName, Input: d.Input}
	switch {
	case !agent.AllowsTool(d.ToolName):
		res.Skipped, res.SkipReason = true, SkipNotWhitelisted
	case e.deps.Tools == nil:
		res.Skipped, res.SkipReason = true, SkipNoToolRuntime
	default:
		resp, err := e.deps.Tools.Invoke(ctx, tooling.Call{
			AgentID:  agent.ID,
			ToolName: d.ToolName,
			Input:    expressions.CopyMap(d.Input),
			Context:  expressions.CopyMap(r.result.Context),
		})
		if err != nil {
			res.Error = err.Error()
			r.logger.WarnContext(ctx, "tool call failed", "tool", d.ToolName, "error", err)
			break
		}
		res.OK = true
		if resp != nil {
			res.Result = resp.Result
			if len(resp.ContextUpdates) > 0 {
				res.ContextUpdates = expressions.CopyMap(resp.ContextUpdates)
				for k, v := range resp.ContextUpdates {
					r.result.Context[k] = expressions.CopyValue(v)
				}
			}
		}
	}
	e.deps.Observer.ToolCalled(ctx, r.cfg.RunID, index, agent.ID, res)
	return res
}

// selectRule evaluates every rule leaving the agent in definition order and
// selects the first that is true.
func (e *Executor) selectRule(ctx context.Context, r *run, agent *schema.AgentSpec, step *schema.TraceStep, output any) *schema.WaypointError {
	scope := expressions.Scope{
		"context": r.result.Context,
		"output":  output,
	}
	for _, rule := range r.def.RulesFrom(agent.ID) {
		cond := rule.EffectiveCondition()
		outcome, err := r.evaluator.EvaluateRule(rule.ID, cond, scope)
		if err != nil {
			return parseFailure(err, rule).WithAgent(agent.ID)
		}
		eval := schema.RuleEvaluation{
			RuleID:    rule.ID,
			From:      rule.From,
			To:        rule.To,
			Condition: cond,
			Result:    outcome.Result,
			DecidedBy: string(outcome.DecidedBy),
		}
		if outcome.Result && step.SelectedRuleID == nil {
			eval.Selected = true
			ruleID, next := rule.ID, rule.To
			step.SelectedRuleID, step.NextAgentID = &ruleID, &next
			r.logger.DebugContext(ctx, "rule selected", "rule", rule.ID, "to", rule.To)
		}
		step.RuleEvaluations = append(step.RuleEvaluations, eval)
		e.deps.Observer.RuleEvaluated(ctx, r.cfg.RunID, step.Index, eval)
	}
	return nil
}

func parseFailure(err error, rule schema.TransitionRule) *schema.WaypointError {
	details := map[string]any{"rule_id": rule.ID, "condition": rule.Condition}
	var pe *expressions.ParseError
	if errors.As(err, &pe) {
		details["position"] = pe.Pos
		return schema.NewErrorf(schema.ErrCodeParse, "rule %s: %s", rule.ID, pe.Error()).
			WithCause(err).WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "rule %s: %s", rule.ID, err.Error()).
		WithCause(err).WithDetails(details)
}

func cancelledError(err error) *schema.WaypointError {
	return schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
}
