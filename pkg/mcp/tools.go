package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/tooling"
	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

// handleRun executes an inline workflow definition.
func (s *WaypointServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.executor == nil {
		return mcp.NewToolResultError("executor is not configured"), nil
	}
	def, err := definitionArg(req, "definition")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cfg := s.defaults
	cfg.RunID = uuid.NewString()
	if mode := req.GetString("mode", ""); mode != "" {
		cfg.Mode = engine.Mode(mode)
	}
	if seed, ok := req.GetArguments()["seed"].(float64); ok {
		v := int64(seed)
		cfg.Seed = &v
	}
	if n := req.GetInt("max_steps", 0); n > 0 {
		cfg.MaxSteps = n
	}
	if cm := req.GetString("condition_mode", ""); cm != "" {
		cfg.ConditionMode = expressions.Mode(cm)
	}
	if vars := mcp.ParseStringMap(req, "variables", nil); len(vars) > 0 {
		def = engine.WithVariables(def, vars)
	}

	if v := s.validatorFor(cfg.ConditionMode); v != nil {
		if res := v.Validate(def); !res.Valid() {
			return errorResult(res)
		}
	}

	exec := s.executor
	if len(def.ToolRegistry) > 0 {
		reg := tooling.NewRegistry()
		if err := tooling.NewHTTPInvoker(def.ToolRegistry, tooling.HTTPConfig{}).RegisterAll(reg); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		exec = exec.WithTools(reg)
	}

	stop := s.streamProgress(ctx, cfg.RunID)
	result, runErr := exec.Run(ctx, def, cfg)
	stop()

	if result == nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}
	s.archive(ctx, result, def)

	if runErr != nil {
		return errorResult(result)
	}
	return marshalResult(result)
}

// handleValidate runs the validation pipeline on an inline definition.
func (s *WaypointServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	def, err := definitionArg(req, "definition")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	v := s.validatorFor(expressions.Mode(req.GetString("condition_mode", "")))
	if v == nil {
		return mcp.NewToolResultError("validator is not configured"), nil
	}

	res := v.Validate(def)
	return marshalResult(map[string]any{
		"valid":    res.Valid(),
		"errors":   res.Errors,
		"warnings": res.Warnings,
	})
}

// handleEvaluate evaluates one condition against a caller-supplied scope.
func (s *WaypointServer) handleEvaluate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	condition, err := req.RequireString("condition")
	if err != nil {
		return mcp.NewToolResultError("condition is required"), nil
	}
	mode := expressions.Mode(req.GetString("mode", string(expressions.ModeStrict)))
	if mode != expressions.ModeStrict && mode != expressions.ModeLegacy {
		return mcp.NewToolResultError(fmt.Sprintf("unknown mode %q", mode)), nil
	}
	scope := expressions.Scope(mcp.ParseStringMap(req, "scope", map[string]any{}))

	outcome, evalErr := expressions.NewEvaluator(mode).EvaluateRule("evaluate", condition, scope)
	if evalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("evaluate: %v", evalErr)), nil
	}

	verdict := expressions.LegacyCompat(condition)
	out := map[string]any{
		"result":            outcome.Result,
		"mode":              mode,
		"legacy_recognized": verdict.LegacyRecognized,
		"legacy_diverges":   verdict.LegacyDiverges,
	}
	if outcome.DecidedBy != "" {
		out["decided_by"] = outcome.DecidedBy
	}
	if verdict.StrictErr != nil {
		out["strict_error"] = verdict.StrictErr.Error()
	}
	return marshalResult(out)
}

// handleDiagram draws a definition, or an archived run with its trace overlay.
func (s *WaypointServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	var imgFormat diagram.ImageFormat
	if format != "mermaid" {
		if imgFormat, err = diagram.ParseImageFormat(format); err != nil {
			return mcp.NewToolResultError("format must be mermaid, png, svg, or dot"), nil
		}
	}

	runID := req.GetString("run_id", "")
	_, hasDef := req.GetArguments()["definition"]
	if runID == "" && !hasDef {
		return mcp.NewToolResultError("at least one of definition or run_id is required"), nil
	}

	var def *schema.WorkflowDefinition
	var trace *schema.RunResult
	if hasDef {
		if def, err = definitionArg(req, "definition"); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	if runID != "" {
		if s.store == nil {
			return mcp.NewToolResultError("run archive is not configured"), nil
		}
		run, getErr := s.store.GetRun(ctx, runID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %v", getErr)), nil
		}
		if trace, err = run.Decode(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if def == nil {
			if def, err = run.DecodeDefinition(); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			if def == nil {
				return mcp.NewToolResultError(fmt.Sprintf("run %s was archived without its definition; pass definition", runID)), nil
			}
		}
	}

	model, buildErr := diagram.Build(def, trace)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	if format == "mermaid" {
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	}
	data, imgErr := diagram.RenderImage(ctx, model, imgFormat)
	if imgErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
	}
	if imgFormat == diagram.ImagePNG {
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(data), "image/png"), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// handleQuery lists archived runs, events, or rule coverage.
func (s *WaypointServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	if s.store == nil {
		return mcp.NewToolResultError("run archive is not configured"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "runs":
		return s.queryRuns(ctx, filter)
	case "run":
		return s.queryRun(ctx, filter)
	case "events":
		return s.queryEvents(ctx, filter)
	case "coverage":
		return s.queryCoverage(ctx, filter)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Query helpers ---

// runSummary is a Run without its stored blobs.
type runSummary struct {
	ID           string            `json:"id"`
	WorkflowName string            `json:"workflow_name,omitempty"`
	Mode         string            `json:"mode"`
	Seed         *int64            `json:"seed,omitempty"`
	Status       schema.RunStatus  `json:"status"`
	HaltReason   schema.HaltReason `json:"halt_reason,omitempty"`
	StepCount    int               `json:"step_count"`
	ErrorCode    string            `json:"error_code,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

func summarize(r *store.Run) runSummary {
	return runSummary{
		ID: r.ID, WorkflowName: r.WorkflowName, Mode: r.Mode, Seed: r.Seed,
		Status: r.Status, HaltReason: r.HaltReason, StepCount: r.StepCount,
		ErrorCode: r.ErrorCode, CreatedAt: r.CreatedAt,
	}
}

func runFilter(filter map[string]any, defaultLimit int) store.RunFilter {
	rf := store.RunFilter{
		Limit: extractInt(filter, "limit", defaultLimit),
	}
	if status, ok := filter["status"].(string); ok && status != "" {
		rs := schema.RunStatus(status)
		rf.Status = &rs
	}
	if name, ok := filter["workflow_name"].(string); ok {
		rf.WorkflowName = name
	}
	if halt, ok := filter["halt_reason"].(string); ok {
		rf.HaltReason = halt
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			rf.Since = &t
		}
	}
	return rf
}

func (s *WaypointServer) queryRuns(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runs, err := s.store.ListRuns(ctx, runFilter(filter, 50))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	out := make([]runSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, summarize(r))
	}
	return marshalResult(map[string]any{"runs": out})
}

func (s *WaypointServer) queryRun(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	runID, _ := filter["run_id"].(string)
	if runID == "" {
		return mcp.NewToolResultError("run query requires 'run_id' in filter"), nil
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	result, err := run.Decode()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(result)
}

func (s *WaypointServer) queryEvents(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	ef := store.EventFilter{
		Limit: extractInt(filter, "limit", 100),
	}
	if runID, ok := filter["run_id"].(string); ok {
		ef.RunID = runID
	}
	if agentID, ok := filter["agent_id"].(string); ok {
		ef.AgentID = agentID
	}
	if since, ok := filter["since"].(string); ok && since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			ef.Since = &t
		}
	}

	if eventType, ok := filter["event_type"].(string); ok && eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, ef)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": events})
	}

	// Without an event type the query is scoped to one run.
	if ef.RunID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'run_id' in filter"), nil
	}
	events, err := s.store.GetEvents(ctx, ef.RunID, 0)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

// queryCoverage aggregates rule coverage over the archived runs of a
// workflow, against the definition of its most recent run.
func (s *WaypointServer) queryCoverage(ctx context.Context, filter map[string]any) (*mcp.CallToolResult, error) {
	rf := runFilter(filter, 100)
	if rf.WorkflowName == "" {
		return mcp.NewToolResultError("coverage query requires 'workflow_name' in filter"), nil
	}
	runs, err := s.store.ListRuns(ctx, rf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}

	var def *schema.WorkflowDefinition
	traces := make([]*schema.RunResult, 0, len(runs))
	for _, r := range runs {
		if def == nil {
			if def, err = r.DecodeDefinition(); err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
		}
		trace, decErr := r.Decode()
		if decErr != nil {
			return mcp.NewToolResultError(decErr.Error()), nil
		}
		traces = append(traces, trace)
	}
	if def == nil {
		return mcp.NewToolResultError(fmt.Sprintf("no archived definition for workflow %q", rf.WorkflowName)), nil
	}
	return marshalResult(diagram.Coverage(def, traces...))
}

// --- Internal helpers ---

// definitionArg decodes a definition given as an object or as JSON/YAML text.
func definitionArg(req mcp.CallToolRequest, key string) (*schema.WorkflowDefinition, error) {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%s is required", key)
	}
	switch v := raw.(type) {
	case string:
		format := schema.FormatYAML
		if strings.HasPrefix(strings.TrimSpace(v), "{") {
			format = schema.FormatJSON
		}
		return schema.ParseDefinition([]byte(v), format)
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		return schema.ParseDefinition(data, schema.FormatJSON)
	default:
		return nil, fmt.Errorf("%s must be an object or a JSON/YAML string", key)
	}
}

func (s *WaypointServer) validatorFor(mode expressions.Mode) *validation.WorkflowValidator {
	if s.validator == nil {
		return nil
	}
	return s.validator.WithConditionMode(mode)
}

// streamProgress forwards hub events of the run to the calling MCP session
// until the returned stop function is called.
func (s *WaypointServer) streamProgress(ctx context.Context, runID string) func() {
	session := server.ClientSessionFromContext(ctx)
	if s.hub == nil || session == nil {
		return func() {}
	}

	events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{RunID: runID})
	if err != nil {
		s.logger.WarnContext(ctx, "subscribe to run events", "run_id", runID, "error", err)
		return func() {}
	}
	s.sessions.Register(runID, session.SessionID())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			payload := map[string]any{"level": "info", "logger": "waypoint", "data": ev}
			if err := s.notifier.Notify(ctx, runID, payload); err != nil {
				s.logger.DebugContext(ctx, "notify run progress", "run_id", runID, "error", err)
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
		s.sessions.Forget(runID)
	}
}

// archive stores the run when an archive is configured. Failures are logged.
func (s *WaypointServer) archive(ctx context.Context, result *schema.RunResult, def *schema.WorkflowDefinition) {
	if s.store == nil {
		return
	}
	run, steps, err := store.NewRunRecord(result, def)
	if err == nil {
		err = s.store.SaveRun(context.WithoutCancel(ctx), run, steps)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "archive run", "run_id", result.RunID, "error", err)
	}
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}

// errorResult is marshalResult flagged as a tool error.
func errorResult(v any) (*mcp.CallToolResult, error) {
	res, err := marshalResult(v)
	if res != nil {
		res.IsError = true
	}
	return res, err
}
