// Package mcp exposes waypoint over the Model Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/validation"
)

// ServerDeps holds the dependencies for creating a WaypointServer.
// Store and Hub are optional: without a store runs are not archived and
// waypoint.query is unavailable; without a hub no progress notifications
// are sent.
type ServerDeps struct {
	Executor  *engine.Executor
	Validator *validation.WorkflowValidator
	Store     store.Store
	Hub       streaming.EventHub
	// Defaults is the base RunConfig; tool arguments override it per call.
	Defaults engine.RunConfig
	Version  string
	Logger   *slog.Logger
}

// WaypointServer wraps an MCP server with waypoint tool handlers.
type WaypointServer struct {
	executor  *engine.Executor
	validator *validation.WorkflowValidator
	store     store.Store
	hub       streaming.EventHub
	defaults  engine.RunConfig
	sessions  *SessionRegistry
	notifier  RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewWaypointServer creates a new WaypointServer with all tools registered.
func NewWaypointServer(deps ServerDeps) *WaypointServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &WaypointServer{
		executor:  deps.Executor,
		validator: deps.Validator,
		store:     deps.Store,
		hub:       deps.Hub,
		defaults:  deps.Defaults,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"waypoint",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Waypoint runs agent workflows: directed graphs of agents joined by conditional transition rules. Use waypoint.validate before running, waypoint.run to execute (sim mode is deterministic for a given seed), waypoint.evaluate to test a rule condition, waypoint.diagram to draw a workflow or a run, and waypoint.query to inspect archived runs, events and rule coverage."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *WaypointServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *WaypointServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *WaypointServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: evaluateTool(), Handler: s.handleEvaluate},
		{Tool: diagramTool(), Handler: s.handleDiagram},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("waypoint.run",
		mcp.WithDescription("Execute a workflow definition and return its trace"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object (entry_agent_id, agents, rules, ...)")),
		mcp.WithString("mode", mcp.Enum("sim", "real"), mcp.Description("Agent backend (default: sim)")),
		mcp.WithNumber("seed", mcp.Description("Seed for the deterministic simulator")),
		mcp.WithNumber("max_steps", mcp.Description("Step cap (default: 10)")),
		mcp.WithString("condition_mode", mcp.Enum("strict", "legacy"), mcp.Description("Rule condition evaluator (default: strict)")),
		mcp.WithObject("variables", mcp.Description("Variables merged over the definition's initial_variables")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("waypoint.validate",
		mcp.WithDescription("Validate a workflow definition and list errors and warnings"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object")),
		mcp.WithString("condition_mode", mcp.Enum("strict", "legacy"), mcp.Description("Evaluator the workflow will run under (default: strict)")),
	)
}

func evaluateTool() mcp.Tool {
	return mcp.NewTool("waypoint.evaluate",
		mcp.WithDescription("Evaluate a rule condition against a scope"),
		mcp.WithString("condition", mcp.Required(), mcp.Description("Condition text, e.g. output.category == 'billing' AND context.tier > 1")),
		mcp.WithObject("scope", mcp.Description("Evaluation scope with context and output keys")),
		mcp.WithString("mode", mcp.Enum("strict", "legacy"), mcp.Description("Evaluator (default: strict)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("waypoint.diagram",
		mcp.WithDescription("Draw a workflow, or an archived run with rule coverage. Returns Mermaid text, DOT text, SVG, or a base64-encoded PNG"),
		mcp.WithObject("definition", mcp.Description("Workflow definition object")),
		mcp.WithString("run_id", mcp.Description("Archived run to draw with its trace overlay")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "png", "svg", "dot"),
			mcp.Description("Output format"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("waypoint.query",
		mcp.WithDescription("Query archived runs, run events, or rule coverage"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("runs", "run", "events", "coverage"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (run_id, status, workflow_name, halt_reason, event_type, since, limit)")),
	)
}
