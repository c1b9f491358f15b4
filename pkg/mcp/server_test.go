package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWaypointServer(t *testing.T) {
	s := NewWaypointServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
	assert.Same(t, s.mcpServer, s.MCPServer())
}

func TestToolRegistration(t *testing.T) {
	s := NewWaypointServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	expectedTools := []string{
		"waypoint.run",
		"waypoint.validate",
		"waypoint.evaluate",
		"waypoint.diagram",
		"waypoint.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "waypoint.run", "Execute a workflow definition and return its trace"},
		{"validate", "waypoint.validate", "Validate a workflow definition and list errors and warnings"},
		{"evaluate", "waypoint.evaluate", "Evaluate a rule condition against a scope"},
		{"query", "waypoint.query", "Query archived runs, run events, or rule coverage"},
	}

	s := NewWaypointServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
