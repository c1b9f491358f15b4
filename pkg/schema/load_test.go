package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triageJSON = `{
  "name": "support",
  "entry_agent_id": "triage",
  "agents": [
    {"id": "triage", "role": "classifier", "output_format": "json", "prompt": "Classify ${{ context.ticket_text }}"},
    {"id": "billing_agent", "output_format": "text"}
  ],
  "rules": [
    {"id": "r1", "from": "triage", "to": "billing_agent", "condition": "category == 'billing'"}
  ],
  "initial_variables": {"ticket_text": "refund please", "priority": 2}
}`

const triageYAML = `
name: support
entry_agent_id: triage
agents:
  - id: triage
    role: classifier
    output_format: json
    prompt: "Classify ${{ context.ticket_text }}"
  - id: billing_agent
    output_format: text
rules:
  - id: r1
    from: triage
    to: billing_agent
    condition: "category == 'billing'"
initial_variables:
  ticket_text: refund please
  priority: 2
`

func TestParseDefinition_JSONAndYAMLAgree(t *testing.T) {
	fromJSON, err := ParseDefinition([]byte(triageJSON), FormatJSON)
	require.NoError(t, err)
	fromYAML, err := ParseDefinition([]byte(triageYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, fromJSON, fromYAML)
	assert.Equal(t, float64(2), fromYAML.InitialVariables["priority"])
	assert.Equal(t, OutputFormatJSON, fromYAML.Agents[0].OutputFormat)
}

func TestParseDefinition_Invalid(t *testing.T) {
	_, err := ParseDefinition([]byte(`{"agents": 3}`), FormatJSON)
	require.Error(t, err)
	var wpErr *WaypointError
	require.ErrorAs(t, err, &wpErr)
	assert.Equal(t, ErrCodeValidation, wpErr.Code)

	_, err = ParseDefinition([]byte("agents: [\n"), FormatYAML)
	require.Error(t, err)
}

func TestLoadDefinition_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flow.yml")
	require.NoError(t, os.WriteFile(path, []byte(triageYAML), 0o644))

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Equal(t, "triage", def.EntryAgentID)

	_, err = LoadDefinition(filepath.Join(dir, "missing.json"))
	var wpErr *WaypointError
	require.ErrorAs(t, err, &wpErr)
	assert.Equal(t, ErrCodeNotFound, wpErr.Code)
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("a/b.YAML"))
	assert.Equal(t, FormatYAML, FormatFromPath("b.yml"))
	assert.Equal(t, FormatJSON, FormatFromPath("b.json"))
	assert.Equal(t, FormatJSON, FormatFromPath("b"))
}
