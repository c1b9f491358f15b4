package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFormat is the serialization of a workflow definition file.
type DefinitionFormat string

const (
	FormatJSON DefinitionFormat = "json"
	FormatYAML DefinitionFormat = "yaml"
)

// FormatFromPath picks a format from a file extension. Unknown extensions are JSON.
func FormatFromPath(path string) DefinitionFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// LoadDefinition reads and parses a workflow definition file.
func LoadDefinition(path string) (*WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewErrorf(ErrCodeNotFound, "read definition %s", path).WithCause(err)
	}
	return ParseDefinition(data, FormatFromPath(path))
}

// ParseDefinition decodes a workflow definition. YAML is normalized through
// JSON so both formats yield the same value types (float64 numbers,
// map[string]any objects).
func ParseDefinition(data []byte, format DefinitionFormat) (*WorkflowDefinition, error) {
	if format == FormatYAML {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, NewError(ErrCodeValidation, "invalid YAML definition").WithCause(err)
		}
		converted, err := json.Marshal(raw)
		if err != nil {
			return nil, NewError(ErrCodeValidation, "definition is not JSON-compatible").WithCause(err)
		}
		data = converted
	}

	var def WorkflowDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("invalid definition: %s", err.Error())).WithCause(err)
	}
	return &def, nil
}
