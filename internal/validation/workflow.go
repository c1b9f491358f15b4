package validation

import (
	"encoding/json"
	"errors"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// Options configures the semantic stage.
type Options struct {
	// Tools, when set, is consulted for whitelisted tools missing from the
	// definition's tool registry.
	Tools ToolLookup
	// ConditionMode is the evaluator mode the workflow will run under.
	// Empty means strict.
	ConditionMode expressions.Mode
}

// WorkflowValidator orchestrates the three-stage validation pipeline:
// 1. Structural (JSON Schema)
// 2. Semantic (agent, rule, prompt and tool references, condition text)
// 3. Graph (reachability, cycles, shadowed rules)
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	opts       Options
}

// NewWorkflowValidator creates a WorkflowValidator.
func NewWorkflowValidator(opts Options) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	if opts.ConditionMode == "" {
		opts.ConditionMode = expressions.ModeStrict
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		opts:       opts,
	}, nil
}

// WithConditionMode returns a validator sharing the compiled schemas that
// checks conditions for the given evaluator mode. Empty means strict.
func (wv *WorkflowValidator) WithConditionMode(mode expressions.Mode) *WorkflowValidator {
	if mode == "" {
		mode = expressions.ModeStrict
	}
	cp := *wv
	cp.opts.ConditionMode = mode
	return &cp
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: semantic and graph stages are skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.opts))

	// Dangling references make the graph meaningless.
	if result.Valid() {
		result.Merge(validateGraph(def))
	}

	if len(def.InputSchema) > 0 {
		result.Merge(wv.validateInitialVariables(def))
	}

	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// ValidateRunInput checks run variables against the definition's input
// schema. A definition without one accepts anything.
func (wv *WorkflowValidator) ValidateRunInput(def *schema.WorkflowDefinition, vars map[string]any) error {
	if def == nil || len(def.InputSchema) == 0 {
		return nil
	}
	raw, err := json.Marshal(def.InputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input schema").WithCause(err)
	}
	return wv.jsonSchema.ValidateInput(vars, raw)
}

func (wv *WorkflowValidator) validateInitialVariables(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := wv.ValidateRunInput(def, def.InitialVariables)
	appendViolations(result, "initial_variables", err)
	return result
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	appendViolations(result, "/", v.ValidateDefinition(def))
	return result
}

func appendViolations(result *schema.ValidationResult, path string, err error) {
	if err == nil {
		return
	}
	var wpErr *schema.WaypointError
	if !errors.As(err, &wpErr) {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := wpErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(path, schema.ErrCodeValidation, v)
		}
		return
	}
	result.AddError(path, schema.ErrCodeValidation, wpErr.Message)
}
