package expressions

import (
	"sort"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

// Namespaces available to ${{ ... }} references in prompt templates.
var promptNamespaces = []string{"context", "output", "agent", "run"}

// PromptScope holds the data a prompt template can reference.
type PromptScope struct {
	Context map[string]any // live execution context
	Output  any            // previous agent's parsed output
	Agent   map[string]any // id, name, role of the agent being prompted
	Run     map[string]any // run_id, step_index, mode
}

// Interpolator resolves ${{ namespace.path }} references in prompt text.
type Interpolator struct {
	strict bool
}

// NewInterpolator creates an Interpolator. A strict interpolator fails on
// unresolved references; a lenient one renders them empty.
func NewInterpolator(strict bool) *Interpolator {
	return &Interpolator{strict: strict}
}

// Fill renders a template. Unresolved references are returned in order of
// appearance; in strict mode the first one is an error instead.
func (interp *Interpolator) Fill(template string, scope *PromptScope) (string, []string, error) {
	if !strings.Contains(template, "${{") {
		return template, nil, nil
	}

	var (
		out        strings.Builder
		unresolved []string
	)
	out.Grow(len(template))

	err := scanRefs(template, func(literal, ref string) error {
		out.WriteString(literal)
		if ref == "" {
			return nil
		}
		val, ok, err := resolvePromptRef(ref, scope)
		if err != nil {
			return err
		}
		if !ok {
			if interp.strict {
				return schema.NewErrorf(schema.ErrCodeInterpolation, "unresolved reference ${{ %s }}", ref).
					WithDetails(map[string]any{"expression": ref})
			}
			unresolved = append(unresolved, ref)
			return nil
		}
		out.WriteString(Stringify(val))
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return out.String(), unresolved, nil
}

// CheckTemplate validates reference syntax and namespaces without resolving.
func CheckTemplate(template string) error {
	return scanRefs(template, func(_, ref string) error {
		if ref == "" {
			return nil
		}
		ns, _, _ := strings.Cut(ref, ".")
		if !knownNamespace(ns) {
			return unknownNamespace(ns, ref)
		}
		return nil
	})
}

// scanRefs walks a template calling fn with each literal run and the
// trimmed reference that follows it (empty for the final literal run).
func scanRefs(template string, fn func(literal, ref string) error) error {
	i := 0
	for i < len(template) {
		idx := strings.Index(template[i:], "${{")
		if idx == -1 {
			break
		}
		start := i + idx + 3
		end := strings.Index(template[start:], "}}")
		if end == -1 {
			return schema.NewError(schema.ErrCodeInterpolation, "unclosed ${{ expression")
		}
		end += start

		ref := strings.TrimSpace(template[start:end])
		if strings.Contains(ref, "${{") {
			return schema.NewError(schema.ErrCodeInterpolation,
				"nested interpolation not allowed: ${{...}} cannot contain ${{")
		}
		if ref == "" {
			return schema.NewError(schema.ErrCodeInterpolation, "empty variable reference: ${{  }}")
		}
		if err := fn(template[i:i+idx], ref); err != nil {
			return err
		}
		i = end + 2
	}
	return fn(template[i:], "")
}

func resolvePromptRef(ref string, scope *PromptScope) (any, bool, error) {
	ns, rest, _ := strings.Cut(ref, ".")
	if scope == nil {
		scope = &PromptScope{}
	}

	var root any
	switch ns {
	case "context":
		root = scope.Context
	case "output":
		root = scope.Output
	case "agent":
		root = scope.Agent
	case "run":
		root = scope.Run
	default:
		return nil, false, unknownNamespace(ns, ref)
	}

	if rest == "" {
		return root, root != nil, nil
	}
	// Direct key lookup first, so keys containing dots resolve.
	if m, ok := root.(map[string]any); ok {
		if v, ok := m[rest]; ok {
			return v, true, nil
		}
	}
	cur := root
	for _, seg := range strings.Split(rest, ".") {
		next, ok := field(cur, seg)
		if !ok {
			return nil, false, nil
		}
		cur = next
	}
	return cur, true, nil
}

func knownNamespace(ns string) bool {
	for _, n := range promptNamespaces {
		if n == ns {
			return true
		}
	}
	return false
}

func unknownNamespace(ns, ref string) *schema.WaypointError {
	available := append([]string(nil), promptNamespaces...)
	sort.Strings(available)
	return schema.NewErrorf(schema.ErrCodeInterpolation,
		"unknown namespace %q in ${{%s}}; available: %s", ns, ref, strings.Join(available, ", ")).
		WithDetails(map[string]any{"expression": ref, "available_namespaces": available})
}
