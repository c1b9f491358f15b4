package expressions

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Scope is the runtime data a condition is evaluated against. It exposes at
// least "context" (the execution context) and "output" (the last agent's
// parsed output).
type Scope map[string]any

type undefinedValue struct{}

func (undefinedValue) String() string { return "undefined" }

// Undefined is the result of resolving a path through a missing key or null.
// It is falsy and fails every numeric comparison.
var Undefined any = undefinedValue{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedValue)
	return ok
}

// Side names the operand that decided a logical node.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideBoth  Side = "both"
)

// Decision records which operand of the root logical node decided the
// result. Both operands are always evaluated.
type Decision struct {
	Op        LogicalOp
	DecidedBy Side
}

// Evaluate parses and evaluates condition text.
func Evaluate(src string, scope Scope) (bool, error) {
	node, err := Parse(src)
	if err != nil {
		return false, err
	}
	result, _, err := Eval(node, scope)
	return result, err
}

// Eval evaluates an AST against a scope. The returned Decision is nil unless
// the root node is AND or OR.
func Eval(node Node, scope Scope) (bool, *Decision, error) {
	if l, ok := node.(*Logical); ok {
		left, err := evalBool(l.Left, scope)
		if err != nil {
			return false, nil, err
		}
		right, err := evalBool(l.Right, scope)
		if err != nil {
			return false, nil, err
		}
		result, side := combine(l.Op, left, right)
		return result, &Decision{Op: l.Op, DecidedBy: side}, nil
	}
	result, err := evalBool(node, scope)
	return result, nil, err
}

func evalBool(node Node, scope Scope) (bool, error) {
	switch n := node.(type) {
	case *Literal:
		return Truthy(n.Value), nil
	case *Path:
		return Truthy(lookup(n.Segments, scope)), nil
	case *Comparison:
		left, err := Resolve(n.Left, scope)
		if err != nil {
			return false, err
		}
		right, err := Resolve(n.Right, scope)
		if err != nil {
			return false, err
		}
		return Compare(n.Op, left, right), nil
	case *Logical:
		left, err := evalBool(n.Left, scope)
		if err != nil {
			return false, err
		}
		right, err := evalBool(n.Right, scope)
		if err != nil {
			return false, err
		}
		result, _ := combine(n.Op, left, right)
		return result, nil
	case *Not:
		inner, err := evalBool(n.Expr, scope)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case *Call:
		return evalCall(n, scope)
	default:
		return false, fmt.Errorf("expressions: unhandled node type %T", node)
	}
}

func combine(op LogicalOp, left, right bool) (bool, Side) {
	if op == OpAnd {
		switch {
		case !left:
			return false, SideLeft
		case !right:
			return false, SideRight
		default:
			return true, SideBoth
		}
	}
	switch {
	case left:
		return true, SideLeft
	case right:
		return true, SideRight
	default:
		return false, SideBoth
	}
}

func evalCall(n *Call, scope Scope) (bool, error) {
	if n.Fn != "contains" || len(n.Args) != 2 {
		return false, fmt.Errorf("expressions: unsupported call %s", n)
	}
	haystack, err := Resolve(n.Args[0], scope)
	if err != nil {
		return false, err
	}
	needle, err := Resolve(n.Args[1], scope)
	if err != nil {
		return false, err
	}
	return Contains(haystack, needle), nil
}

// Resolve turns an operand node into its runtime value. Boolean sub-expressions
// resolve to their truth value.
func Resolve(node Node, scope Scope) (any, error) {
	switch n := node.(type) {
	case *Literal:
		return n.Value, nil
	case *Path:
		return lookup(n.Segments, scope), nil
	case *Comparison, *Logical, *Not, *Call:
		return evalBool(n, scope)
	default:
		return nil, fmt.Errorf("expressions: unhandled node type %T", node)
	}
}

// lookup walks a dotted path. The first segment is looked up in the scope,
// then in the output object, then in the context object.
func lookup(segments []string, scope Scope) any {
	if len(segments) == 0 {
		return Undefined
	}

	cur, ok := scope[segments[0]]
	if !ok {
		cur, ok = field(scope["output"], segments[0])
	}
	if !ok {
		cur, ok = field(scope["context"], segments[0])
	}
	if !ok {
		return Undefined
	}

	for _, seg := range segments[1:] {
		cur, ok = field(cur, seg)
		if !ok {
			return Undefined
		}
	}
	if cur == nil {
		return Undefined
	}
	return cur
}

func field(v any, key string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		val, ok := m[key]
		return val, ok
	case Scope:
		val, ok := m[key]
		return val, ok
	case []any:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(m) {
			return nil, false
		}
		return m[idx], true
	}
	return nil, false
}

// Compare applies a comparison operator. Numeric and numeric-like string
// operands compare as numbers; otherwise == and != use structural equality
// and ordering operators yield false.
func Compare(op CompareOp, left, right any) bool {
	ln, lok := toNumber(left)
	rn, rok := toNumber(right)
	if lok && rok {
		switch op {
		case OpEq:
			return ln == rn
		case OpNeq:
			return ln != rn
		case OpGt:
			return ln > rn
		case OpLt:
			return ln < rn
		case OpGte:
			return ln >= rn
		case OpLte:
			return ln <= rn
		}
		return false
	}

	switch op {
	case OpEq:
		return Equal(left, right)
	case OpNeq:
		return !Equal(left, right)
	}
	return false
}

// Equal is structural equality. Mixed scalar kinds compare by their string
// form, so true == "true".
func Equal(a, b any) bool {
	if IsUndefined(a) || IsUndefined(b) {
		return (IsUndefined(a) || a == nil) && (IsUndefined(b) || b == nil)
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if an, ok := toNumber(a); ok {
		if bn, ok := toNumber(b); ok {
			return an == bn
		}
	}

	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, ok := bv[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	}

	if isScalar(a) && isScalar(b) {
		return Stringify(a) == Stringify(b)
	}
	return false
}

// Contains reports whether an array holds needle, or a string contains the
// stringified needle. Any other haystack yields false.
func Contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if Equal(item, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if Equal(item, needle) {
				return true
			}
		}
		return false
	case string:
		return strings.Contains(h, Stringify(needle))
	}
	return false
}

// Truthy applies loose truthiness: undefined, null, false, 0, NaN and ""
// are false, everything else is true.
func Truthy(v any) bool {
	if v == nil || IsUndefined(v) {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}
	if n, ok := numericValue(v); ok {
		return n != 0 && !math.IsNaN(n)
	}
	return true
}

// Stringify renders a runtime value the way conditions compare it as text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case undefinedValue:
		return "undefined"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	}
	if n, ok := numericValue(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// toNumber accepts numbers and numeric-like strings.
func toNumber(v any) (float64, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return numericValue(v)
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool:
		return true
	}
	_, ok := numericValue(v)
	return ok
}
