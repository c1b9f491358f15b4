package expressions

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func mustEval(t *testing.T, src string, scope Scope) bool {
	t.Helper()
	got, err := Evaluate(src, scope)
	require.NoError(t, err, src)
	return got
}

func TestEvaluate_AlwaysAndBlank(t *testing.T) {
	scopes := []Scope{nil, {}, {"output": map[string]any{"x": 1.0}}}
	for _, s := range scopes {
		assert.True(t, mustEval(t, "always", s))
		assert.True(t, mustEval(t, "ALWAYS", s))
		assert.True(t, mustEval(t, "", s))
		assert.False(t, mustEval(t, "false", s))
	}
}

func TestEvaluate_ScoreAndRegion(t *testing.T) {
	scope := Scope{
		"output": map[string]any{"score": 0.9},
		"user":   map[string]any{"region": "EU"},
	}
	assert.True(t, mustEval(t, `output.score > 0.5 AND user.region == "EU"`, scope))
}

func TestEvaluate_LogicalTruthTables(t *testing.T) {
	for _, a := range []bool{true, false} {
		for _, b := range []bool{true, false} {
			score := 0.2
			if a {
				score = 0.9
			}
			region := "US"
			if b {
				region = "EU"
			}
			scope := Scope{
				"output": map[string]any{"score": score},
				"user":   map[string]any{"region": region},
			}
			name := fmt.Sprintf("a=%v,b=%v", a, b)
			assert.Equal(t, a && b, mustEval(t, `output.score > 0.5 AND user.region == "EU"`, scope), name)
			assert.Equal(t, a || b, mustEval(t, `output.score > 0.5 OR user.region == "EU"`, scope), name)
		}
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	scope := Scope{
		"output": map[string]any{
			"score":    0.75,
			"count":    "12",
			"label":    "billing",
			"flag":     true,
			"nothing":  nil,
			"tags":     []any{"a", "b"},
			"nested":   map[string]any{"deep": map[string]any{"v": 3.0}},
			"word":     "abc",
			"numeric2": 12,
		},
		"context": map[string]any{"ticket_text": "Network Issue field", "tier": "gold"},
	}
	tests := []struct {
		src  string
		want bool
	}{
		{"output.score >= 0.75", true},
		{"output.score < 0.75", false},
		{"output.count > 9", true},          // numeric-like string
		{"output.count == 12", true},        // numeric-like string equality
		{"output.numeric2 == output.count", true},
		{"output.label == 'billing'", true},
		{"output.label != 'billing'", false},
		{"output.word > 'abb'", false},      // non-numeric ordering
		{"output.word < 1", false},
		{"output.flag == true", true},
		{"output.flag == 'true'", true},
		{"output.flag", true},
		{"output.nothing", false},
		{"output.missing", false},
		{"output.missing > 0", false},
		{"output.missing < 0", false},
		{"output.missing == null", true},
		{"output.missing != 'x'", true},
		{"output.nested.deep.v == 3", true},
		{"output.nested.deep.v.w", false},
		{"output.tags.1 == 'b'", true},
		{"label == 'billing'", true},         // falls back to output fields
		{"tier == 'gold'", true},             // then to context fields
		{"context.tier == 'gold'", true},
		{"NOT output.flag", false},
		{"!output.flag", false},
		{"output.flag && output.score > 0.5", true},
		{"output.nothing || output.label == 'x'", false},
		{"contains(output.tags, 'b')", true},
		{"contains(output.tags, 'c')", false},
		{"contains(context.ticket_text, 'Network')", true},
		{"contains(output.score, 7)", false},
		{"contains(output.tags, 'b') == true", true},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			assert.Equal(t, tt.want, mustEval(t, tt.src, scope))
		})
	}
}

func TestEvaluate_ParseErrorIsNotFalse(t *testing.T) {
	got, err := Evaluate("output.score >", Scope{})
	require.Error(t, err)
	assert.False(t, got)
	var perr *ParseError
	assert.ErrorAs(t, err, &perr)
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("Network Issue field", "Network"))
	assert.True(t, Contains([]any{"a", "b"}, "b"))
	assert.False(t, Contains([]any{"a", "b"}, "c"))
	assert.True(t, Contains([]string{"x"}, "x"))
	assert.True(t, Contains("count 3 items", 3.0))
	assert.False(t, Contains(map[string]any{"a": 1}, "a"))
	assert.False(t, Contains(nil, "a"))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(Undefined))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(false))
	assert.True(t, Truthy("0"))
	assert.True(t, Truthy(-1))
	assert.True(t, Truthy([]any{}))
	assert.True(t, Truthy(map[string]any{}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3", Stringify(3.0))
	assert.Equal(t, "0.5", Stringify(0.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "null", Stringify(nil))
	assert.Equal(t, "undefined", Stringify(Undefined))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestEval_Decision(t *testing.T) {
	scope := Scope{"output": map[string]any{"a": true, "b": false}}
	tests := []struct {
		src  string
		want Side
	}{
		{"output.b AND output.a", SideLeft},
		{"output.a AND output.b", SideRight},
		{"output.a AND output.a", SideBoth},
		{"output.a OR output.b", SideLeft},
		{"output.b OR output.a", SideRight},
		{"output.b OR output.b", SideBoth},
	}
	for _, tt := range tests {
		node, err := Parse(tt.src)
		require.NoError(t, err)
		_, d, err := Eval(node, scope)
		require.NoError(t, err)
		require.NotNil(t, d)
		assert.Equal(t, tt.want, d.DecidedBy, tt.src)
	}

	node, err := Parse("output.a")
	require.NoError(t, err)
	_, d, err := Eval(node, scope)
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestEval_UnhandledNode(t *testing.T) {
	_, _, err := Eval(&Not{Expr: nil}, Scope{})
	assert.Error(t, err)
}

var propertyConditions = []string{
	"output.score > 0.5",
	"output.label == 'billing'",
	"contains(output.tags, 'urgent')",
	"output.flag",
	"output.score <= 0.2 OR output.flag",
	"output.label != 'billing' AND contains(output.tags, 'vip')",
	"always",
	"false",
}

func drawScope(rt *rapid.T) Scope {
	tags := rapid.SliceOfN(rapid.SampledFrom([]string{"urgent", "vip", "spam"}), 0, 3).Draw(rt, "tags")
	anyTags := make([]any, len(tags))
	for i, tag := range tags {
		anyTags[i] = tag
	}
	return Scope{"output": map[string]any{
		"score": rapid.Float64Range(0, 1).Draw(rt, "score"),
		"label": rapid.SampledFrom([]string{"billing", "technical", ""}).Draw(rt, "label"),
		"flag":  rapid.Bool().Draw(rt, "flag"),
		"tags":  anyTags,
	}}
}

func TestProperty_NotNegates(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cond := rapid.SampledFrom(propertyConditions).Draw(rt, "cond")
		scope := drawScope(rt)

		plain, err := Evaluate(cond, scope)
		require.NoError(rt, err)
		negated, err := Evaluate("NOT ("+cond+")", scope)
		require.NoError(rt, err)
		assert.Equal(rt, !plain, negated)
	})
}

func TestProperty_AndOrTruthTables(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		left := rapid.SampledFrom(propertyConditions).Draw(rt, "left")
		right := rapid.SampledFrom(propertyConditions).Draw(rt, "right")
		scope := drawScope(rt)

		l, err := Evaluate(left, scope)
		require.NoError(rt, err)
		r, err := Evaluate(right, scope)
		require.NoError(rt, err)

		and, err := Evaluate("("+left+") AND ("+right+")", scope)
		require.NoError(rt, err)
		or, err := Evaluate("("+left+") OR ("+right+")", scope)
		require.NoError(rt, err)

		assert.Equal(rt, l && r, and)
		assert.Equal(rt, l || r, or)
	})
}
