package expressions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_BlankIsTrue(t *testing.T) {
	for _, src := range []string{"", "   ", "\n\t"} {
		node, err := Parse(src)
		require.NoError(t, err)
		assert.Equal(t, &Literal{Value: true}, node)
	}
}

func TestParse_Shapes(t *testing.T) {
	tests := []struct {
		src  string
		want Node
	}{
		{"always", &Literal{Value: true}},
		{"FALSE", &Literal{Value: false}},
		{"output.ok", &Path{Segments: []string{"output", "ok"}}},
		{"score > 3", &Comparison{Op: OpGt, Left: &Path{Segments: []string{"score"}}, Right: &Literal{Value: 3.0}}},
		{"a AND b OR c", &Logical{
			Op:    OpOr,
			Left:  &Logical{Op: OpAnd, Left: &Path{Segments: []string{"a"}}, Right: &Path{Segments: []string{"b"}}},
			Right: &Path{Segments: []string{"c"}},
		}},
		{"a AND (b OR c)", &Logical{
			Op:    OpAnd,
			Left:  &Path{Segments: []string{"a"}},
			Right: &Logical{Op: OpOr, Left: &Path{Segments: []string{"b"}}, Right: &Path{Segments: []string{"c"}}},
		}},
		{"NOT NOT x", &Not{Expr: &Not{Expr: &Path{Segments: []string{"x"}}}}},
		{"NOT a == 1", &Not{Expr: &Comparison{Op: OpEq, Left: &Path{Segments: []string{"a"}}, Right: &Literal{Value: 1.0}}}},
		{`contains(tags, "x")`, &Call{Fn: "contains", Args: []Node{&Path{Segments: []string{"tags"}}, &Literal{Value: "x"}}}},
		{`contains(["a", 1, true], "a")`, &Call{Fn: "contains", Args: []Node{&Literal{Value: []any{"a", 1.0, true}}, &Literal{Value: "a"}}}},
		{"x == null", &Comparison{Op: OpEq, Left: &Path{Segments: []string{"x"}}, Right: &Literal{Value: nil}}},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			node, err := Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, node)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"a ==",
		"(a == 1",
		"a == 1)",
		"AND a",
		"a b",
		"unknown(1, 2)",
		"contains(a)",
		"contains(a, b, c)",
		"[a]",
		"[1, 2",
		"score >> 3",
	}
	for _, src := range tests {
		t.Run(src, func(t *testing.T) {
			_, err := Parse(src)
			require.Error(t, err)
			var perr *ParseError
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestParse_String(t *testing.T) {
	node, err := Parse(`NOT (a > 1 and contains(t, 'x'))`)
	require.NoError(t, err)
	assert.Equal(t, `NOT (a > 1 AND contains(t, "x"))`, node.String())
}
