package expressions

import (
	"fmt"
	"strconv"
	"strings"
)

// Node is a condition AST node. The set of node kinds is closed: only the
// types declared in this file implement it.
type Node interface {
	conditionNode()
	String() string
}

// CompareOp is a comparison operator.
type CompareOp string

const (
	OpEq  CompareOp = "=="
	OpNeq CompareOp = "!="
	OpGt  CompareOp = ">"
	OpLt  CompareOp = "<"
	OpGte CompareOp = ">="
	OpLte CompareOp = "<="
)

// LogicalOp is a binary boolean connective.
type LogicalOp string

const (
	OpAnd LogicalOp = "AND"
	OpOr  LogicalOp = "OR"
)

// Literal is a constant: bool, float64, string, nil or []any.
type Literal struct {
	Value any
}

// Path is a dotted variable reference such as output.score.
type Path struct {
	Segments []string
}

// Comparison compares two operands.
type Comparison struct {
	Op    CompareOp
	Left  Node
	Right Node
}

// Logical joins two sub-expressions with AND or OR.
type Logical struct {
	Op    LogicalOp
	Left  Node
	Right Node
}

// Not negates a sub-expression.
type Not struct {
	Expr Node
}

// Call is a builtin function call. Only contains is defined.
type Call struct {
	Fn   string
	Args []Node
}

func (*Literal) conditionNode()    {}
func (*Path) conditionNode()       {}
func (*Comparison) conditionNode() {}
func (*Logical) conditionNode()    {}
func (*Not) conditionNode()        {}
func (*Call) conditionNode()       {}

func (n *Literal) String() string {
	switch v := n.Value.(type) {
	case string:
		return strconv.Quote(v)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = (&Literal{Value: item}).String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case nil:
		return "null"
	default:
		return Stringify(v)
	}
}

func (n *Path) String() string { return strings.Join(n.Segments, ".") }

func (n *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", n.Left, n.Op, n.Right)
}

func (n *Logical) String() string {
	return fmt.Sprintf("(%s %s %s)", n.Left, n.Op, n.Right)
}

func (n *Not) String() string { return fmt.Sprintf("NOT %s", n.Expr) }

func (n *Call) String() string {
	args := make([]string, len(n.Args))
	for i, a := range n.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(%s)", n.Fn, strings.Join(args, ", "))
}
