package diagram

import "strings"

// NodeKind classifies a diagram node by its role in the agent graph.
type NodeKind string

const (
	NodeKindEntry    NodeKind = "entry"    // the run's first agent
	NodeKindAgent    NodeKind = "agent"    // agent with outgoing rules
	NodeKindTerminal NodeKind = "terminal" // agent without outgoing rules
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// EdgeCoverage tells how a rule behaved in the overlaid trace.
type EdgeCoverage string

const (
	CoverageNone      EdgeCoverage = ""          // no trace overlaid
	CoverageTaken     EdgeCoverage = "taken"     // rule was selected at least once
	CoverageEvaluated EdgeCoverage = "evaluated" // rule was evaluated but never selected
	CoverageNever     EdgeCoverage = "never"     // rule was never evaluated
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents a single agent in the diagram.
type Node struct {
	ID     string
	Label  string
	Kind   NodeKind
	Status *StatusOverlay
}

// StatusOverlay carries runtime state for an agent node.
type StatusOverlay struct {
	Status     string // status of the agent's last step
	Visits     int
	Attempts   int
	DurationMs int64
	Error      string
}

// Edge is a transition rule, or a virtual start/end connection.
type Edge struct {
	From     string
	To       string
	Label    string
	RuleID   string
	Coverage EdgeCoverage
}

func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
