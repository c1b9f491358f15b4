package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
// Taken rules draw thick, evaluated rules plain and never-evaluated rules
// dotted.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidEdge(edge)))
	}

	b.WriteString("\n")
	b.WriteString("    classDef success fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef unvisited fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	traced := false
	for _, node := range model.Nodes {
		if node.Status != nil {
			traced = true
			break
		}
	}
	for _, node := range model.Nodes {
		if cls := mermaidStatusClass(node, traced); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))
	if node.Status != nil && node.Status.Visits > 1 {
		label = fmt.Sprintf("%s x%d", label, node.Status.Visits)
	}

	switch node.Kind {
	case NodeKindEntry:
		return fmt.Sprintf("%s[[\"%s\"]]", id, label)
	case NodeKindTerminal:
		return fmt.Sprintf("%s([\"%s\"])", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((\"%s\"))", id, label)
	default:
		return fmt.Sprintf("%s[\"%s\"]", id, label)
	}
}

func mermaidEdge(edge Edge) string {
	arrow := "-->"
	switch edge.Coverage {
	case CoverageTaken:
		arrow = "==>"
	case CoverageNever:
		arrow = "-.->"
	}

	label := edge.Label
	if edge.Coverage == CoverageEvaluated || edge.Coverage == CoverageNever {
		if label == "" {
			label = string(edge.Coverage)
		} else {
			label = fmt.Sprintf("%s (%s)", label, edge.Coverage)
		}
	}
	if label == "" {
		return fmt.Sprintf("%s %s %s", mermaidSafeID(edge.From), arrow, mermaidSafeID(edge.To))
	}
	return fmt.Sprintf("%s %s|\"%s\"| %s",
		mermaidSafeID(edge.From), arrow, mermaidEscapeLabel(label), mermaidSafeID(edge.To))
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel escapes characters Mermaid treats as syntax inside
// quoted labels.
func mermaidEscapeLabel(s string) string {
	r := strings.NewReplacer(`"`, "#quot;", "|", "#124;", "<", "#lt;", ">", "#gt;")
	return r.Replace(s)
}

// mermaidStatusClass maps a node overlay to a Mermaid class name. Agents
// without steps in a traced diagram are marked unvisited.
func mermaidStatusClass(node *Node, traced bool) string {
	if node.Kind == NodeKindStart || node.Kind == NodeKindEnd {
		return ""
	}
	if node.Status == nil {
		if traced {
			return "unvisited"
		}
		return ""
	}
	switch node.Status.Status {
	case "success":
		return "success"
	case "error":
		return "error"
	default:
		return ""
	}
}
