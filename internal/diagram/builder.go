package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

const maxConditionLabel = 48

// Build constructs a DiagramModel from a WorkflowDefinition and an optional
// run trace. With a trace, every rule edge carries its coverage and agent
// nodes carry the status of their steps.
func Build(def *schema.WorkflowDefinition, trace *schema.RunResult) (*DiagramModel, error) {
	if def == nil {
		return nil, fmt.Errorf("diagram: workflow definition is nil")
	}
	if def.AgentByID(def.EntryAgentID) == nil {
		return nil, fmt.Errorf("diagram: entry agent %q is not defined", def.EntryAgentID)
	}

	hasRules := make(map[string]bool, len(def.Agents))
	for _, r := range def.Rules {
		hasRules[r.From] = true
	}

	nodes := make([]*Node, 0, len(def.Agents)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	for i := range def.Agents {
		a := &def.Agents[i]
		kind := NodeKindAgent
		switch {
		case a.ID == def.EntryAgentID:
			kind = NodeKindEntry
		case !hasRules[a.ID]:
			kind = NodeKindTerminal
		}
		nodes = append(nodes, &Node{ID: a.ID, Label: nodeLabel(a), Kind: kind})
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})

	var cov map[string]*RuleCoverage
	if trace != nil {
		cov = ruleCounts(def, trace)
		overlayStatus(nodes, trace)
	}

	edges := make([]Edge, 0, len(def.Rules)+2)
	entry := Edge{From: startID, To: def.EntryAgentID}
	if trace != nil {
		entry.Coverage = CoverageNever
		if len(trace.Steps) > 0 {
			entry.Coverage = CoverageTaken
		}
	}
	edges = append(edges, entry)

	for _, r := range def.Rules {
		e := Edge{From: r.From, To: r.To, RuleID: r.ID, Label: conditionLabel(r.Condition)}
		if cov != nil {
			e.Coverage = cov[r.ID].coverage()
		}
		edges = append(edges, e)
	}

	for i := range def.Agents {
		if id := def.Agents[i].ID; !hasRules[id] {
			e := Edge{From: id, To: endID}
			if trace != nil {
				e.Coverage = CoverageNever
				if last := trace.LastStep(); last != nil && last.AgentID == id {
					e.Coverage = CoverageTaken
				}
			}
			edges = append(edges, e)
		}
	}

	// A run that halted on an agent with rules still ends there.
	if trace != nil {
		if last := trace.LastStep(); last != nil && hasRules[last.AgentID] && last.NextAgentID == nil {
			edges = append(edges, Edge{
				From: last.AgentID, To: endID,
				Label: string(trace.HaltReason), Coverage: CoverageTaken,
			})
		}
	}

	return &DiagramModel{
		Title: titleFromDef(def),
		Nodes: nodes,
		Edges: edges,
	}, nil
}

func nodeLabel(a *schema.AgentSpec) string {
	if a.Role != "" {
		return fmt.Sprintf("%s\n(%s)", a.DisplayName(), a.Role)
	}
	return a.DisplayName()
}

// conditionLabel shortens rule text for edge labels. Blank conditions get none.
func conditionLabel(cond string) string {
	cond = strings.Join(strings.Fields(cond), " ")
	if len(cond) > maxConditionLabel {
		return cond[:maxConditionLabel-3] + "..."
	}
	return cond
}

// overlayStatus applies the trace steps to agent nodes. The last step of an
// agent wins for status and error; visits, attempts and durations add up.
func overlayStatus(nodes []*Node, trace *schema.RunResult) {
	index := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n
	}
	for i := range trace.Steps {
		step := &trace.Steps[i]
		n, ok := index[step.AgentID]
		if !ok {
			continue
		}
		if n.Status == nil {
			n.Status = &StatusOverlay{}
		}
		n.Status.Status = string(step.Status)
		n.Status.Visits++
		n.Status.Attempts += len(step.Attempts)
		n.Status.DurationMs += step.DurationMs
		n.Status.Error = ""
		if len(step.Attempts) > 0 {
			if last := step.Attempts[len(step.Attempts)-1]; last.Error != nil {
				n.Status.Error = last.Error.Message
			}
		}
	}
}

// titleFromDef generates a diagram title from the workflow name or metadata.
func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	if def.Metadata != nil {
		if name, ok := def.Metadata["name"].(string); ok && name != "" {
			return name
		}
	}
	return "Workflow"
}
