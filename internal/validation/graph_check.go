package validation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

// validateGraph analyzes the agent graph: reachability from the entry agent
// (BFS), cycles among reachable agents (Kahn's algorithm) and rules that can
// never fire because an earlier rule from the same agent always matches.
// Cycles are legal, since runs are bounded by MaxSteps, so every finding is
// a warning.
func validateGraph(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	edges := make(map[string][]string, len(def.Agents))
	for _, r := range def.Rules {
		edges[r.From] = append(edges[r.From], r.To)
	}

	// Reachability from the entry agent.
	reachable := map[string]bool{def.EntryAgentID: true}
	queue := []string{def.EntryAgentID}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range edges[node] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}

	for i, a := range def.Agents {
		if !reachable[a.ID] {
			result.AddWarning(fmt.Sprintf("agents[%d]", i), WarnUnreachable,
				fmt.Sprintf("agent %q is unreachable from entry agent %q", a.ID, def.EntryAgentID))
		}
	}

	if cyclic := cyclicAgents(edges, reachable); len(cyclic) > 0 {
		result.AddWarning("rules", WarnCycle,
			fmt.Sprintf("agents %s form a cycle; runs through it stop at the step limit", strings.Join(cyclic, ", ")))
	}

	shadowedBy := make(map[string]string)
	for i, r := range def.Rules {
		if prev, ok := shadowedBy[r.From]; ok {
			result.AddWarning(fmt.Sprintf("rules[%d]", i), WarnShadowedRule,
				fmt.Sprintf("rule %q never fires: rule %q from agent %q always matches first", r.ID, prev, r.From))
			continue
		}
		if unconditional(r.Condition) {
			shadowedBy[r.From] = r.ID
		}
	}

	return result
}

// cyclicAgents runs Kahn's algorithm over the reachable subgraph, then peels
// the leftover nodes that have no outgoing edges inside it, so agents merely
// downstream of a cycle are not reported. The result is sorted.
func cyclicAgents(edges map[string][]string, nodes map[string]bool) []string {
	inDegree := make(map[string]int, len(nodes))
	for id := range nodes {
		inDegree[id] += 0
		for _, next := range edges[id] {
			if nodes[next] {
				inDegree[next]++
			}
		}
	}

	queue := make([]string, 0, len(nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		delete(inDegree, node)
		for _, next := range edges[node] {
			if _, ok := inDegree[next]; !ok {
				continue
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	// Reverse pass over the remainder.
	outDegree := make(map[string]int, len(inDegree))
	reverse := make(map[string][]string, len(inDegree))
	for id := range inDegree {
		outDegree[id] += 0
		for _, next := range edges[id] {
			if _, ok := inDegree[next]; ok {
				outDegree[id]++
				reverse[next] = append(reverse[next], id)
			}
		}
	}
	for id, deg := range outDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		delete(outDegree, node)
		for _, prev := range reverse[node] {
			if _, ok := outDegree[prev]; !ok {
				continue
			}
			outDegree[prev]--
			if outDegree[prev] == 0 {
				queue = append(queue, prev)
			}
		}
	}

	cyclic := make([]string, 0, len(outDegree))
	for id := range outDegree {
		cyclic = append(cyclic, id)
	}
	sort.Strings(cyclic)
	return cyclic
}

func unconditional(cond string) bool {
	switch strings.ToLower(strings.TrimSpace(cond)) {
	case "", "always", "true":
		return true
	}
	return false
}
