package diagram

import (
	"sort"

	"github.com/rendis/waypoint/pkg/schema"
)

// RuleCoverage counts how often a rule was evaluated, held and was selected
// across a set of traces.
type RuleCoverage struct {
	RuleID    string `json:"rule_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition,omitempty"`
	Evaluated int    `json:"evaluated"`
	True      int    `json:"true"`
	Taken     int    `json:"taken"`
}

func (c *RuleCoverage) coverage() EdgeCoverage {
	switch {
	case c == nil || c.Evaluated == 0:
		return CoverageNever
	case c.Taken > 0:
		return CoverageTaken
	default:
		return CoverageEvaluated
	}
}

// AgentCoverage counts the steps executed by an agent across a set of traces.
type AgentCoverage struct {
	AgentID string `json:"agent_id"`
	Visits  int    `json:"visits"`
	Errors  int    `json:"errors"`
}

// CoverageReport summarizes rule and agent coverage over a set of traces.
type CoverageReport struct {
	Runs           int             `json:"runs"`
	Rules          []RuleCoverage  `json:"rules"`
	Agents         []AgentCoverage `json:"agents"`
	RulesTaken     int             `json:"rules_taken"`
	RulesEvaluated int             `json:"rules_evaluated"`
	RuleRatio      float64         `json:"rule_ratio"` // taken rules over all rules
	NeverTaken     []string        `json:"never_taken,omitempty"`
	Unvisited      []string        `json:"unvisited,omitempty"`
}

// Coverage computes rule coverage from traces only. Rules and agents keep
// definition order; evaluations of ids unknown to the definition are ignored.
func Coverage(def *schema.WorkflowDefinition, traces ...*schema.RunResult) *CoverageReport {
	report := &CoverageReport{}
	if def == nil {
		return report
	}

	counts := make(map[string]*RuleCoverage, len(def.Rules))
	visits := make(map[string]*AgentCoverage, len(def.Agents))
	for _, t := range traces {
		if t == nil {
			continue
		}
		report.Runs++
		mergeCounts(counts, def, t)
		for i := range t.Steps {
			step := &t.Steps[i]
			ac, ok := visits[step.AgentID]
			if !ok {
				ac = &AgentCoverage{AgentID: step.AgentID}
				visits[step.AgentID] = ac
			}
			ac.Visits++
			if step.Status == schema.StepStatusError {
				ac.Errors++
			}
		}
	}

	for _, r := range def.Rules {
		rc := RuleCoverage{RuleID: r.ID, From: r.From, To: r.To, Condition: r.Condition}
		if c, ok := counts[r.ID]; ok {
			rc.Evaluated, rc.True, rc.Taken = c.Evaluated, c.True, c.Taken
		}
		if rc.Evaluated > 0 {
			report.RulesEvaluated++
		}
		if rc.Taken > 0 {
			report.RulesTaken++
		} else {
			report.NeverTaken = append(report.NeverTaken, r.ID)
		}
		report.Rules = append(report.Rules, rc)
	}
	if len(def.Rules) > 0 {
		report.RuleRatio = float64(report.RulesTaken) / float64(len(def.Rules))
	}

	for _, a := range def.Agents {
		ac := AgentCoverage{AgentID: a.ID}
		if v, ok := visits[a.ID]; ok {
			ac = *v
		} else {
			report.Unvisited = append(report.Unvisited, a.ID)
		}
		report.Agents = append(report.Agents, ac)
	}
	sort.Strings(report.Unvisited)

	return report
}

// ruleCounts returns the rule counts of a single trace.
func ruleCounts(def *schema.WorkflowDefinition, trace *schema.RunResult) map[string]*RuleCoverage {
	counts := make(map[string]*RuleCoverage, len(def.Rules))
	mergeCounts(counts, def, trace)
	return counts
}

func mergeCounts(counts map[string]*RuleCoverage, def *schema.WorkflowDefinition, trace *schema.RunResult) {
	known := make(map[string]bool, len(def.Rules))
	for _, r := range def.Rules {
		known[r.ID] = true
	}
	for i := range trace.Steps {
		for _, ev := range trace.Steps[i].RuleEvaluations {
			if !known[ev.RuleID] {
				continue
			}
			c, ok := counts[ev.RuleID]
			if !ok {
				c = &RuleCoverage{RuleID: ev.RuleID, From: ev.From, To: ev.To}
				counts[ev.RuleID] = c
			}
			c.Evaluated++
			if ev.Result {
				c.True++
			}
			if ev.Selected {
				c.Taken++
			}
		}
	}
}
