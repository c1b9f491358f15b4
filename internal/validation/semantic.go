package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

// retryNames lists the classes and sub-codes a retry_on entry may name.
var retryNames = map[string]bool{
	string(engine.ClassHard):      true,
	string(engine.ClassTransient): true,
	string(engine.ClassUnknown):   true,
	engine.CodeTimeout:            true,
	engine.CodeRateLimit:          true,
	engine.CodeNetwork:            true,
}

// validateSemantic checks references between agents, rules, prompts and
// tools, and the condition text of every rule.
func validateSemantic(def *schema.WorkflowDefinition, opts Options) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	agentIDs := make(map[string]bool, len(def.Agents))
	for i, a := range def.Agents {
		if agentIDs[a.ID] {
			result.AddError(fmt.Sprintf("agents[%d].id", i), schema.ErrCodeConflict,
				fmt.Sprintf("duplicate agent id %q", a.ID))
		}
		agentIDs[a.ID] = true
	}

	if !agentIDs[def.EntryAgentID] {
		result.AddError("entry_agent_id", schema.ErrCodeAgentNotFound,
			fmt.Sprintf("entry agent %q is not defined", def.EntryAgentID))
	}

	for i := range def.Agents {
		validateAgent(def, &def.Agents[i], fmt.Sprintf("agents[%d]", i), opts, result)
	}

	ruleIDs := make(map[string]bool, len(def.Rules))
	for i, r := range def.Rules {
		path := fmt.Sprintf("rules[%d]", i)
		if ruleIDs[r.ID] {
			result.AddError(path+".id", schema.ErrCodeConflict,
				fmt.Sprintf("duplicate rule id %q", r.ID))
		}
		ruleIDs[r.ID] = true

		if !agentIDs[r.From] {
			result.AddError(path+".from", schema.ErrCodeAgentNotFound,
				fmt.Sprintf("rule %q leaves undefined agent %q", r.ID, r.From))
		}
		if !agentIDs[r.To] {
			result.AddError(path+".to", schema.ErrCodeAgentNotFound,
				fmt.Sprintf("rule %q targets undefined agent %q", r.ID, r.To))
		}
		validateCondition(r, path+".condition", opts.ConditionMode, result)
	}

	jq := expressions.NewJQ()
	for name, tool := range def.ToolRegistry {
		path := "tool_registry." + name
		if tool.Timeout != "" {
			if _, err := time.ParseDuration(tool.Timeout); err != nil {
				result.AddError(path+".timeout", schema.ErrCodeValidation,
					fmt.Sprintf("invalid timeout %q: %v", tool.Timeout, err))
			}
		}
		if tool.ResultMap != "" {
			if err := jq.Check(tool.ResultMap); err != nil {
				result.AddError(path+".result_map", schema.ErrCodeValidation,
					fmt.Sprintf("invalid result_map: %v", err))
			}
		}
	}

	return result
}

func validateAgent(def *schema.WorkflowDefinition, agent *schema.AgentSpec, path string, opts Options, result *schema.ValidationResult) {
	if agent.Prompt == "" && agent.PromptRef != "" {
		if _, ok := def.Prompts[agent.PromptRef]; !ok {
			result.AddWarning(path+".prompt_ref", WarnPromptRef,
				fmt.Sprintf("prompt %q not found in prompts; the reference text is sent as the prompt", agent.PromptRef))
		}
	}
	if err := expressions.CheckTemplate(def.PromptFor(agent)); err != nil {
		result.AddError(path+".prompt", schema.ErrCodeInterpolation, err.Error())
	}

	verified := len(def.ToolRegistry) > 0 || opts.Tools != nil
	for j, name := range agent.ToolWhitelist {
		tpath := fmt.Sprintf("%s.tool_whitelist[%d]", path, j)
		if _, ok := def.ToolRegistry[name]; ok {
			continue
		}
		if opts.Tools != nil && opts.Tools.Has(name) {
			continue
		}
		if verified {
			result.AddError(tpath, schema.ErrCodeNotFound, fmt.Sprintf("tool %q is not registered", name))
		} else {
			result.AddWarning(tpath, WarnToolUnverified,
				fmt.Sprintf("tool %q cannot be verified without a tool registry", name))
		}
	}

	if agent.Retry != nil {
		for j, name := range agent.Retry.RetryOn {
			if !retryNames[strings.ToLower(strings.TrimSpace(name))] {
				result.AddWarning(fmt.Sprintf("%s.retry.retry_on[%d]", path, j), WarnUnknownRetryOn,
					fmt.Sprintf("%q is not an error class or code and never matches", name))
			}
		}
	}
}

// validateCondition reports parse failures and behavior that differs
// between the strict grammar and the legacy matcher.
func validateCondition(rule schema.TransitionRule, path string, mode expressions.Mode, result *schema.ValidationResult) {
	if strings.TrimSpace(rule.Condition) == "" {
		return
	}
	v := expressions.LegacyCompat(rule.Condition)

	if mode == expressions.ModeLegacy {
		switch {
		case v.SilentlyFalse():
			result.AddWarning(path, WarnLegacyCondition,
				fmt.Sprintf("rule %q condition is not understood and always evaluates to false", rule.ID))
		case v.LegacyDiverges:
			result.AddWarning(path, WarnLegacyCondition,
				fmt.Sprintf("rule %q uses logical operators; legacy evaluation differs from strict", rule.ID))
		case v.StrictErr != nil:
			result.AddWarning(path, WarnLegacyCondition,
				fmt.Sprintf("rule %q condition fails strict parsing: %v", rule.ID, v.StrictErr))
		}
		return
	}

	if v.StrictErr != nil {
		msg := fmt.Sprintf("rule %q condition: %v", rule.ID, v.StrictErr)
		if v.SilentlyFalse() {
			msg += " (legacy mode evaluated this to false)"
		}
		result.AddError(path, schema.ErrCodeParse, msg)
	}
}
