package expressions

import (
	"sync"
)

// Mode selects the condition evaluator used for a run.
type Mode string

const (
	// ModeStrict uses the full grammar and surfaces parse errors.
	ModeStrict Mode = "strict"
	// ModeLegacy uses the single-pattern matcher; unknown syntax is false.
	ModeLegacy Mode = "legacy"
)

// Outcome is the result of evaluating one transition rule.
type Outcome struct {
	Result    bool
	DecidedBy Side
}

// Evaluator evaluates transition rule conditions. Parsed ASTs are cached per
// rule, since rule text is static for a run. Safe for concurrent use.
type Evaluator struct {
	mode  Mode
	mu    sync.RWMutex
	cache map[string]Node
}

// NewEvaluator creates an Evaluator. An empty mode means strict.
func NewEvaluator(mode Mode) *Evaluator {
	if mode == "" {
		mode = ModeStrict
	}
	return &Evaluator{mode: mode, cache: make(map[string]Node)}
}

// Mode returns the evaluator mode.
func (e *Evaluator) Mode() Mode { return e.mode }

// EvaluateRule evaluates a rule condition. In strict mode malformed text
// returns a *ParseError; in legacy mode it evaluates to false.
func (e *Evaluator) EvaluateRule(ruleID, src string, scope Scope) (Outcome, error) {
	if e.mode == ModeLegacy {
		return Outcome{Result: EvaluateLegacy(src, scope)}, nil
	}

	node, err := e.getOrParse(ruleID, src)
	if err != nil {
		return Outcome{}, err
	}
	result, decision, err := Eval(node, scope)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Result: result}
	if decision != nil {
		out.DecidedBy = decision.DecidedBy
	}
	return out, nil
}

// getOrParse returns a cached AST or parses and caches a new one.
func (e *Evaluator) getOrParse(ruleID, src string) (Node, error) {
	key := ruleID + "\x00" + src

	e.mu.RLock()
	if node, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return node, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if node, ok := e.cache[key]; ok {
		return node, nil
	}

	node, err := Parse(src)
	if err != nil {
		return nil, err
	}
	e.cache[key] = node
	return node, nil
}
