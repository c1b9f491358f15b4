// Package simulate provides a deterministic stand-in for live agent calls.
// Outputs depend only on the seed, the agent id and the context snapshot.
package simulate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Categories is the closed set a simulated classifier assigns.
var Categories = []string{"billing", "technical", "account", "general"}

var (
	classifierHints = []string{"classif", "triage", "router", "categor", "intent"}

	categoryHeuristics = []struct {
		category string
		markers  []string
	}{
		{"billing", []string{"refund", "invoice", "charge", "billing", "payment", "price", "subscription"}},
		{"technical", []string{"error", "crash", "bug", "wifi", "network", "outage", "slow", "not working"}},
		{"account", []string{"password", "login", "account", "profile", "username", "2fa"}},
	}

	genericStatuses = []string{"ok", "needs_review", "escalate"}
)

// StableInt hashes seed, agent id and the JSON form of snapshot with
// SHA-256 and parses the first 8 hex characters. Map keys are serialized in
// sorted order, so equal snapshots give equal integers.
func StableInt(seed int64, agentID string, snapshot map[string]any) uint64 {
	return stableFromDigest(digest(seed, agentID, snapshot))
}

// StablePick maps a stable integer onto one of n options.
func StablePick(key uint64, n int) int {
	if n <= 0 {
		return 0
	}
	return int(key % uint64(n))
}

func digest(seed int64, agentID string, snapshot map[string]any) string {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		// Unserializable values fall back to their printed form.
		payload = []byte(fmt.Sprint(snapshot))
	}
	h := sha256.New()
	h.Write([]byte(strconv.FormatInt(seed, 10)))
	h.Write([]byte(agentID))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

func stableFromDigest(d string) uint64 {
	n, _ := strconv.ParseUint(d[:8], 16, 64)
	return n
}

// Config tunes the simulator.
type Config struct {
	// FailureRate is the percentage (0-100) of first attempts that fail with
	// a simulated transient error, so retry paths show up in sim traces.
	FailureRate int
}

// Simulator implements engine.AgentInvoker without any network access.
// It holds no mutable state and is safe for concurrent use.
type Simulator struct {
	cfg Config
}

// New creates a Simulator.
func New(cfg Config) *Simulator {
	cfg.FailureRate = max(0, min(cfg.FailureRate, 100))
	return &Simulator{cfg: cfg}
}

// Error is the simulated transient failure.
type Error struct {
	AgentID string
}

func (e *Error) Error() string {
	return fmt.Sprintf("simulated outage for agent %s: service unavailable", e.AgentID)
}

// ErrorCode returns the simulated provider code.
func (e *Error) ErrorCode() string { return "SIMULATED_UNAVAILABLE" }

// HTTPStatus returns 503.
func (e *Error) HTTPStatus() int { return 503 }

// Invoke produces the simulated response for one call.
func (s *Simulator) Invoke(ctx context.Context, call engine.AgentCall) (*engine.AgentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var seed int64
	if call.Seed != nil {
		seed = *call.Seed
	}
	d := digest(seed, call.AgentID, call.Context)
	key := stableFromDigest(d)

	if call.Attempt <= 1 && s.cfg.FailureRate > 0 && StablePick(key>>8, 100) < s.cfg.FailureRate {
		return nil, &Error{AgentID: call.AgentID}
	}

	signature := "sim-" + call.AgentID + "-" + d[:12]
	if call.OutputFormat == schema.OutputFormatText {
		return &engine.AgentResponse{Raw: signature, Output: signature}, nil
	}

	var out map[string]any
	if isClassifier(call) {
		out = classify(call.Context, key, signature)
	} else {
		out = map[string]any{
			"simulated": true,
			"agent_id":  call.AgentID,
			"status":    genericStatuses[StablePick(key, len(genericStatuses))],
			"score":     float64(StablePick(key>>4, 101)) / 100,
			"signature": signature,
		}
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "simulate %s: marshal output", call.AgentID).WithCause(err)
	}
	return &engine.AgentResponse{Raw: string(raw), Output: out}, nil
}

func isClassifier(call engine.AgentCall) bool {
	text := strings.ToLower(call.AgentID + " " + call.AgentName + " " + call.AgentRole)
	for _, h := range classifierHints {
		if strings.Contains(text, h) {
			return true
		}
	}
	return false
}

// classify assigns a category from ticket_text, or a stable pick when the
// text is missing.
func classify(snapshot map[string]any, key uint64, signature string) map[string]any {
	text, _ := snapshot["ticket_text"].(string)
	category, matched := Categorize(text)
	if !matched {
		category = Categories[StablePick(key, len(Categories))]
	}
	return map[string]any{
		"category":   category,
		"confidence": 0.5 + float64(StablePick(key>>4, 50))/100,
		"matched":    matched,
		"signature":  signature,
	}
}

// Categorize applies the fixed substring heuristics to ticket text. The
// first category with a matching marker wins.
func Categorize(text string) (string, bool) {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return "", false
	}
	for _, h := range categoryHeuristics {
		for _, m := range h.markers {
			if strings.Contains(lower, m) {
				return h.category, true
			}
		}
	}
	return "general", true
}
