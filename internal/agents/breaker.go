package agents

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // calls pass
	CircuitOpen                         // calls rejected
	CircuitHalfOpen                     // probing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-agent circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe is allowed.
	Cooldown time.Duration
	// HalfOpenMax is the number of probe calls allowed while half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
	halfOpenAttempts    int
}

// Breakers tracks one circuit per agent id.
type Breakers struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
	now      func() time.Time
}

// NewBreakers creates a breaker set. Zero config fields take the defaults.
func NewBreakers(config BreakerConfig) *Breakers {
	def := DefaultBreakerConfig()
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = def.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = def.Cooldown
	}
	if config.HalfOpenMax <= 0 {
		config.HalfOpenMax = def.HalfOpenMax
	}
	return &Breakers{
		breakers: make(map[string]*breaker),
		config:   config,
		now:      time.Now,
	}
}

// Allow checks whether a call to the agent may proceed. A rejected call
// returns a *CallError with status 503, which the retry classifier treats
// as a transient network failure.
func (b *Breakers) Allow(agentID string) error {
	cb := b.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitOpen:
		elapsed := b.now().Sub(cb.lastFailure)
		if elapsed >= b.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1
			return nil
		}
		return &CallError{
			Status:  503,
			Code:    CodeCircuitOpen,
			Message: fmt.Sprintf("circuit open for agent %q after %d consecutive failures, retry in %ds", agentID, cb.consecutiveFailures, int((b.config.Cooldown-elapsed).Seconds())),
		}
	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= b.config.HalfOpenMax {
			return &CallError{
				Status:  503,
				Code:    CodeCircuitOpen,
				Message: fmt.Sprintf("circuit half-open for agent %q: probe in flight", agentID),
			}
		}
		cb.halfOpenAttempts++
	}
	return nil
}

// RecordSuccess closes the agent's circuit.
func (b *Breakers) RecordSuccess(agentID string) {
	cb := b.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure counts a failure and returns the resulting state. Any
// failure while half-open reopens the circuit.
func (b *Breakers) RecordFailure(agentID string) CircuitState {
	cb := b.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailure = b.now()

	if cb.state == CircuitHalfOpen || cb.consecutiveFailures >= b.config.FailureThreshold {
		cb.state = CircuitOpen
	}
	return cb.state
}

// State returns the agent's circuit state, moving an expired open circuit
// to half-open.
func (b *Breakers) State(agentID string) CircuitState {
	cb := b.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && b.now().Sub(cb.lastFailure) >= b.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}
	return cb.state
}

// Stats returns diagnostic information about an agent's circuit.
func (b *Breakers) Stats(agentID string) map[string]any {
	cb := b.get(agentID)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"agent_id":             agentID,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    b.config.FailureThreshold,
		"cooldown":             b.config.Cooldown.String(),
	}
}

func (b *Breakers) get(agentID string) *breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[agentID]
	if !ok {
		cb = &breaker{state: CircuitClosed}
		b.breakers[agentID] = cb
	}
	return cb
}
