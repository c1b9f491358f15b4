package agents

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/engine"
)

// fakeClock lets tests move time without sleeping.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreakers(cfg BreakerConfig) (*Breakers, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreakers(cfg)
	b.now = clock.now
	return b, clock
}

func TestBreakers_StartsClosed(t *testing.T) {
	b := NewBreakers(DefaultBreakerConfig())
	assert.NoError(t, b.Allow("triage"))
	assert.Equal(t, CircuitClosed, b.State("triage"))
}

func TestBreakers_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreakers(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	b.RecordFailure("triage")
	b.RecordFailure("triage")
	assert.Equal(t, CircuitClosed, b.State("triage"))

	assert.Equal(t, CircuitOpen, b.RecordFailure("triage"))

	err := b.Allow("triage")
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, CodeCircuitOpen, ce.Code)
	assert.Equal(t, 503, ce.Status)

	cls := engine.ClassifyError(err)
	assert.Equal(t, engine.ClassTransient, cls.Class)
	assert.Equal(t, engine.CodeNetwork, cls.Code)
}

func TestBreakers_SuccessResetsFailures(t *testing.T) {
	b, _ := newTestBreakers(BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second})

	b.RecordFailure("a")
	b.RecordFailure("a")
	b.RecordSuccess("a")
	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.Equal(t, CircuitClosed, b.State("a"))

	b.RecordFailure("a")
	assert.Equal(t, CircuitOpen, b.State("a"))
}

func TestBreakers_HalfOpenLifecycle(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMax: 1})

	b.RecordFailure("a")
	b.RecordFailure("a")
	assert.Error(t, b.Allow("a"))

	clock.advance(time.Minute)
	assert.NoError(t, b.Allow("a"), "first probe allowed")
	assert.Equal(t, CircuitHalfOpen, b.State("a"))
	assert.Error(t, b.Allow("a"), "second probe rejected")

	b.RecordSuccess("a")
	assert.Equal(t, CircuitClosed, b.State("a"))
	assert.NoError(t, b.Allow("a"))
}

func TestBreakers_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	b.RecordFailure("a")
	b.RecordFailure("a")
	clock.advance(2 * time.Minute)
	require.NoError(t, b.Allow("a"))

	assert.Equal(t, CircuitOpen, b.RecordFailure("a"))
	assert.Error(t, b.Allow("a"))
}

func TestBreakers_PerAgentIsolation(t *testing.T) {
	b, _ := newTestBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})
	b.RecordFailure("a")
	assert.Equal(t, CircuitOpen, b.State("a"))
	assert.Equal(t, CircuitClosed, b.State("b"))
	assert.NoError(t, b.Allow("b"))
}

func TestBreakers_Stats(t *testing.T) {
	b := NewBreakers(BreakerConfig{})
	b.RecordFailure("a")
	b.RecordFailure("a")

	stats := b.Stats("a")
	assert.Equal(t, "a", stats["agent_id"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 2, stats["consecutive_failures"])
	assert.Equal(t, 5, stats["failure_threshold"])
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half_open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(99).String())
}
