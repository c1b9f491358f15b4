package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/waypoint/pkg/schema"
)

// fakeAgentError is a minimal AgentError for classification tests.
type fakeAgentError struct {
	msg     string
	code    string
	status  int
	payload any
}

func (e *fakeAgentError) Error() string     { return e.msg }
func (e *fakeAgentError) ErrorCode() string { return e.code }
func (e *fakeAgentError) HTTPStatus() int   { return e.status }
func (e *fakeAgentError) ErrorPayload() any { return e.payload }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class ErrorClass
		code  string
	}{
		{"bad request", &fakeAgentError{msg: "invalid argument", status: 400}, ClassHard, ""},
		{"unauthorized", &fakeAgentError{msg: "no key", status: 401}, ClassHard, ""},
		{"forbidden", &fakeAgentError{msg: "denied", status: 403}, ClassHard, ""},
		{"bad request beats rate text", &fakeAgentError{msg: "rate limit", status: 400}, ClassHard, ""},
		{"429", &fakeAgentError{msg: "slow down", status: 429}, ClassTransient, CodeRateLimit},
		{"resource exhausted text", errors.New("RESOURCE_EXHAUSTED: try later"), ClassTransient, CodeRateLimit},
		{"daily quota on 429", &fakeAgentError{msg: "Quota exceeded for metric: generate_requests", status: 429}, ClassHard, CodeRateLimit},
		{"requests per day", errors.New("limit of 50 requests per day reached"), ClassHard, CodeRateLimit},
		{"timeout text", errors.New("request timed out"), ClassTransient, CodeTimeout},
		{"timeout code", &fakeAgentError{msg: "boom", code: "ETIMEDOUT"}, ClassTransient, CodeTimeout},
		{"504", &fakeAgentError{msg: "gateway", status: 504}, ClassTransient, CodeTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTransient, CodeTimeout},
		{"503", &fakeAgentError{msg: "down", status: 503}, ClassTransient, CodeNetwork},
		{"fetch failed", errors.New("TypeError: fetch failed"), ClassTransient, CodeNetwork},
		{"connection reset", errors.New("read: connection reset by peer"), ClassTransient, CodeNetwork},
		{"econnreset code", &fakeAgentError{msg: "socket", code: "ECONNRESET"}, ClassTransient, CodeNetwork},
		{"plain", errors.New("something odd"), ClassUnknown, ""},
		{"500", &fakeAgentError{msg: "oops", status: 500}, ClassUnknown, ""},
		{"waypoint error status", schema.NewError(schema.ErrCodeAgentCall, "nope").WithDetails(map[string]any{"status": 401}), ClassHard, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := ClassifyError(tt.err)
			assert.Equal(t, tt.class, cls.Class)
			assert.Equal(t, tt.code, cls.Code)
		})
	}
}

func TestClassifyError_ExposesFields(t *testing.T) {
	cls := ClassifyError(&fakeAgentError{msg: "slow down", code: "RATE", status: 429})
	assert.Equal(t, "slow down", cls.Message)
	assert.Equal(t, "RATE", cls.ErrCode)
	assert.Equal(t, 429, cls.Status)

	assert.Equal(t, ClassUnknown, ClassifyError(nil).Class)
}

func TestDecideRetry(t *testing.T) {
	def := DefaultRetryPolicy()
	tests := []struct {
		name    string
		cls     Classification
		attempt int
		policy  RetryPolicy
		retry   bool
		reason  string
	}{
		{"max attempts", Classification{Class: ClassTransient, Code: CodeNetwork}, 2, def, false, "max_attempts_reached"},
		{"max attempts beats everything", Classification{Class: ClassHard}, 3, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"hard"}}, false, "max_attempts_reached"},
		{"hard", Classification{Class: ClassHard}, 1, def, false, "hard_error"},
		{"hard even if listed", Classification{Class: ClassHard, Code: CodeRateLimit}, 1, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"hard", "rate_limit"}}, false, "hard_error"},
		{"code listed", Classification{Class: ClassTransient, Code: CodeTimeout}, 1, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"timeout"}}, true, "policy_match:timeout"},
		{"code wins over class", Classification{Class: ClassTransient, Code: CodeNetwork}, 1, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"transient", "network"}}, true, "policy_match:network"},
		{"transient listed", Classification{Class: ClassTransient, Code: CodeRateLimit}, 1, def, true, "policy_match:transient"},
		{"unknown listed", Classification{Class: ClassUnknown}, 1, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"unknown"}}, true, "policy_match:unknown"},
		{"unknown not listed", Classification{Class: ClassUnknown}, 1, def, false, "policy_no_match:unknown"},
		{"code not listed", Classification{Class: ClassTransient, Code: CodeTimeout}, 1, RetryPolicy{MaxAttempts: 3, RetryOn: []string{"network"}}, false, "policy_no_match:timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := DecideRetry(tt.cls, tt.attempt, tt.policy)
			assert.Equal(t, tt.retry, d.ShouldRetry)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestDecideRetry_Status400NeverRetried(t *testing.T) {
	cls := ClassifyError(&fakeAgentError{msg: "bad", status: 400})
	all := RetryPolicy{MaxAttempts: 10, RetryOn: []string{"hard", "transient", "unknown", "timeout", "rate_limit", "network"}}
	for attempt := 1; attempt <= 10; attempt++ {
		assert.False(t, DecideRetry(cls, attempt, all).ShouldRetry)
	}
}

func TestParseRetryDelay(t *testing.T) {
	tests := []struct {
		in string
		ms int64
		ok bool
	}{
		{`{"retryDelay": "7s"}`, 7000, true},
		{`retryDelay: "2.5s"`, 2500, true},
		{`"retry_delay":"3s"`, 3000, true},
		{"Please retry in 12s.", 12000, true},
		{"Please retry in 1.25 s", 1250, true},
		{"no hint here", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		ms, ok := ParseRetryDelay(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.ms, ms, tt.in)
	}
}

func TestComputeBackoff(t *testing.T) {
	rate := Classification{Class: ClassTransient, Code: CodeRateLimit}

	withPayload := &fakeAgentError{msg: "429", status: 429, payload: map[string]any{"retryDelay": "5s"}}
	assert.Equal(t, int64(5000), ComputeBackoff(rate, withPayload, 0))

	inMessage := errors.New("quota hit, retry in 90s")
	assert.Equal(t, int64(60_000), ComputeBackoff(rate, inMessage, 0), "default cap")
	assert.Equal(t, int64(2000), ComputeBackoff(rate, inMessage, 2000), "custom cap")

	assert.Equal(t, int64(1000), ComputeBackoff(rate, errors.New("slow down"), 0), "default wait")

	details := schema.NewError(schema.ErrCodeAgentCall, "limited").WithDetails(map[string]any{"retryDelay": "4s"})
	assert.Equal(t, int64(4000), ComputeBackoff(rate, details, 0))

	assert.Equal(t, int64(0), ComputeBackoff(Classification{Class: ClassTransient, Code: CodeNetwork}, errors.New("x"), 0))
	assert.Equal(t, int64(0), ComputeBackoff(Classification{Class: ClassUnknown}, errors.New("retry in 5s"), 0))
}

func TestResolvePolicy(t *testing.T) {
	assert.Equal(t, DefaultRetryPolicy(), ResolvePolicy(nil, nil))

	env := &RetryPolicy{MaxAttempts: 4, RetryOn: []string{"network"}}
	assert.Equal(t, *env, ResolvePolicy(&schema.AgentSpec{ID: "a"}, env))

	agent := &schema.AgentSpec{ID: "a", Retry: &schema.RetryOverride{MaxAttempts: 1}}
	got := ResolvePolicy(agent, env)
	assert.Equal(t, 1, got.MaxAttempts)
	assert.Equal(t, []string{"network"}, got.RetryOn)

	agent.Retry = &schema.RetryOverride{RetryOn: []string{"timeout"}}
	got = ResolvePolicy(agent, nil)
	assert.Equal(t, 2, got.MaxAttempts)
	assert.Equal(t, []string{"timeout"}, got.RetryOn)

	assert.Equal(t, 2, ResolvePolicy(nil, &RetryPolicy{MaxAttempts: -3}).MaxAttempts, "non-positive values are ignored")
}

func TestRetryPolicy_AllowsIsCaseInsensitive(t *testing.T) {
	p := RetryPolicy{RetryOn: []string{" Transient ", "RATE_LIMIT"}}
	assert.True(t, p.Allows("transient"))
	assert.True(t, p.Allows("rate_limit"))
	assert.False(t, p.Allows("network"))
	assert.False(t, p.Allows(""))
}
