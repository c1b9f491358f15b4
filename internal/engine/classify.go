package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rendis/waypoint/pkg/schema"
)

// ErrorClass is the coarse category of a failed agent call.
type ErrorClass string

const (
	ClassHard      ErrorClass = "hard"
	ClassTransient ErrorClass = "transient"
	ClassUnknown   ErrorClass = "unknown"
)

// Error sub-codes.
const (
	CodeTimeout   = "timeout"
	CodeRateLimit = "rate_limit"
	CodeNetwork   = "network"
)

const (
	defaultBackoffCapMs  int64 = 60_000
	defaultRateLimitWait int64 = 1_000
)

// AgentError is implemented by agent-call errors that carry a code and an
// HTTP-like status. Zero values mean absent.
type AgentError interface {
	error
	ErrorCode() string
	HTTPStatus() int
}

// ErrorPayloader exposes the raw provider error body, searched for retry hints.
type ErrorPayloader interface {
	ErrorPayload() any
}

// Classification is the result of ClassifyError.
type Classification struct {
	Class   ErrorClass
	Code    string // timeout, rate_limit, network or empty
	Status  int
	Message string
	ErrCode string // the error's own code, if any
}

var (
	rateLimitMarkers = []string{"resource_exhausted", "resource exhausted", "rate limit", "rate_limit", "ratelimit", "too many requests", "quota"}
	hardQuotaMarkers = []string{"requests per day", "quota exceeded for metric", "per day"}
	timeoutMarkers   = []string{"timeout", "timed out", "deadline exceeded", "etimedout", "deadline_exceeded"}
	networkMarkers   = []string{"unavailable", "fetch failed", "econnreset", "connection reset", "socket hang up", "econnrefused", "connection refused"}
)

// ClassifyError maps a failed agent call to a class and optional sub-code.
// It inspects the message, the error code and the HTTP-like status.
func ClassifyError(err error) Classification {
	if err == nil {
		return Classification{Class: ClassUnknown}
	}

	cls := Classification{Message: err.Error()}

	var agentErr AgentError
	var wpErr *schema.WaypointError
	switch {
	case errors.As(err, &agentErr):
		cls.ErrCode = agentErr.ErrorCode()
		cls.Status = agentErr.HTTPStatus()
	case errors.As(err, &wpErr):
		cls.ErrCode = wpErr.Code
		cls.Status = detailInt(wpErr.Details, "status", "status_code")
	}

	text := strings.ToLower(cls.Message + " " + cls.ErrCode)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		cls.Class, cls.Code = ClassTransient, CodeTimeout
	case cls.Status == 400 || cls.Status == 401 || cls.Status == 403:
		cls.Class = ClassHard
	case cls.Status == 429 || containsAny(text, rateLimitMarkers) || containsAny(text, hardQuotaMarkers):
		cls.Code = CodeRateLimit
		if containsAny(text, hardQuotaMarkers) {
			cls.Class = ClassHard
		} else {
			cls.Class = ClassTransient
		}
	case cls.Status == 408 || cls.Status == 504 || containsAny(text, timeoutMarkers):
		cls.Class, cls.Code = ClassTransient, CodeTimeout
	case cls.Status == 503 || containsAny(text, networkMarkers):
		cls.Class, cls.Code = ClassTransient, CodeNetwork
	default:
		cls.Class = ClassUnknown
	}
	return cls
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func detailInt(details map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := details[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

// RetryPolicy bounds the attempts for one agent and lists the classes and
// sub-codes that may be retried.
type RetryPolicy struct {
	MaxAttempts int      `json:"max_attempts"`
	RetryOn     []string `json:"retry_on"`
}

// DefaultRetryPolicy is used when neither the agent nor the run configures one.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, RetryOn: []string{string(ClassTransient)}}
}

// Allows reports whether a class or sub-code is listed in RetryOn.
func (p RetryPolicy) Allows(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range p.RetryOn {
		if strings.EqualFold(strings.TrimSpace(r), name) {
			return true
		}
	}
	return false
}

// ResolvePolicy picks the effective policy for an agent: the agent override,
// then the run default, then DefaultRetryPolicy. Override fields apply
// individually.
func ResolvePolicy(agent *schema.AgentSpec, runDefault *RetryPolicy) RetryPolicy {
	p := DefaultRetryPolicy()
	if runDefault != nil {
		if runDefault.MaxAttempts > 0 {
			p.MaxAttempts = runDefault.MaxAttempts
		}
		if runDefault.RetryOn != nil {
			p.RetryOn = append([]string(nil), runDefault.RetryOn...)
		}
	}
	if agent != nil && agent.Retry != nil {
		if agent.Retry.MaxAttempts > 0 {
			p.MaxAttempts = agent.Retry.MaxAttempts
		}
		if agent.Retry.RetryOn != nil {
			p.RetryOn = append([]string(nil), agent.Retry.RetryOn...)
		}
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return p
}

// RetryDecision is the verdict for one failed attempt.
type RetryDecision struct {
	ShouldRetry bool
	Reason      string
}

// DecideRetry decides whether the given attempt (1-based) may be retried.
// A sub-code listed in the policy wins over the class; hard errors are never
// retried, whatever the policy says.
func DecideRetry(cls Classification, attempt int, policy RetryPolicy) RetryDecision {
	switch {
	case attempt >= policy.MaxAttempts:
		return RetryDecision{Reason: "max_attempts_reached"}
	case cls.Class == ClassHard:
		return RetryDecision{Reason: "hard_error"}
	case cls.Code != "" && policy.Allows(cls.Code):
		return RetryDecision{ShouldRetry: true, Reason: "policy_match:" + cls.Code}
	case policy.Allows(string(cls.Class)):
		return RetryDecision{ShouldRetry: true, Reason: "policy_match:" + string(cls.Class)}
	}
	label := cls.Code
	if label == "" {
		label = string(cls.Class)
	}
	return RetryDecision{Reason: "policy_no_match:" + label}
}

var (
	retryDelayFieldRe = regexp.MustCompile(`(?i)"?retry_?delay"?\s*[:=]\s*"?(\d+(?:\.\d+)?)s"?`)
	retryInRe         = regexp.MustCompile(`(?i)retry in\s+(\d+(?:\.\d+)?)\s*s`)
)

// ParseRetryDelay looks for a provider-suggested delay, either a
// retryDelay: "Ns" field or a "retry in Ns" phrase, and returns it in
// milliseconds.
func ParseRetryDelay(payload string) (int64, bool) {
	for _, re := range []*regexp.Regexp{retryDelayFieldRe, retryInRe} {
		m := re.FindStringSubmatch(payload)
		if m == nil {
			continue
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return int64(math.Round(secs * 1000)), true
	}
	return 0, false
}

// ComputeBackoff returns the wait before the next attempt of a retryable
// error. Rate limits honour a parsed provider delay up to capMs, falling back
// to one second; every other class retries immediately.
func ComputeBackoff(cls Classification, err error, capMs int64) int64 {
	if cls.Code != CodeRateLimit {
		return 0
	}
	if capMs <= 0 {
		capMs = defaultBackoffCapMs
	}
	ms, ok := ParseRetryDelay(errorPayloadText(err))
	if !ok {
		ms = defaultRateLimitWait
	}
	return min(ms, capMs)
}

// errorPayloadText flattens everything an error exposes into one searchable
// string.
func errorPayloadText(err error) string {
	if err == nil {
		return ""
	}
	parts := []string{err.Error()}

	var p ErrorPayloader
	if errors.As(err, &p) {
		switch v := p.ErrorPayload().(type) {
		case nil:
		case string:
			parts = append(parts, v)
		case []byte:
			parts = append(parts, string(v))
		default:
			if b, mErr := json.Marshal(v); mErr == nil {
				parts = append(parts, string(b))
			} else {
				parts = append(parts, fmt.Sprint(v))
			}
		}
	}

	var wpErr *schema.WaypointError
	if errors.As(err, &wpErr) && len(wpErr.Details) > 0 {
		if b, mErr := json.Marshal(wpErr.Details); mErr == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}
