package engine

import (
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// AttemptState is the state of an AttemptMachine.
type AttemptState string

const (
	AttemptAttempting AttemptState = "attempting"
	AttemptRetrying   AttemptState = "retrying"
	AttemptSucceeded  AttemptState = "succeeded"
	AttemptFailed     AttemptState = "failed"
)

// AttemptResult is the outcome of one agent call fed to the machine.
type AttemptResult struct {
	Raw      string
	Err      error
	Duration time.Duration
}

// AttemptMachine drives the retry loop of one step:
// Attempting -> Succeeded | Retrying(backoff) | Failed, Retrying -> Attempting.
// It decides and records; waiting is left to the caller, so the intended
// backoff is recorded whether or not anyone sleeps.
type AttemptMachine struct {
	policy    RetryPolicy
	capMs     int64
	attempt   int
	state     AttemptState
	backoffMs int64
	last      Classification
	records   []schema.AttemptRecord
}

// NewAttemptMachine starts a machine at attempt 1.
func NewAttemptMachine(policy RetryPolicy, capMs int64) *AttemptMachine {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &AttemptMachine{policy: policy, capMs: capMs, attempt: 1, state: AttemptAttempting}
}

// State returns the current state.
func (m *AttemptMachine) State() AttemptState { return m.state }

// Attempt returns the 1-based number of the current or last attempt.
func (m *AttemptMachine) Attempt() int { return m.attempt }

// BackoffMs returns the wait decided for the pending retry, 0 otherwise.
func (m *AttemptMachine) BackoffMs() int64 { return m.backoffMs }

// Policy returns the policy the machine enforces.
func (m *AttemptMachine) Policy() RetryPolicy { return m.policy }

// LastClassification returns the classification of the most recent failure.
func (m *AttemptMachine) LastClassification() Classification { return m.last }

// Next records the result of the current attempt and moves the machine.
// Calling Next while Retrying resumes first. Terminal states absorb further
// calls and return an empty record.
func (m *AttemptMachine) Next(res AttemptResult) (AttemptState, schema.AttemptRecord) {
	if m.state == AttemptRetrying {
		m.Resume()
	}
	if m.state != AttemptAttempting {
		return m.state, schema.AttemptRecord{}
	}

	rec := schema.AttemptRecord{
		Attempt:    m.attempt,
		DurationMs: res.Duration.Milliseconds(),
	}

	if res.Err == nil {
		rec.Status = schema.AttemptSuccess
		rec.RawOutput = res.Raw
		m.state = AttemptSucceeded
		m.backoffMs = 0
		m.records = append(m.records, rec)
		return m.state, rec
	}

	cls := ClassifyError(res.Err)
	decision := DecideRetry(cls, m.attempt, m.policy)
	m.last = cls

	rec.Status = schema.AttemptError
	rec.RawOutput = res.Raw
	rec.Error = &schema.ErrorDetail{Message: cls.Message, Code: cls.ErrCode, Status: cls.Status}
	rec.ErrorClass = string(cls.Class)
	rec.ErrorCode = cls.Code
	rec.ShouldRetry = decision.ShouldRetry
	rec.RetryReason = decision.Reason

	if decision.ShouldRetry {
		m.backoffMs = ComputeBackoff(cls, res.Err, m.capMs)
		rec.BackoffMs = m.backoffMs
		m.state = AttemptRetrying
	} else {
		m.backoffMs = 0
		m.state = AttemptFailed
	}
	m.records = append(m.records, rec)
	return m.state, rec
}

// Resume moves a Retrying machine to the next attempt. It is a no-op in any
// other state.
func (m *AttemptMachine) Resume() {
	if m.state != AttemptRetrying {
		return
	}
	m.attempt++
	m.backoffMs = 0
	m.state = AttemptAttempting
}

// Records returns a copy of the attempt records so far.
func (m *AttemptMachine) Records() []schema.AttemptRecord {
	out := make([]schema.AttemptRecord, len(m.records))
	copy(out, m.records)
	return out
}
