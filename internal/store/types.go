package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// Run is the archived form of a finished run.
type Run struct {
	ID           string            `json:"id"`
	WorkflowName string            `json:"workflow_name,omitempty"`
	Mode         string            `json:"mode"`
	Seed         *int64            `json:"seed,omitempty"`
	Status       schema.RunStatus  `json:"status"`
	HaltReason   schema.HaltReason `json:"halt_reason,omitempty"`
	StepCount    int               `json:"step_count"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Definition   json.RawMessage   `json:"definition,omitempty"`
	Result       json.RawMessage   `json:"result"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// StepRecord is the per-step row of an archived run.
type StepRecord struct {
	RunID          string            `json:"run_id"`
	Index          int               `json:"step_index"`
	AgentID        string            `json:"agent_id"`
	Status         schema.StepStatus `json:"status"`
	Attempts       int               `json:"attempts"`
	SelectedRuleID string            `json:"selected_rule_id,omitempty"`
	NextAgentID    string            `json:"next_agent_id,omitempty"`
	DurationMs     int64             `json:"duration_ms"`
	Trace          json.RawMessage   `json:"trace"`
}

// Event is an immutable entry in the run event log.
type Event struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"run_id"`
	StepIndex *int            `json:"step_index,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	AgentID   string          `json:"agent_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// --- Filter types ---

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       *schema.RunStatus `json:"status,omitempty"`
	WorkflowName string            `json:"workflow_name,omitempty"`
	HaltReason   string            `json:"halt_reason,omitempty"`
	Since        *time.Time        `json:"since,omitempty"`
	Limit        int               `json:"limit,omitempty"`
	Offset       int               `json:"offset,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	RunID   string     `json:"run_id,omitempty"`
	AgentID string     `json:"agent_id,omitempty"`
	Since   *time.Time `json:"since,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

// NewRunRecord converts a run result, and optionally the definition it ran,
// into archive rows.
func NewRunRecord(result *schema.RunResult, def *schema.WorkflowDefinition) (*Run, []*StepRecord, error) {
	if result == nil || result.RunID == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "run result has no run_id")
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run result: %w", err)
	}
	run := &Run{
		ID:           result.RunID,
		WorkflowName: result.WorkflowName,
		Mode:         result.Mode,
		Seed:         result.Seed,
		Status:       result.Status,
		HaltReason:   result.HaltReason,
		StepCount:    len(result.Steps),
		Result:       raw,
		CreatedAt:    time.Now().UTC(),
	}
	if result.Error != nil {
		run.ErrorCode = result.Error.Code
	}
	if !result.StartedAt.IsZero() {
		ts := result.StartedAt
		run.StartedAt = &ts
	}
	if !result.CompletedAt.IsZero() {
		ts := result.CompletedAt
		run.CompletedAt = &ts
	}
	if def != nil {
		if run.Definition, err = json.Marshal(def); err != nil {
			return nil, nil, fmt.Errorf("marshal definition: %w", err)
		}
	}

	steps := make([]*StepRecord, 0, len(result.Steps))
	for i := range result.Steps {
		st := &result.Steps[i]
		trace, err := json.Marshal(st)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal step %d: %w", st.Index, err)
		}
		rec := &StepRecord{
			RunID:      result.RunID,
			Index:      st.Index,
			AgentID:    st.AgentID,
			Status:     st.Status,
			Attempts:   len(st.Attempts),
			DurationMs: st.DurationMs,
			Trace:      trace,
		}
		if st.SelectedRuleID != nil {
			rec.SelectedRuleID = *st.SelectedRuleID
		}
		if st.NextAgentID != nil {
			rec.NextAgentID = *st.NextAgentID
		}
		steps = append(steps, rec)
	}
	return run, steps, nil
}

// Decode returns the archived RunResult.
func (r *Run) Decode() (*schema.RunResult, error) {
	var out schema.RunResult
	if err := json.Unmarshal(r.Result, &out); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode run %s: %s", r.ID, err.Error()).WithCause(err)
	}
	return &out, nil
}

// DecodeDefinition returns the archived definition, or nil if none was stored.
func (r *Run) DecodeDefinition() (*schema.WorkflowDefinition, error) {
	if len(r.Definition) == 0 {
		return nil, nil
	}
	var def schema.WorkflowDefinition
	if err := json.Unmarshal(r.Definition, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode definition of run %s: %s", r.ID, err.Error()).WithCause(err)
	}
	return &def, nil
}
