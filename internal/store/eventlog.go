package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendis/waypoint/pkg/schema"
)

// EventLog provides event-sourcing operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide event-sourcing operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces
	// the lock before the sequence is read.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a run with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of a specific type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// RunReplay is a run summary rebuilt from its event log alone.
type RunReplay struct {
	RunID  string
	Status schema.RunStatus
	Steps  map[int]*StepReplay
}

// StepReplay summarises one step from its events.
type StepReplay struct {
	Index          int
	AgentID        string
	FailedAttempts int
	ToolFailures   int
	SelectedRuleID string
	Completed      bool
}

// ReplayEvents rebuilds a run summary from its events.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (*RunReplay, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	replay := &RunReplay{RunID: runID, Status: schema.RunStatusPending, Steps: make(map[int]*StepReplay)}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		switch e.Type {
		case schema.EventRunStarted:
			replay.Status = schema.RunStatusRunning
			continue
		case schema.EventRunCompleted:
			replay.Status = schema.RunStatusCompleted
			continue
		case schema.EventRunFailed:
			replay.Status = schema.RunStatusFailed
			continue
		}
		if e.StepIndex == nil {
			continue
		}

		sr, ok := replay.Steps[*e.StepIndex]
		if !ok {
			sr = &StepReplay{Index: *e.StepIndex, AgentID: e.AgentID}
			replay.Steps[*e.StepIndex] = sr
		}

		switch e.Type {
		case schema.EventAttemptFailed:
			sr.FailedAttempts++
		case schema.EventToolFailed:
			sr.ToolFailures++
		case schema.EventRuleSelected:
			var p struct {
				RuleID string `json:"rule_id"`
			}
			if len(e.Payload) > 0 {
				_ = json.Unmarshal(e.Payload, &p)
			}
			sr.SelectedRuleID = p.RuleID
		case schema.EventStepCompleted:
			sr.Completed = true
		}
	}

	return replay, nil
}
