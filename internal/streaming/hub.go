// Package streaming fans run progress out to live subscribers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while a run executes.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	StepIndex *int      `json:"step_index,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	AgentID    string   `json:"agent_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
