// Package task defines the audit trail recorded against a task while its
// graph runs are recovered.
package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// EventResumeExecuted is appended after a snapshot resume ran.
const EventResumeExecuted = "graph.resume.executed"

// ErrInvalidEvent is returned for events missing their id, task or type.
var ErrInvalidEvent = errors.New("invalid task event")

// Event is one append-only audit record.
type Event struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"taskId"`
	EventType   string          `json:"eventType"`
	PayloadJSON json.RawMessage `json:"payloadJson,omitempty"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Validate checks the required identity fields.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing id"))
	case strings.TrimSpace(e.TaskID) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing task id"))
	case strings.TrimSpace(e.EventType) == "":
		return errors.Join(ErrInvalidEvent, errors.New("missing event type"))
	}
	return nil
}

// EventAppender is the write side used by services that only emit audit.
type EventAppender interface {
	AppendEvent(ctx context.Context, event Event) error
}

// EventStore persists and lists task events.
type EventStore interface {
	EventAppender

	// EnsureSchema creates or migrates the schema.
	EnsureSchema(ctx context.Context) error

	// ListEvents returns the task's events oldest first. limit <= 0 means all.
	ListEvents(ctx context.Context, taskID string, limit int) ([]Event, error)
}
