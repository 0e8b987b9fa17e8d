package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TaskNotificationsTopic carries TaskChanged events
	TaskNotificationsTopic = "task.notifications"
	// NotifierChannel is the channel shared by competing notifier instances
	NotifierChannel = "notifier"
)

type Kind string

const (
	KindCreated       Kind = "created"
	KindUpdated       Kind = "updated"
	KindStatusChanged Kind = "status_changed"
)

// TaskChanged announces a committed task write. The first four fields are the
// contract every consumer relies on; the rest are optional and may be absent
// in events from older producers.
type TaskChanged struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	AssignedTo  string `json:"assignedTo"`
	Status      string `json:"status"`

	EventID      string            `json:"eventId,omitempty"`
	Kind         Kind              `json:"kind,omitempty"`
	TaskID       string            `json:"taskId,omitempty"`
	ProjectID    string            `json:"projectId,omitempty"`
	OccurredAt   string            `json:"occurredAt,omitempty"` // RFC3339
	TraceHeaders map[string]string `json:"traceHeaders,omitempty"`
}

// NewTaskChanged stamps a fresh event id and occurrence time
func NewTaskChanged(kind Kind, at time.Time) TaskChanged {
	return TaskChanged{
		EventID:    uuid.NewString(),
		Kind:       kind,
		OccurredAt: at.UTC().Format(time.RFC3339Nano),
	}
}

var ErrNotAnObject = errors.New("event body is not a JSON object")

// DecodeTaskChanged parses a queued event body. Unknown fields are ignored.
func DecodeTaskChanged(body []byte) (TaskChanged, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return TaskChanged{}, ErrNotAnObject
	}

	var ev TaskChanged
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return TaskChanged{}, fmt.Errorf("decode task event: %w", err)
	}
	return ev, nil
}
