package streaming

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rendis/taskweave/internal/logging"
)

// Event is one entry of the debug event stream.
type Event struct {
	ID          string    `json:"id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Workflow    string    `json:"workflow,omitempty"`
	Task        string    `json:"task,omitempty"`
	Step        *int      `json:"step,omitempty"`
	Type        string    `json:"type"`
	Message     string    `json:"message,omitempty"`
	Payload     any       `json:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewEvent creates an event of the given type, stamped with a fresh ID and
// the correlation values carried by ctx.
func NewEvent(ctx context.Context, eventType string) Event {
	ev := Event{
		ID:          uuid.NewString(),
		ExecutionID: logging.ExecutionID(ctx),
		Workflow:    logging.Workflow(ctx),
		Task:        logging.Task(ctx),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
	}
	if step, ok := logging.Step(ctx); ok {
		ev.Step = &step
	}
	return ev
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	ExecutionID string   `json:"execution_id,omitempty"`
	Workflow    string   `json:"workflow,omitempty"`
	EventTypes  []string `json:"event_types,omitempty"`

	// Replay delivers matching backlog events before live ones.
	Replay bool `json:"replay,omitempty"`
}

// EventHub provides pub/sub for debug events.
type EventHub interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan Event, func(), error)
}

// HistorySource is implemented by hubs that retain past events.
type HistorySource interface {
	History(filter EventFilter) []Event
}
