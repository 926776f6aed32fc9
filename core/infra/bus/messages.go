package bus

import (
	"context"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

// RunRequest asks an engine to execute a stored workflow.
type RunRequest struct {
	RequestID  string         `json:"requestId,omitempty"`
	WorkflowID string         `json:"workflowId"`
	Data       map[string]any `json:"data,omitempty"`
	// Wait runs synchronously and replies with the final status.
	Wait bool `json:"wait,omitempty"`
}

// RunReply answers a RunRequest that carried a reply subject.
type RunReply struct {
	ExecutionID string `json:"executionId,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Publisher is the publishing half of NatsBus.
type Publisher interface {
	Publish(subject string, v any) error
}

// EventPublisher forwards engine events to the bus.
type EventPublisher struct {
	pub Publisher
}

func NewEventPublisher(pub Publisher) *EventPublisher {
	return &EventPublisher{pub: pub}
}

// Emit implements workflow.EventSink. Publish failures are logged only.
func (p *EventPublisher) Emit(_ context.Context, evt workflow.Event) {
	if p == nil || p.pub == nil {
		return
	}
	if err := p.pub.Publish(EventSubject(string(evt.Type)), evt); err != nil {
		logging.Warn(logComponent, "publish event", "type", evt.Type, "execution_id", evt.ExecutionID, "error", err)
	}
}
