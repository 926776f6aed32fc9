package workflow

import (
	"context"
	"time"
)

// EventType names an execution lifecycle transition.
type EventType string

const (
	EventExecutionStarted   EventType = "execution.started"
	EventExecutionCompleted EventType = "execution.completed"
	EventExecutionFailed    EventType = "execution.failed"
	EventNodeStarted        EventType = "node.started"
	EventNodeCompleted      EventType = "node.completed"
	EventNodeFailed         EventType = "node.failed"
	EventNodeRetry          EventType = "node.retry"
	EventNodeRetryExhausted EventType = "node.retry_exhausted"
)

// Event is published at each execution and node transition.
type Event struct {
	Type            EventType `json:"type"`
	WorkflowID      string    `json:"workflowId"`
	ExecutionID     string    `json:"executionId"`
	NodeID          string    `json:"nodeId,omitempty"`
	NodeExecutionID string    `json:"nodeExecutionId,omitempty"`
	Status          string    `json:"status,omitempty"`
	Attempt         int       `json:"attempt,omitempty"`
	Error           string    `json:"error,omitempty"`
	Time            time.Time `json:"time"`
}

// EventSink receives engine events. Emit must not block the execution.
type EventSink interface {
	Emit(ctx context.Context, evt Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, evt Event)

func (f EventSinkFunc) Emit(ctx context.Context, evt Event) { f(ctx, evt) }
