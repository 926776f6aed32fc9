package workflowengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/flowline/core/infra/bus"
	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

const (
	runQueue        = "flowline-engine"
	storeRetryDelay = time.Second
)

// Subscriber is the consuming half of bus.NatsBus.
type Subscriber interface {
	Subscribe(subject, queue string, handler bus.Handler) error
}

// Runner starts and runs stored workflows; *workflow.Service implements it.
type Runner interface {
	Run(ctx context.Context, workflowID string, initialData map[string]any) (*workflow.WorkflowExecution, error)
	Start(ctx context.Context, workflowID string, initialData map[string]any) (*workflow.WorkflowExecution, error)
}

// runTrigger serves run requests arriving on the bus.
type runTrigger struct {
	ctx    context.Context
	runner Runner
}

func newRunTrigger(ctx context.Context, runner Runner) *runTrigger {
	return &runTrigger{ctx: ctx, runner: runner}
}

func (t *runTrigger) subscribe(sub Subscriber) error {
	if err := sub.Subscribe(bus.SubjectRun, runQueue, t.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", bus.SubjectRun, err)
	}
	return nil
}

// handle starts the requested workflow. Unknown workflows and bad payloads
// are answered and acked; other store failures are redelivered.
func (t *runTrigger) handle(msg *bus.Message) (any, error) {
	var req bus.RunRequest
	if err := msg.Decode(&req); err != nil {
		return bus.RunReply{Error: "invalid run request"}, fmt.Errorf("decode run request: %w", err)
	}
	if req.WorkflowID == "" {
		return bus.RunReply{Error: "workflowId is required"}, nil
	}
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	if _, ok := data[workflow.KeySource]; !ok {
		data[workflow.KeySource] = "bus"
	}

	run := t.runner.Start
	if req.Wait {
		run = t.runner.Run
	}
	exec, err := run(t.ctx, req.WorkflowID, data)
	if exec == nil {
		if errors.Is(err, workflow.ErrNotFound) {
			logging.Warn(logComponent, "run request for unknown workflow", "workflow_id", req.WorkflowID, "request_id", req.RequestID)
			return bus.RunReply{Error: err.Error()}, nil
		}
		return nil, bus.RetryAfter(err, storeRetryDelay)
	}
	reply := bus.RunReply{ExecutionID: exec.ID, Status: string(exec.Status)}
	if err != nil {
		reply.Error = err.Error()
	}
	logging.Info(logComponent, "run request accepted", "workflow_id", req.WorkflowID, "execution_id", exec.ID, "request_id", req.RequestID, "wait", req.Wait)
	return reply, nil
}
