package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context) ([]*Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
}

// TraceStore persists execution and node execution records. Writes for
// distinct execution ids may arrive concurrently.
type TraceStore interface {
	CreateExecution(ctx context.Context, exec *WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	UpdateExecution(ctx context.Context, id string, patch ExecutionPatch) (*WorkflowExecution, error)
	DeleteExecution(ctx context.Context, id string) error
	// ListRecentExecutions returns the newest executions first. A zero limit
	// selects the default page size; AllExecutions lists every record.
	ListRecentExecutions(ctx context.Context, limit int) ([]*WorkflowExecution, error)
	ListExecutionsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*WorkflowExecution, error)

	CreateNodeExecution(ctx context.Context, rec *NodeExecution) error
	UpdateNodeExecution(ctx context.Context, id string, patch NodeExecutionPatch) (*NodeExecution, error)
	ListNodeExecutions(ctx context.Context, executionID string) ([]*NodeExecution, error)
}

// Store is the full repository used by the service and daemon.
type Store interface {
	WorkflowStore
	TraceStore
	Close() error
}

const defaultRecentLimit = 10

// AllExecutions is the ListRecentExecutions limit that disables paging.
const AllExecutions = -1

func recentLimit(limit int) int {
	switch {
	case limit < 0:
		return 0
	case limit == 0:
		return defaultRecentLimit
	}
	return limit
}

func requireID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s id required", kind)
	}
	return nil
}

func applyWorkflowPatch(wf *Workflow, p WorkflowPatch, now time.Time) {
	if p.Name != nil {
		wf.Name = *p.Name
	}
	if p.Description != nil {
		wf.Description = *p.Description
	}
	if p.Status != nil {
		wf.Status = *p.Status
	}
	if p.Nodes != nil {
		wf.Nodes = p.Nodes
	}
	if p.Edges != nil {
		wf.Edges = p.Edges
	}
	wf.UpdatedAt = now
}

// applyExecutionPatch refuses every change once the execution is terminal.
func applyExecutionPatch(exec *WorkflowExecution, p ExecutionPatch) error {
	if exec.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrExecutionFinalized, exec.ID, exec.Status)
	}
	if p.Status != nil {
		exec.Status = *p.Status
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		exec.CompletedAt = &t
	}
	if p.Duration != nil {
		d := *p.Duration
		exec.Duration = &d
	}
	if p.Error != nil {
		exec.Error = *p.Error
	}
	if p.Data != nil {
		exec.Data = p.Data
	}
	return nil
}

func applyNodePatch(rec *NodeExecution, p NodeExecutionPatch) {
	if p.Status != nil {
		rec.Status = *p.Status
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		rec.CompletedAt = &t
	}
	if p.Duration != nil {
		d := *p.Duration
		rec.Duration = &d
	}
	if p.Output != nil {
		rec.Output = p.Output
	}
	if p.Error != nil {
		rec.Error = *p.Error
	}
}

func sortExecutionsNewest(out []*WorkflowExecution) {
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
}

// clone deep-copies a record through its JSON form so stored values never
// alias caller maps.
func clone[T any](v *T) (*T, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
