package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cordum/flowline/core/infra/logging"
)

const (
	serviceComponent = "workflow-service"
	orphanError      = "execution interrupted by engine restart"
)

// Service is the on-demand entry point: it validates workflows on save and
// starts executions by workflow id.
type Service struct {
	store  Store
	engine *Engine
	wg     sync.WaitGroup
}

// NewService wires a store and engine.
func NewService(store Store, engine *Engine) *Service {
	return &Service{store: store, engine: engine}
}

// Store exposes the backing store.
func (s *Service) Store() Store { return s.store }

// SaveWorkflow validates wf and creates it, or replaces the stored definition
// when wf.ID already exists. A missing id or status is filled in.
func (s *Service) SaveWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if wf == nil {
		return nil, fmt.Errorf("workflow required")
	}
	if wf.Status == "" {
		wf.Status = WorkflowDraft
	}
	if err := Validate(wf); err != nil {
		return nil, err
	}
	if wf.ID != "" {
		if _, err := s.store.GetWorkflow(ctx, wf.ID); err == nil {
			return s.store.UpdateWorkflow(ctx, wf.ID, WorkflowPatch{
				Name:        &wf.Name,
				Description: &wf.Description,
				Status:      &wf.Status,
				Nodes:       nonNilNodes(wf.Nodes),
				Edges:       nonNilEdges(wf.Edges),
			})
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	} else {
		wf.ID = uuid.NewString()
	}
	now := s.engine.clock.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	return wf, nil
}

// UpdateWorkflow validates the patched definition before storing it.
func (s *Service) UpdateWorkflow(ctx context.Context, id string, patch WorkflowPatch) (*Workflow, error) {
	current, err := s.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	applyWorkflowPatch(current, patch, current.UpdatedAt)
	if err := Validate(current); err != nil {
		return nil, err
	}
	return s.store.UpdateWorkflow(ctx, id, patch)
}

// SetStatus activates or deactivates a workflow.
func (s *Service) SetStatus(ctx context.Context, id string, status WorkflowStatus) (*Workflow, error) {
	return s.UpdateWorkflow(ctx, id, WorkflowPatch{Status: &status})
}

// Run resolves the workflow and executes it to completion. The returned
// execution is the finalized record; err is the run failure, if any.
func (s *Service) Run(ctx context.Context, workflowID string, initialData map[string]any) (*WorkflowExecution, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("run workflow: %w", err)
	}
	return s.Execute(ctx, wf, initialData)
}

// Start resolves the workflow, records a running execution and executes it
// in the background. The run outlives ctx cancellation; use Wait to drain.
func (s *Service) Start(ctx context.Context, workflowID string, initialData map[string]any) (*WorkflowExecution, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	exec, err := s.begin(ctx, wf, initialData)
	if err != nil {
		return nil, err
	}
	snapshot := *exec
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.engine.ExecuteWorkflow(runCtx, wf, exec, initialData); err != nil {
			logging.Debug(serviceComponent, "background execution failed", "execution_id", exec.ID, "error", err)
		}
	}()
	return &snapshot, nil
}

// Execute records a running execution for wf and runs it synchronously.
func (s *Service) Execute(ctx context.Context, wf *Workflow, initialData map[string]any) (*WorkflowExecution, error) {
	exec, err := s.begin(ctx, wf, initialData)
	if err != nil {
		return nil, err
	}
	runErr := s.engine.ExecuteWorkflow(ctx, wf, exec, initialData)
	return exec, runErr
}

// Wait blocks until every execution started with Start has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) begin(ctx context.Context, wf *Workflow, initialData map[string]any) (*WorkflowExecution, error) {
	exec := &WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Status:     ExecutionRunning,
		StartedAt:  s.engine.clock.Now().UTC(),
		Data:       merge(initialData, nil),
	}
	if err := s.store.CreateExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	logging.Info(serviceComponent, "execution started", "execution_id", exec.ID, "workflow_id", wf.ID)
	return exec, nil
}

// FailOrphaned marks every execution still recorded as running as failed.
// It is meant for startup, before any run has begun; it never resumes them.
func (s *Service) FailOrphaned(ctx context.Context) (int, error) {
	execs, err := s.store.ListRecentExecutions(ctx, AllExecutions)
	if err != nil {
		return 0, fmt.Errorf("list executions: %w", err)
	}
	failed := 0
	for _, exec := range execs {
		if exec.Status != ExecutionRunning && exec.Status != ExecutionPending {
			continue
		}
		now := s.engine.clock.Now().UTC()
		status := ExecutionFailed
		msg := orphanError
		_, err := s.store.UpdateExecution(ctx, exec.ID, ExecutionPatch{Status: &status, CompletedAt: &now, Error: &msg})
		if errors.Is(err, ErrExecutionFinalized) {
			continue
		}
		if err != nil {
			return failed, fmt.Errorf("fail execution %s: %w", exec.ID, err)
		}
		failed++
	}
	if failed > 0 {
		logging.Warn(serviceComponent, "marked orphaned executions failed", "count", failed)
	}
	return failed, nil
}

func nonNilNodes(nodes []Node) []Node {
	if nodes == nil {
		return []Node{}
	}
	return nodes
}

func nonNilEdges(edges []Edge) []Edge {
	if edges == nil {
		return []Edge{}
	}
	return edges
}
