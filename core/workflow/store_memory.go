package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-memdb"
)

const (
	tableWorkflows  = "workflows"
	tableExecutions = "executions"
	tableNodes      = "node_executions"
)

type workflowRow struct {
	ID string
	WF *Workflow
}

type executionRow struct {
	ID         string
	WorkflowID string
	Exec       *WorkflowExecution
}

type nodeRow struct {
	ID          string
	ExecutionID string
	Seq         uint64
	Rec         *NodeExecution
}

// MemoryStore is a go-memdb backed Store for tests and single-process use.
type MemoryStore struct {
	db  *memdb.MemDB
	seq atomic.Uint64
}

func memorySchema() *memdb.DBSchema {
	id := func() *memdb.IndexSchema {
		return &memdb.IndexSchema{Name: "id", Unique: true, Indexer: &memdb.StringFieldIndex{Field: "ID"}}
	}
	return &memdb.DBSchema{Tables: map[string]*memdb.TableSchema{
		tableWorkflows: {
			Name:    tableWorkflows,
			Indexes: map[string]*memdb.IndexSchema{"id": id()},
		},
		tableExecutions: {
			Name: tableExecutions,
			Indexes: map[string]*memdb.IndexSchema{
				"id":       id(),
				"workflow": {Name: "workflow", Indexer: &memdb.StringFieldIndex{Field: "WorkflowID"}},
			},
		},
		tableNodes: {
			Name: tableNodes,
			Indexes: map[string]*memdb.IndexSchema{
				"id":        id(),
				"execution": {Name: "execution", Indexer: &memdb.StringFieldIndex{Field: "ExecutionID"}},
			},
		},
	}}
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() (*MemoryStore, error) {
	db, err := memdb.NewMemDB(memorySchema())
	if err != nil {
		return nil, fmt.Errorf("memdb: %w", err)
	}
	return &MemoryStore{db: db}, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateWorkflow(_ context.Context, wf *Workflow) error {
	if wf == nil {
		return fmt.Errorf("workflow required")
	}
	if err := requireID("workflow", wf.ID); err != nil {
		return err
	}
	cp, err := clone(wf)
	if err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableWorkflows, &workflowRow{ID: cp.ID, WF: cp}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) GetWorkflow(_ context.Context, id string) (*Workflow, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableWorkflows, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return clone(raw.(*workflowRow).WF)
}

func (s *MemoryStore) ListWorkflows(_ context.Context) ([]*Workflow, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableWorkflows, "id")
	if err != nil {
		return nil, err
	}
	var out []*Workflow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		wf, err := clone(obj.(*workflowRow).WF)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateWorkflow(_ context.Context, id string, patch WorkflowPatch) (*Workflow, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableWorkflows, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	wf, err := clone(raw.(*workflowRow).WF)
	if err != nil {
		return nil, err
	}
	applyWorkflowPatch(wf, patch, time.Now().UTC())
	stored, err := clone(wf)
	if err != nil {
		return nil, err
	}
	if err := txn.Insert(tableWorkflows, &workflowRow{ID: id, WF: stored}); err != nil {
		return nil, err
	}
	txn.Commit()
	return wf, nil
}

// DeleteWorkflow removes the workflow with its executions and node records.
func (s *MemoryStore) DeleteWorkflow(_ context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableWorkflows, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	if err := txn.Delete(tableWorkflows, raw); err != nil {
		return err
	}
	it, err := txn.Get(tableExecutions, "workflow", id)
	if err != nil {
		return err
	}
	var execIDs []string
	for obj := it.Next(); obj != nil; obj = it.Next() {
		execIDs = append(execIDs, obj.(*executionRow).ID)
	}
	for _, execID := range execIDs {
		if _, err := txn.DeleteAll(tableNodes, "execution", execID); err != nil {
			return err
		}
	}
	if _, err := txn.DeleteAll(tableExecutions, "workflow", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) CreateExecution(_ context.Context, exec *WorkflowExecution) error {
	if exec == nil {
		return fmt.Errorf("execution required")
	}
	if err := requireID("execution", exec.ID); err != nil {
		return err
	}
	cp, err := clone(exec)
	if err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableExecutions, &executionRow{ID: cp.ID, WorkflowID: cp.WorkflowID, Exec: cp}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) GetExecution(_ context.Context, id string) (*WorkflowExecution, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tableExecutions, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return clone(raw.(*executionRow).Exec)
}

func (s *MemoryStore) UpdateExecution(_ context.Context, id string, patch ExecutionPatch) (*WorkflowExecution, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableExecutions, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	exec, err := clone(raw.(*executionRow).Exec)
	if err != nil {
		return nil, err
	}
	if err := applyExecutionPatch(exec, patch); err != nil {
		return nil, err
	}
	stored, err := clone(exec)
	if err != nil {
		return nil, err
	}
	if err := txn.Insert(tableExecutions, &executionRow{ID: id, WorkflowID: stored.WorkflowID, Exec: stored}); err != nil {
		return nil, err
	}
	txn.Commit()
	return exec, nil
}

func (s *MemoryStore) DeleteExecution(_ context.Context, id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableExecutions, "id", id)
	if err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err := txn.Delete(tableExecutions, raw); err != nil {
		return err
	}
	if _, err := txn.DeleteAll(tableNodes, "execution", id); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) ListRecentExecutions(_ context.Context, limit int) ([]*WorkflowExecution, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableExecutions, "id")
	if err != nil {
		return nil, err
	}
	return collectExecutions(it, recentLimit(limit))
}

func (s *MemoryStore) ListExecutionsByWorkflow(_ context.Context, workflowID string, limit int) ([]*WorkflowExecution, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableExecutions, "workflow", workflowID)
	if err != nil {
		return nil, err
	}
	return collectExecutions(it, limit)
}

func collectExecutions(it memdb.ResultIterator, limit int) ([]*WorkflowExecution, error) {
	var out []*WorkflowExecution
	for obj := it.Next(); obj != nil; obj = it.Next() {
		exec, err := clone(obj.(*executionRow).Exec)
		if err != nil {
			return nil, err
		}
		out = append(out, exec)
	}
	sortExecutionsNewest(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CreateNodeExecution(_ context.Context, rec *NodeExecution) error {
	if rec == nil {
		return fmt.Errorf("node execution required")
	}
	if err := requireID("node execution", rec.ID); err != nil {
		return err
	}
	cp, err := clone(rec)
	if err != nil {
		return err
	}
	txn := s.db.Txn(true)
	defer txn.Abort()
	row := &nodeRow{ID: cp.ID, ExecutionID: cp.ExecutionID, Seq: s.seq.Add(1), Rec: cp}
	if err := txn.Insert(tableNodes, row); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (s *MemoryStore) UpdateNodeExecution(_ context.Context, id string, patch NodeExecutionPatch) (*NodeExecution, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()
	raw, err := txn.First(tableNodes, "id", id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("node execution %s: %w", id, ErrNotFound)
	}
	prev := raw.(*nodeRow)
	rec, err := clone(prev.Rec)
	if err != nil {
		return nil, err
	}
	applyNodePatch(rec, patch)
	stored, err := clone(rec)
	if err != nil {
		return nil, err
	}
	if err := txn.Insert(tableNodes, &nodeRow{ID: id, ExecutionID: prev.ExecutionID, Seq: prev.Seq, Rec: stored}); err != nil {
		return nil, err
	}
	txn.Commit()
	return rec, nil
}

// ListNodeExecutions returns records in creation order.
func (s *MemoryStore) ListNodeExecutions(_ context.Context, executionID string) ([]*NodeExecution, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tableNodes, "execution", executionID)
	if err != nil {
		return nil, err
	}
	var rows []*nodeRow
	for obj := it.Next(); obj != nil; obj = it.Next() {
		rows = append(rows, obj.(*nodeRow))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	out := make([]*NodeExecution, 0, len(rows))
	for _, row := range rows {
		rec, err := clone(row.Rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
