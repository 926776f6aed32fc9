package workflow

import (
	"context"
	"errors"
	"testing"
)

func newService(t *testing.T) (*Service, *fixture) {
	t.Helper()
	f := newFixture(t)
	return NewService(f.store, f.engine), f
}

func TestServiceSaveValidatesAndAssignsID(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.SaveWorkflow(ctx, &Workflow{Name: "bad", Edges: []Edge{{Source: "x", Target: "y"}}}); err == nil {
		t.Fatalf("expected validation error")
	}

	wf, err := svc.SaveWorkflow(ctx, &Workflow{Name: "orders", Nodes: []Node{node("a", SubtypeManual, nil)}})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if wf.ID == "" || wf.Status != WorkflowDraft || wf.CreatedAt.IsZero() {
		t.Fatalf("expected id, draft status and timestamps: %+v", wf)
	}

	wf.Name = "orders v2"
	wf.Status = WorkflowActive
	again, err := svc.SaveWorkflow(ctx, wf)
	if err != nil {
		t.Fatalf("resave: %v", err)
	}
	if again.ID != wf.ID || again.Name != "orders v2" || again.Status != WorkflowActive {
		t.Fatalf("resave should update in place: %+v", again)
	}
	list, _ := svc.Store().ListWorkflows(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one workflow, got %d", len(list))
	}

	bad := []Node{{ID: "l", Subtype: SubtypeLoop, Config: map[string]any{"loopType": "sideways"}}}
	if _, err := svc.UpdateWorkflow(ctx, wf.ID, WorkflowPatch{Nodes: bad}); err == nil {
		t.Fatalf("expected patch validation error")
	}
	if _, err := svc.SetStatus(ctx, wf.ID, WorkflowDraft); err != nil {
		t.Fatalf("set status: %v", err)
	}
}

func TestServiceRunByID(t *testing.T) {
	svc, f := newService(t)
	f.reg.RegisterFunc(SubtypeWebhook, okHandler(map[string]any{"success": true}))
	ctx := context.Background()

	if _, err := svc.Run(ctx, "missing", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound, got %v", err)
	}

	wf, err := svc.SaveWorkflow(ctx, graph([]Node{node("a", SubtypeManual, nil), node("b", SubtypeWebhook, nil)}, edge("a", "b")))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	exec, err := svc.Run(ctx, wf.ID, map[string]any{"who": "me"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if exec.Status != ExecutionCompleted || exec.WorkflowID != wf.ID || exec.Data["who"] != "me" {
		t.Fatalf("unexpected execution: %+v", exec)
	}
	stored, err := f.store.ListExecutionsByWorkflow(ctx, wf.ID, 0)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected one stored execution: %v %v", stored, err)
	}
}

func TestServiceStartRunsInBackground(t *testing.T) {
	svc, f := newService(t)
	release := make(chan struct{})
	f.reg.RegisterFunc(SubtypeWebhook, func(context.Context, map[string]any, map[string]any) (map[string]any, error) {
		<-release
		return map[string]any{"success": true}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	wf, err := svc.SaveWorkflow(ctx, graph([]Node{node("hook", SubtypeWebhook, nil)}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	exec, err := svc.Start(ctx, wf.ID, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if exec.Status != ExecutionRunning {
		t.Fatalf("expected running snapshot, got %s", exec.Status)
	}
	cancel()
	close(release)
	svc.Wait()

	got, err := f.store.GetExecution(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != ExecutionCompleted {
		t.Fatalf("background run should survive caller cancellation, got %s (%s)", got.Status, got.Error)
	}
}

func TestServiceFailOrphaned(t *testing.T) {
	svc, f := newService(t)
	ctx := context.Background()
	wf, err := svc.SaveWorkflow(ctx, graph([]Node{node("a", SubtypeManual, nil)}))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	now := f.clock.Now()
	for _, exec := range []*WorkflowExecution{
		{ID: "stale", WorkflowID: wf.ID, Status: ExecutionRunning, StartedAt: now},
		{ID: "queued", WorkflowID: wf.ID, Status: ExecutionPending, StartedAt: now},
		{ID: "done", WorkflowID: wf.ID, Status: ExecutionCompleted, StartedAt: now},
		{ID: "detached", WorkflowID: "deleted-workflow", Status: ExecutionRunning, StartedAt: now},
	} {
		if err := f.store.CreateExecution(ctx, exec); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	n, err := svc.FailOrphaned(ctx)
	if err != nil {
		t.Fatalf("fail orphaned: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 orphans, got %d", n)
	}
	if detached, _ := f.store.GetExecution(ctx, "detached"); detached.Status != ExecutionFailed {
		t.Fatalf("orphan of a deleted workflow not swept: %+v", detached)
	}
	stale, _ := f.store.GetExecution(ctx, "stale")
	if stale.Status != ExecutionFailed || stale.Error != orphanError || stale.CompletedAt == nil {
		t.Fatalf("unexpected orphan record: %+v", stale)
	}
	finished, _ := f.store.GetExecution(ctx, "done")
	if finished.Status != ExecutionCompleted {
		t.Fatalf("completed execution touched: %+v", finished)
	}
}
