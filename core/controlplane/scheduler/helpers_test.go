package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cordum/flowline/core/workflow"
)

var schedEpoch = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []map[string]any
	fired   chan string
	release chan struct{}
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{fired: make(chan string, 16)}
}

func (r *recordingExecutor) Execute(ctx context.Context, wf *workflow.Workflow, data map[string]any) (*workflow.WorkflowExecution, error) {
	r.mu.Lock()
	r.calls = append(r.calls, data)
	release := r.release
	r.mu.Unlock()
	r.fired <- wf.ID
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &workflow.WorkflowExecution{ID: "exec-" + wf.ID, WorkflowID: wf.ID, Status: workflow.ExecutionCompleted}, nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type harness struct {
	store *workflow.MemoryStore
	exec  *recordingExecutor
	clock *clockwork.FakeClock
	sched *Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := workflow.NewMemoryStore()
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	h := &harness{store: store, exec: newRecordingExecutor(), clock: clockwork.NewFakeClockAt(schedEpoch)}
	h.sched = New(store, h.exec).WithClock(h.clock)
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.sched.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.sched.Shutdown(ctx)
	})
}

func (h *harness) addWorkflow(t *testing.T, id string, status workflow.WorkflowStatus, cfg map[string]any) {
	t.Helper()
	wf := &workflow.Workflow{
		ID:     id,
		Name:   id,
		Status: status,
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTrigger, Subtype: workflow.SubtypeSchedule, Config: cfg},
			{ID: "after", Type: workflow.NodeAction, Subtype: workflow.SubtypeWebhook},
		},
		Edges: []workflow.Edge{{ID: "e1", Source: "trigger", Target: "after"}},
	}
	if err := h.store.CreateWorkflow(context.Background(), wf); err != nil {
		t.Fatalf("create workflow: %v", err)
	}
}

// waitTimers blocks until n timers or tickers are waiting on the fake clock.
func (h *harness) waitTimers(t *testing.T, n int) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		h.clock.BlockUntil(n)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %d clock waiters", n)
	}
}

func (h *harness) waitFired(t *testing.T) string {
	t.Helper()
	select {
	case id := <-h.exec.fired:
		return id
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for scheduled execution")
		return ""
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
