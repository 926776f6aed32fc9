package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cordum/flowline/core/workflow"
)

func TestIntervalFiresOncePerPeriod(t *testing.T) {
	h := newHarness(t)
	h.addWorkflow(t, "wf-1", workflow.WorkflowActive, map[string]any{"scheduleType": "interval", "interval": 5, "intervalUnit": "minutes"})
	h.start(t)

	jobs := h.sched.Jobs()
	if len(jobs) != 1 || jobs[0].Key != "workflow_wf-1_node_trigger" || jobs[0].Expression != "*/5 * * * *" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	h.waitTimers(t, 2)
	if got := h.sched.Jobs()[0].NextRun; !got.Equal(schedEpoch.Add(5 * time.Minute)) {
		t.Fatalf("unexpected next run %s", got)
	}

	h.clock.Advance(5 * time.Minute)
	if id := h.waitFired(t); id != "wf-1" {
		t.Fatalf("unexpected workflow fired: %s", id)
	}
	h.waitTimers(t, 2)
	if n := h.exec.count(); n != 1 {
		t.Fatalf("expected exactly one execution, got %d", n)
	}
	seed := h.exec.calls[0]
	if seed["_source"] != "scheduler" || seed["_timestamp"] != "2026-01-01T10:05:00Z" {
		t.Fatalf("unexpected seed: %#v", seed)
	}
	if state := h.sched.Jobs()[0].State; state != JobScheduled {
		t.Fatalf("expected job re-armed, got %s", state)
	}
}

func TestSecondsIntervalUsesRepeatingTimer(t *testing.T) {
	h := newHarness(t)
	h.addWorkflow(t, "wf-s", workflow.WorkflowActive, map[string]any{"interval": "30", "intervalUnit": "seconds"})
	h.start(t)

	if jobs := h.sched.Jobs(); len(jobs) != 1 || jobs[0].Expression != "@every 30s" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	for i := 0; i < 2; i++ {
		h.waitTimers(t, 2)
		h.clock.Advance(30 * time.Second)
		h.waitFired(t)
	}
	if n := h.exec.count(); n != 2 {
		t.Fatalf("expected two executions, got %d", n)
	}
}

func TestFixedJobRemovedAfterFiring(t *testing.T) {
	h := newHarness(t)
	at := schedEpoch.Add(90 * time.Second).Format(time.RFC3339)
	h.addWorkflow(t, "wf-f", workflow.WorkflowActive, map[string]any{"scheduleType": "fixed", "fixedTime": at})
	h.start(t)

	if jobs := h.sched.Jobs(); len(jobs) != 1 || jobs[0].Kind != KindFixed {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}
	h.waitTimers(t, 2)
	h.clock.Advance(2 * time.Minute)
	h.waitFired(t)
	waitFor(t, "fixed job removal", func() bool { return len(h.sched.Jobs()) == 0 })

	if err := h.sched.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if jobs := h.sched.Jobs(); len(jobs) != 0 {
		t.Fatalf("past fixed time must not be rescheduled: %+v", jobs)
	}
}

func TestRegistrationErrorsLeaveJobsUnscheduled(t *testing.T) {
	h := newHarness(t)
	h.addWorkflow(t, "wf-cron", workflow.WorkflowActive, map[string]any{"scheduleType": "cron", "cron": "every tuesday"})
	h.addWorkflow(t, "wf-past", workflow.WorkflowActive, map[string]any{"scheduleType": "fixed", "fixedTime": "2025-12-31T09:00"})
	h.addWorkflow(t, "wf-draft", workflow.WorkflowDraft, map[string]any{"scheduleType": "interval"})
	h.addWorkflow(t, "wf-ok", workflow.WorkflowActive, map[string]any{"scheduleType": "cron", "cron": "@hourly"})
	h.start(t)

	jobs := h.sched.Jobs()
	if len(jobs) != 1 || jobs[0].WorkflowID != "wf-ok" || jobs[0].Kind != KindCron {
		t.Fatalf("expected only the valid cron job, got %+v", jobs)
	}
}

func TestSyncReschedulesOnChangeAndPrunes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addWorkflow(t, "wf-r", workflow.WorkflowActive, map[string]any{"interval": 5})
	h.start(t)

	nodes := []workflow.Node{{ID: "trigger", Type: workflow.NodeTrigger, Subtype: workflow.SubtypeSchedule, Config: map[string]any{"interval": 10, "label": "ignored"}}}
	if _, err := h.store.UpdateWorkflow(ctx, "wf-r", workflow.WorkflowPatch{Nodes: nodes}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := h.sched.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	jobs := h.sched.Jobs()
	if len(jobs) != 1 || jobs[0].Expression != "*/10 * * * *" {
		t.Fatalf("expected re-registered job, got %+v", jobs)
	}

	draft := workflow.WorkflowDraft
	if _, err := h.store.UpdateWorkflow(ctx, "wf-r", workflow.WorkflowPatch{Status: &draft}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if err := h.sched.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if jobs := h.sched.Jobs(); len(jobs) != 0 {
		t.Fatalf("inactive workflow should be pruned: %+v", jobs)
	}
}

func TestFiringSkipsWorkflowDeactivatedSinceSync(t *testing.T) {
	h := newHarness(t)
	h.addWorkflow(t, "wf-d", workflow.WorkflowActive, map[string]any{"interval": 1})
	h.start(t)
	h.waitTimers(t, 2)

	draft := workflow.WorkflowDraft
	if _, err := h.store.UpdateWorkflow(context.Background(), "wf-d", workflow.WorkflowPatch{Status: &draft}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	h.sched.mu.Lock()
	j := h.sched.jobs[JobKey("wf-d", "trigger")]
	h.sched.mu.Unlock()
	h.sched.execute(context.Background(), j, h.clock.Now())
	if n := h.exec.count(); n != 0 {
		t.Fatalf("inactive workflow must not run, got %d executions", n)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.addWorkflow(t, "wf-x", workflow.WorkflowActive, map[string]any{"interval": 5})
	h.start(t)

	key := JobKey("wf-x", "trigger")
	if !h.sched.Stop(key) {
		t.Fatalf("expected first stop to succeed")
	}
	if h.sched.Stop(key) {
		t.Fatalf("second stop should report false")
	}
	if h.sched.Stop("workflow_nope_node_nope") {
		t.Fatalf("unknown job should report false")
	}
}

func TestLifecycleErrors(t *testing.T) {
	h := newHarness(t)
	if err := h.sched.Shutdown(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	h.start(t)
	if err := h.sched.Init(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
}

func TestShutdownWaitsForInflight(t *testing.T) {
	h := newHarness(t)
	h.exec.release = make(chan struct{})
	h.addWorkflow(t, "wf-w", workflow.WorkflowActive, map[string]any{"interval": 1})
	if err := h.sched.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	h.waitTimers(t, 2)
	h.clock.Advance(time.Minute)
	h.waitFired(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := h.sched.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while execution in flight, got %v", err)
	}
	if jobs := h.sched.Jobs(); len(jobs) != 0 {
		t.Fatalf("jobs should be cleared on shutdown: %+v", jobs)
	}

	h2 := newHarness(t)
	h2.exec.release = make(chan struct{})
	h2.addWorkflow(t, "wf-w", workflow.WorkflowActive, map[string]any{"interval": 1})
	if err := h2.sched.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	h2.waitTimers(t, 2)
	h2.clock.Advance(time.Minute)
	h2.waitFired(t)
	close(h2.exec.release)
	if err := h2.sched.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown after release: %v", err)
	}
}
