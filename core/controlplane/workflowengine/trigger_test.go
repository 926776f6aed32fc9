package workflowengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cordum/flowline/core/infra/bus"
	"github.com/cordum/flowline/core/workflow"
)

type stubRunner struct {
	calls  []string
	data   map[string]any
	result *workflow.WorkflowExecution
	err    error
}

func (s *stubRunner) Run(_ context.Context, id string, data map[string]any) (*workflow.WorkflowExecution, error) {
	s.calls = append(s.calls, "run:"+id)
	s.data = data
	return s.result, s.err
}

func (s *stubRunner) Start(_ context.Context, id string, data map[string]any) (*workflow.WorkflowExecution, error) {
	s.calls = append(s.calls, "start:"+id)
	s.data = data
	return s.result, s.err
}

type stubSubscriber struct {
	subject, queue string
	handler        bus.Handler
	err            error
}

func (s *stubSubscriber) Subscribe(subject, queue string, h bus.Handler) error {
	s.subject, s.queue, s.handler = subject, queue, h
	return s.err
}

func runMessage(t *testing.T, req bus.RunRequest) *bus.Message {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &bus.Message{Subject: bus.SubjectRun, Data: data}
}

func TestRunTriggerSubscribes(t *testing.T) {
	sub := &stubSubscriber{}
	if err := newRunTrigger(context.Background(), &stubRunner{}).subscribe(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.subject != bus.SubjectRun || sub.queue != runQueue || sub.handler == nil {
		t.Fatalf("unexpected subscription: %+v", sub)
	}
	failing := &stubSubscriber{err: errors.New("no conn")}
	if err := newRunTrigger(context.Background(), &stubRunner{}).subscribe(failing); err == nil {
		t.Fatalf("expected subscribe error")
	}
}

func TestRunTriggerStartsInBackground(t *testing.T) {
	runner := &stubRunner{result: &workflow.WorkflowExecution{ID: "ex-1", Status: workflow.ExecutionRunning}}
	trig := newRunTrigger(context.Background(), runner)

	reply, err := trig.handle(runMessage(t, bus.RunRequest{WorkflowID: "wf-1", Data: map[string]any{"x": 1}}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, ok := reply.(bus.RunReply)
	if !ok || got.ExecutionID != "ex-1" || got.Status != "running" || got.Error != "" {
		t.Fatalf("unexpected reply: %#v", reply)
	}
	if len(runner.calls) != 1 || runner.calls[0] != "start:wf-1" {
		t.Fatalf("expected start call, got %v", runner.calls)
	}
	if runner.data[workflow.KeySource] != "bus" {
		t.Fatalf("expected bus source marker, got %v", runner.data)
	}
}

func TestRunTriggerWaitReportsFailure(t *testing.T) {
	runner := &stubRunner{
		result: &workflow.WorkflowExecution{ID: "ex-2", Status: workflow.ExecutionFailed},
		err:    errors.New("node b failed"),
	}
	reply, err := newRunTrigger(context.Background(), runner).handle(runMessage(t, bus.RunRequest{WorkflowID: "wf-2", Wait: true}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := reply.(bus.RunReply)
	if got.Status != "failed" || got.Error != "node b failed" {
		t.Fatalf("unexpected reply: %+v", got)
	}
	if runner.calls[0] != "run:wf-2" {
		t.Fatalf("expected synchronous run, got %v", runner.calls)
	}
}

func TestRunTriggerErrors(t *testing.T) {
	trig := newRunTrigger(context.Background(), &stubRunner{})
	if _, err := trig.handle(&bus.Message{Data: []byte("{bad")}); err == nil {
		t.Fatalf("expected decode error")
	}
	reply, err := trig.handle(runMessage(t, bus.RunRequest{}))
	if err != nil || reply.(bus.RunReply).Error == "" {
		t.Fatalf("expected missing id reply, got %#v %v", reply, err)
	}

	missing := &stubRunner{err: fmt.Errorf("start workflow: %w", workflow.ErrNotFound)}
	reply, err = newRunTrigger(context.Background(), missing).handle(runMessage(t, bus.RunRequest{WorkflowID: "ghost"}))
	if err != nil {
		t.Fatalf("unknown workflow should be acked: %v", err)
	}
	if reply.(bus.RunReply).Error == "" {
		t.Fatalf("expected error in reply")
	}

	down := &stubRunner{err: errors.New("redis down")}
	_, err = newRunTrigger(context.Background(), down).handle(runMessage(t, bus.RunRequest{WorkflowID: "wf"}))
	if delay, ok := bus.RetryDelay(err); !ok || delay != time.Second {
		t.Fatalf("expected redelivery after 1s, got %v ok=%v", delay, ok)
	}
}
