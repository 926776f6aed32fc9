package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/cordum/flowline/core/infra/bus"
	"github.com/cordum/flowline/core/workflow"
)

const sampleWorkflow = `
name: nightly report
nodes:
  - id: start
    type: trigger
    subtype: schedule
    config:
      scheduleType: interval
      interval: 2
      intervalUnit: hours
  - id: check
    type: logic
    subtype: condition
    config:
      condition: data.total > 10
  - id: notify
    type: action
    subtype: slack
    config:
      message: "total is {{ data.total }}"
edges:
  - {id: e1, source: start, target: check}
  - {id: e2, source: check, target: notify, label: "True"}
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestEnvOr(t *testing.T) {
	t.Setenv("TEST_ENV", "")
	if got := envOr("TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback value")
	}
	t.Setenv("TEST_ENV", " value ")
	if got := envOr("TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected trimmed env value")
	}
}

func TestNewFlagSetDefaults(t *testing.T) {
	t.Setenv("NATS_URL", "nats://example:4222")
	fs := newFlagSet("test")
	if *fs.natsURL != "nats://example:4222" {
		t.Fatalf("expected nats url from env, got %s", *fs.natsURL)
	}
}

func TestLoadWorkflowYAMLAndJSON(t *testing.T) {
	wf, err := loadWorkflow(writeFile(t, "wf.yaml", sampleWorkflow))
	if err != nil {
		t.Fatalf("load yaml: %v", err)
	}
	if wf.Name != "nightly report" || len(wf.Nodes) != 3 || wf.Edges[1].Label != "True" {
		t.Fatalf("unexpected workflow: %+v", wf)
	}
	js := `{"name":"json","nodes":[{"id":"a","type":"trigger","subtype":"manual"}],"edges":[]}`
	wf, err = loadWorkflow(writeFile(t, "wf.json", js))
	if err != nil || wf.Name != "json" || wf.Nodes[0].ID != "a" {
		t.Fatalf("load json: %+v %v", wf, err)
	}
	if _, err := loadWorkflow(writeFile(t, "bad.yaml", "nodes: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateCmd(t *testing.T) {
	var out bytes.Buffer
	if err := runValidateCmd([]string{writeFile(t, "wf.yaml", sampleWorkflow)}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "ok (3 nodes, 2 edges, 1 start nodes)") {
		t.Fatalf("unexpected output: %s", out.String())
	}

	out.Reset()
	bad := writeFile(t, "bad.yaml", "nodes:\n  - id: a\n    subtype: loop\n    config: {loopType: forever}\n")
	if err := runValidateCmd([]string{bad}, &out); err == nil {
		t.Fatalf("expected invalid workflow")
	}
	if !strings.Contains(out.String(), "name is required") {
		t.Fatalf("expected problems listed, got %s", out.String())
	}
}

func TestRunLocal(t *testing.T) {
	wf, err := loadWorkflow(writeFile(t, "wf.yaml", sampleWorkflow))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var events bytes.Buffer
	report, err := runLocal(context.Background(), wf, map[string]any{"total": 42}, localOptions{events: &events})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Execution.Status != workflow.ExecutionCompleted {
		t.Fatalf("expected completed, got %+v", report.Execution)
	}
	if len(report.Nodes) != 3 {
		t.Fatalf("expected 3 node records, got %d", len(report.Nodes))
	}
	if !strings.Contains(events.String(), string(workflow.EventExecutionCompleted)) {
		t.Fatalf("expected completion event, got %s", events.String())
	}

	report, err = runLocal(context.Background(), wf, map[string]any{"total": 1}, localOptions{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Nodes) != 2 {
		t.Fatalf("false branch should skip notify, got %d records", len(report.Nodes))
	}
}

func TestRunCmdPrintsReport(t *testing.T) {
	path := writeFile(t, "wf.yaml", sampleWorkflow)
	input := writeFile(t, "in.json", `{"total": 11}`)
	var stdout, stderr bytes.Buffer
	if err := runRunCmd([]string{"--input", input, path}, &stdout, &stderr); err != nil {
		t.Fatalf("run cmd: %v", err)
	}
	var report runReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, stdout.String())
	}
	if report.Execution == nil || report.Execution.Status != workflow.ExecutionCompleted {
		t.Fatalf("unexpected report: %s", stdout.String())
	}
}

func TestPrintSchedule(t *testing.T) {
	wf, err := loadWorkflow(writeFile(t, "wf.yaml", sampleWorkflow))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var out bytes.Buffer
	now := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	if err := printSchedule(&out, wf, now, 2); err != nil {
		t.Fatalf("print: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "2026-06-01T10:00:00Z") || !strings.Contains(got, "2026-06-01T12:00:00Z") {
		t.Fatalf("unexpected schedule output:\n%s", got)
	}

	out.Reset()
	if err := printSchedule(&out, &workflow.Workflow{}, now, 1); err != nil || !strings.Contains(out.String(), "no schedule triggers") {
		t.Fatalf("expected empty notice, got %q %v", out.String(), err)
	}
}

func TestTemplatesCmd(t *testing.T) {
	var out bytes.Buffer
	if err := runTemplatesCmd([]string{"list"}, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "customer-onboarding") {
		t.Fatalf("expected catalog listing, got %s", out.String())
	}
	out.Reset()
	if err := runTemplatesCmd([]string{"show", "approval"}, &out); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out.String(), "status: draft") || !strings.Contains(out.String(), "Check Approval") {
		t.Fatalf("unexpected template yaml: %s", out.String())
	}
	if err := runTemplatesCmd([]string{"show", "missing"}, &out); err == nil {
		t.Fatalf("expected unknown template error")
	}
}

type stubRequester struct {
	got   bus.RunRequest
	reply bus.RunReply
	err   error
}

func (s *stubRequester) Request(subject string, v, out any, _ time.Duration) error {
	if subject != bus.SubjectRun {
		return errors.New("wrong subject " + subject)
	}
	s.got = v.(bus.RunRequest)
	if s.err != nil {
		return s.err
	}
	*(out.(*bus.RunReply)) = s.reply
	return nil
}

func TestTrigger(t *testing.T) {
	r := &stubRequester{reply: bus.RunReply{ExecutionID: "ex-1", Status: "running"}}
	reply, err := trigger(r, bus.RunRequest{WorkflowID: "wf-1"}, time.Second)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if reply.ExecutionID != "ex-1" || r.got.RequestID == "" || r.got.WorkflowID != "wf-1" {
		t.Fatalf("unexpected exchange: %+v %+v", reply, r.got)
	}

	r = &stubRequester{reply: bus.RunReply{Error: "run workflow: not found"}}
	if _, err := trigger(r, bus.RunRequest{WorkflowID: "ghost"}, time.Second); err == nil {
		t.Fatalf("expected error reply to surface")
	}
	r = &stubRequester{err: errors.New("timeout")}
	if _, err := trigger(r, bus.RunRequest{WorkflowID: "wf"}, time.Second); err == nil {
		t.Fatalf("expected request error")
	}
}
