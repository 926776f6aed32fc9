package logging

import (
	"bytes"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(nil) })
	return &buf
}

func TestInfoTextFormat(t *testing.T) {
	t.Setenv(envLogFormat, "")
	buf := captureOutput(t)

	Info("worker", "hello", "key", "val")
	got := strings.TrimSpace(buf.String())
	if !strings.Contains(got, "[INFO]") || !strings.Contains(got, "flowline.worker") {
		t.Fatalf("unexpected log output: %s", got)
	}
	if !strings.Contains(got, "hello") || !strings.Contains(got, "key=val") {
		t.Fatalf("missing message or fields: %s", got)
	}
}

func TestErrorJSONFormat(t *testing.T) {
	t.Setenv(envLogFormat, "json")
	buf := captureOutput(t)

	Error("gateway", "boom", "code", 500)
	line := strings.TrimSpace(buf.String())
	var payload map[string]any
	if err := json.Unmarshal([]byte(line), &payload); err != nil {
		t.Fatalf("expected json output, got: %s", line)
	}
	if payload["@level"] != "error" || payload["@message"] != "boom" {
		t.Fatalf("unexpected json payload: %#v", payload)
	}
	if mod, _ := payload["@module"].(string); !strings.Contains(mod, "gateway") {
		t.Fatalf("expected component in module, got %#v", payload["@module"])
	}
}

func TestDebugSuppressedByDefault(t *testing.T) {
	t.Setenv(envLogLevel, "")
	buf := captureOutput(t)

	Debug("engine", "noisy")
	if buf.Len() != 0 {
		t.Fatalf("expected debug to be filtered, got %s", buf.String())
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv(envLogLevel, "debug")
	buf := captureOutput(t)

	Debug("engine", "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug output, got %q", buf.String())
	}
}
