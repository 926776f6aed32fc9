package integrations

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
)

func TestSlackRequiresMessage(t *testing.T) {
	res, err := NewSlack(nil, "").Handle(context.Background(), map[string]any{"channel": "#ops"}, nil)
	if err != nil || res["success"] != false || res["message"] != "Message is required" {
		t.Fatalf("expected missing message result: %#v %v", res, err)
	}
}

func TestSlackLogsWithoutWebhook(t *testing.T) {
	msg := strings.Repeat("x", 60)
	res, err := NewSlack(nil, "").Handle(context.Background(), map[string]any{"channel": "#ops", "message": msg}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	details, _ := res["details"].(map[string]any)
	if details["username"] != defaultSlackUsername || details["delivered"] != false {
		t.Fatalf("unexpected details: %#v", details)
	}
	if details["messagePreview"] != strings.Repeat("x", 50)+"..." {
		t.Fatalf("unexpected preview: %q", details["messagePreview"])
	}
	if res["message"] != "Slack notification sent successfully" {
		t.Fatalf("unexpected message: %v", res["message"])
	}
}

func TestSlackPostsToWebhook(t *testing.T) {
	var got slackPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	res, err := NewSlack(srv.Client(), srv.URL).Handle(context.Background(), map[string]any{
		"channel":  "#ops",
		"message":  "deploy done",
		"username": "ci",
	}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if got.Channel != "#ops" || got.Text != "deploy done" || got.Username != "ci" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	details, _ := res["details"].(map[string]any)
	if details["delivered"] != true || details["messagePreview"] != "deploy done" {
		t.Fatalf("unexpected details: %#v", details)
	}
}

func TestSlackWebhookRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewSlack(srv.Client(), "").Handle(context.Background(), map[string]any{"message": "hi", "webhookUrl": srv.URL}, nil)
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 failure, got %v", err)
	}
}
