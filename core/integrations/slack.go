package integrations

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

const (
	defaultSlackUsername = "Workflow Bot"
	previewLength        = 50
)

// Slack posts a message to an incoming webhook. Without a webhook URL the
// notification is only logged.
type Slack struct {
	client     Doer
	webhookURL string
}

func NewSlack(client Doer, webhookURL string) *Slack {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Slack{client: client, webhookURL: webhookURL}
}

type slackPayload struct {
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
	Text     string `json:"text"`
}

func (s *Slack) Handle(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	var cfg workflow.SlackConfig
	if err := workflow.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode slack config: %w", err)
	}
	if strings.TrimSpace(cfg.Message) == "" {
		return reject("Message is required", "failed")
	}
	username := cfg.Username
	if username == "" {
		username = defaultSlackUsername
	}
	target := cfg.WebhookURL
	if target == "" {
		target = s.webhookURL
	}
	delivered := false
	if target != "" {
		if err := s.post(ctx, target, slackPayload{Channel: cfg.Channel, Username: username, Text: cfg.Message}); err != nil {
			return fail(err.Error(), "error")
		}
		delivered = true
	} else {
		logging.Info(component, "slack webhook not configured, notification logged", "channel", cfg.Channel)
	}
	return map[string]any{
		"success": true,
		"message": "Slack notification sent successfully",
		"details": map[string]any{
			"channel":        cfg.Channel,
			"username":       username,
			"messagePreview": preview(cfg.Message),
			"delivered":      delivered,
		},
	}, nil
}

func (s *Slack) post(ctx context.Context, url string, payload slackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func preview(msg string) string {
	r := []rune(msg)
	if len(r) <= previewLength {
		return msg
	}
	return string(r[:previewLength]) + "..."
}
