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

const maxResponseBytes = 4 << 20

// Webhook calls an HTTP endpoint and returns the decoded response.
type Webhook struct {
	client Doer
}

func NewWebhook(client Doer) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Webhook{client: client}
}

func (w *Webhook) Handle(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	var cfg workflow.WebhookConfig
	if err := workflow.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode webhook config: %w", err)
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return reject("URL is required", "failed")
	}
	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}
	headers := parseHeaders(cfg.Headers)

	var body io.Reader
	if method != http.MethodGet && cfg.Body != nil && cfg.Body != "" {
		payload, err := encodeBody(cfg.Body)
		if err != nil {
			return fail(err.Error(), "error")
		}
		body = bytes.NewReader(payload)
		if !hasHeader(headers, "Content-Type") {
			headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return fail(err.Error(), "error")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fail(err.Error(), "error")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(fmt.Sprintf("read response: %v", err), "error")
	}
	response := decodeResponse(resp.Header.Get("Content-Type"), raw)

	result := map[string]any{
		"success":    resp.StatusCode >= 200 && resp.StatusCode < 300,
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"response":   response,
		"headers":    flattenHeaders(resp.Header),
	}
	if cfg.ResponseMapping != "" {
		if m, ok := response.(map[string]any); ok {
			if v, ok := workflow.Dig(m, cfg.ResponseMapping); ok {
				result["mappedData"] = v
			}
		}
	}
	return result, nil
}

// parseHeaders accepts a header map or its JSON text. Malformed headers are
// logged and ignored.
func parseHeaders(raw any) map[string]string {
	out := map[string]string{}
	switch h := raw.(type) {
	case nil:
	case string:
		if strings.TrimSpace(h) == "" {
			break
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(h), &m); err != nil {
			logging.Warn(component, "ignoring malformed webhook headers", "error", err)
			break
		}
		for k, v := range m {
			out[k] = fmt.Sprint(v)
		}
	case map[string]any:
		for k, v := range h {
			out[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range h {
			out[k] = v
		}
	default:
		logging.Warn(component, "ignoring webhook headers of unexpected type", "type", fmt.Sprintf("%T", raw))
	}
	return out
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func encodeBody(body any) ([]byte, error) {
	if s, ok := body.(string); ok {
		return []byte(s), nil
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return payload, nil
}

func decodeResponse(contentType string, raw []byte) any {
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			return v
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k := range h {
		out[strings.ToLower(k)] = h.Get(k)
	}
	return out
}
