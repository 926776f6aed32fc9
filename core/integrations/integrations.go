// Package integrations holds the bundled action handlers invoked by the
// workflow engine: webhooks, email, Slack, a Redis-backed record table and
// the informational schedule node.
package integrations

import (
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/cordum/flowline/core/workflow"
)

const (
	component          = "integrations"
	defaultHTTPTimeout = 30 * time.Second
)

// Doer sends HTTP requests. *http.Client and *httplb.Client both satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Failure is returned by handlers when the integration could not reach its
// backend. Result holds the structured failure payload. Rejected input is a
// plain result with success false, not a Failure.
type Failure struct {
	Result map[string]any
}

func (f *Failure) Error() string {
	if msg, ok := f.Result["message"].(string); ok && msg != "" {
		return msg
	}
	return "integration failed"
}

func fail(message, status string) (map[string]any, error) {
	res, _ := reject(message, status)
	return res, &Failure{Result: res}
}

// reject reports input the integration refused to act on. The node
// completes and downstream nodes see success false.
func reject(message, status string) (map[string]any, error) {
	res := map[string]any{"success": false, "message": message}
	if status != "" {
		res["status"] = status
	}
	return res, nil
}

// Deps carries the shared clients used by the default handlers. Zero values
// select safe fallbacks: a plain HTTP client, simulated email delivery and a
// disabled database integration.
type Deps struct {
	HTTP            Doer
	Redis           redis.UniversalClient
	Mailers         map[string]Mailer
	SlackWebhookURL string
	Clock           clockwork.Clock
}

// RegisterDefaults installs every bundled handler on reg.
func RegisterDefaults(reg *workflow.Registry, deps Deps) {
	if deps.HTTP == nil {
		deps.HTTP = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	reg.Register(workflow.SubtypeWebhook, NewWebhook(deps.HTTP))
	reg.Register(workflow.SubtypeEmail, NewEmail(deps.Mailers, deps.Clock))
	reg.Register(workflow.SubtypeSlack, NewSlack(deps.HTTP, deps.SlackWebhookURL))
	reg.Register(workflow.SubtypeDatabase, NewDatabase(deps.Redis))
	reg.Register(workflow.SubtypeSchedule, NewSchedule(deps.Clock))
}
