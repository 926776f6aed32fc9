package integrations

import (
	"context"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/cordum/flowline/core/infra/logging"
	"github.com/cordum/flowline/core/workflow"
)

const defaultEmailService = "smtp"

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Message is one outgoing email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message and returns the provider's message id.
type Mailer interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Email sends mail through the mailer registered for the node's service.
// Services without a mailer record a simulated delivery.
type Email struct {
	mailers map[string]Mailer
	clock   clockwork.Clock
}

func NewEmail(mailers map[string]Mailer, clock clockwork.Clock) *Email {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	m := make(map[string]Mailer, len(mailers))
	for k, v := range mailers {
		if v != nil {
			m[strings.ToLower(k)] = v
		}
	}
	return &Email{mailers: m, clock: clock}
}

// ValidEmail reports whether addr looks like a deliverable address.
func ValidEmail(addr string) bool {
	return emailPattern.MatchString(addr)
}

func (e *Email) Handle(ctx context.Context, config, _ map[string]any) (map[string]any, error) {
	var cfg workflow.EmailConfig
	if err := workflow.DecodeConfig(config, &cfg); err != nil {
		return nil, fmt.Errorf("decode email config: %w", err)
	}
	to := strings.TrimSpace(cfg.Recipient)
	if !ValidEmail(to) {
		return reject("Invalid email address", "failed")
	}
	service := strings.ToLower(strings.TrimSpace(cfg.Service))
	if service == "" {
		service = defaultEmailService
	}
	now := e.clock.Now().UTC()

	var messageID string
	if mailer, ok := e.mailers[service]; ok {
		id, err := mailer.Send(ctx, Message{To: to, Subject: cfg.Subject, Body: cfg.Body})
		if err != nil {
			return fail(fmt.Sprintf("send email via %s: %v", service, err), "error")
		}
		messageID = id
	} else {
		logging.Info(component, "simulated email delivery", "service", service, "to", to, "subject", cfg.Subject)
	}
	if messageID == "" {
		messageID = simulatedMessageID(now, service)
	}
	return map[string]any{
		"success":   true,
		"message":   "Email sent successfully",
		"messageId": messageID,
		"service":   service,
		"timestamp": now.Format(time.RFC3339Nano),
		"status":    "sent",
	}, nil
}

func simulatedMessageID(now time.Time, service string) string {
	return fmt.Sprintf("<%d.%s@%s.example.com>", now.UnixMilli(), randomToken(), service)
}

func randomToken() string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 10)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
