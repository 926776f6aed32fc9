package integrations

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jonboulle/clockwork"
)

type recordingMailer struct {
	sent []Message
	id   string
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.sent = append(m.sent, msg)
	return m.id, nil
}

var mailEpoch = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

func TestValidEmail(t *testing.T) {
	cases := map[string]bool{
		"ada@example.com":      true,
		"a.b+tag@sub.corp.io":  true,
		"no-at-sign.com":       false,
		"ada@localhost":        false,
		"ada@example.c":        false,
		" ada@example.com":     false,
		"{{ data.recipient }}": false,
	}
	for addr, want := range cases {
		if got := ValidEmail(addr); got != want {
			t.Fatalf("ValidEmail(%q) = %v, want %v", addr, got, want)
		}
	}
}

func TestEmailRejectsInvalidRecipient(t *testing.T) {
	res, err := NewEmail(nil, nil).Handle(context.Background(), map[string]any{"recipient": "nobody"}, nil)
	if err != nil || res["success"] != false || res["message"] != "Invalid email address" || res["status"] != "failed" {
		t.Fatalf("unexpected result: %#v %v", res, err)
	}
}

func TestEmailSimulatedDelivery(t *testing.T) {
	clock := clockwork.NewFakeClockAt(mailEpoch)
	res, err := NewEmail(nil, clock).Handle(context.Background(), map[string]any{"recipient": "ada@example.com", "subject": "hi"}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res["service"] != "smtp" || res["status"] != "sent" || res["message"] != "Email sent successfully" {
		t.Fatalf("unexpected result: %#v", res)
	}
	id, _ := res["messageId"].(string)
	if !strings.HasPrefix(id, "<1775118600000.") || !strings.HasSuffix(id, "@smtp.example.com>") {
		t.Fatalf("unexpected message id %q", id)
	}
	if res["timestamp"] != mailEpoch.Format(time.RFC3339Nano) {
		t.Fatalf("unexpected timestamp %v", res["timestamp"])
	}
}

func TestEmailUsesRegisteredMailer(t *testing.T) {
	mailer := &recordingMailer{id: "ses-123"}
	h := NewEmail(map[string]Mailer{"SES": mailer}, clockwork.NewFakeClockAt(mailEpoch))
	res, err := h.Handle(context.Background(), map[string]any{"recipient": "ada@example.com", "subject": "s", "body": "b", "service": "ses"}, nil)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res["messageId"] != "ses-123" || len(mailer.sent) != 1 || mailer.sent[0].Body != "b" {
		t.Fatalf("unexpected delivery: %#v %+v", res, mailer.sent)
	}

	mailer.err = errors.New("throttled")
	if _, err := h.Handle(context.Background(), map[string]any{"recipient": "ada@example.com", "service": "ses"}, nil); err == nil || !strings.Contains(err.Error(), "throttled") {
		t.Fatalf("expected mailer error, got %v", err)
	}
}

func TestSMTPMailerBuildsMessage(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.example.com", Username: "bot@example.com", Password: "pw"})
	m.now = func() time.Time { return mailEpoch }
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	m.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		if a == nil {
			t.Fatalf("expected auth for configured username")
		}
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}
	id, err := m.Send(context.Background(), Message{To: "ada@example.com", Subject: "line\r\nBcc: evil@x.io", Body: "hello"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotAddr != "mail.example.com:587" || gotFrom != "bot@example.com" || len(gotTo) != 1 || gotTo[0] != "ada@example.com" {
		t.Fatalf("unexpected envelope: %s %s %v", gotAddr, gotFrom, gotTo)
	}
	text := string(gotMsg)
	if !strings.Contains(text, "Subject: line  Bcc: evil@x.io\r\n") || !strings.Contains(text, "Message-ID: "+id) || !strings.HasSuffix(text, "\r\n\r\nhello") {
		t.Fatalf("unexpected message:\n%s", text)
	}
}

func TestSMTPMailerRequiresSender(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "mail.example.com"})
	if _, err := m.Send(context.Background(), Message{To: "a@b.io"}); err == nil {
		t.Fatalf("expected missing sender error")
	}
	if (SMTPConfig{}).Enabled() {
		t.Fatalf("empty config should be disabled")
	}
}

type stubSES struct {
	in *sesv2.SendEmailInput
}

func (s *stubSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	s.in = in
	return &sesv2.SendEmailOutput{MessageId: aws.String("0100-abc")}, nil
}

func TestSESMailerSend(t *testing.T) {
	api := &stubSES{}
	m := &SESMailer{api: api, from: "noreply@example.com"}
	id, err := m.Send(context.Background(), Message{To: "ada@example.com", Subject: "s", Body: "b"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "0100-abc" {
		t.Fatalf("unexpected id %q", id)
	}
	if aws.ToString(api.in.FromEmailAddress) != "noreply@example.com" || api.in.Destination.ToAddresses[0] != "ada@example.com" {
		t.Fatalf("unexpected input: %+v", api.in)
	}
	if aws.ToString(api.in.Content.Simple.Body.Text.Data) != "b" {
		t.Fatalf("unexpected body")
	}
	if _, err := NewSESMailer(context.Background(), SESConfig{}); err == nil {
		t.Fatalf("expected missing sender error")
	}
}
