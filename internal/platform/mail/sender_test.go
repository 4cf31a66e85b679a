package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeMailgun struct {
	impl *mailgun.MailgunImpl
	sent []*mailgun.Message
	err  error
}

func (f *fakeMailgun) NewMessage(from, subject, text string, to ...string) *mailgun.Message {
	return f.impl.NewMessage(from, subject, text, to...)
}

func (f *fakeMailgun) Send(_ context.Context, m *mailgun.Message) (string, string, error) {
	if f.err != nil {
		return "rejected", "", f.err
	}
	f.sent = append(f.sent, m)
	return "Queued. Thank you.", "<msg-1@mg.example.com>", nil
}

func newFake() *fakeMailgun {
	return &fakeMailgun{impl: mailgun.NewMailgun("mg.example.com", "key-test")}
}

func TestMailgunSenderSend(t *testing.T) {
	fake := newFake()
	sender, err := newMailgunSender(fake, MailgunConfig{From: "Billing <billing@example.com>"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	id, err := sender.Send(context.Background(), Message{
		To:          "payer@example.com",
		Subject:     "Invoice INV-202510-00001",
		Text:        "Your invoice is attached.",
		HTML:        "<p>Your invoice is attached.</p>",
		Tags:        []string{"invoice"},
		Attachments: []Attachment{{Name: "INV-202510-00001.pdf", Data: []byte("%PDF")}},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if id != "<msg-1@mg.example.com>" {
		t.Fatalf("unexpected id %q", id)
	}
	if len(fake.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(fake.sent))
	}
}

func TestMailgunSenderValidates(t *testing.T) {
	sender, err := newMailgunSender(newFake(), MailgunConfig{From: "billing@example.com"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := sender.Send(context.Background(), Message{Subject: "x"}); !errors.Is(err, ErrRecipientRequired) {
		t.Fatalf("expected ErrRecipientRequired, got %v", err)
	}
	if _, err := sender.Send(context.Background(), Message{To: "a@b.c"}); !errors.Is(err, ErrSubjectRequired) {
		t.Fatalf("expected ErrSubjectRequired, got %v", err)
	}
}

func TestMailgunSenderWrapsProviderError(t *testing.T) {
	fake := newFake()
	fake.err = errors.New("401 unauthorized")
	sender, _ := newMailgunSender(fake, MailgunConfig{From: "billing@example.com"}, nil)

	if _, err := sender.Send(context.Background(), Message{To: "a@b.c", Subject: "s"}); err == nil {
		t.Fatalf("expected provider error")
	}
}

func TestNewMailgunSenderRequiresCredentials(t *testing.T) {
	if _, err := NewMailgunSender(MailgunConfig{From: "billing@example.com"}, nil); err == nil {
		t.Fatalf("expected error without domain and key")
	}
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sender := NewLogSender(zap.New(core))
	sender.now = func() time.Time { return time.Unix(0, 42) }

	id, err := sender.Send(context.Background(), Message{To: "a@b.c", Subject: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "log-42" {
		t.Fatalf("unexpected id %q", id)
	}
	if logs.FilterMessage("mail suppressed").Len() != 1 {
		t.Fatalf("expected suppressed log entry")
	}
}
