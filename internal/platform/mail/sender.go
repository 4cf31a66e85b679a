package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"
)

var (
	ErrRecipientRequired = errors.New("mail: recipient is required")
	ErrSubjectRequired   = errors.New("mail: subject is required")
)

// Attachment is a file sent alongside a message.
type Attachment struct {
	Name string
	Data []byte
}

// Message describes a single transactional email.
type Message struct {
	To          string
	Subject     string
	Text        string
	HTML        string
	Tags        []string
	Attachments []Attachment
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrRecipientRequired
	}
	if strings.TrimSpace(m.Subject) == "" {
		return ErrSubjectRequired
	}
	return nil
}

// Sender delivers messages and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// mailgunClient is the subset of mailgun.Mailgun the sender relies on.
type mailgunClient interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

// MailgunConfig configures the Mailgun sender.
type MailgunConfig struct {
	Domain     string
	APIKey     string
	From       string
	EUEndpoint bool
	Timeout    time.Duration
}

// MailgunSender sends messages through the Mailgun HTTP API.
type MailgunSender struct {
	client  mailgunClient
	from    string
	timeout time.Duration
	logger  *zap.Logger
}

// NewMailgunSender validates cfg and constructs the sender.
func NewMailgunSender(cfg MailgunConfig, logger *zap.Logger) (*MailgunSender, error) {
	domain := strings.TrimSpace(cfg.Domain)
	key := strings.TrimSpace(cfg.APIKey)
	if domain == "" || key == "" {
		return nil, errors.New("mail: mailgun domain and api key are required")
	}
	mg := mailgun.NewMailgun(domain, key)
	if cfg.EUEndpoint {
		mg.SetAPIBase(mailgun.APIBaseEU)
	}
	return newMailgunSender(mg, cfg, logger)
}

func newMailgunSender(client mailgunClient, cfg MailgunConfig, logger *zap.Logger) (*MailgunSender, error) {
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("mail: sender address is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MailgunSender{client: client, from: from, timeout: timeout, logger: logger.Named("mail")}, nil
}

// Send delivers msg and returns the Mailgun message id.
func (s *MailgunSender) Send(ctx context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	message := s.client.NewMessage(s.from, msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	for _, tag := range msg.Tags {
		if err := message.AddTag(tag); err != nil {
			return "", fmt.Errorf("mail: add tag: %w", err)
		}
	}
	for _, att := range msg.Attachments {
		message.AddBufferAttachment(att.Name, att.Data)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, id, err := s.client.Send(ctx, message)
	if err != nil {
		s.logger.Warn("mailgun send failed", zap.Error(err), zap.String("to", msg.To), zap.String("response", resp))
		return "", fmt.Errorf("mail: mailgun send: %w", err)
	}
	s.logger.Info("mail sent", zap.String("to", msg.To), zap.String("id", id))
	return id, nil
}

// LogSender records messages in the log instead of sending them. Used when no provider is configured.
type LogSender struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail"), now: time.Now}
}

// Send logs the message and returns a synthetic id.
func (s *LogSender) Send(_ context.Context, msg Message) (string, error) {
	if err := msg.validate(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("log-%d", s.now().UnixNano())
	names := make([]string, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		names = append(names, att.Name)
	}
	s.logger.Info("mail suppressed",
		zap.String("id", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Strings("attachments", names),
	)
	return id, nil
}
