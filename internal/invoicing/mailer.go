package invoicing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/message"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/mail"
)

const mailTextTemplate = `Hello,

Your payment {{.PaymentID}} has been settled and invoice {{.Number}} was issued on {{.IssueDate}}.

Total: {{.Total}}
{{- if .URL}}

Download the PDF: {{.URL}}
{{- end}}

This is an automated message.
`

// Mailer emails invoice notifications through a mail.Sender.
type Mailer struct {
	sender   mail.Sender
	renderer *Renderer
	text     *template.Template
}

// NewMailer constructs a Mailer. The renderer supplies the HTML body and amount formatting.
func NewMailer(sender mail.Sender, renderer *Renderer) (*Mailer, error) {
	if sender == nil {
		return nil, errors.New("invoicing: mail sender is required")
	}
	if renderer == nil {
		return nil, errors.New("invoicing: renderer is required")
	}
	text, err := template.New("mail").Parse(mailTextTemplate)
	if err != nil {
		return nil, fmt.Errorf("invoicing: parse mail template: %w", err)
	}
	return &Mailer{sender: sender, renderer: renderer, text: text}, nil
}

type mailView struct {
	PaymentID string
	Number    string
	IssueDate string
	Total     string
	URL       string
}

// MailInvoice sends the invoice summary to recipient, embedding the rendered invoice as the HTML body and
// linking the archived PDF when one exists. It returns the provider message id.
func (m *Mailer) MailInvoice(ctx context.Context, invoice domain.Invoice, recipient string, document domain.InvoiceDocument) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", mail.ErrRecipientRequired
	}

	payment := domain.Payment{ID: invoice.PaymentID, Currency: invoice.Currency}
	html, err := m.renderer.Render(invoice, payment)
	if err != nil {
		return "", err
	}

	view := mailView{
		PaymentID: invoice.PaymentID,
		Number:    invoice.InvoiceNumber,
		IssueDate: m.renderer.date(invoice.IssueDate),
		Total:     FormatAmount(message.NewPrinter(m.renderer.lang), invoice.Total, invoice.Currency),
		URL:       document.URL,
	}
	var text bytes.Buffer
	if err := m.text.Execute(&text, view); err != nil {
		return "", fmt.Errorf("invoicing: render mail: %w", err)
	}

	return m.sender.Send(ctx, mail.Message{
		To:      recipient,
		Subject: fmt.Sprintf("Invoice %s", invoice.InvoiceNumber),
		Text:    text.String(),
		HTML:    string(html),
		Tags:    []string{"invoice"},
	})
}
