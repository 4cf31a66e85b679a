// Package invoicing turns issued invoices into documents: HTML, PDF archived in object storage, and the
// email that carries them to the payer.
package invoicing

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
)

const invoiceTemplate = `<!DOCTYPE html>
<html lang="{{.Lang}}" dir="{{.Dir}}">
<head>
<meta charset="utf-8">
<title>{{.Number}}</title>
<style>
body { font-family: "Noto Sans", "Noto Naskh Arabic", Arial, sans-serif; font-size: 12px; color: #1f2933; margin: 32px; }
h1 { font-size: 20px; margin: 0 0 4px; }
table { width: 100%; border-collapse: collapse; margin-top: 24px; }
th, td { padding: 8px; border-bottom: 1px solid #d9e2ec; text-align: start; }
td.num, th.num { text-align: end; }
.meta td { border: none; padding: 2px 8px 2px 0; }
.total td { font-weight: bold; border-top: 2px solid #1f2933; }
</style>
</head>
<body>
<h1>{{.Issuer}}</h1>
<table class="meta">
<tr><td>Invoice</td><td>{{.Number}}</td></tr>
<tr><td>Status</td><td>{{.Status}}</td></tr>
<tr><td>Issued</td><td>{{.IssueDate}}</td></tr>
<tr><td>Due</td><td>{{.DueDate}}</td></tr>
<tr><td>Payment</td><td>{{.PaymentID}} ({{.Method}})</td></tr>
{{- if .Reference}}
<tr><td>Reference</td><td>{{.Reference}}</td></tr>
{{- end}}
</table>
<table>
<thead><tr><th>Description</th><th class="num">Qty</th><th class="num">Unit</th><th class="num">Amount</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>{{.Description}}</td><td class="num">{{.Quantity}}</td><td class="num">{{.Unit}}</td><td class="num">{{.Amount}}</td></tr>
{{- end}}
{{- if .Refunded}}
<tr><td colspan="3">Refunded</td><td class="num">-{{.Refunded}}</td></tr>
{{- end}}
<tr class="total"><td colspan="3">Total</td><td class="num">{{.Total}}</td></tr>
</tbody>
</table>
</body>
</html>
`

// Renderer produces the HTML rendition of an invoice.
type Renderer struct {
	tmpl     *template.Template
	issuer   string
	lang     language.Tag
	location *time.Location
}

// RendererOption customises a Renderer.
type RendererOption func(*Renderer)

// WithLocale selects the language used for number formatting and text direction.
func WithLocale(locale string) RendererOption {
	return func(r *Renderer) {
		if tag, err := language.Parse(strings.TrimSpace(locale)); err == nil {
			r.lang = tag
		}
	}
}

// WithLocation renders dates in loc.
func WithLocation(loc *time.Location) RendererOption {
	return func(r *Renderer) {
		if loc != nil {
			r.location = loc
		}
	}
}

// NewRenderer parses the invoice template. issuer is printed as the document heading.
func NewRenderer(issuer string, opts ...RendererOption) (*Renderer, error) {
	tmpl, err := template.New("invoice").Parse(invoiceTemplate)
	if err != nil {
		return nil, fmt.Errorf("invoicing: parse template: %w", err)
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		issuer = "Customs Settlement"
	}
	r := &Renderer{tmpl: tmpl, issuer: issuer, lang: language.English, location: time.UTC}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

type lineView struct {
	Description string
	Quantity    int64
	Unit        string
	Amount      string
}

type invoiceView struct {
	Lang      string
	Dir       string
	Issuer    string
	Number    string
	Status    string
	IssueDate string
	DueDate   string
	PaymentID string
	Method    string
	Reference string
	Lines     []lineView
	Refunded  string
	Total     string
}

// Render executes the template for invoice and the payment it was issued from.
func (r *Renderer) Render(invoice domain.Invoice, payment domain.Payment) ([]byte, error) {
	if strings.TrimSpace(invoice.InvoiceNumber) == "" {
		return nil, fmt.Errorf("invoicing: invoice number is required")
	}
	printer := message.NewPrinter(r.lang)
	view := invoiceView{
		Lang:      r.lang.String(),
		Dir:       direction(r.lang),
		Issuer:    r.issuer,
		Number:    invoice.InvoiceNumber,
		Status:    string(invoice.Status),
		IssueDate: r.date(invoice.IssueDate),
		DueDate:   r.date(invoice.DueDate),
		PaymentID: invoice.PaymentID,
		Method:    string(payment.Method),
		Reference: payment.Metadata[domain.PaymentMetaGatewayRef],
		Total:     FormatAmount(printer, invoice.Total, invoice.Currency),
	}
	for _, item := range invoice.LineItems {
		view.Lines = append(view.Lines, lineView{
			Description: item.Description,
			Quantity:    item.Quantity,
			Unit:        FormatAmount(printer, item.UnitAmount, invoice.Currency),
			Amount:      FormatAmount(printer, item.Amount, invoice.Currency),
		})
	}
	if payment.RefundedAmount.IsPositive() {
		view.Refunded = FormatAmount(printer, payment.RefundedAmount, invoice.Currency)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("invoicing: render template: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *Renderer) date(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(r.location).Format("2006-01-02")
}

// FormatAmount prints amount grouped per the printer's locale with the currency's ISO scale, prefixed by
// the currency code.
func FormatAmount(printer *message.Printer, amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}
	rounded := amount.Round(int32(scale))
	whole := rounded.Truncate(0)
	grouped := printer.Sprintf("%d", whole.Abs().IntPart())
	out := grouped
	if scale > 0 {
		frac := rounded.Sub(whole).Abs().StringFixed(int32(scale))
		out += "." + strings.TrimPrefix(frac, "0.")
	}
	if rounded.IsNegative() {
		out = "-" + out
	}
	if code == "" {
		return out
	}
	return code + " " + out
}

func direction(tag language.Tag) string {
	base, _ := tag.Base()
	switch base.String() {
	case "ar", "he", "fa", "ur":
		return "rtl"
	default:
		return "ltr"
	}
}
