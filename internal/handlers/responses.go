package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

type paymentResponse struct {
	ID               string            `json:"id"`
	UserID           string            `json:"userId"`
	Amount           string            `json:"amount"`
	Currency         string            `json:"currency"`
	Method           string            `json:"method"`
	Status           string            `json:"status"`
	Description      string            `json:"description,omitempty"`
	InvoiceNumber    string            `json:"invoiceNumber"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	RefundedAmount   string            `json:"refundedAmount"`
	RefundableAmount string            `json:"refundableAmount"`
	Refunds          []refundResponse  `json:"refunds,omitempty"`
	CreatedAt        string            `json:"createdAt"`
	UpdatedAt        string            `json:"updatedAt"`
	ProcessedAt      string            `json:"processedAt,omitempty"`
	CompletedAt      string            `json:"completedAt,omitempty"`
	FailedAt         string            `json:"failedAt,omitempty"`
	RefundedAt       string            `json:"refundedAt,omitempty"`
	CancelledAt      string            `json:"cancelledAt,omitempty"`
}

type refundResponse struct {
	ID         string `json:"id"`
	Amount     string `json:"amount"`
	Reason     string `json:"reason"`
	Note       string `json:"note,omitempty"`
	Status     string `json:"status"`
	GatewayRef string `json:"gatewayRef,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

type statsResponse struct {
	UserID                string            `json:"userId"`
	Total                 int               `json:"total"`
	CountByStatus         map[string]int    `json:"countByStatus"`
	AmountByStatus        map[string]string `json:"amountByStatus"`
	AverageCompletedValue string            `json:"averageCompletedValue"`
	RefundedTotal         string            `json:"refundedTotal"`
	Currencies            []string          `json:"currencies"`
}

type invoiceResponse struct {
	ID            string                `json:"id"`
	InvoiceNumber string                `json:"invoiceNumber"`
	PaymentID     string                `json:"paymentId"`
	UserID        string                `json:"userId"`
	Currency      string                `json:"currency"`
	Status        string                `json:"status"`
	Total         string                `json:"total"`
	LineItems     []invoiceLineResponse `json:"lineItems"`
	IssueDate     string                `json:"issueDate"`
	DueDate       string                `json:"dueDate"`
	Delivery      deliveryResponse      `json:"delivery"`
}

type invoiceLineResponse struct {
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitAmount  string `json:"unitAmount"`
	Amount      string `json:"amount"`
}

type deliveryResponse struct {
	HostedInvoiceURL string `json:"hostedInvoiceUrl,omitempty"`
	PDFURL           string `json:"pdfUrl,omitempty"`
	EmailedTo        string `json:"emailedTo,omitempty"`
	LastError        string `json:"lastError,omitempty"`
	Attempts         int    `json:"attempts"`
	DeliveredAt      string `json:"deliveredAt,omitempty"`
}

type breakdownResponse struct {
	FOBValue       string `json:"fobValue"`
	FreightCost    string `json:"freightCost"`
	InsuranceCost  string `json:"insuranceCost"`
	DutyRate       string `json:"dutyRate"`
	TaxRate        string `json:"taxRate"`
	AdditionalFees string `json:"additionalFees"`
	CIF            string `json:"cifValue"`
	CustomsDuty    string `json:"customsDuty"`
	Subtotal       string `json:"subtotal"`
	SalesTax       string `json:"salesTax"`
	TotalCost      string `json:"totalCost"`
}

type varianceResponse struct {
	Component       string  `json:"component"`
	Actual          string  `json:"actual"`
	Estimated       string  `json:"estimated"`
	Variance        string  `json:"variance"`
	VariancePercent *string `json:"variancePercent"`
}

func newPaymentResponse(p services.Payment) paymentResponse {
	resp := paymentResponse{
		ID:               p.ID,
		UserID:           p.UserID,
		Amount:           p.Amount.String(),
		Currency:         p.Currency,
		Method:           string(p.Method),
		Status:           string(p.Status),
		Description:      p.Description,
		InvoiceNumber:    p.InvoiceNumber,
		Metadata:         p.Metadata,
		RefundedAmount:   p.RefundedAmount.String(),
		RefundableAmount: p.RefundableAmount().String(),
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
		ProcessedAt:      formatTimePtr(p.ProcessedAt),
		CompletedAt:      formatTimePtr(p.CompletedAt),
		FailedAt:         formatTimePtr(p.FailedAt),
		RefundedAt:       formatTimePtr(p.RefundedAt),
		CancelledAt:      formatTimePtr(p.CancelledAt),
	}
	for _, refund := range p.Refunds {
		resp.Refunds = append(resp.Refunds, newRefundResponse(refund))
	}
	return resp
}

func newRefundResponse(r services.Refund) refundResponse {
	return refundResponse{
		ID:         r.ID,
		Amount:     r.Amount.String(),
		Reason:     string(r.Reason),
		Note:       r.Note,
		Status:     string(r.Status),
		GatewayRef: r.GatewayRef,
		CreatedAt:  formatTime(r.CreatedAt),
	}
}

func newStatsResponse(s services.PaymentStats) statsResponse {
	resp := statsResponse{
		UserID:                s.UserID,
		Total:                 s.Total,
		CountByStatus:         make(map[string]int, len(s.CountByStatus)),
		AmountByStatus:        make(map[string]string, len(s.AmountByStatus)),
		AverageCompletedValue: s.AverageCompletedValue.String(),
		RefundedTotal:         s.RefundedTotal.String(),
		Currencies:            s.Currencies,
	}
	if resp.Currencies == nil {
		resp.Currencies = []string{}
	}
	for status, count := range s.CountByStatus {
		resp.CountByStatus[string(status)] = count
	}
	for status, amount := range s.AmountByStatus {
		resp.AmountByStatus[string(status)] = amount.String()
	}
	return resp
}

func newInvoiceResponse(inv services.Invoice) invoiceResponse {
	resp := invoiceResponse{
		ID:            inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		PaymentID:     inv.PaymentID,
		UserID:        inv.UserID,
		Currency:      inv.Currency,
		Status:        string(inv.Status),
		Total:         inv.Total.String(),
		LineItems:     make([]invoiceLineResponse, 0, len(inv.LineItems)),
		IssueDate:     formatTime(inv.IssueDate),
		DueDate:       formatTime(inv.DueDate),
		Delivery: deliveryResponse{
			HostedInvoiceURL: inv.Delivery.HostedInvoiceURL,
			PDFURL:           inv.Delivery.PDFURL,
			EmailedTo:        inv.Delivery.EmailedTo,
			LastError:        inv.Delivery.LastError,
			Attempts:         inv.Delivery.Attempts,
			DeliveredAt:      formatTimePtr(inv.Delivery.DeliveredAt),
		},
	}
	for _, item := range inv.LineItems {
		resp.LineItems = append(resp.LineItems, invoiceLineResponse{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitAmount:  item.UnitAmount.String(),
			Amount:      item.Amount.String(),
		})
	}
	return resp
}

func newBreakdownResponse(b services.CostBreakdown) breakdownResponse {
	return breakdownResponse{
		FOBValue:       b.FOBValue.String(),
		FreightCost:    b.FreightCost.String(),
		InsuranceCost:  b.InsuranceCost.String(),
		DutyRate:       b.Rates.DutyRate.String(),
		TaxRate:        b.Rates.TaxRate.String(),
		AdditionalFees: b.Rates.AdditionalFees.String(),
		CIF:            b.CIF.String(),
		CustomsDuty:    b.CustomsDuty.String(),
		Subtotal:       b.Subtotal.String(),
		SalesTax:       b.SalesTax.String(),
		TotalCost:      b.TotalCost.String(),
	}
}

func newVarianceResponse(records []domain.VarianceRecord) []varianceResponse {
	out := make([]varianceResponse, 0, len(records))
	for _, rec := range records {
		item := varianceResponse{
			Component: string(rec.Component),
			Actual:    rec.Actual.String(),
			Estimated: rec.Estimated.String(),
			Variance:  rec.Variance.String(),
		}
		if rec.VariancePercent != nil {
			pct := rec.VariancePercent.String()
			item.VariancePercent = &pct
		}
		out = append(out, item)
	}
	return out
}

func formatAmount(d decimal.Decimal) string {
	return d.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
