package services

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/customs"
	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/textutil"
)

const (
	maxDescriptionLength = 500
	maxReasonLength      = 500
	maxMetadataEntries   = 20
)

var maxPaymentAmount = decimal.New(1, 12)

// PaymentRequest is a payment request after field parsing, ready for validation.
type PaymentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Method      domain.PaymentMethod
	Description string
}

// ParsePaymentRequest parses and validates the raw fields of a create command. Free text is stripped of
// markup before its length is checked. The returned error is a *domain.ValidationError listing every
// violated rule.
func ParsePaymentRequest(amount json.RawMessage, currencyCode, method, description string) (PaymentRequest, error) {
	verr := &domain.ValidationError{}
	req := PaymentRequest{
		Amount:      customs.DecimalField{Name: "amount", Required: true}.Parse(amount, verr),
		Currency:    strings.ToUpper(strings.TrimSpace(currencyCode)),
		Method:      domain.PaymentMethod(strings.ToLower(strings.TrimSpace(method))),
		Description: strings.TrimSpace(textutil.PlainText(description)),
	}
	if verr.Empty() {
		validateAmount("amount", req.Amount, req.Currency, verr)
	}
	validateCurrency(req.Currency, verr)
	validateMethod(req.Method, verr)
	validateDescription(req.Description, verr)
	if !verr.Empty() {
		return PaymentRequest{}, verr
	}
	return req, nil
}

// ValidatePayment checks an already typed request against the payment rules.
func ValidatePayment(req PaymentRequest) error {
	verr := &domain.ValidationError{}
	validateAmount("amount", req.Amount, req.Currency, verr)
	validateCurrency(req.Currency, verr)
	validateMethod(req.Method, verr)
	validateDescription(req.Description, verr)
	if !verr.Empty() {
		return verr
	}
	return nil
}

// validateAmount checks that amount is positive, within the payment ceiling and exactly expressible in the
// currency's minor units, so the stored amount is the one the gateway charges.
func validateAmount(field string, amount decimal.Decimal, currencyCode string, verr *domain.ValidationError) {
	switch {
	case !amount.IsPositive():
		verr.Add(field, "positive", "must be greater than zero")
		return
	case amount.GreaterThan(maxPaymentAmount):
		verr.Add(field, "max", fmt.Sprintf("must be at most %s", maxPaymentAmount.String()))
		return
	}
	scale, err := payments.Scale(currencyCode)
	if err != nil {
		return
	}
	if _, err := payments.MinorUnits(amount, currencyCode); err != nil {
		verr.Add(field, "scale", fmt.Sprintf("must have at most %d decimal places for %s", scale, currencyCode))
	}
}

func validateCurrency(code string, verr *domain.ValidationError) {
	if len(code) != 3 {
		verr.Add("currency", "length", "must be a 3-letter currency code")
		return
	}
	if _, err := currency.ParseISO(code); err != nil {
		verr.Add("currency", "iso4217", fmt.Sprintf("unknown currency code %q", code))
	}
}

func validateMethod(method domain.PaymentMethod, verr *domain.ValidationError) {
	if !slices.Contains(domain.PaymentMethods, method) {
		verr.Add("method", "enum", fmt.Sprintf("must be one of %s", joinMethods()))
	}
}

func validateDescription(description string, verr *domain.ValidationError) {
	switch n := utf8.RuneCountInString(description); {
	case n == 0:
		verr.Add("description", "required", "is required")
	case n > maxDescriptionLength:
		verr.Add("description", "max_length", fmt.Sprintf("must be at most %d characters", maxDescriptionLength))
	}
}

func validateReason(field, reason string, required bool, verr *domain.ValidationError) string {
	clean := strings.TrimSpace(textutil.PlainText(reason))
	switch n := utf8.RuneCountInString(clean); {
	case n == 0 && required:
		verr.Add(field, "required", "is required")
	case n > maxReasonLength:
		verr.Add(field, "max_length", fmt.Sprintf("must be at most %d characters", maxReasonLength))
	}
	return clean
}

func validateMetadata(metadata map[string]string, verr *domain.ValidationError) map[string]string {
	clean := textutil.NormalizeStringMap(metadata)
	if len(clean) > maxMetadataEntries {
		verr.Add("metadata", "max_entries", fmt.Sprintf("must have at most %d entries", maxMetadataEntries))
	}
	for key := range clean {
		if isReservedMetadataKey(key) {
			verr.Add("metadata."+key, "reserved", "is managed by the payment lifecycle")
		}
	}
	return clean
}

func isReservedMetadataKey(key string) bool {
	switch key {
	case domain.PaymentMetaGatewayRef, domain.PaymentMetaGatewayProvider, domain.PaymentMetaRedirectURL,
		domain.PaymentMetaFailureReason, domain.PaymentMetaCancelReason:
		return true
	}
	return false
}

func joinMethods() string {
	names := make([]string, 0, len(domain.PaymentMethods))
	for _, m := range domain.PaymentMethods {
		names = append(names, string(m))
	}
	return strings.Join(names, ", ")
}
