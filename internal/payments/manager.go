package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/observability"
)

// Manager coordinates provider selection and exposes the aggregated gateway.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = normaliseKey(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registered := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := normaliseKey(k)
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{providers: registered}
	if _, ok := registered[ProviderStripe]; ok {
		m.defaultProvider = ProviderStripe
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Route carries the hints used to select a provider. A payment that already went through a gateway is
// routed back to the same provider by name.
type Route struct {
	Provider string
	Currency string
}

func (m *Manager) resolve(route Route) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, ErrUnsupportedProvider
	}
	if key := normaliseKey(route.Provider); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, key)
	}
	if key, ok := m.currencyRoutes[strings.ToUpper(strings.TrimSpace(route.Currency))]; ok {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if key := normaliseKey(m.defaultProvider); key != "" {
		if p, ok := m.providers[key]; ok {
			return key, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateCheckout delegates to the resolved provider and stamps the provider name on the result.
func (m *Manager) CreateCheckout(ctx context.Context, route Route, req CheckoutRequest) (checkout Checkout, err error) {
	key, provider, err := m.resolve(route)
	if err != nil {
		return Checkout{}, err
	}
	ctx, span := observability.StartSpan(ctx, "gateway.checkout", gatewayAttrs(key, req.PaymentID)...)
	defer func() { observability.EndSpan(span, err) }()

	checkout, err = provider.CreateCheckout(ctx, req)
	if err != nil {
		return Checkout{}, err
	}
	checkout.Provider = key
	return checkout, nil
}

// LookupCharge delegates to the resolved provider.
func (m *Manager) LookupCharge(ctx context.Context, route Route, reference string) (charge Charge, err error) {
	key, provider, err := m.resolve(route)
	if err != nil {
		return Charge{}, err
	}
	ctx, span := observability.StartSpan(ctx, "gateway.lookup", gatewayAttrs(key, "")...)
	defer func() { observability.EndSpan(span, err) }()

	charge, err = provider.LookupCharge(ctx, reference)
	if err != nil {
		return Charge{}, err
	}
	charge.Provider = key
	return charge, nil
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, route Route, req RefundRequest) (result RefundResult, err error) {
	key, provider, err := m.resolve(route)
	if err != nil {
		return RefundResult{}, err
	}
	ctx, span := observability.StartSpan(ctx, "gateway.refund", gatewayAttrs(key, "")...)
	defer func() { observability.EndSpan(span, err) }()

	result, err = provider.Refund(ctx, req)
	if err != nil {
		return RefundResult{}, err
	}
	result.Provider = key
	return result, nil
}

// SendInvoice delegates to the resolved provider.
func (m *Manager) SendInvoice(ctx context.Context, route Route, req HostedInvoiceRequest) (invoice HostedInvoice, err error) {
	key, provider, err := m.resolve(route)
	if err != nil {
		return HostedInvoice{}, err
	}
	ctx, span := observability.StartSpan(ctx, "gateway.invoice", gatewayAttrs(key, "")...)
	defer func() { observability.EndSpan(span, err) }()

	invoice, err = provider.SendInvoice(ctx, req)
	if err != nil {
		return HostedInvoice{}, err
	}
	invoice.Provider = key
	return invoice, nil
}

func gatewayAttrs(provider, paymentID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String("payment.provider", provider)}
	if paymentID != "" {
		attrs = append(attrs, attribute.String("payment.id", paymentID))
	}
	return attrs
}

func normaliseKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}
