package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/invoicing"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/config"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/observability"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/rates"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Payments       services.PaymentService
	Costs          services.CostService
	Invoices       services.InvoiceService
	Reconciliation services.ReconciliationService
}

// Infrastructure carries the adapters built by main. Every field except Rates is optional.
type Infrastructure struct {
	Rates    *rates.Provider
	Gateway  *payments.Manager
	Archiver *invoicing.Archiver
	Mailer   *invoicing.Mailer
	Events   services.PaymentEventPublisher
	Metrics  services.PaymentMetrics
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests can supply the in-memory registry.
func NewContainer(cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Rates == nil {
		return nil, errors.New("rate provider is required")
	}

	svc, err := buildServices(cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close waits for background invoice deliveries and releases the store.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.Services.Invoices != nil {
		done := make(chan struct{})
		go func() {
			c.Services.Invoices.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
	if c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}

	costs, err := services.NewCostService(services.CostServiceDeps{
		Rates:  infra.Rates,
		Logger: observability.NewEventLogger(logger, "costs"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cost service: %w", err)
	}

	invoiceDeps := services.InvoiceServiceDeps{
		Invoices:      reg.Invoices(),
		Payments:      reg.Payments(),
		Events:        infra.Events,
		Metrics:       infra.Metrics,
		Clock:         clock,
		Logger:        observability.NewEventLogger(logger, "invoices"),
		DueDays:       cfg.Invoice.DueDays,
		AsyncDelivery: true,
	}
	// Typed nil pointers must not reach the optional interface fields.
	if infra.Gateway != nil {
		invoiceDeps.Hosted = infra.Gateway
	}
	if infra.Archiver != nil {
		invoiceDeps.Archiver = infra.Archiver
	}
	if infra.Mailer != nil {
		invoiceDeps.Mailer = infra.Mailer
	}
	invoices, err := services.NewInvoiceService(invoiceDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build invoice service: %w", err)
	}

	paymentDeps := services.PaymentServiceDeps{
		Payments:       reg.Payments(),
		Invoices:       invoices,
		Events:         infra.Events,
		Metrics:        infra.Metrics,
		Clock:          clock,
		Logger:         observability.NewEventLogger(logger, "payments"),
		GatewayTimeout: cfg.PSP.Timeout,
		SuccessURL:     cfg.PSP.SuccessURL,
		CancelURL:      cfg.PSP.CancelURL,
	}
	if infra.Gateway != nil {
		paymentDeps.Gateway = infra.Gateway
	}
	paymentSvc, err := services.NewPaymentService(paymentDeps)
	if err != nil {
		return Services{}, fmt.Errorf("build payment service: %w", err)
	}

	reconciliation, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Payments:   reg.Payments(),
		Resolver:   paymentSvc,
		StaleAfter: cfg.Reconciliation.StaleAfter,
		BatchSize:  cfg.Reconciliation.BatchSize,
		Clock:      clock,
		Logger:     observability.NewEventLogger(logger, "reconciliation"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}

	return Services{
		Payments:       paymentSvc,
		Costs:          costs,
		Invoices:       invoices,
		Reconciliation: reconciliation,
	}, nil
}
