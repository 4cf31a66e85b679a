package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const (
	defaultReconcileStaleAfter = 15 * time.Minute
	defaultReconcileBatch      = 100
)

// processingResolver is the part of PaymentService reconciliation drives.
type processingResolver interface {
	ResolveProcessing(ctx context.Context, paymentID string) (ResolutionOutcome, error)
}

// ReconciliationServiceDeps wires the dependencies required by the reconciliation sweep.
type ReconciliationServiceDeps struct {
	Payments   repositories.PaymentRepository
	Resolver   processingResolver
	StaleAfter time.Duration
	BatchSize  int
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type reconciliationService struct {
	payments   repositories.PaymentRepository
	resolver   processingResolver
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewReconciliationService constructs the sweep over payments stuck in processing.
func NewReconciliationService(deps ReconciliationServiceDeps) (ReconciliationService, error) {
	if deps.Payments == nil {
		return nil, errors.New("reconciliation service: payment repository is required")
	}
	if deps.Resolver == nil {
		return nil, errors.New("reconciliation service: resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	staleAfter := deps.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultReconcileStaleAfter
	}
	batch := deps.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &reconciliationService{
		payments:   deps.Payments,
		resolver:   deps.Resolver,
		staleAfter: staleAfter,
		batch:      batch,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Reconcile resolves one batch of payments whose last update is older than the stale threshold. A failure on
// one payment is counted and logged; the sweep continues with the next.
func (s *reconciliationService) Reconcile(ctx context.Context) (ReconciliationReport, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.payments.ListByStatus(ctx, domain.PaymentStatusProcessing, cutoff, s.batch)
	if err != nil {
		return ReconciliationReport{}, translatePaymentRepoError("reconcile", err)
	}

	var report ReconciliationReport
	for _, payment := range stale {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++
		outcome, err := s.resolver.ResolveProcessing(ctx, payment.ID)
		if err != nil {
			report.Errors++
			s.logger(ctx, "reconcile.payment_failed", map[string]any{
				"paymentID": payment.ID,
				"error":     err.Error(),
			})
			continue
		}
		switch outcome {
		case ResolutionConfirmed:
			report.Confirmed++
		case ResolutionFailed:
			report.Failed++
		case ResolutionAttached:
			report.Attached++
		case ResolutionPending:
			report.Pending++
		}
	}
	s.logger(ctx, "reconcile.completed", map[string]any{
		"examined":  report.Examined,
		"confirmed": report.Confirmed,
		"failed":    report.Failed,
		"attached":  report.Attached,
		"pending":   report.Pending,
		"errors":    report.Errors,
	})
	return report, nil
}
