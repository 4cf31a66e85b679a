// Package repotest holds the behavioural checks every store driver must pass.
package repotest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

// Factory returns a fresh, empty registry for one subtest.
type Factory func(t *testing.T) repositories.Registry

var base = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// NewPayment builds a pending payment fixture.
func NewPayment(id, userID string, createdAt time.Time) domain.Payment {
	return domain.Payment{
		ID:            id,
		UserID:        userID,
		Amount:        decimal.RequireFromString("100.00"),
		Currency:      "JOD",
		Method:        domain.PaymentMethodCard,
		Status:        domain.PaymentStatusPending,
		Description:   "Customs clearance " + id,
		InvoiceNumber: "INV-202503-0000" + strings.ToUpper(id[len(id)-1:]),
		Metadata:      map[string]string{"declaration": "D-" + id},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}

// Run exercises the payment and invoice repositories of the registry produced by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("ping", func(t *testing.T) {
		if err := factory(t).Ping(context.Background()); err != nil {
			t.Fatalf("ping: %v", err)
		}
	})
	t.Run("payments insert and find", func(t *testing.T) { testInsertAndFind(t, factory(t)) })
	t.Run("payments list by user", func(t *testing.T) { testListByUser(t, factory(t)) })
	t.Run("payments list by status", func(t *testing.T) { testListByStatus(t, factory(t)) })
	t.Run("payments transition", func(t *testing.T) { testTransition(t, factory(t)) })
	t.Run("payments concurrent transition", func(t *testing.T) { testConcurrentTransition(t, factory(t)) })
	t.Run("payments concurrent refund reservations", func(t *testing.T) { testConcurrentRefunds(t, factory(t)) })
	t.Run("invoices", func(t *testing.T) { testInvoices(t, factory(t)) })
}

func testInsertAndFind(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	payment := NewPayment("pay_1", "user-1", base)

	if err := repo.Insert(ctx, payment); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := repo.FindByID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.UserID != "user-1" || !got.Amount.Equal(payment.Amount) || got.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected payment %+v", got)
	}
	if got.Metadata["declaration"] != "D-pay_1" {
		t.Fatalf("metadata not persisted: %v", got.Metadata)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("expected created at %s, got %s", base, got.CreatedAt)
	}

	err = repo.Insert(ctx, payment)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	_, err = repo.FindByID(ctx, "pay_missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testListByUser(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	for i := 1; i <= 4; i++ {
		if err := repo.Insert(ctx, NewPayment(fmt.Sprintf("pay_%d", i), "user-1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := repo.Insert(ctx, NewPayment("pay_9", "user-2", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	all, err := repo.ListByUser(ctx, "user-1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 payments, got %d", len(all))
	}
	if all[0].ID != "pay_4" || all[3].ID != "pay_1" {
		t.Fatalf("expected newest first, got %s..%s", all[0].ID, all[3].ID)
	}

	limited, err := repo.ListByUser(ctx, "user-1", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "pay_4" {
		t.Fatalf("unexpected limited list %v", limited)
	}
}

func testListByStatus(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	for i := 1; i <= 3; i++ {
		p := NewPayment(fmt.Sprintf("pay_%d", i), "user-1", base)
		p.Status = domain.PaymentStatusProcessing
		p.UpdatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := repo.Insert(ctx, p); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := repo.Insert(ctx, NewPayment("pay_4", "user-1", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	stale, err := repo.ListByStatus(ctx, domain.PaymentStatusProcessing, base.Add(150*time.Minute), 10)
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(stale) != 2 || stale[0].ID != "pay_1" || stale[1].ID != "pay_2" {
		t.Fatalf("unexpected stale payments %v", stale)
	}
}

func testTransition(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	if err := repo.Insert(ctx, NewPayment("pay_1", "user-1", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := repo.Transition(ctx, "pay_1", []domain.PaymentStatus{domain.PaymentStatusPending}, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusProcessing
		p.Metadata[domain.PaymentMetaGatewayRef] = "cs_123"
		p.UpdatedAt = base.Add(time.Minute)
		return nil
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if updated.Status != domain.PaymentStatusProcessing {
		t.Fatalf("expected processing, got %s", updated.Status)
	}

	stored, err := repo.FindByID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.Status != domain.PaymentStatusProcessing || stored.Metadata[domain.PaymentMetaGatewayRef] != "cs_123" {
		t.Fatalf("transition not persisted: %+v", stored)
	}

	_, err = repo.Transition(ctx, "pay_1", []domain.PaymentStatus{domain.PaymentStatusPending}, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusCancelled
		return nil
	})
	mismatch, ok := repositories.AsStatusMismatch(err)
	if !ok {
		t.Fatalf("expected status mismatch, got %v", err)
	}
	if mismatch.Current != domain.PaymentStatusProcessing {
		t.Fatalf("expected current processing, got %s", mismatch.Current)
	}

	abort := errors.New("abort")
	_, err = repo.Transition(ctx, "pay_1", nil, func(p *domain.Payment) error {
		p.Status = domain.PaymentStatusFailed
		return abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	stored, _ = repo.FindByID(ctx, "pay_1")
	if stored.Status != domain.PaymentStatusProcessing {
		t.Fatalf("aborted transition must not write, got %s", stored.Status)
	}

	_, err = repo.Transition(ctx, "pay_missing", nil, nil)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testConcurrentTransition(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	if err := repo.Insert(ctx, NewPayment("pay_1", "user-1", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	const workers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Transition(ctx, "pay_1", []domain.PaymentStatus{domain.PaymentStatusPending}, func(p *domain.Payment) error {
				p.Status = domain.PaymentStatusProcessing
				p.Metadata["winner"] = fmt.Sprint(i)
				return nil
			})
			if err == nil {
				wins.Add(1)
				return
			}
			if _, ok := repositories.AsStatusMismatch(err); !ok {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", wins.Load())
	}
}

func testConcurrentRefunds(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Payments()
	p := NewPayment("pay_1", "user-1", base)
	p.Status = domain.PaymentStatusCompleted
	if err := repo.Insert(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	errExceeds := errors.New("exceeds refundable amount")
	amount := decimal.RequireFromString("30")
	allowed := []domain.PaymentStatus{domain.PaymentStatusCompleted, domain.PaymentStatusRefunded}

	const workers = 10
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Transition(ctx, "pay_1", allowed, func(p *domain.Payment) error {
				if amount.GreaterThan(p.RefundableAmount()) {
					return errExceeds
				}
				p.RefundedAmount = p.RefundedAmount.Add(amount)
				p.Refunds = append(p.Refunds, domain.Refund{
					ID:        fmt.Sprintf("ref_%d", i),
					PaymentID: p.ID,
					Amount:    amount,
					Reason:    domain.RefundReasonRequestedByCustomer,
					Status:    domain.RefundStatusSucceeded,
					CreatedAt: base,
				})
				p.Status = domain.PaymentStatusRefunded
				return nil
			})
			if err == nil {
				wins.Add(1)
				return
			}
			if !errors.Is(err, errExceeds) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 3 {
		t.Fatalf("expected three refunds of 30 against 100, got %d", wins.Load())
	}
	stored, err := repo.FindByID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(stored.Refunds) != 3 || !stored.RefundedAmount.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("unexpected refund state: %d refunds, %s refunded", len(stored.Refunds), stored.RefundedAmount)
	}
	if !stored.Refunds[0].Amount.Equal(amount) || stored.Refunds[0].Reason != domain.RefundReasonRequestedByCustomer {
		t.Fatalf("refund not persisted: %+v", stored.Refunds[0])
	}
}

func testInvoices(t *testing.T, reg repositories.Registry) {
	ctx := context.Background()
	repo := reg.Invoices()
	invoice := domain.Invoice{
		ID:            "inv_1",
		InvoiceNumber: "INV-202503-AB12C",
		PaymentID:     "pay_1",
		UserID:        "user-1",
		Currency:      "JOD",
		Status:        domain.InvoiceStatusPaid,
		LineItems: []domain.InvoiceLineItem{{
			Description: "Customs clearance",
			Quantity:    1,
			UnitAmount:  decimal.RequireFromString("100"),
			Amount:      decimal.RequireFromString("100"),
		}},
		Total:     decimal.RequireFromString("100"),
		IssueDate: base,
		DueDate:   base.AddDate(0, 0, 30),
		CreatedAt: base,
		UpdatedAt: base,
	}
	if err := repo.Insert(ctx, invoice); err != nil {
		t.Fatalf("insert: %v", err)
	}

	byPayment, err := repo.FindByPaymentID(ctx, "pay_1")
	if err != nil {
		t.Fatalf("find by payment: %v", err)
	}
	if byPayment.InvoiceNumber != invoice.InvoiceNumber || len(byPayment.LineItems) != 1 {
		t.Fatalf("unexpected invoice %+v", byPayment)
	}
	if !byPayment.DueDate.Equal(invoice.DueDate) {
		t.Fatalf("expected due date %s, got %s", invoice.DueDate, byPayment.DueDate)
	}

	if _, err := repo.FindByNumber(ctx, "INV-202503-AB12C"); err != nil {
		t.Fatalf("find by number: %v", err)
	}

	dup := invoice
	dup.ID = "inv_2"
	err = repo.Insert(ctx, dup)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for second invoice on payment, got %v", err)
	}

	delivered := base.Add(time.Hour)
	delivery := domain.InvoiceDelivery{PDFObject: "invoices/INV-202503-AB12C.pdf", Attempts: 1, DeliveredAt: &delivered}
	if err := repo.UpdateDelivery(ctx, "inv_1", delivery, delivered); err != nil {
		t.Fatalf("update delivery: %v", err)
	}
	updated, _ := repo.FindByPaymentID(ctx, "pay_1")
	if updated.Delivery.PDFObject != delivery.PDFObject || updated.Delivery.Attempts != 1 {
		t.Fatalf("delivery not persisted: %+v", updated.Delivery)
	}

	err = repo.UpdateDelivery(ctx, "inv_missing", delivery, delivered)
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}
