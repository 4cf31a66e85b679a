package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/textutil"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const (
	invoiceIDPrefix       = "inv_"
	defaultInvoiceDueDays = 30
	defaultDeliveryBudget = 2 * time.Minute

	maxDeliveryErrorLength = 1000
)

// hostedInvoiceSender abstracts payments.Manager for the hosted invoice capability.
type hostedInvoiceSender interface {
	SendInvoice(ctx context.Context, route payments.Route, req payments.HostedInvoiceRequest) (payments.HostedInvoice, error)
}

// invoiceArchiver renders an invoice to a portable document and stores it.
type invoiceArchiver interface {
	Archive(ctx context.Context, invoice Invoice, payment Payment) (domain.InvoiceDocument, error)
}

// invoiceMailer emails an invoice to the payer and returns the provider message id.
type invoiceMailer interface {
	MailInvoice(ctx context.Context, invoice Invoice, recipient string, document domain.InvoiceDocument) (string, error)
}

// InvoiceServiceDeps wires the dependencies required by the invoice service.
type InvoiceServiceDeps struct {
	Invoices       repositories.InvoiceRepository
	Payments       repositories.PaymentRepository
	Hosted         hostedInvoiceSender
	Archiver       invoiceArchiver
	Mailer         invoiceMailer
	Events         PaymentEventPublisher
	Metrics        PaymentMetrics
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
	DueDays        int
	// AsyncDelivery runs delivery in the background after the invoice is stored.
	AsyncDelivery  bool
	DeliveryBudget time.Duration
}

type invoiceService struct {
	invoices       repositories.InvoiceRepository
	payments       repositories.PaymentRepository
	hosted         hostedInvoiceSender
	archiver       invoiceArchiver
	mailer         invoiceMailer
	events         PaymentEventPublisher
	metrics        PaymentMetrics
	now            func() time.Time
	logger         func(ctx context.Context, event string, fields map[string]any)
	dueDays        int
	async          bool
	deliveryBudget time.Duration
	inflight       sync.WaitGroup
	deliveries     deliveryLocks
}

// NewInvoiceService constructs the invoice generator. Hosted, Archiver, Mailer and Events are optional
// delivery channels.
func NewInvoiceService(deps InvoiceServiceDeps) (InvoiceService, error) {
	if deps.Invoices == nil {
		return nil, errors.New("invoice service: invoice repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("invoice service: payment repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	dueDays := deps.DueDays
	if dueDays <= 0 {
		dueDays = defaultInvoiceDueDays
	}
	budget := deps.DeliveryBudget
	if budget <= 0 {
		budget = defaultDeliveryBudget
	}
	return &invoiceService{
		invoices: deps.Invoices,
		payments: deps.Payments,
		hosted:   deps.Hosted,
		archiver: deps.Archiver,
		mailer:   deps.Mailer,
		events:   deps.Events,
		metrics:  metrics,
		now: func() time.Time {
			return clock().UTC()
		},
		logger:         logger,
		dueDays:        dueDays,
		async:          deps.AsyncDelivery,
		deliveryBudget: budget,
	}, nil
}

// FromPayment derives the invoice of a completed payment: one line item carrying the payment description and
// amount, issued on the payment creation date, due DueDays later and already paid.
func (s *invoiceService) FromPayment(payment Payment) (Invoice, error) {
	if payment.Status != domain.PaymentStatusCompleted {
		return Invoice{}, fmt.Errorf("%w: payment %s is %s", ErrInvoiceInvalidState, payment.ID, payment.Status)
	}
	issued := payment.CreatedAt.UTC()
	number := payment.InvoiceNumber
	if number == "" {
		number = newInvoiceNumber(issued, ulid.Make().String())
	}
	now := s.now()
	return Invoice{
		ID:            invoiceIDPrefix + ulid.Make().String(),
		InvoiceNumber: number,
		PaymentID:     payment.ID,
		UserID:        payment.UserID,
		Currency:      payment.Currency,
		Status:        domain.InvoiceStatusPaid,
		LineItems: []domain.InvoiceLineItem{{
			Description: payment.Description,
			Quantity:    1,
			UnitAmount:  payment.Amount,
			Amount:      payment.Amount,
		}},
		Total:     payment.Amount,
		IssueDate: issued,
		DueDate:   issued.AddDate(0, 0, s.dueDays),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IssueForPayment stores the invoice of a completed payment and starts delivery. Issuing twice returns the
// stored invoice.
func (s *invoiceService) IssueForPayment(ctx context.Context, payment Payment) (Invoice, error) {
	invoice, err := s.FromPayment(payment)
	if err != nil {
		return Invoice{}, err
	}
	if err := s.invoices.Insert(ctx, invoice); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			existing, findErr := s.invoices.FindByPaymentID(ctx, payment.ID)
			if findErr != nil {
				return Invoice{}, translateInvoiceRepoError(findErr)
			}
			return existing, nil
		}
		return Invoice{}, translateInvoiceRepoError(err)
	}
	s.logger(ctx, "invoice.issued", map[string]any{
		"paymentID":     payment.ID,
		"invoiceNumber": invoice.InvoiceNumber,
	})
	s.publishIssued(ctx, invoice)

	if s.async {
		s.inflight.Add(1)
		go func() {
			defer s.inflight.Done()
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deliveryBudget)
			defer cancel()
			s.deliverExclusive(bg, invoice, payment)
		}()
		return invoice, nil
	}
	// A busy delivery is logged inside; issuing still succeeds.
	delivered, _ := s.deliverExclusive(ctx, invoice, payment)
	return delivered, nil
}

// Wait blocks until background deliveries started so far have finished.
func (s *invoiceService) Wait() {
	s.inflight.Wait()
}

// GetInvoice returns the invoice of a payment visible to the actor.
func (s *invoiceService) GetInvoice(ctx context.Context, actor Actor, paymentID string) (Invoice, error) {
	if _, err := s.authorizedPayment(ctx, actor, paymentID); err != nil {
		return Invoice{}, err
	}
	invoice, err := s.invoices.FindByPaymentID(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		return Invoice{}, translateInvoiceRepoError(err)
	}
	return invoice, nil
}

// RetryDelivery re-runs the delivery steps that have not succeeded yet.
func (s *invoiceService) RetryDelivery(ctx context.Context, actor Actor, paymentID string) (Invoice, error) {
	payment, err := s.authorizedPayment(ctx, actor, paymentID)
	if err != nil {
		return Invoice{}, err
	}
	invoice, err := s.invoices.FindByPaymentID(ctx, payment.ID)
	if err != nil {
		return Invoice{}, translateInvoiceRepoError(err)
	}
	return s.deliverExclusive(ctx, invoice, payment)
}

// deliverExclusive runs one delivery at a time per invoice and starts from the stored delivery state, so
// a retry racing the confirm-time delivery only repeats the steps that are still missing.
func (s *invoiceService) deliverExclusive(ctx context.Context, invoice Invoice, payment Payment) (Invoice, error) {
	release, err := s.deliveries.acquire(ctx, invoice.ID)
	if err != nil {
		s.logger(ctx, "invoice.delivery_busy", map[string]any{
			"paymentID":     payment.ID,
			"invoiceNumber": invoice.InvoiceNumber,
			"error":         err.Error(),
		})
		return invoice, fmt.Errorf("%w: delivery of %s is still running", ErrInvoiceUnavailable, invoice.InvoiceNumber)
	}
	defer release()

	current, err := s.invoices.FindByPaymentID(ctx, payment.ID)
	if err == nil && current.ID == invoice.ID {
		invoice = current
	}
	return s.deliver(ctx, invoice, payment), nil
}

func (s *invoiceService) authorizedPayment(ctx context.Context, actor Actor, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if strings.TrimSpace(actor.ID) == "" {
		return Payment{}, ErrPaymentForbidden
	}
	if paymentID == "" {
		return Payment{}, invalidInput(domain.NewValidationError("paymentId", "required", "is required"))
	}
	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, translatePaymentRepoError("invoice", err)
	}
	if payment.UserID != actor.ID && !actor.Privileged() {
		return Payment{}, ErrPaymentForbidden
	}
	return payment, nil
}

// deliver pushes the invoice through every configured channel that has not succeeded before. Failures are
// recorded on the invoice and logged; they never propagate.
func (s *invoiceService) deliver(ctx context.Context, invoice Invoice, payment Payment) Invoice {
	delivery := invoice.Delivery
	delivery.Attempts++
	var failures []string
	fail := func(step string, err error) {
		failures = append(failures, step+": "+err.Error())
		s.metrics.RecordDeliveryFailure(ctx, step)
		s.logger(ctx, "invoice."+step+"_failed", map[string]any{
			"paymentID":     payment.ID,
			"invoiceNumber": invoice.InvoiceNumber,
			"attempt":       delivery.Attempts,
			"error":         err.Error(),
		})
	}

	if customer := payment.Metadata[domain.PaymentMetaGatewayCustomer]; s.hosted != nil && customer != "" && delivery.HostedInvoiceID == "" {
		hosted, err := s.hosted.SendInvoice(ctx, payments.Route{
			Provider: payment.Metadata[domain.PaymentMetaGatewayProvider],
			Currency: invoice.Currency,
		}, payments.HostedInvoiceRequest{
			CustomerID:     customer,
			Currency:       invoice.Currency,
			InvoiceNumber:  invoice.InvoiceNumber,
			Description:    payment.Description,
			Lines:          hostedLines(invoice.LineItems),
			DaysUntilDue:   s.dueDays,
			IdempotencyKey: payments.IdempotencyKey("hosted_invoice", payment.ID),
			Metadata:       map[string]string{payments.MetadataPaymentID: payment.ID},
		})
		if err != nil {
			fail("hosted", err)
		} else {
			delivery.HostedInvoiceID = hosted.ID
			delivery.HostedInvoiceURL = hosted.URL
		}
	}

	if s.archiver != nil && delivery.PDFObject == "" {
		doc, err := s.archiver.Archive(ctx, invoice, payment)
		if err != nil {
			fail("pdf", err)
		} else {
			delivery.PDFObject = doc.Object
			delivery.PDFURL = doc.URL
		}
	}

	if recipient := payment.Metadata[domain.PaymentMetaPayerEmail]; s.mailer != nil && recipient != "" && delivery.EmailMessageID == "" {
		id, err := s.mailer.MailInvoice(ctx, invoice, recipient, domain.InvoiceDocument{Object: delivery.PDFObject, URL: delivery.PDFURL})
		if err != nil {
			fail("email", err)
		} else {
			delivery.EmailMessageID = id
			delivery.EmailedTo = recipient
		}
	}

	now := s.now()
	delivery.LastError = textutil.Truncate(strings.Join(failures, "; "), maxDeliveryErrorLength)
	if len(failures) == 0 && delivery.DeliveredAt == nil {
		delivery.DeliveredAt = &now
	}
	if err := s.invoices.UpdateDelivery(ctx, invoice.ID, delivery, now); err != nil {
		s.logger(ctx, "invoice.delivery_save_failed", map[string]any{
			"paymentID": payment.ID,
			"error":     err.Error(),
		})
	}
	invoice.Delivery = delivery
	invoice.UpdatedAt = now
	return invoice
}

func (s *invoiceService) publishIssued(ctx context.Context, invoice Invoice) {
	if s.events == nil {
		return
	}
	msg := PaymentEventMessage{
		EventID:       payments.IdempotencyKey(EventInvoiceIssued, invoice.PaymentID),
		Event:         EventInvoiceIssued,
		PaymentID:     invoice.PaymentID,
		UserID:        invoice.UserID,
		Status:        string(invoice.Status),
		Amount:        invoice.Total.String(),
		Currency:      invoice.Currency,
		InvoiceNumber: invoice.InvoiceNumber,
		OccurredAt:    invoice.CreatedAt,
	}
	if _, err := s.events.PublishPaymentEvent(ctx, msg); err != nil {
		s.metrics.RecordDeliveryFailure(ctx, "event")
		s.logger(ctx, "invoice.event_publish_failed", map[string]any{
			"paymentID": invoice.PaymentID,
			"error":     err.Error(),
		})
	}
}

// deliveryLocks hands out one lock per invoice id. Entries are dropped once nobody holds or waits on them.
type deliveryLocks struct {
	mu    sync.Mutex
	locks map[string]*deliveryLock
}

type deliveryLock struct {
	sem  chan struct{}
	refs int
}

func (d *deliveryLocks) acquire(ctx context.Context, key string) (func(), error) {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[string]*deliveryLock)
	}
	lock, ok := d.locks[key]
	if !ok {
		lock = &deliveryLock{sem: make(chan struct{}, 1)}
		d.locks[key] = lock
	}
	lock.refs++
	d.mu.Unlock()

	drop := func() {
		d.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(d.locks, key)
		}
		d.mu.Unlock()
	}

	select {
	case lock.sem <- struct{}{}:
		return func() {
			<-lock.sem
			drop()
		}, nil
	case <-ctx.Done():
		drop()
		return nil, ctx.Err()
	}
}

func hostedLines(items []domain.InvoiceLineItem) []payments.HostedInvoiceLine {
	lines := make([]payments.HostedInvoiceLine, 0, len(items))
	for _, item := range items {
		amount := item.Amount
		if amount.IsZero() {
			amount = item.UnitAmount.Mul(decimal.NewFromInt(item.Quantity))
		}
		lines = append(lines, payments.HostedInvoiceLine{Description: item.Description, Amount: amount})
	}
	return lines
}
