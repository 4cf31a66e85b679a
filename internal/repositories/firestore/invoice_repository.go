package firestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	pfirestore "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/firestore"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
)

const invoicesCollection = "invoices"

// InvoiceRepository keys invoice documents by payment id, so Create enforces one invoice per payment.
type InvoiceRepository struct {
	provider *pfirestore.Provider
}

// NewInvoiceRepository constructs a Firestore-backed invoice repository.
func NewInvoiceRepository(provider *pfirestore.Provider) (*InvoiceRepository, error) {
	if provider == nil {
		return nil, errors.New("invoice repository requires firestore provider")
	}
	return &InvoiceRepository{provider: provider}, nil
}

// Insert implements repositories.InvoiceRepository.
func (r *InvoiceRepository) Insert(ctx context.Context, invoice domain.Invoice) error {
	coll, err := r.provider.Collection(ctx, invoicesCollection)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(invoice.PaymentID).Create(ctx, encodeInvoice(invoice)); err != nil {
		return pfirestore.WrapError("invoices.insert", err)
	}
	return nil
}

// FindByPaymentID implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByPaymentID(ctx context.Context, paymentID string) (domain.Invoice, error) {
	coll, err := r.provider.Collection(ctx, invoicesCollection)
	if err != nil {
		return domain.Invoice{}, err
	}
	snap, err := coll.Doc(paymentID).Get(ctx)
	if err != nil {
		return domain.Invoice{}, pfirestore.WrapError("invoices.find_by_payment", err)
	}
	return snapshotInvoice(snap)
}

// FindByNumber implements repositories.InvoiceRepository.
func (r *InvoiceRepository) FindByNumber(ctx context.Context, invoiceNumber string) (domain.Invoice, error) {
	snap, err := r.findOne(ctx, "invoices.find_by_number", "invoiceNumber", invoiceNumber)
	if err != nil {
		return domain.Invoice{}, err
	}
	return snapshotInvoice(snap)
}

// UpdateDelivery implements repositories.InvoiceRepository.
func (r *InvoiceRepository) UpdateDelivery(ctx context.Context, invoiceID string, delivery domain.InvoiceDelivery, updatedAt time.Time) error {
	snap, err := r.findOne(ctx, "invoices.update_delivery", "id", invoiceID)
	if err != nil {
		return err
	}
	_, err = snap.Ref.Update(ctx, []firestore.Update{
		{Path: "delivery", Value: deliveryDocument(delivery)},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	})
	return pfirestore.WrapError("invoices.update_delivery", err)
}

func (r *InvoiceRepository) findOne(ctx context.Context, op, field, value string) (*firestore.DocumentSnapshot, error) {
	coll, err := r.provider.Collection(ctx, invoicesCollection)
	if err != nil {
		return nil, err
	}
	snaps, err := coll.Where(field, "==", value).Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return nil, pfirestore.WrapError(op, err)
	}
	if len(snaps) == 0 {
		return nil, repositories.NotFound(op, "invoice "+value)
	}
	return snaps[0], nil
}

func snapshotInvoice(snap *firestore.DocumentSnapshot) (domain.Invoice, error) {
	var doc invoiceDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Invoice{}, fmt.Errorf("firestore invoices decode %s: %w", snap.Ref.ID, err)
	}
	return decodeInvoice(snap.Ref.ID, doc)
}
