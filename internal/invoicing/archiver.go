package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/domain"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/storage"
)

const pdfContentType = "application/pdf"

// objectStore is the slice of the storage client used for archiving.
type objectStore interface {
	Upload(ctx context.Context, bucket, object string, data []byte, opts storage.UploadOptions) error
	SignedDownloadURL(ctx context.Context, bucket, object string, opts storage.DownloadOptions) (storage.SignedURLResult, error)
}

// ArchiverConfig wires the archiver's collaborators.
type ArchiverConfig struct {
	Renderer  *Renderer
	Converter PDFConverter
	Store     objectStore
	Bucket    string
	URLTTL    time.Duration
}

// Archiver renders invoices to PDF, stores them and hands back a time-limited download link.
type Archiver struct {
	renderer  *Renderer
	converter PDFConverter
	store     objectStore
	bucket    string
	urlTTL    time.Duration
}

// NewArchiver validates cfg.
func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Renderer == nil {
		return nil, errors.New("invoicing: renderer is required")
	}
	if cfg.Converter == nil {
		return nil, errors.New("invoicing: pdf converter is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("invoicing: object store is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("invoicing: bucket is required")
	}
	return &Archiver{
		renderer:  cfg.Renderer,
		converter: cfg.Converter,
		store:     cfg.Store,
		bucket:    bucket,
		urlTTL:    cfg.URLTTL,
	}, nil
}

// Archive produces the PDF for invoice, uploads it under invoices/{yyyy}/{mm}/ and signs a download URL.
// Re-archiving the same invoice overwrites the object.
func (a *Archiver) Archive(ctx context.Context, invoice domain.Invoice, payment domain.Payment) (domain.InvoiceDocument, error) {
	object, err := storage.BuildObjectPath(storage.PurposeInvoicePDF, storage.PathParams{
		InvoiceNumber: invoice.InvoiceNumber,
		IssuedAt:      invoice.IssueDate,
	})
	if err != nil {
		return domain.InvoiceDocument{}, err
	}

	html, err := a.renderer.Render(invoice, payment)
	if err != nil {
		return domain.InvoiceDocument{}, err
	}
	pdf, err := a.converter.Convert(ctx, html)
	if err != nil {
		return domain.InvoiceDocument{}, err
	}

	err = a.store.Upload(ctx, a.bucket, object, pdf, storage.UploadOptions{
		ContentType:  pdfContentType,
		CacheControl: "private, max-age=0",
		Metadata: map[string]string{
			"invoiceNumber": invoice.InvoiceNumber,
			"paymentId":     invoice.PaymentID,
		},
	})
	if err != nil {
		return domain.InvoiceDocument{}, fmt.Errorf("invoicing: upload pdf: %w", err)
	}

	signed, err := a.store.SignedDownloadURL(ctx, a.bucket, object, storage.DownloadOptions{
		ExpiresIn:    a.urlTTL,
		Disposition:  fmt.Sprintf(`attachment; filename="%s.pdf"`, invoice.InvoiceNumber),
		ResponseType: pdfContentType,
	})
	if err != nil {
		// The object is stored; a later retry re-signs it.
		return domain.InvoiceDocument{Object: object}, fmt.Errorf("invoicing: sign pdf url: %w", err)
	}
	return domain.InvoiceDocument{Object: object, URL: signed.URL}, nil
}
