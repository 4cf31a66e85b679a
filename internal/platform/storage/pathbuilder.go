package storage

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// DocumentPurpose captures high-level intent for storage layout decisions.
type DocumentPurpose string

const (
	PurposeInvoicePDF  DocumentPurpose = "invoice-pdf"
	PurposeInvoiceHTML DocumentPurpose = "invoice-html"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	InvoiceNumber string
	IssuedAt      time.Time
	FileName      string
}

// PathBuilder composes the object path for a given document purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[DocumentPurpose]PathBuilder{
		PurposeInvoicePDF:  invoicePathBuilder("pdf"),
		PurposeInvoiceHTML: invoicePathBuilder("html"),
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose DocumentPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose DocumentPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported document purpose %q", purpose)
	}
	return builder(params)
}

// invoicePathBuilder lays invoices out as invoices/{yyyy}/{mm}/{file}.
func invoicePathBuilder(ext string) PathBuilder {
	return func(params PathParams) (string, error) {
		if params.IssuedAt.IsZero() {
			return "", fmt.Errorf("storage: issuedAt is required")
		}
		name := strings.TrimSpace(params.FileName)
		if name == "" {
			number, err := validateSegment("invoiceNumber", params.InvoiceNumber)
			if err != nil {
				return "", err
			}
			name = fmt.Sprintf("%s.%s", number, ext)
		}
		fileName, err := validateFileName(name)
		if err != nil {
			return "", err
		}
		issued := params.IssuedAt.UTC()
		return fmt.Sprintf("invoices/%04d/%02d/%s", issued.Year(), int(issued.Month()), fileName), nil
	}
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
