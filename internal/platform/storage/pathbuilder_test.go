package storage

import (
	"testing"
	"time"
)

func TestBuildInvoicePDFPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeInvoicePDF, PathParams{
		InvoiceNumber: "INV-202510-0A1B2",
		IssuedAt:      time.Date(2025, 10, 6, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "invoices/2025/10/INV-202510-0A1B2.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildInvoiceHTMLPathUsesUTCMonth(t *testing.T) {
	amman := time.FixedZone("Asia/Amman", 3*60*60)
	path, err := BuildObjectPath(PurposeInvoiceHTML, PathParams{
		InvoiceNumber: "INV-202510-0A1B2",
		IssuedAt:      time.Date(2025, 11, 1, 1, 0, 0, 0, amman),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "invoices/2025/10/INV-202510-0A1B2.html"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeInvoicePDF, PathParams{
		InvoiceNumber: "../bad",
		IssuedAt:      time.Now(),
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}

func TestBuildObjectPathRequiresIssueDate(t *testing.T) {
	if _, err := BuildObjectPath(PurposeInvoicePDF, PathParams{InvoiceNumber: "INV-1"}); err == nil {
		t.Fatalf("expected error for missing issue date")
	}
}
