package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func serviceAccountJSON(t *testing.T, kind string) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	data, err := json.Marshal(map[string]string{
		"type":           kind,
		"client_email":   "invoices@customs-prod.iam.gserviceaccount.com",
		"private_key_id": "k1",
		"private_key":    string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})),
	})
	if err != nil {
		t.Fatalf("marshal json: %v", err)
	}
	return data, key
}

func TestServiceAccountSignerSigns(t *testing.T) {
	data, key := serviceAccountJSON(t, "service_account")
	signer, err := NewServiceAccountSignerFromJSON(data)
	if err != nil {
		t.Fatalf("NewServiceAccountSignerFromJSON: %v", err)
	}
	if signer.Email() != "invoices@customs-prod.iam.gserviceaccount.com" || signer.KeyID() != "k1" {
		t.Fatalf("unexpected signer identity %q %q", signer.Email(), signer.KeyID())
	}

	payload := []byte("GOOG4-RSA-SHA256\n20261016T000000Z")
	sig, err := signer.SignBytes(context.Background(), payload)
	if err != nil {
		t.Fatalf("SignBytes: %v", err)
	}
	digest := sha256.Sum256(payload)
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature does not verify: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := signer.SignBytes(ctx, payload); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if _, err := signer.SignBytes(context.Background(), nil); !errors.Is(err, errEmptyPayload) {
		t.Fatalf("expected errEmptyPayload, got %v", err)
	}
}

func TestServiceAccountSignerRejectsUnusableKeys(t *testing.T) {
	authorized, _ := serviceAccountJSON(t, "authorized_user")
	cases := map[string][]byte{
		"empty":           nil,
		"not json":        []byte("{"),
		"authorized user": authorized,
		"no email":        []byte(`{"type":"service_account","private_key":"x"}`),
		"no pem":          []byte(`{"type":"service_account","client_email":"a@b","private_key":"not pem"}`),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewServiceAccountSignerFromJSON(data); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadInvoiceSignerFallsBack(t *testing.T) {
	data, _ := serviceAccountJSON(t, "service_account")
	file := filepath.Join(t.TempDir(), "firebase.json")
	if err := os.WriteFile(file, data, 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, err := LoadInvoiceSigner("  ", file)
	if err != nil {
		t.Fatalf("LoadInvoiceSigner: %v", err)
	}
	if signer.KeyID() != "k1" {
		t.Fatalf("unexpected key id %q", signer.KeyID())
	}
	if _, err := LoadInvoiceSigner("", ""); err == nil {
		t.Fatalf("expected error without any key file")
	}
}

func TestSignedDownloadURLHonoursScope(t *testing.T) {
	signer := &fakeSigner{email: "test@example.iam.gserviceaccount.com"}
	client, err := NewClient(&fakeWriter{}, signer, WithSigningScope(InvoicePDFScope),
		WithClock(func() time.Time { return time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC) }))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	ctx := context.Background()

	object, err := BuildObjectPath(PurposeInvoicePDF, PathParams{InvoiceNumber: "INV-20261016-ABCDE", IssuedAt: time.Now()})
	if err != nil {
		t.Fatalf("BuildObjectPath: %v", err)
	}
	if _, err := client.SignedDownloadURL(ctx, "invoices-bucket", object, DownloadOptions{}); err != nil {
		t.Fatalf("invoice pdf must be signable: %v", err)
	}

	for _, other := range []string{"invoices/2026/10/INV-1.html", "exports/payments.csv", "invoices/../secrets/key.pdf"} {
		_, err := client.SignedDownloadURL(ctx, "invoices-bucket", other, DownloadOptions{})
		if !errors.Is(err, errOutOfScope) {
			t.Fatalf("%s: expected errOutOfScope, got %v", other, err)
		}
	}
	if len(signer.payloads) != 1 {
		t.Fatalf("out-of-scope objects must not reach the signer, got %d payloads", len(signer.payloads))
	}
	if !strings.HasPrefix(object, InvoicePDFScope.Prefix) {
		t.Fatalf("unexpected object %q", object)
	}
}
