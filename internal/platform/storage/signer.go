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
	"fmt"
	"os"
	"path"
	"strings"
)

var errOutOfScope = errors.New("storage: object outside signing scope")

// Signer signs the V4 string-to-sign for download URLs.
type Signer interface {
	// Email is used as the GoogleAccessID of the signed URL.
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// SigningScope limits which objects a Client hands out signed URLs for.
type SigningScope struct {
	Purpose DocumentPurpose
	Prefix  string
	Ext     string
}

// InvoicePDFScope matches the layout BuildObjectPath produces for PurposeInvoicePDF.
var InvoicePDFScope = SigningScope{Purpose: PurposeInvoicePDF, Prefix: "invoices/", Ext: ".pdf"}

func (s SigningScope) permits(object string) error {
	if s.Prefix == "" && s.Ext == "" {
		return nil
	}
	clean := path.Clean(object)
	if clean != object || !strings.HasPrefix(object, s.Prefix) || !strings.HasSuffix(object, s.Ext) {
		return fmt.Errorf("%w: %s does not hold %s documents", errOutOfScope, object, s.Purpose)
	}
	return nil
}

// ServiceAccountSigner signs with a service account RSA key.
type ServiceAccountSigner struct {
	email string
	keyID string
	key   *rsa.PrivateKey
}

type serviceAccountKey struct {
	Type         string `json:"type"`
	ClientEmail  string `json:"client_email"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
}

// NewServiceAccountSignerFromJSON parses a service account key file. Authorized-user and external-account
// credentials cannot sign URLs and are rejected.
func NewServiceAccountSignerFromJSON(data []byte) (*ServiceAccountSigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: signer key is empty")
	}
	var key serviceAccountKey
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, fmt.Errorf("storage: decode signer key: %w", err)
	}
	if kind := strings.TrimSpace(key.Type); kind != "" && kind != "service_account" {
		return nil, fmt.Errorf("storage: %s credentials cannot sign invoice urls", kind)
	}
	email := strings.TrimSpace(key.ClientEmail)
	if email == "" {
		return nil, errors.New("storage: signer key has no client_email")
	}
	rsaKey, err := parseRSAPrivateKey(strings.TrimSpace(key.PrivateKey))
	if err != nil {
		return nil, err
	}
	return &ServiceAccountSigner{email: email, keyID: strings.TrimSpace(key.PrivateKeyID), key: rsaKey}, nil
}

// LoadInvoiceSigner reads the dedicated signer key, falling back to the Firebase credentials file.
func LoadInvoiceSigner(keyFile, fallbackFile string) (*ServiceAccountSigner, error) {
	file := strings.TrimSpace(keyFile)
	if file == "" {
		file = strings.TrimSpace(fallbackFile)
	}
	if file == "" {
		return nil, errors.New("storage: no signer key configured")
	}
	contents, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("storage: read signer key: %w", err)
	}
	return NewServiceAccountSignerFromJSON(contents)
}

func (s *ServiceAccountSigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// KeyID identifies the key in logs without exposing it.
func (s *ServiceAccountSigner) KeyID() string {
	if s == nil {
		return ""
	}
	return s.keyID
}

// SignBytes produces an RSASSA-PKCS1-v1_5 SHA-256 signature.
func (s *ServiceAccountSigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errNoSigner
	}
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign url: %w", err)
	}
	return sig, nil
}

func parseRSAPrivateKey(pemData string) (*rsa.PrivateKey, error) {
	if pemData == "" {
		return nil, errors.New("storage: signer key has no private_key")
	}
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("storage: private_key is not PEM encoded")
	}
	if parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private_key is not an RSA key")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse private_key: %w", err)
	}
	return rsaKey, nil
}
