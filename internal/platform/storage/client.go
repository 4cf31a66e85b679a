package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const (
	defaultDownloadExpiry      = 72 * time.Hour
	maxDownloadSignedURLExpiry = 7 * 24 * time.Hour
)

var (
	errNoSigner           = errors.New("storage: signer is required")
	errNoWriter           = errors.New("storage: object writer is required")
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errInvalidObject      = errors.New("storage: object name is required")
	errMethodNotAllowed   = errors.New("storage: HTTP method not allowed for download")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	errEmptyPayload       = errors.New("storage: payload is empty")
	errExpiryTooLong      = errors.New("storage: expiry exceeds permitted maximum")
)

// ObjectWriter persists object bytes into a bucket.
type ObjectWriter interface {
	WriteObject(ctx context.Context, bucket, object string, data []byte, opts UploadOptions) error
}

// GCSWriter writes objects through a Cloud Storage client.
type GCSWriter struct {
	client *storage.Client
}

// NewGCSWriter wraps a Cloud Storage client.
func NewGCSWriter(client *storage.Client) *GCSWriter {
	return &GCSWriter{client: client}
}

// WriteObject streams data into bucket/object and closes the writer so the upload commits.
func (w *GCSWriter) WriteObject(ctx context.Context, bucket, object string, data []byte, opts UploadOptions) error {
	if w == nil || w.client == nil {
		return errNoWriter
	}
	writer := w.client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = opts.ContentType
	if opts.CacheControl != "" {
		writer.CacheControl = opts.CacheControl
	}
	if opts.Disposition != "" {
		writer.ContentDisposition = opts.Disposition
	}
	if len(opts.Metadata) > 0 {
		writer.Metadata = make(map[string]string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			writer.Metadata[k] = v
		}
	}
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return fmt.Errorf("storage: write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("storage: commit object: %w", err)
	}
	return nil
}

// Client uploads generated documents and issues signed download URLs for them.
type Client struct {
	writer ObjectWriter
	signer Signer
	scope  SigningScope
	scheme storage.SigningScheme
	now    func() time.Time
}

// ClientOption customises client behaviour.
type ClientOption func(*Client)

// WithSigningScheme overrides the signing scheme (defaults to V4).
func WithSigningScheme(scheme storage.SigningScheme) ClientOption {
	return func(c *Client) {
		if scheme != 0 {
			c.scheme = scheme
		}
	}
}

// WithSigningScope restricts SignedDownloadURL to objects inside scope.
func WithSigningScope(scope SigningScope) ClientOption {
	return func(c *Client) {
		c.scope = scope
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a storage client. Both the writer and the signer are required.
func NewClient(writer ObjectWriter, signer Signer, opts ...ClientOption) (*Client, error) {
	if writer == nil {
		return nil, errNoWriter
	}
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}

	client := &Client{
		writer: writer,
		signer: signer,
		scheme: storage.SigningSchemeV4,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

// UploadOptions describe object attributes applied on write.
type UploadOptions struct {
	ContentType  string
	CacheControl string
	Disposition  string
	Metadata     map[string]string
}

// DownloadOptions control download-specific validation and response behaviour.
type DownloadOptions struct {
	Method       string
	ExpiresIn    time.Duration
	Disposition  string
	CacheControl string
	ResponseType string
}

// SignedURLResult describes the generated signed URL details.
type SignedURLResult struct {
	URL       string
	Method    string
	ExpiresAt time.Time
}

// Upload writes data to bucket/object.
func (c *Client) Upload(ctx context.Context, bucket, object string, data []byte, opts UploadOptions) error {
	if c == nil || c.writer == nil {
		return errNoWriter
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errEmptyPayload
	}
	opts.ContentType = strings.TrimSpace(opts.ContentType)
	if opts.ContentType == "" {
		return errContentTypeMissing
	}
	return c.writer.WriteObject(ctx, bucket, object, data, opts)
}

// SignedDownloadURL creates a signed GET/HEAD URL for an existing object.
func (c *Client) SignedDownloadURL(ctx context.Context, bucket, object string, opts DownloadOptions) (SignedURLResult, error) {
	if c == nil || c.signer == nil {
		return SignedURLResult{}, errNoSigner
	}
	if ctx == nil {
		return SignedURLResult{}, errors.New("storage: context is required")
	}
	bucket, object, err := normaliseLocation(bucket, object)
	if err != nil {
		return SignedURLResult{}, err
	}
	if err := c.scope.permits(object); err != nil {
		return SignedURLResult{}, err
	}

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = httpMethodGet
	}
	if method != httpMethodGet && method != httpMethodHead {
		return SignedURLResult{}, errMethodNotAllowed
	}

	expiry := opts.ExpiresIn
	if expiry <= 0 {
		expiry = defaultDownloadExpiry
	}
	if expiry > maxDownloadSignedURLExpiry {
		return SignedURLResult{}, errExpiryTooLong
	}

	googleAccessID := c.signer.Email()
	if googleAccessID == "" {
		return SignedURLResult{}, errNoSigner
	}

	expiryTime := c.now().Add(expiry)
	urlOpts := storage.SignedURLOptions{
		GoogleAccessID: googleAccessID,
		Scheme:         c.scheme,
		Method:         method,
		Expires:        expiryTime,
		SignBytes: func(payload []byte) ([]byte, error) {
			return c.signer.SignBytes(ctx, payload)
		},
	}

	query := map[string]string{}
	if opts.Disposition != "" {
		query["response-content-disposition"] = opts.Disposition
	}
	if opts.CacheControl != "" {
		query["response-cache-control"] = opts.CacheControl
	}
	if opts.ResponseType != "" {
		query["response-content-type"] = opts.ResponseType
	}
	if len(query) > 0 {
		urlOpts.QueryParameters = mapToURLValues(query)
	}

	signedURL, err := storage.SignedURL(bucket, object, &urlOpts)
	if err != nil {
		return SignedURLResult{}, fmt.Errorf("storage: sign download url: %w", err)
	}

	return SignedURLResult{
		URL:       signedURL,
		Method:    method,
		ExpiresAt: expiryTime,
	}, nil
}

const (
	httpMethodGet  = "GET"
	httpMethodHead = "HEAD"
)

func normaliseLocation(bucket, object string) (string, string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return "", "", errInvalidBucket
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return "", "", errInvalidObject
	}
	return bucket, object, nil
}

func mapToURLValues(values map[string]string) url.Values {
	out := make(url.Values, len(values))
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out.Add(key, values[key])
	}
	return out
}
