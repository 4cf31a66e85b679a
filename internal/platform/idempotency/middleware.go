package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/httpx"
)

const (
	HeaderName       = "Idempotency-Key"
	replayHeaderName = "X-Idempotent-Replay"
	maxKeyLength     = 255
)

// RequesterFunc names the caller a key is scoped to.
type RequesterFunc func(r *http.Request) string

// Config customises the middleware.
type Config struct {
	TTL       time.Duration
	Requester RequesterFunc
	Logger    *zap.Logger
}

// Middleware replays completed responses for requests that carry an Idempotency-Key header. Requests
// without the header pass through untouched. Only 2xx and 4xx responses are stored; server errors release
// the key so the caller can retry.
func Middleware(store Store, cfg Config) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderName))
			if key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			if len(key) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "idempotency key is too long", http.StatusBadRequest))
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, httpx.DefaultMaxBodyBytes+1))
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_body", "unable to read request body", http.StatusBadRequest))
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			requester := "anonymous"
			if cfg.Requester != nil {
				if who := strings.TrimSpace(cfg.Requester(r)); who != "" {
					requester = who
				}
			}
			scoped := requester + "|" + r.URL.Path + "|" + key
			fingerprint := documentID(r.Method + "|" + r.URL.Path + "|" + string(body))

			state, record, err := store.Reserve(ctx, scoped, fingerprint, cfg.TTL)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusUnprocessableEntity))
					return
				}
				cfg.Logger.Warn("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable))
				return
			}

			switch state {
			case StateCompleted:
				replay(w, record)
				return
			case StatePending:
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict))
				return
			}

			rec := &recorder{header: http.Header{}}
			next.ServeHTTP(rec, r)

			if rec.status() >= http.StatusInternalServerError {
				if err := store.Release(ctx, scoped); err != nil {
					cfg.Logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else {
				completed := Record{
					Fingerprint: fingerprint,
					Status:      rec.status(),
					Headers:     replayableHeaders(rec.header),
					Body:        rec.body.Bytes(),
				}
				if err := store.Complete(ctx, scoped, completed, cfg.TTL); err != nil {
					cfg.Logger.Warn("idempotency complete failed", zap.Error(err))
				}
			}
			rec.flush(w)
		})
	}
}

func replay(w http.ResponseWriter, record Record) {
	for name, values := range record.Headers {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")
	status := record.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.Body)
}

type recorder struct {
	header http.Header
	code   int
	body   bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(status int) {
	if r.code == 0 {
		r.code = status
	}
}

func (r *recorder) Write(data []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *recorder) status() int {
	if r.code == 0 {
		return http.StatusOK
	}
	return r.code
}

func (r *recorder) flush(w http.ResponseWriter) {
	for name, values := range r.header {
		w.Header()[name] = values
	}
	w.WriteHeader(r.status())
	_, _ = w.Write(r.body.Bytes())
}
