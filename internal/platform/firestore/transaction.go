package firestore

import (
	"context"
	"errors"
	"maps"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts  = 5
	defaultTxTimeout   = 15 * time.Second
	defaultTxOperation = "transaction"
)

// TxFunc is executed within a Firestore transaction. Firestore re-runs it from the top on contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxAttempt describes one re-run of a transaction callback.
type TxAttempt struct {
	Operation string
	Attempt   int
	Max       int
	Fields    map[string]string
}

// TxObserver is notified before every attempt after the first.
type TxObserver func(ctx context.Context, attempt TxAttempt)

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	op        string
	attempts  int
	timeout   time.Duration
	fields    map[string]string
	observers []TxObserver
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxOperation names the transaction in wrapped errors and retry notifications.
func WithTxOperation(op string) TxOption {
	return func(cfg *txConfig) {
		if op != "" {
			cfg.op = op
		}
	}
}

// WithTxField attaches a label such as the payment id to retry notifications.
func WithTxField(key, value string) TxOption {
	return func(cfg *txConfig) {
		if key == "" {
			return
		}
		if cfg.fields == nil {
			cfg.fields = make(map[string]string, 2)
		}
		cfg.fields[key] = value
	}
}

// WithTxObserver registers a retry observer.
func WithTxObserver(observer TxObserver) TxOption {
	return func(cfg *txConfig) {
		if observer != nil {
			cfg.observers = append(cfg.observers, observer)
		}
	}
}

func newTxConfig(opts []TxOption) txConfig {
	cfg := txConfig{op: defaultTxOperation, attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// instrument counts callback invocations and notifies observers on re-runs.
func (cfg txConfig) instrument(fn TxFunc) TxFunc {
	attempt := 0
	return func(ctx context.Context, tx *firestore.Transaction) error {
		attempt++
		if attempt > 1 {
			info := TxAttempt{Operation: cfg.op, Attempt: attempt, Max: cfg.attempts, Fields: maps.Clone(cfg.fields)}
			for _, observe := range cfg.observers {
				observe(ctx, info)
			}
		}
		return fn(ctx, tx)
	}
}

// transactionContext applies the timeout unless the caller already has a tighter deadline.
func transactionContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// RunTransaction executes fn within a transaction on the provided client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := newTxConfig(opts)
	if client == nil {
		return WrapError(cfg.op, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.op, errors.New("firestore: transaction function is nil"))
	}

	txnCtx, cancel := transactionContext(ctx, cfg.timeout)
	defer cancel()

	err := client.RunTransaction(txnCtx, cfg.instrument(fn), firestore.MaxAttempts(cfg.attempts))
	return WrapError(cfg.op, err)
}
