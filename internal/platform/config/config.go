package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultStoreDriver         = StoreDriverFirestore
	defaultBoltPath            = "data/payments.db"
	defaultSignedURLTTL        = 72 * time.Hour
	defaultPaymentEventsTopic  = "payment-events"
	defaultGatewayTimeout      = 10 * time.Second
	defaultMailFrom            = "billing@localhost"
	defaultMailTimeout         = 20 * time.Second
	defaultBaseCurrency        = "JOD"
	defaultDutyRate            = "0.05"
	defaultTaxRate             = "0.16"
	defaultRatesReload         = 5 * time.Minute
	defaultInvoiceDueDays      = 30
	defaultPDFTimeout          = 30 * time.Second
	defaultReconcileInterval   = 5 * time.Minute
	defaultReconcileStaleAfter = 15 * time.Minute
	defaultReconcileBatch      = 100
	defaultIdempotencyTTL      = 24 * time.Hour
	defaultPaymentsPerMinute   = 30
	defaultPaymentsBurst       = 10
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer      = "https://accounts.google.com"
)

// Supported payment store drivers.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverPostgres  = "postgres"
	StoreDriverBolt      = "bolt"
	StoreDriverMemory    = "memory"
)

var storeDrivers = []string{StoreDriverFirestore, StoreDriverPostgres, StoreDriverBolt, StoreDriverMemory}

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server         ServerConfig
	Firebase       FirebaseConfig
	Firestore      FirestoreConfig
	Store          StoreConfig
	Storage        StorageConfig
	PubSub         PubSubConfig
	PSP            PSPConfig
	Mail           MailConfig
	Rates          RatesConfig
	Invoice        InvoiceConfig
	Reconciliation ReconciliationConfig
	RateLimits     RateLimitConfig
	Security       SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StoreConfig selects the payment and invoice store.
type StoreConfig struct {
	Driver      string
	PostgresDSN string
	BoltPath    string
}

// StorageConfig names the bucket invoice documents are archived to.
type StorageConfig struct {
	InvoicesBucket string
	SignedURLTTL   time.Duration
	// SignerKeyFile is a service account JSON key used to sign download URLs. Empty falls back to
	// Firebase.CredentialsFile.
	SignerKeyFile  string
}

// PubSubConfig configures lifecycle event publication. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID          string
	PaymentEventsTopic string
}

// PSPConfig collects payment gateway settings and secrets.
type PSPConfig struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	StripeAccountID     string
	DefaultProvider     string
	CurrencyRoutes      map[string]string
	SuccessURL          string
	CancelURL           string
	Timeout             time.Duration
}

// MailConfig configures invoice email delivery. Without a domain and key mail is logged only.
type MailConfig struct {
	MailgunDomain string
	MailgunAPIKey string
	MailgunEU     bool
	From          string
	Timeout       time.Duration
}

// RatesConfig is the baseline rate table; File layers a YAML table over it.
type RatesConfig struct {
	BaseCurrency   string
	DutyRate       decimal.Decimal
	TaxRate        decimal.Decimal
	AdditionalFees decimal.Decimal
	Precision      map[string]int32
	ExchangeRates  map[string]decimal.Decimal
	File           string
	ReloadInterval time.Duration
}

// InvoiceConfig controls invoice derivation and document export.
type InvoiceConfig struct {
	DueDays    int
	PDFEnabled bool
	PDFTimeout time.Duration
	Issuer     string
	Locale     string
	Timezone   string
}

// ReconciliationConfig controls the sweep over payments stuck in processing.
type ReconciliationConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// RateLimitConfig throttles mutating payment procedures per caller and sets the Idempotency-Key replay
// window.
type RateLimitConfig struct {
	PaymentsPerMinute int
	PaymentsBurst     int
	IdempotencyTTL    time.Duration
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification on internal endpoints.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return slices.Clone(e.fields)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the missing secret identifiers.
func (e *MissingSecretsError) Names() []string {
	out := slices.Clone(e.names)
	sort.Strings(out)
	return out
}

// RedactedNames returns hashed identifiers that are safe to log.
func (e *MissingSecretsError) RedactedNames() []string {
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects explicit values that take precedence over the system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// WithRequiredSecrets marks secret fields (e.g. "PSP.StripeAPIKey") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) {
		o.requiredSecrets = append(o.requiredSecrets, names...)
	}
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// EnvironmentValues returns the merged environment (dotenv < OS env < explicit map) so callers can build
// dependencies such as the secret fetcher before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := newLoaderOptions(opts)
	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string, len(dotEnv))
	for key, value := range dotEnv {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			if !ok || strings.TrimSpace(key) == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// Load assembles the application configuration from defaults, .env, the environment and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}
	env := newEnvReader(func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	})

	cfg := Config{
		Server: ServerConfig{
			Port:         env.String("API_SERVER_PORT", defaultPort),
			ReadTimeout:  env.Duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: env.Duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  env.Duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       env.String("API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: env.String("API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    env.String("API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: env.String("API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Store: StoreConfig{
			Driver:      strings.ToLower(env.String("API_STORE_DRIVER", defaultStoreDriver)),
			PostgresDSN: env.String("API_STORE_POSTGRES_DSN", ""),
			BoltPath:    env.String("API_STORE_BOLT_PATH", defaultBoltPath),
		},
		Storage: StorageConfig{
			InvoicesBucket: env.String("API_STORAGE_INVOICES_BUCKET", ""),
			SignedURLTTL:   env.Duration("API_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			SignerKeyFile:  env.String("API_STORAGE_SIGNER_KEY_FILE", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          env.String("API_PUBSUB_PROJECT_ID", ""),
			PaymentEventsTopic: env.String("API_PUBSUB_PAYMENT_EVENTS_TOPIC", defaultPaymentEventsTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey:        env.String("API_PSP_STRIPE_API_KEY", ""),
			StripeWebhookSecret: env.String("API_PSP_STRIPE_WEBHOOK_SECRET", ""),
			StripeAccountID:     env.String("API_PSP_STRIPE_ACCOUNT_ID", ""),
			DefaultProvider:     strings.ToLower(env.String("API_PSP_DEFAULT_PROVIDER", "stripe")),
			CurrencyRoutes:      env.Map("API_PSP_CURRENCY_ROUTES"),
			SuccessURL:          env.String("API_PSP_SUCCESS_URL", ""),
			CancelURL:           env.String("API_PSP_CANCEL_URL", ""),
			Timeout:             env.Duration("API_PSP_TIMEOUT", defaultGatewayTimeout),
		},
		Mail: MailConfig{
			MailgunDomain: env.String("API_MAIL_MAILGUN_DOMAIN", ""),
			MailgunAPIKey: env.String("API_MAIL_MAILGUN_API_KEY", ""),
			MailgunEU:     env.Bool("API_MAIL_MAILGUN_EU", false),
			From:          env.String("API_MAIL_FROM", defaultMailFrom),
			Timeout:       env.Duration("API_MAIL_TIMEOUT", defaultMailTimeout),
		},
		Rates: RatesConfig{
			BaseCurrency:   strings.ToUpper(env.String("API_RATES_BASE_CURRENCY", defaultBaseCurrency)),
			DutyRate:       env.Decimal("API_RATES_DUTY_RATE", defaultDutyRate),
			TaxRate:        env.Decimal("API_RATES_TAX_RATE", defaultTaxRate),
			AdditionalFees: env.Decimal("API_RATES_ADDITIONAL_FEES", "0"),
			Precision:      env.Precision("API_RATES_PRECISION", map[string]int32{"JOD": 3, "KWD": 3, "BHD": 3, "JPY": 0}),
			ExchangeRates:  env.DecimalMap("API_RATES_EXCHANGE_RATES"),
			File:           env.String("API_RATES_FILE", ""),
			ReloadInterval: env.Duration("API_RATES_RELOAD_INTERVAL", defaultRatesReload),
		},
		Invoice: InvoiceConfig{
			DueDays:    env.Int("API_INVOICE_DUE_DAYS", defaultInvoiceDueDays),
			PDFEnabled: env.Bool("API_INVOICE_PDF_ENABLED", false),
			PDFTimeout: env.Duration("API_INVOICE_PDF_TIMEOUT", defaultPDFTimeout),
			Issuer:     env.String("API_INVOICE_ISSUER", "Customs Clearance Services"),
			Locale:     env.String("API_INVOICE_LOCALE", "en"),
			Timezone:   env.String("API_INVOICE_TIMEZONE", "Asia/Amman"),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:    env.Bool("API_RECONCILE_ENABLED", true),
			Interval:   env.Duration("API_RECONCILE_INTERVAL", defaultReconcileInterval),
			StaleAfter: env.Duration("API_RECONCILE_STALE_AFTER", defaultReconcileStaleAfter),
			BatchSize:  env.Int("API_RECONCILE_BATCH_SIZE", defaultReconcileBatch),
		},
		RateLimits: RateLimitConfig{
			PaymentsPerMinute: env.Int("API_RATELIMIT_PAYMENTS_PER_MIN", defaultPaymentsPerMinute),
			PaymentsBurst:     env.Int("API_RATELIMIT_PAYMENTS_BURST", defaultPaymentsBurst),
			IdempotencyTTL:    env.Duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
		Security: SecurityConfig{
			Environment: strings.ToLower(env.String("API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment)),
			OIDC: OIDCConfig{
				JWKSURL:   env.String("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  env.String("API_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: env.Map("API_SECURITY_OIDC_AUDIENCES"),
				Issuers:   env.CSV("API_SECURITY_OIDC_ISSUERS"),
			},
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.Storage.SignerKeyFile == "" {
		cfg.Storage.SignerKeyFile = cfg.Firebase.CredentialsFile
	}
	if len(cfg.Security.OIDC.Issuers) == 0 {
		cfg.Security.OIDC.Issuers = []string{defaultSecurityIssuer}
	}
	if cfg.Security.OIDC.Audience == "" {
		cfg.Security.OIDC.Audience = cfg.Security.OIDC.Audiences[cfg.Security.Environment]
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"PSP.StripeAPIKey", &cfg.PSP.StripeAPIKey},
		{"PSP.StripeWebhookSecret", &cfg.PSP.StripeWebhookSecret},
		{"Mail.MailgunAPIKey", &cfg.Mail.MailgunAPIKey},
		{"Store.PostgresDSN", &cfg.Store.PostgresDSN},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg, env.invalid); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func validateConfig(cfg Config, invalid []string) error {
	fields := slices.Clone(invalid)

	if cfg.Server.Port == "" {
		fields = append(fields, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		fields = append(fields, "Firebase.ProjectID")
	}
	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			fields = append(fields, "Firestore.ProjectID")
		}
	case StoreDriverPostgres:
		if cfg.Store.PostgresDSN == "" {
			fields = append(fields, "Store.PostgresDSN")
		}
	case StoreDriverBolt:
		if cfg.Store.BoltPath == "" {
			fields = append(fields, "Store.BoltPath")
		}
	case StoreDriverMemory:
	default:
		fields = append(fields, fmt.Sprintf("Store.Driver(%s not in %s)", cfg.Store.Driver, strings.Join(storeDrivers, "|")))
	}
	if len(cfg.Rates.BaseCurrency) != 3 {
		fields = append(fields, "Rates.BaseCurrency")
	}
	if cfg.Rates.DutyRate.IsNegative() {
		fields = append(fields, "Rates.DutyRate")
	}
	if cfg.Rates.TaxRate.IsNegative() {
		fields = append(fields, "Rates.TaxRate")
	}
	if cfg.Invoice.DueDays <= 0 {
		fields = append(fields, "Invoice.DueDays")
	}
	if cfg.Reconciliation.Enabled && (cfg.Reconciliation.Interval <= 0 || cfg.Reconciliation.StaleAfter <= 0) {
		fields = append(fields, "Reconciliation.Interval")
	}
	if cfg.PSP.Timeout <= 0 {
		fields = append(fields, "PSP.Timeout")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "secret://"), "sm://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var missing []string
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" || slices.Contains(missing, name) {
			continue
		}
		if resolved[name] == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &MissingSecretsError{names: missing}
}
