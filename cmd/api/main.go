package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/di"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/handlers"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/invoicing"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/payments"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/auth"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/config"
	pfirestore "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/firestore"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/idempotency"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/jobs"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/mail"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/observability"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/secrets"
	platformstorage "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/platform/storage"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/rates"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories"
	boltstore "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/bolt"
	firestorerepo "github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/firestore"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/memory"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/repositories/postgres"
	"github.com/saadbuildingmaterials1-maker/jordan-customs-system-sub003/internal/services"
)

const idempotencyCollection = "idempotency_keys"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	registry, firestoreProvider, err := openStore(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to open payment store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	logger.Info("payment store ready", zap.String("driver", cfg.Store.Driver))

	rateProvider, err := rates.NewProvider(baseRateTable(cfg.Rates),
		rates.WithFile(cfg.Rates.File),
		rates.WithReloadInterval(cfg.Rates.ReloadInterval),
		rates.WithLogger(rates.Logger(observability.NewEventLogger(logger, "rates"))),
	)
	if err != nil {
		logger.Fatal("failed to initialise rate provider", zap.Error(err))
	}

	gateway, webhookDecoder := buildGateway(logger, cfg)

	renderer, err := invoicing.NewRenderer(cfg.Invoice.Issuer,
		invoicing.WithLocale(cfg.Invoice.Locale),
		invoicing.WithLocation(invoiceLocation(logger, cfg.Invoice.Timezone)),
	)
	if err != nil {
		logger.Fatal("failed to initialise invoice renderer", zap.Error(err))
	}

	archiver, closeStorage := buildArchiver(ctx, logger, cfg, renderer)
	defer closeStorage()

	mailer, err := invoicing.NewMailer(buildMailSender(logger, cfg), renderer)
	if err != nil {
		logger.Fatal("failed to initialise invoice mailer", zap.Error(err))
	}

	var events services.PaymentEventPublisher
	var pubsubTopic *pubsub.Topic
	if topicName := strings.TrimSpace(cfg.PubSub.PaymentEventsTopic); topicName != "" && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		pubsubTopic = pubsubClient.Topic(topicName)
		publisher, err := jobs.NewPubSubEventPublisher(pubsubTopic)
		if err != nil {
			logger.Fatal("failed to initialise payment event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		events = publisher
	}

	container, err := di.NewContainer(cfg, registry, di.Infrastructure{
		Rates:    rateProvider,
		Gateway:  gateway,
		Archiver: archiver,
		Mailer:   mailer,
		Events:   events,
		Metrics:  observability.NewPaymentMetrics(nil, logger.Named("metrics")),
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	var idempotencyStore idempotency.Store = idempotency.NewMemoryStore(cfg.RateLimits.IdempotencyTTL)
	if firestoreProvider != nil {
		client, err := firestoreProvider.Client(ctx)
		if err != nil {
			logger.Fatal("failed to initialise firestore client", zap.Error(err))
		}
		idempotencyStore = idempotency.NewFirestoreStore(client, idempotencyCollection)
	}
	idempotencyMiddleware := idempotency.Middleware(idempotencyStore, idempotency.Config{
		TTL:       cfg.RateLimits.IdempotencyTTL,
		Requester: handlers.IdempotencyRequester,
		Logger:    logger.Named("idempotency"),
	})

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)
	oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg)

	healthRepo, err := repositories.NewDependencyHealthRepository(dependencyChecks(registry, fetcher, pubsubTopic))
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthRepository(healthRepo),
		handlers.WithHealthBuildInfo(buildInfo),
	)

	svc := container.Services
	paymentHandlers := handlers.NewPaymentHandlers(svc.Payments,
		handlers.WithPaymentRateLimit(cfg.RateLimits.PaymentsPerMinute, cfg.RateLimits.PaymentsBurst),
		handlers.WithIdempotency(idempotencyMiddleware),
	)
	costHandlers := handlers.NewCostHandlers(svc.Costs)
	invoiceHandlers := handlers.NewInvoiceHandlers(svc.Invoices)
	internalHandlers := handlers.NewInternalHandlers(svc.Reconciliation)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(projectID),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithRPCMiddlewares(authenticator.RequireFirebaseAuth(), observability.CaptureCallerMiddleware),
		handlers.WithRPCRoutes(paymentHandlers.Routes, costHandlers.Routes, invoiceHandlers.Routes),
		handlers.WithInternalMiddlewares(oidcMiddleware, observability.CaptureCallerMiddleware),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if webhookDecoder != nil {
		webhookHandlers := handlers.NewWebhookHandlers(webhookDecoder, svc.Payments)
		opts = append(opts, handlers.WithWebhookRoutes(webhookHandlers.Routes))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sweepCtx, sweepCancel := context.WithCancel(observability.WithLogger(context.Background(), logger.Named("reconcile")))
	var sweepWG sync.WaitGroup
	if cfg.Reconciliation.Enabled {
		sweepWG.Add(1)
		go func() {
			defer sweepWG.Done()
			runReconciliation(sweepCtx, logger.Named("reconcile"), svc.Reconciliation, cfg.Reconciliation.Interval)
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("customs settlement api listening", zap.String("version", buildInfo.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	sweepCancel()
	sweepWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// openStore selects the payment store. The Firestore provider is returned so the idempotency store can
// share its client.
func openStore(ctx context.Context, logger *zap.Logger, cfg config.Config) (repositories.Registry, *pfirestore.Provider, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		opts := []pfirestore.ProviderOption{
			pfirestore.WithRetryObserver(pfirestore.LogRetries(observability.NewEventLogger(logger, "firestore"))),
		}
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, opts...)
		store, err := firestorerepo.NewStore(provider)
		if err != nil {
			return nil, nil, err
		}
		return store, provider, nil
	case config.StoreDriverPostgres:
		store, err := postgres.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreDriverBolt:
		store, err := boltstore.Open(cfg.Store.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case config.StoreDriverMemory:
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

func baseRateTable(cfg config.RatesConfig) rates.Table {
	return rates.Table{
		BaseCurrency:   cfg.BaseCurrency,
		DutyRate:       cfg.DutyRate,
		TaxRate:        cfg.TaxRate,
		AdditionalFees: cfg.AdditionalFees,
		Precision:      cfg.Precision,
		ExchangeRates:  cfg.ExchangeRates,
	}
}

// buildGateway wires Stripe when an API key is configured. Without one, payments are processed with
// caller-supplied references only.
func buildGateway(logger *zap.Logger, cfg config.Config) (*payments.Manager, *payments.StripeWebhookDecoder) {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("stripe api key not configured; gateway calls disabled")
		return nil, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.PSP.StripeAPIKey,
		AccountID: cfg.PSP.StripeAccountID,
		Logger:    payments.StripeLogger(observability.NewEventLogger(logger, "stripe")),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	manager, err := payments.NewManager(
		map[string]payments.Provider{payments.ProviderStripe: stripeProvider},
		payments.WithDefaultProvider(cfg.PSP.DefaultProvider),
		payments.WithCurrencyRoutes(cfg.PSP.CurrencyRoutes),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	if strings.TrimSpace(cfg.PSP.StripeWebhookSecret) == "" {
		logger.Warn("stripe webhook secret not configured; webhook endpoint disabled")
		return manager, nil
	}
	decoder, err := payments.NewStripeWebhookDecoder(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise stripe webhook decoder", zap.Error(err))
	}
	return manager, decoder
}

// buildArchiver wires PDF export to Cloud Storage. It returns a nil archiver when export is disabled or
// the bucket and signing key are missing.
func buildArchiver(ctx context.Context, logger *zap.Logger, cfg config.Config, renderer *invoicing.Renderer) (*invoicing.Archiver, func()) {
	noop := func() {}
	if !cfg.Invoice.PDFEnabled {
		return nil, noop
	}
	if strings.TrimSpace(cfg.Storage.InvoicesBucket) == "" {
		logger.Warn("invoice pdf export enabled without bucket; export disabled")
		return nil, noop
	}

	signer, err := platformstorage.LoadInvoiceSigner(cfg.Storage.SignerKeyFile, cfg.Firebase.CredentialsFile)
	if err != nil {
		logger.Warn("invoice pdf export enabled without usable signer key; export disabled", zap.Error(err))
		return nil, noop
	}
	logger.Info("invoice url signer ready", zap.String("service_account", signer.Email()), zap.String("key_id", signer.KeyID()))
	gcs, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	objects, err := platformstorage.NewClient(platformstorage.NewGCSWriter(gcs), signer, platformstorage.WithSigningScope(platformstorage.InvoicePDFScope))
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	archiver, err := invoicing.NewArchiver(invoicing.ArchiverConfig{
		Renderer:  renderer,
		Converter: invoicing.NewChromePDFConverter(invoicing.ChromeConfig{Timeout: cfg.Invoice.PDFTimeout, Logger: logger}),
		Store:     objects,
		Bucket:    cfg.Storage.InvoicesBucket,
		URLTTL:    cfg.Storage.SignedURLTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise invoice archiver", zap.Error(err))
	}
	return archiver, func() {
		if err := gcs.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}
}

func buildMailSender(logger *zap.Logger, cfg config.Config) mail.Sender {
	if strings.TrimSpace(cfg.Mail.MailgunDomain) == "" || strings.TrimSpace(cfg.Mail.MailgunAPIKey) == "" {
		logger.Info("mailgun not configured; invoice emails are logged only")
		return mail.NewLogSender(logger)
	}
	sender, err := mail.NewMailgunSender(mail.MailgunConfig{
		Domain:     cfg.Mail.MailgunDomain,
		APIKey:     cfg.Mail.MailgunAPIKey,
		From:       cfg.Mail.From,
		EUEndpoint: cfg.Mail.MailgunEU,
		Timeout:    cfg.Mail.Timeout,
	}, logger)
	if err != nil {
		logger.Fatal("failed to initialise mailgun sender", zap.Error(err))
	}
	return sender
}

func invoiceLocation(logger *zap.Logger, name string) *time.Location {
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		logger.Warn("unknown invoice timezone; using UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

func runReconciliation(ctx context.Context, logger *zap.Logger, reconciler services.ReconciliationService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, interval)
			report, err := reconciler.Reconcile(runCtx)
			cancel()
			if err != nil {
				logger.Error("reconciliation sweep failed", zap.Error(err))
				continue
			}
			if report.Examined > 0 {
				logger.Info("reconciliation sweep finished",
					zap.Int("examined", report.Examined),
					zap.Int("confirmed", report.Confirmed),
					zap.Int("failed", report.Failed),
					zap.Int("pending", report.Pending),
					zap.Int("errors", report.Errors),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func dependencyChecks(registry repositories.Registry, fetcher *secrets.Fetcher, topic *pubsub.Topic) []repositories.DependencyCheck {
	checks := []repositories.DependencyCheck{repositories.StoreCheck("store", registry)}
	if fetcher != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:     "secretManager",
			Timeout:  time.Second,
			Optional: true,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil || status.Code(err) == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.TopicCheck("pubsub", topic))
	}
	return checks
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	audience := strings.TrimSpace(cfg.Security.OIDC.Audience)
	if audience == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, nil, nil)
	validator := auth.NewOIDCValidator(cache, logger)
	return validator.RequireOIDC(audience, cfg.Security.OIDC.Issuers)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. Local runs may omit the gateway.
func requiredSecretNames(env map[string]string) []string {
	environment := strings.ToLower(strings.TrimSpace(env["API_SECURITY_ENVIRONMENT"]))
	if environment == "" || environment == "local" || environment == "test" {
		return nil
	}
	required := []string{"PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}
	if strings.TrimSpace(env["API_MAIL_MAILGUN_DOMAIN"]) != "" {
		required = append(required, "Mail.MailgunAPIKey")
	}
	if strings.EqualFold(strings.TrimSpace(env["API_STORE_DRIVER"]), config.StoreDriverPostgres) {
		required = append(required, "Store.PostgresDSN")
	}
	return required
}
