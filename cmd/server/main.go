package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/renova/internal"
	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/ai/anthropic"
	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/ai/gemini"
	"github.com/DukeRupert/renova/internal/ai/mock"
	"github.com/DukeRupert/renova/internal/billing"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/handler"
	"github.com/DukeRupert/renova/internal/metrics"
	"github.com/DukeRupert/renova/internal/middleware"
	"github.com/DukeRupert/renova/internal/pipeline"
	"github.com/DukeRupert/renova/internal/pricing"
	"github.com/DukeRupert/renova/internal/quota"
	"github.com/DukeRupert/renova/internal/repository"
	"github.com/DukeRupert/renova/internal/service"
	"github.com/DukeRupert/renova/internal/storage"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.Migrate(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	// ==========================================================================
	// Usage accounting
	// ==========================================================================

	store, closeStore, err := newQuotaStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Quota store ready", "store", cfg.QuotaStore)

	usage := service.NewUsageService(store, logger)
	tiers := newTierResolver(cfg, db, logger)

	// ==========================================================================
	// Generation
	// ==========================================================================

	generator, err := newGenerator(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}

	chains, err := cfg.ModelChains()
	if err != nil {
		return err
	}

	selectorOpts := []fallback.Option{
		fallback.WithAttemptTimeout(cfg.AIAttemptTimeout),
		fallback.WithLogger(logger),
	}
	// A rejected key only rules out models served by the same provider
	if router, ok := generator.(*ai.Router); ok {
		selectorOpts = append(selectorOpts, fallback.WithOwner(router.Owner))
	}
	var selector fallback.Selector = fallback.NewSelector(selectorOpts...)
	if cfg.ModelCacheTTL > 0 {
		selector = fallback.NewCachingSelector(selector, cfg.ModelCacheTTL)
	}

	objects, err := storage.New(storage.Config{
		Provider: cfg.StorageProvider,
		Local: storage.LocalConfig{
			BasePath: cfg.LocalStoragePath,
			BaseURL:  cfg.LocalStorageURL,
		},
		R2: storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}
	estimates := repository.NewEstimateRepository(db, objects, cfg.ImageURLExpiry, logger)

	orchestrator, err := pipeline.New(pipeline.Config{
		Usage:             usage,
		Generator:         generator,
		Photos:            service.NewImagingProcessor(logger),
		Selector:          selector,
		Pricing:           newPricingAggregator(cfg, logger),
		Recorder:          estimates,
		EstimateModels:    chains.Estimate,
		ImageModels:       chains.Image,
		PhotoMaxDimension: cfg.PhotoMaxDimension,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("pipeline initialization failed: %w", err)
	}
	logger.Info("Pipeline ready",
		"provider", cfg.AIProvider,
		"estimate_models", chains.Estimate,
		"image_models", chains.Image,
	)

	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	identity := middleware.NewIdentityMiddleware(logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, logger)
	defer limiter.Stop()

	metricsAuth := middleware.NewBasicAuthMiddleware("metrics", cfg.MetricsUsername, cfg.MetricsPassword)
	adminAuth := middleware.NewBasicAuthMiddleware("admin", cfg.MetricsUsername, cfg.MetricsPassword)
	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics and admin endpoints are unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	handler.NewHealthHandler(db, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	handler.NewEstimateHandler(orchestrator, tiers, estimates, int64(cfg.MaxUploadMB)<<20, logger).
		RegisterRoutes(mux, identity.RequireIdentity)
	handler.NewUsageHandler(usage, tiers, logger).
		RegisterRoutes(mux, identity.RequireIdentity, adminAuth.Handler)
	handler.NewModelHandler(generator, selector, chains, logger).
		RegisterRoutes(mux, adminAuth.Handler)

	// Rendered images, when stored on the local filesystem
	if cfg.StorageProvider == storage.ProviderLocal {
		files := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	// Identity wraps logging so request logs carry the user ID
	stack := middleware.Stack(
		middleware.NewSecurityHeadersMiddleware(isSecure).Handler,
		identity.WithIdentity,
		middleware.NewAccessLog(logger).Handler,
		metrics.Middleware,
		limiter.Limit,
	)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           stack(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// In-flight generations may take a while; give them time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.AIRequestTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Graceful shutdown complete")
	return nil
}

// newQuotaStore builds the configured usage store. The returned func
// releases its connections.
func newQuotaStore(ctx context.Context, cfg *internal.Config, db *sql.DB) (quota.Store, func(), error) {
	switch cfg.QuotaStore {
	case internal.QuotaStoreMemory:
		return quota.NewMemoryStore(), func() {}, nil
	case internal.QuotaStoreRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		client := goredis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return quota.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return quota.NewPostgresStore(db), func() {}, nil
	}
}

// newTierResolver resolves tiers from the users table, refreshing Stripe
// customers live when a secret key is configured.
func newTierResolver(cfg *internal.Config, db *sql.DB, logger *slog.Logger) service.TierResolver {
	resolverCfg := service.TierResolverConfig{
		Subscriptions:    repository.NewSubscriptionRepository(db),
		TrustGatewayTier: cfg.TrustGatewayTier,
		CacheTTL:         cfg.TierCacheTTL,
		DefaultTier:      domain.SubscriptionTier(cfg.DefaultTier),
	}
	if cfg.StripeSecretKey != "" {
		resolverCfg.Billing = billing.NewStripeService(cfg.StripeSecretKey, billing.PriceConfig{
			ProfessionalMonthlyPriceID: cfg.StripeProfessionalMonthlyPriceID,
			ProfessionalYearlyPriceID:  cfg.StripeProfessionalYearlyPriceID,
			EnterpriseMonthlyPriceID:   cfg.StripeEnterpriseMonthlyPriceID,
			EnterpriseYearlyPriceID:    cfg.StripeEnterpriseYearlyPriceID,
		})
		logger.Info("Stripe tier refresh enabled")
	}
	return service.NewTierResolver(resolverCfg, logger)
}

// newGenerator routes models to providers by name: claude-* to Anthropic,
// gemini-* to Gemini, anything else to the configured AI_PROVIDER.
func newGenerator(cfg *internal.Config, logger *slog.Logger) (ai.Generator, error) {
	if cfg.AIProvider == internal.AIProviderMock {
		logger.Warn("Using mock AI provider")
		return mock.New(logger), nil
	}

	var routes []ai.Route
	var primary ai.Generator

	if cfg.AnthropicAPIKey != "" {
		p, err := anthropic.New(anthropic.Config{
			APIKey: cfg.AnthropicAPIKey,
			ProviderConfig: ai.ProviderConfig{
				MaxRetries:     cfg.AIMaxRetries,
				RetryBaseDelay: cfg.AIRetryBaseDelay,
				RequestTimeout: cfg.AIRequestTimeout,
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		routes = append(routes, ai.Route{Prefix: "claude-", Generator: p})
		if cfg.AIProvider == internal.AIProviderAnthropic {
			primary = p
		}
	}

	if cfg.GeminiAPIKey != "" {
		p, err := gemini.New(cfg.GeminiAPIKey,
			gemini.WithHTTPClient(&http.Client{Timeout: cfg.AIRequestTimeout}),
			gemini.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		routes = append(routes, ai.Route{Prefix: "gemini-", Generator: p})
		if cfg.AIProvider == internal.AIProviderGemini {
			primary = p
		}
	}

	routes = append(routes, ai.Route{Prefix: "", Generator: primary})
	return ai.NewRouter(routes...), nil
}

// newPricingAggregator builds one HTTP source per configured endpoint.
// Returns nil when no source is configured, which skips pricing.
func newPricingAggregator(cfg *internal.Config, logger *slog.Logger) pipeline.PricingAggregator {
	endpoints := map[domain.PricingSource]string{
		domain.PricingLocalSellers:   cfg.PricingLocalSellersURL,
		domain.PricingRegionalIndex:  cfg.PricingRegionalIndexURL,
		domain.PricingMaterialQuotes: cfg.PricingMaterialQuotesURL,
	}

	var sources []pricing.Source
	for _, name := range domain.PricingSources {
		endpoint := endpoints[name]
		if endpoint == "" {
			continue
		}
		sources = append(sources, pricing.NewHTTPSource(name, endpoint,
			pricing.WithAPIKey(cfg.PricingAPIKey),
			pricing.WithRateLimit(cfg.PricingRateLimit, 1),
		))
	}
	if len(sources) == 0 {
		logger.Warn("No pricing sources configured; estimates use model knowledge only")
		return nil
	}

	return pricing.NewAggregator(sources,
		pricing.WithSourceTimeout(cfg.PricingSourceTimeout),
		pricing.WithCache(256, cfg.PricingCacheTTL),
		pricing.WithLogger(logger),
	)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
