package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/joho/godotenv"
)

// AI provider names accepted in AI_PROVIDER.
const (
	AIProviderMock      = "mock"
	AIProviderAnthropic = "anthropic"
	AIProviderGemini    = "gemini"
)

// Quota store names accepted in QUOTA_STORE.
const (
	QuotaStoreMemory   = "memory"
	QuotaStoreRedis    = "redis"
	QuotaStorePostgres = "postgres"
)

// defaultModels are the candidate chains used when AI_MODELS is unset.
var defaultModels = map[string]struct{ estimate, image string }{
	AIProviderMock:      {"mock-primary,mock-secondary", "mock-image"},
	AIProviderAnthropic: {"claude-sonnet-4-5,claude-haiku-4-5", "gemini-2.5-flash-image"},
	AIProviderGemini:    {"gemini-2.5-pro,gemini-2.5-flash", "gemini-2.5-flash-image"},
}

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Storage Configuration
	StorageProvider string // "local" or "r2"

	// Local Storage (development)
	LocalStoragePath string // Base directory for local file storage
	LocalStorageURL  string // Base URL for accessing local files

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string
	R2PublicURL       string // Optional custom domain URL
	ImageURLExpiry    time.Duration

	// AI Provider Configuration
	AIProvider       string // "anthropic", "gemini" or "mock"
	AnthropicAPIKey  string
	GeminiAPIKey     string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Model candidate chains, primary first
	AIModels         string // Comma-separated estimate chain
	AIImageModels    string // Comma-separated image chain
	AIModelsFile     string // YAML chains file; overrides AIModels and AIImageModels
	AIAttemptTimeout time.Duration
	ModelCacheTTL    time.Duration // Zero disables the working-model cache

	// Quota store
	QuotaStore string // "memory", "redis" or "postgres"
	RedisURL   string

	// Pricing sources; an empty URL disables the source
	PricingLocalSellersURL   string
	PricingRegionalIndexURL  string
	PricingMaterialQuotesURL string
	PricingAPIKey            string
	PricingSourceTimeout     time.Duration
	PricingCacheTTL          time.Duration
	PricingRateLimit         float64 // Requests per second per source

	// Requests
	PhotoMaxDimension int
	MaxUploadMB       int

	// Subscription tiers
	DefaultTier      string // Tier for users without stored subscription state
	TrustGatewayTier bool   // Use X-Subscription-Tier when the gateway sends it
	TierCacheTTL     time.Duration

	// Stripe Billing Configuration. Without a secret key, tiers come from
	// the users table only.
	StripeSecretKey                  string
	StripeProfessionalMonthlyPriceID string
	StripeProfessionalYearlyPriceID  string
	StripeEnterpriseMonthlyPriceID   string
	StripeEnterpriseYearlyPriceID    string

	// Metrics and admin endpoint authentication
	// If both are empty, those endpoints are unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string

	// Per-caller API rate limit
	RateLimitPerSecond float64
	RateLimitBurst     int
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("LOCAL_STORAGE_PATH", "./storage"),
		LocalStorageURL:  getEnv("LOCAL_STORAGE_URL", "http://localhost:8080/files"),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),
		R2PublicURL:       getEnv("R2_PUBLIC_URL", ""),
		ImageURLExpiry:    getEnvDuration("IMAGE_URL_EXPIRY", time.Hour),

		// AI provider defaults
		AIProvider:       strings.ToLower(getEnv("AI_PROVIDER", AIProviderMock)),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 1),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_REQUEST_TIMEOUT", 60*time.Second),

		AIModels:         getEnv("AI_MODELS", ""),
		AIImageModels:    getEnv("AI_IMAGE_MODELS", ""),
		AIModelsFile:     getEnv("AI_MODELS_FILE", ""),
		AIAttemptTimeout: getEnvDuration("AI_ATTEMPT_TIMEOUT", fallback.DefaultAttemptTimeout),
		ModelCacheTTL:    getEnvDuration("MODEL_CACHE_TTL", 0),

		QuotaStore: strings.ToLower(getEnv("QUOTA_STORE", QuotaStorePostgres)),
		RedisURL:   getEnv("REDIS_URL", ""),

		PricingLocalSellersURL:   getEnv("PRICING_LOCAL_SELLERS_URL", ""),
		PricingRegionalIndexURL:  getEnv("PRICING_REGIONAL_INDEX_URL", ""),
		PricingMaterialQuotesURL: getEnv("PRICING_MATERIAL_QUOTES_URL", ""),
		PricingAPIKey:            getEnv("PRICING_API_KEY", ""),
		PricingSourceTimeout:     getEnvDuration("PRICING_SOURCE_TIMEOUT", 5*time.Second),
		PricingCacheTTL:          getEnvDuration("PRICING_CACHE_TTL", 15*time.Minute),
		PricingRateLimit:         getEnvFloat("PRICING_RATE_LIMIT", 5),

		PhotoMaxDimension: getEnvInt("PHOTO_MAX_DIMENSION", 1568),
		MaxUploadMB:       getEnvInt("MAX_UPLOAD_MB", 64),

		DefaultTier:      strings.ToLower(getEnv("DEFAULT_TIER", string(domain.SubscriptionTierFree))),
		TrustGatewayTier: getEnvBool("TRUST_GATEWAY_TIER", false),
		TierCacheTTL:     getEnvDuration("TIER_CACHE_TTL", 5*time.Minute),

		// Stripe billing (optional)
		StripeSecretKey:                  getEnv("STRIPE_SECRET_KEY", ""),
		StripeProfessionalMonthlyPriceID: getEnv("STRIPE_PROFESSIONAL_MONTHLY_PRICE_ID", ""),
		StripeProfessionalYearlyPriceID:  getEnv("STRIPE_PROFESSIONAL_YEARLY_PRICE_ID", ""),
		StripeEnterpriseMonthlyPriceID:   getEnv("STRIPE_ENTERPRISE_MONTHLY_PRICE_ID", ""),
		StripeEnterpriseYearlyPriceID:    getEnv("STRIPE_ENTERPRISE_YEARLY_PRICE_ID", ""),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		RateLimitPerSecond: getEnvFloat("RATE_LIMIT_PER_SECOND", 2),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 10),
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	// Validate storage configuration
	switch c.StorageProvider {
	case "local":
	case "r2":
		if c.R2AccountID == "" {
			return fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2AccessKeyID == "" {
			return fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2SecretAccessKey == "" {
			return fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if c.R2BucketName == "" {
			return fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	default:
		return fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", c.StorageProvider)
	}

	// Validate AI provider configuration
	switch c.AIProvider {
	case AIProviderMock:
	case AIProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case AIProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when AI_PROVIDER is 'gemini'")
		}
	default:
		return fmt.Errorf("AI_PROVIDER must be 'anthropic', 'gemini' or 'mock', got: %s", c.AIProvider)
	}

	// Validate quota store configuration
	switch c.QuotaStore {
	case QuotaStoreMemory, QuotaStorePostgres:
	case QuotaStoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when QUOTA_STORE is 'redis'")
		}
	default:
		return fmt.Errorf("QUOTA_STORE must be 'memory', 'redis' or 'postgres', got: %s", c.QuotaStore)
	}

	if !domain.SubscriptionTier(c.DefaultTier).Valid() {
		return fmt.Errorf("DEFAULT_TIER must be 'free', 'professional' or 'enterprise', got: %s", c.DefaultTier)
	}

	if _, err := c.ModelChains(); err != nil {
		return err
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ModelChains returns the configured candidate chains. A chains file takes
// precedence over the comma-separated lists.
func (c *Config) ModelChains() (fallback.Chains, error) {
	if c.AIModelsFile != "" {
		chains, err := fallback.LoadChains(c.AIModelsFile)
		if err != nil {
			return fallback.Chains{}, fmt.Errorf("AI_MODELS_FILE: %w", err)
		}
		return chains, nil
	}

	defaults := defaultModels[c.AIProvider]
	estimateList, imageList := c.AIModels, c.AIImageModels
	if estimateList == "" {
		estimateList = defaults.estimate
	}
	if imageList == "" {
		imageList = defaults.image
	}

	estimate, err := fallback.ParseCandidates(estimateList)
	if err != nil {
		return fallback.Chains{}, fmt.Errorf("AI_MODELS: %w", err)
	}
	image, err := fallback.ParseCandidates(imageList)
	if err != nil {
		return fallback.Chains{}, fmt.Errorf("AI_IMAGE_MODELS: %w", err)
	}
	return fallback.Chains{Estimate: estimate, Image: image, Validate: estimate}, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
