// Package config defines the process configuration for the copyforge services.
// Configuration is loaded once at process start (Lambda cold start or local
// boot) and is immutable afterwards.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"copyforge/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types just to unmask a credential.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"copyforge-api"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Billing       BillingConfig
	Auth          AuthConfig
	Generation    GenerationConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
	Janitor       JanitorConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// AppURL is the browser-facing base used for checkout redirects (no trailing slash).
	AppURL string `envconfig:"APP_URL" validate:"required,url"`

	Port               string        `envconfig:"PORT" default:"8080"`
	RequestTimeout     time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	CorsAllowedOrigins []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// DatabaseConfig selects the ledger backend and tunes the Postgres pool.
type DatabaseConfig struct {
	// Backend is "postgres" in every deployed environment. "memory" keeps the
	// ledger in process and is meant for local development only.
	Backend string       `envconfig:"STORE_BACKEND" default:"postgres" validate:"oneof=postgres memory"`
	URL     SecretString `envconfig:"DATABASE_URL" validate:"required_if=Backend postgres"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// RedisConfig is optional. When URL is empty the processed-event log lives in
// Postgres and rate limiting is disabled.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`
}

// Enabled reports whether a Redis URL was configured.
func (c RedisConfig) Enabled() bool { return c.URL.IsSet() }

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`

	// Optional queue for reconciliation gaps. Empty disables publishing.
	GapQueueURL string `envconfig:"SQS_RECONCILIATION_GAPS" validate:"omitempty,url"`

	// LocalStack support (empty in prod).
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// BillingConfig holds Stripe credentials and the price IDs that identify plans.
type BillingConfig struct {
	StripeSecretKey     SecretString `envconfig:"STRIPE_SECRET_KEY" validate:"required"`
	StripeWebhookSecret SecretString `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	StripeAPIBaseURL    string       `envconfig:"STRIPE_API_BASE_URL" default:"https://api.stripe.com" validate:"url"`

	PriceStarter  string `envconfig:"STRIPE_PRICE_STARTER" validate:"required"`
	PricePro      string `envconfig:"STRIPE_PRICE_PRO" validate:"required"`
	PriceBusiness string `envconfig:"STRIPE_PRICE_BUSINESS" validate:"required"`

	// EventRetention must outlive Stripe's redelivery window (3 days).
	EventRetention time.Duration `envconfig:"BILLING_EVENT_RETENTION" default:"720h"`
	PlanCacheTTL   time.Duration `envconfig:"PLAN_CACHE_TTL" default:"5m"`
	PlanCacheSize  int           `envconfig:"PLAN_CACHE_SIZE" default:"1024"`
}

// AuthConfig configures bearer-token verification. Exactly one of JWTSecret
// or JWKSURL must be set.
type AuthConfig struct {
	JWTSecret SecretString `envconfig:"AUTH_JWT_SECRET"`
	JWKSURL   string       `envconfig:"AUTH_JWKS_URL" validate:"omitempty,url"`
	Issuer    string       `envconfig:"AUTH_ISSUER"`
	Audience  string       `envconfig:"AUTH_AUDIENCE"`
}

// GenerationConfig configures the text-generation backend.
type GenerationConfig struct {
	// Backend "echo" renders a deterministic draft without calling a model.
	Backend         string        `envconfig:"GENERATION_BACKEND" default:"gemini" validate:"oneof=gemini echo"`
	GeminiAPIKey    SecretString  `envconfig:"GEMINI_API_KEY" validate:"required_if=Backend gemini"`
	GeminiModel     string        `envconfig:"GEMINI_MODEL" default:"gemini-1.5-flash"`
	Timeout         time.Duration `envconfig:"GENERATION_TIMEOUT" default:"45s"`
	RefundOnFailure bool          `envconfig:"GENERATION_REFUND_ON_FAILURE" default:"false"`
	MaxOutputTokens int32         `envconfig:"GENERATION_MAX_OUTPUT_TOKENS" default:"2048"`
	HistoryEnabled  bool          `envconfig:"GENERATION_HISTORY_ENABLED" default:"true"`
}

// RateLimitConfig bounds how often one user may call the generate endpoint.
type RateLimitConfig struct {
	GeneratePerMinute int `envconfig:"RATE_LIMIT_GENERATE_PER_MINUTE" default:"20" validate:"min=0"`
}

// ObservabilityConfig selects the metrics backend.
type ObservabilityConfig struct {
	MetricsBackend  string `envconfig:"METRICS_BACKEND" default:"none" validate:"oneof=none prometheus cloudwatch"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"CopyForge"`
}

// JanitorConfig drives cmd/event-janitor when it runs outside Lambda.
type JanitorConfig struct {
	Schedule string `envconfig:"JANITOR_SCHEDULE" default:"@every 6h"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	// ErrMissingEnv indicates a required environment variable was not found.
	ErrMissingEnv ConfigErrorType = "MISSING_ENV"
	// ErrSSMResolution indicates a failure when fetching secrets from AWS SSM.
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	// ErrValidation indicates the configuration failed struct validation rules.
	ErrValidation ConfigErrorType = "VALIDATION_FAILED"
	// ErrParsing indicates an environment value could not be parsed.
	ErrParsing ConfigErrorType = "PARSING_FAILED"
)
