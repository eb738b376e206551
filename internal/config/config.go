package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the asset service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"asset-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"ASSET_API_PORT" envDefault:"8288"`
	LogLevel        string        `env:"ASSET_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database (required, no default)
	DBPostgresqlWriteDSN string `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`

	// Database Connection Pool
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// S3 Storage Configuration
	S3Endpoint          string        `env:"ASSET_S3_ENDPOINT,notEmpty"`
	S3PublicEndpoint    string        `env:"ASSET_S3_PUBLIC_ENDPOINT"`
	S3Region            string        `env:"ASSET_S3_REGION" envDefault:"us-west-2"`
	S3Bucket            string        `env:"ASSET_S3_BUCKET" envDefault:"wardrobe-assets"`
	S3AccessKeyID       string        `env:"ASSET_S3_ACCESS_KEY_ID"`
	S3SecretKey         string        `env:"ASSET_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle      bool          `env:"ASSET_S3_USE_PATH_STYLE" envDefault:"true"`
	EnsureBucketTimeout time.Duration `env:"ASSET_ENSURE_BUCKET_TIMEOUT" envDefault:"20s"`

	// Asset Limits
	MaxSourceBytes    int64    `env:"ASSET_MAX_SOURCE_BYTES" envDefault:"10485760"`
	MaxStorageBytes   int64    `env:"ASSET_MAX_STORAGE_BYTES" envDefault:"10485760"`
	AllowedMIMETypes  []string `env:"ASSET_ALLOWED_MIME_TYPES" envSeparator:"," envDefault:"image/jpeg,image/png,image/webp,image/gif"`
	MaxImageDimension int      `env:"ASSET_MAX_IMAGE_DIMENSION" envDefault:"1024"`

	// Replicate API
	ReplicateAPIToken    string        `env:"REPLICATE_API_TOKEN,notEmpty"`
	ReplicateBaseURL     string        `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com"`
	GenerationVersion    string        `env:"GENERATION_MODEL_VERSION"` // Optional pinned version, tried first
	GenerationModels     []string      `env:"GENERATION_MODELS" envSeparator:"," envDefault:"black-forest-labs/flux-schnell,black-forest-labs/flux-dev"`
	GenerationCostUnits  string        `env:"GENERATION_COST_UNITS" envDefault:"0.003"`
	RemovalModel         string        `env:"REMOVAL_MODEL" envDefault:"851-labs/background-remover"`
	RemovalModelVersion  string        `env:"REMOVAL_MODEL_VERSION"` // Optional pin, otherwise resolved per call
	MaxBgRemovalAttempts int           `env:"MAX_BG_REMOVAL_ATTEMPTS" envDefault:"3"`
	SubmitTimeout        time.Duration `env:"REPLICATE_SUBMIT_TIMEOUT" envDefault:"60s"`
	PollTimeout          time.Duration `env:"REPLICATE_POLL_TIMEOUT" envDefault:"30s"`
	PollCeiling          time.Duration `env:"REPLICATE_POLL_CEILING" envDefault:"120s"`
	PollInterval         time.Duration `env:"REPLICATE_POLL_INTERVAL" envDefault:"2s"`
	DownloadTimeout      time.Duration `env:"ASSET_DOWNLOAD_TIMEOUT" envDefault:"30s"`

	// Stale-processing sweep
	StaleProcessingAfter time.Duration `env:"ASSET_STALE_PROCESSING_AFTER" envDefault:"15m"`
	JanitorEnabled       bool          `env:"ASSET_JANITOR_ENABLED" envDefault:"true"`

	// Authentication
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthIssuer  string `env:"AUTH_ISSUER"`
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.S3Bucket = strings.TrimSpace(cfg.S3Bucket)
	cfg.S3AccessKeyID = strings.TrimSpace(cfg.S3AccessKeyID)
	cfg.S3SecretKey = strings.TrimSpace(cfg.S3SecretKey)
	cfg.S3Endpoint = strings.TrimSpace(cfg.S3Endpoint)
	cfg.S3PublicEndpoint = strings.TrimSpace(cfg.S3PublicEndpoint)
	cfg.ReplicateAPIToken = strings.TrimSpace(cfg.ReplicateAPIToken)
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 10 * 1024 * 1024
	}
	if cfg.MaxStorageBytes < cfg.MaxSourceBytes {
		cfg.MaxStorageBytes = cfg.MaxSourceBytes
	}
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = 1024
	}
	if cfg.MaxBgRemovalAttempts <= 0 {
		cfg.MaxBgRemovalAttempts = 3
	}
	if cfg.GenerationVersion == "" && len(cfg.GenerationModels) == 0 {
		return nil, fmt.Errorf("GENERATION_MODELS must list at least one model when no version is pinned")
	}
	if cfg.AuthEnabled {
		if strings.TrimSpace(cfg.AuthIssuer) == "" {
			return nil, fmt.Errorf("AUTH_ISSUER is required when AUTH_ENABLED is true")
		}
		if strings.TrimSpace(cfg.AuthJWKSURL) == "" {
			return nil, fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is true")
		}
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// MIMEAllowed reports whether the declared content type is accepted for
// direct uploads.
func (c *Config) MIMEAllowed(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, allowed := range c.AllowedMIMETypes {
		if mime == strings.ToLower(strings.TrimSpace(allowed)) {
			return true
		}
	}
	return false
}

// GenerationCandidates returns the ordered model identifiers to try: the
// pinned version first when configured, then the fallback aliases.
func (c *Config) GenerationCandidates() []string {
	candidates := make([]string, 0, len(c.GenerationModels)+1)
	if v := strings.TrimSpace(c.GenerationVersion); v != "" {
		candidates = append(candidates, v)
	}
	for _, m := range c.GenerationModels {
		if m = strings.TrimSpace(m); m != "" {
			candidates = append(candidates, m)
		}
	}
	return candidates
}
