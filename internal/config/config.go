// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`

	// CatalogPath points at the YAML provider catalog loaded at startup.
	CatalogPath string `env:"PROVIDER_CATALOG" envDefault:"providers.yaml"`

	// Cascade tuning
	CascadeMaxAttempts    int           `env:"CASCADE_MAX_ATTEMPTS" envDefault:"0"`
	CascadeOverallTimeout time.Duration `env:"CASCADE_OVERALL_TIMEOUT" envDefault:"60s"`
	HealthCooldown        time.Duration `env:"HEALTH_COOLDOWN" envDefault:"600s"`
	QualityThreshold      int           `env:"QUALITY_THRESHOLD" envDefault:"50"`
	CacheMaxEntries       int           `env:"CACHE_MAX_ENTRIES" envDefault:"100"`
	AllowDegradedAccept   bool          `env:"ALLOW_DEGRADED_ACCEPT" envDefault:"false"`

	// Text-generation backend (OpenAI-compatible chat completions)
	TextGenBaseURL     string        `env:"TEXTGEN_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	TextGenAPIKey      string        `env:"TEXTGEN_API_KEY"`
	TextGenTimeout     time.Duration `env:"TEXTGEN_TIMEOUT" envDefault:"60s"`
	TextGenMaxTokens   int           `env:"TEXTGEN_MAX_TOKENS" envDefault:"1024"`
	TextGenBackoffMax  time.Duration `env:"TEXTGEN_BACKOFF_MAX_ELAPSED" envDefault:"30s"`
	TextGenBackoffBase time.Duration `env:"TEXTGEN_BACKOFF_INITIAL" envDefault:"1s"`

	// Web-search backend (SearxNG-style JSON API)
	SearchBaseURL string        `env:"SEARCH_BASE_URL" envDefault:"http://localhost:8888"`
	SearchTimeout time.Duration `env:"SEARCH_TIMEOUT" envDefault:"15s"`

	// Content extraction
	ExtractTimeout   time.Duration `env:"EXTRACT_TIMEOUT" envDefault:"20s"`
	ExtractUserAgent string        `env:"EXTRACT_USER_AGENT" envDefault:"provider-cascade/1.0"`
	ExtractMaxBody   int64         `env:"EXTRACT_MAX_BODY_BYTES" envDefault:"2097152"`

	// HTTP server
	CORSAllowOrigins      string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin       int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"120s"`
	HTTPIdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`

	// Observability
	OTLPEndpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"provider-cascade"`
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }
