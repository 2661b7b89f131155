package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// placeholderAPIKey is the value shipped in the sample .env file.
const placeholderAPIKey = "your_moonshot_api_key_here"

var ErrMissingAPIKey = errors.New("MOONSHOT_API_KEY is required")

type Config struct {
	// Server
	Port string `env:"PORT" envDefault:"8080"`

	// Model provider
	MoonshotAPIKey      string  `env:"MOONSHOT_API_KEY"`
	MoonshotBaseURL     string  `env:"MOONSHOT_BASE_URL" envDefault:"https://api.moonshot.ai/v1"`
	MoonshotModel       string  `env:"MOONSHOT_MODEL" envDefault:"kimi-k2-turbo-preview"`
	MoonshotTemperature float64 `env:"MOONSHOT_TEMPERATURE" envDefault:"0.6"`
	MoonshotMaxTokens   int     `env:"MOONSHOT_MAX_TOKENS" envDefault:"4000"`

	// Completion policy
	CompletionRetries    int           `env:"COMPLETION_RETRIES" envDefault:"3"`
	CompletionRetryDelay time.Duration `env:"COMPLETION_RETRY_DELAY" envDefault:"1s"`
	CompletionTimeout    time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"120s"`
	StreamIdleTimeout    time.Duration `env:"STREAM_IDLE_TIMEOUT" envDefault:"60s"` // 0 disables

	// Pipeline
	UseSimplePrompt bool `env:"USE_SIMPLE_PROMPT" envDefault:"false"`
	RewriteContent  bool `env:"REWRITE_CONTENT" envDefault:"false"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Cache (optional, enables rate limiting)
	RedisAddr    string `env:"REDIS_ADDR"`
	RateLimitTPM int64  `env:"RATE_LIMIT_TPM" envDefault:"100000"` // tokens per minute per client

	// Database (optional, enables usage accounting)
	PostgresDSN string `env:"POSTGRES_DSN"`

	// Observability
	OTELExporterType     string `env:"OTEL_EXPORTER_TYPE" envDefault:"none"` // "none", "stdout" or "otlp"
	OTELExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT" envDefault:"localhost:4317"`
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	key := strings.TrimSpace(c.MoonshotAPIKey)
	if key == "" || key == placeholderAPIKey {
		return ErrMissingAPIKey
	}
	if c.MoonshotMaxTokens <= 0 {
		return fmt.Errorf("invalid MOONSHOT_MAX_TOKENS: %d", c.MoonshotMaxTokens)
	}
	if c.CompletionRetries < 0 {
		return fmt.Errorf("invalid COMPLETION_RETRIES: %d", c.CompletionRetries)
	}
	if c.CompletionTimeout <= 0 {
		return fmt.Errorf("invalid COMPLETION_TIMEOUT: %s", c.CompletionTimeout)
	}
	switch c.OTELExporterType {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("invalid OTEL_EXPORTER_TYPE: %q", c.OTELExporterType)
	}
	return nil
}
