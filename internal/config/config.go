package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// insecureJWTSecret is the development default; Validate refuses it outside development.
const insecureJWTSecret = "supersecretkey"

// DefaultWebhookURL is used when system_config carries no webhook_url.
const DefaultWebhookURL = "https://hooks.marconsultoria.com.br/webhook/quiz-mar"

type Config struct {
	Addr           string          `yaml:"addr"`
	JWTSecret      string          `yaml:"jwt_secret"`
	APITimeout     time.Duration   `yaml:"timeout"`
	DatabaseDriver string          `yaml:"database_driver"`
	DatabasePath   string          `yaml:"database_path"`
	TokenDuration  time.Duration   `yaml:"token_duration"`
	MigrateOnStart bool            `yaml:"migrate_on_start"`
	LogLevel       string          `yaml:"log_level"`
	CORSOrigins    []string        `yaml:"cors_origins"`
	// TrustedProxy takes the client address from X-Forwarded-For and
	// X-Real-IP. Leave it off unless a proxy in front rewrites those headers.
	TrustedProxy   bool            `yaml:"trusted_proxy"`
	MaxPayloadSize int64           `yaml:"max_payload_bytes"`
	Webhook        WebhookConfig   `yaml:"webhook"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Workers        WorkersConfig   `yaml:"workers"`
}

type WebhookConfig struct {
	FallbackURL             string        `yaml:"fallback_url"`
	UserAgent               string        `yaml:"user_agent"`
	Origin                  string        `yaml:"origin"`
	Timeout                 time.Duration `yaml:"timeout"`
	CircuitFailureThreshold int           `yaml:"circuit_failure_threshold"`
	CircuitReset            time.Duration `yaml:"circuit_reset"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
	// Store is "memory" (single instance) or "sql" (shared through the database).
	Store string `yaml:"store"`
}

type WorkersConfig struct {
	Count       int `yaml:"count"`
	MaxAttempts int `yaml:"max_attempts"`
}

// LoadConfig reads .env (if present), applies defaults and environment
// overrides, then decodes the optional YAML file on top.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Addr:           getEnv("MAR_ADDR", ":8080"),
		JWTSecret:      getEnv("MAR_JWT_SECRET", insecureJWTSecret),
		APITimeout:     15 * time.Second,
		DatabaseDriver: getEnv("MAR_DATABASE_DRIVER", "sqlite"),
		DatabasePath:   getEnv("MAR_DATABASE_PATH", "mar.db"),
		TokenDuration:  1 * time.Hour,
		LogLevel:       getEnv("MAR_LOG_LEVEL", "info"),
		TrustedProxy:   getEnvBool("MAR_TRUSTED_PROXY"),
	}
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		dec := yaml.NewDecoder(f)
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Validate checks required settings and fills defaults for optional sections.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("addr is required")
	}
	if c.DatabasePath == "" {
		return errors.New("database_path is required")
	}
	switch c.DatabaseDriver {
	case "":
		c.DatabaseDriver = "sqlite"
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unsupported database_driver %q", c.DatabaseDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	if c.JWTSecret == insecureJWTSecret && !IsDevelopment() {
		return errors.New("insecure jwt_secret: set MAR_JWT_SECRET outside development")
	}
	if c.APITimeout <= 0 {
		c.APITimeout = 15 * time.Second
	}
	if c.TokenDuration <= 0 {
		c.TokenDuration = time.Hour
	}
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = 5 << 20
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}

	if c.Webhook.FallbackURL == "" {
		c.Webhook.FallbackURL = DefaultWebhookURL
	}
	if c.Webhook.UserAgent == "" {
		c.Webhook.UserAgent = "MAR-Quiz-Webhook/1.0"
	}
	if c.Webhook.Origin == "" {
		c.Webhook.Origin = "MAR - Área de Membros"
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = 30 * time.Second
	}
	// a zero threshold leaves the breaker off
	if c.Webhook.CircuitFailureThreshold < 0 {
		return errors.New("webhook.circuit_failure_threshold must not be negative")
	}
	if c.Webhook.CircuitReset <= 0 {
		c.Webhook.CircuitReset = 30 * time.Second
	}

	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 30
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	switch c.RateLimit.Store {
	case "":
		c.RateLimit.Store = "memory"
	case "memory", "sql":
	default:
		return fmt.Errorf("unsupported rate_limit.store %q", c.RateLimit.Store)
	}

	if c.Workers.Count <= 0 {
		c.Workers.Count = 2
	}
	if c.Workers.MaxAttempts <= 0 {
		c.Workers.MaxAttempts = 5
	}

	return nil
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment reports whether MAR_ENV is set to development.
func IsDevelopment() bool {
	return strings.EqualFold(os.Getenv("MAR_ENV"), "development")
}

func getEnvBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return def
}
