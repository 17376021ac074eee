// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/meetmarket/escrow-engine/internal/money"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	StripeSecretKey string        // Optional; in-memory gateway is used if not set
	GatewayTimeout  time.Duration // Per-call deadline on processor operations

	// Escrow settings
	Currency       string // Default ISO currency code, lowercase
	CommissionRate string // Decimal string, e.g. "0.08"; frozen per transaction at creation

	// Observability
	OTLPEndpoint string // OTel collector endpoint (optional, tracing disabled if not set)

	// Security
	RateLimitRPS int
}

const (
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultCurrency       = "usd"
	DefaultCommissionRate = "0.08"
	DefaultGatewayTimeout = 10 * time.Second
	DefaultRateLimit      = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		GatewayTimeout:  getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		Currency:        getEnv("CURRENCY", DefaultCurrency),
		CommissionRate:  getEnv("COMMISSION_RATE", DefaultCommissionRate),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPS:    int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and coherent
func (c *Config) Validate() error {
	if _, err := money.ParseRate(c.CommissionRate); err != nil {
		return fmt.Errorf("COMMISSION_RATE %q: %w", c.CommissionRate, err)
	}

	if c.Currency == "" {
		return fmt.Errorf("CURRENCY must not be empty")
	}

	if c.GatewayTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
	}

	if c.IsProduction() && c.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
