// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Oracle settings
	OracleKey        string // Hex-encoded signing key; empty runs the service read-only
	AdminAddress     string // Administrator identity for oracle configuration changes
	TrustThreshold   int64  // Initial global trust threshold in [0,100]
	FreshnessSeconds int64  // Maximum accepted attestation age
	SourceTag        string // Label identifying this scoring pipeline in attestations

	// Security
	AdminSecret  string // Admin API secret
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string // OTLP gRPC collector address (optional, tracing off if not set)
}

// Defaults
const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultTrustThreshold   = 50
	DefaultFreshnessSeconds = 3600
	DefaultSourceTag        = "trustgrid-v1"
	DefaultRateLimit        = 100
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", DefaultPort),
		Env:              getEnv("ENV", DefaultEnv),
		LogLevel:         getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:      os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OracleKey:        os.Getenv("ORACLE_KEY"),   // Optional, read-only without it
		AdminAddress:     os.Getenv("ADMIN_ADDRESS"),
		TrustThreshold:   getEnvInt64("TRUST_THRESHOLD", DefaultTrustThreshold),
		FreshnessSeconds: getEnvInt64("FRESHNESS_SECONDS", DefaultFreshnessSeconds),
		SourceTag:        getEnv("SOURCE_TAG", DefaultSourceTag),
		AdminSecret:      os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:     int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		OTLPEndpoint:     os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OracleKey != "" {
		// Allow both with and without 0x prefix
		key := c.OracleKey
		if len(key) == 66 && key[:2] == "0x" {
			key = key[2:]
		}
		if len(key) != 64 {
			return fmt.Errorf("ORACLE_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}

	if c.TrustThreshold < 0 || c.TrustThreshold > 100 {
		return fmt.Errorf("TRUST_THRESHOLD must be in [0,100]")
	}

	if c.FreshnessSeconds <= 0 {
		return fmt.Errorf("FRESHNESS_SECONDS must be positive")
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
