// internal/config/config.go
// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Port        string
	Environment string // "development", "staging", "production"

	// Storage. When DatabaseURL is empty the service runs on in-memory
	// stores, which is the demo/development mode.
	DatabaseURL string
	RedisAddr   string

	// External collaborators
	StripeKey      string
	AIScorerURL    string // base URL of the fraud prediction model, optional
	AnchorNetwork  string // target network for donation anchoring
	AIScoreTimeout time.Duration
	AnchorTimeout  time.Duration

	// Donation limits
	MinDonationAmount float64
}

const (
	DefaultPort          = "8084"
	DefaultEnvironment   = "development"
	DefaultRedisAddr     = "localhost:6379"
	DefaultAnchorNetwork = "ethereum"
	DefaultMinDonation   = 1.0
)

// Load reads configuration from environment variables.
// It loads a .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Environment:       getEnv("ENVIRONMENT", DefaultEnvironment),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisAddr:         getEnv("REDIS_ADDR", DefaultRedisAddr),
		StripeKey:         os.Getenv("STRIPE_KEY"),
		AIScorerURL:       os.Getenv("AI_SCORER_URL"),
		AnchorNetwork:     getEnv("ANCHOR_NETWORK", DefaultAnchorNetwork),
		AIScoreTimeout:    getEnvDuration("AI_SCORE_TIMEOUT", 5*time.Second),
		AnchorTimeout:     getEnvDuration("ANCHOR_TIMEOUT", 10*time.Second),
		MinDonationAmount: getEnvFloat("MIN_DONATION_AMOUNT", DefaultMinDonation),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.MinDonationAmount <= 0 {
		return fmt.Errorf("MIN_DONATION_AMOUNT must be positive")
	}
	if c.IsProduction() && c.StripeKey == "" {
		return fmt.Errorf("STRIPE_KEY is required in production")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
