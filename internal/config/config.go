// Package config loads SDK configuration from the environment. A .env
// file in the working directory is honored when present.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"

	"agentpay/pkg/network"
	"agentpay/pkg/payerr"
)

// Storage backend selectors.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

// Config is the environment-driven SDK configuration.
type Config struct {
	// Storage selects the backend: memory or redis.
	Storage string

	// RedisURL is required when Storage is redis.
	RedisURL string

	// LogLevel is a zap level name: debug, info, warn, error.
	LogLevel string

	// Env selects logger encoding: development or production.
	Env string

	// Network is the default wallet network.
	Network network.Network
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	// Best effort; absent .env files are fine.
	_ = godotenv.Load()

	cfg := Config{
		Storage:  envDefault("AGENTPAY_STORAGE", StorageMemory),
		RedisURL: os.Getenv("AGENTPAY_REDIS_URL"),
		LogLevel: envDefault("AGENTPAY_LOG_LEVEL", "info"),
		Env:      envDefault("AGENTPAY_ENV", "development"),
		Network:  network.Network(os.Getenv("AGENTPAY_NETWORK")),
	}
	return cfg, cfg.Validate()
}

// Validate checks the configuration for contradictions.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			return payerr.E(payerr.KindConfiguration,
				"AGENTPAY_REDIS_URL is required when AGENTPAY_STORAGE=redis")
		}
	default:
		return payerr.E(payerr.KindConfiguration,
			"unknown storage backend %q, want %s or %s", c.Storage, StorageMemory, StorageRedis)
	}
	if c.Network != "" && !c.Network.Valid() {
		return payerr.E(payerr.KindConfiguration, "unknown network %q", c.Network)
	}
	return nil
}

func envDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
