// Package config loads NoETL's environment-based configuration, grounded
// on the teacher's internal/infrastructure/config.Config (getEnv(key,
// fallback) pattern), expanded per spec.md §6's Environment section.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full process configuration for both cmd/server and
// cmd/worker; each entrypoint reads only the fields it needs.
type Config struct {
	ServerHost string
	ServerPort string
	LogLevel   string

	DatabaseDSN string
	QueueDSN    string // defaults to DatabaseDSN when the queue is co-located in Postgres

	PoolName    string
	PoolRuntime string // cpu|gpu|qpu, per spec.md §4.3

	CacheURL        string // optional, redis://...
	CacheDefaultTTL time.Duration

	JWTSigningKey string

	LeaseMs       int
	HeartbeatMs   int
	ClaimBatch    int
	ReapInterval  time.Duration
	CallbackURL   string // HTTPCallbackObserver target, optional
}

// Load reads configuration from the environment, matching the teacher's
// Load() constructor.
func Load() *Config {
	dsn := getEnv("DATABASE_DSN", "")
	return &Config{
		ServerHost:      getEnv("SERVER_HOST", "0.0.0.0"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DatabaseDSN:     dsn,
		QueueDSN:        getEnv("QUEUE_DSN", dsn),
		PoolName:        getEnv("POOL_NAME", "default"),
		PoolRuntime:     getEnv("POOL_RUNTIME", "cpu"),
		CacheURL:        getEnv("CACHE_URL", ""),
		CacheDefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-insecure-signing-key"),
		LeaseMs:         getEnvInt("LEASE_MS", 30000),
		HeartbeatMs:     getEnvInt("HEARTBEAT_MS", 10000),
		ClaimBatch:      getEnvInt("CLAIM_BATCH", 4),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", 15*time.Second),
		CallbackURL:     getEnv("CALLBACK_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// GetPortInt returns ServerPort as an integer.
func (c *Config) GetPortInt() int {
	p, _ := strconv.Atoi(c.ServerPort)
	return p
}
