package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Server captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean; every value has a development
// default.
type Server struct {
	Addr string

	// Identity store backend: "memory" (default), "postgres", or "redis".
	StoreBackend string
	PostgresURL  string
	RedisURL     string

	// Credential hashing.
	BcryptCost      int
	HashConcurrency int

	// Emails are compared case-insensitively when set.
	CaseInsensitiveEmails bool

	// Token signing.
	JWTSigningKey string
	JWTIssuer     string
	TokenTTL      time.Duration

	// Audit trail. Empty broker list keeps audit in memory.
	KafkaBrokers []string
	AuditTopic   string
}

// RedisConfig carries connection tuning for the optional Redis backend.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:                  envOr("EVER_ADDR", ":8080"),
		StoreBackend:          envOr("EVER_STORE_BACKEND", "memory"),
		PostgresURL:           os.Getenv("EVER_POSTGRES_URL"),
		RedisURL:              os.Getenv("EVER_REDIS_URL"),
		BcryptCost:            envIntOr("EVER_ADMIN_PASSWORD_BCRYPT_COST", 12),
		HashConcurrency:       envIntOr("EVER_HASH_CONCURRENCY", 0),
		CaseInsensitiveEmails: os.Getenv("EVER_CASE_SENSITIVE_EMAILS") != "true",
		JWTSigningKey:         envOr("EVER_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:             envOr("EVER_JWT_ISSUER", "ever-admin"),
		TokenTTL:              envDurationOr("EVER_TOKEN_TTL", 24*time.Hour),
		AuditTopic:            envOr("EVER_AUDIT_TOPIC", "ever.admin.audit"),
	}
	if brokers := os.Getenv("EVER_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitComma(brokers)
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	return cfg
}

// Redis derives the Redis connection settings with pool defaults.
func (s Server) Redis() RedisConfig {
	return RedisConfig{
		URL:          s.RedisURL,
		PoolSize:     envIntOr("EVER_REDIS_POOL_SIZE", 10),
		MinIdleConns: envIntOr("EVER_REDIS_MIN_IDLE", 2),
		DialTimeout:  envDurationOr("EVER_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDurationOr("EVER_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDurationOr("EVER_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
