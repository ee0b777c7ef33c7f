// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Lock backends.
const (
	LockMemory   = "memory"
	LockRedis    = "redis"
	LockPostgres = "postgres"
)

type Config struct {
	HTTPPort    int
	DBPath      string
	CORSOrigins []string

	LogLevel  string
	LogPretty bool

	LockBackend string
	LockWait    time.Duration
	LockTTL     time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PostgresDSN string

	NATSURL           string
	NATSSubjectPrefix string

	// RecalcInterval is how often all entitlements are recomputed; 0 disables it.
	RecalcInterval        time.Duration
	EntitlementStaleAfter time.Duration
	RequireRejectNote     bool
}

// Load reads .env (if present) and then the environment. Values already set
// in the environment win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	p := parser{}
	cfg := &Config{
		HTTPPort:    p.int("HTTP_PORT", 8080),
		DBPath:      getEnv("DB_PATH", "approvals.db"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: p.bool("LOG_PRETTY", false),

		LockBackend: strings.ToLower(getEnv("LOCK_BACKEND", LockMemory)),
		LockWait:    p.duration("LOCK_WAIT", 3*time.Second),
		LockTTL:     p.duration("LOCK_TTL", 30*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       p.int("REDIS_DB", 0),

		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "notifications.approval"),

		RecalcInterval:        p.duration("RECALC_INTERVAL", 0),
		EntitlementStaleAfter: p.duration("ENTITLEMENT_STALE_AFTER", time.Hour),
		RequireRejectNote:     p.bool("REQUIRE_REJECT_NOTE", false),
	}
	if len(p.errs) > 0 {
		return nil, errors.Join(p.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockMemory, LockRedis:
	case LockPostgres:
		if c.PostgresDSN == "" {
			return errors.New("LOCK_BACKEND=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND: unknown backend %q", c.LockBackend)
	}
	if c.LockWait <= 0 {
		return errors.New("LOCK_WAIT must be positive")
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT: %d out of range", c.HTTPPort)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parser collects conversion errors so every bad variable is reported at once.
type parser struct {
	errs []error
}

func (p *parser) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (p *parser) bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}
