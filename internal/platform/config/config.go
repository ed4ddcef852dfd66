package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Server captures process level configuration.
type Server struct {
	Addr          string
	Environment   string
	PublicBaseURL string
	AdminOrigin   string
	MaxBodyBytes  int64
	LogLevel      slog.Level

	// StateSigningKey signs OAuth state tokens.
	StateSigningKey []byte
	// DataEncryptionKey seals instance data at rest. Empty stores plaintext.
	DataEncryptionKey []byte

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Apps     AppsConfig
	Webhooks WebhookConfig
	Tracing  TracingConfig

	Providers ProviderCredentials
}

// DatabaseConfig configures the PostgreSQL pool. An empty URL selects the
// in-memory stores.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the pending authorization store. An empty URL
// falls back to the database or memory.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures lifecycle event publishing. No brokers means events
// are only logged.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// AppsConfig holds the gateway's timing knobs.
type AppsConfig struct {
	HandlerTimeout      time.Duration
	DeleteHookTimeout   time.Duration
	PendingAuthTTL      time.Duration
	PendingReapInterval time.Duration
}

// WebhookConfig throttles provider webhooks. Instance webhooks share a
// budget per company, app-kind webhooks one per app. OAuth redirects are
// not throttled.
type WebhookConfig struct {
	RatePerSecond float64
	Burst         int
	LimiterIdle   time.Duration
}

// TracingConfig configures span export. No endpoint keeps the no-op
// global provider.
type TracingConfig struct {
	OTLPEndpoint string
	SampleRatio  float64
}

// ProviderCredentials are the platform's own OAuth clients.
type ProviderCredentials struct {
	GoogleClientID     string
	GoogleClientSecret string
	ZoomClientID       string
	ZoomClientSecret   string
}

const devSigningKey = "dev-state-key-change-in-production"

// Load reads an optional .env file and then builds the config from the
// environment. Variables already set win over the file.
func Load(envFiles ...string) (Server, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Server{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	var errs []error
	e := env{errs: &errs}

	cfg := Server{
		Addr:          e.str("TEMPO_ADDR", ":8080"),
		Environment:   e.str("TEMPO_ENV", "development"),
		PublicBaseURL: strings.TrimRight(e.str("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		AdminOrigin:   e.str("ADMIN_ORIGIN", ""),
		MaxBodyBytes:  int64(e.integer("MAX_BODY_BYTES", 10<<20)),
		LogLevel:      e.level("LOG_LEVEL", slog.LevelInfo),
		Database: DatabaseConfig{
			URL:             e.str("DATABASE_URL", ""),
			MaxOpenConns:    e.integer("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    e.integer("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: e.duration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:          e.str("REDIS_URL", ""),
			PoolSize:     e.integer("REDIS_POOL_SIZE", 10),
			MinIdleConns: e.integer("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  e.duration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  e.duration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: e.duration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: e.list("KAFKA_BROKERS"),
			Topic:   e.str("APP_EVENTS_TOPIC", "tempo.app-events"),
		},
		Apps: AppsConfig{
			HandlerTimeout:      e.duration("HANDLER_TIMEOUT", 10*time.Second),
			DeleteHookTimeout:   e.duration("DELETE_HOOK_TIMEOUT", 5*time.Second),
			PendingAuthTTL:      e.duration("PENDING_AUTH_TTL", 10*time.Minute),
			PendingReapInterval: e.duration("PENDING_REAP_INTERVAL", time.Minute),
		},
		Webhooks: WebhookConfig{
			RatePerSecond: e.float("WEBHOOK_RATE_LIMIT", 20),
			Burst:         e.integer("WEBHOOK_RATE_BURST", 40),
			LimiterIdle:   e.duration("WEBHOOK_LIMITER_IDLE", 10*time.Minute),
		},
		Tracing: TracingConfig{
			OTLPEndpoint: e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SampleRatio:  e.float("OTEL_TRACES_SAMPLER_ARG", 1),
		},
		Providers: ProviderCredentials{
			GoogleClientID:     e.str("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: e.str("GOOGLE_CLIENT_SECRET", ""),
			ZoomClientID:       e.str("ZOOM_CLIENT_ID", ""),
			ZoomClientSecret:   e.str("ZOOM_CLIENT_SECRET", ""),
		},
	}

	// Use a default for development - should be overridden in production
	cfg.StateSigningKey = []byte(e.str("STATE_SIGNING_KEY", devSigningKey))
	if raw := e.str("DATA_ENCRYPTION_KEY", ""); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("DATA_ENCRYPTION_KEY: not base64: %w", err))
		}
		cfg.DataEncryptionKey = key
	}

	if cfg.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES: must be positive"))
	}
	if cfg.Webhooks.RatePerSecond <= 0 || cfg.Webhooks.Burst <= 0 {
		errs = append(errs, errors.New("WEBHOOK_RATE_LIMIT and WEBHOOK_RATE_BURST must be positive"))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_TRACES_SAMPLER_ARG: must be between 0 and 1"))
	}
	if len(errs) > 0 {
		return Server{}, errors.Join(errs...)
	}
	return cfg, nil
}

// UsesDevSigningKey reports whether state tokens are signed with the
// built-in development key.
func (s Server) UsesDevSigningKey() bool {
	return string(s.StateSigningKey) == devSigningKey
}

// env reads typed values and collects parse errors instead of silently
// keeping defaults.
type env struct {
	errs *[]error
}

func (e env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e env) fail(key string, err error) {
	*e.errs = append(*e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e env) duration(key string, def time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	if d <= 0 {
		e.fail(key, errors.New("must be positive"))
		return def
	}
	return d
}

func (e env) integer(key string, def int) int {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e env) float(key string, def float64) float64 {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

func (e env) list(key string) []string {
	raw := e.str(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (e env) level(key string, def slog.Level) slog.Level {
	raw := e.str(key, "")
	if raw == "" {
		return def
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		e.fail(key, err)
		return def
	}
	return lvl
}
