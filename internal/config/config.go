package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	Environment  string
	// SiteURL is the public origin used to build checkout return URLs.
	SiteURL string

	PostgresDSN string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	RedisAddr string
	// EventProcessedTTL bounds how long webhook event markers are kept.
	EventProcessedTTL time.Duration

	// EventBus selects the lifecycle event transport: redis, nats or none.
	EventBus      string
	NATSURL       string
	NATSSubject   string
	ClickHouseDSN string
	GeoIPDB       string

	// Bearer token verification
	JWTSecret string

	// Payment provider. An empty StripeSecretKey selects the sandbox provider.
	StripeSecretKey     string
	StripeWebhookSecret string

	// Pricing
	Currency              string
	SalePrice             int64
	RegularPrice          int64
	SaleCapacity          int64
	ReservationMaxRetries int

	// Per-reporter token bucket
	ReportRateEnabled  bool
	ReportRateCapacity int
	ReportRateRefill   int

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "adgallery")
	cfg.Environment = strings.ToLower(getenv("ENV", "production"))
	cfg.SiteURL = strings.TrimRight(getenv("SITE_URL", "http://localhost:3000"), "/")

	cfg.PostgresDSN = getenv("POSTGRES_DSN", "postgres://postgres@127.0.0.1:5432/adgallery?sslmode=disable")
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.EventProcessedTTL = envDuration("EVENT_PROCESSED_TTL", 72*time.Hour)

	cfg.EventBus = strings.ToLower(getenv("EVENT_BUS", "redis"))
	cfg.NATSURL = getenv("NATS_URL", "nats://localhost:4222")
	cfg.NATSSubject = getenv("NATS_SUBJECT", "adgallery.lifecycle")
	// ClickHouse and GeoIP are optional; empty disables them
	cfg.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.GeoIPDB = os.Getenv("GEOIP_DB")

	cfg.JWTSecret = getenv("JWT_SECRET", "")

	cfg.StripeSecretKey = getenv("STRIPE_SECRET_KEY", "")
	cfg.StripeWebhookSecret = getenv("STRIPE_WEBHOOK_SECRET", "")

	// Launch pricing: the first SALE_CAPACITY postings are discounted
	cfg.Currency = strings.ToLower(getenv("CURRENCY", "jpy"))
	cfg.SalePrice = envInt64("SALE_PRICE", 500)
	cfg.RegularPrice = envInt64("REGULAR_PRICE", 5000)
	cfg.SaleCapacity = envInt64("SALE_CAPACITY", 100)
	cfg.ReservationMaxRetries = envInt("RESERVATION_MAX_RETRIES", 5)

	cfg.ReportRateEnabled = envBool("REPORT_RATE_ENABLED", true)
	cfg.ReportRateCapacity = envInt("REPORT_RATE_CAPACITY", 5)
	cfg.ReportRateRefill = envInt("REPORT_RATE_REFILL", 1)

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.OTLPEndpoint = getenv("OTLP_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	if i, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return i
	}
	return def
}

// envInt64 is envInt for monetary amounts and counters.
func envInt64(key string, def int64) int64 {
	if i, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return def
}
