package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv           string
	Port             string
	DatabaseURL      string
	DBMaxConns       int
	JWTSecret        string
	AllowedOrigins   []string
	GeoIPDBPath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	EnterpriseCostPerVideo int64
	EnterpriseRateLimit    int

	RedisURL      string
	RedisQueueKey string

	GrsaiAPIKey  string
	GrsaiBaseURL string

	StripeSecretKey      string
	StripeWebhookSecret  string
	WebhookSigningSecret string

	WorkerConcurrency  int
	TaskParallelism    int
	WorkerPollInterval time.Duration
	OrphanBatchTTL     time.Duration
	StalledBatchAfter  time.Duration
	QueueGrace         time.Duration
	WorkerMetricsAddr  string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBMaxConns:       getEnvInt("DB_MAX_CONNS", 10),
		JWTSecret:        os.Getenv("SUPABASE_JWT_SECRET"),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		GeoIPDBPath:      os.Getenv("GEOIP_DB_PATH"),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		EnterpriseCostPerVideo: int64(getEnvInt("ENTERPRISE_COST_PER_VIDEO", 10)),
		EnterpriseRateLimit:    getEnvInt("ENTERPRISE_RATE_LIMIT_PER_MINUTE", 60),

		RedisURL:      os.Getenv("REDIS_URL"),
		RedisQueueKey: getEnv("REDIS_QUEUE_KEY", "video:batches"),

		GrsaiAPIKey:  os.Getenv("GRSAI_API_KEY"),
		GrsaiBaseURL: getEnv("GRSAI_BASE_URL", "https://api.grsai.com"),

		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),

		WorkerConcurrency:  getEnvInt("WORKER_CONCURRENCY", 2),
		TaskParallelism:    getEnvInt("WORKER_TASK_PARALLELISM", 4),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),
		OrphanBatchTTL:     time.Minute * time.Duration(getEnvInt("ORPHAN_BATCH_TTL_MINUTES", 15)),
		StalledBatchAfter:  time.Minute * time.Duration(getEnvInt("STALLED_BATCH_MINUTES", 30)),
		QueueGrace:         time.Second * time.Duration(getEnvInt("QUEUE_GRACE_SECONDS", 60)),
		WorkerMetricsAddr:  os.Getenv("WORKER_METRICS_ADDR"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}

	if cfg.DBMaxConns <= 0 {
		cfg.DBMaxConns = 10
	}

	if cfg.EnterpriseCostPerVideo <= 0 {
		return nil, fmt.Errorf("ENTERPRISE_COST_PER_VIDEO must be positive")
	}

	return cfg, nil
}

// QueueEnabled reports whether batches are pushed to Redis instead of waiting for the pull worker.
func (c *Config) QueueEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimRight(strings.TrimSpace(part), "/"); v != "" {
			out = append(out, v)
		}
	}
	return out
}
