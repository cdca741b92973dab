package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration.
// Values come from environment variables; an optional YAML file named by
// CONFIG_FILE supplies defaults underneath them. Only DATABASE_URL is required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL   string
	DBMaxConns    int32
	DBMinConns    int32
	MigrationsDir string

	// Occupancy cache. An empty RedisURL disables Redis and reads the
	// membership snapshot directly.
	RedisURL                 string
	OccupancyTTL             time.Duration
	OccupancyRefreshSchedule string
	PoolCacheTTL             time.Duration

	// External provisioning API
	ProviderBaseURL string
	ProviderToken   string
	ProviderTimeout time.Duration
	RetrySpacing    time.Duration

	// Invite queue and dispatcher
	QueueMaxSize  int
	BatchSize     int
	BatchInterval time.Duration
	CyclePause    time.Duration
	DrainTimeout  time.Duration

	// Request admission
	RedeemMaxInflight    int
	RedeemAcquireTimeout time.Duration
	RedeemRatePerMinute  int
	DefaultPoolName      string
	RefundOnNoCapacity   bool

	NotifyWebhookURL string
	OTLPEndpoint     string
}

func Load() (*Config, error) {
	src, err := newSource(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}

	dbURL := src.getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:        src.getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     src.getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    src.getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: src.getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL:   dbURL,
		DBMaxConns:    int32(src.getInt("DB_MAX_CONNS", 25)),
		DBMinConns:    int32(src.getInt("DB_MIN_CONNS", 5)),
		MigrationsDir: src.getEnv("MIGRATIONS_DIR", "migrations"),

		RedisURL:                 src.getEnv("REDIS_URL", ""),
		OccupancyTTL:             src.getDuration("OCCUPANCY_TTL", 5*time.Minute),
		OccupancyRefreshSchedule: src.getEnv("OCCUPANCY_REFRESH_SCHEDULE", "@every 5m"),
		PoolCacheTTL:             src.getDuration("POOL_CACHE_TTL", 5*time.Minute),

		ProviderBaseURL: src.getEnv("PROVIDER_BASE_URL", "http://localhost:9000"),
		ProviderToken:   src.getEnv("PROVIDER_TOKEN", ""),
		ProviderTimeout: src.getDuration("PROVIDER_TIMEOUT", 30*time.Second),
		RetrySpacing:    src.getDuration("RETRY_SPACING", 500*time.Millisecond),

		QueueMaxSize:  src.getInt("QUEUE_MAX_SIZE", 5000),
		BatchSize:     src.getInt("BATCH_SIZE", 10),
		BatchInterval: src.getDuration("BATCH_INTERVAL", 5*time.Second),
		CyclePause:    src.getDuration("CYCLE_PAUSE", time.Second),
		DrainTimeout:  src.getDuration("DRAIN_TIMEOUT", 30*time.Second),

		RedeemMaxInflight:    src.getInt("REDEEM_MAX_INFLIGHT", 100),
		RedeemAcquireTimeout: src.getDuration("REDEEM_ACQUIRE_TIMEOUT", 2*time.Second),
		RedeemRatePerMinute:  src.getInt("REDEEM_RATE_PER_MINUTE", 10),
		DefaultPoolName:      src.getEnv("DEFAULT_POOL_NAME", ""),
		RefundOnNoCapacity:   src.getBool("REFUND_ON_NO_CAPACITY", true),

		NotifyWebhookURL: src.getEnv("NOTIFY_WEBHOOK_URL", ""),
		OTLPEndpoint:     src.getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	// PROVIDER_RATE_PER_SEC is the friendlier form of RETRY_SPACING.
	if perSec := src.getInt("PROVIDER_RATE_PER_SEC", 0); perSec > 0 {
		cfg.RetrySpacing = time.Second / time.Duration(perSec)
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("BATCH_SIZE must be positive, got %d", cfg.BatchSize)
	}
	if cfg.QueueMaxSize <= 0 {
		return nil, fmt.Errorf("QUEUE_MAX_SIZE must be positive, got %d", cfg.QueueMaxSize)
	}
	return cfg, nil
}

// source resolves a key from the environment first, then the config file.
type source struct {
	file map[string]string
}

// newSource reads a flat YAML mapping. Keys are matched case-insensitively
// against the environment variable names, so batch_size sets BATCH_SIZE.
func newSource(path string) (*source, error) {
	s := &source{file: map[string]string{}}
	if path == "" {
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for k, v := range values {
		s.file[strings.ToUpper(k)] = v
	}
	return s, nil
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s *source) getEnv(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *source) getInt(key string, defaultVal int) int {
	if v := s.lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := s.lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func (s *source) getBool(key string, defaultVal bool) bool {
	if v := s.lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}
