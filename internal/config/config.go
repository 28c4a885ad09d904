package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort    string
	JWTSecret   []byte
	CatalogPath string
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Scheduler   SchedulerConfig
	UsageQueue  UsageQueueConfig
	Archive     ArchiveConfig

	// EncryptionKey is the base64 AES key opening enc: values in the catalog
	EncryptionKey string

	// RateLimitPerMinute caps submissions per tenant/agent; 0 disables it.
	// It needs Redis.
	RateLimitPerMinute int
}

// LogConfig controls the root zap logger
type LogConfig struct {
	Level   string
	Format  string
	PodName string
}

// DatabaseConfig holds database connection settings.
// An empty URL disables Postgres usage recording.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Enabled reports whether a database was configured
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// RedisConfig holds Redis connection settings.
// An empty Address disables the Redis cost mirror and Redis usage buffer.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether Redis was configured
func (c RedisConfig) Enabled() bool { return c.Address != "" }

// SchedulerConfig bounds the request pipeline
type SchedulerConfig struct {
	MaxConcurrent   int
	QueueSize       int
	RequestTimeout  time.Duration
	PollInterval    time.Duration
	TokenEstimate   int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// UsageQueueConfig controls the asynchronous usage persistence worker
type UsageQueueConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	QueueName    string
}

// ArchiveConfig holds configuration for the S3 usage archive
type ArchiveConfig struct {
	Enabled       bool
	FlushSize     int
	FlushInterval time.Duration
	S3Bucket      string
	S3Region      string
	S3Prefix      string
	PodName       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := strings.ToLower(os.Getenv(key))
	switch val {
	case "":
		return defaultValue
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	podName := getEnvString("POD_NAME", "gateway-0")

	cfg := &Config{
		HTTPPort:           getEnvString("HTTP_PORT", "8080"),
		JWTSecret:          []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		CatalogPath:        getEnvString("CATALOG_PATH", "catalog.yaml"),
		EncryptionKey:      os.Getenv("ENCRYPTION_KEY"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),
		Log: LogConfig{
			Level:   getEnvString("LOG_LEVEL", "info"),
			Format:  getEnvString("LOG_FORMAT", "json"),
			PodName: podName,
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Redis: RedisConfig{
			Address:      os.Getenv("REDIS_ADDRESS"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Scheduler: SchedulerConfig{
			MaxConcurrent:   getEnvInt("SCHEDULER_MAX_CONCURRENT", 10),
			QueueSize:       getEnvInt("SCHEDULER_QUEUE_SIZE", 1000),
			RequestTimeout:  getEnvDuration("SCHEDULER_REQUEST_TIMEOUT", 300*time.Second),
			PollInterval:    getEnvDuration("SCHEDULER_POLL_INTERVAL", 100*time.Millisecond),
			TokenEstimate:   getEnvInt("SCHEDULER_TOKEN_ESTIMATE", 1000),
			Retention:       getEnvDuration("REQUEST_RETENTION", 24*time.Hour),
			CleanupInterval: getEnvDuration("REQUEST_CLEANUP_INTERVAL", 10*time.Minute),
		},
		UsageQueue: UsageQueueConfig{
			BatchSize:    getEnvInt("USAGE_QUEUE_BATCH_SIZE", 100),
			BatchTimeout: getEnvDuration("USAGE_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:   getEnvInt("USAGE_QUEUE_MAX_RETRIES", 3),
			RetryBackoff: getEnvDuration("USAGE_QUEUE_RETRY_BACKOFF", 1*time.Second),
			QueueName:    getEnvString("USAGE_QUEUE_NAME", "usage"),
		},
		Archive: ArchiveConfig{
			Enabled:       getEnvBool("USAGE_ARCHIVE_ENABLED", false),
			FlushSize:     getEnvInt("USAGE_ARCHIVE_FLUSH_SIZE", 1000),
			FlushInterval: getEnvDuration("USAGE_ARCHIVE_FLUSH_INTERVAL", 5*time.Minute),
			S3Bucket:      getEnvString("USAGE_ARCHIVE_S3_BUCKET", ""),
			S3Region:      getEnvString("USAGE_ARCHIVE_S3_REGION", "us-east-1"),
			S3Prefix:      getEnvString("USAGE_ARCHIVE_S3_PREFIX", "usage/"),
			PodName:       podName,
		},
	}

	if cfg.Scheduler.MaxConcurrent < 1 {
		return nil, fmt.Errorf("SCHEDULER_MAX_CONCURRENT must be positive, got %d", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.QueueSize < 1 {
		return nil, fmt.Errorf("SCHEDULER_QUEUE_SIZE must be positive, got %d", cfg.Scheduler.QueueSize)
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket == "" {
		return nil, fmt.Errorf("USAGE_ARCHIVE_S3_BUCKET is required when the usage archive is enabled")
	}

	return cfg, nil
}
