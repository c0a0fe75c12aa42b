package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/logger"
)

// Config holds all configuration for the Sundial scheduling engine
type Config struct {
	// RedisURL is the connection URL for the durable queue backend
	RedisURL string
	// DatabaseURL is the Postgres connection string for the planner store
	DatabaseURL string

	// ScanInterval is how often the boundary scanner ticks
	ScanInterval time.Duration
	// RolloverBatchSize bounds the number of users per rollover job
	RolloverBatchSize int
	// DigestHour is the local hour at which daily digests fire
	DigestHour int
	// TimezoneAllowlist restricts boundary scans to the listed zones.
	// Empty means all zones with users.
	TimezoneAllowlist []string

	// Per-sub-scheduler toggles, each independently disableable
	RolloverEnabled   bool
	RecurrenceEnabled bool
	DigestEnabled     bool
	RemindersEnabled  bool

	// WorkerConcurrency is the number of concurrent jobs a worker processes
	WorkerConcurrency int
	// JobTimeout is the maximum time a job can run
	JobTimeout time.Duration
	// MaxRetries is the default maximum number of retry attempts
	MaxRetries int

	// WatchdogInterval is how often the queue watchdog checks the handle
	WatchdogInterval time.Duration
	// WatchdogMaxRestarts bounds recovery attempts before requiring an
	// operator
	WatchdogMaxRestarts int
	// DrainTimeout bounds graceful shutdown of in-flight consumers
	DrainTimeout time.Duration

	// Logging configuration
	Logging *logger.Config
}

// LoadConfig loads configuration from the environment (with an optional
// .env overlay) and validates it
func LoadConfig() (*Config, error) {
	// Missing .env is the normal case outside development
	_ = godotenv.Load()

	cfg := &Config{
		RedisURL:            getEnv("REDIS_URL", "redis://localhost:6379"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		ScanInterval:        getEnvAsDuration("SCAN_INTERVAL", time.Minute),
		RolloverBatchSize:   getEnvAsInt("ROLLOVER_BATCH_SIZE", 100),
		DigestHour:          getEnvAsInt("DIGEST_HOUR", 6),
		TimezoneAllowlist:   getEnvAsStringSlice("TIMEZONE_ALLOWLIST", nil),
		RolloverEnabled:     getEnvAsBool("ROLLOVER_ENABLED", true),
		RecurrenceEnabled:   getEnvAsBool("RECURRENCE_ENABLED", true),
		DigestEnabled:       getEnvAsBool("DIGEST_ENABLED", true),
		RemindersEnabled:    getEnvAsBool("REMINDERS_ENABLED", true),
		WorkerConcurrency:   getEnvAsInt("WORKER_CONCURRENCY", 5),
		JobTimeout:          getEnvAsDuration("JOB_TIMEOUT", 5*time.Minute),
		MaxRetries:          getEnvAsInt("MAX_RETRIES", 3),
		WatchdogInterval:    getEnvAsDuration("WATCHDOG_INTERVAL", 60*time.Second),
		WatchdogMaxRestarts: getEnvAsInt("WATCHDOG_MAX_RESTARTS", 10),
		DrainTimeout:        getEnvAsDuration("DRAIN_TIMEOUT", 30*time.Second),
		Logging:             loadLoggingConfig(),
	}

	if cfg.RedisURL == "" {
		return nil, errs.NewConfigError("REDIS_URL", "cannot be empty")
	}
	if cfg.DatabaseURL == "" {
		return nil, errs.NewConfigError("DATABASE_URL", "cannot be empty")
	}
	if cfg.ScanInterval < time.Second {
		return nil, errs.NewConfigError("SCAN_INTERVAL", "must be at least 1s")
	}
	if cfg.RolloverBatchSize < 1 {
		return nil, errs.NewConfigError("ROLLOVER_BATCH_SIZE", "must be at least 1")
	}
	if cfg.DigestHour < 0 || cfg.DigestHour > 23 {
		return nil, errs.NewConfigError("DIGEST_HOUR", "must be between 0 and 23")
	}
	if cfg.WorkerConcurrency < 1 {
		return nil, errs.NewConfigError("WORKER_CONCURRENCY", "must be at least 1")
	}
	if cfg.MaxRetries < 0 {
		return nil, errs.NewConfigError("MAX_RETRIES", "cannot be negative")
	}
	if cfg.WatchdogMaxRestarts < 1 {
		return nil, errs.NewConfigError("WATCHDOG_MAX_RESTARTS", "must be at least 1")
	}

	if err := cfg.Logging.Validate(); err != nil {
		return nil, errs.NewConfigError("LOG_*", err.Error())
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsStringSlice retrieves an environment variable as a comma-separated list
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/sundial/sundial.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	return cfg
}
