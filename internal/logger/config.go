package logger

import (
	"fmt"
	"time"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// LogSource distinguishes engine-internal logs from job execution logs
type LogSource string

const (
	LogSourceInternal LogSource = "sundial_internal" // Engine internals
	LogSourceJob      LogSource = "sundial_job"      // Job execution logs
)

// Component identifies which part of the engine generated the log
type Component string

const (
	ComponentScanner   Component = "scanner"
	ComponentGenerator Component = "generator"
	ComponentRollover  Component = "rollover"
	ComponentDigest    Component = "digest"
	ComponentQueue     Component = "queue"
	ComponentWatchdog  Component = "watchdog"
	ComponentWorker    Component = "worker"
	ComponentStore     Component = "store"
	ComponentEvents    Component = "events"
)

// Config holds the logging configuration for both tiers
type Config struct {
	Level  LogLevel  `json:"level"`
	Format LogFormat `json:"format"`

	// Tier 1: Console (always enabled)
	Console ConsoleConfig `json:"console"`

	// Tier 2: File (optional)
	File FileConfig `json:"file"`
}

// ConsoleConfig configures console/terminal logging (Tier 1)
type ConsoleConfig struct {
	Enabled       bool          `json:"enabled"`
	Color         bool          `json:"color"`          // Colored output (text mode only)
	BufferSize    int           `json:"buffer_size"`    // Async buffer size in bytes
	FlushInterval time.Duration `json:"flush_interval"` // Background flush interval
}

// FileConfig configures rotating file logging (Tier 2)
type FileConfig struct {
	Enabled       bool          `json:"enabled"`
	Path          string        `json:"path"`
	MaxSizeMB     int           `json:"max_size_mb"`
	MaxBackups    int           `json:"max_backups"`
	MaxAgeDays    int           `json:"max_age_days"`
	Compress      bool          `json:"compress"`
	BufferSize    int           `json:"buffer_size"`    // Entries buffered before falling back to sync writes
	BatchSize     int           `json:"batch_size"`     // Entries per batch write
	BatchInterval time.Duration `json:"batch_interval"` // Max time before a partial batch flushes
}

// DefaultConfig returns the default logging configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Console: ConsoleConfig{
			Enabled:       true,
			Color:         true,
			BufferSize:    65536,
			FlushInterval: 100 * time.Millisecond,
		},
		File: FileConfig{
			Enabled:       false,
			Path:          "/var/log/sundial/sundial.log",
			MaxSizeMB:     100,
			MaxBackups:    5,
			MaxAgeDays:    30,
			Compress:      true,
			BufferSize:    10000,
			BatchSize:     100,
			BatchInterval: 100 * time.Millisecond,
		},
	}
}

// Validate checks the configuration for invalid values
func (c *Config) Validate() error {
	switch c.Level {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	switch c.Format {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	if c.File.Enabled && c.File.Path == "" {
		return fmt.Errorf("file logging enabled but no path configured")
	}

	return nil
}
