package logger

import (
	"context"
	"fmt"
	"sync"
)

// Logger is the main interface for logging throughout the engine
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})

	// Structured logging with context; job_id and worker_id context
	// values are promoted to fields.
	DebugContext(ctx context.Context, msg string, args ...interface{})
	InfoContext(ctx context.Context, msg string, args ...interface{})
	WarnContext(ctx context.Context, msg string, args ...interface{})
	ErrorContext(ctx context.Context, msg string, args ...interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger

	// WithComponent returns a logger tagged with a component
	WithComponent(component Component) Logger

	// WithSource returns a logger tagged with a log source
	WithSource(source LogSource) Logger

	// Close flushes and closes all log destinations
	Close() error
}

// ContextKey types the context values promoted to log fields
type ContextKey string

const (
	// ContextKeyJobID carries the job ID through job execution
	ContextKeyJobID ContextKey = "job_id"
	// ContextKeyWorkerID carries the worker identity through the pool
	ContextKeyWorkerID ContextKey = "worker_id"
)

// LogEntry represents a single log entry with all metadata
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Component Component              `json:"component,omitempty"`
	Source    LogSource              `json:"log_source,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// MultiLogger implements Logger by dispatching to the console and file tiers
type MultiLogger struct {
	config     *Config
	console    *ConsoleLogger
	file       *FileLogger
	baseFields map[string]interface{}
	component  Component
	source     LogSource
	mu         sync.RWMutex
}

// NewLogger creates a new multi-tier logger based on configuration
func NewLogger(config *Config) (*MultiLogger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger config: %w", err)
	}

	ml := &MultiLogger{
		config:     config,
		baseFields: make(map[string]interface{}),
	}

	if config.Console.Enabled {
		console, err := NewConsoleLogger(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create console logger: %w", err)
		}
		ml.console = console
	}

	if config.File.Enabled {
		file, err := NewFileLogger(config)
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		ml.file = file
	}

	return ml, nil
}

func (ml *MultiLogger) Debug(msg string, args ...interface{}) {
	ml.DebugContext(context.Background(), msg, args...)
}

func (ml *MultiLogger) Info(msg string, args ...interface{}) {
	ml.InfoContext(context.Background(), msg, args...)
}

func (ml *MultiLogger) Warn(msg string, args ...interface{}) {
	ml.WarnContext(context.Background(), msg, args...)
}

func (ml *MultiLogger) Error(msg string, args ...interface{}) {
	ml.ErrorContext(context.Background(), msg, args...)
}

func (ml *MultiLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {
	if ml.shouldLog(LevelDebug) {
		ml.log(ctx, LevelDebug, msg, args...)
	}
}

func (ml *MultiLogger) InfoContext(ctx context.Context, msg string, args ...interface{}) {
	if ml.shouldLog(LevelInfo) {
		ml.log(ctx, LevelInfo, msg, args...)
	}
}

func (ml *MultiLogger) WarnContext(ctx context.Context, msg string, args ...interface{}) {
	if ml.shouldLog(LevelWarn) {
		ml.log(ctx, LevelWarn, msg, args...)
	}
}

func (ml *MultiLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {
	if ml.shouldLog(LevelError) {
		ml.log(ctx, LevelError, msg, args...)
	}
}

// WithFields returns a new logger with additional fields
func (ml *MultiLogger) WithFields(fields map[string]interface{}) Logger {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	newFields := make(map[string]interface{}, len(ml.baseFields)+len(fields))
	for k, v := range ml.baseFields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &MultiLogger{
		config:     ml.config,
		console:    ml.console,
		file:       ml.file,
		baseFields: newFields,
		component:  ml.component,
		source:     ml.source,
	}
}

// WithComponent returns a new logger tagged with a component
func (ml *MultiLogger) WithComponent(component Component) Logger {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	return &MultiLogger{
		config:     ml.config,
		console:    ml.console,
		file:       ml.file,
		baseFields: ml.baseFields,
		component:  component,
		source:     ml.source,
	}
}

// WithSource returns a new logger tagged with a log source
func (ml *MultiLogger) WithSource(source LogSource) Logger {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	return &MultiLogger{
		config:     ml.config,
		console:    ml.console,
		file:       ml.file,
		baseFields: ml.baseFields,
		component:  ml.component,
		source:     source,
	}
}

// Close flushes and closes all log destinations
func (ml *MultiLogger) Close() error {
	var errs []error

	if ml.console != nil {
		if err := ml.console.Close(); err != nil {
			errs = append(errs, fmt.Errorf("console close: %w", err))
		}
	}

	if ml.file != nil {
		if err := ml.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("file close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing logger: %v", errs)
	}

	return nil
}

func (ml *MultiLogger) shouldLog(level LogLevel) bool {
	levels := map[LogLevel]int{
		LevelDebug: 0,
		LevelInfo:  1,
		LevelWarn:  2,
		LevelError: 3,
	}
	return levels[level] >= levels[ml.config.Level]
}

// log parses variadic key-value args and dispatches to all enabled tiers
func (ml *MultiLogger) log(ctx context.Context, level LogLevel, msg string, args ...interface{}) {
	ml.mu.RLock()
	defer ml.mu.RUnlock()

	fields := make(map[string]interface{}, len(ml.baseFields)+len(args)/2)
	for k, v := range ml.baseFields {
		fields[k] = v
	}

	for i := 0; i+1 < len(args); i += 2 {
		key := fmt.Sprintf("%v", args[i])
		fields[key] = args[i+1]
	}

	if ctx != nil {
		if jobID := ctx.Value(ContextKeyJobID); jobID != nil {
			fields["job_id"] = jobID
		}
		if workerID := ctx.Value(ContextKeyWorkerID); workerID != nil {
			fields["worker_id"] = workerID
		}
	}

	if ml.console != nil {
		ml.console.log(level, msg, ml.component, ml.source, fields)
	}

	if ml.file != nil {
		ml.file.log(level, msg, ml.component, ml.source, fields)
	}
}

// NoOpLogger is a logger that does nothing (for testing)
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{})                             {}
func (n *NoOpLogger) Info(msg string, args ...interface{})                              {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})                              {}
func (n *NoOpLogger) Error(msg string, args ...interface{})                             {}
func (n *NoOpLogger) DebugContext(ctx context.Context, msg string, args ...interface{}) {}
func (n *NoOpLogger) InfoContext(ctx context.Context, msg string, args ...interface{})  {}
func (n *NoOpLogger) WarnContext(ctx context.Context, msg string, args ...interface{})  {}
func (n *NoOpLogger) ErrorContext(ctx context.Context, msg string, args ...interface{}) {}
func (n *NoOpLogger) WithFields(fields map[string]interface{}) Logger                   { return n }
func (n *NoOpLogger) WithComponent(component Component) Logger                          { return n }
func (n *NoOpLogger) WithSource(source LogSource) Logger                                { return n }
func (n *NoOpLogger) Close() error                                                      { return nil }

// Ensure NoOpLogger implements Logger
var _ Logger = (*NoOpLogger)(nil)

// Global default logger (can be replaced)
var defaultLogger Logger = &NoOpLogger{}
var loggerMu sync.RWMutex

// SetDefault sets the global default logger
func SetDefault(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = l
}

// Default returns the global default logger
func Default() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// Convenience helpers using the default logger

func Debug(msg string, args ...interface{}) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	Default().Error(msg, args...)
}
