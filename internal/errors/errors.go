// Package errors defines the scheduling engine's error taxonomy: fatal
// configuration errors, cached startup errors, terminal (never-retry)
// errors, and panic recovery helpers.
package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// ConfigError indicates required connection or engine settings are missing
// or malformed. It is fatal at startup and never retried.
type ConfigError struct {
	Field  string
	Reason string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfigError creates a ConfigError for the given setting
func NewConfigError(field, reason string) *ConfigError {
	return &ConfigError{Field: field, Reason: reason}
}

// IsConfig reports whether err is a ConfigError
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// StartupError indicates the underlying queue store could not be reached
// during initialization. The queue client facade caches it for diagnostics.
type StartupError struct {
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *StartupError) Error() string {
	return fmt.Sprintf("startup failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the underlying cause
func (e *StartupError) Unwrap() error {
	return e.Err
}

// NewStartupError wraps a connection failure observed during startup
func NewStartupError(attempts int, err error) *StartupError {
	return &StartupError{Attempts: attempts, Err: err}
}

// IsStartup reports whether err is a StartupError
func IsStartup(err error) bool {
	var se *StartupError
	return errors.As(err, &se)
}

// terminalError wraps a logic or idempotency failure (series missing,
// series inactive, instance already exists, boundary already recorded).
// Terminal errors must never be retried by the queue.
type terminalError struct {
	err error
}

func (e *terminalError) Error() string {
	return e.err.Error()
}

func (e *terminalError) Unwrap() error {
	return e.err
}

// Terminal marks err as terminal. Returns nil if err is nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{err: err}
}

// Terminalf formats a new terminal error
func Terminalf(format string, args ...interface{}) error {
	return &terminalError{err: fmt.Errorf(format, args...)}
}

// IsTerminal reports whether err (or anything it wraps) is terminal.
// The worker executor drops terminal jobs instead of failing them back
// into the retry queue.
func IsTerminal(err error) bool {
	var te *terminalError
	return errors.As(err, &te)
}

// PanicError represents an error recovered from a panic
type PanicError struct {
	Value      interface{} // The panic value
	Stacktrace string      // Full stack trace
}

// Error implements the error interface
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", p.Value)
}

// RecoverPanic recovers from a panic and returns it as an error with stack trace.
// Returns nil if no panic occurred.
func RecoverPanic() error {
	if r := recover(); r != nil {
		return &PanicError{
			Value:      r,
			Stacktrace: string(debug.Stack()),
		}
	}
	return nil
}

// FormatPanicForLog returns a formatted string suitable for logging
func FormatPanicForLog(panicErr *PanicError) string {
	return fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", panicErr.Value, panicErr.Stacktrace)
}
