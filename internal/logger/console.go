package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ConsoleLogger implements Tier 1: console/terminal logging with async
// buffered writes and either JSON or colored text output.
type ConsoleLogger struct {
	config  *Config
	handler slog.Handler
	writer  *bufferedWriter
}

// bufferedWriter provides async buffered writing with periodic flushing.
// When the buffer is full, writes fall back to the underlying writer.
type bufferedWriter struct {
	writer        io.Writer
	buffer        chan []byte
	flushInterval time.Duration
	mu            sync.Mutex
	closed        bool
}

func newBufferedWriter(w io.Writer, bufferSize int, flushInterval time.Duration) *bufferedWriter {
	bw := &bufferedWriter{
		writer:        w,
		buffer:        make(chan []byte, bufferSize/256),
		flushInterval: flushInterval,
	}

	go bw.flusher()

	return bw
}

// Write implements io.Writer
func (bw *bufferedWriter) Write(p []byte) (n int, err error) {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return 0, fmt.Errorf("writer is closed")
	}
	bw.mu.Unlock()

	// The slice may be reused by the caller
	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case bw.buffer <- buf:
		return len(p), nil
	default:
		return bw.writer.Write(p)
	}
}

func (bw *bufferedWriter) flusher() {
	ticker := time.NewTicker(bw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case buf := <-bw.buffer:
			_, _ = bw.writer.Write(buf)
		case <-ticker.C:
			bw.drain()
		}
	}
}

func (bw *bufferedWriter) drain() {
	for {
		select {
		case buf := <-bw.buffer:
			_, _ = bw.writer.Write(buf)
		default:
			return
		}
	}
}

// Close flushes and closes the buffered writer
func (bw *bufferedWriter) Close() error {
	bw.mu.Lock()
	if bw.closed {
		bw.mu.Unlock()
		return nil
	}
	bw.closed = true
	bw.mu.Unlock()

	bw.drain()

	return nil
}

// NewConsoleLogger creates a new console logger
func NewConsoleLogger(config *Config) (*ConsoleLogger, error) {
	cl := &ConsoleLogger{config: config}

	cl.writer = newBufferedWriter(
		os.Stdout,
		config.Console.BufferSize,
		config.Console.FlushInterval,
	)

	opts := &slog.HandlerOptions{
		Level: slogLevel(config.Level),
	}

	if config.Format == FormatJSON {
		cl.handler = slog.NewJSONHandler(cl.writer, opts)
	} else if config.Console.Color {
		cl.handler = newColorTextHandler(cl.writer, opts)
	} else {
		cl.handler = slog.NewTextHandler(cl.writer, opts)
	}

	return cl, nil
}

// log writes a log entry to the console tier
func (cl *ConsoleLogger) log(level LogLevel, msg string, component Component, source LogSource, fields map[string]interface{}) {
	record := slog.NewRecord(time.Now(), slogLevel(level), msg, 0)

	if component != "" {
		record.AddAttrs(slog.String("component", string(component)))
	}
	if source != "" {
		record.AddAttrs(slog.String("log_source", string(source)))
	}

	for k, v := range fields {
		record.AddAttrs(slog.Any(k, v))
	}

	// No reasonable way to surface handler errors from a logger
	_ = cl.handler.Handle(context.TODO(), record)
}

// Close flushes and closes the console logger
func (cl *ConsoleLogger) Close() error {
	return cl.writer.Close()
}

func slogLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// colorTextHandler is a slog handler with colored level labels
type colorTextHandler struct {
	w    io.Writer
	opts *slog.HandlerOptions
	mu   sync.Mutex

	debugColor *color.Color
	infoColor  *color.Color
	warnColor  *color.Color
	errorColor *color.Color
}

func newColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *colorTextHandler {
	return &colorTextHandler{
		w:          w,
		opts:       opts,
		debugColor: color.New(color.FgCyan),
		infoColor:  color.New(color.FgGreen),
		warnColor:  color.New(color.FgYellow),
		errorColor: color.New(color.FgRed, color.Bold),
	}
}

// Enabled implements slog.Handler
func (h *colorTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts != nil && h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

// Handle implements slog.Handler
func (h *colorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	buf := make(map[string]interface{})
	buf["time"] = r.Time.Format(time.RFC3339)

	switch r.Level {
	case slog.LevelDebug:
		buf["level"] = h.debugColor.Sprint("DEBUG")
	case slog.LevelInfo:
		buf["level"] = h.infoColor.Sprint("INFO")
	case slog.LevelWarn:
		buf["level"] = h.warnColor.Sprint("WARN")
	case slog.LevelError:
		buf["level"] = h.errorColor.Sprint("ERROR")
	}

	buf["msg"] = r.Message

	r.Attrs(func(a slog.Attr) bool {
		buf[a.Key] = a.Value.Any()
		return true
	})

	data, err := json.Marshal(buf)
	if err != nil {
		return err
	}

	_, err = h.w.Write(append(data, '\n'))
	return err
}

// WithAttrs implements slog.Handler
func (h *colorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

// WithGroup implements slog.Handler
func (h *colorTextHandler) WithGroup(name string) slog.Handler {
	return h
}
