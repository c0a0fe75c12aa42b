package logger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileLogger implements Tier 2: rotating file logs via lumberjack with
// async channel buffering and batched writes.
type FileLogger struct {
	config    *Config
	logger    *lumberjack.Logger
	buffer    chan *LogEntry
	closeChan chan struct{}
	wg        sync.WaitGroup
}

// NewFileLogger creates a new file logger
func NewFileLogger(config *Config) (*FileLogger, error) {
	if !config.File.Enabled {
		return nil, fmt.Errorf("file logging is not enabled")
	}

	lumber := &lumberjack.Logger{
		Filename:   config.File.Path,
		MaxSize:    config.File.MaxSizeMB,
		MaxBackups: config.File.MaxBackups,
		MaxAge:     config.File.MaxAgeDays,
		Compress:   config.File.Compress,
	}

	fl := &FileLogger{
		config:    config,
		logger:    lumber,
		buffer:    make(chan *LogEntry, config.File.BufferSize),
		closeChan: make(chan struct{}),
	}

	fl.wg.Add(1)
	go fl.batchWriter()

	return fl, nil
}

// log buffers a log entry for the background batch writer
func (fl *FileLogger) log(level LogLevel, msg string, component Component, source LogSource, fields map[string]interface{}) {
	entry := &LogEntry{
		Timestamp: time.Now().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Component: component,
		Source:    source,
		Fields:    fields,
	}

	select {
	case fl.buffer <- entry:
	default:
		// Buffer full, write synchronously rather than drop
		fl.writeBatch([]*LogEntry{entry})
	}
}

// batchWriter collects entries into batches and writes them either when the
// batch is full or the batch interval elapses.
func (fl *FileLogger) batchWriter() {
	defer fl.wg.Done()

	batch := make([]*LogEntry, 0, fl.config.File.BatchSize)
	ticker := time.NewTicker(fl.config.File.BatchInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			fl.writeBatch(batch)
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry := <-fl.buffer:
			batch = append(batch, entry)
			if len(batch) >= fl.config.File.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-fl.closeChan:
			// Drain remaining entries before exiting
			for {
				select {
				case entry := <-fl.buffer:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// writeBatch serializes entries as JSON lines and writes them in one call
func (fl *FileLogger) writeBatch(batch []*LogEntry) {
	var out []byte
	for _, entry := range batch {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		out = append(out, data...)
		out = append(out, '\n')
	}

	// Rotation and write errors are not recoverable from a logger
	_, _ = fl.logger.Write(out)
}

// Close drains the buffer and closes the underlying file
func (fl *FileLogger) Close() error {
	close(fl.closeChan)
	fl.wg.Wait()
	return fl.logger.Close()
}
