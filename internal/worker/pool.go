package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/metrics"
)

// QueueReader defines the interface for dequeuing jobs from the queue
type QueueReader interface {
	Dequeue(ctx context.Context, priorities []job.JobPriority) (*job.Job, error)
	Fail(ctx context.Context, j *job.Job, errMsg string) error
}

// Pool manages a pool of workers that process jobs from the queue
type Pool struct {
	executor        *Executor
	queueMu         sync.RWMutex
	queue           QueueReader
	concurrency     int
	jobTimeout      time.Duration
	priorities      []job.JobPriority
	wg              sync.WaitGroup
	stopChan        chan struct{}
	activeWorkers   atomic.Int64
	maxRetryBackoff time.Duration
	idleDelay       time.Duration
}

// NewPool creates a new worker pool
func NewPool(executor *Executor, queue QueueReader, concurrency int, jobTimeout time.Duration) *Pool {
	return &Pool{
		executor:        executor,
		queue:           queue,
		concurrency:     concurrency,
		jobTimeout:      jobTimeout,
		maxRetryBackoff: 30 * time.Second,
		idleDelay:       250 * time.Millisecond,
		priorities: []job.JobPriority{
			job.PriorityHigh,
			job.PriorityNormal,
			job.PriorityLow,
		},
		stopChan: make(chan struct{}),
	}
}

// SwapQueue replaces the queue handle after a watchdog reconnect. Workers
// pick up the new handle on their next dequeue; the executor's handle must
// be swapped separately.
func (p *Pool) SwapQueue(queue QueueReader) {
	p.queueMu.Lock()
	p.queue = queue
	p.queueMu.Unlock()
}

func (p *Pool) getQueue() QueueReader {
	p.queueMu.RLock()
	defer p.queueMu.RUnlock()
	return p.queue
}

// Start begins processing jobs from the queue with the configured concurrency
func (p *Pool) Start(ctx context.Context) {
	logger.Info("Starting worker pool", "workers", p.concurrency)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i+1)
	}

	logger.Info("Worker pool started successfully")
}

// Stop gracefully shuts down the worker pool with a 30-second timeout
func (p *Pool) Stop() {
	logger.Info("Stopping worker pool")
	close(p.stopChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Worker pool stopped gracefully")
	case <-time.After(30 * time.Second):
		logger.Warn("Worker pool shutdown timed out", "timeout", "30s")
	}
}

// worker is the main loop for each worker goroutine
func (p *Pool) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			logger.Error("Worker recovered from panic - worker will be terminated",
				"worker_id", workerID,
				"panic_value", r,
				"stack_trace", stackTrace)
		}
	}()

	workerCtx := context.WithValue(ctx, logger.ContextKeyWorkerID, fmt.Sprintf("worker-%d", workerID))

	logger.Info("Worker started", "worker_id", workerID)

	// Track consecutive connection failures for exponential backoff
	consecutiveFailures := 0
	currentBackoff := time.Second

	for {
		select {
		case <-p.stopChan:
			logger.Info("Worker stopping", "worker_id", workerID)
			return
		case <-workerCtx.Done():
			logger.Info("Worker stopping due to context cancellation", "worker_id", workerID)
			return
		default:
			j, err := p.getQueue().Dequeue(workerCtx, p.priorities)
			if err != nil {
				if workerCtx.Err() != nil {
					logger.Info("Worker stopping due to context cancellation", "worker_id", workerID)
					return
				}

				consecutiveFailures++

				// min(2^failures * 1s, maxBackoff)
				currentBackoff = time.Duration(1<<uint(consecutiveFailures)) * time.Second
				if currentBackoff > p.maxRetryBackoff {
					currentBackoff = p.maxRetryBackoff
				}

				if consecutiveFailures <= 3 {
					logger.Warn("Queue connection error - retrying with backoff",
						"worker_id", workerID,
						"error", err,
						"consecutive_failures", consecutiveFailures,
						"backoff", currentBackoff)
				} else if consecutiveFailures%10 == 0 {
					// Log every 10th failure after the first 3 to avoid log spam
					logger.Error("Persistent queue connection errors",
						"worker_id", workerID,
						"error", err,
						"consecutive_failures", consecutiveFailures,
						"backoff", currentBackoff)
				}

				time.Sleep(currentBackoff)
				continue
			}

			if consecutiveFailures > 0 {
				logger.Info("Queue connection recovered", "worker_id", workerID, "after_failures", consecutiveFailures)
				consecutiveFailures = 0
				currentBackoff = time.Second
			}

			// No job available
			if j == nil {
				select {
				case <-p.stopChan:
				case <-time.After(p.idleDelay):
				}
				continue
			}

			p.executeWithTimeout(workerCtx, workerID, j)
		}
	}
}

// executeWithTimeout executes a job with the configured timeout
func (p *Pool) executeWithTimeout(ctx context.Context, workerID int, j *job.Job) {
	active := p.activeWorkers.Add(1)
	defer func() {
		active = p.activeWorkers.Add(-1)
		metrics.Default().RecordWorkerActivity(active, int64(p.concurrency))
	}()

	metrics.Default().RecordWorkerActivity(active, int64(p.concurrency))

	jobCtx := context.WithValue(ctx, logger.ContextKeyJobID, j.ID)

	jobCtx, cancel := context.WithTimeout(jobCtx, p.jobTimeout)
	defer cancel()

	jobLogger := logger.Default().WithSource(logger.LogSourceJob)

	// Recover from panics during job execution and mark job as failed
	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			panicMsg := fmt.Sprintf("PANIC: %v\n\nStack Trace:\n%s", r, stackTrace)

			jobLogger.ErrorContext(jobCtx, "Job panicked - marking as failed",
				"worker_id", workerID,
				"job_id", j.ID,
				"job_kind", j.Kind,
				"panic_value", r,
				"stack_trace", stackTrace)

			if err := p.getQueue().Fail(ctx, j, panicMsg); err != nil {
				logger.Error("Failed to mark panicked job as failed",
					"worker_id", workerID,
					"job_id", j.ID,
					"error", err)
			}

			metrics.Default().RecordJobFailed(0)
		}
	}()

	jobLogger.InfoContext(jobCtx, "Processing job", "worker_id", workerID, "job_id", j.ID, "job_kind", j.Kind, "priority", j.Priority)

	if err := p.executor.ExecuteJob(jobCtx, j); err != nil {
		jobLogger.ErrorContext(jobCtx, "Job failed", "worker_id", workerID, "job_id", j.ID, "error", err)
	} else {
		jobLogger.InfoContext(jobCtx, "Job finished", "worker_id", workerID, "job_id", j.ID)
	}
}
