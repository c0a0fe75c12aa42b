package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/metrics"
)

// Queue interface defines the methods needed for job queue operations
type Queue interface {
	Complete(ctx context.Context, jobID string) error
	Fail(ctx context.Context, j *job.Job, errMsg string) error
}

// Executor dispatches a job to its handler and records the outcome in
// the queue
type Executor struct {
	registry *Registry
	mu       sync.RWMutex
	queue    Queue
	log      logger.Logger
}

// NewExecutor creates a new job executor with queue integration
func NewExecutor(registry *Registry, queue Queue) *Executor {
	return &Executor{
		registry: registry,
		queue:    queue,
		log:      logger.Default().WithComponent(logger.ComponentWorker),
	}
}

// SwapQueue replaces the queue handle after a watchdog reconnect
func (e *Executor) SwapQueue(queue Queue) {
	e.mu.Lock()
	e.queue = queue
	e.mu.Unlock()
}

func (e *Executor) getQueue() Queue {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.queue
}

// ExecuteJob executes a single job using the registered handler.
//
// Failure routing depends on the error: terminal errors (missing series,
// deduped instance, stale boundary) mean retrying can never succeed, so
// the job is completed without effect instead of burning retry attempts.
// Everything else goes through Fail and the backoff retry path.
func (e *Executor) ExecuteJob(ctx context.Context, j *job.Job) error {
	metrics.Default().RecordJobStarted(j.Kind)
	queue := e.getQueue()

	handler, exists := e.registry.Get(j.Kind)
	if !exists {
		err := fmt.Errorf("no handler registered for job kind: %s", j.Kind)
		if queueErr := queue.Fail(ctx, j, err.Error()); queueErr != nil {
			e.log.Error("Failed to mark job as failed", "job_id", j.ID, "error", queueErr)
		}
		metrics.Default().RecordJobFailed(0)
		return err
	}

	j.UpdateStatus(job.StatusProcessing)

	startTime := time.Now()
	err := handler(ctx, j)
	duration := time.Since(startTime)

	if err != nil {
		if errs.IsTerminal(err) {
			// The job can never succeed; drop it rather than retry
			e.log.WarnContext(ctx, "Dropping job with terminal error",
				"job_id", j.ID, "job_kind", j.Kind, "error", err)
			if queueErr := queue.Complete(ctx, j.ID); queueErr != nil {
				e.log.Error("Failed to complete dropped job", "job_id", j.ID, "error", queueErr)
				return queueErr
			}
			metrics.Default().RecordJobDropped(duration)
			return nil
		}

		if ctx.Err() != nil {
			errMsg := fmt.Sprintf("context cancelled: %v", ctx.Err())
			if queueErr := queue.Fail(ctx, j, errMsg); queueErr != nil {
				e.log.Error("Failed to update cancelled job", "job_id", j.ID, "error", queueErr)
			}
			metrics.Default().RecordJobFailed(duration)
			return fmt.Errorf("job cancelled: %w", ctx.Err())
		}

		e.log.ErrorContext(ctx, "Job failed",
			"job_id", j.ID, "job_kind", j.Kind, "duration", duration, "error", err)
		if queueErr := queue.Fail(ctx, j, err.Error()); queueErr != nil {
			e.log.Error("Failed to update failed job", "job_id", j.ID, "error", queueErr)
		}
		metrics.Default().RecordJobFailed(duration)
		return err
	}

	if err := queue.Complete(ctx, j.ID); err != nil {
		e.log.Error("Failed to mark job as completed", "job_id", j.ID, "error", err)
		return fmt.Errorf("job succeeded but failed to update queue: %w", err)
	}

	metrics.Default().RecordJobCompleted(duration)
	return nil
}
