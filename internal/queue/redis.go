// Package queue provides the durable Redis-backed job queue and the
// client facade that supervises its lifecycle.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
)

// defaultSuppression covers jobs that carry an idempotency key but no
// explicit suppression window
const defaultSuppression = time.Hour

// RedisQueue manages job queues in Redis
type RedisQueue struct {
	client    *redis.Client
	keyPrefix string
	log       logger.Logger
	// Pre-computed keys to avoid per-call string allocations
	queueHighKey    string
	queueNormalKey  string
	queueLowKey     string
	processingKey   string
	deadLetterKey   string
	scheduledSetKey string
}

// NewRedisQueue creates a new Redis queue and tests the connection
func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := "sundial:"
	return &RedisQueue{
		client:          client,
		keyPrefix:       prefix,
		log:             logger.Default().WithComponent(logger.ComponentQueue),
		queueHighKey:    prefix + "queue:high",
		queueNormalKey:  prefix + "queue:normal",
		queueLowKey:     prefix + "queue:low",
		processingKey:   prefix + "queue:processing",
		deadLetterKey:   prefix + "queue:dead",
		scheduledSetKey: prefix + "queue:scheduled",
	}, nil
}

func (q *RedisQueue) jobKey(jobID string) string {
	var b strings.Builder
	b.Grow(len(q.keyPrefix) + 4 + len(jobID))
	b.WriteString(q.keyPrefix)
	b.WriteString("job:")
	b.WriteString(jobID)
	return b.String()
}

func (q *RedisQueue) dedupKey(idempotencyKey string) string {
	return q.keyPrefix + "dedup:" + idempotencyKey
}

func (q *RedisQueue) queueKey(priority job.JobPriority) string {
	switch priority {
	case job.PriorityHigh:
		return q.queueHighKey
	case job.PriorityLow:
		return q.queueLowKey
	default:
		return q.queueNormalKey
	}
}

// Enqueue adds a job to the appropriate priority queue. When the job
// carries an idempotency key, a claim key is set first (SET NX with the
// suppression window as TTL); a duplicate claim means some earlier
// delivery of the same logical work already went through - possibly one
// that has since completed - and the job is silently dropped.
//
// Returns true when the job was actually enqueued, false when it was
// suppressed as a duplicate.
func (q *RedisQueue) Enqueue(ctx context.Context, j *job.Job) (bool, error) {
	if j.IdempotencyKey != "" {
		window := j.SuppressionWindow
		if window <= 0 {
			window = defaultSuppression
		}
		claimed, err := q.client.SetNX(ctx, q.dedupKey(j.IdempotencyKey), j.ID, window).Result()
		if err != nil {
			return false, fmt.Errorf("failed to claim idempotency key: %w", err)
		}
		if !claimed {
			q.log.Debug("Duplicate job suppressed",
				"job_kind", j.Kind,
				"idempotency_key", j.IdempotencyKey)
			return false, nil
		}
	}

	jobData, err := json.Marshal(j)
	if err != nil {
		return false, fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, q.jobKey(j.ID), jobData, 0)
	pipe.LPush(ctx, q.queueKey(j.Priority), j.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		// Release the claim so the next tick can retry the enqueue
		if j.IdempotencyKey != "" {
			q.client.Del(ctx, q.dedupKey(j.IdempotencyKey))
		}
		return false, fmt.Errorf("failed to enqueue job: %w", err)
	}

	q.log.Debug("Enqueued job", "job_id", j.ID, "job_kind", j.Kind, "priority", j.Priority)
	return true, nil
}

// Dequeue retrieves a job from the highest priority non-empty queue,
// moving it to the processing list atomically
func (q *RedisQueue) Dequeue(ctx context.Context, priorities []job.JobPriority) (*job.Job, error) {
	for _, priority := range priorities {
		result, err := q.client.RPopLPush(ctx, q.queueKey(priority), q.processingKey).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue job: %w", err)
		}

		jobID := result

		jobData, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
		if err != nil {
			q.client.LRem(ctx, q.processingKey, 1, jobID)
			return nil, fmt.Errorf("job data not found for ID %s: %w", jobID, err)
		}

		var j job.Job
		if err := json.Unmarshal([]byte(jobData), &j); err != nil {
			q.client.LRem(ctx, q.processingKey, 1, jobID)
			return nil, fmt.Errorf("failed to unmarshal job: %w", err)
		}

		return &j, nil
	}

	return nil, nil
}

// Complete marks a job as completed and removes it from the processing
// queue. The job's dedup claim is deliberately left to expire on its
// own: the suppression window must outlive completion.
func (q *RedisQueue) Complete(ctx context.Context, jobID string) error {
	if err := q.client.LRem(ctx, q.processingKey, 1, jobID).Err(); err != nil {
		return fmt.Errorf("failed to remove job from processing queue: %w", err)
	}

	jobData, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return fmt.Errorf("failed to get job data: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(jobData), &j); err != nil {
		return fmt.Errorf("failed to unmarshal job: %w", err)
	}

	j.UpdateStatus(job.StatusCompleted)

	updatedData, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal updated job: %w", err)
	}

	if err := q.client.Set(ctx, q.jobKey(jobID), updatedData, 0).Err(); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	return nil
}

// Fail handles a failed job: exponential-backoff retry through the
// scheduled set while attempts remain, dead-letter afterwards. Retried
// jobs keep their job ID, so the dedup claim keeps covering them.
func (q *RedisQueue) Fail(ctx context.Context, j *job.Job, errMsg string) error {
	j.Attempts++
	j.Error = errMsg

	pipe := q.client.Pipeline()

	if j.Attempts < j.MaxRetries {
		// 2^attempts seconds of backoff
		delaySecs := 1 << j.Attempts
		retryDelay := time.Duration(delaySecs) * time.Second
		nextRetryTime := time.Now().Add(retryDelay)

		j.UpdateStatus(job.StatusScheduled)
		j.ScheduledFor = &nextRetryTime

		jobData, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		pipe.Set(ctx, q.jobKey(j.ID), jobData, 0)
		pipe.ZAdd(ctx, q.scheduledSetKey, redis.Z{
			Score:  float64(nextRetryTime.Unix()),
			Member: j.ID,
		})
		pipe.LRem(ctx, q.processingKey, 1, j.ID)

		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to schedule job for retry: %w", err)
		}

		q.log.Warn("Job failed, scheduled for retry",
			"job_id", j.ID,
			"job_kind", j.Kind,
			"attempt", j.Attempts,
			"max_retries", j.MaxRetries,
			"retry_in", retryDelay)
		return nil
	}

	j.UpdateStatus(job.StatusFailed)
	j.ScheduledFor = nil

	jobData, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe.Set(ctx, q.jobKey(j.ID), jobData, 0)
	pipe.LPush(ctx, q.deadLetterKey, j.ID)
	pipe.LRem(ctx, q.processingKey, 1, j.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to move job to dead letter queue: %w", err)
	}

	q.log.Error("Job moved to dead letter queue",
		"job_id", j.ID,
		"job_kind", j.Kind,
		"attempts", j.Attempts,
		"error", errMsg)
	return nil
}

// MoveScheduledToReady moves jobs whose retry time has arrived from the
// scheduled set back to their priority queues. Called periodically by
// the scanner process. Returns the count of jobs moved.
func (q *RedisQueue) MoveScheduledToReady(ctx context.Context) (int, error) {
	now := time.Now().Unix()

	jobIDs, err := q.client.ZRangeByScore(ctx, q.scheduledSetKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get scheduled jobs: %w", err)
	}

	if len(jobIDs) == 0 {
		return 0, nil
	}

	movedCount := 0

	for _, jobID := range jobIDs {
		jobData, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
		if err == redis.Nil {
			q.client.ZRem(ctx, q.scheduledSetKey, jobID)
			q.log.Warn("Scheduled job data missing, removed", "job_id", jobID)
			continue
		}
		if err != nil {
			q.log.Error("Error retrieving scheduled job", "job_id", jobID, "error", err)
			continue
		}

		var j job.Job
		if err := json.Unmarshal([]byte(jobData), &j); err != nil {
			q.log.Error("Error unmarshaling scheduled job", "job_id", jobID, "error", err)
			continue
		}

		j.ScheduledFor = nil
		j.UpdateStatus(job.StatusPending)

		updatedJobData, err := json.Marshal(j)
		if err != nil {
			q.log.Error("Error marshaling scheduled job", "job_id", jobID, "error", err)
			continue
		}

		pipe := q.client.Pipeline()
		pipe.Set(ctx, q.jobKey(j.ID), updatedJobData, 0)
		pipe.LPush(ctx, q.queueKey(j.Priority), j.ID)
		pipe.ZRem(ctx, q.scheduledSetKey, j.ID)

		if _, err := pipe.Exec(ctx); err != nil {
			q.log.Error("Error moving job to ready queue", "job_id", jobID, "error", err)
			continue
		}

		movedCount++
	}

	return movedCount, nil
}

// GetJob retrieves a job by ID from Redis
func (q *RedisQueue) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	jobData, err := q.client.Get(ctx, q.jobKey(jobID)).Result()
	if err == redis.Nil {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var j job.Job
	if err := json.Unmarshal([]byte(jobData), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &j, nil
}

// Ping checks the connection; used by the watchdog
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client for collaborators that need
// raw access (event publishing, distributed locks)
func (q *RedisQueue) Client() *redis.Client {
	return q.client
}

// Close closes the Redis connection
func (q *RedisQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	return nil
}
