// Package client provides a small operational API for the scheduling
// engine: triggering boundaries by hand, inspecting jobs, and reading
// retained events. Intended for admin tooling and backfills, not for the
// engine's own hot path.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/planner"
	"github.com/sundialhq/sundial/internal/queue"
)

// Client submits jobs to and inspects the engine's queue
type Client struct {
	queue  *queue.RedisQueue
	events *events.RedisPublisher
}

// New creates a client connected to the engine's Redis backend
func New(redisURL string) (*Client, error) {
	q, err := queue.NewRedisQueue(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		queue:  q,
		events: events.NewRedisPublisher(q.Client(), 0),
	}, nil
}

// TriggerRollover enqueues a rollover batch for the given users, outside
// the scanner's normal midnight detection. Useful for backfilling a
// boundary that was missed during an outage. Returns the job ID, or empty
// if an identical trigger was suppressed.
func (c *Client) TriggerRollover(ctx context.Context, tz string, date time.Time, userIDs []string) (string, error) {
	day := planner.Date(date)
	payload := job.RolloverBatchPayload{
		Timezone:     tz,
		TargetDate:   day.Format(planner.DateLayout),
		UserIDs:      userIDs,
		BatchNumber:  1,
		TotalBatches: 1,
	}

	j, err := job.NewJobWithPayload(job.KindRolloverBatch, payload, job.PriorityNormal)
	if err != nil {
		return "", err
	}
	j.Dedupe(fmt.Sprintf("rollover:%s:%s:manual", tz, payload.TargetDate), 26*time.Hour)

	return c.submit(ctx, j)
}

// TriggerGeneration enqueues one instance generation for a series and
// date. The storage layer still guarantees at most one instance per
// (series, date), so re-triggering is safe.
func (c *Client) TriggerGeneration(ctx context.Context, seriesID string, date time.Time, instanceNumber int) (string, error) {
	day := planner.Date(date)
	payload := job.GenerateInstancePayload{
		SeriesID:       seriesID,
		TargetDate:     day.Format(planner.DateLayout),
		InstanceNumber: instanceNumber,
	}

	j, err := job.NewJobWithPayload(job.KindGenerateInstance, payload, job.PriorityNormal)
	if err != nil {
		return "", err
	}
	j.Dedupe(fmt.Sprintf("instance:%s:%s", seriesID, payload.TargetDate), 26*time.Hour)

	return c.submit(ctx, j)
}

// TriggerDigest enqueues one user's daily digest for the given local date
func (c *Client) TriggerDigest(ctx context.Context, userID, tz string, date time.Time) (string, error) {
	day := planner.Date(date)
	payload := job.DailyDigestPayload{
		UserID:    userID,
		Timezone:  tz,
		LocalDate: day.Format(planner.DateLayout),
	}

	j, err := job.NewJobWithPayload(job.KindDailyDigest, payload, job.PriorityLow)
	if err != nil {
		return "", err
	}
	j.Dedupe(fmt.Sprintf("digest:%s:%s", userID, payload.LocalDate), 26*time.Hour)

	return c.submit(ctx, j)
}

func (c *Client) submit(ctx context.Context, j *job.Job) (string, error) {
	accepted, err := c.queue.Enqueue(ctx, j)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	if !accepted {
		return "", nil
	}
	return j.ID, nil
}

// GetJob retrieves a job by ID
func (c *Client) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	j, err := c.queue.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// LastRollover returns the retained completion event for a timezone's most
// recent rollover, or nil if none is retained
func (c *Client) LastRollover(ctx context.Context, tz string) (*events.Event, error) {
	return c.events.LastEvent(ctx, events.EventRolloverCompleted, tz)
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.queue != nil {
		return c.queue.Close()
	}
	return nil
}
