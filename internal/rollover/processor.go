// Package rollover executes midnight rollover batches: moving each user's
// unfinished tasks from past dates onto the new local day, with additive
// per-boundary accounting so concurrent batches never clobber each other.
package rollover

import (
	"context"
	"fmt"
	"time"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/metrics"
	"github.com/sundialhq/sundial/internal/planner"
)

// Processor handles rollover_batch jobs
type Processor struct {
	repo   planner.Repository
	events events.Publisher
	log    logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a rollover processor
func New(repo planner.Repository, pub events.Publisher) *Processor {
	return &Processor{
		repo:   repo,
		events: pub,
		log:    logger.Default().WithComponent(logger.ComponentRollover),
		now:    time.Now,
	}
}

// Handle processes one rollover batch. Every outcome, success or failure,
// is merged into the boundary's accounting record; the boundary completes
// when its last batch lands.
func (p *Processor) Handle(ctx context.Context, j *job.Job) error {
	var payload job.RolloverBatchPayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return errs.Terminal(err)
	}

	date, err := planner.ParseDate(payload.TargetDate)
	if err != nil {
		return errs.Terminal(err)
	}
	if len(payload.UserIDs) == 0 {
		return errs.Terminalf("rollover batch %d/%d for %s has no users",
			payload.BatchNumber, payload.TotalBatches, payload.Timezone)
	}

	start := p.now()
	moved, rollErr := p.repo.BulkRolloverTasks(ctx, payload.UserIDs, date)
	elapsed := p.now().Sub(start)

	if rollErr != nil {
		// Record the failure before re-raising so the boundary's record
		// shows a partial outcome even if retries exhaust
		delta := planner.RolloverDelta{
			TotalBatches: payload.TotalBatches,
			Err:          rollErr.Error(),
		}
		if _, recErr := p.repo.UpsertRolloverRecord(ctx, payload.Timezone, date, delta); recErr != nil {
			p.log.ErrorContext(ctx, "Failed to record batch failure",
				"timezone", payload.Timezone, "date", payload.TargetDate, "error", recErr)
		}
		return fmt.Errorf("rollover batch %d/%d for %s failed: %w",
			payload.BatchNumber, payload.TotalBatches, payload.Timezone, rollErr)
	}

	metrics.Default().RecordTasksRolledOver(moved)

	delta := planner.RolloverDelta{
		UsersProcessed:  len(payload.UserIDs),
		TasksRolledOver: moved,
		DurationMs:      elapsed.Milliseconds(),
		BatchesDone:     1,
		TotalBatches:    payload.TotalBatches,
	}
	record, err := p.repo.UpsertRolloverRecord(ctx, payload.Timezone, date, delta)
	if err != nil {
		return fmt.Errorf("failed to update rollover record: %w", err)
	}

	p.log.InfoContext(ctx, "Rollover batch processed",
		"timezone", payload.Timezone,
		"date", payload.TargetDate,
		"batch", payload.BatchNumber,
		"of", payload.TotalBatches,
		"users", len(payload.UserIDs),
		"tasks_moved", moved,
		"duration_ms", elapsed.Milliseconds())

	if record != nil && record.BatchesDone >= record.TotalBatches {
		p.log.InfoContext(ctx, "Rollover boundary completed",
			"timezone", payload.Timezone,
			"date", payload.TargetDate,
			"users", record.UsersProcessed,
			"tasks_moved", record.TasksRolledOver,
			"status", record.Status)

		if err := p.events.Publish(ctx, events.EventRolloverCompleted, payload.Timezone, record); err != nil {
			p.log.WarnContext(ctx, "Failed to publish rollover event",
				"timezone", payload.Timezone, "error", err)
		}
	}

	return nil
}
