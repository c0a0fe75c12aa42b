// Package digest delivers the notification-side jobs: daily digests at a
// user's local morning hour and time block reminders. Both publish events
// for downstream delivery channels rather than sending anything directly.
package digest

import (
	"context"
	"fmt"
	"time"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/planner"
)

// Handler handles daily_digest and block_reminder jobs
type Handler struct {
	repo   planner.Repository
	events events.Publisher
	log    logger.Logger

	// now is swappable for tests
	now func() time.Time
}

// New creates a digest handler
func New(repo planner.Repository, pub events.Publisher) *Handler {
	return &Handler{
		repo:   repo,
		events: pub,
		log:    logger.Default().WithComponent(logger.ComponentDigest),
		now:    time.Now,
	}
}

// HandleDigest processes one daily_digest job. The published event is the
// deliverable; a failed publish retries the whole job.
func (h *Handler) HandleDigest(ctx context.Context, j *job.Job) error {
	var payload job.DailyDigestPayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return errs.Terminal(err)
	}
	if _, err := planner.ParseDate(payload.LocalDate); err != nil {
		return errs.Terminal(err)
	}

	if err := h.events.Publish(ctx, events.EventDigestDue, payload.UserID, payload); err != nil {
		return fmt.Errorf("failed to publish digest event: %w", err)
	}

	h.log.InfoContext(ctx, "Digest delivered",
		"user_id", payload.UserID,
		"timezone", payload.Timezone,
		"date", payload.LocalDate)
	return nil
}

// HandleReminder processes one block_reminder job. A reminder arriving
// after its block already started is dropped, not retried.
func (h *Handler) HandleReminder(ctx context.Context, j *job.Job) error {
	var payload job.BlockReminderPayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return errs.Terminal(err)
	}

	now := h.now()
	if now.After(payload.StartAt) {
		return errs.Terminalf("block %s already started at %s, reminder is stale",
			payload.BlockID, payload.StartAt.Format(time.RFC3339))
	}

	if err := h.events.Publish(ctx, events.EventReminderDue, payload.BlockID, payload); err != nil {
		return fmt.Errorf("failed to publish reminder event: %w", err)
	}

	// Stamp after the publish so a crash in between re-delivers rather
	// than silently losing the reminder
	if err := h.repo.MarkBlockReminded(ctx, payload.BlockID, now); err != nil {
		return fmt.Errorf("failed to mark block reminded: %w", err)
	}

	h.log.InfoContext(ctx, "Reminder delivered",
		"block_id", payload.BlockID,
		"user_id", payload.UserID,
		"starts_at", payload.StartAt.Format(time.RFC3339))
	return nil
}
