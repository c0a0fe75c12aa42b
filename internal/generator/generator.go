// Package generator materializes concrete task instances from recurring
// series, exactly once per (series, date) pair regardless of how many
// times the queue delivers the job.
package generator

import (
	"context"
	"errors"
	"fmt"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/metrics"
	"github.com/sundialhq/sundial/internal/planner"
)

// Generator handles generate_instance jobs
type Generator struct {
	repo   planner.Repository
	events events.Publisher
	log    logger.Logger
}

// New creates a generator backed by the given repository and event publisher
func New(repo planner.Repository, pub events.Publisher) *Generator {
	return &Generator{
		repo:   repo,
		events: pub,
		log:    logger.Default().WithComponent(logger.ComponentGenerator),
	}
}

// Handle processes one generate_instance job. The storage-level uniqueness
// constraint on (series, date) makes duplicate deliveries no-ops, so the
// handler never needs to coordinate with other workers.
func (g *Generator) Handle(ctx context.Context, j *job.Job) error {
	var payload job.GenerateInstancePayload
	if err := j.UnmarshalPayload(&payload); err != nil {
		return errs.Terminal(err)
	}

	date, err := planner.ParseDate(payload.TargetDate)
	if err != nil {
		return errs.Terminal(err)
	}

	series, err := g.repo.GetSeries(ctx, payload.SeriesID)
	if err != nil {
		if errors.Is(err, planner.ErrSeriesNotFound) {
			// Deleted after the scanner saw it; nothing to generate, ever
			return errs.Terminalf("series %s no longer exists", payload.SeriesID)
		}
		return fmt.Errorf("failed to load series %s: %w", payload.SeriesID, err)
	}
	if !series.Active {
		return errs.Terminalf("series %s is inactive", payload.SeriesID)
	}

	instance, err := g.repo.TryCreateInstance(ctx, series.ID, date, payload.InstanceNumber)
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}

	// Whether this delivery won the insert or lost to an earlier one, the
	// watermark must cover the date. The advance is conditional in storage,
	// so repeating it is harmless.
	if err := g.repo.AdvanceLastGenerated(ctx, series.ID, date); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	if instance == nil {
		metrics.Default().RecordInstanceDeduped()
		g.log.InfoContext(ctx, "Instance already exists, skipping",
			"series_id", series.ID,
			"date", payload.TargetDate)
		return nil
	}

	metrics.Default().RecordInstanceCreated()
	g.log.InfoContext(ctx, "Instance created",
		"series_id", series.ID,
		"instance_id", instance.ID,
		"date", payload.TargetDate,
		"number", instance.InstanceNumber)

	if err := g.events.Publish(ctx, events.EventInstanceCreated, series.ID, instance); err != nil {
		// Event delivery is best effort; the instance itself is durable
		g.log.WarnContext(ctx, "Failed to publish instance event",
			"series_id", series.ID, "error", err)
	}

	return nil
}
