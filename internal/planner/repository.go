package planner

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Repository implementations
var (
	// ErrSeriesNotFound indicates the referenced series does not exist
	ErrSeriesNotFound = errors.New("series not found")
	// ErrRecordNotFound indicates no rollover record exists for the boundary
	ErrRecordNotFound = errors.New("rollover record not found")
)

// Repository is the relational store consumed by the engine. The engine
// never holds in-process locks around these calls: the uniqueness
// constraint behind TryCreateInstance and the conditional update behind
// AdvanceLastGenerated are the only contention points, and both live at
// the storage layer because multiple worker processes run concurrently.
type Repository interface {
	// ListDistinctTimezones returns every IANA zone with at least one user
	ListDistinctTimezones(ctx context.Context) ([]string, error)

	// ListActiveSeries returns all active series with owner timezones
	ListActiveSeries(ctx context.Context) ([]Series, error)

	// ListUsersInTimezone returns IDs of all users in the given zone
	ListUsersInTimezone(ctx context.Context, tz string) ([]string, error)

	// ListDigestUsers returns IDs of users in the zone with the daily
	// digest preference enabled
	ListDigestUsers(ctx context.Context, tz string) ([]string, error)

	// ListDueReminders returns time blocks whose reminder instant falls in
	// [from, to) and that have not been reminded yet
	ListDueReminders(ctx context.Context, from, to time.Time) ([]TimeBlock, error)

	// GetSeries returns the series or ErrSeriesNotFound
	GetSeries(ctx context.Context, id string) (*Series, error)

	// TryCreateInstance inserts a task instance for (seriesID, date),
	// backed by a uniqueness constraint on that pair. Returns (nil, nil)
	// when an instance already exists: duplicate delivery is a no-op,
	// not an error.
	TryCreateInstance(ctx context.Context, seriesID string, date time.Time, instanceNumber int) (*TaskInstance, error)

	// AdvanceLastGenerated moves the series watermark forward. The update
	// is conditional (only when date is later than the stored value) so
	// the occurrence stream stays monotonic under duplicate delivery.
	AdvanceLastGenerated(ctx context.Context, seriesID string, date time.Time) error

	// DeactivateSeries marks a series inactive once its end date passes
	DeactivateSeries(ctx context.Context, seriesID string) error

	// BulkRolloverTasks moves every incomplete task of the given users
	// scheduled strictly before target onto target. Backlog items with no
	// scheduled date are never touched. Returns rows affected.
	BulkRolloverTasks(ctx context.Context, userIDs []string, target time.Time) (int64, error)

	// UpsertRolloverRecord creates or additively merges the accounting
	// record for (tz, date) and returns the merged row. Concurrent batches
	// for the same boundary accumulate; they never overwrite.
	UpsertRolloverRecord(ctx context.Context, tz string, date time.Time, delta RolloverDelta) (*RolloverRecord, error)

	// GetRolloverRecord returns the record or ErrRecordNotFound
	GetRolloverRecord(ctx context.Context, tz string, date time.Time) (*RolloverRecord, error)

	// MarkBlockReminded stamps a time block so ListDueReminders stops
	// returning it
	MarkBlockReminded(ctx context.Context, blockID string, at time.Time) error
}
