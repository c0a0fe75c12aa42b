// Package store implements the planner repository on PostgreSQL. All
// engine-level idempotency lives here: the uniqueness constraint behind
// instance creation, the conditional watermark advance, and the additive
// rollover record merge.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/planner"
)

// Store is a PostgreSQL-backed planner.Repository
type Store struct {
	db  *sql.DB
	log logger.Logger
}

// New opens a connection pool against the given DSN
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{
		db:  db,
		log: logger.Default().WithComponent(logger.ComponentStore),
	}, nil
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the schema if it does not exist
func (s *Store) Init(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			timezone       TEXT NOT NULL DEFAULT 'UTC',
			digest_enabled BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS task_series (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			title          TEXT NOT NULL,
			rule           JSONB NOT NULL,
			start_date     DATE NOT NULL,
			end_date       DATE,
			last_generated DATE,
			instance_count INTEGER NOT NULL DEFAULT 0,
			active         BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE IF NOT EXISTS task_instances (
			id              TEXT PRIMARY KEY,
			series_id       TEXT NOT NULL REFERENCES task_series(id),
			user_id         TEXT NOT NULL,
			title           TEXT NOT NULL,
			scheduled_date  DATE NOT NULL,
			instance_number INTEGER NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (series_id, scheduled_date)
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL REFERENCES users(id),
			title          TEXT NOT NULL,
			scheduled_date DATE,
			completed_at   TIMESTAMPTZ,
			rolled_over_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS rollover_records (
			timezone          TEXT NOT NULL,
			date              DATE NOT NULL,
			users_processed   INTEGER NOT NULL DEFAULT 0,
			tasks_rolled_over BIGINT NOT NULL DEFAULT 0,
			duration_ms       BIGINT NOT NULL DEFAULT 0,
			batches_done      INTEGER NOT NULL DEFAULT 0,
			total_batches     INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL DEFAULT 'running',
			last_error        TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (timezone, date)
		)`,
		`CREATE TABLE IF NOT EXISTS time_blocks (
			id                      TEXT PRIMARY KEY,
			user_id                 TEXT NOT NULL REFERENCES users(id),
			title                   TEXT NOT NULL,
			start_at                TIMESTAMPTZ NOT NULL,
			reminder_offset_seconds BIGINT NOT NULL DEFAULT 0,
			reminded_at             TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_timezone ON users (timezone)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_rollover ON tasks (user_id, scheduled_date)
			WHERE completed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_pending_reminders ON time_blocks (start_at)
			WHERE reminded_at IS NULL`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	s.log.Info("Database schema initialized")
	return nil
}

// ListDistinctTimezones returns every zone with at least one user
func (s *Store) ListDistinctTimezones(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT timezone FROM users ORDER BY timezone`)
	if err != nil {
		return nil, fmt.Errorf("failed to list timezones: %w", err)
	}
	defer rows.Close()

	var zones []string
	for rows.Next() {
		var tz string
		if err := rows.Scan(&tz); err != nil {
			return nil, fmt.Errorf("failed to scan timezone: %w", err)
		}
		zones = append(zones, tz)
	}
	return zones, rows.Err()
}

const seriesColumns = `s.id, s.user_id, u.timezone, s.title, s.rule, s.start_date,
	s.end_date, s.last_generated, s.instance_count, s.active`

func scanSeries(scan func(...interface{}) error) (*planner.Series, error) {
	var (
		sr       planner.Series
		ruleJSON []byte
		endDate  sql.NullTime
		lastGen  sql.NullTime
	)
	err := scan(&sr.ID, &sr.UserID, &sr.Timezone, &sr.Title, &ruleJSON,
		&sr.StartDate, &endDate, &lastGen, &sr.InstanceCount, &sr.Active)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(ruleJSON, &sr.Rule); err != nil {
		return nil, fmt.Errorf("failed to decode rule for series %s: %w", sr.ID, err)
	}
	sr.StartDate = planner.Date(sr.StartDate)
	if endDate.Valid {
		d := planner.Date(endDate.Time)
		sr.EndDate = &d
	}
	if lastGen.Valid {
		d := planner.Date(lastGen.Time)
		sr.LastGenerated = &d
	}
	return &sr, nil
}

// ListActiveSeries returns all active series with their owners' timezones
func (s *Store) ListActiveSeries(ctx context.Context) ([]planner.Series, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+seriesColumns+`
		FROM task_series s
		JOIN users u ON u.id = s.user_id
		WHERE s.active`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active series: %w", err)
	}
	defer rows.Close()

	var series []planner.Series
	for rows.Next() {
		sr, err := scanSeries(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan series: %w", err)
		}
		series = append(series, *sr)
	}
	return series, rows.Err()
}

// GetSeries returns one series or planner.ErrSeriesNotFound
func (s *Store) GetSeries(ctx context.Context, id string) (*planner.Series, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+seriesColumns+`
		FROM task_series s
		JOIN users u ON u.id = s.user_id
		WHERE s.id = $1`, id)

	sr, err := scanSeries(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrSeriesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get series %s: %w", id, err)
	}
	return sr, nil
}

// ListUsersInTimezone returns IDs of all users in the zone
func (s *Store) ListUsersInTimezone(ctx context.Context, tz string) ([]string, error) {
	return s.listUserIDs(ctx, `SELECT id FROM users WHERE timezone = $1 ORDER BY id`, tz)
}

// ListDigestUsers returns IDs of users in the zone with digests enabled
func (s *Store) ListDigestUsers(ctx context.Context, tz string) ([]string, error) {
	return s.listUserIDs(ctx,
		`SELECT id FROM users WHERE timezone = $1 AND digest_enabled ORDER BY id`, tz)
}

func (s *Store) listUserIDs(ctx context.Context, query string, args ...interface{}) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDueReminders returns unnotified blocks whose reminder instant falls
// in [from, to)
func (s *Store) ListDueReminders(ctx context.Context, from, to time.Time) ([]planner.TimeBlock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, start_at, reminder_offset_seconds, reminded_at
		FROM time_blocks
		WHERE reminded_at IS NULL
		  AND start_at - make_interval(secs => reminder_offset_seconds) >= $1
		  AND start_at - make_interval(secs => reminder_offset_seconds) < $2`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list due reminders: %w", err)
	}
	defer rows.Close()

	var blocks []planner.TimeBlock
	for rows.Next() {
		var (
			b          planner.TimeBlock
			offsetSecs int64
			remindedAt sql.NullTime
		)
		if err := rows.Scan(&b.ID, &b.UserID, &b.Title, &b.StartAt, &offsetSecs, &remindedAt); err != nil {
			return nil, fmt.Errorf("failed to scan time block: %w", err)
		}
		b.ReminderOffset = time.Duration(offsetSecs) * time.Second
		if remindedAt.Valid {
			t := remindedAt.Time
			b.RemindedAt = &t
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// TryCreateInstance inserts an instance for (seriesID, date). The unique
// constraint turns duplicate deliveries into a (nil, nil) no-op.
func (s *Store) TryCreateInstance(ctx context.Context, seriesID string, date time.Time, instanceNumber int) (*planner.TaskInstance, error) {
	instance := planner.TaskInstance{
		ID:             uuid.New().String(),
		SeriesID:       seriesID,
		ScheduledDate:  planner.Date(date),
		InstanceNumber: instanceNumber,
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO task_instances (id, series_id, user_id, title, scheduled_date, instance_number)
		SELECT $1, s.id, s.user_id, s.title, $3, $4
		FROM task_series s
		WHERE s.id = $2
		ON CONFLICT (series_id, scheduled_date) DO NOTHING
		RETURNING user_id, title, created_at`,
		instance.ID, seriesID, instance.ScheduledDate, instanceNumber)

	err := row.Scan(&instance.UserID, &instance.Title, &instance.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create instance: %w", err)
	}
	return &instance, nil
}

// AdvanceLastGenerated moves the watermark forward, never backward
func (s *Store) AdvanceLastGenerated(ctx context.Context, seriesID string, date time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE task_series
		SET last_generated = $2,
		    instance_count = instance_count + 1
		WHERE id = $1
		  AND (last_generated IS NULL OR last_generated < $2)`,
		seriesID, planner.Date(date))
	if err != nil {
		return fmt.Errorf("failed to advance watermark for series %s: %w", seriesID, err)
	}
	return nil
}

// DeactivateSeries marks a series inactive
func (s *Store) DeactivateSeries(ctx context.Context, seriesID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE task_series SET active = FALSE WHERE id = $1`, seriesID)
	if err != nil {
		return fmt.Errorf("failed to deactivate series %s: %w", seriesID, err)
	}
	return nil
}

// BulkRolloverTasks moves the users' incomplete, dated, past-due tasks
// onto the target date in one statement. Backlog tasks with no scheduled
// date are never touched.
func (s *Store) BulkRolloverTasks(ctx context.Context, userIDs []string, target time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET scheduled_date = $1,
		    rolled_over_at = now()
		WHERE user_id = ANY($2)
		  AND completed_at IS NULL
		  AND scheduled_date IS NOT NULL
		  AND scheduled_date < $1`,
		planner.Date(target), pq.Array(userIDs))
	if err != nil {
		return 0, fmt.Errorf("failed to roll over tasks: %w", err)
	}

	moved, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count rolled over tasks: %w", err)
	}
	return moved, nil
}

// UpsertRolloverRecord merges one batch's delta into the boundary record.
// Counters accumulate; the status is derived from the merged state so
// concurrent batches converge on the same answer.
func (s *Store) UpsertRolloverRecord(ctx context.Context, tz string, date time.Time, delta planner.RolloverDelta) (*planner.RolloverRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rollover_records
			(timezone, date, users_processed, tasks_rolled_over, duration_ms,
			 batches_done, total_batches, last_error, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8,
			CASE
				WHEN $6 >= $7 AND $8 <> '' THEN 'partial'
				WHEN $6 >= $7 THEN 'completed'
				WHEN $8 <> '' THEN 'failed'
				ELSE 'running'
			END)
		ON CONFLICT (timezone, date) DO UPDATE SET
			users_processed   = rollover_records.users_processed + EXCLUDED.users_processed,
			tasks_rolled_over = rollover_records.tasks_rolled_over + EXCLUDED.tasks_rolled_over,
			duration_ms       = rollover_records.duration_ms + EXCLUDED.duration_ms,
			batches_done      = rollover_records.batches_done + EXCLUDED.batches_done,
			total_batches     = GREATEST(rollover_records.total_batches, EXCLUDED.total_batches),
			last_error        = CASE WHEN EXCLUDED.last_error <> ''
			                         THEN EXCLUDED.last_error
			                         ELSE rollover_records.last_error END,
			status = CASE
				WHEN rollover_records.batches_done + EXCLUDED.batches_done >=
				     GREATEST(rollover_records.total_batches, EXCLUDED.total_batches)
				THEN CASE
					WHEN EXCLUDED.last_error <> '' OR rollover_records.last_error <> ''
					THEN 'partial'
					ELSE 'completed'
				END
				ELSE 'running'
			END
		RETURNING timezone, date, users_processed, tasks_rolled_over,
			duration_ms, batches_done, total_batches, status, last_error`,
		tz, planner.Date(date), delta.UsersProcessed, delta.TasksRolledOver,
		delta.DurationMs, delta.BatchesDone, delta.TotalBatches, delta.Err)

	rec, err := scanRolloverRecord(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert rollover record: %w", err)
	}
	return rec, nil
}

// GetRolloverRecord returns the record or planner.ErrRecordNotFound
func (s *Store) GetRolloverRecord(ctx context.Context, tz string, date time.Time) (*planner.RolloverRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timezone, date, users_processed, tasks_rolled_over,
			duration_ms, batches_done, total_batches, status, last_error
		FROM rollover_records
		WHERE timezone = $1 AND date = $2`,
		tz, planner.Date(date))

	rec, err := scanRolloverRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, planner.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rollover record: %w", err)
	}
	return rec, nil
}

func scanRolloverRecord(scan func(...interface{}) error) (*planner.RolloverRecord, error) {
	var rec planner.RolloverRecord
	err := scan(&rec.Timezone, &rec.Date, &rec.UsersProcessed, &rec.TasksRolledOver,
		&rec.DurationMs, &rec.BatchesDone, &rec.TotalBatches, &rec.Status, &rec.LastError)
	if err != nil {
		return nil, err
	}
	rec.Date = planner.Date(rec.Date)
	return &rec, nil
}

// MarkBlockReminded stamps the block so it never fires again
func (s *Store) MarkBlockReminded(ctx context.Context, blockID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE time_blocks
		SET reminded_at = $2
		WHERE id = $1 AND reminded_at IS NULL`,
		blockID, at)
	if err != nil {
		return fmt.Errorf("failed to mark block %s reminded: %w", blockID, err)
	}
	return nil
}
