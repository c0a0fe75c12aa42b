// Package scanner is the engine's producer side: a minute-cadence loop
// that converts wall-clock boundaries in every inhabited timezone into
// deferred jobs on the durable queue.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundialhq/sundial/internal/config"
	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/localtime"
	"github.com/sundialhq/sundial/internal/logger"
	"github.com/sundialhq/sundial/internal/metrics"
	"github.com/sundialhq/sundial/internal/planner"
	"github.com/sundialhq/sundial/internal/recurrence"
)

const (
	// scanLockKey serializes tick execution across scanner instances
	scanLockKey = "sundial:scan_lock"

	// boundarySuppression must outlive the widened trigger window: a
	// transition day can legitimately hit the same boundary from both the
	// eve's 23:xx span and the morning's 01:xx span, hours apart.
	boundarySuppression = 26 * time.Hour

	// reminderSuppression covers reminder re-delivery within a scan gap
	reminderSuppression = 2 * time.Hour
)

// JobQueue is the enqueue surface the scanner needs
type JobQueue interface {
	Enqueue(ctx context.Context, j *job.Job) (bool, error)
	MoveScheduledToReady(ctx context.Context) (int, error)
}

// Scanner ticks once per interval, detects local-time boundaries, and
// enqueues idempotent jobs for them. Ticks never overlap: an in-process
// guard skips the tick when the previous one still runs, and a
// distributed lock keeps multiple scanner instances from double-firing.
type Scanner struct {
	repo     planner.Repository
	mu       sync.RWMutex
	queue    JobQueue
	client   *redis.Client
	registry *Registry
	cfg      *config.Config
	log      logger.Logger
	lockTTL  time.Duration

	// now is swappable for tests
	now func() time.Time

	tickRunning chan struct{}
}

// New creates a scanner with the standard sub-scans registered
func New(repo planner.Repository, queue JobQueue, client *redis.Client, cfg *config.Config) *Scanner {
	s := &Scanner{
		repo:        repo,
		queue:       queue,
		client:      client,
		registry:    NewRegistry(),
		cfg:         cfg,
		log:         logger.Default().WithComponent(logger.ComponentScanner),
		lockTTL:     60 * time.Second,
		now:         time.Now,
		tickRunning: make(chan struct{}, 1),
	}

	s.registry.MustRegister(&Scan{
		ID:          "rollover",
		Cron:        "* * * * *",
		Run:         s.scanRollover,
		Enabled:     cfg.RolloverEnabled,
		Description: "Fires midnight rollover batches per timezone",
	})
	s.registry.MustRegister(&Scan{
		ID:          "recurrence",
		Cron:        "* * * * *",
		Run:         s.scanRecurrence,
		Enabled:     cfg.RecurrenceEnabled,
		Description: "Materializes due recurring series instances",
	})
	s.registry.MustRegister(&Scan{
		ID:          "digest",
		Cron:        "*/5 * * * *",
		Run:         s.scanDigest,
		Enabled:     cfg.DigestEnabled,
		Description: "Fires daily digests at the configured local hour",
	})
	s.registry.MustRegister(&Scan{
		ID:          "reminders",
		Cron:        "* * * * *",
		Run:         s.scanReminders,
		Enabled:     cfg.RemindersEnabled,
		Description: "Fires time block reminders",
	})
	s.registry.MustRegister(&Scan{
		ID:          "retry_pump",
		Cron:        "* * * * *",
		Run:         s.pumpRetries,
		Enabled:     true,
		Description: "Moves backoff-scheduled jobs back to the ready queues",
	})

	return s
}

// SwapBackend replaces the queue and lock client after a watchdog
// reconnect
func (s *Scanner) SwapBackend(queue JobQueue, client *redis.Client) {
	s.mu.Lock()
	s.queue = queue
	s.client = client
	s.mu.Unlock()
}

func (s *Scanner) getQueue() JobQueue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queue
}

func (s *Scanner) getClient() *redis.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// SetLockTTL sets the distributed lock TTL (for testing or tuning)
func (s *Scanner) SetLockTTL(ttl time.Duration) {
	s.lockTTL = ttl
}

// Registry exposes the scan registry for monitoring
func (s *Scanner) Registry() *Registry {
	return s.registry
}

// Start begins the scan loop and blocks until the context is cancelled
func (s *Scanner) Start(ctx context.Context) {
	s.log.Info("Scanner started",
		"interval", s.cfg.ScanInterval,
		"scans", s.registry.Count())

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scanner stopping")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scan pass. A tick that would overlap the previous one is
// skipped rather than queued: the next tick will catch anything missed,
// and the widened trigger windows tolerate the delay.
func (s *Scanner) Tick(ctx context.Context) {
	select {
	case s.tickRunning <- struct{}{}:
	default:
		metrics.Default().RecordTickSkipped()
		s.log.Warn("Skipping tick, previous tick still running")
		return
	}
	defer func() { <-s.tickRunning }()

	now := s.now()

	lock, err := AcquireLock(ctx, s.getClient(), scanLockKey, s.lockTTL)
	if err != nil {
		s.log.Error("Failed to acquire scan lock", "error", err)
		return
	}
	if lock == nil {
		s.log.Debug("Scan lock held by another instance")
		return
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			s.log.Error("Failed to release scan lock", "error", err)
		}
	}()

	metrics.Default().RecordTick()

	for _, scan := range s.registry.List() {
		if !s.registry.Due(scan.ID, now) {
			continue
		}
		s.runScan(ctx, scan, now)
		s.registry.MarkRun(scan.ID, now)
	}
}

// runScan executes one sub-scan with panic isolation: a crashing scan
// must not take down the loop or the remaining scans of this tick
func (s *Scanner) runScan(ctx context.Context, scan *Scan, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			panicErr := &errs.PanicError{Value: r, Stacktrace: string(debug.Stack())}
			s.log.Error("Scan panicked",
				"scan_id", scan.ID,
				"error", errs.FormatPanicForLog(panicErr))
		}
	}()

	if err := scan.Run(ctx, now); err != nil {
		s.log.Error("Scan failed", "scan_id", scan.ID, "error", err)
	}
}

// scanRollover detects midnight boundaries per timezone and enqueues the
// pre-chunked rollover batches for each one
func (s *Scanner) scanRollover(ctx context.Context, now time.Time) error {
	timezones, err := s.repo.ListDistinctTimezones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list timezones: %w", err)
	}

	for _, tz := range s.allowedTimezones(timezones) {
		if err := s.rolloverTimezone(ctx, tz, now); err != nil {
			// One broken zone must not starve the rest
			s.log.Error("Rollover scan failed for timezone", "timezone", tz, "error", err)
		}
	}

	return nil
}

func (s *Scanner) rolloverTimezone(ctx context.Context, tz string, now time.Time) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}

	local := now.In(loc)
	kind := localtime.Classify(loc, local)
	window := localtime.MidnightWindow(kind)
	if !window.Contains(local) {
		return nil
	}

	date := localtime.BoundaryDate(local, window)
	metrics.Default().RecordBoundary()

	// A record for this boundary means a previous tick (or the eve's
	// widened window) already fired it
	if _, err := s.repo.GetRolloverRecord(ctx, tz, date); err == nil {
		return nil
	} else if !errors.Is(err, planner.ErrRecordNotFound) {
		return fmt.Errorf("failed to check rollover record: %w", err)
	}

	userIDs, err := s.repo.ListUsersInTimezone(ctx, tz)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if len(userIDs) == 0 {
		return nil
	}

	batches := chunkStrings(userIDs, s.cfg.RolloverBatchSize)
	dateStr := date.Format(planner.DateLayout)

	if kind != localtime.TransitionNone {
		s.log.Info("Midnight boundary on a transition day",
			"timezone", tz, "date", dateStr, "transition", kind)
	}

	for i, batch := range batches {
		payload := job.RolloverBatchPayload{
			Timezone:     tz,
			TargetDate:   dateStr,
			UserIDs:      batch,
			BatchNumber:  i + 1,
			TotalBatches: len(batches),
		}
		j, err := job.NewJobWithPayload(job.KindRolloverBatch, payload, job.PriorityNormal)
		if err != nil {
			return err
		}
		j.MaxRetries = s.cfg.MaxRetries
		j.Dedupe(fmt.Sprintf("rollover:%s:%s:%d", tz, dateStr, i+1), boundarySuppression)

		if err := s.enqueue(ctx, j); err != nil {
			return err
		}
	}

	s.log.Info("Rollover boundary fired",
		"timezone", tz,
		"date", dateStr,
		"users", len(userIDs),
		"batches", len(batches))
	return nil
}

// scanRecurrence finds series whose next occurrence has arrived in their
// owner's local calendar and enqueues one generation job per series
func (s *Scanner) scanRecurrence(ctx context.Context, now time.Time) error {
	series, err := s.repo.ListActiveSeries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active series: %w", err)
	}

	for i := range series {
		if err := s.checkSeries(ctx, &series[i], now); err != nil {
			s.log.Error("Recurrence scan failed for series",
				"series_id", series[i].ID, "error", err)
		}
	}

	return nil
}

func (s *Scanner) checkSeries(ctx context.Context, sr *planner.Series, now time.Time) error {
	loc, err := time.LoadLocation(sr.Timezone)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", sr.Timezone, err)
	}

	local := now.In(loc)
	kind := localtime.Classify(loc, local)
	window := localtime.MidnightWindow(kind)
	if !window.Contains(local) {
		return nil
	}

	today := localtime.BoundaryDate(local, window)

	if sr.EndDate != nil && today.After(planner.Date(*sr.EndDate)) {
		s.log.Info("Series past its end date, deactivating",
			"series_id", sr.ID,
			"end_date", sr.EndDate.Format(planner.DateLayout))
		return s.repo.DeactivateSeries(ctx, sr.ID)
	}

	var due time.Time
	if sr.LastGenerated == nil {
		due = planner.Date(sr.StartDate)
	} else {
		due = recurrence.NextOccurrence(planner.Date(*sr.LastGenerated), sr.Rule)
	}
	if due.After(today) {
		return nil
	}

	metrics.Default().RecordBoundary()

	dueStr := due.Format(planner.DateLayout)
	payload := job.GenerateInstancePayload{
		SeriesID:       sr.ID,
		TargetDate:     dueStr,
		InstanceNumber: sr.InstanceCount + 1,
	}
	j, err := job.NewJobWithPayload(job.KindGenerateInstance, payload, job.PriorityNormal)
	if err != nil {
		return err
	}
	j.MaxRetries = s.cfg.MaxRetries
	j.Dedupe(fmt.Sprintf("instance:%s:%s", sr.ID, dueStr), boundarySuppression)

	return s.enqueue(ctx, j)
}

// scanDigest fires one digest job per opted-in user when their local
// clock enters the digest window
func (s *Scanner) scanDigest(ctx context.Context, now time.Time) error {
	timezones, err := s.repo.ListDistinctTimezones(ctx)
	if err != nil {
		return fmt.Errorf("failed to list timezones: %w", err)
	}

	for _, tz := range s.allowedTimezones(timezones) {
		if err := s.digestTimezone(ctx, tz, now); err != nil {
			s.log.Error("Digest scan failed for timezone", "timezone", tz, "error", err)
		}
	}

	return nil
}

func (s *Scanner) digestTimezone(ctx context.Context, tz string, now time.Time) error {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("unknown timezone %q: %w", tz, err)
	}

	local := now.In(loc)
	kind := localtime.Classify(loc, local)
	window := localtime.DigestWindow(s.cfg.DigestHour, kind)
	if !window.Contains(local) {
		return nil
	}

	date := localtime.BoundaryDate(local, window)
	dateStr := date.Format(planner.DateLayout)

	userIDs, err := s.repo.ListDigestUsers(ctx, tz)
	if err != nil {
		return fmt.Errorf("failed to list digest users: %w", err)
	}

	for _, userID := range userIDs {
		payload := job.DailyDigestPayload{
			UserID:    userID,
			Timezone:  tz,
			LocalDate: dateStr,
		}
		j, err := job.NewJobWithPayload(job.KindDailyDigest, payload, job.PriorityLow)
		if err != nil {
			return err
		}
		j.MaxRetries = s.cfg.MaxRetries
		j.Dedupe(fmt.Sprintf("digest:%s:%s", userID, dateStr), boundarySuppression)

		if err := s.enqueue(ctx, j); err != nil {
			s.log.Error("Failed to enqueue digest", "user_id", userID, "error", err)
		}
	}

	return nil
}

// scanReminders fires time block reminders whose instant fell inside the
// window since the previous tick
func (s *Scanner) scanReminders(ctx context.Context, now time.Time) error {
	from := now.Add(-s.cfg.ScanInterval)

	blocks, err := s.repo.ListDueReminders(ctx, from, now)
	if err != nil {
		return fmt.Errorf("failed to list due reminders: %w", err)
	}

	for _, block := range blocks {
		payload := job.BlockReminderPayload{
			BlockID: block.ID,
			UserID:  block.UserID,
			StartAt: block.StartAt,
		}
		j, err := job.NewJobWithPayload(job.KindBlockReminder, payload, job.PriorityHigh)
		if err != nil {
			return err
		}
		j.MaxRetries = s.cfg.MaxRetries
		j.Dedupe(fmt.Sprintf("reminder:%s", block.ID), reminderSuppression)

		if err := s.enqueue(ctx, j); err != nil {
			s.log.Error("Failed to enqueue reminder", "block_id", block.ID, "error", err)
		}
	}

	return nil
}

// pumpRetries moves backoff-scheduled jobs whose slot has arrived back to
// the ready queues
func (s *Scanner) pumpRetries(ctx context.Context, _ time.Time) error {
	moved, err := s.getQueue().MoveScheduledToReady(ctx)
	if err != nil {
		return fmt.Errorf("failed to pump retries: %w", err)
	}
	if moved > 0 {
		s.log.Info("Moved scheduled jobs to ready queues", "count", moved)
	}
	return nil
}

// enqueue submits the job and records the outcome. A suppressed
// duplicate is the dedup layer doing its job, not a failure.
func (s *Scanner) enqueue(ctx context.Context, j *job.Job) error {
	accepted, err := s.getQueue().Enqueue(ctx, j)
	if err != nil {
		return err
	}
	metrics.Default().RecordEnqueued(j.Kind, accepted)
	return nil
}

// allowedTimezones filters zones through the configured allowlist
func (s *Scanner) allowedTimezones(zones []string) []string {
	if len(s.cfg.TimezoneAllowlist) == 0 {
		return zones
	}
	allowed := make(map[string]bool, len(s.cfg.TimezoneAllowlist))
	for _, tz := range s.cfg.TimezoneAllowlist {
		allowed[tz] = true
	}
	filtered := make([]string, 0, len(zones))
	for _, tz := range zones {
		if allowed[tz] {
			filtered = append(filtered, tz)
		}
	}
	return filtered
}

// chunkStrings splits ids into slices of at most size elements
func chunkStrings(ids []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
