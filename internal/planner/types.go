// Package planner defines the scheduling engine's domain model: recurring
// series, generated task instances, rollover accounting records, and the
// repository interface backing them.
package planner

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates
const DateLayout = "2006-01-02"

// Date truncates t to a calendar date (midnight UTC). All date arithmetic
// in the engine happens on these normalized values; wall-clock conversion
// is the scanner's job.
func Date(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date in DateLayout
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// RuleKind identifies one of the six recurrence rule families
type RuleKind string

const (
	RuleDaily          RuleKind = "daily"
	RuleWeekdays       RuleKind = "weekdays"
	RuleWeekly         RuleKind = "weekly"
	RuleMonthlyDate    RuleKind = "monthly_date"
	RuleMonthlyWeekday RuleKind = "monthly_weekday"
	RuleYearly         RuleKind = "yearly"
)

// LastWeekOfMonth is the WeekOfMonth value meaning "last occurrence"
const LastWeekOfMonth = 5

// RecurrenceRule describes a repeating template. Exactly one of
// {DaysOfWeek, DayOfMonth, (WeekOfMonth, Weekday)} is populated,
// matching Kind.
type RecurrenceRule struct {
	// Kind selects the rule family
	Kind RuleKind `json:"kind"`
	// Interval is the "every Nth occurrence" multiplier (>= 1).
	// Not applicable to the weekdays family.
	Interval int `json:"interval"`
	// DaysOfWeek is the weekday set for weekly rules
	DaysOfWeek []time.Weekday `json:"days_of_week,omitempty"`
	// DayOfMonth (1-31) for monthly_date rules; clamped to the last
	// valid day of short months
	DayOfMonth int `json:"day_of_month,omitempty"`
	// WeekOfMonth (1-5, 5 = last) with Weekday for monthly_weekday rules
	WeekOfMonth int          `json:"week_of_month,omitempty"`
	Weekday     time.Weekday `json:"weekday,omitempty"`
}

// Series is a recurrence template from which dated task instances are
// generated. Mutated only by the generator (LastGenerated advance) and by
// end-date deactivation.
type Series struct {
	ID            string
	UserID        string
	Timezone      string // Owner's IANA zone; drives "today" for due checks
	Title         string
	Rule          RecurrenceRule
	StartDate     time.Time
	EndDate       *time.Time
	LastGenerated *time.Time
	InstanceCount int // Instances generated so far; next instance is InstanceCount+1
	Active        bool
}

// TaskInstance is a concrete, schedulable unit produced from a series for
// one calendar date. At most one instance exists per (SeriesID,
// ScheduledDate) pair; that pair is the idempotency boundary.
type TaskInstance struct {
	ID             string
	SeriesID       string
	UserID         string
	Title          string
	ScheduledDate  time.Time
	InstanceNumber int
	CreatedAt      time.Time
}

// RolloverStatus is the aggregate outcome of a midnight boundary
type RolloverStatus string

const (
	RolloverRunning   RolloverStatus = "running"
	RolloverCompleted RolloverStatus = "completed"
	RolloverPartial   RolloverStatus = "partial"
	RolloverFailed    RolloverStatus = "failed"
)

// RolloverRecord accumulates per-boundary accounting across all batches
// for one (Timezone, Date) midnight. Created on the first batch, merged
// additively by subsequent batches. Its existence is the dedupe mechanism
// preventing a boundary from being processed twice across restarts.
type RolloverRecord struct {
	Timezone        string
	Date            time.Time
	UsersProcessed  int
	TasksRolledOver int64
	DurationMs      int64
	BatchesDone     int
	TotalBatches    int
	Status          RolloverStatus
	LastError       string
}

// RolloverDelta is one batch's additive contribution to a RolloverRecord
type RolloverDelta struct {
	UsersProcessed  int
	TasksRolledOver int64
	DurationMs      int64
	BatchesDone     int
	TotalBatches    int
	Err             string
}

// BoundaryKind identifies the local-time threshold a scan detected
type BoundaryKind string

const (
	BoundaryMidnight BoundaryKind = "midnight"
	BoundaryDigest   BoundaryKind = "digest"
	BoundaryReminder BoundaryKind = "reminder"
)

// BoundaryEvent is an ephemeral value produced by the scanner for one
// detected threshold crossing. Never persisted; lives for one tick.
type BoundaryEvent struct {
	Timezone  string
	LocalDate time.Time
	LocalTime time.Time
	Kind      BoundaryKind
}

// TimeBlock is a scheduled block of time carrying an optional reminder
// offset. The scanner fires one reminder job per block when
// StartAt-ReminderOffset falls inside the current scan window.
type TimeBlock struct {
	ID             string
	UserID         string
	Title          string
	StartAt        time.Time // UTC instant
	ReminderOffset time.Duration
	RemindedAt     *time.Time
}

// RemindAt returns the instant at which the block's reminder is due
func (b TimeBlock) RemindAt() time.Time {
	return b.StartAt.Add(-b.ReminderOffset)
}
