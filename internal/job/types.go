package job

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the current status of a job
type JobStatus string

const (
	// StatusPending indicates the job is waiting to be processed
	StatusPending JobStatus = "pending"
	// StatusProcessing indicates the job is currently being processed
	StatusProcessing JobStatus = "processing"
	// StatusCompleted indicates the job was successfully completed
	StatusCompleted JobStatus = "completed"
	// StatusFailed indicates the job failed and will not be retried
	StatusFailed JobStatus = "failed"
	// StatusScheduled indicates the job is waiting for a retry slot
	StatusScheduled JobStatus = "scheduled"
)

// JobPriority represents the priority level of a job
type JobPriority string

const (
	// PriorityHigh is used for time-sensitive boundaries (reminders)
	PriorityHigh JobPriority = "high"
	// PriorityNormal is used for rollover batches and instance generation
	PriorityNormal JobPriority = "normal"
	// PriorityLow is used for digests
	PriorityLow JobPriority = "low"
)

// Kinds of deferred work produced by the boundary scanner
const (
	KindRolloverBatch    = "rollover_batch"
	KindGenerateInstance = "generate_instance"
	KindDailyDigest      = "daily_digest"
	KindBlockReminder    = "block_reminder"
)

// Job is a unit of deferred work flowing through the durable queue
type Job struct {
	// ID is the unique identifier for the job
	ID string `json:"id"`
	// Kind identifies which handler processes the job
	Kind string `json:"kind"`
	// Payload contains the job-specific data in JSON format
	Payload json.RawMessage `json:"payload"`
	// Status is the current status of the job
	Status JobStatus `json:"status"`
	// Priority determines the processing order
	Priority JobPriority `json:"priority"`
	// IdempotencyKey collapses duplicate deliveries of the same logical
	// unit of work into a single effective execution (empty = no dedup)
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	// SuppressionWindow is how long after enqueue (surviving completion)
	// duplicate idempotency keys are silently dropped. Ordinary
	// at-least-once dedup only covers in-flight jobs; this covers
	// completed ones too.
	SuppressionWindow time.Duration `json:"suppression_window,omitempty"`
	// CreatedAt is when the job was created
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt is when the job was last updated
	UpdatedAt time.Time `json:"updated_at"`
	// ScheduledFor is when a retry should be attempted (nullable)
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	// Attempts is the number of times the job has been attempted
	Attempts int `json:"attempts"`
	// MaxRetries is the maximum number of retry attempts allowed
	MaxRetries int `json:"max_retries"`
	// Error contains the last failure message
	Error string `json:"error,omitempty"`
}

// NewJob creates a new pending job of the given kind.
//
// Example usage:
//
//	j := NewJob(KindDailyDigest, payload, PriorityLow)
//	j.Dedupe("digest:user-1:2024-03-10", 20*time.Hour)
func NewJob(kind string, payload []byte, priority JobPriority) *Job {
	now := time.Now()

	return &Job{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    payload,
		Status:     StatusPending,
		Priority:   priority,
		CreatedAt:  now,
		UpdatedAt:  now,
		Attempts:   0,
		MaxRetries: 3, // Default, can be overridden
	}
}

// Dedupe attaches an idempotency key and suppression window to the job
func (j *Job) Dedupe(key string, window time.Duration) *Job {
	j.IdempotencyKey = key
	j.SuppressionWindow = window
	j.UpdatedAt = time.Now()
	return j
}

// UpdateStatus updates the job's status and UpdatedAt timestamp
func (j *Job) UpdateStatus(status JobStatus) {
	j.Status = status
	j.UpdatedAt = time.Now()
}
