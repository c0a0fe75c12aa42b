package job

import (
	"encoding/json"
	"fmt"
	"time"
)

// RolloverBatchPayload carries one bounded chunk of a timezone's midnight
// rollover. The scanner pre-chunks the full user set so no single job is
// unbounded.
type RolloverBatchPayload struct {
	Timezone     string   `json:"timezone"`
	TargetDate   string   `json:"target_date"` // planner.DateLayout
	UserIDs      []string `json:"user_ids"`
	BatchNumber  int      `json:"batch_number"`
	TotalBatches int      `json:"total_batches"`
}

// GenerateInstancePayload asks the generator to materialize one occurrence
// of a series
type GenerateInstancePayload struct {
	SeriesID       string `json:"series_id"`
	TargetDate     string `json:"target_date"` // planner.DateLayout
	InstanceNumber int    `json:"instance_number"`
}

// DailyDigestPayload triggers one user's local-6AM digest
type DailyDigestPayload struct {
	UserID    string `json:"user_id"`
	Timezone  string `json:"timezone"`
	LocalDate string `json:"local_date"` // planner.DateLayout
}

// BlockReminderPayload triggers one time block's reminder
type BlockReminderPayload struct {
	BlockID string    `json:"block_id"`
	UserID  string    `json:"user_id"`
	StartAt time.Time `json:"start_at"`
}

// NewJobWithPayload marshals a typed payload and wraps it in a new job
func NewJobWithPayload(kind string, payload interface{}, priority JobPriority) (*Job, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return NewJob(kind, data, priority), nil
}

// UnmarshalPayload deserializes the job's payload into the provided type
func (j *Job) UnmarshalPayload(v interface{}) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", j.Kind, err)
	}
	return nil
}
