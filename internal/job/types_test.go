package job

import (
	"testing"
	"time"
)

func TestNewJob(t *testing.T) {
	j := NewJob(KindGenerateInstance, []byte(`{"series_id":"s1"}`), PriorityNormal)

	if j.ID == "" {
		t.Error("expected a generated ID")
	}
	if j.Kind != KindGenerateInstance {
		t.Errorf("expected kind %s, got %s", KindGenerateInstance, j.Kind)
	}
	if j.Status != StatusPending {
		t.Errorf("expected status pending, got %s", j.Status)
	}
	if j.MaxRetries != 3 {
		t.Errorf("expected default max retries 3, got %d", j.MaxRetries)
	}
	if j.Attempts != 0 {
		t.Errorf("expected 0 attempts, got %d", j.Attempts)
	}
}

func TestDedupe(t *testing.T) {
	j := NewJob(KindDailyDigest, nil, PriorityLow)
	j.Dedupe("digest:u1:2024-03-10", 20*time.Hour)

	if j.IdempotencyKey != "digest:u1:2024-03-10" {
		t.Errorf("unexpected idempotency key %q", j.IdempotencyKey)
	}
	if j.SuppressionWindow != 20*time.Hour {
		t.Errorf("unexpected suppression window %v", j.SuppressionWindow)
	}
}

func TestUpdateStatus(t *testing.T) {
	j := NewJob(KindRolloverBatch, nil, PriorityNormal)
	before := j.UpdatedAt

	time.Sleep(time.Millisecond)
	j.UpdateStatus(StatusProcessing)

	if j.Status != StatusProcessing {
		t.Errorf("expected status processing, got %s", j.Status)
	}
	if !j.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to advance")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := RolloverBatchPayload{
		Timezone:     "America/New_York",
		TargetDate:   "2024-03-10",
		UserIDs:      []string{"u1", "u2"},
		BatchNumber:  1,
		TotalBatches: 3,
	}

	j, err := NewJobWithPayload(KindRolloverBatch, p, PriorityNormal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got RolloverBatchPayload
	if err := j.UnmarshalPayload(&got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Timezone != p.Timezone || got.BatchNumber != p.BatchNumber || len(got.UserIDs) != 2 {
		t.Errorf("payload mismatch: %+v", got)
	}
}

func TestUnmarshalPayload_Invalid(t *testing.T) {
	j := NewJob(KindDailyDigest, []byte("not json"), PriorityLow)

	var p DailyDigestPayload
	if err := j.UnmarshalPayload(&p); err == nil {
		t.Error("expected an error for invalid payload")
	}
}
