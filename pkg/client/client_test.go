package client

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/sundialhq/sundial/internal/job"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestTriggerRollover(t *testing.T) {
	c, mr := setupTestClient(t)
	defer mr.Close()
	ctx := context.Background()

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	id, err := c.TriggerRollover(ctx, "America/New_York", date, []string{"u1", "u2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == "" {
		t.Fatal("expected a job ID")
	}

	j, err := c.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("failed to fetch job: %v", err)
	}
	if j.Kind != job.KindRolloverBatch {
		t.Errorf("expected rollover_batch, got %s", j.Kind)
	}

	var p job.RolloverBatchPayload
	if err := j.UnmarshalPayload(&p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Timezone != "America/New_York" || p.TargetDate != "2024-01-15" {
		t.Errorf("unexpected payload: %+v", p)
	}
	if len(p.UserIDs) != 2 {
		t.Errorf("expected 2 users, got %d", len(p.UserIDs))
	}
}

func TestTriggerRollover_DuplicateSuppressed(t *testing.T) {
	c, mr := setupTestClient(t)
	defer mr.Close()
	ctx := context.Background()

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	first, err := c.TriggerRollover(ctx, "UTC", date, []string{"u1"})
	if err != nil || first == "" {
		t.Fatalf("first trigger failed: id=%q err=%v", first, err)
	}

	second, err := c.TriggerRollover(ctx, "UTC", date, []string{"u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != "" {
		t.Errorf("expected duplicate trigger suppressed, got job %s", second)
	}
}

func TestTriggerGeneration(t *testing.T) {
	c, mr := setupTestClient(t)
	defer mr.Close()
	ctx := context.Background()

	date := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	id, err := c.TriggerGeneration(ctx, "series-1", date, 7)
	if err != nil || id == "" {
		t.Fatalf("trigger failed: id=%q err=%v", id, err)
	}

	j, _ := c.GetJob(ctx, id)
	var p job.GenerateInstancePayload
	if err := j.UnmarshalPayload(&p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.SeriesID != "series-1" || p.TargetDate != "2024-03-10" || p.InstanceNumber != 7 {
		t.Errorf("unexpected payload: %+v", p)
	}
}

func TestTriggerDigest(t *testing.T) {
	c, mr := setupTestClient(t)
	defer mr.Close()
	ctx := context.Background()

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	id, err := c.TriggerDigest(ctx, "u1", "Europe/Berlin", date)
	if err != nil || id == "" {
		t.Fatalf("trigger failed: id=%q err=%v", id, err)
	}

	j, _ := c.GetJob(ctx, id)
	if j.Priority != job.PriorityLow {
		t.Errorf("expected low priority, got %s", j.Priority)
	}
}

func TestLastRollover_NoneRetained(t *testing.T) {
	c, mr := setupTestClient(t)
	defer mr.Close()

	ev, err := c.LastRollover(context.Background(), "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected no retained event, got %+v", ev)
	}
}

func TestNew_InvalidURL(t *testing.T) {
	if _, err := New("not-a-url"); err == nil {
		t.Error("expected an error for a malformed Redis URL")
	}
}
