package rollover

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "github.com/sundialhq/sundial/internal/errors"
	"github.com/sundialhq/sundial/internal/events"
	"github.com/sundialhq/sundial/internal/job"
	"github.com/sundialhq/sundial/internal/planner"
)

// rollRepo simulates the additive record merge the real store performs
type rollRepo struct {
	planner.Repository

	rollErr    error
	rolled     int64
	rolledFor  [][]string
	record     planner.RolloverRecord
	upsertErr  error
	upsertSeen []planner.RolloverDelta
}

func (r *rollRepo) BulkRolloverTasks(ctx context.Context, userIDs []string, target time.Time) (int64, error) {
	if r.rollErr != nil {
		return 0, r.rollErr
	}
	r.rolledFor = append(r.rolledFor, userIDs)
	return r.rolled, nil
}

func (r *rollRepo) UpsertRolloverRecord(ctx context.Context, tz string, date time.Time, delta planner.RolloverDelta) (*planner.RolloverRecord, error) {
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}
	r.upsertSeen = append(r.upsertSeen, delta)

	r.record.Timezone = tz
	r.record.Date = date
	r.record.UsersProcessed += delta.UsersProcessed
	r.record.TasksRolledOver += delta.TasksRolledOver
	r.record.DurationMs += delta.DurationMs
	r.record.BatchesDone += delta.BatchesDone
	r.record.TotalBatches = delta.TotalBatches
	if delta.Err != "" {
		r.record.LastError = delta.Err
	}
	switch {
	case r.record.LastError != "" && r.record.BatchesDone >= r.record.TotalBatches:
		r.record.Status = planner.RolloverPartial
	case r.record.BatchesDone >= r.record.TotalBatches:
		r.record.Status = planner.RolloverCompleted
	default:
		r.record.Status = planner.RolloverRunning
	}

	rec := r.record
	return &rec, nil
}

type capturePublisher struct {
	published []events.EventType
	payloads  []interface{}
}

func (p *capturePublisher) Publish(ctx context.Context, t events.EventType, subject string, payload interface{}) error {
	p.published = append(p.published, t)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *capturePublisher) LastEvent(ctx context.Context, t events.EventType, subject string) (*events.Event, error) {
	return nil, nil
}

func batchJob(t *testing.T, batch, total int, users ...string) *job.Job {
	t.Helper()
	j, err := job.NewJobWithPayload(job.KindRolloverBatch, job.RolloverBatchPayload{
		Timezone:     "America/New_York",
		TargetDate:   "2024-01-15",
		UserIDs:      users,
		BatchNumber:  batch,
		TotalBatches: total,
	}, job.PriorityNormal)
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	return j
}

func TestHandle_SingleBatchCompletes(t *testing.T) {
	repo := &rollRepo{rolled: 7}
	pub := &capturePublisher{}
	p := New(repo, pub)

	err := p.Handle(context.Background(), batchJob(t, 1, 1, "u1", "u2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.rolledFor) != 1 || len(repo.rolledFor[0]) != 2 {
		t.Errorf("expected one bulk call for 2 users, got %v", repo.rolledFor)
	}

	if len(repo.upsertSeen) != 1 {
		t.Fatalf("expected 1 record upsert, got %d", len(repo.upsertSeen))
	}
	delta := repo.upsertSeen[0]
	if delta.UsersProcessed != 2 || delta.TasksRolledOver != 7 || delta.BatchesDone != 1 {
		t.Errorf("unexpected delta: %+v", delta)
	}

	if len(pub.published) != 1 || pub.published[0] != events.EventRolloverCompleted {
		t.Errorf("expected one completion event, got %v", pub.published)
	}
	rec, ok := pub.payloads[0].(*planner.RolloverRecord)
	if !ok {
		t.Fatalf("expected record payload, got %T", pub.payloads[0])
	}
	if rec.Status != planner.RolloverCompleted {
		t.Errorf("expected completed status, got %s", rec.Status)
	}
}

func TestHandle_MultiBatchAccumulates(t *testing.T) {
	repo := &rollRepo{rolled: 3}
	pub := &capturePublisher{}
	p := New(repo, pub)

	if err := p.Handle(context.Background(), batchJob(t, 1, 3, "u1")); err != nil {
		t.Fatalf("batch 1: %v", err)
	}
	if err := p.Handle(context.Background(), batchJob(t, 2, 3, "u2")); err != nil {
		t.Fatalf("batch 2: %v", err)
	}

	// No completion event until the last batch lands
	if len(pub.published) != 0 {
		t.Fatalf("expected no event after 2 of 3 batches, got %v", pub.published)
	}

	if err := p.Handle(context.Background(), batchJob(t, 3, 3, "u3")); err != nil {
		t.Fatalf("batch 3: %v", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("expected completion event after the last batch, got %d", len(pub.published))
	}
	rec := pub.payloads[0].(*planner.RolloverRecord)
	if rec.UsersProcessed != 3 {
		t.Errorf("expected 3 users accumulated, got %d", rec.UsersProcessed)
	}
	if rec.TasksRolledOver != 9 {
		t.Errorf("expected 9 tasks accumulated, got %d", rec.TasksRolledOver)
	}
}

func TestHandle_FailureRecordedAndRetryable(t *testing.T) {
	repo := &rollRepo{rollErr: errors.New("deadlock detected")}
	pub := &capturePublisher{}
	p := New(repo, pub)

	err := p.Handle(context.Background(), batchJob(t, 1, 2, "u1"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if errs.IsTerminal(err) {
		t.Error("expected bulk failure to be retryable")
	}

	if len(repo.upsertSeen) != 1 {
		t.Fatalf("expected the failure recorded, got %d upserts", len(repo.upsertSeen))
	}
	if repo.upsertSeen[0].Err == "" {
		t.Error("expected the delta to carry the error message")
	}
	if repo.upsertSeen[0].BatchesDone != 0 {
		t.Error("a failed batch must not count toward completion")
	}
	if len(pub.published) != 0 {
		t.Error("expected no event for a failed batch")
	}
}

func TestHandle_BadPayloadIsTerminal(t *testing.T) {
	p := New(&rollRepo{}, events.NoOpPublisher{})

	j := job.NewJob(job.KindRolloverBatch, []byte(`{broken`), job.PriorityNormal)
	if err := p.Handle(context.Background(), j); !errs.IsTerminal(err) {
		t.Errorf("expected terminal error for malformed payload, got %v", err)
	}

	if err := p.Handle(context.Background(), batchJob(t, 1, 1)); !errs.IsTerminal(err) {
		t.Errorf("expected terminal error for an empty batch, got %v", err)
	}
}

func TestHandle_RecordErrorIsRetryable(t *testing.T) {
	repo := &rollRepo{rolled: 1, upsertErr: errors.New("connection lost")}
	p := New(repo, events.NoOpPublisher{})

	err := p.Handle(context.Background(), batchJob(t, 1, 1, "u1"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if errs.IsTerminal(err) {
		t.Error("expected a retryable error, got terminal")
	}
}
