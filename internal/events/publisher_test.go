package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupPublisher(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisPublisher(client, time.Hour), mr
}

func TestPublish_RetainsLastEvent(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	ctx := context.Background()

	payload := map[string]string{"series_id": "s1", "scheduled_date": "2024-03-10"}
	if err := p.Publish(ctx, EventInstanceCreated, "s1", payload); err != nil {
		t.Fatalf("publish: %v", err)
	}

	event, err := p.LastEvent(ctx, EventInstanceCreated, "s1")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if event == nil {
		t.Fatal("expected a retained event")
	}
	if event.Type != EventInstanceCreated {
		t.Errorf("expected type %s, got %s", EventInstanceCreated, event.Type)
	}
	if event.Subject != "s1" {
		t.Errorf("expected subject s1, got %s", event.Subject)
	}

	var decoded map[string]string
	if err := json.Unmarshal(event.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["scheduled_date"] != "2024-03-10" {
		t.Errorf("expected payload to round-trip, got %v", decoded)
	}
}

func TestPublish_LatestWins(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	ctx := context.Background()

	p.Publish(ctx, EventRolloverCompleted, "America/New_York", map[string]int{"tasks": 3})
	p.Publish(ctx, EventRolloverCompleted, "America/New_York", map[string]int{"tasks": 9})

	event, err := p.LastEvent(ctx, EventRolloverCompleted, "America/New_York")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if event == nil {
		t.Fatal("expected a retained event")
	}

	var decoded map[string]int
	json.Unmarshal(event.Payload, &decoded)
	if decoded["tasks"] != 9 {
		t.Errorf("expected the latest event to win, got tasks=%d", decoded["tasks"])
	}
}

func TestLastEvent_Missing(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	event, err := p.LastEvent(context.Background(), EventDigestDue, "nobody")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if event != nil {
		t.Error("expected nil for a subject with no events")
	}
}

func TestLastEvent_Expires(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	ctx := context.Background()
	if err := p.Publish(ctx, EventReminderDue, "b1", nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	event, err := p.LastEvent(ctx, EventReminderDue, "b1")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if event != nil {
		t.Error("expected retained event to expire")
	}
}

func TestPublish_SubjectsIsolated(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	ctx := context.Background()
	p.Publish(ctx, EventDigestDue, "u1", nil)

	event, _ := p.LastEvent(ctx, EventDigestDue, "u2")
	if event != nil {
		t.Error("expected no retained event for a different subject")
	}
}

func TestSubscribe_ReceivesPublished(t *testing.T) {
	p, mr := setupPublisher(t)
	defer mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, closeSub, err := p.Subscribe(ctx, EventInstanceCreated)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer closeSub()

	if err := p.Publish(ctx, EventInstanceCreated, "s1", map[string]string{"date": "2024-03-10"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case event := <-events:
		if event.Type != EventInstanceCreated || event.Subject != "s1" {
			t.Errorf("unexpected event: %+v", event)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for the event")
	}
}

func TestNoOpPublisher(t *testing.T) {
	var p Publisher = NoOpPublisher{}

	if err := p.Publish(context.Background(), EventInstanceCreated, "s1", nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	event, err := p.LastEvent(context.Background(), EventInstanceCreated, "s1")
	if err != nil || event != nil {
		t.Errorf("expected (nil, nil), got (%v, %v)", event, err)
	}
}
