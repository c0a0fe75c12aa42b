// Package events broadcasts engine outcomes (instances created, rollovers
// finished, digests and reminders due) so the planner's delivery surfaces
// can react without polling.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sundialhq/sundial/internal/logger"
)

// EventType identifies what happened
type EventType string

const (
	// EventInstanceCreated fires when a series materializes a new task
	EventInstanceCreated EventType = "instance_created"
	// EventRolloverCompleted fires when every batch of a timezone's
	// rollover has finished
	EventRolloverCompleted EventType = "rollover_completed"
	// EventDigestDue fires when a user's daily digest should be delivered
	EventDigestDue EventType = "digest_due"
	// EventReminderDue fires when a time block's lead time has arrived
	EventReminderDue EventType = "reminder_due"
)

// Event is the envelope published to subscribers. Subject identifies the
// affected entity (series, timezone, user, or block ID).
type Event struct {
	Type       EventType       `json:"type"`
	Subject    string          `json:"subject"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher broadcasts engine events
type Publisher interface {
	// Publish broadcasts an event and retains it as the subject's last
	// event of that type
	Publish(ctx context.Context, eventType EventType, subject string, payload interface{}) error
	// LastEvent returns the most recent retained event for the subject,
	// or nil when none is retained
	LastEvent(ctx context.Context, eventType EventType, subject string) (*Event, error)
}

// RedisPublisher implements Publisher on Redis pub/sub with a retained
// last-event hash per subject
type RedisPublisher struct {
	client    *redis.Client
	retention time.Duration
	log       logger.Logger
}

// NewRedisPublisher creates a publisher. Retained events expire after the
// given retention (24h when zero).
func NewRedisPublisher(client *redis.Client, retention time.Duration) *RedisPublisher {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisPublisher{
		client:    client,
		retention: retention,
		log:       logger.Default().WithComponent(logger.ComponentEvents),
	}
}

func eventKey(eventType EventType, subject string) string {
	return fmt.Sprintf("sundial:event:%s:%s", eventType, subject)
}

func channelName(eventType EventType) string {
	return fmt.Sprintf("sundial:events:%s", eventType)
}

// Publish broadcasts the event on its type channel and retains it keyed
// by subject. HSET + EXPIRE + PUBLISH run in one pipeline so subscribers
// notified by the publish always find the retained copy.
func (p *RedisPublisher) Publish(ctx context.Context, eventType EventType, subject string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		raw = data
	}

	event := Event{
		Type:       eventType,
		Subject:    subject,
		Payload:    raw,
		OccurredAt: time.Now().UTC(),
	}

	envelope, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	key := eventKey(eventType, subject)

	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"event":       string(envelope),
		"occurred_at": event.OccurredAt.Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, p.retention)
	pipe.Publish(ctx, channelName(eventType), envelope)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.log.Debug("Published event", "event_type", eventType, "subject", subject)
	return nil
}

// LastEvent returns the retained event for the subject, nil when absent
// or already expired
func (p *RedisPublisher) LastEvent(ctx context.Context, eventType EventType, subject string) (*Event, error) {
	data, err := p.client.HGetAll(ctx, eventKey(eventType, subject)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get retained event: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	envelope, exists := data["event"]
	if !exists {
		return nil, nil
	}

	var event Event
	if err := json.Unmarshal([]byte(envelope), &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retained event: %w", err)
	}

	return &event, nil
}

// Subscribe returns a channel of events for the given type. The returned
// close function must be called to release the subscription.
func (p *RedisPublisher) Subscribe(ctx context.Context, eventType EventType) (<-chan Event, func() error, error) {
	pubsub := p.client.Subscribe(ctx, channelName(eventType))

	// Confirm the subscription before handing out the channel
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", eventType, err)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.log.Warn("Dropping malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case out <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, pubsub.Close, nil
}

// NoOpPublisher discards all events; used when event delivery is disabled
type NoOpPublisher struct{}

// Publish discards the event
func (NoOpPublisher) Publish(context.Context, EventType, string, interface{}) error { return nil }

// LastEvent always reports no retained event
func (NoOpPublisher) LastEvent(context.Context, EventType, string) (*Event, error) {
	return nil, nil
}
