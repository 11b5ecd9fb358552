// Package events publishes generation lifecycle events to a Redis Stream
// for downstream consumers (analytics, billing reconciliation). Publishing
// is best-effort: a failed publish never fails the originating request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream and schema constants.
const (
	StreamEmailEvents = "emails:events"
	SchemaVersionV1   = "v1"
)

// EmailGenerated is emitted after a generation is persisted.
type EmailGenerated struct {
	EventID    string `json:"event_id"`
	UserID     string `json:"user_id"`
	EmailID    uint   `json:"email_id"`
	SearchMode string `json:"search_mode"`
	Tone       string `json:"tone"`
}

// Publisher publishes email events to Redis Streams
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher from a redis URL.
func NewPublisher(redisURL string) (*Publisher, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return &Publisher{rdb: redis.NewClient(opts)}, nil
}

// NewPublisherWithClient wraps an existing redis client (tests, shared pools).
func NewPublisherWithClient(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishEmailGenerated appends the event to the stream and returns the
// stream message id.
func (p *Publisher) PublishEmailGenerated(ctx context.Context, ev EmailGenerated) (string, error) {
	values, err := messageValues(&ev)
	if err != nil {
		return "", err
	}

	result := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamEmailEvents,
		MaxLen: 10000,
		Approx: true,
		ID:     "*",
		Values: values,
	})
	if result.Err() != nil {
		return "", fmt.Errorf("failed to publish to stream: %w", result.Err())
	}

	return result.Val(), nil
}

// messageValues builds the stream entry fields, assigning an event id when
// the caller did not set one.
func messageValues(ev *EmailGenerated) (map[string]interface{}, error) {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return map[string]interface{}{
		"payload":        string(payload),
		"published_at":   time.Now().Unix(),
		"schema_version": SchemaVersionV1,
	}, nil
}

// Close closes the Redis client connection
func (p *Publisher) Close() error {
	return p.rdb.Close()
}
