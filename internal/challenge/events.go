package challenge

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// eventsChannel is the Redis pub/sub channel lifecycle transitions are
// mirrored to for external consumers (dashboards, analytics).
const eventsChannel = "challenge_events"

// EventPublisher mirrors challenge lifecycle transitions to Redis. It is
// strictly best-effort: a nil client or a failed publish never affects the
// transition that triggered it.
type EventPublisher struct {
	rdb *redis.Client
}

// NewEventPublisher creates a publisher; rdb may be nil when Redis is not configured
func NewEventPublisher(rdb *redis.Client) *EventPublisher {
	return &EventPublisher{rdb: rdb}
}

// Publish sends a JSON event on the challenge_events channel
func (p *EventPublisher) Publish(ctx context.Context, event string, fields map[string]interface{}) {
	if p == nil || p.rdb == nil {
		return
	}

	payload := map[string]interface{}{"type": event}
	for k, v := range fields {
		payload[k] = v
	}

	b, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[EVENTS] Failed to marshal %s event: %v", event, err)
		return
	}
	if err := p.rdb.Publish(ctx, eventsChannel, b).Err(); err != nil {
		log.Printf("[EVENTS] Publish %s failed: %v", event, err)
	}
}
