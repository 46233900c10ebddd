// Package realtime delivers signaling events to per-user publish/subscribe
// channels over Redis. Delivery is fire-and-forget: the call service treats
// the committed state transition as the source of truth and these events as
// best-effort signals to connected clients. Failures here are logged by the
// caller, never fatal.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned by Publish when the publisher was built
// without a Redis address. The service logs and swallows it like any other
// delivery failure.
var ErrNotConfigured = errors.New("realtime publisher not configured")

// Event is the wire envelope pushed to a user channel. Subscribers dispatch
// on Name and decode Payload per event.
type Event struct {
	Name    string    `json:"event"`
	Payload any       `json:"payload"`
	SentAt  time.Time `json:"sent_at"`
}

// ChannelFor returns the Redis pub/sub channel carrying events for a user.
// Clients subscribe to their own channel after connecting.
func ChannelFor(userID string) string {
	return "rt:user:" + userID
}

// RedisPublisher publishes events to per-user Redis channels. The zero value
// is unusable; use NewRedisPublisher.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects a publisher to the Redis instance at addr and
// verifies the connection with a ping. An empty addr yields an unconfigured
// publisher whose Publish always fails softly with ErrNotConfigured.
func NewRedisPublisher(ctx context.Context, addr string) (*RedisPublisher, error) {
	if addr == "" {
		return &RedisPublisher{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client}, nil
}

// Publish sends a named event to userID's channel. Events published
// sequentially to the same channel are delivered in order by Redis, which is
// the ordering guarantee the call service relies on.
func (p *RedisPublisher) Publish(ctx context.Context, userID, event string, payload any) error {
	if p.client == nil {
		return ErrNotConfigured
	}

	body, err := json.Marshal(Event{Name: event, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode event %q: %w", event, err)
	}
	if err := p.client.Publish(ctx, ChannelFor(userID), body).Err(); err != nil {
		return fmt.Errorf("publish %q to %s: %w", event, ChannelFor(userID), err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *RedisPublisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
