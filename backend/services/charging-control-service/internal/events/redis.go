package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on Redis Pub/Sub channels named prefix + event type.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher returns publisher.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "charging:events:"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.prefix+evt.Type, body).Err()
}
