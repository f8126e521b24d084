package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"evcsms/backend/services/charging-control-service/internal/pricing"
)

// TariffCache keeps resolved point rates in Redis.
type TariffCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTariffCache returns redis-backed cache.
func NewTariffCache(client *redis.Client, ttl time.Duration) *TariffCache {
	return &TariffCache{client: client, ttl: ttl}
}

func (c *TariffCache) key(pointID string) string {
	return fmt.Sprintf("charging:tariff:%s", pointID)
}

// Get returns the cached rate; ok is false on a miss.
func (c *TariffCache) Get(ctx context.Context, pointID string) (pricing.Rate, bool, error) {
	result, err := c.client.Get(ctx, c.key(pointID)).Result()
	if errors.Is(err, redis.Nil) {
		return pricing.Rate{}, false, nil
	}
	if err != nil {
		return pricing.Rate{}, false, err
	}
	var rate pricing.Rate
	if err := json.Unmarshal([]byte(result), &rate); err != nil {
		return pricing.Rate{}, false, err
	}
	return rate, true, nil
}

// Set caches rate for the configured ttl.
func (c *TariffCache) Set(ctx context.Context, pointID string, rate pricing.Rate) error {
	data, err := json.Marshal(rate)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(pointID), data, c.ttl).Err()
}

