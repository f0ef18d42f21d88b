package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
)

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Put(ctx context.Context, key offer.BatchKey, offers []offer.Offer) error {
	if offers == nil {
		offers = []offer.Offer{}
	}
	b, err := json.Marshal(offers)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, key.CacheKey(), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, key offer.BatchKey) ([]offer.Offer, error) {
	b, err := c.client.Get(ctx, key.CacheKey()).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var offers []offer.Offer
	if err := json.Unmarshal(b, &offers); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return offers, nil
}
