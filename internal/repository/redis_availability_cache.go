package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/redis/go-redis/v9"
)

const availabilityKeyPrefix = "availability:session:"

// RedisCmdable is the subset of go-redis used by the cache
type RedisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisAvailabilityCache caches availability snapshots for a short TTL
type RedisAvailabilityCache struct {
	client RedisCmdable
	ttl    time.Duration
}

// NewRedisAvailabilityCache creates a new RedisAvailabilityCache
func NewRedisAvailabilityCache(client RedisCmdable, ttl time.Duration) *RedisAvailabilityCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &RedisAvailabilityCache{client: client, ttl: ttl}
}

var _ AvailabilityCache = (*RedisAvailabilityCache)(nil)

func availabilityKey(sessionID string) string {
	return availabilityKeyPrefix + sessionID
}

// Get returns the cached snapshot, or nil on a miss
func (c *RedisAvailabilityCache) Get(ctx context.Context, sessionID string) (*domain.Availability, error) {
	raw, err := c.client.Get(ctx, availabilityKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read availability cache: %w", err)
	}

	var a domain.Availability
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("failed to decode availability cache: %w", err)
	}
	return &a, nil
}

// Set stores a snapshot
func (c *RedisAvailabilityCache) Set(ctx context.Context, a *domain.Availability) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode availability: %w", err)
	}
	if err := c.client.Set(ctx, availabilityKey(a.SessionID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write availability cache: %w", err)
	}
	return nil
}

// Invalidate drops the snapshot for a session
func (c *RedisAvailabilityCache) Invalidate(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, availabilityKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate availability cache: %w", err)
	}
	return nil
}

// NoopAvailabilityCache always misses. Used when Redis is disabled.
type NoopAvailabilityCache struct{}

func (NoopAvailabilityCache) Get(context.Context, string) (*domain.Availability, error) {
	return nil, nil
}
func (NoopAvailabilityCache) Set(context.Context, *domain.Availability) error { return nil }
func (NoopAvailabilityCache) Invalidate(context.Context, string) error        { return nil }
