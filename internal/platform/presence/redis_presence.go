// Package presence provides the Redis-backed presence cache.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	wire "github.com/tinywideclouds/go-presence-service/pkg/presence"
)

// defaultTTL keeps entries a little past two of the slowest heartbeat
// intervals, so a missed beat does not flap presence.
const defaultTTL = 2 * time.Minute

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisPresenceCache stores one JSON ConnectionInfo entry per connected
// user, with a TTL refreshed on every heartbeat. Entries for crashed
// gateways therefore age out on their own.
type RedisPresenceCache struct {
	client redisClient
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisPresenceCache is the constructor for the RedisPresenceCache.
// A non-positive ttl uses the default.
func NewRedisPresenceCache(client redisClient, ttl time.Duration, logger zerolog.Logger) (*RedisPresenceCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisPresenceCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "RedisPresenceCache").Logger(),
	}, nil
}

func presenceKey(userID string) string { return fmt.Sprintf("presence:%s", userID) }

// Set records (or refreshes) the user's presence entry.
func (c *RedisPresenceCache) Set(ctx context.Context, userID string, info wire.ConnectionInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal presence entry: %w", err)
	}
	if err := c.client.Set(ctx, presenceKey(userID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write presence entry: %w", err)
	}
	return nil
}

// Fetch returns the user's presence entry, or nil when the user is offline.
func (c *RedisPresenceCache) Fetch(ctx context.Context, userID string) (*wire.ConnectionInfo, error) {
	payload, err := c.client.Get(ctx, presenceKey(userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read presence entry: %w", err)
	}
	var info wire.ConnectionInfo
	if err := json.Unmarshal([]byte(payload), &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal presence entry: %w", err)
	}
	return &info, nil
}

// Delete removes the user's presence entry.
func (c *RedisPresenceCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete presence entry: %w", err)
	}
	return nil
}
