// Package queue provides the Redis-backed matchmaking queue.
package queue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	iqueue "github.com/tinywideclouds/go-presence-service/internal/queue"
)

const readySetKey = "matchqueue:ready"

// redisClient defines the interface we need from go-redis.
type redisClient interface {
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
}

// RedisMatchQueue implements queue.MatchQueue on a single Redis set. Set
// semantics make Join and Leave naturally idempotent, and membership is
// shared across gateway instances.
type RedisMatchQueue struct {
	client redisClient
	logger zerolog.Logger
}

// NewRedisMatchQueue is the constructor for the RedisMatchQueue.
func NewRedisMatchQueue(client redisClient, logger zerolog.Logger) (iqueue.MatchQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisMatchQueue{
		client: client,
		logger: logger.With().Str("component", "RedisMatchQueue").Logger(),
	}, nil
}

// Join adds the user to the ready set.
func (q *RedisMatchQueue) Join(ctx context.Context, userID string) error {
	if err := q.client.SAdd(ctx, readySetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to add user to match queue: %w", err)
	}
	q.logger.Debug().Str("user", userID).Msg("User added to ready set")
	return nil
}

// Leave removes the user from the ready set. Removing a non-member is a
// no-op.
func (q *RedisMatchQueue) Leave(ctx context.Context, userID string) error {
	if err := q.client.SRem(ctx, readySetKey, userID).Err(); err != nil {
		return fmt.Errorf("failed to remove user from match queue: %w", err)
	}
	q.logger.Debug().Str("user", userID).Msg("User removed from ready set")
	return nil
}

// Contains reports whether the user is in the ready set.
func (q *RedisMatchQueue) Contains(ctx context.Context, userID string) (bool, error) {
	ok, err := q.client.SIsMember(ctx, readySetKey, userID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check match queue membership: %w", err)
	}
	return ok, nil
}

// Size returns the number of queued users.
func (q *RedisMatchQueue) Size(ctx context.Context) (int64, error) {
	n, err := q.client.SCard(ctx, readySetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read match queue size: %w", err)
	}
	return n, nil
}
