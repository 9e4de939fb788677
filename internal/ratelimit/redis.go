// Package ratelimit provides a Redis fixed-window counter for the HTTP rate
// limit middleware.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"copyforge/internal/core"
)

const defaultPrefix = "copyforge:ratelimit"

// RedisStore implements core.RateLimitStore. Windows are aligned to the
// clock, so every instance counts into the same key.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store using client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: defaultPrefix, now: time.Now}
}

// IncrementAndCheck counts one request against key for the current window.
// A store error is returned to the caller, which fails open.
func (s *RedisStore) IncrementAndCheck(ctx context.Context, key string, limit int, window time.Duration) (core.RateLimitResult, error) {
	if window <= 0 {
		return core.RateLimitResult{}, fmt.Errorf("rate limit window must be positive, got %s", window)
	}

	now := s.now()
	start := now.Truncate(window)
	resetAt := start.Add(window)
	redisKey := s.prefix + ":" + key + ":" + strconv.FormatInt(start.Unix(), 10)

	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	// One extra second covers clock skew between instances.
	pipe.ExpireAt(ctx, redisKey, resetAt.Add(time.Second))
	if _, err := pipe.Exec(ctx); err != nil {
		return core.RateLimitResult{}, fmt.Errorf("redis rate limit: %w", err)
	}

	count := int(incr.Val())
	return core.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: max(limit-count, 0),
		ResetAt:   resetAt,
	}, nil
}
