// Package dedup keeps processed billing-event markers in Redis. Each marker
// expires after the retention window, so no janitor is needed.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"copyforge/internal/types"
)

const defaultKeyPrefix = "copyforge:billing-event"

// NewRedisClient parses url, connects and pings with a 5s budget.
func NewRedisClient(ctx context.Context, url types.SecretString) (*redis.Client, error) {
	opts, err := redis.ParseURL(url.Unmask())
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// RedisEventLog implements the reconciler's EventLog with SET NX.
type RedisEventLog struct {
	client    *redis.Client
	retention time.Duration
	prefix    string
}

// NewRedisEventLog creates an event log whose markers live for retention.
func NewRedisEventLog(client *redis.Client, retention time.Duration) *RedisEventLog {
	return &RedisEventLog{client: client, retention: retention, prefix: defaultKeyPrefix}
}

func (l *RedisEventLog) key(eventID string) string {
	return l.prefix + ":" + eventID
}

// Claim records eventID as processed. It reports false when the marker
// already exists, meaning another delivery got there first.
func (l *RedisEventLog) Claim(ctx context.Context, eventID, eventType string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(eventID), eventType, l.retention).Result()
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to claim billing event", err)
	}
	return ok, nil
}

// Release deletes the marker so a redelivery can apply the event again.
func (l *RedisEventLog) Release(ctx context.Context, eventID string) error {
	if err := l.client.Del(ctx, l.key(eventID)).Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release billing event", err)
	}
	return nil
}

// Ping backs the /health probe.
func (l *RedisEventLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
