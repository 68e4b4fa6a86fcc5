package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultEventTTL is how long processed webhook event ids are remembered.
const DefaultEventTTL = 72 * time.Hour

// RedisStore wraps a redis client. It remembers which provider webhook
// events were already applied so redeliveries can be acknowledged early.
type RedisStore struct {
	Client *redis.Client
	TTL    time.Duration
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string, ttl time.Duration) (*RedisStore, error) {
	rs := NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}), ttl)

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// NewRedisStore wraps an existing client. A zero ttl uses DefaultEventTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultEventTTL
	}
	return &RedisStore{Client: client, TTL: ttl}
}

func eventKey(eventID string) string {
	return "webhook:event:" + eventID
}

// IsEventProcessed reports whether the event id was marked processed.
func (r *RedisStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	err := r.Client.Get(ctx, eventKey(eventID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get event marker: %w", err)
	}
	return true, nil
}

// MarkEventProcessed records the event id. Marking twice is a no-op.
func (r *RedisStore) MarkEventProcessed(ctx context.Context, eventID string) error {
	if err := r.Client.SetNX(ctx, eventKey(eventID), time.Now().UTC().Unix(), r.TTL).Err(); err != nil {
		return fmt.Errorf("set event marker: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}
