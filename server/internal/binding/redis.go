package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the subset of go-redis used by RedisStore.
type redisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps bindings as plain string keys. Keys never expire.
type RedisStore struct {
	client redisClient
	prefix string
	logger *slog.Logger
}

// NewRedisStore creates a RedisStore that namespaces keys with prefix.
func NewRedisStore(client redisClient, prefix string, logger *slog.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger.With("component", "redis_binding_store"),
	}, nil
}

// Bind stores or replaces the binding for identity.
func (s *RedisStore) Bind(ctx context.Context, identity, connID string) error {
	if err := ValidateIdentity(identity); err != nil {
		return err
	}
	key := s.key(identity)
	if err := s.client.Set(ctx, key, connID, 0).Err(); err != nil {
		s.logger.Error("binding: redis set failed", "key", key, "err", err)
		return unavailable("set "+key, err)
	}
	s.logger.Debug("binding: bound", "key", key, "conn", connID)
	return nil
}

// Resolve returns the connection id bound to identity.
func (s *RedisStore) Resolve(ctx context.Context, identity string) (string, error) {
	key := s.key(identity)
	connID, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		s.logger.Error("binding: redis get failed", "key", key, "err", err)
		return "", unavailable("get "+key, err)
	}
	return connID, nil
}

// Unbind deletes the binding for identity.
func (s *RedisStore) Unbind(ctx context.Context, identity string) error {
	key := s.key(identity)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("binding: redis del failed", "key", key, "err", err)
		return unavailable("del "+key, err)
	}
	return nil
}

func (s *RedisStore) key(identity string) string { return s.prefix + identity }
