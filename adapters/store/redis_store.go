package store

import (
	"context"
	"errors"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"github.com/redis/go-redis/v9"
)

// RedisKV is a Redis implementation of the KV interface.
type RedisKV struct {
	client *redis.Client
	prefix string
}

// NewRedisKV creates a new Redis-backed KV store. All keys are namespaced
// under the given prefix.
func NewRedisKV(client *redis.Client, prefix string) *RedisKV {
	return &RedisKV{client: client, prefix: prefix}
}

// NewRedisKVFromURL connects to Redis from a URL and verifies the
// connection.
func NewRedisKVFromURL(ctx context.Context, redisURL, prefix string) (*RedisKV, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(options)
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, err
	}

	return NewRedisKV(client, prefix), nil
}

// Set stores a key with a value and expiration time.
func (s *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.prefix+key, value, ttl).Err(); err != nil {
		return core.ErrStoreOperationFailed
	}
	return nil
}

// Get retrieves a value by key.
func (s *RedisKV) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", core.ErrNotFound
		}
		return "", core.ErrStoreOperationFailed
	}
	return value, nil
}

// Delete removes a key.
func (s *RedisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return core.ErrStoreOperationFailed
	}
	return nil
}

// Client returns the underlying Redis client, shared with the Watermill
// publisher in the backend wiring.
func (s *RedisKV) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisKV) Close() error {
	return s.client.Close()
}

var _ ports.KV = (*RedisKV)(nil)
