package kv

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

// RedisStore is a Store backed by a Redis server.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects lazily to the server at url
// (redis://[user:pass@]host:port/db or rediss:// for TLS).
func NewRedisStore(url string, timeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if timeout > 0 {
		opts.DialTimeout = timeout
		opts.ReadTimeout = timeout
		opts.WriteTimeout = timeout
	}
	opts.MaxRetries = 0

	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func unavailable(command string, err error) error {
	if err == nil {
		return nil
	}
	return errors.NewStoreUnavailableError(command, err)
}

// Set stores value under key.
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return unavailable("SET", s.client.Set(ctx, key, value, redisTTL(ttl)).Err())
}

// SetNX stores value only if key is absent.
func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, redisTTL(ttl)).Result()
	return ok, unavailable("SETNX", err)
}

// Get returns the value for key.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("GET", err)
	}
	return value, true, nil
}

// Delete removes key.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return unavailable("DEL", s.client.Del(ctx, key).Err())
}

// Exists reports whether key is present.
func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	return n > 0, unavailable("EXISTS", err)
}

// Expire updates the ttl of key.
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		n, err := s.client.Del(ctx, key).Result()
		return n > 0, unavailable("DEL", err)
	}
	ok, err := s.client.Expire(ctx, key, redisTTL(ttl)).Result()
	return ok, unavailable("EXPIRE", err)
}

// Ping checks the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return unavailable("PING", s.client.Ping(ctx).Err())
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// redisTTL rounds sub-second ttls up so they are not sent as "no expiry".
func redisTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds(ttl)) * time.Second
}
