package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "obauth:nonce:"

// RedisStore is a Guard backed by Redis SET NX with a millisecond expiry.
// Expired keys are removed by Redis itself.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore creates a RedisStore. An empty prefix uses "obauth:nonce:".
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	if err := validate(nonce, ttl); err != nil {
		return false, err
	}

	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}

	ok, err := s.client.SetNX(ctx, s.prefix+Key(nonce), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("nonce: redis set: %w", err)
	}

	return ok, nil
}

// NewRedisClient parses a redis:// URL and returns a connected client.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("nonce: parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("nonce: redis ping: %w", err)
	}

	return client, nil
}
