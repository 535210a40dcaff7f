package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPreloadPrefix = "bridgesync:preload:"

// RedisPreloadStore persists explorer currency preloads between restarts.
type RedisPreloadStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPreloadStore(client *redis.Client, prefix string, ttl time.Duration) *RedisPreloadStore {
	if prefix == "" {
		prefix = DefaultPreloadPrefix
	}
	return &RedisPreloadStore{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisPreloadStore) LoadPreload(ctx context.Context, currencyID string) ([]byte, bool, error) {
	if r.client == nil {
		return nil, false, errNilClient
	}
	data, err := r.client.Get(ctx, r.prefix+currencyID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load preload from redis: %w", err)
	}
	return data, true, nil
}

func (r *RedisPreloadStore) SavePreload(ctx context.Context, currencyID string, data []byte) error {
	if r.client == nil {
		return errNilClient
	}
	if err := r.client.Set(ctx, r.prefix+currencyID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save preload to redis: %w", err)
	}
	return nil
}
