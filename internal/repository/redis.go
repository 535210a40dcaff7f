package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bridgesync/internal/config"
	"bridgesync/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultStatesKey      = "bridgesync:sync_states"
	DefaultThrottlePrefix = "bridgesync:analytics_throttle:"
)

var errNilClient = errors.New("redis client is nil")

// RedisStateRepository keeps one JSON encoded sync state per account in a hash.
type RedisStateRepository struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisClient builds a client from the redis section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// NewRedisStateRepository stores states under key. A positive ttl expires the
// whole hash when no transition happened for that long.
func NewRedisStateRepository(client *redis.Client, key string, ttl time.Duration) *RedisStateRepository {
	if key == "" {
		key = DefaultStatesKey
	}
	return &RedisStateRepository{
		client: client,
		key:    key,
		ttl:    ttl,
	}
}

func (r *RedisStateRepository) GetState(ctx context.Context, accountID string) (*models.SyncStateView, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	val, err := r.client.HGet(ctx, r.key, accountID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state from redis: %w", err)
	}

	var state models.SyncStateView
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync state: %w", err)
	}
	return &state, nil
}

func (r *RedisStateRepository) SetState(ctx context.Context, accountID string, state models.SyncStateView) error {
	if r.client == nil {
		return errNilClient
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.key, accountID, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set sync state in redis: %w", err)
	}
	return nil
}

func (r *RedisStateRepository) ListStates(ctx context.Context) (map[string]models.SyncStateView, error) {
	if r.client == nil {
		return nil, errNilClient
	}
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sync states from redis: %w", err)
	}

	out := make(map[string]models.SyncStateView, len(raw))
	for id, val := range raw {
		var state models.SyncStateView
		if err := json.Unmarshal([]byte(val), &state); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync state %s: %w", id, err)
		}
		out[id] = state
	}
	return out, nil
}

// RedisThrottleStore shares the analytics throttle across processes. The
// window is enforced by key expiry, so the stamp uses the Redis clock.
type RedisThrottleStore struct {
	client *redis.Client
	prefix string
}

func NewRedisThrottleStore(client *redis.Client, prefix string) *RedisThrottleStore {
	if prefix == "" {
		prefix = DefaultThrottlePrefix
	}
	return &RedisThrottleStore{client: client, prefix: prefix}
}

func (r *RedisThrottleStore) Mark(ctx context.Context, accountID string, now time.Time, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, errNilClient
	}
	stamped, err := r.client.SetNX(ctx, r.prefix+accountID, strconv.FormatInt(now.UnixMilli(), 10), window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark analytics throttle: %w", err)
	}
	return !stamped, nil
}

// Ping checks the connection.
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes client when set.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
