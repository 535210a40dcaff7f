// Package analytics delivers sync completion events to logs and Redis.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bridgesync/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	DefaultListKey = "analytics:events"

	pushTimeout   = 2 * time.Second
	localCapacity = 256
)

// Event is the record pushed to the analytics list.
type Event struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
	Time       time.Time      `json:"time"`
}

// LogTracker writes each event as a structured log line.
type LogTracker struct {
	logger zerolog.Logger
}

func NewLogTracker(logger *zerolog.Logger) *LogTracker {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "analytics").Logger()
	}
	return &LogTracker{logger: l}
}

func (t *LogTracker) Track(event string, props map[string]any) {
	t.logger.Info().Str("event", event).Fields(props).Msg("analytics event")
}

// RedisTracker LPUSHes JSON events onto a list consumed by an external
// shipper. Events that cannot be pushed wait in a bounded local buffer and
// go out ahead of the next successful push.
type RedisTracker struct {
	client *redis.Client
	key    string
	local  chan Event
	now    func() time.Time
	logger zerolog.Logger
}

func NewRedisTracker(client *redis.Client, key string, logger *zerolog.Logger) *RedisTracker {
	if key == "" {
		key = DefaultListKey
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "analytics_redis").Logger()
	}
	return &RedisTracker{
		client: client,
		key:    key,
		local:  make(chan Event, localCapacity),
		now:    time.Now,
		logger: l,
	}
}

func (t *RedisTracker) Track(event string, props map[string]any) {
	e := Event{
		ID:         uuid.NewString(),
		Name:       event,
		Properties: props,
		Time:       t.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
	defer cancel()

	if err := t.flush(ctx); err != nil {
		t.buffer(e, err)
		return
	}
	if err := t.push(ctx, e); err != nil {
		t.buffer(e, err)
	}
}

// Buffered returns the number of events waiting for Redis.
func (t *RedisTracker) Buffered() int {
	return len(t.local)
}

func (t *RedisTracker) flush(ctx context.Context) error {
	for {
		select {
		case e := <-t.local:
			if err := t.push(ctx, e); err != nil {
				t.buffer(e, err)
				return err
			}
		default:
			return nil
		}
	}
}

func (t *RedisTracker) push(ctx context.Context, e Event) error {
	if t.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return t.client.LPush(ctx, t.key, data).Err()
}

func (t *RedisTracker) buffer(e Event, cause error) {
	select {
	case t.local <- e:
		t.logger.Debug().Err(cause).Str("event", e.Name).Msg("analytics event buffered locally")
	default:
		t.logger.Warn().Err(cause).Str("event", e.Name).Msg("analytics buffer full, event dropped")
	}
}

// Multi fans every event out to all trackers.
type Multi []domain.AnalyticsTracker

// NewMulti skips nil trackers.
func NewMulti(trackers ...domain.AnalyticsTracker) Multi {
	out := make(Multi, 0, len(trackers))
	for _, t := range trackers {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (m Multi) Track(event string, props map[string]any) {
	for _, t := range m {
		t.Track(event, props)
	}
}
