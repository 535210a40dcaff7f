package repository

import (
	"context"
	"sync/atomic"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// breaker routes calls to the fallback after a primary failure and probes the
// primary again once recoveryInterval elapsed.
type breaker struct {
	name      string
	isDown    atomic.Bool
	lastCheck atomic.Int64
	now       func() time.Time
	logger    *zerolog.Logger
}

func newBreaker(name string, logger *zerolog.Logger) *breaker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &breaker{name: name, now: time.Now, logger: logger}
}

func (b *breaker) usePrimary() bool {
	if !b.isDown.Load() {
		return true
	}
	return b.now().Sub(time.Unix(0, b.lastCheck.Load())) > recoveryInterval
}

func (b *breaker) report(err error) {
	if err == nil {
		if b.isDown.Swap(false) {
			b.logger.Info().Str("repository", b.name).Msg("primary repository recovered")
		}
		return
	}
	if !b.isDown.Swap(true) {
		b.logger.Error().Err(err).Str("repository", b.name).Msg("primary repository failed, falling back to memory")
	}
	b.lastCheck.Store(b.now().UnixNano())
}

// FailoverStateRepository mirrors sync states to primary and degrades to fallback.
type FailoverStateRepository struct {
	primary  domain.StateRepository
	fallback domain.StateRepository
	breaker  *breaker
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		breaker:  newBreaker("sync_state", logger),
	}
}

func (r *FailoverStateRepository) GetState(ctx context.Context, accountID string) (*models.SyncStateView, error) {
	if r.breaker.usePrimary() {
		state, err := r.primary.GetState(ctx, accountID)
		r.breaker.report(err)
		if err == nil {
			return state, nil
		}
	}
	return r.fallback.GetState(ctx, accountID)
}

// SetState always writes the fallback so it stays warm for a later outage.
func (r *FailoverStateRepository) SetState(ctx context.Context, accountID string, state models.SyncStateView) error {
	if err := r.fallback.SetState(ctx, accountID, state); err != nil {
		return err
	}
	if r.breaker.usePrimary() {
		r.breaker.report(r.primary.SetState(ctx, accountID, state))
	}
	return nil
}

func (r *FailoverStateRepository) ListStates(ctx context.Context) (map[string]models.SyncStateView, error) {
	if r.breaker.usePrimary() {
		states, err := r.primary.ListStates(ctx)
		r.breaker.report(err)
		if err == nil {
			return states, nil
		}
	}
	return r.fallback.ListStates(ctx)
}

// FailoverThrottleStore stamps through primary and degrades to fallback.
type FailoverThrottleStore struct {
	primary  domain.ThrottleStore
	fallback domain.ThrottleStore
	breaker  *breaker
}

func NewFailoverThrottleStore(primary, fallback domain.ThrottleStore, logger *zerolog.Logger) *FailoverThrottleStore {
	return &FailoverThrottleStore{
		primary:  primary,
		fallback: fallback,
		breaker:  newBreaker("analytics_throttle", logger),
	}
}

func (r *FailoverThrottleStore) Mark(ctx context.Context, accountID string, now time.Time, window time.Duration) (bool, error) {
	if r.breaker.usePrimary() {
		tracked, err := r.primary.Mark(ctx, accountID, now, window)
		r.breaker.report(err)
		if err == nil {
			return tracked, nil
		}
	}
	return r.fallback.Mark(ctx, accountID, now, window)
}
