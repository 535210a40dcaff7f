package repository

import (
	"context"
	"sync"

	"bridgesync/internal/models"
)

// MemoryStateRepository is the in-process mirror used when Redis is unavailable.
type MemoryStateRepository struct {
	states sync.Map
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{}
}

func (r *MemoryStateRepository) GetState(_ context.Context, accountID string) (*models.SyncStateView, error) {
	val, ok := r.states.Load(accountID)
	if !ok {
		return nil, nil
	}
	state := val.(models.SyncStateView)
	return &state, nil
}

func (r *MemoryStateRepository) SetState(_ context.Context, accountID string, state models.SyncStateView) error {
	r.states.Store(accountID, state)
	return nil
}

func (r *MemoryStateRepository) ListStates(_ context.Context) (map[string]models.SyncStateView, error) {
	out := make(map[string]models.SyncStateView)
	r.states.Range(func(k, v any) bool {
		out[k.(string)] = v.(models.SyncStateView)
		return true
	})
	return out, nil
}
