package bridgesync

import (
	"context"
	"sync"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"golang.org/x/sync/singleflight"
)

// currencyPreparer runs Bridge.Prepare at most once per currency. Concurrent
// callers share one in-flight call; a failed prepare is retried by the next caller.
type currencyPreparer struct {
	group    singleflight.Group
	mu       sync.Mutex
	prepared map[string]bool
}

func newCurrencyPreparer() *currencyPreparer {
	return &currencyPreparer{prepared: make(map[string]bool)}
}

func (p *currencyPreparer) Prepare(ctx context.Context, bridge domain.Bridge, currency models.Currency) error {
	if p.isPrepared(currency.ID) {
		return nil
	}

	_, err, _ := p.group.Do(currency.ID, func() (interface{}, error) {
		if p.isPrepared(currency.ID) {
			return nil, nil
		}
		if err := bridge.Prepare(ctx, currency); err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.prepared[currency.ID] = true
		p.mu.Unlock()
		return nil, nil
	})
	return err
}

func (p *currencyPreparer) isPrepared(currencyID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prepared[currencyID]
}
