package bridgesync

import (
	"context"
	"sync"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

// Hydrator loads persisted per-currency caches the first time a currency shows
// up in the account list.
type Hydrator struct {
	hydrator domain.CurrencyHydrator
	mu       sync.Mutex
	seen     map[string]bool
	wg       sync.WaitGroup
	logger   *zerolog.Logger
}

func NewHydrator(hydrator domain.CurrencyHydrator, logger *zerolog.Logger) *Hydrator {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hydrator{
		hydrator: hydrator,
		seen:     make(map[string]bool),
		logger:   logger,
	}
}

// Observe starts hydration for every currency of accounts not seen before.
// It returns the number of hydrations started.
func (h *Hydrator) Observe(ctx context.Context, accounts []models.Account) int {
	if h.hydrator == nil {
		return 0
	}

	var fresh []models.Currency
	h.mu.Lock()
	for i := range accounts {
		c := accounts[i].Currency
		if c.ID == "" || h.seen[c.ID] {
			continue
		}
		h.seen[c.ID] = true
		fresh = append(fresh, c)
	}
	h.mu.Unlock()

	for _, c := range fresh {
		h.wg.Add(1)
		go func(currency models.Currency) {
			defer h.wg.Done()
			if err := h.hydrator.Hydrate(ctx, currency); err != nil {
				h.logger.Warn().Err(err).Str("currency", currency.ID).Msg("hydrate currency")
				return
			}
			h.logger.Debug().Str("currency", currency.ID).Msg("currency hydrated")
		}(c)
	}
	return len(fresh)
}

// Wait blocks until every started hydration returned.
func (h *Hydrator) Wait() {
	h.wg.Wait()
}
