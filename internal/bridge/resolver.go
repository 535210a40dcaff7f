package bridge

import (
	"context"
	"fmt"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"
)

// Resolver routes accounts to bridges by currency family.
type Resolver struct {
	bridges  map[string]domain.Bridge
	fallback domain.Bridge
}

func NewResolver() *Resolver {
	return &Resolver{bridges: make(map[string]domain.Bridge)}
}

// NewExplorerResolver serves the listed families through one explorer.
// An empty list lets the explorer serve every family.
func NewExplorerResolver(explorer *Explorer, families []string) *Resolver {
	r := NewResolver()
	if len(families) == 0 {
		r.fallback = explorer
		return r
	}
	for _, f := range families {
		r.Register(f, explorer)
	}
	return r
}

func (r *Resolver) Register(family string, b domain.Bridge) {
	r.bridges[family] = b
}

func (r *Resolver) Resolve(account models.Account) (domain.Bridge, error) {
	if b, ok := r.bridges[account.Currency.Family]; ok {
		return b, nil
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, models.NewSyncError(models.ErrorKindInternal,
		fmt.Errorf("%w: %q", models.ErrNoBridge, account.Currency.Family))
}

// Hydrate forwards to the family bridge when it keeps a persisted cache.
func (r *Resolver) Hydrate(ctx context.Context, currency models.Currency) error {
	b, err := r.Resolve(models.Account{Currency: currency})
	if err != nil {
		return err
	}
	if h, ok := b.(domain.CurrencyHydrator); ok {
		return h.Hydrate(ctx, currency)
	}
	return nil
}
