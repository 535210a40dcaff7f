package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bridgesync/internal/models"
)

// DefaultPageSize applies to currencies missing from the pagination config.
const DefaultPageSize = 100

// PreloadStore persists currency preload payloads across restarts.
type PreloadStore interface {
	LoadPreload(ctx context.Context, currencyID string) ([]byte, bool, error)
	SavePreload(ctx context.Context, currencyID string, data []byte) error
}

// Preload is the currency-level data an explorer hands out before syncing.
type Preload struct {
	CurrencyID string      `json:"currency_id"`
	Tokens     []TokenInfo `json:"tokens"`
}

type TokenInfo struct {
	ID     string `json:"id"`
	Ticker string `json:"ticker"`
}

type tokenBalance struct {
	TokenID         string `json:"token_id"`
	Ticker          string `json:"ticker"`
	OperationsCount int    `json:"operations_count"`
}

type accountPage struct {
	BlockHeight       int64              `json:"block_height"`
	Balance           string             `json:"balance"`
	Operations        []models.Operation `json:"operations"`
	PendingOperations []models.Operation `json:"pending_operations"`
	Tokens            []tokenBalance     `json:"tokens"`
	VotesCount        int                `json:"votes_count"`
	NextCursor        string             `json:"next_cursor"`
}

// Explorer implements the bridge contract on top of the explorer REST API.
type Explorer struct {
	client *Client
	store  PreloadStore
	now    func() time.Time

	mu       sync.RWMutex
	preloads map[string]Preload
}

// NewExplorer creates an explorer bridge. store may be nil.
func NewExplorer(client *Client, store PreloadStore) *Explorer {
	return &Explorer{
		client:   client,
		store:    store,
		now:      time.Now,
		preloads: make(map[string]Preload),
	}
}

// Prepare fetches the currency preload and caches it.
func (e *Explorer) Prepare(ctx context.Context, currency models.Currency) error {
	var p Preload
	path := "/v1/currencies/" + url.PathEscape(currency.ID) + "/preload"
	if err := e.client.getJSON(ctx, path, nil, &p); err != nil {
		return fmt.Errorf("preload %s: %w", currency.ID, err)
	}
	e.setPreload(currency.ID, p)

	if e.store != nil {
		data, err := json.Marshal(p)
		if err == nil {
			err = e.store.SavePreload(ctx, currency.ID, data)
		}
		if err != nil {
			e.client.logger.Warn().Err(err).Str("currency", currency.ID).Msg("failed to persist preload")
		}
	}
	return nil
}

// Hydrate restores a previously persisted preload without touching the network.
func (e *Explorer) Hydrate(ctx context.Context, currency models.Currency) error {
	if e.store == nil {
		return nil
	}
	data, ok, err := e.store.LoadPreload(ctx, currency.ID)
	if err != nil || !ok {
		return err
	}
	var p Preload
	if err := json.Unmarshal(data, &p); err != nil {
		return models.NewSyncError(models.ErrorKindDecode, fmt.Errorf("preload cache %s: %w", currency.ID, err))
	}
	e.setPreload(currency.ID, p)
	return nil
}

func (e *Explorer) setPreload(currencyID string, p Preload) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.preloads[currencyID] = p
}

func (e *Explorer) tokenTicker(currencyID, tokenID string) string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, t := range e.preloads[currencyID].Tokens {
		if t.ID == tokenID {
			return t.Ticker
		}
	}
	return ""
}

// Sync walks the account history page by page. Each page with unseen
// operations yields one mutation, and the last page yields the summary.
func (e *Explorer) Sync(ctx context.Context, account models.Account, cfg models.SyncConfig) iter.Seq2[models.Mutation, error] {
	return func(yield func(models.Mutation, error) bool) {
		if account.FreshAddress == "" {
			yield(nil, models.NewSyncError(models.ErrorKindInternal, errors.New("account has no address")))
			return
		}

		limit := cfg.PaginationConfig[account.Currency.ID]
		if limit <= 0 {
			limit = DefaultPageSize
		}

		path := fmt.Sprintf("/v1/%s/accounts/%s", url.PathEscape(account.Currency.Family), url.PathEscape(account.FreshAddress))
		seen := make(map[string]struct{}, len(account.Operations))
		for _, op := range account.Operations {
			seen[op.ID] = struct{}{}
		}

		cursor := ""
		for {
			query := url.Values{}
			query.Set("limit", strconv.Itoa(limit))
			query.Set("from_height", strconv.FormatInt(account.BlockHeight, 10))
			if cursor != "" {
				query.Set("cursor", cursor)
			}

			var page accountPage
			if err := e.client.getJSON(ctx, path, query, &page); err != nil {
				yield(nil, err)
				return
			}

			var fresh []models.Operation
			for _, op := range page.Operations {
				if _, ok := seen[op.ID]; ok {
					continue
				}
				seen[op.ID] = struct{}{}
				fresh = append(fresh, op)
			}
			if len(fresh) > 0 && !yield(appendOperations(fresh), nil) {
				return
			}

			if page.NextCursor == "" || page.NextCursor == cursor {
				yield(e.summary(account, page, cfg), nil)
				return
			}
			cursor = page.NextCursor
		}
	}
}

func appendOperations(ops []models.Operation) models.Mutation {
	return func(a models.Account) models.Account {
		known := make(map[string]struct{}, len(a.Operations))
		for _, op := range a.Operations {
			known[op.ID] = struct{}{}
		}
		merged := make([]models.Operation, 0, len(ops)+len(a.Operations))
		for _, op := range ops {
			if _, ok := known[op.ID]; !ok {
				merged = append(merged, op)
			}
		}
		a.Operations = append(merged, a.Operations...)
		a.OperationsCount = len(a.Operations)
		return a
	}
}

func (e *Explorer) summary(account models.Account, page accountPage, cfg models.SyncConfig) models.Mutation {
	subAccounts := make([]models.SubAccount, 0, len(page.Tokens))
	for _, t := range page.Tokens {
		if cfg.IsTokenBlacklisted(t.TokenID) {
			continue
		}
		ticker := t.Ticker
		if ticker == "" {
			ticker = e.tokenTicker(account.Currency.ID, t.TokenID)
		}
		subAccounts = append(subAccounts, models.SubAccount{
			ID:              account.ID + "+" + t.TokenID,
			Type:            models.SubAccountToken,
			Token:           &models.TokenCurrency{ID: t.TokenID, Ticker: ticker},
			OperationsCount: t.OperationsCount,
		})
	}

	syncedAt := e.now()
	pending := page.PendingOperations
	return func(a models.Account) models.Account {
		if page.BlockHeight > a.BlockHeight {
			a.BlockHeight = page.BlockHeight
		}
		if page.Balance != "" {
			a.Balance = page.Balance
		}
		a.PendingOperations = pending
		a.SubAccounts = subAccounts
		a.VotesCount = page.VotesCount
		a.LastSyncDate = syncedAt
		return a
	}
}
