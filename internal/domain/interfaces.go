package domain

import (
	"context"
	"iter"
	"time"

	"bridgesync/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// AccountSource supplies the current list of known accounts.
type AccountSource interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

// AccountUpdater applies a mutation to the authoritative account record.
type AccountUpdater interface {
	UpdateAccount(ctx context.Context, accountID string, fn models.Mutation) error
}

// Bridge fetches remote data for accounts of one currency family.
type Bridge interface {
	// Prepare warms currency-level caches. Its result is discarded.
	Prepare(ctx context.Context, currency models.Currency) error
	// Sync yields mutations in the order they must be applied. A non-nil error
	// terminates the sequence as a failure; exhaustion without error is completion.
	Sync(ctx context.Context, account models.Account, cfg models.SyncConfig) iter.Seq2[models.Mutation, error]
}

// BridgeResolver picks the bridge for an account.
type BridgeResolver interface {
	Resolve(account models.Account) (Bridge, error)
}

// CurrencyHydrator preloads persisted currency caches.
type CurrencyHydrator interface {
	Hydrate(ctx context.Context, currency models.Currency) error
}

// ErrorRecoverer classifies raw sync errors. Returning nil silences the error.
type ErrorRecoverer func(err error) error

// AnalyticsTracker delivers telemetry events.
type AnalyticsTracker interface {
	Track(event string, props map[string]any)
}

// StateRepository mirrors sync states for readers outside the process.
type StateRepository interface {
	GetState(ctx context.Context, accountID string) (*models.SyncStateView, error)
	SetState(ctx context.Context, accountID string, state models.SyncStateView) error
	ListStates(ctx context.Context) (map[string]models.SyncStateView, error)
}

// ThrottleStore records when an account was last reported to analytics.
type ThrottleStore interface {
	// Mark returns true when accountID was stamped less than window ago.
	// Otherwise it stamps now and returns false.
	Mark(ctx context.Context, accountID string, now time.Time, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}
