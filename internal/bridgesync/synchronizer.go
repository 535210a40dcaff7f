package bridgesync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/metrics"
	"bridgesync/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Synchronizer executes single account sync attempts.
type Synchronizer struct {
	accounts     domain.AccountSource
	resolver     domain.BridgeResolver
	updater      domain.AccountUpdater
	recoverError domain.ErrorRecoverer
	tracker      domain.AnalyticsTracker
	throttle     domain.ThrottleStore
	state        *StateStore
	preparer     *currencyPreparer
	syncConfig   models.SyncConfig
	now          func() time.Time
	logger       *zerolog.Logger
}

// SynchronizerDeps groups the collaborators of a Synchronizer.
type SynchronizerDeps struct {
	Accounts     domain.AccountSource
	Resolver     domain.BridgeResolver
	Updater      domain.AccountUpdater
	RecoverError domain.ErrorRecoverer
	Tracker      domain.AnalyticsTracker
	Throttle     domain.ThrottleStore
	State        *StateStore
	SyncConfig   models.SyncConfig
	Now          func() time.Time
	Logger       *zerolog.Logger
}

func NewSynchronizer(deps SynchronizerDeps) *Synchronizer {
	if deps.RecoverError == nil {
		deps.RecoverError = func(err error) error { return err }
	}
	if deps.Throttle == nil {
		deps.Throttle = NewMemoryThrottle()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		nop := zerolog.Nop()
		deps.Logger = &nop
	}

	return &Synchronizer{
		accounts:     deps.Accounts,
		resolver:     deps.Resolver,
		updater:      deps.Updater,
		recoverError: deps.RecoverError,
		tracker:      deps.Tracker,
		throttle:     deps.Throttle,
		state:        deps.State,
		preparer:     newCurrencyPreparer(),
		syncConfig:   deps.SyncConfig,
		now:          deps.Now,
		logger:       deps.Logger,
	}
}

type syncAttempt struct {
	id              string
	accountID       string
	start           time.Time
	trackedRecently bool
}

// Synchronize runs one attempt for accountID and always calls done.
func (s *Synchronizer) Synchronize(ctx context.Context, accountID string, done func()) {
	defer done()

	if s.state.Get(accountID).Pending {
		metrics.ObserveSync(metrics.OutcomeSkipped, 0)
		return
	}

	account, err := s.accounts.GetAccount(ctx, accountID)
	if err != nil || account == nil {
		if err != nil && !errors.Is(err, models.ErrAccountNotFound) {
			s.logger.Warn().Err(err).Str("account_id", accountID).Msg("lookup account")
		}
		metrics.ObserveSync(metrics.OutcomeSkipped, 0)
		return
	}

	if !s.state.TryBegin(accountID) {
		metrics.ObserveSync(metrics.OutcomeSkipped, 0)
		return
	}

	attempt := &syncAttempt{
		id:        uuid.NewString(),
		accountID: accountID,
		start:     s.now(),
	}
	attempt.trackedRecently = s.markTracked(ctx, attempt)

	log := s.logger.With().Str("account_id", accountID).Str("sync_id", attempt.id).Logger()
	log.Debug().Str("currency", account.Currency.ID).Msg("sync started")

	if err := s.run(ctx, *account); err != nil {
		s.fail(ctx, attempt, err, &log)
		return
	}

	s.trackEnd(ctx, attempt, models.EventSyncSuccess)
	s.state.Set(accountID, models.SyncState{})
	metrics.ObserveSync(metrics.OutcomeSuccess, s.now().Sub(attempt.start))
	log.Debug().Dur("duration", s.now().Sub(attempt.start)).Msg("sync completed")
}

// run resolves the bridge, prepares the currency and applies every mutation
// in the order the bridge produced them.
func (s *Synchronizer) run(ctx context.Context, account models.Account) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = models.NewSyncError(models.ErrorKindInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	bridge, err := s.resolver.Resolve(account)
	if err != nil {
		return fmt.Errorf("resolve bridge: %w", err)
	}

	if err := s.preparer.Prepare(ctx, bridge, account.Currency); err != nil {
		return err
	}

	for mutation, err := range bridge.Sync(ctx, account, s.syncConfig) {
		if err != nil {
			return err
		}
		if mutation == nil {
			continue
		}
		if err := s.updater.UpdateAccount(ctx, account.ID, mutation); err != nil {
			s.logger.Warn().Err(err).Str("account_id", account.ID).Msg("apply account update")
		}
	}
	return nil
}

func (s *Synchronizer) fail(ctx context.Context, attempt *syncAttempt, raw error, log *zerolog.Logger) {
	err := s.recoverError(raw)
	if err == nil {
		s.state.Set(attempt.accountID, models.SyncState{})
		metrics.ObserveSync(metrics.OutcomeRecovered, s.now().Sub(attempt.start))
		log.Debug().Err(raw).Msg("sync error recovered")
		return
	}

	// network down is expected and noisy, keep it out of telemetry
	if !models.IsNetworkDown(err) {
		s.trackEnd(ctx, attempt, models.EventSyncError)
	}

	s.state.Set(attempt.accountID, models.SyncState{Error: err})
	metrics.ObserveSync(metrics.OutcomeError, s.now().Sub(attempt.start))
	log.Warn().Err(err).Str("kind", string(models.KindOf(err))).Msg("sync failed")
}

func (s *Synchronizer) markTracked(ctx context.Context, attempt *syncAttempt) bool {
	tracked, err := s.throttle.Mark(ctx, attempt.accountID, attempt.start, models.AnalyticsThrottleWindow)
	if err != nil {
		s.logger.Warn().Err(err).Str("account_id", attempt.accountID).Msg("analytics throttle")
		return false
	}
	return tracked
}

func (s *Synchronizer) trackEnd(ctx context.Context, attempt *syncAttempt, event string) {
	if attempt.trackedRecently || s.tracker == nil {
		return
	}

	account, err := s.accounts.GetAccount(ctx, attempt.accountID)
	if err != nil || account == nil {
		return
	}

	sameCurrency := 0
	if all, err := s.accounts.ListAccounts(ctx); err == nil {
		for i := range all {
			if all[i].Currency.ID == account.Currency.ID {
				sameCurrency++
			}
		}
	}

	s.tracker.Track(event, map[string]any{
		"syncId":                   attempt.id,
		"duration":                 s.now().Sub(attempt.start).Seconds(),
		"currencyName":             account.Currency.Name,
		"derivationMode":           account.DerivationMode,
		"freshAddressPath":         account.FreshAddressPath,
		"operationsLength":         account.OperationsCount,
		"accountsCountForCurrency": sameCurrency,
		"tokensLength":             len(account.SubAccounts),
		"votesCount":               account.VotesCount,
	})

	if event != models.EventSyncSuccess {
		return
	}
	for _, sub := range account.SubAccounts {
		s.tracker.Track(models.EventSyncSuccessToken, map[string]any{
			"tokenId":              sub.TokenID(*account),
			"tokenTicker":          sub.Ticker(*account),
			"operationsLength":     sub.OperationsCount,
			"parentCurrencyName":   account.Currency.Name,
			"parentDerivationMode": account.DerivationMode,
			"votesCount":           sub.VotesCount,
		})
	}
}
