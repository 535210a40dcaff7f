// Package bridgesync keeps accounts eventually consistent with their remote
// state. A priority queue of account ids is drained by a bounded worker pool,
// two timers feed it with background and pending-operation work, and every
// attempt reports its outcome through a per-account sync state.
package bridgesync

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/events"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxConcurrent   = 4
	DefaultAllInterval     = 2 * time.Minute
	DefaultBootDelay       = 2 * time.Second
	DefaultPendingInterval = 10 * time.Second
	DefaultOutdatedDelay   = 2 * time.Minute
)

var ErrAlreadyStarted = errors.New("bridgesync: already started")

// BridgeSync owns the scheduler, the synchronizer and their drivers.
type BridgeSync struct {
	accounts domain.AccountSource

	state        *StateStore
	scheduler    *Scheduler
	synchronizer *Synchronizer
	hydrator     *Hydrator
	background   *BackgroundDriver
	pending      *PendingOperationsDriver

	bus *events.EventBus

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	drivers sync.WaitGroup

	logger *zerolog.Logger
}

type options struct {
	logger          *zerolog.Logger
	maxConcurrent   int
	bootDelay       time.Duration
	allInterval     time.Duration
	pendingInterval time.Duration
	outdatedDelay   time.Duration
	throttle        domain.ThrottleStore
	mirror          domain.StateRepository
	bus             *events.EventBus
	now             func() time.Time
	rand            *rand.Rand
	recoverError    domain.ErrorRecoverer
	tracker         domain.AnalyticsTracker
	hydrator        domain.CurrencyHydrator
	syncConfig      models.SyncConfig
}

// Option configures a BridgeSync.
type Option func(*options)

func WithLogger(logger *zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMaxConcurrent bounds the number of concurrent sync attempts.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithIntervals sets the background boot delay and period, and the pending
// operations period. Zero values keep the defaults.
func WithIntervals(bootDelay, allInterval, pendingInterval time.Duration) Option {
	return func(o *options) {
		if bootDelay > 0 {
			o.bootDelay = bootDelay
		}
		if allInterval > 0 {
			o.allInterval = allInterval
		}
		if pendingInterval > 0 {
			o.pendingInterval = pendingInterval
		}
	}
}

func WithOutdatedDelay(d time.Duration) Option {
	return func(o *options) { o.outdatedDelay = d }
}

// WithThrottleStore replaces the in-memory analytics throttle.
func WithThrottleStore(store domain.ThrottleStore) Option {
	return func(o *options) { o.throttle = store }
}

// WithStateMirror copies every state transition to repo.
func WithStateMirror(repo domain.StateRepository) Option {
	return func(o *options) { o.mirror = repo }
}

// WithEventBus publishes state transitions on bus and listens to account list changes.
func WithEventBus(bus *events.EventBus) Option {
	return func(o *options) { o.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

func WithBlacklistedTokenIDs(ids []string) Option {
	return func(o *options) { o.syncConfig.BlacklistedTokenIDs = append([]string(nil), ids...) }
}

func WithPaginationConfig(cfg map[string]int) Option {
	return func(o *options) { o.syncConfig.PaginationConfig = cfg }
}

func WithRecoverError(fn domain.ErrorRecoverer) Option {
	return func(o *options) { o.recoverError = fn }
}

func WithTracker(tracker domain.AnalyticsTracker) Option {
	return func(o *options) { o.tracker = tracker }
}

func WithHydrator(h domain.CurrencyHydrator) Option {
	return func(o *options) { o.hydrator = h }
}

// New wires a BridgeSync. Nothing runs until Start.
func New(
	accounts domain.AccountSource,
	updater domain.AccountUpdater,
	resolver domain.BridgeResolver,
	opts ...Option,
) *BridgeSync {
	o := options{
		maxConcurrent:   DefaultMaxConcurrent,
		bootDelay:       DefaultBootDelay,
		allInterval:     DefaultAllInterval,
		pendingInterval: DefaultPendingInterval,
		outdatedDelay:   DefaultOutdatedDelay,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		nop := zerolog.Nop()
		o.logger = &nop
	}
	if o.throttle == nil {
		o.throttle = NewMemoryThrottle()
	}

	logger := o.logger.With().Str("component", "bridgesync").Logger()

	var publisher domain.EventPublisher
	if o.bus != nil {
		publisher = o.bus
	}
	state := NewStateStore(publisher, o.mirror, &logger)
	state.now = o.now

	synchronizer := NewSynchronizer(SynchronizerDeps{
		Accounts:     accounts,
		Resolver:     resolver,
		Updater:      updater,
		RecoverError: o.recoverError,
		Tracker:      o.tracker,
		Throttle:     o.throttle,
		State:        state,
		SyncConfig:   o.syncConfig,
		Now:          o.now,
		Logger:       &logger,
	})

	scheduler := NewScheduler(accounts, synchronizer.Synchronize, SchedulerConfig{
		Concurrency:   o.maxConcurrent,
		OutdatedDelay: o.outdatedDelay,
		Now:           o.now,
		Rand:          o.rand,
		Logger:        &logger,
	})

	hydrator := NewHydrator(o.hydrator, &logger)

	return &BridgeSync{
		accounts:     accounts,
		state:        state,
		scheduler:    scheduler,
		synchronizer: synchronizer,
		hydrator:     hydrator,
		background:   NewBackgroundDriver(scheduler, o.bootDelay, o.allInterval, &logger),
		pending:      NewPendingOperationsDriver(scheduler, accounts, hydrator, o.pendingInterval, &logger),
		bus:          o.bus,
		logger:       &logger,
	}
}

// Start launches both drivers and the first hydration pass. It does not block.
func (b *BridgeSync) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	if accounts, err := b.accounts.ListAccounts(runCtx); err != nil {
		b.logger.Warn().Err(err).Msg("initial hydration: list accounts")
	} else {
		b.hydrator.Observe(runCtx, accounts)
	}

	if b.bus != nil {
		b.bus.Subscribe(events.EventAccountsChanged, func(*events.Event) error {
			if runCtx.Err() != nil {
				return nil
			}
			accounts, err := b.accounts.ListAccounts(runCtx)
			if err != nil {
				return err
			}
			b.hydrator.Observe(runCtx, accounts)
			return nil
		})
	}

	b.drivers.Add(2)
	go func() {
		defer b.drivers.Done()
		b.background.Run(runCtx)
	}()
	go func() {
		defer b.drivers.Done()
		b.pending.Run(runCtx)
	}()

	b.logger.Info().Msg("bridge sync started")
	return nil
}

// Stop halts the drivers, drops undispatched work and waits for in-flight
// attempts to finish. Schedules issued after Stop are ignored.
func (b *BridgeSync) Stop() {
	b.mu.Lock()
	if !b.started || b.cancel == nil {
		b.mu.Unlock()
		return
	}
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	cancel()
	b.scheduler.Close()
	b.drivers.Wait()
	b.scheduler.Wait()
	b.hydrator.Wait()
	b.logger.Info().Msg("bridge sync stopped")
}

// Running reports whether Start was called and Stop was not.
func (b *BridgeSync) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && b.cancel != nil
}

// Subscribe registers fn for every future sync state transition.
func (b *BridgeSync) Subscribe(fn StateObserver) {
	b.state.Subscribe(fn)
}

func (b *BridgeSync) State(accountID string) models.SyncState {
	return b.state.Get(accountID)
}

func (b *BridgeSync) States() map[string]models.SyncState {
	return b.state.Snapshot()
}

func (b *BridgeSync) Idle() bool {
	return b.scheduler.Idle()
}

func (b *BridgeSync) Queued() []models.SyncTask {
	return b.scheduler.Queued()
}

func (b *BridgeSync) MinimumPriority() int {
	return b.scheduler.MinimumPriority()
}

// Dispatch forwards action to the scheduler.
func (b *BridgeSync) Dispatch(ctx context.Context, action Action) bool {
	return b.scheduler.Dispatch(ctx, action)
}

func (b *BridgeSync) ScheduleAll(ctx context.Context, priority int) {
	b.scheduler.ScheduleAll(ctx, priority)
}

func (b *BridgeSync) ScheduleOne(accountID string, priority int) {
	b.scheduler.ScheduleOne(accountID, priority)
}

func (b *BridgeSync) ScheduleSome(accountIDs []string, priority int) {
	b.scheduler.ScheduleSome(accountIDs, priority)
}

func (b *BridgeSync) SetMinimumPriority(ctx context.Context, priority int) {
	b.scheduler.SetMinimumPriority(ctx, priority)
}
