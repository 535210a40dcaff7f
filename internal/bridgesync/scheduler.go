package bridgesync

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/metrics"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

// Worker runs one dispatched account. It must call done exactly once when the
// account no longer needs its slot; returning also releases the slot.
type Worker func(ctx context.Context, accountID string, done func())

// Scheduler is a priority queue of account ids drained by a bounded worker pool.
type Scheduler struct {
	mu                sync.Mutex
	queue             *taskQueue
	running           int
	concurrency       int
	skipUnderPriority int
	closed            bool

	worker        Worker
	accounts      domain.AccountSource
	outdatedDelay time.Duration
	now           func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	workerCtx context.Context
	wg        sync.WaitGroup
	logger    *zerolog.Logger
}

// SchedulerConfig tunes a Scheduler.
type SchedulerConfig struct {
	Concurrency   int
	OutdatedDelay time.Duration
	Now           func() time.Time
	Rand          *rand.Rand
	Logger        *zerolog.Logger
}

func NewScheduler(accounts domain.AccountSource, worker Worker, cfg SchedulerConfig) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		//nolint:gosec // shuffling order only, not security sensitive
		cfg.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	metrics.SetMinPriority(models.NoPausePriority)

	return &Scheduler{
		queue:             newTaskQueue(),
		concurrency:       cfg.Concurrency,
		skipUnderPriority: models.NoPausePriority,
		worker:            worker,
		accounts:          accounts,
		outdatedDelay:     cfg.OutdatedDelay,
		now:               cfg.Now,
		rand:              cfg.Rand,
		workerCtx:         context.Background(),
		logger:            cfg.Logger,
	}
}

// ScheduleAll enqueues every known account in a fresh random order.
func (s *Scheduler) ScheduleAll(ctx context.Context, priority int) {
	accounts, err := s.listAccounts(ctx)
	if err != nil {
		return
	}
	s.schedule(s.shuffle(models.AccountIDs(accounts)), priority)
}

// ScheduleOne enqueues a single account.
func (s *Scheduler) ScheduleOne(accountID string, priority int) {
	s.schedule([]string{accountID}, priority)
}

// ScheduleSome enqueues accountIDs as one batch.
func (s *Scheduler) ScheduleSome(accountIDs []string, priority int) {
	s.schedule(accountIDs, priority)
}

// SetMinimumPriority pauses every request below priority. Going back to the
// no-pause value resumes background coverage when some account is outdated.
func (s *Scheduler) SetMinimumPriority(ctx context.Context, priority int) {
	s.mu.Lock()
	if priority == s.skipUnderPriority {
		s.mu.Unlock()
		return
	}
	previous := s.skipUnderPriority
	s.skipUnderPriority = priority
	evicted := s.queue.evictBelow(priority)
	s.publishLocked()
	s.mu.Unlock()

	metrics.SetMinPriority(priority)
	s.logger.Info().
		Int("priority", priority).
		Int("previous", previous).
		Int("evicted", evicted).
		Msg("minimum sync priority changed")

	if priority != models.NoPausePriority {
		return
	}

	accounts, err := s.listAccounts(ctx)
	if err != nil {
		return
	}
	now := s.now()
	for i := range accounts {
		if !models.IsUpToDate(accounts[i], now, s.outdatedDelay) {
			s.schedule(s.shuffle(models.AccountIDs(accounts)), models.BackgroundPriority)
			return
		}
	}
}

// MinimumPriority returns the current threshold.
func (s *Scheduler) MinimumPriority() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipUnderPriority
}

// Idle reports whether nothing is queued and no worker is busy.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len() == 0 && s.running == 0
}

// Running returns the number of occupied worker slots.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Queued lists undispatched batches in dispatch order.
func (s *Scheduler) Queued() []models.SyncTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.snapshot()
}

// Wait blocks until every dispatched worker released its slot.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close drops every undispatched entry and rejects later schedules. Workers
// already running keep their slot until done.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.queue.len()
	s.queue = newTaskQueue()
	s.publishLocked()
	s.mu.Unlock()

	s.logger.Info().Int("dropped", dropped).Msg("scheduler closed")
}

func (s *Scheduler) schedule(ids []string, priority int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		metrics.IncSchedule(metrics.ScheduleDropped)
		s.logger.Debug().Int("priority", priority).Msg("schedule dropped after close")
		return
	}
	if priority < s.skipUnderPriority {
		threshold := s.skipUnderPriority
		s.mu.Unlock()
		metrics.IncSchedule(metrics.ScheduleDropped)
		s.logger.Debug().Int("priority", priority).Int("threshold", threshold).Msg("schedule dropped below minimum priority")
		return
	}

	// Callers re-issue the same intent on every tick; one batch per priority.
	evicted := s.queue.replace(priority, ids)
	s.dispatchLocked()
	s.mu.Unlock()

	metrics.IncSchedule(metrics.ScheduleQueued)
	if evicted > 0 {
		metrics.IncSchedule(metrics.ScheduleDeduped)
	}
	s.logger.Debug().
		Int("priority", priority).
		Int("count", len(ids)).
		Int("replaced", evicted).
		Str("account_ids", strings.Join(ids, ", ")).
		Msg("schedule")
}

func (s *Scheduler) dispatchLocked() {
	for !s.closed && s.running < s.concurrency {
		entry, ok := s.queue.pop()
		if !ok {
			break
		}
		s.running++
		s.wg.Add(1)
		go s.run(entry)
	}
	s.publishLocked()
}

func (s *Scheduler) run(entry queueEntry) {
	var once sync.Once
	done := func() {
		once.Do(func() {
			s.mu.Lock()
			s.running--
			s.dispatchLocked()
			s.mu.Unlock()
			s.wg.Done()
		})
	}
	defer done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("account_id", entry.accountID).Msg("sync worker panicked")
		}
	}()

	s.worker(s.workerCtx, entry.accountID, done)
}

func (s *Scheduler) publishLocked() {
	metrics.SetQueue(s.queue.len(), s.running)
}

func (s *Scheduler) listAccounts(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list accounts")
		return nil, err
	}
	return accounts, nil
}

// shuffle permutes ids so a stuck account never starves the far end of a fixed order.
func (s *Scheduler) shuffle(ids []string) []string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	s.rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
	return ids
}
