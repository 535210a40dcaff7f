package bridgesync

import (
	"context"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

// BackgroundDriver requests a full low priority pass whenever the scheduler is idle.
type BackgroundDriver struct {
	scheduler *Scheduler
	bootDelay time.Duration
	interval  time.Duration
	logger    *zerolog.Logger
}

func NewBackgroundDriver(scheduler *Scheduler, bootDelay, interval time.Duration, logger *zerolog.Logger) *BackgroundDriver {
	return &BackgroundDriver{
		scheduler: scheduler,
		bootDelay: bootDelay,
		interval:  interval,
		logger:    logger,
	}
}

// Run fires first after the boot delay, then every interval, until ctx is done.
func (d *BackgroundDriver) Run(ctx context.Context) {
	timer := time.NewTimer(d.bootDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.scheduler.Dispatch(ctx, BackgroundTick{})
			timer.Reset(d.interval)
		}
	}
}

// PendingOperationsDriver keeps accounts with unconfirmed operations near the
// front of the queue.
type PendingOperationsDriver struct {
	scheduler *Scheduler
	accounts  domain.AccountSource
	hydrator  *Hydrator
	interval  time.Duration
	logger    *zerolog.Logger
}

func NewPendingOperationsDriver(
	scheduler *Scheduler,
	accounts domain.AccountSource,
	hydrator *Hydrator,
	interval time.Duration,
	logger *zerolog.Logger,
) *PendingOperationsDriver {
	return &PendingOperationsDriver{
		scheduler: scheduler,
		accounts:  accounts,
		hydrator:  hydrator,
		interval:  interval,
		logger:    logger,
	}
}

// Run ticks every interval until ctx is done.
func (d *PendingOperationsDriver) Run(ctx context.Context) {
	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.Tick(ctx)
			timer.Reset(d.interval)
		}
	}
}

// PendingAccountLister is implemented by account stores that can answer the
// pending operations lookup without loading every account.
type PendingAccountLister interface {
	PendingAccountIDs(ctx context.Context) ([]string, error)
}

// Tick schedules every account currently holding pending operations. The
// batch is submitted even when empty so a stale one at the same priority is cleared.
func (d *PendingOperationsDriver) Tick(ctx context.Context) {
	lister, indexed := d.accounts.(PendingAccountLister)

	var accounts []models.Account
	if d.hydrator != nil || !indexed {
		var err error
		accounts, err = d.accounts.ListAccounts(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("pending operations: list accounts")
			return
		}
		if d.hydrator != nil {
			d.hydrator.Observe(ctx, accounts)
		}
	}

	ids := make([]string, 0)
	if indexed {
		pending, err := lister.PendingAccountIDs(ctx)
		if err != nil {
			d.logger.Error().Err(err).Msg("pending operations: list pending accounts")
			return
		}
		ids = append(ids, pending...)
	} else {
		for i := range accounts {
			if accounts[i].HasPendingOperations() {
				ids = append(ids, accounts[i].ID)
			}
		}
	}
	d.scheduler.ScheduleSome(ids, models.PendingOperationsPriority)
}
