package bridgesync

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"bridgesync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func newTestScheduler(accounts *fakeAccounts, w *gatedWorker, n int, clock *fakeClock) *Scheduler {
	cfg := SchedulerConfig{
		Concurrency:   n,
		OutdatedDelay: time.Minute,
		Rand:          rand.New(rand.NewPCG(1, 2)),
	}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return NewScheduler(accounts, w.run, cfg)
}

func expectStarted(t *testing.T, w *gatedWorker, want string) {
	t.Helper()
	select {
	case got := <-w.startedCh:
		assert.Equal(t, want, got)
	case <-time.After(waitFor):
		t.Fatalf("timed out waiting for %s to start", want)
	}
}

func expectNothingStarted(t *testing.T, w *gatedWorker) {
	t.Helper()
	select {
	case got := <-w.startedCh:
		t.Fatalf("unexpected dispatch of %s", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 2, nil)

	s.ScheduleSome([]string{"a", "b", "c", "d", "e"}, 0)

	first := []string{<-w.startedCh, <-w.startedCh}
	assert.ElementsMatch(t, []string{"a", "b"}, first)
	expectNothingStarted(t, w)
	assert.Equal(t, 2, s.Running())
	assert.False(t, s.Idle())

	for i := 0; i < 5; i++ {
		w.releaseOne()
	}
	s.Wait()

	assert.Equal(t, 2, w.peak())
	assert.ElementsMatch(t, []string{"a", "b", "c", "d", "e"}, w.startedIDs())
	assert.True(t, s.Idle())
}

func TestScheduler_DedupSamePriority(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 1, nil)

	s.ScheduleOne("busy", 100)
	expectStarted(t, w, "busy")

	s.ScheduleSome([]string{"a", "b"}, 5)
	s.ScheduleSome([]string{"c"}, 5)

	assert.Equal(t, []models.SyncTask{{AccountIDs: []string{"c"}, Priority: 5}}, s.Queued())

	w.releaseOne()
	expectStarted(t, w, "c")
	w.releaseOne()
	s.Wait()
	assert.Equal(t, []string{"busy", "c"}, w.startedIDs())
}

func TestScheduler_DedupKeepsOtherPriorities(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 1, nil)

	s.ScheduleOne("busy", 100)
	expectStarted(t, w, "busy")

	s.ScheduleSome([]string{"a"}, 5)
	s.ScheduleSome([]string{"b"}, 6)

	assert.Equal(t, []models.SyncTask{
		{AccountIDs: []string{"b"}, Priority: 6},
		{AccountIDs: []string{"a"}, Priority: 5},
	}, s.Queued())

	for i := 0; i < 3; i++ {
		w.releaseOne()
	}
	s.Wait()
}

func TestScheduler_PriorityOrdering(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 1, nil)

	s.ScheduleOne("first", 0)
	expectStarted(t, w, "first")

	s.ScheduleOne("low", 1)
	s.ScheduleOne("high", 10)

	w.releaseOne()
	expectStarted(t, w, "high")
	w.releaseOne()
	expectStarted(t, w, "low")
	w.releaseOne()
	s.Wait()
}

func TestScheduler_ThresholdGate(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 1, nil)
	ctx := context.Background()

	s.SetMinimumPriority(ctx, 10)
	assert.Equal(t, 10, s.MinimumPriority())

	s.ScheduleOne("below", 5)
	expectNothingStarted(t, w)
	assert.Empty(t, s.Queued())
	assert.True(t, s.Idle())

	s.ScheduleOne("at", 10)
	expectStarted(t, w, "at")
	w.releaseOne()
	s.Wait()
}

func TestScheduler_RaisingThresholdEvictsQueued(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(), w, 1, nil)
	ctx := context.Background()

	s.ScheduleOne("busy", 50)
	expectStarted(t, w, "busy")
	s.ScheduleSome([]string{"bg"}, -1)
	s.ScheduleSome([]string{"mid"}, 10)
	s.ScheduleSome([]string{"top"}, 20)

	s.SetMinimumPriority(ctx, 10)

	assert.Equal(t, []models.SyncTask{
		{AccountIDs: []string{"top"}, Priority: 20},
		{AccountIDs: []string{"mid"}, Priority: 10},
	}, s.Queued())

	for i := 0; i < 3; i++ {
		w.releaseOne()
	}
	s.Wait()
	assert.Equal(t, []string{"busy", "top", "mid"}, w.startedIDs())
}

func TestScheduler_SetMinimumPrioritySameValueIsNoop(t *testing.T) {
	w := newGatedWorker()
	accounts := newFakeAccounts(account("a", "btc"))
	s := newTestScheduler(accounts, w, 1, nil)

	s.SetMinimumPriority(context.Background(), models.NoPausePriority)

	expectNothingStarted(t, w)
	assert.True(t, s.Idle())
}

func TestScheduler_ResumeOnUnpause(t *testing.T) {
	clock := newFakeClock()
	stale := account("stale", "btc")
	stale.Currency.BlockAvgTime = time.Minute
	stale.LastSyncDate = clock.Now().Add(-time.Hour)
	fresh := account("fresh", "eth")
	fresh.Currency.BlockAvgTime = time.Minute
	fresh.LastSyncDate = clock.Now()

	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(stale, fresh), w, 1, clock)
	ctx := context.Background()

	s.ScheduleOne("busy", 100)
	expectStarted(t, w, "busy")

	s.SetMinimumPriority(ctx, 10)
	s.SetMinimumPriority(ctx, models.NoPausePriority)

	queued := s.Queued()
	require.Len(t, queued, 1)
	assert.Equal(t, models.BackgroundPriority, queued[0].Priority)
	assert.ElementsMatch(t, []string{"stale", "fresh"}, queued[0].AccountIDs)

	for i := 0; i < 3; i++ {
		w.releaseOne()
	}
	s.Wait()
}

func TestScheduler_UnpauseWhenAllUpToDate(t *testing.T) {
	clock := newFakeClock()
	fresh := account("fresh", "eth")
	fresh.Currency.BlockAvgTime = time.Minute
	fresh.LastSyncDate = clock.Now()

	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(fresh, account("noblock", "xrp")), w, 1, clock)
	ctx := context.Background()

	s.SetMinimumPriority(ctx, 10)
	s.SetMinimumPriority(ctx, models.NoPausePriority)

	expectNothingStarted(t, w)
	assert.True(t, s.Idle())
}

func TestScheduler_ScheduleAllShufflesEveryAccount(t *testing.T) {
	w := newGatedWorker()
	accounts := newFakeAccounts(account("a", "btc"), account("b", "btc"), account("c", "eth"))
	s := newTestScheduler(accounts, w, 1, nil)

	s.ScheduleOne("busy", 100)
	expectStarted(t, w, "busy")
	s.ScheduleAll(context.Background(), 0)

	queued := s.Queued()
	require.Len(t, queued, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, queued[0].AccountIDs)

	for i := 0; i < 4; i++ {
		w.releaseOne()
	}
	s.Wait()
}

func TestScheduler_ScheduleAllListErrorKeepsQueue(t *testing.T) {
	w := newGatedWorker()
	accounts := newFakeAccounts(account("a", "btc"))
	s := newTestScheduler(accounts, w, 1, nil)

	s.ScheduleOne("busy", 100)
	expectStarted(t, w, "busy")
	s.ScheduleSome([]string{"kept"}, 0)

	accounts.listErr = errors.New("db down")
	s.ScheduleAll(context.Background(), 0)

	assert.Equal(t, []models.SyncTask{{AccountIDs: []string{"kept"}, Priority: 0}}, s.Queued())

	w.releaseOne()
	w.releaseOne()
	s.Wait()
}

func TestScheduler_PanickingWorkerReleasesSlot(t *testing.T) {
	calls := make(chan string, 4)
	s := NewScheduler(newFakeAccounts(), func(_ context.Context, id string, _ func()) {
		calls <- id
		if id == "boom" {
			panic("worker exploded")
		}
	}, SchedulerConfig{Concurrency: 1})

	s.ScheduleSome([]string{"boom", "next"}, 0)
	s.Wait()

	assert.Equal(t, "boom", <-calls)
	assert.Equal(t, "next", <-calls)
	assert.True(t, s.Idle())
}

func TestScheduler_DoneIsIdempotent(t *testing.T) {
	s := NewScheduler(newFakeAccounts(), func(_ context.Context, _ string, done func()) {
		done()
		done()
	}, SchedulerConfig{Concurrency: 1})

	s.ScheduleSome([]string{"a", "b"}, 0)
	s.Wait()

	assert.Equal(t, 0, s.Running())
	assert.True(t, s.Idle())
}

func TestScheduler_CloseDropsQueuedAndRejectsSchedules(t *testing.T) {
	w := newGatedWorker()
	s := newTestScheduler(newFakeAccounts(account("x", "btc")), w, 1, nil)

	s.ScheduleSome([]string{"a", "b", "c"}, 0)
	expectStarted(t, w, "a")

	s.Close()
	s.Close()
	assert.Empty(t, s.Queued())
	assert.Equal(t, 1, s.Running(), "in-flight work keeps its slot")

	s.ScheduleOne("d", 100)
	s.ScheduleAll(context.Background(), 50)
	assert.Empty(t, s.Queued())

	w.releaseOne()
	s.Wait()
	expectNothingStarted(t, w)
	assert.True(t, s.Idle())
	assert.Equal(t, []string{"a"}, w.startedIDs())
}
