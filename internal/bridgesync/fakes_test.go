package bridgesync

import (
	"context"
	"iter"
	"sync"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

type fakeAccounts struct {
	mu       sync.Mutex
	order    []string
	accounts map[string]models.Account
	updates  map[string]int
	listErr  error
}

func newFakeAccounts(accounts ...models.Account) *fakeAccounts {
	f := &fakeAccounts{
		accounts: make(map[string]models.Account),
		updates:  make(map[string]int),
	}
	for _, a := range accounts {
		f.put(a)
	}
	return f
}

func (f *fakeAccounts) put(a models.Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[a.ID]; !ok {
		f.order = append(f.order, a.ID)
	}
	f.accounts[a.ID] = a
}

func (f *fakeAccounts) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeAccounts) ListAccounts(_ context.Context) ([]models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]models.Account, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.accounts[id])
	}
	return out, nil
}

func (f *fakeAccounts) GetAccount(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return &a, nil
}

func (f *fakeAccounts) UpdateAccount(_ context.Context, id string, fn models.Mutation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[id]
	if !ok {
		return models.ErrAccountNotFound
	}
	f.accounts[id] = fn(a)
	f.updates[id]++
	return nil
}

func (f *fakeAccounts) updateCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.updates[id]
}

type syncFunc func(account models.Account, yield func(models.Mutation, error) bool)

type fakeBridge struct {
	mu          sync.Mutex
	prepared    map[string]int
	prepareErr  error
	synced      []string
	inFlight    int
	maxInFlight int
	delay       time.Duration
	syncFn      syncFunc
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{prepared: make(map[string]int)}
}

func (b *fakeBridge) Prepare(_ context.Context, currency models.Currency) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prepared[currency.ID]++
	return b.prepareErr
}

func (b *fakeBridge) Sync(_ context.Context, account models.Account, _ models.SyncConfig) iter.Seq2[models.Mutation, error] {
	return func(yield func(models.Mutation, error) bool) {
		b.mu.Lock()
		b.synced = append(b.synced, account.ID)
		b.inFlight++
		if b.inFlight > b.maxInFlight {
			b.maxInFlight = b.inFlight
		}
		fn := b.syncFn
		delay := b.delay
		b.mu.Unlock()

		defer func() {
			b.mu.Lock()
			b.inFlight--
			b.mu.Unlock()
		}()

		if delay > 0 {
			time.Sleep(delay)
		}
		if fn != nil {
			fn(account, yield)
			return
		}
		yield(func(a models.Account) models.Account {
			a.BlockHeight++
			return a
		}, nil)
	}
}

func (b *fakeBridge) prepareCount(currencyID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prepared[currencyID]
}

func (b *fakeBridge) syncedIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.synced...)
}

func (b *fakeBridge) peakInFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxInFlight
}

type fakeResolver struct {
	bridge domain.Bridge
	err    error
}

func (r fakeResolver) Resolve(models.Account) (domain.Bridge, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.bridge, nil
}

type trackedEvent struct {
	name  string
	props map[string]any
}

type recordingTracker struct {
	mu     sync.Mutex
	events []trackedEvent
}

func (r *recordingTracker) Track(event string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, trackedEvent{name: event, props: props})
}

func (r *recordingTracker) named(name string) []trackedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []trackedEvent
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

func (r *recordingTracker) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// gatedWorker holds every dispatched account until released.
type gatedWorker struct {
	mu          sync.Mutex
	started     []string
	inFlight    int
	maxInFlight int
	startedCh   chan string
	release     chan struct{}
}

func newGatedWorker() *gatedWorker {
	return &gatedWorker{
		startedCh: make(chan string, 256),
		release:   make(chan struct{}, 256),
	}
}

func (w *gatedWorker) run(_ context.Context, accountID string, done func()) {
	w.mu.Lock()
	w.started = append(w.started, accountID)
	w.inFlight++
	if w.inFlight > w.maxInFlight {
		w.maxInFlight = w.inFlight
	}
	w.mu.Unlock()

	w.startedCh <- accountID
	<-w.release

	w.mu.Lock()
	w.inFlight--
	w.mu.Unlock()
	done()
}

func (w *gatedWorker) releaseOne() {
	w.release <- struct{}{}
}

func (w *gatedWorker) peak() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.maxInFlight
}

func (w *gatedWorker) startedIDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.started...)
}

func account(id, currencyID string) models.Account {
	return models.Account{
		ID:       id,
		Currency: models.Currency{ID: currencyID, Name: currencyID, Ticker: currencyID, Family: currencyID},
	}
}

func zeroLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
