package bridgesync

import (
	"context"
	"sync"
	"time"

	"bridgesync/internal/domain"
	"bridgesync/internal/events"
	"bridgesync/internal/models"

	"github.com/rs/zerolog"
)

const mirrorTimeout = 2 * time.Second

// StateObserver is notified after every sync state transition.
type StateObserver func(accountID string, state models.SyncState)

// StateStore holds the latest sync state per account. Every write is an atomic
// merge of one key; entries are never deleted.
type StateStore struct {
	mu        sync.RWMutex
	states    map[string]models.SyncState
	obsMu     sync.RWMutex
	observers []StateObserver

	publisher domain.EventPublisher
	mirror    domain.StateRepository
	now       func() time.Time
	logger    *zerolog.Logger
}

func NewStateStore(publisher domain.EventPublisher, mirror domain.StateRepository, logger *zerolog.Logger) *StateStore {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StateStore{
		states:    make(map[string]models.SyncState),
		publisher: publisher,
		mirror:    mirror,
		now:       time.Now,
		logger:    logger,
	}
}

// Get returns the state of accountID, or the zero state when never seen.
func (s *StateStore) Get(accountID string) models.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[accountID]
}

// Snapshot copies every known state.
func (s *StateStore) Snapshot() map[string]models.SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.SyncState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// Update merges fn's result into the entry for accountID as one step.
func (s *StateStore) Update(accountID string, fn func(models.SyncState) models.SyncState) models.SyncState {
	s.mu.Lock()
	next := fn(s.states[accountID])
	s.states[accountID] = next
	s.mu.Unlock()

	s.notify(accountID, next)
	return next
}

// Set replaces the state of accountID.
func (s *StateStore) Set(accountID string, state models.SyncState) {
	s.Update(accountID, func(models.SyncState) models.SyncState { return state })
}

// TryBegin marks accountID pending unless it already is. It returns false
// when another attempt holds the account.
func (s *StateStore) TryBegin(accountID string) bool {
	s.mu.Lock()
	if s.states[accountID].Pending {
		s.mu.Unlock()
		return false
	}
	next := models.SyncState{Pending: true}
	s.states[accountID] = next
	s.mu.Unlock()

	s.notify(accountID, next)
	return true
}

// Subscribe registers an observer for all future transitions.
func (s *StateStore) Subscribe(fn StateObserver) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *StateStore) notify(accountID string, state models.SyncState) {
	s.obsMu.RLock()
	observers := append([]StateObserver(nil), s.observers...)
	s.obsMu.RUnlock()

	for _, fn := range observers {
		fn(accountID, state)
	}

	view := state.View()
	if s.mirror != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := s.mirror.SetState(ctx, accountID, view); err != nil {
			s.logger.Warn().Err(err).Str("account_id", accountID).Msg("mirror sync state")
		}
		cancel()
	}

	if s.publisher != nil {
		payload := events.SyncStatePayload{
			AccountID: accountID,
			Pending:   view.Pending,
			Error:     view.Error,
			ErrorKind: view.ErrorKind,
			At:        s.now(),
		}
		if err := s.publisher.PublishJSON(events.EventSyncStateChanged, payload); err != nil {
			s.logger.Warn().Err(err).Str("account_id", accountID).Msg("publish sync state")
		}
	}
}
