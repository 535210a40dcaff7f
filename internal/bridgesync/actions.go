package bridgesync

import (
	"context"

	"bridgesync/internal/models"
)

const (
	ActionBackgroundTick       = "BACKGROUND_TICK"
	ActionSetSkipUnderPriority = "SET_SKIP_UNDER_PRIORITY"
	ActionSyncAllAccounts      = "SYNC_ALL_ACCOUNTS"
	ActionSyncOneAccount       = "SYNC_ONE_ACCOUNT"
	ActionSyncSomeAccounts     = "SYNC_SOME_ACCOUNTS"
)

// Action is a scheduling request.
type Action interface {
	Type() string
}

type BackgroundTick struct{}

type SetSkipUnderPriority struct {
	Priority int `json:"priority"`
}

type SyncAllAccounts struct {
	Priority int `json:"priority"`
}

type SyncOneAccount struct {
	AccountID string `json:"account_id"`
	Priority  int    `json:"priority"`
}

type SyncSomeAccounts struct {
	AccountIDs []string `json:"account_ids"`
	Priority   int      `json:"priority"`
}

func (BackgroundTick) Type() string       { return ActionBackgroundTick }
func (SetSkipUnderPriority) Type() string { return ActionSetSkipUnderPriority }
func (SyncAllAccounts) Type() string      { return ActionSyncAllAccounts }
func (SyncOneAccount) Type() string       { return ActionSyncOneAccount }
func (SyncSomeAccounts) Type() string     { return ActionSyncSomeAccounts }

// Dispatch routes an action to the matching scheduling primitive. It reports
// false for unsupported actions.
func (s *Scheduler) Dispatch(ctx context.Context, action Action) bool {
	if action == nil {
		s.logger.Warn().Msg("unsupported sync action: nil")
		return false
	}

	switch a := action.(type) {
	case BackgroundTick:
		// background coverage only runs when nothing more urgent is pending
		if s.Idle() {
			s.ScheduleAll(ctx, models.BackgroundPriority)
		}
	case SetSkipUnderPriority:
		s.SetMinimumPriority(ctx, a.Priority)
	case SyncAllAccounts:
		s.ScheduleAll(ctx, a.Priority)
	case SyncOneAccount:
		s.ScheduleOne(a.AccountID, a.Priority)
	case SyncSomeAccounts:
		s.ScheduleSome(a.AccountIDs, a.Priority)
	default:
		s.logger.Warn().Str("action", action.Type()).Msg("unsupported sync action")
		return false
	}

	s.logger.Debug().Str("action", action.Type()).Msg("sync action")
	return true
}
