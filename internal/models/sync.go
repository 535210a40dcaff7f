package models

import "time"

const (
	// NoPausePriority is the SkipUnderPriority value that lets every request through.
	NoPausePriority = -1

	// BackgroundPriority is used for periodic full refresh passes.
	BackgroundPriority = -1

	// PendingOperationsPriority outranks background work for accounts awaiting confirmations.
	PendingOperationsPriority = 20

	// AnalyticsThrottleWindow suppresses duplicate completion events per account.
	AnalyticsThrottleWindow = 90 * time.Second
)

const (
	EventSyncSuccess      = "SyncSuccess"
	EventSyncError        = "SyncError"
	EventSyncSuccessToken = "SyncSuccessToken"
)

// SyncState is the latest observed sync status of one account.
type SyncState struct {
	Pending bool
	Error   error
}

// SyncStateView is the serializable form of SyncState.
type SyncStateView struct {
	Pending   bool   `json:"pending"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// View converts the state for transport.
func (s SyncState) View() SyncStateView {
	v := SyncStateView{Pending: s.Pending}
	if s.Error != nil {
		v.Error = s.Error.Error()
		v.ErrorKind = string(KindOf(s.Error))
	}
	return v
}

// SyncTask is a batch of account ids submitted under one priority.
type SyncTask struct {
	AccountIDs []string `json:"account_ids"`
	Priority   int      `json:"priority"`
}

// SyncConfig is forwarded to the bridge on every sync.
type SyncConfig struct {
	PaginationConfig    map[string]int
	BlacklistedTokenIDs []string
}

// IsTokenBlacklisted reports whether token id must be skipped.
func (c SyncConfig) IsTokenBlacklisted(tokenID string) bool {
	for _, id := range c.BlacklistedTokenIDs {
		if id == tokenID {
			return true
		}
	}
	return false
}
