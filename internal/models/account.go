package models

import "time"

const (
	SubAccountToken = "TokenAccount"
	SubAccountChild = "ChildAccount"
)

// Currency identifies the chain an account lives on.
type Currency struct {
	ID           string        `json:"id" yaml:"id"`
	Name         string        `json:"name" yaml:"name"`
	Ticker       string        `json:"ticker" yaml:"ticker"`
	Family       string        `json:"family" yaml:"family"`
	BlockAvgTime time.Duration `json:"block_avg_time" yaml:"block_avg_time"`
}

// TokenCurrency is the currency of a token sub-account.
type TokenCurrency struct {
	ID     string `json:"id" yaml:"id"`
	Ticker string `json:"ticker" yaml:"ticker"`
}

// Operation is a single ledger entry of an account.
type Operation struct {
	ID          string    `json:"id" yaml:"id"`
	Hash        string    `json:"hash" yaml:"hash"`
	Type        string    `json:"type" yaml:"type"`
	Value       string    `json:"value" yaml:"value"`
	BlockHeight *int64    `json:"block_height,omitempty" yaml:"block_height,omitempty"`
	Date        time.Time `json:"date" yaml:"date"`
}

// SubAccount is a token or child account nested under a parent account.
type SubAccount struct {
	ID              string         `json:"id" yaml:"id"`
	Type            string         `json:"type" yaml:"type"`
	Token           *TokenCurrency `json:"token,omitempty" yaml:"token,omitempty"`
	OperationsCount int            `json:"operations_count" yaml:"operations_count"`
	VotesCount      int            `json:"votes_count" yaml:"votes_count"`
}

// Account is the authoritative record owned by the account store.
type Account struct {
	ID                string       `json:"id" yaml:"id"`
	Currency          Currency     `json:"currency" yaml:"currency"`
	DerivationMode    string       `json:"derivation_mode" yaml:"derivation_mode"`
	FreshAddress      string       `json:"fresh_address" yaml:"fresh_address"`
	FreshAddressPath  string       `json:"fresh_address_path" yaml:"fresh_address_path"`
	Balance           string       `json:"balance" yaml:"balance"`
	BlockHeight       int64        `json:"block_height" yaml:"block_height"`
	OperationsCount   int          `json:"operations_count" yaml:"operations_count"`
	Operations        []Operation  `json:"operations,omitempty" yaml:"operations,omitempty"`
	PendingOperations []Operation  `json:"pending_operations,omitempty" yaml:"pending_operations,omitempty"`
	SubAccounts       []SubAccount `json:"sub_accounts,omitempty" yaml:"sub_accounts,omitempty"`
	VotesCount        int          `json:"votes_count" yaml:"votes_count"`
	LastSyncDate      time.Time    `json:"last_sync_date" yaml:"last_sync_date"`
}

// Mutation merges newly observed remote data into an account.
type Mutation func(Account) Account

// HasPendingOperations reports whether the account awaits confirmations.
func (a Account) HasPendingOperations() bool {
	return len(a.PendingOperations) > 0
}

// TokenID returns the identifier reported for a sub-account in analytics.
func (s SubAccount) TokenID(parent Account) string {
	if s.Type == SubAccountToken && s.Token != nil {
		return s.Token.ID
	}
	return parent.Currency.Name
}

// Ticker returns the ticker of the sub-account currency.
func (s SubAccount) Ticker(parent Account) string {
	if s.Token != nil {
		return s.Token.Ticker
	}
	return parent.Currency.Ticker
}

// IsUpToDate reports whether the account was synced recently enough for its
// currency. Currencies without an average block time are always up to date.
func IsUpToDate(a Account, now time.Time, outdatedDelay time.Duration) bool {
	if a.Currency.BlockAvgTime <= 0 {
		return true
	}
	return now.Sub(a.LastSyncDate) <= a.Currency.BlockAvgTime+outdatedDelay
}

// AccountIDs extracts identifiers preserving order.
func AccountIDs(accounts []Account) []string {
	ids := make([]string, 0, len(accounts))
	for i := range accounts {
		ids = append(ids, accounts[i].ID)
	}
	return ids
}
