package models

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsUpToDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	btc := Currency{ID: "bitcoin", BlockAvgTime: 10 * time.Minute}

	tests := []struct {
		name     string
		account  Account
		expected bool
	}{
		{"no block time", Account{Currency: Currency{ID: "x"}}, true},
		{"fresh", Account{Currency: btc, LastSyncDate: now.Add(-5 * time.Minute)}, true},
		{"at the edge", Account{Currency: btc, LastSyncDate: now.Add(-12 * time.Minute)}, true},
		{"outdated", Account{Currency: btc, LastSyncDate: now.Add(-13 * time.Minute)}, false},
		{"never synced", Account{Currency: btc}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUpToDate(tt.account, now, 2*time.Minute); got != tt.expected {
				t.Errorf("IsUpToDate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"plain", errors.New("boom"), ErrorKindInternal},
		{"sentinel", fmt.Errorf("dial: %w", ErrNetworkDown), ErrorKindNetworkDown},
		{"typed", NewSyncError(ErrorKindRateLimited, errors.New("429")), ErrorKindRateLimited},
		{"wrapped typed", fmt.Errorf("sync: %w", NewSyncError(ErrorKindDecode, nil)), ErrorKindDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}

	if !IsNetworkDown(NewSyncError(ErrorKindNetworkDown, ErrNetworkDown)) {
		t.Error("expected network down")
	}
	if got := NewSyncError(ErrorKindDecode, nil).Error(); got != "Decode" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestSyncStateView(t *testing.T) {
	v := SyncState{Error: NewSyncError(ErrorKindRemote, errors.New("503"))}.View()
	if v.Pending || v.Error != "Remote: 503" || v.ErrorKind != "Remote" {
		t.Errorf("unexpected view %+v", v)
	}
	if v := (SyncState{Pending: true}).View(); !v.Pending || v.Error != "" {
		t.Errorf("unexpected pending view %+v", v)
	}
}

func TestSubAccountIdentity(t *testing.T) {
	parent := Account{Currency: Currency{Name: "tron", Ticker: "TRX"}}
	token := SubAccount{Type: SubAccountToken, Token: &TokenCurrency{ID: "tron/trc20/usdt", Ticker: "USDT"}}
	child := SubAccount{Type: SubAccountChild}

	if token.TokenID(parent) != "tron/trc20/usdt" || token.Ticker(parent) != "USDT" {
		t.Errorf("unexpected token identity %s %s", token.TokenID(parent), token.Ticker(parent))
	}
	if child.TokenID(parent) != "tron" || child.Ticker(parent) != "TRX" {
		t.Errorf("unexpected child identity %s %s", child.TokenID(parent), child.Ticker(parent))
	}
}

func TestIsTokenBlacklisted(t *testing.T) {
	cfg := SyncConfig{BlacklistedTokenIDs: []string{"a", "b"}}
	if !cfg.IsTokenBlacklisted("b") || cfg.IsTokenBlacklisted("c") {
		t.Error("unexpected blacklist result")
	}
	if (SyncConfig{}).IsTokenBlacklisted("a") {
		t.Error("empty blacklist must allow everything")
	}
}

func TestHasPendingOperations(t *testing.T) {
	if (Account{}).HasPendingOperations() {
		t.Error("expected no pending operations")
	}
	a := Account{PendingOperations: []Operation{{ID: "p"}}}
	if !a.HasPendingOperations() {
		t.Error("expected pending operations")
	}
	if got := AccountIDs([]Account{{ID: "a"}, {ID: "b"}}); len(got) != 2 || got[1] != "b" {
		t.Errorf("unexpected ids %v", got)
	}
}
