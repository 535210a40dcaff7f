package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bridgesync/internal/events"
	"bridgesync/internal/models"
)

// ListAccounts returns every account in insertion order.
func (db *DB) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.QueryContext(ctx, `SELECT data FROM accounts ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		var a models.Account
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to decode account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// GetAccount returns models.ErrAccountNotFound for unknown ids.
func (db *DB) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT data FROM accounts WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}

	var a models.Account
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to decode account %s: %w", id, err)
	}
	return &a, nil
}

// PendingAccountIDs lists accounts waiting for operation confirmations.
func (db *DB) PendingAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM accounts WHERE has_pending = 1 ORDER BY position ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateAccount applies fn to the stored account inside one transaction.
func (db *DB) UpdateAccount(ctx context.Context, accountID string, fn models.Mutation) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT data FROM accounts WHERE id = ?`, accountID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrAccountNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	var current models.Account
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("failed to decode account %s: %w", accountID, err)
	}

	next := fn(current)
	next.ID = accountID

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode account %s: %w", accountID, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET currency_id = ?, family = ?, data = ?, has_pending = ?, updated_at = ? WHERE id = ?`,
		next.Currency.ID, next.Currency.Family, string(data), next.HasPendingOperations(), time.Now(), accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to update account %s: %w", accountID, err)
	}
	return tx.Commit()
}

// UpsertAccounts inserts or replaces accounts and announces the change.
func (db *DB) UpsertAccounts(ctx context.Context, accounts []models.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var position int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), 0) FROM accounts`).Scan(&position); err != nil {
		return fmt.Errorf("failed to read account position: %w", err)
	}

	now := time.Now()
	ids := make([]string, 0, len(accounts))
	for i := range accounts {
		a := accounts[i]
		if a.ID == "" {
			return errors.New("account id is required")
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to encode account %s: %w", a.ID, err)
		}
		position++
		_, err = tx.ExecContext(ctx, `
            INSERT INTO accounts (id, currency_id, family, data, has_pending, position, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                currency_id = excluded.currency_id,
                family = excluded.family,
                data = excluded.data,
                has_pending = excluded.has_pending,
                updated_at = excluded.updated_at`,
			a.ID, a.Currency.ID, a.Currency.Family, string(data), a.HasPendingOperations(), position, now, now,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert account %s: %w", a.ID, err)
		}
		ids = append(ids, a.ID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit accounts: %w", err)
	}

	db.announce(ids)
	return nil
}

// DeleteAccount removes an account. Unknown ids are not an error.
func (db *DB) DeleteAccount(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.announce([]string{id})
	}
	return nil
}

func (db *DB) announce(ids []string) {
	if db.publisher == nil {
		return
	}
	if err := db.publisher.PublishJSON(events.EventAccountsChanged, events.AccountsPayload{AccountIDs: ids}); err != nil {
		db.logger.Warn().Err(err).Msg("publish accounts changed")
	}
}
