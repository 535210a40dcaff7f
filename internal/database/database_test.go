package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func setupFileDB(t *testing.T, path string) *DB {
	t.Helper()
	logger := zerolog.Nop()
	db, err := NewDB(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	db := setupFileDB(t, dbPath)

	assert.FileExists(t, dbPath)
	assert.Equal(t, dbPath, db.Path())
}

func TestNewDB_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "accounts.db")
	logger := zerolog.Nop()

	first, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, first.UpsertAccounts(context.Background(), sampleAccounts()))
	require.NoError(t, first.Close())

	second := setupFileDB(t, dbPath)
	accounts, err := second.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Len(t, accounts, 3)
}

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.PingContext(context.Background()))
}
