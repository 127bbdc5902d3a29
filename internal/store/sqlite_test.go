// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Runs the record and account contracts against SQLite and the mock store

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQLiteStore(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created in nested directory")
}

func TestNewSQLiteStore_Reopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveRecord(ctx, "users", "u1", []byte(`{"id":"u1"}`)))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err, "schema creation and migrations are idempotent")
	defer reopened.Close()

	bodies, err := reopened.LoadRecords(ctx, "users")
	require.NoError(t, err)
	assert.Len(t, bodies, 1)
}

// storeFactories runs each contract test against both implementations.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"sqlite": func() Store { return newTestStore(t) },
		"memory": func() Store {
			s, err := NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
		"mock": func() Store { return NewMockStore() },
	}
}

func TestRecords(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.SaveRecord(ctx, "messages", "m1", []byte(`{"id":"m1","text":"a"}`)))
			require.NoError(t, s.SaveRecord(ctx, "messages", "m2", []byte(`{"id":"m2"}`)))
			require.NoError(t, s.SaveRecord(ctx, "messages", "m1", []byte(`{"id":"m1","text":"b"}`)))
			require.NoError(t, s.SaveRecord(ctx, "users", "u1", []byte(`{"id":"u1"}`)))

			bodies, err := s.LoadRecords(ctx, "messages")
			require.NoError(t, err)
			require.Len(t, bodies, 2)
			assert.JSONEq(t, `{"id":"m1","text":"b"}`, string(bodies[0]), "upsert keeps position")
			assert.JSONEq(t, `{"id":"m2"}`, string(bodies[1]))

			names, err := s.Collections(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"messages", "users"}, names)

			empty, err := s.LoadRecords(ctx, "nothing")
			require.NoError(t, err)
			assert.Empty(t, empty)

			assert.Error(t, s.SaveRecord(ctx, "", "x", []byte(`{}`)))
		})
	}
}

func TestAccounts(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()
			created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			acct := &Account{
				ID:           "u1",
				Email:        " Ann@Example.com ",
				Name:         "Ann",
				PasswordHash: "hash",
				CreatedAt:    created,
			}
			require.NoError(t, s.CreateAccount(ctx, acct))

			got, err := s.GetAccountByEmail(ctx, "ann@example.com")
			require.NoError(t, err)
			assert.Equal(t, "u1", got.ID)
			assert.Equal(t, "ann@example.com", got.Email)
			assert.True(t, created.Equal(got.CreatedAt))
			assert.Nil(t, got.LastLoginAt)

			dup := &Account{ID: "u2", Email: "ANN@example.com", Name: "Other", PasswordHash: "h", CreatedAt: created}
			assert.ErrorIs(t, s.CreateAccount(ctx, dup), ErrEmailExists)

			_, err = s.GetAccount(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.GetAccountByEmail(ctx, "missing@example.com")
			assert.ErrorIs(t, err, ErrNotFound)

			login := created.Add(time.Hour)
			require.NoError(t, s.TouchAccountLogin(ctx, "u1", login))
			got, err = s.GetAccount(ctx, "u1")
			require.NoError(t, err)
			require.NotNil(t, got.LastLoginAt)
			assert.True(t, login.Equal(*got.LastLoginAt))
			assert.ErrorIs(t, s.TouchAccountLogin(ctx, "missing", login), ErrNotFound)

			require.NoError(t, s.CreateAccount(ctx, &Account{
				ID: "u0", Email: "zed@example.com", Name: "Zed", PasswordHash: "h", CreatedAt: created.Add(-time.Hour),
			}))
			all, err := s.ListAccounts(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, "u0", all[0].ID)
			assert.Equal(t, "u1", all[1].ID)
		})
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "a@b.c", NormalizeEmail("  A@B.C "))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	return store
}
