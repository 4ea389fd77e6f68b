package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAccount(t *testing.T, store *MemoryStore, id string) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateAccount(context.Background(), Account{
		ID: id, Email: id + "@example.com", PasswordHash: "plain:pw", CreatedAt: now, UpdatedAt: now,
	}, PasswordHistoryEntry{ID: id + "-h", AccountID: id, Hash: "plain:pw", CreatedAt: now}))
}

func TestRecordFailureLocksAtThreshold(t *testing.T) {
	store := NewMemoryStore()
	controller := NewLockoutController(store, 3, 15*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedAccount(t, store, "acct")

	for i := 0; i < 2; i++ {
		ends, err := controller.RecordFailure(ctx, "acct", now)
		require.NoError(t, err)
		assert.Nil(t, ends)
	}

	ends, err := controller.RecordFailure(ctx, "acct", now)
	require.NoError(t, err)
	require.NotNil(t, ends)
	assert.Equal(t, now.Add(15*time.Minute), *ends)
}

func TestActiveLockoutIsNotExtended(t *testing.T) {
	store := NewMemoryStore()
	controller := NewLockoutController(store, 3, 15*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedAccount(t, store, "acct")
	for i := 0; i < 3; i++ {
		_, err := controller.RecordFailure(ctx, "acct", now)
		require.NoError(t, err)
	}

	ends, err := controller.RecordFailure(ctx, "acct", now.Add(5*time.Minute))
	require.NoError(t, err)
	require.NotNil(t, ends)
	assert.Equal(t, now.Add(15*time.Minute), *ends)
}

func TestElapsedLockoutStartsFreshCount(t *testing.T) {
	store := NewMemoryStore()
	controller := NewLockoutController(store, 3, 15*time.Minute)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedAccount(t, store, "acct")
	for i := 0; i < 3; i++ {
		_, err := controller.RecordFailure(ctx, "acct", now)
		require.NoError(t, err)
	}

	later := now.Add(16 * time.Minute)
	ends, err := controller.RecordFailure(ctx, "acct", later)
	require.NoError(t, err)
	assert.Nil(t, ends)

	account, err := store.AccountByID(ctx, "acct")
	require.NoError(t, err)
	locked, _ := controller.IsLockedOut(account, later)
	assert.False(t, locked)
}

func TestIsLockedOutRemaining(t *testing.T) {
	controller := NewLockoutController(nil, 3, 15*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	locked, _ := controller.IsLockedOut(Account{}, now)
	assert.False(t, locked)

	ends := now.Add(10 * time.Minute)
	locked, remaining := controller.IsLockedOut(Account{LockoutEndsAt: &ends}, now)
	assert.True(t, locked)
	assert.Equal(t, 10*time.Minute, remaining)

	locked, _ = controller.IsLockedOut(Account{LockoutEndsAt: &ends}, ends)
	assert.False(t, locked)
}
