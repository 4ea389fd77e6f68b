package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionGuardIssueSupersedes(t *testing.T) {
	store := NewMemoryStore()
	guard := NewSessionGuard(store)
	ctx := context.Background()

	seedAccount(t, store, "acct")

	first, err := guard.Issue(ctx, "acct")
	require.NoError(t, err)
	second, err := guard.Issue(ctx, "acct")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	account, err := store.AccountByID(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, guard.Validate(account, first))
	assert.True(t, guard.Validate(account, second))
}

func TestSessionGuardRevoke(t *testing.T) {
	store := NewMemoryStore()
	guard := NewSessionGuard(store)
	ctx := context.Background()

	seedAccount(t, store, "acct")
	token, err := guard.Issue(ctx, "acct")
	require.NoError(t, err)

	require.NoError(t, guard.Revoke(ctx, "acct"))

	account, err := store.AccountByID(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, guard.Validate(account, token))
	assert.False(t, guard.Validate(account, ""), "empty token never validates")
}

func TestNewSessionTokenUnique(t *testing.T) {
	a, err := NewSessionToken()
	require.NoError(t, err)
	b, err := NewSessionToken()
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}
