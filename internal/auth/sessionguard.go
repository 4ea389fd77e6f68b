package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SessionGuard owns the single server-recognized session token per account.
// This is a last-write-wins single-session model: logging in elsewhere
// silently invalidates the previous location's session on its next request.
type SessionGuard struct {
	store Store
}

func NewSessionGuard(store Store) *SessionGuard {
	return &SessionGuard{store: store}
}

// Issue mints a new unguessable token and stores it as the account's sole
// session token, implicitly invalidating any prior one system-wide. Called
// exactly once per completed full authentication, never per request.
func (g *SessionGuard) Issue(ctx context.Context, accountID string) (string, error) {
	token, err := NewSessionToken()
	if err != nil {
		return "", err
	}
	if err := g.store.SetSessionToken(ctx, accountID, token); err != nil {
		return "", fmt.Errorf("store session token: %w", err)
	}
	return token, nil
}

// Validate compares the stored token against the client-presented one. A
// mismatch means another login superseded this one; an empty presented token
// never passes.
func (g *SessionGuard) Validate(account Account, presented string) bool {
	return presented != "" && account.SessionToken == presented
}

// Revoke clears the account's session token. Used on explicit logout and on
// password reset, since the old credential may have been compromised.
func (g *SessionGuard) Revoke(ctx context.Context, accountID string) error {
	if err := g.store.SetSessionToken(ctx, accountID, ""); err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

// NewSessionToken returns a high-entropy opaque token.
func NewSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
