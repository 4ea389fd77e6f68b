// Package httpsession holds the server-side state behind the client's
// opaque session cookie: which account is signed in, the copy of the
// account's session token, and any pending-second-factor reference. Records
// expire on idle timeout, so an abandoned pending-2FA episode needs no
// explicit cleanup.
package httpsession

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrNotFound is returned for missing or expired sessions.
var ErrNotFound = errors.New("session not found")

// Session is one client episode. Exactly one of AccountID or
// PendingAccountID is set while the episode is live; both empty means an
// anonymous session.
type Session struct {
	ID               string `json:"id"`
	AccountID        string `json:"account_id,omitempty"`
	Token            string `json:"token,omitempty"`
	PendingAccountID string `json:"pending_account_id,omitempty"`
	PasswordExpired  bool   `json:"password_expired,omitempty"`
}

// Store persists sessions keyed by their opaque ID with an idle-timeout TTL.
// Save refreshes the TTL, which implements the idle timeout.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, session Session) error
	Delete(ctx context.Context, id string) error
}

// NewID returns an unguessable session identifier for the cookie.
func NewID() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
