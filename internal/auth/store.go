package auth

import (
	"context"
	"time"
)

// Store is the durable credential store. One record per account; every
// mutating method is applied as a single atomic read-modify-write against
// that account's record, so concurrent requests for the same account can
// never interleave partial updates. Operations on different accounts never
// contend.
type Store interface {
	// CreateAccount inserts the account together with its first password
	// history entry in one transaction. Returns ErrEmailTaken when the
	// email (case-insensitive) is already registered.
	CreateAccount(ctx context.Context, account Account, history PasswordHistoryEntry) error

	// AccountByEmail looks up by lowercase email. Returns ErrAccountNotFound.
	AccountByEmail(ctx context.Context, email string) (Account, error)

	AccountByID(ctx context.Context, id string) (Account, error)

	// RecordFailedAttempt increments the failure counter and, when it
	// reaches threshold, stamps the lockout end. An already-active lockout
	// is returned unchanged: attempts during the window do not extend it.
	// A lockout whose window has elapsed is cleared before counting.
	// Returns the lockout end when the account is locked after this call.
	RecordFailedAttempt(ctx context.Context, id string, threshold int, window time.Duration, now time.Time) (*time.Time, error)

	// ResetLockout zeroes the failure counter and clears the lockout end.
	// Called exactly on successful full authentication.
	ResetLockout(ctx context.Context, id string) error

	// SetSessionToken replaces the account's sole session token. An empty
	// token revokes the session.
	SetSessionToken(ctx context.Context, id, token string) error

	// CommitPasswordChange applies an accepted password change as one
	// transaction: new hash, lastPasswordChangedAt = now, session token
	// replaced (empty revokes), history entry appended, history trimmed to
	// depth (oldest evicted first).
	CommitPasswordChange(ctx context.Context, id, newHash string, depth int, now time.Time, sessionToken string) error

	// PasswordHistory returns up to limit retained entries, newest first.
	PasswordHistory(ctx context.Context, id string, limit int) ([]PasswordHistoryEntry, error)

	// SetTwoFactor stores the second-factor secret and enabled flag.
	SetTwoFactor(ctx context.Context, id string, enabled bool, secret string) error

	AppendAudit(ctx context.Context, event AuditEvent) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEvent, error)
}
