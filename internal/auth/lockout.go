package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LockoutController tracks failed sign-in attempts and enforces the
// temporary lockout window. Recovery is purely time-based: IsLockedOut
// recomputes from the stored end time on every check, so no background job
// is needed and none can drift.
type LockoutController struct {
	store     Store
	threshold int
	window    time.Duration
}

func NewLockoutController(store Store, threshold int, window time.Duration) *LockoutController {
	return &LockoutController{store: store, threshold: threshold, window: window}
}

// IsLockedOut reports whether the account is inside an active lockout
// window and how long remains. An end time in the past never reports locked,
// regardless of the failure counter.
func (l *LockoutController) IsLockedOut(account Account, now time.Time) (bool, time.Duration) {
	if account.LockoutEndsAt == nil {
		return false, 0
	}
	if remaining := account.LockoutEndsAt.Sub(now); remaining > 0 {
		return true, remaining
	}
	return false, 0
}

// RecordFailure counts one failed full-authentication attempt (wrong
// password or failed second factor, both feed the same counter). Returns the
// lockout end when the account is locked after this attempt.
func (l *LockoutController) RecordFailure(ctx context.Context, accountID string, now time.Time) (*time.Time, error) {
	ends, err := l.store.RecordFailedAttempt(ctx, accountID, l.threshold, l.window, now)
	if err != nil {
		return nil, fmt.Errorf("record failed attempt: %w", err)
	}
	return ends, nil
}

// RecordPlaceholderFailure audits a sign-in attempt for an unknown email
// under the placeholder identity. It never touches a real account and never
// reveals whether the email exists.
func (l *LockoutController) RecordPlaceholderFailure(ctx context.Context, email string, now time.Time) error {
	return l.store.AppendAudit(ctx, AuditEvent{
		ID:        uuid.NewString(),
		AccountID: PlaceholderAccountID,
		Action:    AuditLoginFailed,
		Details:   "unknown email " + email,
		CreatedAt: now,
	})
}

// RecordSuccess resets the counter and clears any lockout. Called exactly on
// successful full authentication, never on a failed one.
func (l *LockoutController) RecordSuccess(ctx context.Context, accountID string) error {
	return l.store.ResetLockout(ctx, accountID)
}
