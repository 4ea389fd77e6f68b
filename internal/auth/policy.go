package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HistoryDepth is the number of previous password hashes retained and
// checked for reuse.
const HistoryDepth = 2

const (
	minPasswordLength = 12
	maxPasswordLength = 200
)

// Hasher is the pluggable one-way password hash capability.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(hash, plaintext string) bool
}

// BcryptHasher implements Hasher with bcrypt at the default cost.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (h BcryptHasher) Verify(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// PasswordPolicy decides whether a password change is allowed now and
// whether a candidate password is an illegal reuse. Minimum and maximum age
// are evaluated independently; neither assumes anything about the other.
type PasswordPolicy struct {
	store  Store
	hasher Hasher
	minAge time.Duration
	maxAge time.Duration
}

func NewPasswordPolicy(store Store, hasher Hasher, minAge, maxAge time.Duration) *PasswordPolicy {
	return &PasswordPolicy{store: store, hasher: hasher, minAge: minAge, maxAge: maxAge}
}

// CanChangeNow refuses a change inside the minimum-age cooldown, reporting
// the exact remaining wait. The cooldown is bypassed when the change is a
// forced response to expiry, so a user required to rotate is never trapped
// behind the minimum-age wall.
func (p *PasswordPolicy) CanChangeNow(account Account, now time.Time, forced bool) error {
	if forced || account.LastPasswordChangedAt == nil {
		return nil
	}
	age := now.Sub(*account.LastPasswordChangedAt)
	if age < p.minAge {
		return ErrPasswordTooYoung{Remaining: p.minAge - age}
	}
	return nil
}

// Expired reports whether the password has reached maximum age. Expiry does
// not block authentication; it restricts the session to the change-password
// operation.
func (p *PasswordPolicy) Expired(account Account, now time.Time) bool {
	if account.LastPasswordChangedAt == nil {
		return false
	}
	return now.Sub(*account.LastPasswordChangedAt) >= p.maxAge
}

// IsReuse verifies the candidate against every retained history entry.
// The current password is covered too: it is always the newest entry.
func (p *PasswordPolicy) IsReuse(ctx context.Context, accountID, candidate string) (bool, error) {
	entries, err := p.store.PasswordHistory(ctx, accountID, HistoryDepth)
	if err != nil {
		return false, fmt.Errorf("load password history: %w", err)
	}
	for _, entry := range entries {
		if p.hasher.Verify(entry.Hash, candidate) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateNewPassword enforces the shape rules of the hashing/validation
// layer.
func ValidateNewPassword(password string) error {
	if len(password) < minPasswordLength {
		return ErrPasswordPolicy{Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if len(password) > maxPasswordLength {
		return ErrPasswordPolicy{Reason: fmt.Sprintf("must be at most %d characters", maxPasswordLength)}
	}
	return nil
}
