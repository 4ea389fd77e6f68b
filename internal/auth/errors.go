package auth

import (
	"errors"
	"fmt"
	"time"
)

// Expected authentication outcomes. All of these resolve to a 4xx response
// with a human-readable message; only storage failures propagate as 5xx.
var (
	// ErrInvalidCredentials covers both unknown emails and wrong passwords.
	// The two cases are deliberately indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailTaken           = errors.New("email already registered")
	ErrAccountNotFound      = errors.New("account not found")
	ErrPasswordReused       = errors.New("password matches one of your recent passwords")
	ErrSecondFactorRequired = errors.New("second factor required")
	ErrSecondFactorInvalid  = errors.New("invalid authentication code")
	ErrInvalidResetToken    = errors.New("invalid or expired reset token")

	// ErrSessionSuperseded means another login replaced this session's token.
	// It is never shown to the user as an error; the request is simply
	// treated as unauthenticated.
	ErrSessionSuperseded = errors.New("session superseded by a newer login")
)

// ErrAccountLocked reports a temporary lockout with its end time so callers
// can render the remaining wait.
type ErrAccountLocked struct {
	Until time.Time
}

func (e ErrAccountLocked) Error() string {
	return "account temporarily locked"
}

// Remaining returns the time left in the lockout window, never negative.
func (e ErrAccountLocked) Remaining(now time.Time) time.Duration {
	if r := e.Until.Sub(now); r > 0 {
		return r
	}
	return 0
}

// ErrPasswordTooYoung rejects a voluntary password change inside the
// minimum-age cooldown.
type ErrPasswordTooYoung struct {
	Remaining time.Duration
}

func (e ErrPasswordTooYoung) Error() string {
	return fmt.Sprintf("password changed too recently, wait %s", e.Remaining.Round(time.Second))
}

// ErrPasswordPolicy rejects a candidate password whose shape fails the
// hashing/validation layer's rules.
type ErrPasswordPolicy struct {
	Reason string
}

func (e ErrPasswordPolicy) Error() string {
	return "password policy violation: " + e.Reason
}
