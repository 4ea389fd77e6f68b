package auth

import "time"

// PlaceholderAccountID is the identity under which failed sign-in attempts
// for unknown emails are audited. It never corresponds to a real account, so
// those attempts can never lock anyone out.
const PlaceholderAccountID = "unknown"

// Account is the per-member credential record. It is owned by the Store and
// mutated only through Store operations, each of which is a single atomic
// read-modify-write against the row.
type Account struct {
	ID                    string
	Email                 string
	PasswordHash          string
	LastPasswordChangedAt *time.Time
	SessionToken          string
	TwoFactorEnabled      bool
	TwoFactorSecret       string
	FailedAttempts        int
	LockoutEndsAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// PasswordHistoryEntry is one previously used password hash. At most
// HistoryDepth entries are retained per account, newest first.
type PasswordHistoryEntry struct {
	ID        string
	AccountID string
	Hash      string
	CreatedAt time.Time
}

// AuditEvent records a security-relevant action against an account.
type AuditEvent struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AuditLoginFailed       = "LoginFailed"
	AuditLoginSucceeded    = "LoginSucceeded"
	AuditLoginSucceeded2FA = "LoginSucceeded2FA"
	AuditAccountLocked     = "AccountLocked"
	AuditPasswordChanged   = "PasswordChanged"
	AuditPasswordReset     = "PasswordReset"
	AuditRegistered        = "Registered"
	AuditLogout            = "Logout"
	AuditTwoFactorEnabled  = "TwoFactorEnabled"
	AuditTwoFactorDisabled = "TwoFactorDisabled"
)

// State is the authentication state of one account's login episode. Every
// entry point consults the same transition logic in Service instead of
// re-deriving locked/expired/pending checks ad hoc.
type State int

const (
	StateAnonymous State = iota
	StatePendingSecondFactor
	StateAuthenticatedNormal
	StateAuthenticatedPasswordExpired
	StateLockedOut
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StatePendingSecondFactor:
		return "pending_second_factor"
	case StateAuthenticatedNormal:
		return "authenticated"
	case StateAuthenticatedPasswordExpired:
		return "authenticated_password_expired"
	case StateLockedOut:
		return "locked_out"
	default:
		return "unknown"
	}
}
