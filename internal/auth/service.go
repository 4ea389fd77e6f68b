package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Options carries the named policy tunables. Zero values fall back to the
// documented defaults; the struct is validated once at construction and
// passed in explicitly, never read from ambient configuration.
type Options struct {
	MinPasswordAge   time.Duration // cooldown before a voluntary change
	MaxPasswordAge   time.Duration // deadline forcing a change
	LockoutThreshold int           // failed attempts before lockout
	LockoutWindow    time.Duration // how long a lockout lasts
	ResetTokenTTL    time.Duration // forgot-password token lifetime
	ResetSecret      []byte        // HMAC key for reset tokens
	TOTPIssuer       string
}

const (
	defaultMinPasswordAge   = time.Minute
	defaultMaxPasswordAge   = 2 * time.Minute
	defaultLockoutThreshold = 3
	defaultLockoutWindow    = 15 * time.Minute
	defaultResetTokenTTL    = 30 * time.Minute
)

func (o *Options) fillDefaults() {
	if o.MinPasswordAge <= 0 {
		o.MinPasswordAge = defaultMinPasswordAge
	}
	if o.MaxPasswordAge <= 0 {
		o.MaxPasswordAge = defaultMaxPasswordAge
	}
	if o.LockoutThreshold <= 0 {
		o.LockoutThreshold = defaultLockoutThreshold
	}
	if o.LockoutWindow <= 0 {
		o.LockoutWindow = defaultLockoutWindow
	}
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = defaultResetTokenTTL
	}
}

// Service is the authentication orchestrator: the one authoritative place
// that sequences credential check, lockout check, second factor, password
// expiry, and session issuance. All entry points consult it instead of
// re-deriving those decisions.
type Service struct {
	store   Store
	hasher  Hasher
	policy  *PasswordPolicy
	lockout *LockoutController
	gate    *TwoFactorGate
	guard   *SessionGuard

	resetSecret []byte
	resetTTL    time.Duration

	// dummyHash equalizes verification cost for unknown emails so timing
	// cannot reveal whether an email is registered.
	dummyHash string

	now func() time.Time
}

func NewService(store Store, hasher Hasher, opts Options) (*Service, error) {
	opts.fillDefaults()
	if len(opts.ResetSecret) == 0 {
		return nil, errors.New("auth: reset secret is required")
	}

	dummy, err := hasher.Hash("placeholder-timing-equalizer")
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}

	return &Service{
		store:       store,
		hasher:      hasher,
		policy:      NewPasswordPolicy(store, hasher, opts.MinPasswordAge, opts.MaxPasswordAge),
		lockout:     NewLockoutController(store, opts.LockoutThreshold, opts.LockoutWindow),
		gate:        NewTwoFactorGate(opts.TOTPIssuer),
		guard:       NewSessionGuard(store),
		resetSecret: opts.ResetSecret,
		resetTTL:    opts.ResetTokenTTL,
		dummyHash:   dummy,
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithClock overrides the service clock. Tests only.
func (s *Service) WithClock(now func() time.Time) {
	s.now = now
}

// SignInResult is the outcome of a sign-in step.
type SignInResult struct {
	State        State
	Account      Account
	SessionToken string // set only when a session was issued
}

// SignIn runs the first authentication step: lockout check, then password
// verification, then either completion (session issued) or the
// pending-second-factor state (no session yet).
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	now := s.now()

	if email == "" || password == "" {
		return SignInResult{}, ErrInvalidCredentials
	}

	account, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Same work and same response shape as a wrong password.
			s.hasher.Verify(s.dummyHash, password)
			_ = s.lockout.RecordPlaceholderFailure(ctx, email, now)
			return SignInResult{}, ErrInvalidCredentials
		}
		return SignInResult{}, fmt.Errorf("look up account: %w", err)
	}

	if locked, remaining := s.lockout.IsLockedOut(account, now); locked {
		// Attempts during the window are rejected without extending it,
		// correct password or not.
		s.hasher.Verify(s.dummyHash, password)
		return SignInResult{State: StateLockedOut}, ErrAccountLocked{Until: now.Add(remaining)}
	}

	if !s.hasher.Verify(account.PasswordHash, password) {
		return s.failAttempt(ctx, account, now)
	}

	if s.gate.IsEnabled(account) {
		// Correct password does not complete authentication: no session
		// token, no lockout reset until the second factor is satisfied.
		return SignInResult{State: StatePendingSecondFactor, Account: account}, nil
	}

	return s.completeAuthentication(ctx, account, now, AuditLoginSucceeded)
}

// CompleteSecondFactor finishes a pending-second-factor episode. A failed
// code is tracked by the lockout controller identically to a password
// failure: an attacker with the password but not the device is throttled the
// same way.
func (s *Service) CompleteSecondFactor(ctx context.Context, accountID, code string) (SignInResult, error) {
	now := s.now()

	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return SignInResult{}, ErrInvalidCredentials
		}
		return SignInResult{}, fmt.Errorf("look up account: %w", err)
	}

	if locked, remaining := s.lockout.IsLockedOut(account, now); locked {
		return SignInResult{State: StateLockedOut}, ErrAccountLocked{Until: now.Add(remaining)}
	}

	if !s.gate.IsEnabled(account) || !s.gate.VerifyCode(account.TwoFactorSecret, code, now) {
		result, err := s.failAttempt(ctx, account, now)
		if errors.Is(err, ErrInvalidCredentials) {
			err = ErrSecondFactorInvalid
		}
		return result, err
	}

	return s.completeAuthentication(ctx, account, now, AuditLoginSucceeded2FA)
}

// failAttempt records a failed full-authentication attempt and maps the
// outcome: either plain invalid credentials or a lockout that begins now.
func (s *Service) failAttempt(ctx context.Context, account Account, now time.Time) (SignInResult, error) {
	lockedUntil, err := s.lockout.RecordFailure(ctx, account.ID, now)
	if err != nil {
		return SignInResult{}, err
	}
	if lockedUntil != nil {
		s.audit(ctx, account.ID, AuditAccountLocked, "", now)
		return SignInResult{State: StateLockedOut}, ErrAccountLocked{Until: *lockedUntil}
	}
	s.audit(ctx, account.ID, AuditLoginFailed, "", now)
	return SignInResult{}, ErrInvalidCredentials
}

// completeAuthentication is the single place full authentication finishes:
// lockout counters reset, a fresh session token issued, and password expiry
// evaluated to pick the normal or restricted state. Expiry never blocks the
// login itself.
func (s *Service) completeAuthentication(ctx context.Context, account Account, now time.Time, auditAction string) (SignInResult, error) {
	if err := s.lockout.RecordSuccess(ctx, account.ID); err != nil {
		return SignInResult{}, fmt.Errorf("reset lockout: %w", err)
	}

	token, err := s.guard.Issue(ctx, account.ID)
	if err != nil {
		return SignInResult{}, err
	}
	account.SessionToken = token

	state := StateAuthenticatedNormal
	if s.policy.Expired(account, now) {
		state = StateAuthenticatedPasswordExpired
	}

	s.audit(ctx, account.ID, auditAction, "", now)
	return SignInResult{State: state, Account: account, SessionToken: token}, nil
}

// ValidateSession checks a client-presented token against the account's
// stored one. ErrSessionSuperseded means another login replaced it and the
// caller must treat the request as unauthenticated.
func (s *Service) ValidateSession(ctx context.Context, accountID, presented string) (Account, error) {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return Account{}, ErrSessionSuperseded
		}
		return Account{}, fmt.Errorf("look up account: %w", err)
	}
	if !s.guard.Validate(account, presented) {
		return Account{}, ErrSessionSuperseded
	}
	return account, nil
}

// PasswordExpired reports whether the account's password has reached
// maximum age as of now.
func (s *Service) PasswordExpired(account Account) bool {
	return s.policy.Expired(account, s.now())
}

// ChangePassword applies the full change protocol: current password proof,
// shape validation, minimum-age check (bypassed when forced by expiry),
// reuse check against retained history, then one atomic commit that updates
// the hash, appends and trims history, stamps the change time, and rotates
// the session token. The caller stays signed in with the returned token.
func (s *Service) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string, forced bool) (string, error) {
	now := s.now()

	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return "", fmt.Errorf("look up account: %w", err)
	}

	if err := s.policy.CanChangeNow(account, now, forced); err != nil {
		return "", err
	}

	if !s.hasher.Verify(account.PasswordHash, currentPassword) {
		return "", ErrInvalidCredentials
	}

	if err := ValidateNewPassword(newPassword); err != nil {
		return "", err
	}

	reused, err := s.policy.IsReuse(ctx, accountID, newPassword)
	if err != nil {
		return "", err
	}
	if reused {
		return "", ErrPasswordReused
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return "", err
	}
	token, err := NewSessionToken()
	if err != nil {
		return "", err
	}
	if err := s.store.CommitPasswordChange(ctx, accountID, newHash, HistoryDepth, now, token); err != nil {
		return "", fmt.Errorf("commit password change: %w", err)
	}

	s.audit(ctx, accountID, AuditPasswordChanged, "", now)
	return token, nil
}

// RegisterInput is the material for a new account.
type RegisterInput struct {
	Email    string
	Password string
}

// Register creates the account with its seeded history entry and signs the
// member in immediately. The registration hash counts as the first password
// change for aging and reuse purposes.
func (s *Service) Register(ctx context.Context, input RegisterInput) (SignInResult, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	now := s.now()

	if _, err := mail.ParseAddress(email); err != nil {
		return SignInResult{}, ErrPasswordPolicy{Reason: "invalid email address"}
	}
	if err := ValidateNewPassword(input.Password); err != nil {
		return SignInResult{}, err
	}

	hash, err := s.hasher.Hash(input.Password)
	if err != nil {
		return SignInResult{}, err
	}
	token, err := NewSessionToken()
	if err != nil {
		return SignInResult{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return SignInResult{}, fmt.Errorf("generate account id: %w", err)
	}

	changed := now
	account := Account{
		ID:                    id.String(),
		Email:                 email,
		PasswordHash:          hash,
		LastPasswordChangedAt: &changed,
		SessionToken:          token,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	history := PasswordHistoryEntry{
		ID:        uuid.NewString(),
		AccountID: account.ID,
		Hash:      hash,
		CreatedAt: now,
	}

	if err := s.store.CreateAccount(ctx, account, history); err != nil {
		return SignInResult{}, err
	}

	s.audit(ctx, account.ID, AuditRegistered, "", now)
	return SignInResult{State: StateAuthenticatedNormal, Account: account, SessionToken: token}, nil
}

// Logout revokes the account's session token unconditionally.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	if err := s.guard.Revoke(ctx, accountID); err != nil {
		return err
	}
	s.audit(ctx, accountID, AuditLogout, "", s.now())
	return nil
}

const resetTokenPurpose = "pwreset"

// ForgotPassword mints a signed, short-lived reset token for the account
// behind the email. ErrAccountNotFound is returned for the caller to swallow:
// the HTTP response must be constant-shape either way.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, Account, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	account, err := s.store.AccountByEmail(ctx, email)
	if err != nil {
		return "", Account{}, err
	}

	now := s.now()
	claims := jwt.MapClaims{
		"sub": account.ID,
		"typ": resetTokenPurpose,
		"iat": now.Unix(),
		"exp": now.Add(s.resetTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.resetSecret)
	if err != nil {
		return "", Account{}, fmt.Errorf("sign reset token: %w", err)
	}
	return token, account, nil
}

// ResetPassword consumes a reset token and sets a new password. Any
// outstanding session is revoked, since the old credential may have been
// compromised. The minimum-age cooldown does not apply on this path.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, func(t *jwt.Token) (any, error) {
		return s.resetSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return ErrInvalidResetToken
	}
	if purpose, _ := claims["typ"].(string); purpose != resetTokenPurpose {
		return ErrInvalidResetToken
	}
	accountID, _ := claims["sub"].(string)
	if accountID == "" {
		return ErrInvalidResetToken
	}

	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrInvalidResetToken
		}
		return fmt.Errorf("look up account: %w", err)
	}

	if err := ValidateNewPassword(newPassword); err != nil {
		return err
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	now := s.now()
	// Empty session token: the reset revokes any live session system-wide.
	if err := s.store.CommitPasswordChange(ctx, account.ID, newHash, HistoryDepth, now, ""); err != nil {
		return fmt.Errorf("commit password reset: %w", err)
	}

	s.audit(ctx, account.ID, AuditPasswordReset, "", now)
	return nil
}

// BeginTwoFactorEnrollment stores a fresh disabled secret and returns it
// with the otpauth URL. Enabling requires ConfirmTwoFactor with a valid code
// first.
func (s *Service) BeginTwoFactorEnrollment(ctx context.Context, accountID string) (secret, url string, err error) {
	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return "", "", fmt.Errorf("look up account: %w", err)
	}

	secret, url, err = s.gate.GenerateSecret(account.Email)
	if err != nil {
		return "", "", err
	}
	if err := s.store.SetTwoFactor(ctx, accountID, false, secret); err != nil {
		return "", "", fmt.Errorf("store totp secret: %w", err)
	}
	return secret, url, nil
}

// ConfirmTwoFactor flips the enabled flag once the user proves possession of
// the authenticator by submitting a valid code against the pending secret.
func (s *Service) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	now := s.now()

	account, err := s.store.AccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if account.TwoFactorSecret == "" || !s.gate.VerifyCode(account.TwoFactorSecret, code, now) {
		return ErrSecondFactorInvalid
	}
	if err := s.store.SetTwoFactor(ctx, accountID, true, account.TwoFactorSecret); err != nil {
		return fmt.Errorf("enable two-factor: %w", err)
	}
	s.audit(ctx, accountID, AuditTwoFactorEnabled, "", now)
	return nil
}

// DisableTwoFactor turns the second factor off. Requires an authenticated
// session but no re-proof.
func (s *Service) DisableTwoFactor(ctx context.Context, accountID string) error {
	if err := s.store.SetTwoFactor(ctx, accountID, false, ""); err != nil {
		return fmt.Errorf("disable two-factor: %w", err)
	}
	s.audit(ctx, accountID, AuditTwoFactorDisabled, "", s.now())
	return nil
}

// RecentAuditEvents returns the newest events first.
func (s *Service) RecentAuditEvents(ctx context.Context, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	return s.store.RecentAudit(ctx, limit)
}

// audit records an event best-effort; a failed audit write never fails the
// authentication operation that triggered it.
func (s *Service) audit(ctx context.Context, accountID, action, details string, now time.Time) {
	_ = s.store.AppendAudit(ctx, AuditEvent{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Action:    action,
		Details:   details,
		CreatedAt: now,
	})
}
