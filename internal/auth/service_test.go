package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plainHasher makes hashing deterministic and cheap for tests.
type plainHasher struct{}

func (plainHasher) Hash(plaintext string) (string, error) { return "plain:" + plaintext, nil }
func (plainHasher) Verify(hash, plaintext string) bool    { return hash == "plain:"+plaintext }

type testClock struct {
	current time.Time
}

func newTestClock() *testClock {
	return &testClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.current }
func (c *testClock) Advance(d time.Duration) { c.current = c.current.Add(d) }

func newTestService(t *testing.T) (*Service, *MemoryStore, *testClock) {
	t.Helper()
	store := NewMemoryStore()
	service, err := NewService(store, plainHasher{}, Options{
		MinPasswordAge:   time.Minute,
		MaxPasswordAge:   2 * time.Minute,
		LockoutThreshold: 3,
		LockoutWindow:    15 * time.Minute,
		ResetTokenTTL:    30 * time.Minute,
		ResetSecret:      []byte("test-reset-secret"),
	})
	require.NoError(t, err)

	clock := newTestClock()
	service.WithClock(clock.Now)
	return service, store, clock
}

func registerMember(t *testing.T, service *Service, email, password string) SignInResult {
	t.Helper()
	result, err := service.Register(context.Background(), RegisterInput{Email: email, Password: password})
	require.NoError(t, err)
	return result
}

func TestRegisterStartsPasswordAge(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "anna@example.com", "correct horse battery")
	require.Equal(t, StateAuthenticatedNormal, result.State)
	require.NotEmpty(t, result.SessionToken)
	require.NotNil(t, result.Account.LastPasswordChangedAt)

	// immediate change refused, the cooldown starts at registration
	_, err := service.ChangePassword(ctx, result.Account.ID, "correct horse battery", "completely different pw", false)
	var tooYoung ErrPasswordTooYoung
	require.ErrorAs(t, err, &tooYoung)
	assert.Equal(t, time.Minute, tooYoung.Remaining)

	clock.Advance(time.Minute)
	_, err = service.ChangePassword(ctx, result.Account.ID, "correct horse battery", "completely different pw", false)
	require.NoError(t, err)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.Register(ctx, RegisterInput{Email: "not-an-email", Password: "a perfectly fine pw"})
	var policyErr ErrPasswordPolicy
	require.ErrorAs(t, err, &policyErr)

	_, err = service.Register(ctx, RegisterInput{Email: "ok@example.com", Password: "short"})
	require.ErrorAs(t, err, &policyErr)

	registerMember(t, service, "taken@example.com", "correct horse battery")
	_, err = service.Register(ctx, RegisterInput{Email: "taken@example.com", Password: "correct horse battery"})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestSignInUnknownEmailLooksLikeWrongPassword(t *testing.T) {
	service, store, _ := newTestService(t)
	ctx := context.Background()

	_, err := service.SignIn(ctx, "nobody@example.com", "whatever password")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	events, err := store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, AuditLoginFailed, events[0].Action)
	assert.Equal(t, PlaceholderAccountID, events[0].AccountID)
}

func TestLockoutAfterThreeFailures(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	registerMember(t, service, "bruno@example.com", "correct horse battery")

	for i := 0; i < 2; i++ {
		_, err := service.SignIn(ctx, "bruno@example.com", "wrong password here")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	_, err := service.SignIn(ctx, "bruno@example.com", "wrong password here")
	var locked ErrAccountLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 15*time.Minute, locked.Remaining(clock.Now()))

	// the correct password is rejected inside the window and does not
	// extend it
	_, err = service.SignIn(ctx, "bruno@example.com", "correct horse battery")
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 15*time.Minute, locked.Remaining(clock.Now()))

	clock.Advance(15 * time.Minute)
	result, err := service.SignIn(ctx, "bruno@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.NotEmpty(t, result.SessionToken)
}

func TestLockoutWindowElapseResetsCounter(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	registerMember(t, service, "carla@example.com", "correct horse battery")

	for i := 0; i < 3; i++ {
		_, _ = service.SignIn(ctx, "carla@example.com", "wrong password here")
	}
	clock.Advance(15 * time.Minute)

	// the stale count is gone: one more failure is just a failure
	_, err := service.SignIn(ctx, "carla@example.com", "wrong password here")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	registerMember(t, service, "dana@example.com", "correct horse battery")

	for i := 0; i < 2; i++ {
		_, err := service.SignIn(ctx, "dana@example.com", "wrong password here")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := service.SignIn(ctx, "dana@example.com", "correct horse battery")
	require.NoError(t, err)

	// counter started over: two more failures do not lock
	for i := 0; i < 2; i++ {
		_, err = service.SignIn(ctx, "dana@example.com", "wrong password here")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
}

func TestPasswordExpiryRestrictsState(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "egon@example.com", "correct horse battery")
	clock.Advance(2 * time.Minute)

	signIn, err := service.SignIn(ctx, "egon@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticatedPasswordExpired, signIn.State)

	// the forced change skips the minimum-age cooldown
	token, err := service.ChangePassword(ctx, result.Account.ID, "correct horse battery", "another different pw", true)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	signIn, err = service.SignIn(ctx, "egon@example.com", "another different pw")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticatedNormal, signIn.State)
}

func TestChangePasswordReuseWindow(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "frida@example.com", "first password here")
	id := result.Account.ID

	clock.Advance(time.Minute)
	_, err := service.ChangePassword(ctx, id, "first password here", "second password here", false)
	require.NoError(t, err)

	// both retained entries are blocked
	clock.Advance(time.Minute)
	_, err = service.ChangePassword(ctx, id, "second password here", "second password here", false)
	require.ErrorIs(t, err, ErrPasswordReused)
	_, err = service.ChangePassword(ctx, id, "second password here", "first password here", false)
	require.ErrorIs(t, err, ErrPasswordReused)

	_, err = service.ChangePassword(ctx, id, "second password here", "third password here", false)
	require.NoError(t, err)

	// the first password has aged out of the two-entry history
	clock.Advance(time.Minute)
	_, err = service.ChangePassword(ctx, id, "third password here", "first password here", false)
	require.NoError(t, err)
}

func TestChangePasswordRotatesSessionToken(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "gerd@example.com", "correct horse battery")
	id := result.Account.ID
	oldToken := result.SessionToken

	clock.Advance(time.Minute)
	newToken, err := service.ChangePassword(ctx, id, "correct horse battery", "completely different pw", false)
	require.NoError(t, err)
	require.NotEqual(t, oldToken, newToken)

	_, err = service.ValidateSession(ctx, id, oldToken)
	require.ErrorIs(t, err, ErrSessionSuperseded)
	_, err = service.ValidateSession(ctx, id, newToken)
	require.NoError(t, err)
}

func TestSingleActiveSession(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "hana@example.com", "correct horse battery")
	id := result.Account.ID

	first, err := service.SignIn(ctx, "hana@example.com", "correct horse battery")
	require.NoError(t, err)
	second, err := service.SignIn(ctx, "hana@example.com", "correct horse battery")
	require.NoError(t, err)
	require.NotEqual(t, first.SessionToken, second.SessionToken)

	_, err = service.ValidateSession(ctx, id, first.SessionToken)
	require.ErrorIs(t, err, ErrSessionSuperseded)
	_, err = service.ValidateSession(ctx, id, second.SessionToken)
	require.NoError(t, err)
}

func TestLogoutRevokesSession(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "injo@example.com", "correct horse battery")

	require.NoError(t, service.Logout(ctx, result.Account.ID))
	_, err := service.ValidateSession(ctx, result.Account.ID, result.SessionToken)
	require.ErrorIs(t, err, ErrSessionSuperseded)
}

func enrollTwoFactor(t *testing.T, service *Service, clock *testClock, accountID string) string {
	t.Helper()
	secret, url, err := service.BeginTwoFactorEnrollment(context.Background(), accountID)
	require.NoError(t, err)
	require.Contains(t, url, "otpauth://")

	code, err := totp.GenerateCode(secret, clock.Now())
	require.NoError(t, err)
	require.NoError(t, service.ConfirmTwoFactor(context.Background(), accountID, code))
	return secret
}

func TestSecondFactorFlow(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "jana@example.com", "correct horse battery")
	id := result.Account.ID
	secret := enrollTwoFactor(t, service, clock, id)

	// correct password alone is no longer enough
	pending, err := service.SignIn(ctx, "jana@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, StatePendingSecondFactor, pending.State)
	assert.Empty(t, pending.SessionToken)

	code, err := totp.GenerateCode(secret, clock.Now())
	require.NoError(t, err)
	done, err := service.CompleteSecondFactor(ctx, id, code)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticatedNormal, done.State)
	assert.NotEmpty(t, done.SessionToken)
}

func TestSecondFactorFailuresCountTowardLockout(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "kolya@example.com", "correct horse battery")
	id := result.Account.ID
	enrollTwoFactor(t, service, clock, id)

	for i := 0; i < 2; i++ {
		_, err := service.CompleteSecondFactor(ctx, id, "000000")
		require.ErrorIs(t, err, ErrSecondFactorInvalid)
	}
	_, err := service.CompleteSecondFactor(ctx, id, "000000")
	var locked ErrAccountLocked
	require.ErrorAs(t, err, &locked)

	// and the lockout holds for the password step too
	_, err = service.SignIn(ctx, "kolya@example.com", "correct horse battery")
	require.ErrorAs(t, err, &locked)
}

func TestDisableTwoFactor(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "lena@example.com", "correct horse battery")
	enrollTwoFactor(t, service, clock, result.Account.ID)

	require.NoError(t, service.DisableTwoFactor(ctx, result.Account.ID))

	signIn, err := service.SignIn(ctx, "lena@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticatedNormal, signIn.State)
}

func TestResetPasswordFlow(t *testing.T) {
	service, _, _ := newTestService(t)
	ctx := context.Background()

	result := registerMember(t, service, "mira@example.com", "correct horse battery")
	id := result.Account.ID

	token, account, err := service.ForgotPassword(ctx, "mira@example.com")
	require.NoError(t, err)
	assert.Equal(t, "mira@example.com", account.Email)

	require.NoError(t, service.ResetPassword(ctx, token, "a fresh new password"))

	// the reset revoked the live session
	_, err = service.ValidateSession(ctx, id, result.SessionToken)
	require.ErrorIs(t, err, ErrSessionSuperseded)

	_, err = service.SignIn(ctx, "mira@example.com", "correct horse battery")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	signIn, err := service.SignIn(ctx, "mira@example.com", "a fresh new password")
	require.NoError(t, err)
	assert.NotEmpty(t, signIn.SessionToken)
}

func TestResetPasswordRejectsBadTokens(t *testing.T) {
	service, _, clock := newTestService(t)
	ctx := context.Background()

	registerMember(t, service, "nils@example.com", "correct horse battery")

	require.ErrorIs(t, service.ResetPassword(ctx, "not-a-token", "a fresh new password"), ErrInvalidResetToken)

	token, _, err := service.ForgotPassword(ctx, "nils@example.com")
	require.NoError(t, err)
	require.ErrorIs(t, service.ResetPassword(ctx, token+"x", "a fresh new password"), ErrInvalidResetToken)

	clock.Advance(31 * time.Minute)
	require.ErrorIs(t, service.ResetPassword(ctx, token, "a fresh new password"), ErrInvalidResetToken)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	service, _, _ := newTestService(t)

	_, _, err := service.ForgotPassword(context.Background(), "ghost@example.com")
	require.True(t, errors.Is(err, ErrAccountNotFound))
}
