package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/bookstore")
	t.Setenv("SESSION_SECRET", "a long enough secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Minute, cfg.MinPasswordAge)
	assert.Equal(t, 2*time.Minute, cfg.MaxPasswordAge)
	assert.Equal(t, 3, cfg.LoginMaxAttempts)
	assert.Equal(t, 15*time.Minute, cfg.LoginLockWindow)
	assert.Equal(t, 30*time.Minute, cfg.ResetTokenTTL)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTTL)
	assert.Equal(t, 90*24*time.Hour, cfg.AuditRetention)
	assert.Equal(t, cfg.SessionSecret, cfg.CardEncryptionKey)
	assert.False(t, cfg.MailConfigured())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "")

	_, err := Load()
	require.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/bookstore")
	_, err = Load()
	require.ErrorContains(t, err, "SESSION_SECRET")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MIN_PASSWORD_AGE_MINUTES", "5")
	t.Setenv("MAX_PASSWORD_AGE_MINUTES", "60")
	t.Setenv("LOGIN_MAX_ATTEMPTS", "10")
	t.Setenv("SECURE_COOKIES", "true")
	t.Setenv("CARD_ENCRYPTION_KEY", "separate card key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.MinPasswordAge)
	assert.Equal(t, time.Hour, cfg.MaxPasswordAge)
	assert.Equal(t, 10, cfg.LoginMaxAttempts)
	assert.True(t, cfg.SecureCookies)
	assert.Equal(t, "separate card key", cfg.CardEncryptionKey)
}

func TestLoadAgesAreIndependent(t *testing.T) {
	setRequired(t)
	t.Setenv("MIN_PASSWORD_AGE_MINUTES", "30")
	t.Setenv("MAX_PASSWORD_AGE_MINUTES", "30")

	// min and max age carry no assumed relationship; equal (or even
	// inverted) values are a coherent policy because the forced-expiry
	// change path bypasses the minimum-age wall.
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.MinPasswordAge)
	assert.Equal(t, 30*time.Minute, cfg.MaxPasswordAge)

	t.Setenv("MIN_PASSWORD_AGE_MINUTES", "60")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.MinPasswordAge)
}

func TestLoadRejectsPartialSMTP(t *testing.T) {
	setRequired(t)
	t.Setenv("SMTP_HOST", "smtp.example.com")

	_, err := Load()
	require.ErrorContains(t, err, "SMTP_FROM")

	t.Setenv("SMTP_FROM", "noreply@example.com")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.MailConfigured())
}
