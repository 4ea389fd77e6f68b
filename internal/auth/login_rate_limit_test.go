package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginRateLimiterAllow(t *testing.T) {
	limiter := NewLoginRateLimiter(3, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		allowed, _ := limiter.allow("10.0.0.1", now)
		assert.True(t, allowed)
	}

	allowed, retryAfter := limiter.allow("10.0.0.1", now)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retryAfter)

	// other clients are unaffected
	allowed, _ = limiter.allow("10.0.0.2", now)
	assert.True(t, allowed)

	// the window slides
	allowed, _ = limiter.allow("10.0.0.1", now.Add(61*time.Second))
	assert.True(t, allowed)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest("POST", "/auth/login", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	assert.Equal(t, "127.0.0.1:9999", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))
}
