package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpiryPathAllowed(t *testing.T) {
	allowed := []string{
		"/auth/login",
		"/auth/register",
		"/auth/password/change",
		"/auth/password/forgot",
		"/auth/password/reset",
		"/auth/logout",
		"/auth/2fa",
		"/health",
		"/static/css/site.css",
	}
	for _, path := range allowed {
		assert.True(t, expiryPathAllowed(path), path)
	}

	blocked := []string{
		"/me",
		"/auth/audit",
		"/auth/2fa/enroll",
		"/auth/2fa/disable",
		"/",
	}
	for _, path := range blocked {
		assert.False(t, expiryPathAllowed(path), path)
	}
}
