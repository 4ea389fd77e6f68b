package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"bookstore-auth/internal/httpsession"
	"bookstore-auth/internal/observability"
)

// SessionCookieName is the opaque client session identifier.
const SessionCookieName = "sid"

type contextKey int

const (
	sessionContextKey contextKey = iota
	accountContextKey
)

// expiryAllowedPrefixes are the recovery paths a password-expired session
// may still reach, so the user can always get to the page that lets them
// recover. Everything else is pointed at the change-password operation.
var expiryAllowedPrefixes = []string{
	"/auth/login",
	"/auth/register",
	"/auth/password/",
	"/auth/logout",
	"/health",
	"/status",
	"/static/",
}

// Middleware is the request-level gate: it resolves the client session,
// validates the account's session token on every request, and enforces the
// password-expiry restriction.
type Middleware struct {
	service       *Service
	sessions      httpsession.Store
	logger        *observability.Logger
	secureCookies bool
}

func NewMiddleware(service *Service, sessions httpsession.Store, logger *observability.Logger, secureCookies bool) *Middleware {
	return &Middleware{service: service, sessions: sessions, logger: logger, secureCookies: secureCookies}
}

// WithSession loads the caller's session and, for authenticated sessions,
// compares the stored session token against the one this session carries. A
// mismatch means another login superseded this one: the local session is
// cleared and the request proceeds unauthenticated, forcing a fresh login.
// Saving on each hit refreshes the idle timeout.
func (m *Middleware) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := m.sessions.Get(r.Context(), cookie.Value)
		if err != nil {
			if !errors.Is(err, httpsession.ErrNotFound) {
				m.logger.Error("session_load_failed", map[string]any{"error": err.Error()})
			}
			clearSessionCookie(w, m.secureCookies)
			next.ServeHTTP(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)

		if session.AccountID != "" {
			account, err := m.service.ValidateSession(r.Context(), session.AccountID, session.Token)
			if err != nil {
				if errors.Is(err, ErrSessionSuperseded) {
					// Not an error to the user; the login elsewhere wins.
					_ = m.sessions.Delete(r.Context(), session.ID)
					clearSessionCookie(w, m.secureCookies)
					next.ServeHTTP(w, r)
					return
				}
				m.logger.Error("session_validate_failed", map[string]any{"error": err.Error()})
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			ctx = context.WithValue(ctx, accountContextKey, account)
		}

		if err := m.sessions.Save(r.Context(), session); err != nil {
			m.logger.Error("session_touch_failed", map[string]any{"error": err.Error()})
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAccount rejects requests without a validated authenticated session.
func (m *Middleware) RequireAccount(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := AccountFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PasswordExpiryGate restricts a session whose password has reached maximum
// age to the allow-listed recovery paths plus the change-password and
// logout operations. Expiry is recomputed from the stored timestamp on
// every request, never from a cached flag alone.
func (m *Middleware) PasswordExpiryGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok || !m.service.PasswordExpired(account) {
			next.ServeHTTP(w, r)
			return
		}

		if expiryPathAllowed(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":    "your password has expired, you must change it now to continue",
			"redirect": ChangePasswordPath,
		})
	})
}

func expiryPathAllowed(path string) bool {
	path = strings.ToLower(path)
	if path == "/auth/2fa" {
		return true
	}
	for _, prefix := range expiryAllowedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SessionFromContext returns the resolved client session, when one exists.
func SessionFromContext(ctx context.Context) (httpsession.Session, bool) {
	session, ok := ctx.Value(sessionContextKey).(httpsession.Session)
	return session, ok
}

// AccountFromContext returns the validated authenticated account, when the
// request carries one.
func AccountFromContext(ctx context.Context) (Account, bool) {
	account, ok := ctx.Value(accountContextKey).(Account)
	return account, ok
}

func setSessionCookie(w http.ResponseWriter, id string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
