package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"

	"bookstore-auth/internal/httpsession"
	"bookstore-auth/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

// ChangePasswordPath is where a password-expired session is pointed.
const ChangePasswordPath = "/auth/password/change"

// BotVerifier scores registration attempts for bot risk. Verify returns nil
// when the attempt is acceptable (or when scoring is not configured).
type BotVerifier interface {
	Verify(ctx context.Context, token, action string) error
}

// MailSender delivers messages fire-and-forget; failures are logged, never
// surfaced to the caller.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// RegisterProfile carries the optional member profile collected at
// registration.
type RegisterProfile struct {
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	Phone           string `json:"phone"`
	BillingAddress  string `json:"billing_address"`
	ShippingAddress string `json:"shipping_address"`
	CreditCard      string `json:"credit_card"`
}

// ProfileWriter persists the registration profile for a new account.
type ProfileWriter interface {
	SaveRegistration(ctx context.Context, accountID string, p RegisterProfile) error
}

type Handler struct {
	service  *Service
	sessions httpsession.Store
	mailer   MailSender
	bots     BotVerifier
	profiles ProfileWriter
	logger   *observability.Logger

	baseURL       string
	secureCookies bool
}

func NewHandler(service *Service, sessions httpsession.Store, mailer MailSender, bots BotVerifier, profiles ProfileWriter, logger *observability.Logger, baseURL string, secureCookies bool) *Handler {
	return &Handler{
		service:       service,
		sessions:      sessions,
		mailer:        mailer,
		bots:          bots,
		profiles:      profiles,
		logger:        logger,
		baseURL:       strings.TrimRight(baseURL, "/"),
		secureCookies: secureCookies,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	BotToken string          `json:"bot_token"`
	Profile  RegisterProfile `json:"profile"`
}

type secondFactorRequest struct {
	Code string `json:"code"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		h.writeSignInError(w, err)
		return
	}

	// Fresh session id on every authentication step, so a pre-login id can
	// never be fixated into an authenticated one.
	session, ok := h.rotateSession(w, r)
	if !ok {
		return
	}

	switch result.State {
	case StatePendingSecondFactor:
		session.PendingAccountID = result.Account.ID
		if err := h.sessions.Save(r.Context(), session); err != nil {
			h.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "second_factor_required"})
	case StateAuthenticatedPasswordExpired:
		session.AccountID = result.Account.ID
		session.Token = result.SessionToken
		session.PasswordExpired = true
		if err := h.sessions.Save(r.Context(), session); err != nil {
			h.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "password_expired", "redirect": ChangePasswordPath})
	default:
		session.AccountID = result.Account.ID
		session.Token = result.SessionToken
		if err := h.sessions.Save(r.Context(), session); err != nil {
			h.serverError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (h *Handler) SecondFactor(w http.ResponseWriter, r *http.Request) {
	session, ok := SessionFromContext(r.Context())
	if !ok || session.PendingAccountID == "" {
		writeError(w, http.StatusUnauthorized, "no sign-in pending a second factor")
		return
	}

	var body secondFactorRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.CompleteSecondFactor(r.Context(), session.PendingAccountID, body.Code)
	if err != nil {
		if errors.Is(err, ErrSecondFactorInvalid) || errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid authentication code")
			return
		}
		h.writeSignInError(w, err)
		return
	}

	fresh, ok := h.rotateSession(w, r)
	if !ok {
		return
	}
	fresh.AccountID = result.Account.ID
	fresh.Token = result.SessionToken
	fresh.PasswordExpired = result.State == StateAuthenticatedPasswordExpired
	if err := h.sessions.Save(r.Context(), fresh); err != nil {
		h.serverError(w, err)
		return
	}

	if result.State == StateAuthenticatedPasswordExpired {
		writeJSON(w, http.StatusOK, map[string]string{"status": "password_expired", "redirect": ChangePasswordPath})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if h.bots != nil {
		if err := h.bots.Verify(r.Context(), body.BotToken, "register"); err != nil {
			writeError(w, http.StatusBadRequest, "bot verification failed")
			return
		}
	}

	result, err := h.service.Register(r.Context(), RegisterInput{Email: body.Email, Password: body.Password})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email already registered")
			return
		}
		var policyErr ErrPasswordPolicy
		if errors.As(err, &policyErr) {
			writeError(w, http.StatusBadRequest, policyErr.Error())
			return
		}
		h.serverError(w, err)
		return
	}

	if h.profiles != nil {
		if err := h.profiles.SaveRegistration(r.Context(), result.Account.ID, body.Profile); err != nil {
			h.serverError(w, err)
			return
		}
	}

	session, ok := h.rotateSession(w, r)
	if !ok {
		return
	}
	session.AccountID = result.Account.ID
	session.Token = result.SessionToken
	if err := h.sessions.Save(r.Context(), session); err != nil {
		h.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":    result.Account.ID,
		"email": result.Account.Email,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if session, ok := SessionFromContext(r.Context()); ok {
		if session.AccountID != "" {
			if err := h.service.Logout(r.Context(), session.AccountID); err != nil {
				h.serverError(w, err)
				return
			}
		}
		_ = h.sessions.Delete(r.Context(), session.ID)
	}
	clearSessionCookie(w, h.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	session, _ := SessionFromContext(r.Context())

	var body changePasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	forced := session.PasswordExpired || h.service.PasswordExpired(account)
	token, err := h.service.ChangePassword(r.Context(), account.ID, body.CurrentPassword, body.NewPassword, forced)
	if err != nil {
		var tooYoung ErrPasswordTooYoung
		var policyErr ErrPasswordPolicy
		switch {
		case errors.As(err, &tooYoung):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":               tooYoung.Error(),
				"retry_after_seconds": int(tooYoung.Remaining.Seconds()) + 1,
			})
		case errors.Is(err, ErrPasswordReused):
			writeError(w, http.StatusBadRequest, fmt.Sprintf("you may not reuse one of your last %d passwords", HistoryDepth))
		case errors.Is(err, ErrInvalidCredentials):
			writeError(w, http.StatusBadRequest, "current password is incorrect")
		case errors.As(err, &policyErr):
			writeError(w, http.StatusBadRequest, policyErr.Error())
		default:
			h.serverError(w, err)
		}
		return
	}

	// The session continues: renewed token, expiry flag cleared, no fresh
	// login required even on the forced path.
	session.Token = token
	session.PasswordExpired = false
	if err := h.sessions.Save(r.Context(), session); err != nil {
		h.serverError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password_changed"})
}

func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body forgotPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	token, account, err := h.service.ForgotPassword(r.Context(), body.Email)
	if err == nil {
		// Mail delivery is fire-and-forget and must not delay the
		// response: a synchronous send would make registered emails
		// answer slower than unknown ones.
		link := h.baseURL + "/auth/password/reset?token=" + token
		email := account.Email
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if mailErr := h.mailer.Send(ctx, email, "Reset your password",
				"Use this link to reset your password: "+link); mailErr != nil {
				h.logger.Error("reset_mail_failed", map[string]any{"error": mailErr.Error()})
			}
		}()
	} else if !errors.Is(err, ErrAccountNotFound) {
		h.serverError(w, err)
		return
	}

	// Constant shape whether or not the email is registered.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok"})
}

func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var body resetPasswordRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		var policyErr ErrPasswordPolicy
		switch {
		case errors.Is(err, ErrInvalidResetToken):
			writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		case errors.As(err, &policyErr):
			writeError(w, http.StatusBadRequest, policyErr.Error())
		default:
			h.serverError(w, err)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BeginTwoFactor(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	secret, url, err := h.service.BeginTwoFactorEnrollment(r.Context(), account.ID)
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": secret, "otpauth_url": url})
}

func (h *Handler) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body secondFactorRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.ConfirmTwoFactor(r.Context(), account.ID, body.Code); err != nil {
		if errors.Is(err, ErrSecondFactorInvalid) {
			writeError(w, http.StatusBadRequest, "invalid authentication code")
			return
		}
		h.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	account, ok := AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), account.ID); err != nil {
		h.serverError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if _, ok := AccountFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	events, err := h.service.RecentAuditEvents(r.Context(), 200)
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// writeSignInError maps sign-in failures onto the wire: a lockout carries
// Retry-After and the remaining time, everything expected collapses into the
// generic invalid-credentials shape.
func (h *Handler) writeSignInError(w http.ResponseWriter, err error) {
	var locked ErrAccountLocked
	switch {
	case errors.As(err, &locked):
		remaining := locked.Remaining(h.service.now())
		seconds := int(remaining.Seconds()) + 1
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":               "account locked, it will automatically recover",
			"retry_after_seconds": seconds,
		})
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid login attempt")
	default:
		h.serverError(w, err)
	}
}

// rotateSession replaces the caller's session record with a fresh id and
// sets the cookie. The old record, if any, is discarded.
func (h *Handler) rotateSession(w http.ResponseWriter, r *http.Request) (httpsession.Session, bool) {
	if old, ok := SessionFromContext(r.Context()); ok {
		_ = h.sessions.Delete(r.Context(), old.ID)
	}

	id, err := httpsession.NewID()
	if err != nil {
		h.serverError(w, err)
		return httpsession.Session{}, false
	}
	setSessionCookie(w, id, h.secureCookies)
	return httpsession.Session{ID: id}, true
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	sentry.CaptureException(err)
	h.logger.Error("request_failed", map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
