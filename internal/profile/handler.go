package profile

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"

	"bookstore-auth/internal/auth"
	"bookstore-auth/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Me returns the caller's profile. An account without a saved profile gets
// an empty view rather than a 404.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	view, err := h.service.Get(r.Context(), account.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// UpdateMe replaces the caller's profile.
func (h *Handler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	account, ok := auth.AccountFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var input Input
	if !decodeJSON(w, r, &input) {
		return
	}

	if err := h.service.Save(r.Context(), account.ID, input); err != nil {
		h.serverError(w, r, err)
		return
	}

	view, err := h.service.Get(r.Context(), account.ID)
	if err != nil {
		h.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	sentry.CaptureException(err)
	h.logger.Error("profile handler error", map[string]any{
		"path":  r.URL.Path,
		"error": err.Error(),
	})
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
