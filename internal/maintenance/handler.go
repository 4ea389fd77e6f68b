// Package maintenance exposes the scheduled cleanup endpoint. A cron job
// calls it with a shared secret to trim old audit events.
package maintenance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"bookstore-auth/internal/observability"
)

// AuditPurger trims audit events older than the cutoff, at most batchSize
// rows per call.
type AuditPurger interface {
	PurgeAuditBefore(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type CleanupHandler struct {
	purger         AuditPurger
	logger         *observability.Logger
	cronSecret     string
	auditRetention time.Duration
	batchSize      int
}

func NewCleanupHandler(
	purger AuditPurger,
	logger *observability.Logger,
	cronSecret string,
	auditRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		purger:         purger,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		auditRetention: auditRetention,
		batchSize:      batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	cutoff := time.Now().UTC().Add(-h.auditRetention)
	deleted, err := h.purger.PurgeAuditBefore(r.Context(), cutoff, h.batchSize)
	if err != nil {
		h.logger.Error("audit_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	h.logger.Info("audit_cleanup_completed", map[string]any{
		"deleted_audit_events": deleted,
		"cutoff":               cutoff.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"deleted": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
