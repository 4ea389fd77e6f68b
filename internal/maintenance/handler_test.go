package maintenance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookstore-auth/internal/observability"
)

type fakePurger struct {
	deleted int64
	cutoff  time.Time
	batch   int
}

func (f *fakePurger) PurgeAuditBefore(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	f.cutoff = cutoff
	f.batch = batchSize
	return f.deleted, nil
}

func newCleanup(purger AuditPurger, secret string) *CleanupHandler {
	logger := observability.NewLoggerTo(io.Discard, "test")
	return NewCleanupHandler(purger, logger, secret, 90*24*time.Hour, 500)
}

func TestCleanupHiddenWithoutSecret(t *testing.T) {
	handler := newCleanup(&fakePurger{}, "")

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupRequiresBearerSecret(t *testing.T) {
	handler := newCleanup(&fakePurger{}, "hunter2")

	rec := httptest.NewRecorder()
	handler.Handle(rec, httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	handler.Handle(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCleanupPurges(t *testing.T) {
	purger := &fakePurger{deleted: 42}
	handler := newCleanup(purger, "hunter2")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/internal/maintenance/cleanup", nil)
	req.Header.Set("Authorization", "Bearer hunter2")
	handler.Handle(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"deleted":42`)
	assert.Equal(t, 500, purger.batch)
	assert.WithinDuration(t, time.Now().UTC().Add(-90*24*time.Hour), purger.cutoff, time.Minute)
}
