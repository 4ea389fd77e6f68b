package botcheck

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, response verifyResponse) *Client {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "test-secret", r.FormValue("secret"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)

	client := NewClient("test-secret", 0.5)
	client.verifyURL = server.URL
	return client
}

func TestVerifyDisabledWithoutSecret(t *testing.T) {
	client := NewClient("", 0.5)
	assert.False(t, client.Enabled())
	require.NoError(t, client.Verify(context.Background(), "", "register"))
}

func TestVerifyAccepts(t *testing.T) {
	client := newTestClient(t, verifyResponse{Success: true, Score: 0.9, Action: "register"})
	require.NoError(t, client.Verify(context.Background(), "token", "register"))
}

func TestVerifyRejectsEmptyToken(t *testing.T) {
	client := NewClient("test-secret", 0.5)
	require.ErrorIs(t, client.Verify(context.Background(), " ", "register"), ErrBotSuspected)
}

func TestVerifyRejectsFailure(t *testing.T) {
	client := newTestClient(t, verifyResponse{Success: false})
	require.ErrorIs(t, client.Verify(context.Background(), "token", "register"), ErrBotSuspected)
}

func TestVerifyRejectsLowScore(t *testing.T) {
	client := newTestClient(t, verifyResponse{Success: true, Score: 0.2, Action: "register"})
	require.ErrorIs(t, client.Verify(context.Background(), "token", "register"), ErrBotSuspected)
}

func TestVerifyRejectsActionMismatch(t *testing.T) {
	client := newTestClient(t, verifyResponse{Success: true, Score: 0.9, Action: "login"})
	require.ErrorIs(t, client.Verify(context.Background(), "token", "register"), ErrBotSuspected)
}
