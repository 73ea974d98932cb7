package codex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexgate/codexgate/internal/config"
)

func newTestAuth(tokenEndpoint string) *Auth {
	cfg := &config.Config{}
	cfg.Auth.OAuthClientID = "client-test"
	cfg.Auth.OAuthTokenEndpoint = tokenEndpoint
	return NewAuth(cfg)
}

func TestRefreshTokensWithRetryRecoversAfterFailure(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":"temporarily_unavailable"}`, http.StatusInternalServerError)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		assert.Equal(t, "rt-1", r.Form.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-2","refresh_token":"rt-2","expires_in":3600}`))
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	td, err := auth.RefreshTokensWithRetry(context.Background(), "rt-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", td.AccessToken)
	assert.Equal(t, "rt-2", td.RefreshToken)
	assert.False(t, td.Expire.IsZero())
	assert.Equal(t, int32(2), calls.Load())
}

func TestRefreshTokensWithRetryReturnsLastError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	auth := newTestAuth(server.URL)
	_, err := auth.RefreshTokensWithRetry(context.Background(), "rt-dead", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
}
