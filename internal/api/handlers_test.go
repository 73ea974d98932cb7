package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/config"
)

func TestProxyAuthOpenAI(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) {
		cfg.Server.ProxyAPIKey = "gw-secret"
	})
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	w := env.do("POST", "/v1/chat/completions", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "missing API key")

	w = env.do("POST", "/v1/chat/completions", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do("POST", "/v1/chat/completions", body, map[string]string{"Authorization": "Bearer gw-secret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProxyAuthAcceptsAccountProxyKey(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) {
		cfg.Server.ProxyAPIKey = "gw-secret"
	})
	entries := env.pool.Entries()
	require.Len(t, entries, 1)
	require.NotEmpty(t, entries[0].ProxyKey)

	w := env.do("POST", "/v1/chat/completions",
		`{"messages":[{"role":"user","content":"hi"}]}`,
		map[string]string{"Authorization": "Bearer " + entries[0].ProxyKey})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestProxyAuthClaudeHeader(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) {
		cfg.Server.ProxyAPIKey = "gw-secret"
	})
	body := `{"messages":[{"role":"user","content":"hi"}]}`

	w := env.do("POST", "/v1/messages", body, map[string]string{"x-api-key": "gw-secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/v1/messages", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "authentication_error", gjson.Get(w.Body.String(), "error.type").String())
}

func TestProxyAuthGeminiQueryKey(t *testing.T) {
	env := newTestEnv(t, true, func(cfg *config.Config) {
		cfg.Server.ProxyAPIKey = "gw-secret"
	})
	body := `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`

	w := env.do("POST", "/v1beta/models/gpt-5-codex:generateContent?key=gw-secret", body, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/v1beta/models/gpt-5-codex:generateContent", body,
		map[string]string{"x-goog-api-key": "gw-secret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do("POST", "/v1beta/models/gpt-5-codex:generateContent", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", gjson.Get(w.Body.String(), "error.status").String())
}

func TestOpenAIModels(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("GET", "/v1/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "list", root.Get("object").String())
	ids := root.Get("data.#.id").Array()
	require.NotEmpty(t, ids)
	assert.Equal(t, "gpt-5-codex", ids[0].String())

	w = env.do("GET", "/v1/models/gpt-5", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "gpt-5", gjson.Get(w.Body.String(), "id").String())

	w = env.do("GET", "/v1/models/no-such-model", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "model_not_found", gjson.Get(w.Body.String(), "error.code").String())
}

func TestGeminiModels(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("GET", "/v1beta/models", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	models := gjson.Get(w.Body.String(), "models").Array()
	require.NotEmpty(t, models)
	assert.Equal(t, "models/gpt-5-codex", models[0].Get("name").String())
	assert.Contains(t, models[0].Get("supportedGenerationMethods").Raw, "streamGenerateContent")

	w = env.do("GET", "/v1beta/models/gpt-5-codex", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "models/gpt-5-codex", gjson.Get(w.Body.String(), "name").String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("GET", "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "ok", root.Get("status").String())
	assert.Equal(t, int64(1), root.Get("accounts").Int())
	assert.Equal(t, int64(1), root.Get("active_accounts").Int())
}

func TestAuthStatus(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do("GET", "/auth/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.False(t, root.Get("logged_in").Bool())
	assert.Equal(t, int64(0), root.Get("accounts").Int())
}

func TestListAccountsIsSanitized(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("GET", "/auth/accounts", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	accounts := gjson.Get(w.Body.String(), "accounts").Array()
	require.Len(t, accounts, 1)

	account := accounts[0]
	assert.Equal(t, "acct-test", account.Get("account_id").String())
	assert.NotEmpty(t, account.Get("proxy_api_key").String())
	assert.False(t, account.Get("token").Exists(), "tokens never leave the process")
	assert.False(t, account.Get("refresh_token").Exists())
}

func TestAddAndRemoveAccount(t *testing.T) {
	env := newTestEnv(t, false, nil)

	token := mintAccountToken(t, "acct-new")
	w := env.do("POST", "/auth/token", `{"token":"`+token+`","refresh_token":"r1"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	id := gjson.Get(w.Body.String(), "account.id").String()
	require.NotEmpty(t, id)
	assert.Equal(t, "acct-new", gjson.Get(w.Body.String(), "account.account_id").String())

	w = env.do("DELETE", "/auth/accounts/"+id, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "removed").Bool())

	w = env.do("DELETE", "/auth/accounts/"+id, "", nil)
	assert.False(t, gjson.Get(w.Body.String(), "removed").Bool())
}

func TestAddAccountRejectsMissingToken(t *testing.T) {
	env := newTestEnv(t, false, nil)

	w := env.do("POST", "/auth/token", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, gjson.Get(w.Body.String(), "error.message").String(), "token is required")
}

func TestResetUsage(t *testing.T) {
	env := newTestEnv(t, true, nil)
	entries := env.pool.Entries()
	require.Len(t, entries, 1)

	w := env.do("POST", "/auth/accounts/"+entries[0].ID+"/reset-usage", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "reset").Bool())

	w = env.do("POST", "/auth/accounts/missing/reset-usage", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLogoutRemovesAllAccounts(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("POST", "/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "removed").Int())
	assert.Empty(t, env.pool.Entries())
}

func TestCookieManagement(t *testing.T) {
	env := newTestEnv(t, true, nil)
	entries := env.pool.Entries()
	require.Len(t, entries, 1)
	id := entries[0].ID

	w := env.do("POST", "/auth/accounts/"+id+"/cookies", `{"cf_clearance":"tok","session":"abc"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", "/auth/accounts/"+id+"/cookies", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Equal(t, "tok", root.Get("cookies.cf_clearance.value").String())

	w = env.do("DELETE", "/auth/accounts/"+id+"/cookies?name=session", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do("GET", "/auth/accounts/"+id+"/cookies", "", nil)
	root = gjson.Parse(w.Body.String())
	assert.False(t, root.Get("cookies.session").Exists())
	assert.True(t, root.Get("cookies.cf_clearance").Exists())

	w = env.do("GET", "/auth/accounts/missing/cookies", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDebugFingerprint(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("GET", "/debug/fingerprint", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	root := gjson.Parse(w.Body.String())
	assert.Contains(t, root.Get("user_agent").String(), "Chrome/")
	assert.False(t, root.Get("impersonating").Bool())
	assert.NotEmpty(t, root.Get("header_order").Array())
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, true, nil)

	w := env.do("OPTIONS", "/v1/chat/completions", "", map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, true, nil)
	w := env.do("GET", "/health", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
