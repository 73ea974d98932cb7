package codex

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"RS256"}`))
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return header + "." + base64.RawURLEncoding.EncodeToString(payload) + ".signature"
}

func TestParseJWTToken(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	token := mintToken(t, map[string]any{
		"email": "dev@example.com",
		"exp":   exp,
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acct-42",
			"chatgpt_plan_type":  "pro",
		},
	})

	claims, err := ParseJWTToken(token)
	require.NoError(t, err)
	assert.Equal(t, "dev@example.com", claims.Email)
	assert.Equal(t, "acct-42", claims.AccountID())
	assert.Equal(t, "pro", claims.PlanType())
	assert.Equal(t, exp, claims.ExpiryTime().Unix())
	assert.False(t, claims.Expired())
}

func TestParseJWTTokenExpired(t *testing.T) {
	token := mintToken(t, map[string]any{"exp": time.Now().Add(-time.Minute).Unix()})
	claims, err := ParseJWTToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Expired())
}

func TestParseJWTTokenNoExpiryNeverExpires(t *testing.T) {
	claims, err := ParseJWTToken(mintToken(t, map[string]any{"email": "x@y.z"}))
	require.NoError(t, err)
	assert.False(t, claims.Expired())
}

func TestParseJWTTokenMalformed(t *testing.T) {
	_, err := ParseJWTToken("just-a-string")
	assert.Error(t, err)

	_, err = ParseJWTToken("a.!!notbase64!!.c")
	assert.Error(t, err)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{}`))
	notJSON := base64.RawURLEncoding.EncodeToString([]byte(`not json`))
	_, err = ParseJWTToken(header + "." + notJSON + ".sig")
	assert.Error(t, err)
}
