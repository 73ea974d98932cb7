// Package codex implements authentication against the ChatGPT-for-Codex
// backend: JWT claim extraction, the OAuth 2.0 PKCE and device-code flows,
// the ephemeral callback listener, and pending login session tracking.
package codex

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JWTClaims represents the claims section of an ID token. Signatures are not
// verified; the token is only mined for expiry and account metadata.
type JWTClaims struct {
	Email         string        `json:"email"`
	EmailVerified bool          `json:"email_verified"`
	Exp           int64         `json:"exp"`
	Iat           int64         `json:"iat"`
	Iss           string        `json:"iss"`
	Sub           string        `json:"sub"`
	CodexAuthInfo CodexAuthInfo `json:"https://api.openai.com/auth"`
}

// CodexAuthInfo carries the ChatGPT account profile embedded in the token.
type CodexAuthInfo struct {
	ChatgptAccountID string `json:"chatgpt_account_id"`
	ChatgptPlanType  string `json:"chatgpt_plan_type"`
	ChatgptUserID    string `json:"chatgpt_user_id"`
	UserID           string `json:"user_id"`
}

// ParseJWTToken parses a JWT and extracts the claims without verification.
func ParseJWTToken(token string) (*JWTClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid JWT token format: expected 3 parts, got %d", len(parts))
	}

	claimsData, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT claims: %w", err)
	}

	var claims JWTClaims
	if err = json.Unmarshal(claimsData, &claims); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JWT claims: %w", err)
	}
	return &claims, nil
}

// base64URLDecode decodes a base64 URL-encoded string with proper padding.
func base64URLDecode(data string) ([]byte, error) {
	switch len(data) % 4 {
	case 2:
		data += "=="
	case 3:
		data += "="
	}
	return base64.URLEncoding.DecodeString(data)
}

// AccountID returns the ChatGPT account identifier from the claims.
func (c *JWTClaims) AccountID() string {
	return c.CodexAuthInfo.ChatgptAccountID
}

// PlanType returns the ChatGPT plan type from the claims.
func (c *JWTClaims) PlanType() string {
	return c.CodexAuthInfo.ChatgptPlanType
}

// ExpiryTime returns the token expiry as a time.Time.
func (c *JWTClaims) ExpiryTime() time.Time {
	return time.Unix(c.Exp, 0)
}

// Expired reports whether the token expiry has passed.
func (c *JWTClaims) Expired() bool {
	return c.Exp > 0 && time.Now().After(c.ExpiryTime())
}
