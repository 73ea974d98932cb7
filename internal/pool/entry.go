// Package pool owns the multi-account state: entry storage, acquire/release
// locking, selection strategies, rate-limit bookkeeping, token refresh
// scheduling, and atomic persistence to accounts.json.
package pool

import (
	"time"
)

// Entry statuses.
const (
	StatusActive      = "active"
	StatusExpired     = "expired"
	StatusRateLimited = "rate_limited"
	StatusRefreshing  = "refreshing"
	StatusDisabled    = "disabled"
)

// Usage tracks per-entry consumption and rate-limit bookkeeping.
type Usage struct {
	RequestCount   int64      `json:"request_count"`
	InputTokens    int64      `json:"input_tokens"`
	OutputTokens   int64      `json:"output_tokens"`
	LastUsed       time.Time  `json:"last_used"`
	RateLimitUntil *time.Time `json:"rate_limit_until,omitempty"`
	WindowResetAt  int64      `json:"window_reset_at,omitempty"`
}

// Entry is one pooled account. The internal ID is an opaque key; AccountID is
// the upstream ChatGPT account identifier used for deduplication.
type Entry struct {
	ID           string    `json:"id"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Email        string    `json:"email,omitempty"`
	AccountID    string    `json:"account_id"`
	PlanType     string    `json:"plan_type,omitempty"`
	ProxyKey     string    `json:"proxy_api_key"`
	Status       string    `json:"status"`
	Usage        Usage     `json:"usage"`
	AddedAt      time.Time `json:"added_at"`
}

// Lease is what a request handler holds between Acquire and Release.
type Lease struct {
	EntryID   string
	Token     string
	AccountID string
}

// UsageDelta is the consumption recorded on Release.
type UsageDelta struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
}
