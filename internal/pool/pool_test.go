package pool

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codexgate/codexgate/internal/config"
)

// makeToken mints an unsigned JWT carrying the given account claims.
func makeToken(t *testing.T, accountID, email string, exp int64) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	claims, err := json.Marshal(map[string]any{
		"email": email,
		"exp":   exp,
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": accountID,
			"chatgpt_plan_type":  "plus",
		},
	})
	require.NoError(t, err)
	payload := base64.RawURLEncoding.EncodeToString(claims)
	return header + "." + payload + ".sig"
}

func newTestPool(t *testing.T, strategy string) *Pool {
	t.Helper()
	t.Setenv("CODEX_JWT_TOKEN", "")
	cfg := &config.Config{DataDir: t.TempDir()}
	cfg.Auth.RotationStrategy = strategy
	cfg.Auth.RateLimitBackoffSeconds = 60
	p, err := NewPool(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func futureExp() int64 { return time.Now().Add(time.Hour).Unix() }

func TestAddAccountDedupesByAccountID(t *testing.T) {
	p := newTestPool(t, "least_used")

	first, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "r1")
	require.NoError(t, err)
	second, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "r2")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "r2", second.RefreshToken)
	assert.Len(t, p.Entries(), 1)

	_, err = p.AddAccount(makeToken(t, "acct-2", "b@example.com", futureExp()), "")
	require.NoError(t, err)
	assert.Len(t, p.Entries(), 2)
}

func TestAddAccountRejectsMalformedToken(t *testing.T) {
	p := newTestPool(t, "least_used")
	_, err := p.AddAccount("not-a-jwt", "")
	assert.Error(t, err)
	assert.Empty(t, p.Entries())
}

func TestAcquireLocksUntilRelease(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	lease, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, entry.ID, lease.EntryID)
	assert.Equal(t, "acct-1", lease.AccountID)
	assert.Equal(t, 1, p.LockedCount())

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoAccounts)

	p.Release(lease.EntryID, &UsageDelta{Requests: 1, InputTokens: 10, OutputTokens: 20})
	assert.Equal(t, 0, p.LockedCount())

	got, ok := p.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), got.Usage.RequestCount)
	assert.Equal(t, int64(10), got.Usage.InputTokens)
	assert.Equal(t, int64(20), got.Usage.OutputTokens)

	_, err = p.Acquire()
	assert.NoError(t, err)
}

func TestAcquireLeastUsedPrefersLowestRequestCount(t *testing.T) {
	p := newTestPool(t, "least_used")
	a, err := p.AddAccount(makeToken(t, "acct-a", "a@example.com", futureExp()), "")
	require.NoError(t, err)
	b, err := p.AddAccount(makeToken(t, "acct-b", "b@example.com", futureExp()), "")
	require.NoError(t, err)

	lease, err := p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, a.ID, lease.EntryID)
	p.Release(lease.EntryID, &UsageDelta{Requests: 1})

	lease, err = p.Acquire()
	require.NoError(t, err)
	assert.Equal(t, b.ID, lease.EntryID, "the untouched entry is least used")
	p.Release(lease.EntryID, &UsageDelta{Requests: 1})
}

func TestAcquireRoundRobinAlternates(t *testing.T) {
	p := newTestPool(t, config.RotationRoundRobin)
	_, err := p.AddAccount(makeToken(t, "acct-a", "a@example.com", futureExp()), "")
	require.NoError(t, err)
	_, err = p.AddAccount(makeToken(t, "acct-b", "b@example.com", futureExp()), "")
	require.NoError(t, err)

	first, err := p.Acquire()
	require.NoError(t, err)
	p.Release(first.EntryID, nil)

	second, err := p.Acquire()
	require.NoError(t, err)
	p.Release(second.EntryID, nil)

	assert.NotEqual(t, first.EntryID, second.EntryID)
}

func TestMarkRateLimitedAndRollover(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	lease, err := p.Acquire()
	require.NoError(t, err)
	p.MarkRateLimited(lease.EntryID, 20*time.Millisecond, true)

	got, ok := p.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, StatusRateLimited, got.Status)
	assert.Equal(t, int64(1), got.Usage.RequestCount)
	assert.Equal(t, 0, p.LockedCount(), "rate limiting releases the lock")

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoAccounts)

	// Jitter keeps the window within ±20% of the hint.
	time.Sleep(40 * time.Millisecond)
	lease, err = p.Acquire()
	require.NoError(t, err)
	p.Release(lease.EntryID, nil)

	got, _ = p.Get(entry.ID)
	assert.Equal(t, StatusActive, got.Status)
	assert.Nil(t, got.Usage.RateLimitUntil)
}

func TestExpiredTokenExcludedFromAcquire(t *testing.T) {
	p := newTestPool(t, "least_used")
	_, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", time.Now().Add(-time.Hour).Unix()), "")
	require.NoError(t, err)

	_, err = p.Acquire()
	assert.ErrorIs(t, err, ErrNoAccounts)
	assert.Equal(t, 0, p.ActiveCount())

	entries := p.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StatusExpired, entries[0].Status)
}

func TestRemoveAccountIdempotent(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	assert.True(t, p.RemoveAccount(entry.ID))
	assert.False(t, p.RemoveAccount(entry.ID))
	assert.Empty(t, p.Entries())
}

func TestResetUsage(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	lease, _ := p.Acquire()
	p.Release(lease.EntryID, &UsageDelta{Requests: 3, InputTokens: 5, OutputTokens: 7})

	assert.True(t, p.ResetUsage(entry.ID))
	got, _ := p.Get(entry.ID)
	assert.Zero(t, got.Usage.RequestCount)
	assert.Zero(t, got.Usage.InputTokens)

	assert.False(t, p.ResetUsage("missing"))
}

func TestSyncRateLimitWindow(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	lease, _ := p.Acquire()
	p.Release(lease.EntryID, &UsageDelta{Requests: 2, InputTokens: 4, OutputTokens: 6})

	assert.True(t, p.SyncRateLimitWindow(entry.ID, 1700000000))
	got, _ := p.Get(entry.ID)
	assert.Zero(t, got.Usage.RequestCount)
	assert.Equal(t, int64(1700000000), got.Usage.WindowResetAt)

	// Same reset timestamp again is a no-op.
	assert.False(t, p.SyncRateLimitWindow(entry.ID, 1700000000))
}

func TestValidProxyKey(t *testing.T) {
	p := newTestPool(t, "least_used")
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "")
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ProxyKey)
	assert.True(t, p.ValidProxyKey(entry.ProxyKey))
	assert.False(t, p.ValidProxyKey("pk-wrong"))
	assert.False(t, p.ValidProxyKey(""))
}

func TestPersistenceRoundTrip(t *testing.T) {
	t.Setenv("CODEX_JWT_TOKEN", "")
	dir := t.TempDir()
	cfg := &config.Config{DataDir: dir}
	cfg.Auth.RotationStrategy = "least_used"
	cfg.Auth.RateLimitBackoffSeconds = 60

	p, err := NewPool(cfg)
	require.NoError(t, err)
	entry, err := p.AddAccount(makeToken(t, "acct-1", "a@example.com", futureExp()), "refresh-1")
	require.NoError(t, err)
	p.Close()

	reloaded, err := NewPool(cfg)
	require.NoError(t, err)
	defer reloaded.Close()

	entries := reloaded.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, "acct-1", entries[0].AccountID)
	assert.Equal(t, "refresh-1", entries[0].RefreshToken)
	assert.Equal(t, entry.ProxyKey, entries[0].ProxyKey)
}
