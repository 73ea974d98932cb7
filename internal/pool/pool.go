package pool

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/util"
)

// ErrNoAccounts signals that no active, unlocked entry exists.
var ErrNoAccounts = errors.New("no available accounts")

const (
	staleLockAge  = 5 * time.Minute
	persistDelay  = time.Second
	accountsFile  = "accounts.json"
	legacyFile    = "auth.json"
	rateJitterPct = 0.2
)

// Pool is the multi-account pool. All mutation goes through its mutex;
// request handlers, the refresh scheduler, and OAuth callbacks share it.
type Pool struct {
	mu       sync.Mutex
	entries  []*Entry
	locks    map[string]time.Time
	rrIndex  int
	strategy string
	backoff  time.Duration
	path     string
	timer    *time.Timer
	closed   bool
}

// NewPool loads accounts.json from the data directory, migrating the legacy
// single-token auth.json on first start and seeding CODEX_JWT_TOKEN when set.
// Migration failure leaves the pool operational and empty.
func NewPool(cfg *config.Config) (*Pool, error) {
	p := &Pool{
		locks:    make(map[string]time.Time),
		strategy: cfg.Auth.RotationStrategy,
		backoff:  time.Duration(cfg.Auth.RateLimitBackoffSeconds) * time.Second,
		path:     filepath.Join(cfg.DataDir, accountsFile),
	}

	if data, err := os.ReadFile(p.path); err == nil {
		if err = json.Unmarshal(data, &p.entries); err != nil {
			log.Errorf("accounts file at %s is unreadable; starting empty: %v", p.path, err)
			p.entries = nil
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	p.migrateLegacy(filepath.Join(cfg.DataDir, legacyFile))

	if token := os.Getenv("CODEX_JWT_TOKEN"); token != "" {
		if _, err := p.AddAccount(token, ""); err != nil {
			log.Warnf("failed to seed account from CODEX_JWT_TOKEN: %v", err)
		} else {
			log.Info("seeded account from CODEX_JWT_TOKEN")
		}
	}
	return p, nil
}

// migrateLegacy imports the pre-pool single-token file and renames it .bak.
func (p *Pool) migrateLegacy(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	root := gjson.ParseBytes(data)
	token := root.Get("tokens.access_token").String()
	refresh := root.Get("tokens.refresh_token").String()
	if token == "" {
		token = root.Get("access_token").String()
		refresh = root.Get("refresh_token").String()
	}
	if token == "" {
		token = root.Get("token").String()
	}
	if token != "" {
		if _, err = p.AddAccount(token, refresh); err != nil {
			log.Warnf("legacy auth file migration failed: %v", err)
		} else {
			log.Infof("migrated legacy auth file %s", path)
		}
	}
	if err = os.Rename(path, path+".bak"); err != nil {
		log.Warnf("failed to rename legacy auth file: %v", err)
	}
}

// Acquire selects an entry per the rotation strategy and locks it. It never
// blocks: ErrNoAccounts is returned when no candidate exists.
func (p *Pool) Acquire() (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.refreshStatusesLocked()
	p.releaseStaleLocksLocked()

	candidates := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Status != StatusActive {
			continue
		}
		if _, locked := p.locks[e.ID]; locked {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, ErrNoAccounts
	}

	var chosen *Entry
	if p.strategy == config.RotationRoundRobin {
		chosen = candidates[p.rrIndex%len(candidates)]
		p.rrIndex++
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].Usage.RequestCount != candidates[j].Usage.RequestCount {
				return candidates[i].Usage.RequestCount < candidates[j].Usage.RequestCount
			}
			if !candidates[i].Usage.LastUsed.Equal(candidates[j].Usage.LastUsed) {
				return candidates[i].Usage.LastUsed.Before(candidates[j].Usage.LastUsed)
			}
			return candidates[i].ID < candidates[j].ID
		})
		chosen = candidates[0]
	}

	p.locks[chosen.ID] = time.Now()
	return &Lease{EntryID: chosen.ID, Token: chosen.Token, AccountID: chosen.AccountID}, nil
}

// Release records usage and unlocks the entry. It is idempotent.
func (p *Pool) Release(entryID string, delta *UsageDelta) {
	p.mu.Lock()
	delete(p.locks, entryID)
	if delta != nil {
		if e := p.findLocked(entryID); e != nil {
			e.Usage.RequestCount += delta.Requests
			e.Usage.InputTokens += delta.InputTokens
			e.Usage.OutputTokens += delta.OutputTokens
			e.Usage.LastUsed = time.Now()
		}
	}
	p.mu.Unlock()
	p.schedulePersist()
}

// MarkRateLimited unlocks the entry, marks it rate-limited until now+backoff
// (with ±20% jitter), and optionally counts the request against usage.
func (p *Pool) MarkRateLimited(entryID string, retryAfter time.Duration, countRequest bool) {
	backoff := p.backoff
	if retryAfter > 0 {
		backoff = retryAfter
	}
	until := time.Now().Add(util.Jitter(backoff, rateJitterPct))

	p.mu.Lock()
	delete(p.locks, entryID)
	if e := p.findLocked(entryID); e != nil {
		e.Status = StatusRateLimited
		e.Usage.RateLimitUntil = &until
		if countRequest {
			e.Usage.RequestCount++
			e.Usage.LastUsed = time.Now()
		}
	}
	p.mu.Unlock()
	p.schedulePersist()
}

// AddAccount dedupes by the token's upstream account id: an existing entry is
// updated in place, otherwise a new entry with a fresh proxy key is created.
// Persistence is synchronous.
func (p *Pool) AddAccount(token, refreshToken string) (*Entry, error) {
	claims, err := codexauth.ParseJWTToken(token)
	if err != nil {
		return nil, err
	}
	accountID := claims.AccountID()

	p.mu.Lock()
	for _, e := range p.entries {
		if accountID != "" && e.AccountID == accountID {
			e.Token = token
			if refreshToken != "" {
				e.RefreshToken = refreshToken
			}
			e.Email = claims.Email
			e.PlanType = claims.PlanType()
			e.Status = StatusActive
			e.Usage.RateLimitUntil = nil
			out := *e
			p.mu.Unlock()
			p.persistNow()
			return &out, nil
		}
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		Token:        token,
		RefreshToken: refreshToken,
		Email:        claims.Email,
		AccountID:    accountID,
		PlanType:     claims.PlanType(),
		ProxyKey:     newProxyKey(),
		Status:       StatusActive,
		AddedAt:      time.Now(),
	}
	p.entries = append(p.entries, entry)
	out := *entry
	p.mu.Unlock()
	p.persistNow()
	return &out, nil
}

// UpdateToken installs a refreshed token set and reactivates the entry.
// Persistence is synchronous; tokens are critical fields.
func (p *Pool) UpdateToken(entryID, token, refreshToken string) {
	p.mu.Lock()
	if e := p.findLocked(entryID); e != nil {
		e.Token = token
		if refreshToken != "" {
			e.RefreshToken = refreshToken
		}
		e.Status = StatusActive
	}
	p.mu.Unlock()
	p.persistNow()
}

// SetStatus transitions an entry's status directly (refresh scheduler path).
func (p *Pool) SetStatus(entryID, status string) {
	p.mu.Lock()
	if e := p.findLocked(entryID); e != nil {
		e.Status = status
	}
	p.mu.Unlock()
	p.schedulePersist()
}

// RemoveAccount deletes an entry by id. Removal is idempotent.
func (p *Pool) RemoveAccount(entryID string) bool {
	p.mu.Lock()
	removed := false
	for i, e := range p.entries {
		if e.ID == entryID {
			p.entries = append(p.entries[:i], p.entries[i+1:]...)
			delete(p.locks, entryID)
			removed = true
			break
		}
	}
	p.mu.Unlock()
	if removed {
		p.persistNow()
	}
	return removed
}

// ResetUsage zeroes an entry's counters.
func (p *Pool) ResetUsage(entryID string) bool {
	p.mu.Lock()
	e := p.findLocked(entryID)
	if e != nil {
		e.Usage = Usage{}
	}
	p.mu.Unlock()
	if e != nil {
		p.persistNow()
	}
	return e != nil
}

// SyncRateLimitWindow zeroes local counters when the upstream's window reset
// timestamp moves.
func (p *Pool) SyncRateLimitWindow(entryID string, resetAt int64) bool {
	changed := false
	p.mu.Lock()
	if e := p.findLocked(entryID); e != nil && e.Usage.WindowResetAt != resetAt {
		e.Usage.RequestCount = 0
		e.Usage.InputTokens = 0
		e.Usage.OutputTokens = 0
		e.Usage.WindowResetAt = resetAt
		changed = true
	}
	p.mu.Unlock()
	if changed {
		p.schedulePersist()
	}
	return changed
}

// Entries returns a snapshot copy of every entry.
func (p *Pool) Entries() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshStatusesLocked()
	out := make([]Entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	return out
}

// Get returns a snapshot of one entry.
func (p *Pool) Get(entryID string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e := p.findLocked(entryID); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// ActiveCount reports how many entries are currently usable.
func (p *Pool) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshStatusesLocked()
	n := 0
	for _, e := range p.entries {
		if e.Status == StatusActive {
			n++
		}
	}
	return n
}

// ValidProxyKey reports whether key matches any entry's local proxy key.
func (p *Pool) ValidProxyKey(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.ProxyKey != "" && e.ProxyKey == key {
			return true
		}
	}
	return false
}

// LockedCount reports in-flight leases (used by tests and the health view).
func (p *Pool) LockedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}

// Close flushes pending writes.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
	p.persistNow()
}

// refreshStatusesLocked rolls rate-limited entries back to active once their
// window passed and expires entries whose JWT expiry is behind us.
func (p *Pool) refreshStatusesLocked() {
	now := time.Now()
	for _, e := range p.entries {
		if e.Status == StatusRateLimited && e.Usage.RateLimitUntil != nil && !e.Usage.RateLimitUntil.After(now) {
			e.Status = StatusActive
			e.Usage.RateLimitUntil = nil
		}
		if e.Status == StatusActive {
			if claims, err := codexauth.ParseJWTToken(e.Token); err == nil && claims.Expired() {
				e.Status = StatusExpired
			}
		}
	}
}

// releaseStaleLocksLocked drops locks older than five minutes, covering
// crashes between acquire and release.
func (p *Pool) releaseStaleLocksLocked() {
	cutoff := time.Now().Add(-staleLockAge)
	for id, at := range p.locks {
		if at.Before(cutoff) {
			log.Warnf("releasing stale pool lock for entry %s", id)
			delete(p.locks, id)
		}
	}
}

func (p *Pool) findLocked(entryID string) *Entry {
	for _, e := range p.entries {
		if e.ID == entryID {
			return e
		}
	}
	return nil
}

func (p *Pool) schedulePersist() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if p.timer != nil {
		p.timer.Reset(persistDelay)
		return
	}
	p.timer = time.AfterFunc(persistDelay, func() {
		p.mu.Lock()
		p.timer = nil
		p.mu.Unlock()
		p.persistNow()
	})
}

// persistNow writes accounts.json atomically. Persistence errors are logged,
// never propagated to request handlers.
func (p *Pool) persistNow() {
	p.mu.Lock()
	data, err := json.MarshalIndent(p.entries, "", "  ")
	p.mu.Unlock()
	if err != nil {
		log.Errorf("failed to marshal accounts: %v", err)
		return
	}
	if err = util.AtomicWriteFile(p.path, data, 0o600); err != nil {
		log.Errorf("failed to persist accounts: %v", err)
	}
}

func newProxyKey() string {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "pk-" + uuid.NewString()
	}
	return "pk-" + hex.EncodeToString(raw)
}
