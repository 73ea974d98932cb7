package pool

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
)

const refreshRetryDelay = 5 * time.Second

// RefreshScheduler keeps account tokens fresh. For every active or
// refreshing entry it arms a timer at (token expiry − margin); a non-positive
// delay refreshes immediately. The scheduler borrows the pool and mutates it
// only through its exported API, so neither owns the other's lifecycle.
type RefreshScheduler struct {
	pool   *Pool
	auth   *codexauth.Auth
	margin time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// NewRefreshScheduler creates a scheduler over the pool.
func NewRefreshScheduler(p *Pool, auth *codexauth.Auth, margin time.Duration) *RefreshScheduler {
	return &RefreshScheduler{
		pool:   p,
		auth:   auth,
		margin: margin,
		timers: make(map[string]*time.Timer),
	}
}

// Start schedules a refresh for every eligible entry.
func (s *RefreshScheduler) Start() {
	for _, e := range s.pool.Entries() {
		if e.Status == StatusActive || e.Status == StatusRefreshing {
			s.Schedule(e.ID)
		}
	}
}

// Schedule (re)arms the refresh timer for one entry.
func (s *RefreshScheduler) Schedule(entryID string) {
	entry, ok := s.pool.Get(entryID)
	if !ok {
		return
	}
	claims, err := codexauth.ParseJWTToken(entry.Token)
	if err != nil {
		log.Warnf("cannot schedule refresh for %s: unparsable token: %v", entryID, err)
		return
	}

	delay := time.Until(claims.ExpiryTime().Add(-s.margin))
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if t, exists := s.timers[entryID]; exists {
		t.Stop()
	}
	s.timers[entryID] = time.AfterFunc(delay, func() { s.fire(entryID) })
	s.mu.Unlock()

	log.Debugf("scheduled token refresh for %s in %s", entryID, delay.Round(time.Second))
}

// Cancel stops the timer for one entry (account removal path).
func (s *RefreshScheduler) Cancel(entryID string) {
	s.mu.Lock()
	if t, exists := s.timers[entryID]; exists {
		t.Stop()
		delete(s.timers, entryID)
	}
	s.mu.Unlock()
}

// Destroy cancels all timers.
func (s *RefreshScheduler) Destroy() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()
}

func (s *RefreshScheduler) fire(entryID string) {
	entry, ok := s.pool.Get(entryID)
	if !ok {
		return
	}
	if entry.RefreshToken == "" {
		log.Warnf("entry %s has no refresh token; marking expired at expiry", entryID)
		s.pool.SetStatus(entryID, StatusExpired)
		return
	}

	s.pool.SetStatus(entryID, StatusRefreshing)

	refresh := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		td, err := s.auth.RefreshTokens(ctx, entry.RefreshToken)
		if err != nil {
			return err
		}
		token := td.AccessToken
		if token == "" {
			token = td.IDToken
		}
		s.pool.UpdateToken(entryID, token, td.RefreshToken)
		return nil
	}

	if err := refresh(); err != nil {
		log.Warnf("token refresh for %s failed: %v; retrying once", entryID, err)
		time.Sleep(refreshRetryDelay)
		if err = refresh(); err != nil {
			log.Errorf("token refresh for %s failed twice: %v; marking expired", entryID, err)
			s.pool.SetStatus(entryID, StatusExpired)
			return
		}
	}

	log.Infof("refreshed token for entry %s", entryID)
	s.Schedule(entryID)
}
