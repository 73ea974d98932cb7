package codex

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// OAuthSession is a pending login attempt, keyed by its random state.
type OAuthSession struct {
	CodeVerifier string
	RedirectURI  string
	ReturnHost   string
	Source       string
	CreatedAt    time.Time
}

const (
	sessionTTL      = 5 * time.Minute
	sessionSweepInt = time.Minute
)

// SessionStore tracks pending OAuth sessions with a five-minute TTL, swept
// every minute.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*OAuthSession
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSessionStore creates a session store and starts its sweeper.
func NewSessionStore() *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*OAuthSession),
		stop:     make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Create registers a pending session and returns its random state key.
func (s *SessionStore) Create(session *OAuthSession) (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	state := hex.EncodeToString(raw)
	session.CreatedAt = time.Now()

	s.mu.Lock()
	s.sessions[state] = session
	s.mu.Unlock()
	return state, nil
}

// Take removes and returns the session for state, if it exists and has not
// expired.
func (s *SessionStore) Take(state string) (*OAuthSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[state]
	if !ok {
		return nil, false
	}
	delete(s.sessions, state)
	if time.Since(session.CreatedAt) > sessionTTL {
		return nil, false
	}
	return session, true
}

// Close stops the sweeper.
func (s *SessionStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *SessionStore) sweep() {
	ticker := time.NewTicker(sessionSweepInt)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-sessionTTL)
			s.mu.Lock()
			for state, session := range s.sessions {
				if session.CreatedAt.Before(cutoff) {
					delete(s.sessions, state)
				}
			}
			s.mu.Unlock()
		}
	}
}
