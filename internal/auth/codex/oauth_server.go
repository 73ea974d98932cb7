package codex

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TokenSink receives the token set produced by a completed callback.
type TokenSink func(td *TokenData)

// CallbackServer is the ephemeral HTTP listener that receives the OAuth
// redirect. Only one instance runs at a time: starting a new one closes any
// listener still active. The server serves exactly one path and closes
// itself two seconds after a callback, or after five minutes of silence.
type CallbackServer struct {
	auth     *Auth
	sessions *SessionStore
	port     int

	mu      sync.Mutex
	server  *http.Server
	done    chan struct{}
	running bool
}

var (
	activeCallbackMu     sync.Mutex
	activeCallbackServer *CallbackServer
)

const (
	callbackPath       = "/auth/callback"
	callbackLinger     = 2 * time.Second
	callbackMaxLife    = 5 * time.Minute
	callbackStopWithin = 5 * time.Second
)

// NewCallbackServer creates a callback listener bound to the configured
// fixed port.
func NewCallbackServer(auth *Auth, sessions *SessionStore, port int) *CallbackServer {
	return &CallbackServer{auth: auth, sessions: sessions, port: port}
}

// Start launches the listener, closing any previously active instance first.
// sink receives the exchanged tokens on success.
func (s *CallbackServer) Start(sink TokenSink) error {
	activeCallbackMu.Lock()
	if activeCallbackServer != nil && activeCallbackServer != s {
		prev := activeCallbackServer
		activeCallbackMu.Unlock()
		prev.Stop()
		activeCallbackMu.Lock()
	}
	activeCallbackServer = s
	activeCallbackMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("callback server already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleCallback(w, r, sink)
	})

	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.done = make(chan struct{})
	s.running = true

	srv := s.server
	done := s.done
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("oauth callback server failed: %v", err)
		}
	}()
	go func() {
		select {
		case <-done:
		case <-time.After(callbackMaxLife):
			log.Debug("oauth callback server timed out; closing")
			s.Stop()
		}
	}()
	log.Infof("oauth callback server listening on port %d", s.port)
	return nil
}

// Stop shuts the listener down. It is idempotent.
func (s *CallbackServer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.server
	done := s.done
	s.server = nil
	s.mu.Unlock()

	close(done)
	ctx, cancel := context.WithTimeout(context.Background(), callbackStopWithin)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnf("oauth callback server shutdown error: %v", err)
	}

	activeCallbackMu.Lock()
	if activeCallbackServer == s {
		activeCallbackServer = nil
	}
	activeCallbackMu.Unlock()
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request, sink TokenSink) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	if errParam := query.Get("error"); errParam != "" {
		log.Errorf("oauth callback error: %s", errParam)
		http.Error(w, fmt.Sprintf("OAuth error: %s", errParam), http.StatusBadRequest)
		s.lingerAndStop()
		return
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		http.Error(w, "Missing code or state", http.StatusBadRequest)
		return
	}

	session, ok := s.sessions.Take(state)
	if !ok {
		log.Warnf("oauth callback with unknown state")
		http.Error(w, "Unknown or expired state", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), oauthTimeout)
	defer cancel()
	td, err := s.auth.ExchangeCode(ctx, code, session.RedirectURI, session.CodeVerifier)
	if err != nil {
		log.Errorf("oauth code exchange failed: %v", err)
		http.Error(w, "Code exchange failed", http.StatusBadGateway)
		s.lingerAndStop()
		return
	}

	if sink != nil {
		sink(td)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("<html><body><h2>Login successful</h2><p>You can close this window.</p></body></html>"))
	s.lingerAndStop()
}

func (s *CallbackServer) lingerAndStop() {
	go func() {
		time.Sleep(callbackLinger)
		s.Stop()
	}()
}
