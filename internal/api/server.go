// Package api provides the HTTP surface of the gateway: the three
// compatibility protocols, account and auth management, cookie management,
// and the system endpoints. Request flow for the compatibility endpoints is
// translate, acquire, stream, re-encode, release.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
	"github.com/codexgate/codexgate/internal/api/middleware"
	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/cookies"
	"github.com/codexgate/codexgate/internal/fingerprint"
	"github.com/codexgate/codexgate/internal/pool"
	"github.com/codexgate/codexgate/internal/session"
	"github.com/codexgate/codexgate/internal/upstream"
)

// Deps is the application container handed to the server: every shared
// component, constructed once at startup.
type Deps struct {
	Cfg           *config.Config
	Pool          *pool.Pool
	Scheduler     *pool.RefreshScheduler
	Upstream      *upstream.Client
	Sessions      *session.Cache
	Jar           *cookies.Jar
	Auth          *codexauth.Auth
	OAuthSessions *codexauth.SessionStore
	Callback      *codexauth.CallbackServer
	Fingerprints  *config.FingerprintStore
	Headers       *fingerprint.Builder
}

// Server is the gateway HTTP server.
type Server struct {
	engine *gin.Engine
	server *http.Server

	cfg           *config.Config
	pool          *pool.Pool
	scheduler     *pool.RefreshScheduler
	upstream      *upstream.Client
	sessions      *session.Cache
	jar           *cookies.Jar
	auth          *codexauth.Auth
	oauthSessions *codexauth.SessionStore
	callback      *codexauth.CallbackServer
	fingerprints  *config.FingerprintStore
	headers       *fingerprint.Builder
}

// NewServer creates the server, wires middleware, and mounts all routes.
func NewServer(deps Deps) *Server {
	if !deps.Cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogging())
	engine.Use(middleware.CORS())

	s := &Server{
		engine:        engine,
		cfg:           deps.Cfg,
		pool:          deps.Pool,
		scheduler:     deps.Scheduler,
		upstream:      deps.Upstream,
		sessions:      deps.Sessions,
		jar:           deps.Jar,
		auth:          deps.Auth,
		oauthSessions: deps.OAuthSessions,
		callback:      deps.Callback,
		fingerprints:  deps.Fingerprints,
		headers:       deps.Headers,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", deps.Cfg.Server.Host, deps.Cfg.Server.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.engine.Group("/v1")
	v1.Use(s.proxyAuth(ProtocolOpenAI))
	{
		v1.POST("/chat/completions", s.ChatCompletions)
		v1.GET("/models", s.OpenAIModels)
		v1.GET("/models/:id", s.OpenAIModel)
		v1.GET("/models/:id/info", s.OpenAIModel)
	}

	// Anthropic clients authenticate with x-api-key, so /v1/messages gets its
	// own group.
	messages := s.engine.Group("/v1")
	messages.Use(s.proxyAuth(ProtocolClaude))
	messages.POST("/messages", s.ClaudeMessages)

	v1beta := s.engine.Group("/v1beta")
	v1beta.Use(s.proxyAuth(ProtocolGemini))
	{
		v1beta.GET("/models", s.GeminiModels)
		v1beta.POST("/models/:action", s.GeminiGenerate)
		v1beta.GET("/models/:action", s.GeminiModelRoutes)
	}

	auth := s.engine.Group("/auth")
	{
		auth.GET("/status", s.AuthStatus)
		auth.GET("/login", s.Login)
		auth.POST("/login-start", s.LoginStart)
		auth.POST("/code-relay", s.CodeRelay)
		auth.GET("/callback", s.Callback)
		auth.POST("/token", s.AddAccount)
		auth.POST("/logout", s.Logout)
		auth.POST("/device-login", s.DeviceLogin)
		auth.GET("/device-poll/:deviceCode", s.DevicePoll)
		auth.POST("/import-cli", s.ImportCLI)

		auth.GET("/accounts", s.ListAccounts)
		auth.POST("/accounts", s.AddAccount)
		auth.DELETE("/accounts/:id", s.RemoveAccount)
		auth.POST("/accounts/:id/reset-usage", s.ResetUsage)
		auth.GET("/accounts/:id/quota", s.AccountQuota)

		auth.GET("/accounts/:id/cookies", s.GetCookies)
		auth.POST("/accounts/:id/cookies", s.SetCookies)
		auth.DELETE("/accounts/:id/cookies", s.DeleteCookies)
	}

	s.engine.GET("/health", s.Health)
	s.engine.GET("/debug/fingerprint", s.DebugFingerprint)
	s.engine.GET("/", s.Dashboard)
}

// Start listens and serves. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Infof("gateway listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping gateway server")
	return s.server.Shutdown(ctx)
}

// UpdateConfig applies a hot-reloaded configuration. Listener address changes
// require a restart and are ignored here.
func (s *Server) UpdateConfig(cfg *config.Config) {
	s.cfg = cfg
	log.Info("server configuration updated")
}

// Engine exposes the router for tests.
func (s *Server) Engine() *gin.Engine { return s.engine }
