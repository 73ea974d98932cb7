package api

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
	"github.com/codexgate/codexgate/internal/pool"
)

// Login serves GET /auth/login: start a browser login and redirect to the
// provider's authorization page.
func (s *Server) Login(c *gin.Context) {
	authURL, _, err := s.startLogin("browser")
	if err != nil {
		writeOpenAIError(c, http.StatusInternalServerError, "server_error", "", err.Error())
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

// LoginStart serves POST /auth/login-start: same as Login but returns the URL
// for the caller to open, which suits remote-host setups.
func (s *Server) LoginStart(c *gin.Context) {
	authURL, state, err := s.startLogin("relay")
	if err != nil {
		writeOpenAIError(c, http.StatusInternalServerError, "server_error", "", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"authUrl": authURL, "state": state})
}

// CodeRelay serves POST /auth/code-relay: accepts the full callback URL
// pasted by a user whose browser could not reach the local listener.
func (s *Server) CodeRelay(c *gin.Context) {
	raw, ok := s.readJSONBody(c, ProtocolOpenAI)
	if !ok {
		return
	}
	pasted := gjson.GetBytes(raw, "url").String()
	parsed, err := url.Parse(pasted)
	if err != nil || parsed.Query().Get("code") == "" || parsed.Query().Get("state") == "" {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "url must carry code and state query parameters")
		return
	}
	s.completeLogin(c, parsed.Query().Get("code"), parsed.Query().Get("state"))
}

// Callback serves GET /auth/callback on the main listener, for flows where
// the provider was pointed at the gateway itself.
func (s *Server) Callback(c *gin.Context) {
	code, state := c.Query("code"), c.Query("state")
	if errParam := c.Query("error"); errParam != "" {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "authorization failed: "+errParam)
		return
	}
	if code == "" || state == "" {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "missing code or state")
		return
	}
	s.completeLogin(c, code, state)
}

// DeviceLogin serves POST /auth/device-login.
func (s *Server) DeviceLogin(c *gin.Context) {
	da, err := s.auth.StartDeviceLogin(c.Request.Context())
	if err != nil {
		writeOpenAIError(c, http.StatusBadGateway, "server_error", "", err.Error())
		return
	}
	c.JSON(http.StatusOK, da)
}

// DevicePoll serves GET /auth/device-poll/:deviceCode. A pending
// authorization answers 202.
func (s *Server) DevicePoll(c *gin.Context) {
	td, err := s.auth.PollDeviceToken(c.Request.Context(), c.Param("deviceCode"))
	if err != nil {
		if err == codexauth.ErrAuthorizationPending {
			c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
			return
		}
		writeOpenAIError(c, http.StatusBadGateway, "server_error", "", err.Error())
		return
	}
	entry, err := s.adoptTokens(td)
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "complete", "account": viewOf(*entry)})
}

// startLogin registers a pending OAuth session, arms the ephemeral callback
// listener, and returns the authorization URL.
func (s *Server) startLogin(source string) (authURL, state string, err error) {
	pkce, err := codexauth.GeneratePKCECodes()
	if err != nil {
		return "", "", fmt.Errorf("cannot generate PKCE codes: %w", err)
	}
	redirectURI := fmt.Sprintf("http://127.0.0.1:%d/auth/callback", s.cfg.Auth.CallbackPort)

	state, err = s.oauthSessions.Create(&codexauth.OAuthSession{
		CodeVerifier: pkce.CodeVerifier,
		RedirectURI:  redirectURI,
		Source:       source,
	})
	if err != nil {
		return "", "", err
	}

	if err = s.callback.Start(func(td *codexauth.TokenData) {
		if _, adoptErr := s.adoptTokens(td); adoptErr != nil {
			log.Errorf("cannot add account from oauth callback: %v", adoptErr)
		}
	}); err != nil {
		log.Warnf("oauth callback listener not started: %v", err)
	}

	return s.auth.GenerateAuthURL(state, pkce, redirectURI), state, nil
}

// completeLogin exchanges a relayed code against the pending session.
func (s *Server) completeLogin(c *gin.Context, code, state string) {
	sess, ok := s.oauthSessions.Take(state)
	if !ok {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "unknown or expired state")
		return
	}
	td, err := s.auth.ExchangeCode(c.Request.Context(), code, sess.RedirectURI, sess.CodeVerifier)
	if err != nil {
		writeOpenAIError(c, http.StatusBadGateway, "server_error", "", err.Error())
		return
	}
	entry, err := s.adoptTokens(td)
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": viewOf(*entry)})
}

// adoptTokens adds an exchanged token set to the pool and schedules its
// refresh.
func (s *Server) adoptTokens(td *codexauth.TokenData) (*pool.Entry, error) {
	token := td.AccessToken
	if token == "" {
		token = td.IDToken
	}
	entry, err := s.pool.AddAccount(token, td.RefreshToken)
	if err != nil {
		return nil, err
	}
	s.scheduler.Schedule(entry.ID)
	return entry, nil
}
