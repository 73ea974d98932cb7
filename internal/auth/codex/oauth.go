package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/util"
)

const oauthTimeout = 30 * time.Second

// TokenData is the outcome of a code exchange or refresh.
type TokenData struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	AccountID    string
	Email        string
	PlanType     string
	Expire       time.Time
}

// DeviceAuthorization is the outcome of starting a device-code login.
type DeviceAuthorization struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Auth drives the OAuth flows against the provider's endpoints.
type Auth struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewAuth creates an OAuth service bound to the configured endpoints.
func NewAuth(cfg *config.Config) *Auth {
	return &Auth{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: oauthTimeout},
	}
}

// GenerateAuthURL assembles the authorization URL manually so that spaces in
// the scope are encoded as %20 rather than +.
func (a *Auth) GenerateAuthURL(state string, pkce *PKCECodes, redirectURI string) string {
	params := []struct{ k, v string }{
		{"response_type", "code"},
		{"client_id", a.cfg.Auth.OAuthClientID},
		{"redirect_uri", redirectURI},
		{"scope", "openid profile email offline_access"},
		{"code_challenge", pkce.CodeChallenge},
		{"code_challenge_method", "S256"},
		{"id_token_add_organizations", "true"},
		{"codex_cli_simplified_flow", "true"},
		{"state", state},
	}
	var b strings.Builder
	b.WriteString(a.cfg.Auth.OAuthAuthEndpoint)
	for i, p := range params {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(strings.ReplaceAll(url.QueryEscape(p.v), "+", "%20"))
	}
	return b.String()
}

// ExchangeCode exchanges an authorization code for tokens.
func (a *Auth) ExchangeCode(ctx context.Context, code, redirectURI, codeVerifier string) (*TokenData, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {a.cfg.Auth.OAuthClientID},
		"code_verifier": {codeVerifier},
	}
	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("code exchange failed: %w", err)
	}
	return a.tokenDataFromResponse(body)
}

// RefreshTokens exchanges a refresh token for a fresh token set.
func (a *Auth) RefreshTokens(ctx context.Context, refreshToken string) (*TokenData, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {a.cfg.Auth.OAuthClientID},
		"scope":         {"openid profile email"},
	}
	body, err := a.postForm(ctx, form)
	if err != nil {
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}
	return a.tokenDataFromResponse(body)
}

// RefreshTokensWithRetry retries transient refresh failures with a doubling
// backoff.
func (a *Auth) RefreshTokensWithRetry(ctx context.Context, refreshToken string, attempts int) (*TokenData, error) {
	var td *TokenData
	attempt := 0
	err := util.RetryWithBackoff(ctx, attempts, time.Second, func() error {
		attempt++
		var refreshErr error
		if td, refreshErr = a.RefreshTokens(ctx, refreshToken); refreshErr != nil {
			log.Warnf("token refresh attempt %d/%d failed: %v", attempt, attempts, refreshErr)
		}
		return refreshErr
	}, nil)
	if err != nil {
		return nil, err
	}
	return td, nil
}

// StartDeviceLogin begins the RFC 8628 device authorization flow.
func (a *Auth) StartDeviceLogin(ctx context.Context) (*DeviceAuthorization, error) {
	endpoint := strings.TrimSuffix(a.cfg.Auth.OAuthAuthEndpoint, "/authorize") + "/device/code"
	form := url.Values{
		"client_id": {a.cfg.Auth.OAuthClientID},
		"scope":     {"openid profile email offline_access"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("device authorization request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("device authorization failed with status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	var da DeviceAuthorization
	if err = json.Unmarshal(data, &da); err != nil {
		return nil, fmt.Errorf("failed to parse device authorization response: %w", err)
	}
	if da.Interval <= 0 {
		da.Interval = 5
	}
	return &da, nil
}

// ErrAuthorizationPending signals the device flow is still waiting for the
// user to approve.
var ErrAuthorizationPending = fmt.Errorf("authorization_pending")

// PollDeviceToken performs one poll of the device token endpoint.
func (a *Auth) PollDeviceToken(ctx context.Context, deviceCode string) (*TokenData, error) {
	form := url.Values{
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {deviceCode},
		"client_id":   {a.cfg.Auth.OAuthClientID},
	}
	body, err := a.postForm(ctx, form)
	if err != nil {
		if strings.Contains(err.Error(), "authorization_pending") || strings.Contains(err.Error(), "slow_down") {
			return nil, ErrAuthorizationPending
		}
		return nil, err
	}
	return a.tokenDataFromResponse(body)
}

func (a *Auth) postForm(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Auth.OAuthTokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(data, "error").String()
		if detail == "" {
			detail = truncate(string(data), 256)
		}
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, detail)
	}
	return data, nil
}

// tokenDataFromResponse extracts a TokenData from a token endpoint response,
// mining the ID token claims for account metadata.
func (a *Auth) tokenDataFromResponse(body []byte) (*TokenData, error) {
	result := gjson.ParseBytes(body)
	td := &TokenData{
		IDToken:      result.Get("id_token").String(),
		AccessToken:  result.Get("access_token").String(),
		RefreshToken: result.Get("refresh_token").String(),
	}
	if td.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}

	source := td.IDToken
	if source == "" {
		source = td.AccessToken
	}
	if claims, err := ParseJWTToken(source); err == nil {
		td.AccountID = claims.AccountID()
		td.Email = claims.Email
		td.PlanType = claims.PlanType()
		td.Expire = claims.ExpiryTime()
	} else {
		log.Debugf("token response carried an unparsable JWT: %v", err)
	}
	if td.Expire.IsZero() {
		if expiresIn := result.Get("expires_in").Int(); expiresIn > 0 {
			td.Expire = time.Now().Add(time.Duration(expiresIn) * time.Second)
		}
	}
	return td, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
