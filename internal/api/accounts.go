package api

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/pool"
)

// accountView is the sanitized entry shape returned by the management
// endpoints. Tokens never leave the process.
type accountView struct {
	ID          string     `json:"id"`
	Email       string     `json:"email,omitempty"`
	AccountID   string     `json:"account_id"`
	PlanType    string     `json:"plan_type,omitempty"`
	ProxyAPIKey string     `json:"proxy_api_key"`
	Status      string     `json:"status"`
	Usage       pool.Usage `json:"usage"`
	AddedAt     string     `json:"added_at"`
	Quota       any        `json:"quota,omitempty"`
}

func viewOf(e pool.Entry) accountView {
	return accountView{
		ID:          e.ID,
		Email:       e.Email,
		AccountID:   e.AccountID,
		PlanType:    e.PlanType,
		ProxyAPIKey: e.ProxyKey,
		Status:      e.Status,
		Usage:       e.Usage,
		AddedAt:     e.AddedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// AuthStatus serves GET /auth/status.
func (s *Server) AuthStatus(c *gin.Context) {
	entries := s.pool.Entries()
	c.JSON(http.StatusOK, gin.H{
		"logged_in": len(entries) > 0,
		"accounts":  len(entries),
		"active":    s.pool.ActiveCount(),
	})
}

// ListAccounts serves GET /auth/accounts. With ?quota=true each active
// account's usage window is fetched from the upstream and the local counters
// are rolled over when the window reset timestamp moved.
func (s *Server) ListAccounts(c *gin.Context) {
	withQuota := c.Query("quota") == "true"
	entries := s.pool.Entries()
	views := make([]accountView, 0, len(entries))
	for _, e := range entries {
		view := viewOf(e)
		if withQuota && e.Status == pool.StatusActive {
			if quota, err := s.fetchQuota(c, e); err == nil {
				view.Quota = quota
			} else {
				log.Warnf("quota fetch for %s failed: %v", e.ID, err)
			}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"accounts": views})
}

// AddAccount serves POST /auth/accounts and POST /auth/token.
func (s *Server) AddAccount(c *gin.Context) {
	raw, ok := s.readJSONBody(c, ProtocolOpenAI)
	if !ok {
		return
	}
	token := gjson.GetBytes(raw, "token").String()
	if token == "" {
		token = gjson.GetBytes(raw, "access_token").String()
	}
	if token == "" {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "token is required")
		return
	}
	entry, err := s.pool.AddAccount(token, gjson.GetBytes(raw, "refresh_token").String())
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", err.Error())
		return
	}
	s.scheduler.Schedule(entry.ID)
	c.JSON(http.StatusOK, gin.H{"account": viewOf(*entry)})
}

// RemoveAccount serves DELETE /auth/accounts/:id. Removal is idempotent.
func (s *Server) RemoveAccount(c *gin.Context) {
	id := c.Param("id")
	s.scheduler.Cancel(id)
	removed := s.pool.RemoveAccount(id)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// ResetUsage serves POST /auth/accounts/:id/reset-usage.
func (s *Server) ResetUsage(c *gin.Context) {
	if !s.pool.ResetUsage(c.Param("id")) {
		writeOpenAIError(c, http.StatusNotFound, "invalid_request_error", "", "account not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// AccountQuota serves GET /auth/accounts/:id/quota.
func (s *Server) AccountQuota(c *gin.Context) {
	entry, ok := s.pool.Get(c.Param("id"))
	if !ok {
		writeOpenAIError(c, http.StatusNotFound, "invalid_request_error", "", "account not found")
		return
	}
	quota, err := s.fetchQuota(c, entry)
	if err != nil {
		writeOpenAIError(c, http.StatusBadGateway, "server_error", "", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": quota})
}

// Logout serves POST /auth/logout. A body naming an id removes that account;
// otherwise every account is removed.
func (s *Server) Logout(c *gin.Context) {
	raw, _ := c.GetRawData()
	if id := gjson.GetBytes(raw, "id").String(); id != "" {
		s.scheduler.Cancel(id)
		c.JSON(http.StatusOK, gin.H{"removed": s.pool.RemoveAccount(id)})
		return
	}
	removed := 0
	for _, e := range s.pool.Entries() {
		s.scheduler.Cancel(e.ID)
		if s.pool.RemoveAccount(e.ID) {
			removed++
		}
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// ImportCLI serves POST /auth/import-cli: adopt the token stored by the Codex
// CLI under CODEX_HOME (default ~/.codex).
func (s *Server) ImportCLI(c *gin.Context) {
	home := os.Getenv("CODEX_HOME")
	if home == "" {
		if userHome, err := os.UserHomeDir(); err == nil {
			home = filepath.Join(userHome, ".codex")
		}
	}
	authPath := filepath.Join(home, "auth.json")
	data, err := os.ReadFile(authPath)
	if err != nil {
		writeOpenAIError(c, http.StatusNotFound, "invalid_request_error", "", "cannot read "+authPath)
		return
	}

	token := gjson.GetBytes(data, "tokens.access_token").String()
	if token == "" {
		token = gjson.GetBytes(data, "tokens.id_token").String()
	}
	if token == "" {
		token = gjson.GetBytes(data, "OPENAI_API_KEY").String()
	}
	if token == "" {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", "no token found in "+authPath)
		return
	}
	entry, err := s.pool.AddAccount(token, gjson.GetBytes(data, "tokens.refresh_token").String())
	if err != nil {
		writeOpenAIError(c, http.StatusBadRequest, "invalid_request_error", "", err.Error())
		return
	}
	s.scheduler.Schedule(entry.ID)
	c.JSON(http.StatusOK, gin.H{"account": viewOf(*entry)})
}

// fetchQuota pulls /codex/usage for one entry and rolls the local window over
// when the upstream reset timestamp moved.
func (s *Server) fetchQuota(c *gin.Context, entry pool.Entry) (any, error) {
	lease := &pool.Lease{EntryID: entry.ID, Token: entry.Token, AccountID: entry.AccountID}
	body, err := s.upstream.Usage(c.Request.Context(), lease)
	if err != nil {
		return nil, err
	}
	if resetAt := gjson.Get(body, "rate_limit.primary_window.reset_at").Int(); resetAt > 0 {
		s.pool.SyncRateLimitWindow(entry.ID, resetAt)
	}
	return gjson.Parse(body).Value(), nil
}
