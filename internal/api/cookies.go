package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/pool"
)

// accountForCookies resolves the path id to an entry; cookies key on the
// upstream account id.
func (s *Server) accountForCookies(c *gin.Context) (pool.Entry, bool) {
	entry, ok := s.pool.Get(c.Param("id"))
	if !ok {
		writeOpenAIError(c, http.StatusNotFound, "invalid_request_error", "", "account not found")
		return pool.Entry{}, false
	}
	return entry, true
}

// GetCookies serves GET /auth/accounts/:id/cookies.
func (s *Server) GetCookies(c *gin.Context) {
	entry, ok := s.accountForCookies(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"cookies": s.jar.Cookies(entry.AccountID)})
}

// SetCookies serves POST /auth/accounts/:id/cookies. The body is a flat
// name→value object; values apply without an expiry.
func (s *Server) SetCookies(c *gin.Context) {
	entry, ok := s.accountForCookies(c)
	if !ok {
		return
	}
	raw, ok := s.readJSONBody(c, ProtocolOpenAI)
	if !ok {
		return
	}
	count := 0
	gjson.ParseBytes(raw).ForEach(func(key, value gjson.Result) bool {
		var expires *time.Time
		s.jar.Set(entry.AccountID, key.String(), value.String(), expires)
		count++
		return true
	})
	c.JSON(http.StatusOK, gin.H{"stored": count})
}

// DeleteCookies serves DELETE /auth/accounts/:id/cookies. With ?name= only
// that cookie goes; otherwise the whole account store is cleared.
func (s *Server) DeleteCookies(c *gin.Context) {
	entry, ok := s.accountForCookies(c)
	if !ok {
		return
	}
	if name := c.Query("name"); name != "" {
		s.jar.Delete(entry.AccountID, name)
		c.JSON(http.StatusOK, gin.H{"deleted": name})
		return
	}
	s.jar.Clear(entry.AccountID)
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
