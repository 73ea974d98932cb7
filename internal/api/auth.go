package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// proxyAuth guards the compatibility endpoints. When no server-wide proxy key
// is configured and no per-account keys exist, requests pass through. The key
// location differs per protocol: Authorization Bearer for OpenAI, x-api-key
// or Bearer for Anthropic, ?key= or x-goog-api-key or Bearer for Gemini.
func (s *Server) proxyAuth(proto Protocol) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Server.ProxyAPIKey == "" {
			c.Next()
			return
		}

		key := presentedKey(c, proto)
		if key == "" {
			writeProtocolError(c, proto, http.StatusUnauthorized, "missing API key")
			return
		}
		if key != s.cfg.Server.ProxyAPIKey && !s.pool.ValidProxyKey(key) {
			writeProtocolError(c, proto, http.StatusUnauthorized, "invalid API key")
			return
		}
		c.Next()
	}
}

func presentedKey(c *gin.Context, proto Protocol) string {
	bearer := bearerToken(c.GetHeader("Authorization"))
	switch proto {
	case ProtocolClaude:
		if key := c.GetHeader("x-api-key"); key != "" {
			return key
		}
		return bearer
	case ProtocolGemini:
		if key, ok := c.GetQuery("key"); ok && key != "" {
			return key
		}
		if key := c.GetHeader("x-goog-api-key"); key != "" {
			return key
		}
		return bearer
	default:
		return bearer
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(header)
}
