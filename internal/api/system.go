package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health serves GET /health.
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"accounts":        len(s.pool.Entries()),
		"active_accounts": s.pool.ActiveCount(),
		"sessions":        s.sessions.Len(),
	})
}

// DebugFingerprint serves GET /debug/fingerprint: the live fingerprint and
// which transport carries it.
func (s *Server) DebugFingerprint(c *gin.Context) {
	fp := s.fingerprints.Get()
	c.JSON(http.StatusOK, gin.H{
		"user_agent":       s.headers.UserAgent(),
		"chromium_version": fp.ChromiumVersion,
		"app_version":      fp.AppVersion,
		"build_number":     fp.BuildNumber,
		"header_order":     fp.HeaderOrder,
		"default_headers":  fp.DefaultHeaders,
		"impersonating":    s.upstream.Transport().Impersonate(),
	})
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>Codex Gateway</title></head>
<body>
<h1>Codex Gateway</h1>
<p>The gateway is running. Endpoints:</p>
<ul>
<li><code>POST /v1/chat/completions</code></li>
<li><code>POST /v1/messages</code></li>
<li><code>POST /v1beta/models/{model}:generateContent</code></li>
<li><code>GET /auth/status</code></li>
<li><code>GET /health</code></li>
</ul>
</body>
</html>`

// Dashboard serves GET /.
func (s *Server) Dashboard(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(dashboardHTML))
}
