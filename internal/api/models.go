package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/codexgate/codexgate/internal/registry"
)

// OpenAIModels serves GET /v1/models.
func (s *Server) OpenAIModels(c *gin.Context) {
	models := registry.Models()
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"id":       m.ID,
			"object":   "model",
			"created":  m.Created,
			"owned_by": m.OwnedBy,
		})
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": data})
}

// OpenAIModel serves GET /v1/models/{id} and /v1/models/{id}/info.
func (s *Server) OpenAIModel(c *gin.Context) {
	id := registry.Canonical(c.Param("id"), "")
	m, ok := registry.Lookup(id)
	if !ok {
		writeOpenAIError(c, http.StatusNotFound, "invalid_request_error", "model_not_found", "model not found: "+c.Param("id"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           m.ID,
		"object":       "model",
		"created":      m.Created,
		"owned_by":     m.OwnedBy,
		"display_name": m.DisplayName,
	})
}

// GeminiModels serves GET /v1beta/models.
func (s *Server) GeminiModels(c *gin.Context) {
	models := registry.Models()
	data := make([]gin.H, 0, len(models))
	for _, m := range models {
		data = append(data, gin.H{
			"name":                       "models/" + m.ID,
			"version":                    "001",
			"displayName":                m.DisplayName,
			"inputTokenLimit":            m.InputTokenLimit,
			"outputTokenLimit":           m.OutputTokenLimit,
			"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": data})
}

// GeminiModelRoutes dispatches GET /v1beta/models/{action}: a bare model name
// answers with the model description.
func (s *Server) GeminiModelRoutes(c *gin.Context) {
	name := c.Param("action")
	if strings.Contains(name, ":") {
		writeGeminiError(c, http.StatusNotFound, "unknown method")
		return
	}
	id := registry.Canonical(name, "")
	m, ok := registry.Lookup(id)
	if !ok {
		writeGeminiError(c, http.StatusNotFound, "model not found: "+name)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":                       "models/" + m.ID,
		"version":                    "001",
		"displayName":                m.DisplayName,
		"inputTokenLimit":            m.InputTokenLimit,
		"outputTokenLimit":           m.OutputTokenLimit,
		"supportedGenerationMethods": []string{"generateContent", "streamGenerateContent"},
	})
}
