package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/registry"
	claudetr "github.com/codexgate/codexgate/internal/translator/claude"
	geminitr "github.com/codexgate/codexgate/internal/translator/gemini"
	openaitr "github.com/codexgate/codexgate/internal/translator/openai"
)

// ChatCompletions serves POST /v1/chat/completions.
func (s *Server) ChatCompletions(c *gin.Context) {
	raw, ok := s.readJSONBody(c, ProtocolOpenAI)
	if !ok {
		return
	}
	model := registry.Canonical(gjson.GetBytes(raw, "model").String(), s.cfg.Model.Default)
	stream := gjson.GetBytes(raw, "stream").Bool()

	s.relay(c, codec{
		proto:     ProtocolOpenAI,
		idPrefix:  openaitr.IDPrefix,
		convert:   openaitr.ConvertChatRequest,
		translate: openaitr.TranslateStream,
		nonStream: openaitr.NonStream,
	}, raw, model, stream)
}

// ClaudeMessages serves POST /v1/messages.
func (s *Server) ClaudeMessages(c *gin.Context) {
	raw, ok := s.readJSONBody(c, ProtocolClaude)
	if !ok {
		return
	}
	model := registry.Canonical(gjson.GetBytes(raw, "model").String(), s.cfg.Model.Default)
	stream := gjson.GetBytes(raw, "stream").Bool()

	s.relay(c, codec{
		proto:     ProtocolClaude,
		idPrefix:  claudetr.IDPrefix,
		convert:   claudetr.ConvertMessagesRequest,
		translate: claudetr.TranslateStream,
		nonStream: claudetr.NonStream,
	}, raw, model, stream)
}

// GeminiGenerate serves POST /v1beta/models/{model}:generateContent and
// :streamGenerateContent. Gin cannot split on the colon, so the action is
// parsed out of the single path parameter.
func (s *Server) GeminiGenerate(c *gin.Context) {
	action := c.Param("action")
	modelName, method, found := strings.Cut(action, ":")
	if !found {
		writeGeminiError(c, http.StatusNotFound, "unknown method")
		return
	}
	var stream bool
	switch method {
	case "generateContent":
		stream = false
	case "streamGenerateContent":
		stream = true
	default:
		writeGeminiError(c, http.StatusNotFound, "unknown method: "+method)
		return
	}

	raw, ok := s.readJSONBody(c, ProtocolGemini)
	if !ok {
		return
	}
	model := registry.Canonical(modelName, s.cfg.Model.Default)

	s.relay(c, codec{
		proto:     ProtocolGemini,
		idPrefix:  "resp_",
		convert:   geminitr.ConvertGenerateRequest,
		translate: geminitr.TranslateStream,
		nonStream: geminitr.NonStream,
	}, raw, model, stream)
}

// readJSONBody reads and validates the request body as a JSON object.
func (s *Server) readJSONBody(c *gin.Context, proto Protocol) ([]byte, bool) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		writeProtocolError(c, proto, http.StatusBadRequest, "cannot read request body")
		return nil, false
	}
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		writeProtocolError(c, proto, http.StatusBadRequest, "request body must be a JSON object")
		return nil, false
	}
	return raw, true
}
