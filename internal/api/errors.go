package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Protocol identifies which compatibility surface a request came in on, which
// decides the error payload shape.
type Protocol int

const (
	ProtocolOpenAI Protocol = iota
	ProtocolClaude
	ProtocolGemini
)

func writeOpenAIError(c *gin.Context, status int, errType, code, message string) {
	payload := gin.H{
		"message": message,
		"type":    errType,
		"param":   nil,
	}
	if code != "" {
		payload["code"] = code
	} else {
		payload["code"] = nil
	}
	c.AbortWithStatusJSON(status, gin.H{"error": payload})
}

func writeClaudeError(c *gin.Context, status int, errType, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    errType,
			"message": message,
		},
	})
}

func writeGeminiError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  googleStatus(status),
		},
	})
}

func googleStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

// writeProtocolError renders message in the protocol's error shape for a
// given HTTP status.
func writeProtocolError(c *gin.Context, proto Protocol, status int, message string) {
	switch proto {
	case ProtocolClaude:
		writeClaudeError(c, status, claudeErrorType(status), message)
	case ProtocolGemini:
		writeGeminiError(c, status, message)
	default:
		writeOpenAIError(c, status, openaiErrorType(status), "", message)
	}
}

func openaiErrorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status >= 500:
		return "server_error"
	default:
		return "invalid_request_error"
	}
}

func claudeErrorType(status int) string {
	switch {
	case status == http.StatusUnauthorized:
		return "authentication_error"
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == 529:
		return "overloaded_error"
	case status == http.StatusBadRequest:
		return "invalid_request_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}
