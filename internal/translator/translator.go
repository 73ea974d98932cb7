// Package translator holds the pieces shared by the per-protocol translators:
// reasoning-effort resolution, the desktop context prompt, content flattening
// markers, and the per-stream state threaded through SSE re-encoding.
package translator

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"
)

// Options carries the resolved request parameters into a request translator.
type Options struct {
	// Model is the canonical upstream model id.
	Model string

	// PromptPath locates the on-disk desktop context prompt.
	PromptPath string

	// DefaultEffort applies when the request carries no protocol-specific
	// reasoning hint. Empty omits the reasoning block.
	DefaultEffort string
}

// WireEvent is one SSE frame to send to the client. Event is empty for
// protocols that use bare data: lines.
type WireEvent struct {
	Event string
	Data  string
}

// StreamState accumulates across the upstream events of one request. The
// response translators mutate it; handlers read UpstreamID for session
// threading and the token counts for usage accounting.
type StreamState struct {
	// ID is the locally generated wire id (chatcmpl-…, msg_…). It is
	// independent of the upstream response id.
	ID        string
	Model     string
	CreatedAt int64

	UpstreamID   string
	InputTokens  int64
	OutputTokens int64
	Completed    bool

	// RoleSent and BlockOpen track per-protocol framing progress.
	RoleSent  bool
	BlockOpen bool

	text strings.Builder
}

// NewStreamState creates the state for one request with a fresh local id.
func NewStreamState(idPrefix, model string) *StreamState {
	return &StreamState{
		ID:        idPrefix + randomHex(12),
		Model:     model,
		CreatedAt: time.Now().Unix(),
	}
}

// Text returns the accumulated output text (non-streaming aggregation).
func (s *StreamState) Text() string { return s.text.String() }

// AppendText accumulates a delta for non-streaming aggregation.
func (s *StreamState) AppendText(t string) { s.text.WriteString(t) }

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
