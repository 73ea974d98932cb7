package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/codexgate/codexgate/internal/pool"
	"github.com/codexgate/codexgate/internal/registry"
	"github.com/codexgate/codexgate/internal/session"
	"github.com/codexgate/codexgate/internal/translator"
	"github.com/codexgate/codexgate/internal/transport"
	"github.com/codexgate/codexgate/internal/upstream"
)

const (
	// maxRetries bounds re-issues of the initial upstream POST on 5xx. A 5xx
	// after the stream has started is fatal to that request.
	maxRetries   = 2
	retryBackoff = time.Second
)

// codec bundles the per-protocol translation functions used by the relay.
type codec struct {
	proto     Protocol
	idPrefix  string
	convert   func(raw []byte, opts translator.Options) ([]byte, error)
	translate func(data []byte, st *translator.StreamState) []translator.WireEvent
	nonStream func(st *translator.StreamState) string
}

// relay is the shared request pipeline: translate, thread the session,
// acquire an account, drive the upstream stream, re-encode, release.
func (s *Server) relay(c *gin.Context, cd codec, rawBody []byte, model string, stream bool) {
	opts := translator.Options{
		Model:         model,
		PromptPath:    s.cfg.Model.PromptPath,
		DefaultEffort: registry.DefaultEffort(model, s.cfg.Model.DefaultReasoningEffort),
	}
	body, err := cd.convert(rawBody, opts)
	if err != nil {
		writeProtocolError(c, cd.proto, http.StatusBadRequest, err.Error())
		return
	}

	input := gjson.GetBytes(body, "input")
	prefixHash, threaded := session.HashInputPrefix(input)
	if threaded {
		if responseID, hit := s.sessions.Lookup(prefixHash); hit {
			body, _ = sjson.SetBytes(body, "previous_response_id", responseID)
		}
	}

	lease, err := s.pool.Acquire()
	if err != nil {
		s.writeNoAccounts(c, cd.proto)
		return
	}

	resp, err := s.openStream(c, cd, lease, body)
	if err != nil {
		// openStream already released the lease and wrote the error.
		return
	}
	defer func() { _ = resp.Body.Close() }()

	st := translator.NewStreamState(cd.idPrefix, model)
	scanner := upstream.NewScanner(resp.Body)

	if stream {
		s.streamEvents(c, cd, scanner, st)
	} else {
		s.drainEvents(cd, scanner, st)
	}

	s.pool.Release(lease.EntryID, &pool.UsageDelta{
		Requests:     1,
		InputTokens:  st.InputTokens,
		OutputTokens: st.OutputTokens,
	})

	if st.UpstreamID != "" && threaded {
		s.sessions.Store(prefixHash, st.UpstreamID)
	}

	if !stream {
		if !st.Completed {
			writeProtocolError(c, cd.proto, http.StatusBadGateway, "upstream stream ended before completion")
			return
		}
		c.Data(http.StatusOK, "application/json", []byte(cd.nonStream(st)))
	}
}

// openStream issues the upstream POST with bounded retries on 5xx. On error
// it releases the lease and writes the protocol error itself.
func (s *Server) openStream(c *gin.Context, cd codec, lease *pool.Lease, body []byte) (*transport.StreamResponse, error) {
	backoff := retryBackoff
	for attempt := 0; ; attempt++ {
		upstreamResp, streamErr := s.upstream.StreamResponses(c.Request.Context(), lease, body)
		if streamErr == nil {
			return upstreamResp, nil
		}

		var statusErr *upstream.StatusError
		if !errors.As(streamErr, &statusErr) {
			log.Errorf("upstream transport failure: %v", streamErr)
			s.pool.Release(lease.EntryID, nil)
			writeProtocolError(c, cd.proto, http.StatusBadGateway, "upstream transport failure")
			return nil, streamErr
		}

		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			retryAfter := time.Duration(statusErr.RetryAfter) * time.Second
			s.pool.MarkRateLimited(lease.EntryID, retryAfter, true)
			writeProtocolError(c, cd.proto, http.StatusTooManyRequests, "upstream rate limit: "+statusErr.Detail())
			return nil, streamErr
		case statusErr.StatusCode >= 500 && attempt < maxRetries:
			log.Warnf("upstream returned %d; retrying in %s", statusErr.StatusCode, backoff)
			select {
			case <-c.Request.Context().Done():
				s.pool.Release(lease.EntryID, nil)
				return nil, c.Request.Context().Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		case statusErr.StatusCode >= 500:
			s.pool.Release(lease.EntryID, nil)
			writeProtocolError(c, cd.proto, http.StatusBadGateway, "upstream unavailable: "+statusErr.Detail())
			return nil, streamErr
		default:
			s.pool.Release(lease.EntryID, nil)
			writeProtocolError(c, cd.proto, statusErr.StatusCode, statusErr.Detail())
			return nil, streamErr
		}
	}
}

// streamEvents re-encodes upstream events onto the client SSE connection.
func (s *Server) streamEvents(c *gin.Context, cd codec, scanner *upstream.Scanner, st *translator.StreamState) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for {
		ev, err := scanner.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warnf("upstream stream aborted: %v", err)
			}
			break
		}
		for _, wire := range cd.translate(ev.Data, st) {
			writeSSE(c, wire)
		}
		c.Writer.Flush()
		if st.Completed {
			break
		}
	}

	if cd.proto == ProtocolOpenAI {
		_, _ = c.Writer.WriteString("data: [DONE]\n\n")
		c.Writer.Flush()
	}
}

// drainEvents runs the same translation without emitting, so the accumulated
// state can render a single JSON response.
func (s *Server) drainEvents(cd codec, scanner *upstream.Scanner, st *translator.StreamState) {
	for {
		ev, err := scanner.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warnf("upstream stream aborted: %v", err)
			}
			return
		}
		cd.translate(ev.Data, st)
		if st.Completed {
			return
		}
	}
}

func (s *Server) writeNoAccounts(c *gin.Context, proto Protocol) {
	switch proto {
	case ProtocolClaude:
		writeClaudeError(c, 529, "overloaded_error", "no available accounts")
	case ProtocolGemini:
		writeGeminiError(c, http.StatusServiceUnavailable, "no available accounts")
	default:
		writeOpenAIError(c, http.StatusServiceUnavailable, "server_error", "no_available_accounts", "no available accounts")
	}
}

func writeSSE(c *gin.Context, wire translator.WireEvent) {
	if wire.Event != "" {
		_, _ = c.Writer.WriteString("event: " + wire.Event + "\n")
	}
	_, _ = c.Writer.WriteString("data: " + wire.Data + "\n\n")
}
