// Package upstream implements the client for the Responses backend: building
// the streaming POST, surfacing typed status errors, parsing the SSE event
// stream, and the usage endpoint.
package upstream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/tidwall/gjson"
)

// Event is one parsed server-sent event.
type Event struct {
	Type string
	Data []byte
}

// maxSSEBuffer caps the unparsed accumulation; a stream that exceeds it is
// malformed.
const maxSSEBuffer = 10 << 20

var (
	crlfTerminator = []byte("\r\n\r\n")
	lfTerminator   = []byte("\n\n")
	doneSentinel   = []byte("[DONE]")
)

// Scanner incrementally parses SSE frames off a byte stream. Next returns
// io.EOF at the end of the stream or when the [DONE] sentinel arrives.
type Scanner struct {
	reader io.Reader
	buf    []byte
	chunk  []byte
	eof    bool
	done   bool
}

// NewScanner creates a scanner over r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: r, chunk: make([]byte, 16*1024)}
}

// Next returns the next event. Frames without a payload are skipped.
func (s *Scanner) Next() (*Event, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		if block, ok := s.takeBlock(); ok {
			ev, isDone := parseEventBlock(block)
			if isDone {
				s.done = true
				return nil, io.EOF
			}
			if ev == nil {
				continue
			}
			return ev, nil
		}
		if s.eof {
			// Trailing data without a terminator is parsed as a final frame.
			if len(bytes.TrimSpace(s.buf)) > 0 {
				block := s.buf
				s.buf = nil
				ev, isDone := parseEventBlock(block)
				s.done = true
				if isDone || ev == nil {
					return nil, io.EOF
				}
				return ev, nil
			}
			return nil, io.EOF
		}
		n, err := s.reader.Read(s.chunk)
		if n > 0 {
			s.buf = append(s.buf, s.chunk[:n]...)
			if len(s.buf) > maxSSEBuffer {
				return nil, fmt.Errorf("sse buffer exceeded %d bytes", maxSSEBuffer)
			}
		}
		if err == io.EOF {
			s.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

// takeBlock cuts one event block off the buffer at the first double-newline
// terminator.
func (s *Scanner) takeBlock() ([]byte, bool) {
	idxCRLF := bytes.Index(s.buf, crlfTerminator)
	idxLF := bytes.Index(s.buf, lfTerminator)

	idx, width := -1, 0
	switch {
	case idxCRLF >= 0 && (idxLF < 0 || idxCRLF <= idxLF):
		idx, width = idxCRLF, len(crlfTerminator)
	case idxLF >= 0:
		idx, width = idxLF, len(lfTerminator)
	}
	if idx < 0 {
		return nil, false
	}
	block := s.buf[:idx]
	s.buf = s.buf[idx+width:]
	return block, true
}

// parseEventBlock separates event: and data: lines. Multiple data lines are
// joined with newlines. The event type falls back to the payload's JSON
// "type" field when no event line is present.
func parseEventBlock(block []byte) (*Event, bool) {
	var eventType string
	var data [][]byte

	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[6:]))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[5:]))
		}
	}
	if len(data) == 0 {
		return nil, false
	}
	payload := bytes.Join(data, []byte("\n"))
	if bytes.Equal(payload, doneSentinel) {
		return nil, true
	}
	if eventType == "" {
		eventType = gjson.GetBytes(payload, "type").String()
	}
	return &Event{Type: eventType, Data: payload}, false
}
