package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/textproto"
	"os/exec"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// cliTransport shells out to a curl-impersonate binary. The child owns the
// TLS fingerprint; this side only assembles arguments, feeds the body on
// stdin, and parses the `-i` header block off stdout before handing the rest
// of the pipe to the caller as the response stream.
type cliTransport struct {
	binary string
	proxy  string
}

func newCLITransport(binary, proxy string) *cliTransport {
	return &cliTransport{binary: binary, proxy: proxy}
}

func (t *cliTransport) Impersonate() bool { return true }

func (t *cliTransport) Close() error { return nil }

func (t *cliTransport) StreamPost(ctx context.Context, url string, headers []Header, body []byte) (*StreamResponse, error) {
	args := t.streamArgs(url, headers)

	cmd := exec.CommandContext(ctx, t.binary, args...)
	cmd.Stdin = bytes.NewReader(body)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err = cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", t.binary, err)
	}

	// The context kills the child; this timer covers a child that hangs
	// before producing headers.
	headerTimer := time.AfterFunc(headerParseTimeout*time.Second, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})

	reader := bufio.NewReader(stdout)
	status, respHeaders, err := parseHeaderBlock(reader)
	headerTimer.Stop()
	if err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%s produced no parsable response (%s): %w", t.binary, strings.TrimSpace(stderr.String()), err)
	}

	return &StreamResponse{
		Status:     status,
		Headers:    respHeaders,
		Body:       &processBody{reader: reader, cmd: cmd},
		SetCookies: respHeaders.Values("Set-Cookie"),
	}, nil
}

func (t *cliTransport) Get(ctx context.Context, url string, headers []Header) (*Response, error) {
	return t.simple(ctx, url, headers, nil)
}

func (t *cliTransport) Post(ctx context.Context, url string, headers []Header, body []byte) (*Response, error) {
	return t.simple(ctx, url, headers, body)
}

func (t *cliTransport) simple(ctx context.Context, url string, headers []Header, body []byte) (*Response, error) {
	args := t.baseArgs(url, headers)
	args = append(args, "--compressed")
	if body != nil {
		args = append(args, "-X", "POST", "--data-binary", "@-")
	}

	cmd := exec.CommandContext(ctx, t.binary, args...)
	if body != nil {
		cmd.Stdin = bytes.NewReader(body)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed (%s): %w", t.binary, strings.TrimSpace(stderr.String()), err)
	}

	reader := bufio.NewReader(bytes.NewReader(out))
	status, respHeaders, err := parseHeaderBlock(reader)
	if err != nil {
		return nil, fmt.Errorf("%s produced no parsable response: %w", t.binary, err)
	}
	rest, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	return &Response{Status: status, Body: string(rest), SetCookies: respHeaders.Values("Set-Cookie")}, nil
}

// streamArgs assembles the streaming POST invocation. The fingerprint headers
// advertise brotli and zstd, so the child must decode in-flight; curl's
// --compressed does that chunk by chunk without buffering the stream.
func (t *cliTransport) streamArgs(url string, headers []Header) []string {
	args := t.baseArgs(url, headers)
	return append(args, "--compressed", "-X", "POST", "--data-binary", "@-")
}

func (t *cliTransport) baseArgs(url string, headers []Header) []string {
	args := []string{"-sS", "-i", "--no-buffer", url}
	for _, h := range headers {
		args = append(args, "-H", h.Key+": "+h.Value)
	}
	if t.proxy != "" {
		args = append(args, "-x", t.proxy)
	}
	return args
}

// parseHeaderBlock reads one status line plus headers off the stream,
// skipping 1xx interim blocks.
func parseHeaderBlock(reader *bufio.Reader) (int, http.Header, error) {
	for {
		statusLine, err := reader.ReadString('\n')
		if err != nil {
			return 0, nil, err
		}
		statusLine = strings.TrimSpace(statusLine)
		if statusLine == "" {
			continue
		}
		fields := strings.Fields(statusLine)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
			return 0, nil, fmt.Errorf("unexpected status line %q", statusLine)
		}
		status, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, nil, fmt.Errorf("unexpected status %q", fields[1])
		}

		tp := textproto.NewReader(reader)
		mimeHeader, err := tp.ReadMIMEHeader()
		if err != nil && err != io.EOF {
			return 0, nil, err
		}
		if status >= 100 && status < 200 {
			log.Debugf("skipping interim response %d", status)
			continue
		}
		return status, http.Header(mimeHeader), nil
	}
}

// processBody streams the child's stdout; closing it terminates the child.
type processBody struct {
	reader io.Reader
	cmd    *exec.Cmd
	done   bool
}

func (b *processBody) Read(p []byte) (int, error) { return b.reader.Read(p) }

func (b *processBody) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	if b.cmd.Process != nil {
		_ = b.cmd.Process.Kill()
	}
	_ = b.cmd.Wait()
	return nil
}
