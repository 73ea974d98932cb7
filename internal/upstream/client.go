package upstream

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/cookies"
	"github.com/codexgate/codexgate/internal/fingerprint"
	"github.com/codexgate/codexgate/internal/pool"
	"github.com/codexgate/codexgate/internal/transport"
)

// maxErrorDrain caps how much of a non-2xx body is read for the error detail.
const maxErrorDrain = 1 << 20

// StatusError is a non-2xx answer from the backend. Body holds the drained
// (capped) response body.
type StatusError struct {
	StatusCode int
	Body       string

	// RetryAfter is the parsed retry-after header in seconds, 0 when absent.
	RetryAfter int64
}

func (e *StatusError) Error() string {
	detail := e.Detail()
	if detail == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, detail)
}

// Detail extracts the human message from the error body. The backend answers
// with either {"detail": "..."} or the OpenAI {"error": {"message": "..."}}
// envelope; unstructured bodies are returned truncated.
func (e *StatusError) Detail() string {
	if d := gjson.Get(e.Body, "detail").String(); d != "" {
		return d
	}
	if m := gjson.Get(e.Body, "error.message").String(); m != "" {
		return m
	}
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512]
	}
	return body
}

// Client talks to the Responses backend over the impersonating transport.
type Client struct {
	transport transport.Transport
	headers   *fingerprint.Builder
	jar       *cookies.Jar
	baseURL   string
	timeout   time.Duration
}

// NewClient creates a backend client.
func NewClient(cfg *config.Config, tr transport.Transport, headers *fingerprint.Builder, jar *cookies.Jar) *Client {
	timeout := time.Duration(cfg.API.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Client{
		transport: tr,
		headers:   headers,
		jar:       jar,
		baseURL:   strings.TrimRight(cfg.API.BaseURL, "/"),
		timeout:   timeout,
	}
}

// Transport exposes the underlying transport for callers that issue their own
// requests with fingerprint headers (appcast checks, OAuth forms).
func (c *Client) Transport() transport.Transport { return c.transport }

// StreamResponses posts a Responses request and returns the live SSE body.
// The caller must close the returned body; closing releases the request
// deadline. A non-2xx status is drained and returned as a *StatusError.
func (c *Client) StreamResponses(ctx context.Context, lease *pool.Lease, body []byte) (*transport.StreamResponse, error) {
	endpoint := c.baseURL + "/codex/responses"
	headers := c.headers.Authorized(fingerprint.HeaderOptions{
		Token:     lease.Token,
		AccountID: lease.AccountID,
		Cookie:    c.jar.Header(lease.AccountID),
		JSON:      true,
		SSE:       true,
		Host:      hostOf(endpoint),
	})

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	resp, err := c.transport.StreamPost(reqCtx, endpoint, headers, body)
	if err != nil {
		cancel()
		return nil, err
	}
	c.jar.CaptureSetCookies(lease.AccountID, resp.SetCookies)

	if resp.Status < 200 || resp.Status > 299 {
		drained, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorDrain))
		resp.Body.Close()
		cancel()
		retryAfter, _ := strconv.ParseInt(resp.Headers.Get("Retry-After"), 10, 64)
		return nil, &StatusError{StatusCode: resp.Status, Body: string(drained), RetryAfter: retryAfter}
	}

	resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// Usage fetches the account's rate-limit window from the usage endpoint.
func (c *Client) Usage(ctx context.Context, lease *pool.Lease) (string, error) {
	endpoint := c.baseURL + "/codex/usage"
	headers := c.headers.Authorized(fingerprint.HeaderOptions{
		Token:     lease.Token,
		AccountID: lease.AccountID,
		Cookie:    c.jar.Header(lease.AccountID),
		Host:      hostOf(endpoint),
	})
	if !c.transport.Impersonate() {
		// The plain client cannot decode brotli or zstd answers.
		headers = overrideHeader(headers, "Accept-Encoding", "gzip, deflate")
	}

	reqCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := c.transport.Get(reqCtx, endpoint, headers)
	if err != nil {
		return "", err
	}
	c.jar.CaptureSetCookies(lease.AccountID, resp.SetCookies)
	if resp.Status < 200 || resp.Status > 299 {
		return "", &StatusError{StatusCode: resp.Status, Body: resp.Body}
	}
	return resp.Body, nil
}

// overrideHeader replaces the value of key in place, appending when absent.
func overrideHeader(headers []transport.Header, key, value string) []transport.Header {
	for i := range headers {
		if strings.EqualFold(headers[i].Key, key) {
			headers[i].Value = value
			return headers
		}
	}
	return append(headers, transport.Header{Key: key, Value: value})
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
