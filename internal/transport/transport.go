// Package transport provides the upstream HTTP transports. The Responses
// backend sits behind an anti-bot gate that inspects the TLS client hello and
// HTTP/2 framing, so default Go clients are rejected. Two impersonating
// implementations are provided: an in-process uTLS round tripper pinned to a
// Chromium hello, and a subprocess driver for a curl-impersonate binary. A
// plain net/http fallback exists for environments where neither is usable;
// callers must degrade content-encoding negotiation when running on it.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"

	log "github.com/sirupsen/logrus"

	"github.com/codexgate/codexgate/internal/config"
)

// Header is a single request header. Order of the slice is the emission
// order, which is part of the fingerprint.
type Header struct {
	Key   string
	Value string
}

// StreamResponse is the result of a streaming POST. Headers and status are
// available as soon as the upstream sends them; Body yields chunks as they
// arrive on the wire.
type StreamResponse struct {
	Status     int
	Headers    http.Header
	Body       io.ReadCloser
	SetCookies []string
}

// Response is the result of a simple GET or POST.
type Response struct {
	Status     int
	Body       string
	SetCookies []string
}

// Transport is the uniform interface over the implementations.
type Transport interface {
	// StreamPost issues a POST and returns as soon as response headers are
	// parsed. The body streams until EOF or context cancellation.
	StreamPost(ctx context.Context, url string, headers []Header, body []byte) (*StreamResponse, error)

	// Get issues a simple GET and drains the body.
	Get(ctx context.Context, url string, headers []Header) (*Response, error)

	// Post issues a simple POST and drains the body.
	Post(ctx context.Context, url string, headers []Header, body []byte) (*Response, error)

	// Impersonate reports whether this transport carries the Chromium
	// fingerprint. Non-impersonating transports cannot decompress brotli or
	// zstd, so callers must negotiate gzip/deflate only.
	Impersonate() bool

	Close() error
}

// headerParseTimeout aborts a streaming call when no response headers arrive.
const headerParseTimeout = 30 // seconds

// New selects and initializes a transport per config. Selection happens once
// at startup; the caller caches the result.
func New(cfg *config.TLSConfig) (Transport, error) {
	proxyURL := cfg.ProxyURL
	if proxyURL == "" {
		if v := os.Getenv("HTTPS_PROXY"); v != "" {
			proxyURL = v
		} else if v = os.Getenv("HTTP_PROXY"); v != "" {
			proxyURL = v
		}
	}

	switch cfg.Transport {
	case config.TransportFFI:
		return newUTLSTransport(cfg.ImpersonateProfile, proxyURL)
	case config.TransportCLI:
		if _, err := exec.LookPath(cfg.CLIBinary); err != nil {
			return nil, fmt.Errorf("cli transport pinned but %s not found: %w", cfg.CLIBinary, err)
		}
		return newCLITransport(cfg.CLIBinary, proxyURL), nil
	case config.TransportAuto, "":
		tr, err := newUTLSTransport(cfg.ImpersonateProfile, proxyURL)
		if err == nil {
			return tr, nil
		}
		log.Warnf("in-process impersonation unavailable (%v); trying %s", err, cfg.CLIBinary)
		if _, lookErr := exec.LookPath(cfg.CLIBinary); lookErr == nil {
			return newCLITransport(cfg.CLIBinary, proxyURL), nil
		}
		log.Warn("no impersonating transport available; falling back to plain HTTP client")
		return newPlainTransport(proxyURL), nil
	default:
		return nil, fmt.Errorf("unknown tls transport %q", cfg.Transport)
	}
}
