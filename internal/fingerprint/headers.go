// Package fingerprint composes the request headers that make gateway traffic
// indistinguishable from the harvested desktop client: the filled user-agent
// template, dynamic sec-ch-ua, the static default headers, and the exact
// configured header order.
package fingerprint

import (
	"fmt"
	"runtime"
	"strings"

	codexauth "github.com/codexgate/codexgate/internal/auth/codex"
	"github.com/codexgate/codexgate/internal/config"
	"github.com/codexgate/codexgate/internal/transport"
)

// Originator is sent with every authenticated upstream call.
const Originator = "codex_cli_rs"

// HeaderOptions carries the per-call additions to the fingerprint headers.
type HeaderOptions struct {
	// Token is the bearer token. Empty means anonymous.
	Token string

	// AccountID overrides the ChatGPT-Account-Id header. When empty it is
	// extracted from the token's JWT claims.
	AccountID string

	// Cookie is the rendered Cookie header value, if any.
	Cookie string

	// JSON attaches Content-Type: application/json.
	JSON bool

	// SSE attaches Accept: text/event-stream.
	SSE bool

	// Host pins the Host header (required by the subprocess transport for
	// HTTP/1.1 ordering).
	Host string
}

// Builder produces ordered header lists from the current fingerprint.
type Builder struct {
	store *config.FingerprintStore
}

// NewBuilder creates a header builder over the fingerprint store.
func NewBuilder(store *config.FingerprintStore) *Builder {
	return &Builder{store: store}
}

// Authorized builds the full authenticated header set for an upstream call.
func (b *Builder) Authorized(opts HeaderOptions) []transport.Header {
	fp := b.store.Get()
	headers := b.base(fp)

	if opts.Host != "" {
		headers["Host"] = opts.Host
	}
	if opts.Token != "" {
		headers["Authorization"] = "Bearer " + opts.Token
		accountID := opts.AccountID
		if accountID == "" {
			if claims, err := codexauth.ParseJWTToken(opts.Token); err == nil {
				accountID = claims.AccountID()
			}
		}
		if accountID != "" {
			headers["ChatGPT-Account-Id"] = accountID
		}
		headers["originator"] = Originator
	}
	if opts.JSON {
		headers["Content-Type"] = "application/json"
	}
	if opts.SSE {
		headers["Accept"] = "text/event-stream"
	}
	if opts.Cookie != "" {
		headers["Cookie"] = opts.Cookie
	}

	return orderHeaders(headers, fp.HeaderOrder)
}

// Anonymous builds the credential-free header set used for appcast and OAuth
// calls.
func (b *Builder) Anonymous() []transport.Header {
	fp := b.store.Get()
	return orderHeaders(b.base(fp), fp.HeaderOrder)
}

// UserAgent fills the user-agent template from the fingerprint.
func (b *Builder) UserAgent() string {
	return fillUserAgent(b.store.Get())
}

func (b *Builder) base(fp *config.Fingerprint) map[string]string {
	headers := make(map[string]string, len(fp.DefaultHeaders)+8)
	for k, v := range fp.DefaultHeaders {
		headers[k] = v
	}
	headers["User-Agent"] = fillUserAgent(fp)
	if major := chromiumMajor(fp.ChromiumVersion); major != "" {
		headers["sec-ch-ua"] = fmt.Sprintf(`"Chromium";v="%s", "Google Chrome";v="%s", "Not-A.Brand";v="99"`, major, major)
		headers["sec-ch-ua-mobile"] = "?0"
		headers["sec-ch-ua-platform"] = fmt.Sprintf("%q", platformName())
	}
	return headers
}

// orderHeaders emits headers in the configured order first, then any keys the
// order does not mention, with no duplicates.
func orderHeaders(headers map[string]string, order []string) []transport.Header {
	out := make([]transport.Header, 0, len(headers))
	seen := make(map[string]bool, len(headers))

	canonical := make(map[string]string, len(headers))
	for k := range headers {
		canonical[strings.ToLower(k)] = k
	}
	for _, key := range order {
		actual, ok := canonical[strings.ToLower(key)]
		if !ok || seen[strings.ToLower(key)] {
			continue
		}
		seen[strings.ToLower(key)] = true
		out = append(out, transport.Header{Key: actual, Value: headers[actual]})
	}
	for k, v := range headers {
		if seen[strings.ToLower(k)] {
			continue
		}
		seen[strings.ToLower(k)] = true
		out = append(out, transport.Header{Key: k, Value: v})
	}
	return out
}

func fillUserAgent(fp *config.Fingerprint) string {
	ua := fp.UserAgentTemplate
	ua = strings.ReplaceAll(ua, "{version}", fp.ChromiumVersion)
	ua = strings.ReplaceAll(ua, "{platform}", platformToken())
	ua = strings.ReplaceAll(ua, "{arch}", runtime.GOARCH)
	return ua
}

func chromiumMajor(version string) string {
	if version == "" {
		return ""
	}
	if idx := strings.IndexByte(version, '.'); idx > 0 {
		return version[:idx]
	}
	return version
}

func platformToken() string {
	switch runtime.GOOS {
	case "darwin":
		return "Macintosh; Intel Mac OS X 10_15_7"
	case "windows":
		return "Windows NT 10.0; Win64; x64"
	default:
		return "X11; Linux x86_64"
	}
}

func platformName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	default:
		return "Linux"
	}
}
