package transport

import (
	"bufio"
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// utlsTransport is the in-process impersonating implementation. Every request
// dials a fresh connection, performs a uTLS handshake with a Chromium client
// hello, and speaks HTTP/2 (or HTTP/1.1 when negotiated) over it.
type utlsTransport struct {
	helloID utls.ClientHelloID
	proxy   *url.URL
}

func newUTLSTransport(profile, proxyURL string) (*utlsTransport, error) {
	t := &utlsTransport{helloID: helloIDForProfile(profile)}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
		}
		t.proxy = parsed
	}
	return t, nil
}

// helloIDForProfile maps the configured profile name onto a uTLS hello. The
// Chrome auto hello tracks the library's newest Chromium fingerprint, which
// is the single-switch path the upstream gate expects.
func helloIDForProfile(profile string) utls.ClientHelloID {
	switch {
	case strings.HasPrefix(profile, "chrome"), profile == "auto", profile == "":
		return utls.HelloChrome_Auto
	case strings.HasPrefix(profile, "firefox"):
		return utls.HelloFirefox_Auto
	case strings.HasPrefix(profile, "safari"):
		return utls.HelloSafari_Auto
	default:
		return utls.HelloChrome_Auto
	}
}

func (t *utlsTransport) Impersonate() bool { return true }

func (t *utlsTransport) Close() error { return nil }

func (t *utlsTransport) StreamPost(ctx context.Context, rawURL string, headers []Header, body []byte) (*StreamResponse, error) {
	return t.StreamPostMethod(ctx, http.MethodPost, rawURL, headers, body)
}

func (t *utlsTransport) Get(ctx context.Context, rawURL string, headers []Header) (*Response, error) {
	return t.simple(ctx, http.MethodGet, rawURL, headers, nil)
}

func (t *utlsTransport) Post(ctx context.Context, rawURL string, headers []Header, body []byte) (*Response, error) {
	return t.simple(ctx, http.MethodPost, rawURL, headers, body)
}

func (t *utlsTransport) simple(ctx context.Context, method, rawURL string, headers []Header, body []byte) (*Response, error) {
	stream, err := t.StreamPostMethod(ctx, method, rawURL, headers, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = stream.Body.Close() }()
	data, err := io.ReadAll(stream.Body)
	if err != nil {
		return nil, err
	}
	return &Response{Status: stream.Status, Body: string(data), SetCookies: stream.SetCookies}, nil
}

// StreamPostMethod is StreamPost generalized over the HTTP method.
func (t *utlsTransport) StreamPostMethod(ctx context.Context, method, rawURL string, headers []Header, body []byte) (*StreamResponse, error) {
	resp, conn, stop, err := t.roundTrip(ctx, method, rawURL, headers, body)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		close(stop)
		_ = conn.Close()
		return nil, err
	}
	return &StreamResponse{
		Status:     resp.StatusCode,
		Headers:    resp.Header,
		Body:       &connBody{body: decoded, conn: conn, stop: stop},
		SetCookies: resp.Header.Values("Set-Cookie"),
	}, nil
}

func (t *utlsTransport) roundTrip(ctx context.Context, method, rawURL string, headers []Header, body []byte) (*http.Response, net.Conn, chan struct{}, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid url: %w", err)
	}
	host := parsed.Hostname()
	port := parsed.Port()
	if port == "" {
		port = "443"
	}

	conn, err := t.dialTLS(ctx, host, net.JoinHostPort(host, port))
	if err != nil {
		return nil, nil, nil, err
	}

	// Abort if the upstream never produces response headers.
	headerTimer := time.AfterFunc(headerParseTimeout*time.Second, func() { _ = conn.Close() })

	// Propagate context cancellation by tearing the connection down.
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		headerTimer.Stop()
		close(stop)
		_ = conn.Close()
		return nil, nil, nil, err
	}
	applyHeaders(req, headers)

	var resp *http.Response
	if proto := conn.ConnectionState().NegotiatedProtocol; proto == "h2" {
		t2 := &http2.Transport{
			// SETTINGS_MAX_HEADER_LIST_SIZE per the Chromium fingerprint;
			// the remaining SETTINGS values are fixed inside x/net/http2.
			MaxHeaderListSize: 262144,
		}
		cc, errConn := t2.NewClientConn(conn)
		if errConn != nil {
			headerTimer.Stop()
			close(stop)
			_ = conn.Close()
			return nil, nil, nil, errConn
		}
		resp, err = cc.RoundTrip(req)
	} else {
		resp, err = http1RoundTrip(conn, req, headers, body)
	}
	headerTimer.Stop()
	if err != nil {
		close(stop)
		_ = conn.Close()
		return nil, nil, nil, err
	}
	return resp, conn, stop, nil
}

// dialTLS establishes a TCP connection (optionally through an HTTP CONNECT
// proxy) and completes the impersonated TLS handshake.
func (t *utlsTransport) dialTLS(ctx context.Context, serverName, addr string) (*utlsConn, error) {
	dialer := &net.Dialer{Timeout: 15 * time.Second}

	var raw net.Conn
	var err error
	if t.proxy != nil {
		raw, err = t.dialViaProxy(ctx, dialer, addr)
	} else {
		raw, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	uconn := utls.UClient(raw, &utls.Config{ServerName: serverName}, t.helloID)
	if err = uconn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", serverName, err)
	}
	return &utlsConn{UConn: uconn}, nil
}

func (t *utlsTransport) dialViaProxy(ctx context.Context, dialer *net.Dialer, addr string) (net.Conn, error) {
	proxyAddr := t.proxy.Host
	if t.proxy.Port() == "" {
		proxyAddr = net.JoinHostPort(t.proxy.Hostname(), "3128")
	}
	conn, err := dialer.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("dial proxy %s: %w", proxyAddr, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n", addr, addr)
	if user := t.proxy.User; user != nil {
		pass, _ := user.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(user.Username() + ":" + pass))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")
	if _, err = conn.Write([]byte(b.String())); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy connect write: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy connect read: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("proxy connect refused: %s", resp.Status)
	}
	return conn, nil
}

// http1RoundTrip hand-writes an HTTP/1.1 request so the header order survives
// onto the wire, then parses the response off the same connection.
func http1RoundTrip(conn net.Conn, req *http.Request, headers []Header, body []byte) (*http.Response, error) {
	var b bytes.Buffer
	path := req.URL.RequestURI()
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, path)
	hostWritten := false
	for _, h := range headers {
		if strings.EqualFold(h.Key, "Host") {
			hostWritten = true
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Key, h.Value)
	}
	if !hostWritten {
		fmt.Fprintf(&b, "Host: %s\r\n", req.URL.Host)
	}
	if len(body) > 0 {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	}
	b.WriteString("\r\n")
	b.Write(body)

	if _, err := conn.Write(b.Bytes()); err != nil {
		return nil, err
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// applyHeaders copies ordered headers onto an http.Request, routing Host to
// the request field.
func applyHeaders(req *http.Request, headers []Header) {
	for _, h := range headers {
		if strings.EqualFold(h.Key, "Host") {
			req.Host = h.Value
			continue
		}
		req.Header.Set(h.Key, h.Value)
	}
}

// decodeBody wraps a response body with the decoder matching its
// Content-Encoding.
func decodeBody(encoding string, body io.ReadCloser) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, nil
	case "gzip":
		r, err := gzip.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		return &wrappedBody{Reader: r, closer: body}, nil
	case "deflate":
		return &wrappedBody{Reader: flate.NewReader(body), closer: body}, nil
	case "br":
		return &wrappedBody{Reader: brotli.NewReader(body), closer: body}, nil
	case "zstd":
		dec, err := zstd.NewReader(body)
		if err != nil {
			return nil, fmt.Errorf("zstd decode: %w", err)
		}
		return &zstdBody{dec: dec, closer: body}, nil
	default:
		return body, nil
	}
}

// utlsConn adapts a uTLS connection so x/net/http2 can read its negotiated
// protocol through the crypto/tls ConnectionState shape.
type utlsConn struct {
	*utls.UConn
}

func (c *utlsConn) ConnectionState() tls.ConnectionState {
	state := c.UConn.ConnectionState()
	return tls.ConnectionState{
		Version:                     state.Version,
		HandshakeComplete:           state.HandshakeComplete,
		DidResume:                   state.DidResume,
		CipherSuite:                 state.CipherSuite,
		NegotiatedProtocol:          state.NegotiatedProtocol,
		NegotiatedProtocolIsMutual:  state.NegotiatedProtocolIsMutual,
		ServerName:                  state.ServerName,
		PeerCertificates:            state.PeerCertificates,
		VerifiedChains:              state.VerifiedChains,
		SignedCertificateTimestamps: state.SignedCertificateTimestamps,
		OCSPResponse:                state.OCSPResponse,
		TLSUnique:                   state.TLSUnique,
	}
}

// connBody ties a response body to its dedicated connection; closing the body
// releases the connection and the cancellation watcher.
type connBody struct {
	body io.ReadCloser
	conn net.Conn
	stop chan struct{}
	done bool
}

func (b *connBody) Read(p []byte) (int, error) { return b.body.Read(p) }

func (b *connBody) Close() error {
	if b.done {
		return nil
	}
	b.done = true
	close(b.stop)
	_ = b.body.Close()
	return b.conn.Close()
}

type wrappedBody struct {
	io.Reader
	closer io.Closer
}

func (w *wrappedBody) Close() error { return w.closer.Close() }

type zstdBody struct {
	dec    *zstd.Decoder
	closer io.Closer
}

func (z *zstdBody) Read(p []byte) (int, error) { return z.dec.Read(p) }

func (z *zstdBody) Close() error {
	z.dec.Close()
	return z.closer.Close()
}
