package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
)

// plainTransport is the last-resort net/http client. It carries no Chromium
// fingerprint and cannot decompress brotli or zstd, so callers that see
// Impersonate()==false must negotiate gzip/deflate only.
type plainTransport struct {
	client *http.Client
}

func newPlainTransport(proxy string) *plainTransport {
	tr := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if proxy != "" {
		if parsed, err := url.Parse(proxy); err == nil {
			tr.Proxy = http.ProxyURL(parsed)
		}
	}
	// The stdlib transparently handles gzip when no explicit
	// Accept-Encoding is set; explicit headers from the fingerprint builder
	// disable that, so decoding stays manual and gzip/deflate only.
	tr.DisableCompression = false
	return &plainTransport{client: &http.Client{Transport: tr}}
}

func (t *plainTransport) Impersonate() bool { return false }

func (t *plainTransport) Close() error { return nil }

func (t *plainTransport) StreamPost(ctx context.Context, rawURL string, headers []Header, body []byte) (*StreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return &StreamResponse{
		Status:     resp.StatusCode,
		Headers:    resp.Header,
		Body:       decoded,
		SetCookies: resp.Header.Values("Set-Cookie"),
	}, nil
}

func (t *plainTransport) Get(ctx context.Context, rawURL string, headers []Header) (*Response, error) {
	return t.simple(ctx, http.MethodGet, rawURL, headers, nil)
}

func (t *plainTransport) Post(ctx context.Context, rawURL string, headers []Header, body []byte) (*Response, error) {
	return t.simple(ctx, http.MethodPost, rawURL, headers, body)
}

func (t *plainTransport) simple(ctx context.Context, method, rawURL string, headers []Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, headers)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	decoded, err := decodeBody(resp.Header.Get("Content-Encoding"), resp.Body)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(decoded)
	if err != nil {
		return nil, err
	}
	return &Response{Status: resp.StatusCode, Body: string(data), SetCookies: resp.Header.Values("Set-Cookie")}, nil
}
