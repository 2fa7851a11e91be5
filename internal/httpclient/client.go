// Package httpclient wraps net/http with the base-URL/header/timeout
// conventions used throughout the gateway's provider adapters, returning a
// raw streaming body so callers can consume SSE incrementally.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultHTTPClient is shared across adapters that don't need a bespoke
// transport.
var DefaultHTTPClient = &http.Client{
	Timeout: 60 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client is a thin base-URL-aware HTTP client.
type Client struct {
	http    *http.Client
	baseURL string
	headers map[string]string
}

// Config configures a Client.
type Config struct {
	BaseURL    string
	Headers    map[string]string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New builds a Client from cfg, falling back to DefaultHTTPClient when no
// client is supplied and cloning it when a per-adapter timeout is set.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		if cfg.Timeout > 0 {
			clone := *DefaultHTTPClient
			clone.Timeout = cfg.Timeout
			hc = &clone
		} else {
			hc = DefaultHTTPClient
		}
	}
	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	return &Client{http: hc, baseURL: cfg.BaseURL, headers: headers}
}

// SetHeader sets a default header sent with every request.
func (c *Client) SetHeader(key, value string) { c.headers[key] = value }

func (c *Client) buildRequest(ctx context.Context, method, path string, headers map[string]string, body []byte) (*http.Request, error) {
	full := c.baseURL + path
	if _, err := url.Parse(full); err != nil {
		return nil, fmt.Errorf("httpclient: invalid url %q: %w", full, err)
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, full, reader)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// DoStream issues the request and returns the raw *http.Response for the
// caller to stream from (SSE body or buffered JSON); the caller is
// responsible for closing Body. An upstream status >= 400 is still returned
// (not converted to an error) so callers can read the error body and map it
// to a typed gwerrors value themselves.
func (c *Client) DoStream(ctx context.Context, method, path string, headers map[string]string, body []byte) (*http.Response, error) {
	req, err := c.buildRequest(ctx, method, path, headers, body)
	if err != nil {
		return nil, err
	}
	return c.http.Do(req)
}

// PostJSON marshals body, issues a POST, and unmarshals the response into
// out. Intended for non-streaming upstream calls.
func (c *Client) PostJSON(ctx context.Context, path string, headers map[string]string, body, out interface{}) (*http.Response, error) {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	resp, err := c.DoStream(ctx, http.MethodPost, path, headers, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, err
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("httpclient: decoding response: %w", err)
		}
	}
	return resp, nil
}
