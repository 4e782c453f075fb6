// Package gateway is the HTTP client for the chat backend.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// GuestHeaderName carries the guest identity on unauthenticated requests.
const GuestHeaderName = "X-Guest-ID"

// maxResponseBodySize bounds how much of a response body is read.
const maxResponseBodySize = 4 << 20

// Config holds client configuration.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to the gateway. Credentials are held by the client and attached
// to every request, bearer token first, guest id otherwise.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger

	mu      sync.RWMutex
	token   string
	guestID string
}

// New creates a new gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway base URL cannot be empty")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported gateway URL scheme %q", base.Scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{baseURL: base, http: httpClient, logger: logger}, nil
}

// SetToken sets the bearer token. An empty token makes requests anonymous.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// SetGuestID sets the identity sent with anonymous requests.
func (c *Client) SetGuestID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.guestID = id
}

func (c *Client) credentials() (token, guestID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.guestID
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) applyCredentials(header http.Header) {
	token, guestID := c.credentials()
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	} else if guestID != "" {
		header.Set(GuestHeaderName, guestID)
	}
}

// do performs one JSON round trip. in may be nil; out may be nil for empty replies.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := method + " " + path

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "encode request: " + err.Error(), Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return networkError(op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.applyCredentials(req.Header)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Gateway request failed", "op", op, "error", err)
		return networkError(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return networkError(op, err)
	}

	c.logger.Debug("Gateway request", "op", op, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return networkError(op+": decode response", err)
	}
	return nil
}
