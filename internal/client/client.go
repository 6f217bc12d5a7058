// Package client is the HTTP client for the bridge control API. The hook
// producer and the CLI admin commands use it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/steveyegge/agentbridge/internal/api"
	"github.com/steveyegge/agentbridge/internal/util"
)

// Environment variables read by FromEnv.
const (
	EnvURL    = "CLAUDE_SLACK_BRIDGE_URL"
	EnvAPIKey = "CLAUDE_SLACK_BRIDGE_API_KEY"
)

// DefaultURL is where the bridge listens unless configured otherwise.
const DefaultURL = "http://localhost:9876"

// Client calls the bridge API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retry      util.RetryConfig
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout. Streaming calls ignore it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithMaxRetries sets how many times a request is attempted. One disables
// retries.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.retry.MaxAttempts = n
	}
}

// WithBackoff sets the initial and maximum backoff durations for retries.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.retry.InitialDelay = initial
		c.retry.MaxDelay = max
	}
}

// WithAPIKey sets the X-API-Key header value.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client for the bridge at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      util.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.retry.IsRetryable = isRetryableError
	return c
}

// FromEnv creates a client from $CLAUDE_SLACK_BRIDGE_URL and
// $CLAUDE_SLACK_BRIDGE_API_KEY. Options are applied after.
func FromEnv(opts ...Option) *Client {
	base := []Option{WithAPIKey(os.Getenv(EnvAPIKey))}
	return New(os.Getenv(EnvURL), append(base, opts...)...)
}

// BaseURL returns the bridge URL.
func (c *Client) BaseURL() string { return c.baseURL }

// StatusError is a non-2xx reply.
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bridge returned status %d: %s", e.Code, strings.TrimSpace(string(e.Body)))
}

// RetryableError indicates an error that may be retried.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func isRetryableError(err error) bool {
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	return util.DefaultIsRetryable(err)
}

// Health calls GET /health.
func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var out api.HealthResponse
	err := c.call(ctx, http.MethodGet, "/health", nil, &out, true)
	return out, err
}

// Status calls GET /status.
func (c *Client) Status(ctx context.Context) (api.Status, error) {
	var out api.Status
	err := c.call(ctx, http.MethodGet, "/status", nil, &out, true)
	return out, err
}

// Restart calls POST /restart. It is not retried.
func (c *Client) Restart(ctx context.Context) (api.StatusResponse, error) {
	var out api.StatusResponse
	err := c.call(ctx, http.MethodPost, "/restart", nil, &out, false)
	return out, err
}

// Test calls POST /test. It is not retried.
func (c *Client) Test(ctx context.Context) (api.TestResponse, error) {
	var out api.TestResponse
	err := c.call(ctx, http.MethodPost, "/test", nil, &out, false)
	return out, err
}

// ClearSession calls DELETE /sessions/{channel}.
func (c *Client) ClearSession(ctx context.Context, channelID string) (api.ClearSessionResponse, error) {
	var out api.ClearSessionResponse
	err := c.call(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(channelID), nil, &out, false)
	return out, err
}

// PostHook sends a hook event once. The decoded reply is returned even for
// error statuses so callers can see why it was refused.
func (c *Client) PostHook(ctx context.Context, ev api.HookEvent) (api.HookResponse, error) {
	var out api.HookResponse
	err := c.call(ctx, http.MethodPost, "/hook", ev, &out, false)
	return out, err
}

func (c *Client) call(ctx context.Context, method, path string, in, out any, retry bool) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	cfg := c.retry
	if !retry {
		cfg.MaxAttempts = 1
	}
	_, err := util.Retry(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, c.do(ctx, method, path, body, out)
	})
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(api.APIKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if out != nil && len(respBody) > 0 {
		// Error replies carry JSON too; decode best effort.
		_ = json.Unmarshal(respBody, out)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return &RetryableError{Err: &StatusError{Code: resp.StatusCode, Body: respBody}}
	default:
		return &StatusError{Code: resp.StatusCode, Body: respBody}
	}
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
