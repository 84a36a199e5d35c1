package slurm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIVersion is the slurmrestd OpenAPI plugin version.
	DefaultAPIVersion = "v0.0.36"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 10 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// DefaultTokenTTL is the lifetime of minted auth tokens.
	DefaultTokenTTL = time.Hour

	// DefaultTokenHeadroom re-mints a token this close to expiry.
	DefaultTokenHeadroom = 30 * time.Second
)

// Client is a slurmrestd API client.
type Client struct {
	baseURL    string
	username   string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	tokens     *tokenManager
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL (scheme://host:port/slurm/<version>).
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewClient creates a new slurmrestd client authenticating as username with
// tokens minted by the token manager.
func NewClient(baseURL, username string, tokens *tokenManager, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  baseURL,
		username: username,
		tokens:   tokens,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do performs one authenticated request and decodes the JSON reply into
// result when given. The caller owns path formatting; bodies are JSON.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("rate limit wait: %w", err)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return 0, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-SLURM-USER-NAME", c.username)
	req.Header.Set("X-SLURM-USER-TOKEN", token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Msg("Slurm API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return resp.StatusCode, nil
}
