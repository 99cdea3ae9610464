package cohorts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default HTTP timeout for the CSV download
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default request rate (requests per second)
	DefaultRateLimit = 5

	// maxBodySize caps the CSV body read into memory
	maxBodySize = 16 << 20
)

// FetchError is returned when the CSV endpoint answers with a non-success status
type FetchError struct {
	StatusCode int
	URL        string
	Message    string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch CSV: %d (url: %s)", e.StatusCode, e.URL)
}

// Client downloads the cohort CSV
type Client struct {
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
	retry      *RetryPolicy
	userAgent  string
}

// ClientOption configures the Client.
type ClientOption func(*Client)

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

// WithRateLimit sets a custom request rate.
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
}

// WithMaxAttempts allows retrying transient failures.
func WithMaxAttempts(attempts int) ClientOption {
	return func(c *Client) {
		c.retry = NewRetryPolicy(attempts)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient creates a CSV client. Redirects are followed by the default http.Client policy.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger:  arbor.NewLogger(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retry:   NewRetryPolicy(1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchCSV downloads the CSV at csvURL and returns its body
func (c *Client) FetchCSV(ctx context.Context, csvURL string) (string, error) {
	var body string

	err := c.retry.Execute(ctx, c.logger, func() (int, error) {
		var status int
		var err error
		body, status, err = c.get(ctx, csvURL)
		return status, err
	})
	if err != nil {
		return "", err
	}

	return body, nil
}

// get performs one GET request
func (c *Client) get(ctx context.Context, csvURL string) (string, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", 0, fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, csvURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv, text/plain, */*")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.logger.Debug().
		Str("url", csvURL).
		Msg("Fetching cohort CSV")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read CSV body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", resp.StatusCode, &FetchError{
			StatusCode: resp.StatusCode,
			URL:        csvURL,
			Message:    string(data),
		}
	}

	c.logger.Debug().
		Str("url", csvURL).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("elapsed", time.Since(start)).
		Msg("Cohort CSV fetched")

	return string(data), resp.StatusCode, nil
}
