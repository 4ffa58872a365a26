package advisory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"ratedesk/pkg/platform/circuit"
	"ratedesk/pkg/platform/sentinel"
)

const defaultTimeout = 5 * time.Second

// Config configures the advisory HTTP client.
type Config struct {
	// BaseURL is the advisory service root, e.g. http://advisory:8090.
	BaseURL string

	// Timeout bounds a single recommendation fetch. Zero means the
	// default of 5s.
	Timeout time.Duration

	// HTTPClient overrides the underlying client, used in tests.
	HTTPClient *http.Client
}

// Client fetches recommendations over HTTP. A consecutive-failure circuit
// breaker guards the upstream: while open, calls fail fast with
// sentinel.ErrUnavailable instead of waiting out the timeout.
type Client struct {
	http    *http.Client
	baseURL string
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// ClientOption configures optional collaborators on the Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger for breaker transitions.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithBreaker replaces the default breaker (5 failures to open, 1 success
// to close).
func WithBreaker(breaker *circuit.Breaker) ClientOption {
	return func(c *Client) {
		c.breaker = breaker
	}
}

// NewClient validates the config and returns a ready client.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("advisory base URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("advisory base URL %q is not absolute", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		http:    httpClient,
		baseURL: parsed.String(),
		breaker: circuit.New("advisory"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Recommendation implements Recommender.
func (c *Client) Recommendation(ctx context.Context, rateID string) (*Recommendation, error) {
	if rateID == "" {
		return nil, fmt.Errorf("rate id is required: %w", sentinel.ErrNotFound)
	}
	if c.breaker.IsOpen() {
		return nil, fmt.Errorf("advisory circuit open: %w", sentinel.ErrUnavailable)
	}

	endpoint := c.baseURL + "/v1/rates/" + url.PathEscape(rateID) + "/recommendation"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build advisory request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.recordFailure(ctx, err)
		return nil, fmt.Errorf("advisory request failed: %w: %w", sentinel.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		c.recordSuccess(ctx)
		var rec Recommendation
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return nil, fmt.Errorf("failed to decode recommendation: %w", err)
		}
		if rec.RateID == "" {
			rec.RateID = rateID
		}
		return &rec, nil

	case resp.StatusCode == http.StatusNotFound:
		// The service answered; it simply has no opinion on this rate.
		c.recordSuccess(ctx)
		return nil, fmt.Errorf("no recommendation for rate %s: %w", rateID, sentinel.ErrNotFound)

	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		c.recordFailure(ctx, fmt.Errorf("advisory returned %d", resp.StatusCode))
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("advisory returned %d: %w", resp.StatusCode, sentinel.ErrUnavailable)

	default:
		c.recordSuccess(ctx)
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("advisory rejected request with %d: %s", resp.StatusCode, string(body))
	}
}

func (c *Client) recordFailure(ctx context.Context, cause error) {
	_, change := c.breaker.RecordFailure()
	if change.Opened && c.logger != nil {
		c.logger.WarnContext(ctx, "advisory circuit opened",
			"breaker", c.breaker.Name(),
			"error", cause)
	}
}

func (c *Client) recordSuccess(ctx context.Context) {
	_, change := c.breaker.RecordSuccess()
	if change.Closed && c.logger != nil {
		c.logger.InfoContext(ctx, "advisory circuit closed",
			"breaker", c.breaker.Name())
	}
}
