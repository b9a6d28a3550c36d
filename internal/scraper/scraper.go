// Package scraper fetches non-API web content from a set of configured
// URLs with pluggable body validation.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quantfabric/kalshi-core/internal/health"
)

const (
	// DefaultUserAgent identifies the fetcher to target sites.
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

	acceptHeader = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	// maxBodyBytes caps how much of a page is read per fetch.
	maxBodyBytes = 4 << 20
)

// ErrSessionClosed is returned when fetching after Close.
var ErrSessionClosed = errors.New("scraper session closed")

// Validator inspects a fetched body and returns an error when the
// content is not what the caller expects.
type Validator func(url string, body []byte) error

// Result is the outcome of a single URL fetch.
type Result struct {
	URL       string
	Body      []byte
	FetchedAt time.Time
	Err       error
}

// Client fetches content from one or more URLs over a pooled HTTP
// session.
type Client struct {
	urls       []string
	userAgent  string
	timeout    time.Duration
	validators []Validator
	logger     *slog.Logger

	mu      sync.Mutex
	session *http.Client
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent overrides the default user agent.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithValidator registers a content validator run on every fetched
// body. Validators run in registration order.
func WithValidator(v Validator) Option {
	return func(c *Client) { c.validators = append(c.validators, v) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a scraper over the given URLs.
func NewClient(urls []string, opts ...Option) *Client {
	c := &Client{
		urls:      urls,
		userAgent: DefaultUserAgent,
		timeout:   30 * time.Second,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URLs returns the configured URL set.
func (c *Client) URLs() []string {
	out := make([]string, len(c.urls))
	copy(out, c.urls)
	return out
}

// getSession lazily creates the pooled HTTP session.
func (c *Client) getSession() (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrSessionClosed
	}
	if c.session == nil {
		c.session = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: c.timeout,
			},
		}
	}
	return c.session, nil
}

// Close shuts down the pooled session. Further fetches fail with
// ErrSessionClosed.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.session != nil {
		c.session.CloseIdleConnections()
		c.session = nil
	}
}

// ScrapeURL fetches a single URL and runs the registered validators on
// the body.
func (c *Client) ScrapeURL(ctx context.Context, url string) ([]byte, error) {
	session, err := c.getSession()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", acceptHeader)

	resp, err := session.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("scrape %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("scrape %s: read body: %w", url, err)
	}

	for _, validate := range c.validators {
		if err := validate(url, body); err != nil {
			return nil, fmt.Errorf("scrape %s: validation failed: %w", url, err)
		}
	}
	return body, nil
}

// ScrapeAllURLs fetches every configured URL in parallel. Each URL gets
// its own Result; one failing URL never affects the others.
func (c *Client) ScrapeAllURLs(ctx context.Context) []Result {
	results := make([]Result, len(c.urls))

	var wg sync.WaitGroup
	for i, url := range c.urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			body, err := c.ScrapeURL(ctx, url)
			results[i] = Result{
				URL:       url,
				Body:      body,
				FetchedAt: time.Now(),
				Err:       err,
			}
		}(i, url)
	}
	wg.Wait()

	return results
}

// CheckHealth fetches all URLs and reports healthy when at least half
// of them (and at least one) pass validation.
func (c *Client) CheckHealth(ctx context.Context) health.Result {
	if len(c.urls) == 0 {
		return health.Unhealthy(errors.New("no urls configured"), nil)
	}

	results := c.ScrapeAllURLs(ctx)

	healthy := 0
	var lastErr error
	for _, r := range results {
		if r.Err == nil {
			healthy++
		} else {
			lastErr = r.Err
			c.logger.Debug("scrape health check failed",
				"url", r.URL,
				"error", r.Err,
			)
		}
	}

	required := len(c.urls) / 2
	if required < 1 {
		required = 1
	}

	details := map[string]any{
		"healthy_urls": healthy,
		"total_urls":   len(c.urls),
		"required":     required,
	}
	if healthy >= required {
		return health.Healthy(details)
	}
	err := fmt.Errorf("only %d/%d urls healthy", healthy, len(c.urls))
	if lastErr != nil {
		err = fmt.Errorf("only %d/%d urls healthy: %w", healthy, len(c.urls), lastErr)
	}
	return health.Unhealthy(err, details)
}
