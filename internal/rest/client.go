// Package rest implements the signed, retrying REST transport for the
// exchange API and the typed operations built on it.
package rest

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// APIBasePath is the exchange REST path prefix.
const APIBasePath = "/trade-api/v2"

// Signer produces authentication headers for a request.
// auth.Credentials satisfies this.
type Signer interface {
	SignRequest(method, path string) (map[string]string, error)
}

// Client provides access to the exchange REST API. A single pooled
// HTTP session is created lazily on first use.
type Client struct {
	baseURL string
	signer  Signer
	logger  *slog.Logger

	timeout        time.Duration
	connectTimeout time.Duration
	readTimeout    time.Duration

	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration

	// Session creation is serialized; exactly one creation wins.
	sessionMu  sync.Mutex
	httpClient *http.Client

	// Health counters read by the connection health monitor.
	successCount atomic.Int64
	failureCount atomic.Int64

	// onRetry, when set, observes each retry with its cause kind
	// ("rate_limit" or "transport").
	onRetry func(kind string)

	sleep func(time.Duration) // test hook; nil means context-aware sleep
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new REST API client.
func NewClient(baseURL string, signer Signer, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        baseURL,
		signer:         signer,
		logger:         slog.Default(),
		timeout:        30 * time.Second,
		connectTimeout: 10 * time.Second,
		readTimeout:    20 * time.Second,
		maxRetries:     3,
		backoffBase:    time.Second,
		backoffMax:     30 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeouts sets the total, connect, and read timeouts.
func WithTimeouts(total, connect, read time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = total
		c.connectTimeout = connect
		c.readTimeout = read
	}
}

// WithRetries sets the retry policy for 429s and transport errors.
func WithRetries(max int, base, maxBackoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.backoffBase = base
		c.backoffMax = maxBackoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryNotify registers a callback invoked on each retry.
func WithRetryNotify(fn func(kind string)) ClientOption {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// WithHTTPClient sets a custom HTTP client, bypassing lazy creation.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// session returns the pooled HTTP client, creating it on first use.
func (c *Client) session() *http.Client {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: c.connectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: c.readTimeout,
				MaxIdleConns:          20,
				MaxIdleConnsPerHost:   20,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return c.httpClient
}

// CloseSession drains and releases the pooled session. A subsequent
// request creates a fresh one.
func (c *Client) CloseSession() {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()

	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
		c.httpClient = nil
	}
}

// Stats reports request outcome counters since process start.
func (c *Client) Stats() (successes, failures int64) {
	return c.successCount.Load(), c.failureCount.Load()
}
