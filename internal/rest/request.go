package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// APIError represents a failed exchange API call.
type APIError struct {
	StatusCode int
	Path       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error on %s: status %d: %s", e.Path, e.StatusCode, e.Message)
}

// IsRateLimit reports whether the error is an upstream 429.
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsAuth reports whether the error is an authentication rejection.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// acceptedStatuses are the only statuses treated as success.
var acceptedStatuses = map[int]bool{
	http.StatusOK:       true,
	http.StatusCreated:  true,
	http.StatusAccepted: true,
}

// APIRequest performs a signed request and returns the raw JSON object
// body. Path must start with "/". 429s and transport errors are retried
// with bounded exponential sleeps up to the configured max retries.
func (c *Client) APIRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("api path must start with '/': %q", path)
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		raw, err := c.doSigned(ctx, method, path, query, payload)
		if err == nil {
			c.successCount.Add(1)
			return raw, nil
		}
		lastErr = err
		c.failureCount.Add(1)

		if !c.retryable(err) || attempt >= c.maxRetries {
			return nil, err
		}

		wait := c.retryWait(attempt)
		if apiErr, ok := lastErr.(*APIError); ok && apiErr.IsRateLimit() {
			if c.onRetry != nil {
				c.onRetry("rate_limit")
			}
			c.logger.Warn("rate limited, backing off",
				"path", path,
				"attempt", attempt,
				"wait", wait,
			)
		} else {
			if c.onRetry != nil {
				c.onRetry("transport")
			}
			c.logger.Debug("retrying request",
				"path", path,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		}

		if err := c.sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// sleepCtx waits for d or until the context is cancelled.
func (c *Client) sleepCtx(ctx context.Context, d time.Duration) error {
	if c.sleep != nil {
		c.sleep(d)
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// retryWait computes min(base·2^(attempt−1), max).
func (c *Client) retryWait(attempt int) time.Duration {
	wait := c.backoffBase
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= c.backoffMax {
			return c.backoffMax
		}
	}
	if wait > c.backoffMax {
		wait = c.backoffMax
	}
	return wait
}

// retryable reports whether the failure should be retried: rate limits
// and transport-level errors qualify; other API statuses do not.
func (c *Client) retryable(err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.IsRateLimit()
	}
	// Non-API errors are transport failures (dial, timeout, read).
	return true
}

// doSigned executes one signed HTTP round trip and validates the
// response shape.
func (c *Client) doSigned(ctx context.Context, method, path string, query url.Values, payload []byte) (json.RawMessage, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.signer != nil {
		headers, err := c.signer.SignRequest(method, path)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.session().Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if !acceptedStatuses[resp.StatusCode] {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Message:    "response is not a JSON object",
			Body:       body,
		}
	}

	return json.RawMessage(trimmed), nil
}

// HealthCheck issues one signed GET against path and reports only the
// probe outcome: any 2xx or 3xx status is healthy, the body is ignored.
// No retries; the caller's health monitor owns the retry policy.
func (c *Client) HealthCheck(ctx context.Context, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("api path must start with '/': %q", path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.signer != nil {
		headers, err := c.signer.SignRequest(http.MethodGet, path)
		if err != nil {
			return fmt.Errorf("sign request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.session().Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		return &APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Message:    http.StatusText(resp.StatusCode),
		}
	}
	return nil
}

// getJSON performs a GET and decodes the JSON object into result.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, result any) error {
	raw, err := c.APIRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", path, err)
	}
	return nil
}

// postJSON performs a POST and decodes the JSON object into result.
func (c *Client) postJSON(ctx context.Context, path string, body, result any) error {
	raw, err := c.APIRequest(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("unmarshal response from %s: %w", path, err)
	}
	return nil
}
