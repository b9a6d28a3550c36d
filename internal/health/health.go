// Package health defines the uniform health-check result shared by all
// connection managers, and the network probe consulted by the backoff
// engine.
package health

import (
	"context"
	"net/http"
	"time"
)

// Result is the uniform outcome of a protocol-specific health check.
type Result struct {
	Healthy bool
	Details map[string]any
	Err     string
}

// Unhealthy builds a failed result carrying the error text.
func Unhealthy(err error, details map[string]any) Result {
	r := Result{Healthy: false, Details: details}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

// Healthy builds a passing result.
func Healthy(details map[string]any) Result {
	return Result{Healthy: true, Details: details}
}

// NetworkStatus classifies overall network reachability.
type NetworkStatus int

const (
	NetworkOnline NetworkStatus = iota
	NetworkDegraded
	NetworkOffline
)

func (s NetworkStatus) String() string {
	switch s {
	case NetworkOnline:
		return "online"
	case NetworkDegraded:
		return "degraded"
	case NetworkOffline:
		return "offline"
	}
	return "unknown"
}

// Probe reports current network reachability. The backoff engine
// lengthens delays when the probe reports degraded or offline.
type Probe interface {
	NetworkStatus(ctx context.Context) NetworkStatus
}

// ProbeFunc adapts a function to the Probe interface.
type ProbeFunc func(ctx context.Context) NetworkStatus

func (f ProbeFunc) NetworkStatus(ctx context.Context) NetworkStatus { return f(ctx) }

// HTTPProbe classifies reachability by fetching a status URL.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// NewHTTPProbe creates a probe against the given URL.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		URL:     url,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

// NetworkStatus returns Online on 2xx/3xx, Degraded on any HTTP error
// status, Offline when the request cannot complete.
func (p *HTTPProbe) NetworkStatus(ctx context.Context) NetworkStatus {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return NetworkOffline
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return NetworkOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		return NetworkOnline
	}
	return NetworkDegraded
}
