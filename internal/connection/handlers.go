package connection

import (
	"context"
	"errors"
	"sync"

	"github.com/quantfabric/kalshi-core/internal/health"
	"github.com/quantfabric/kalshi-core/internal/rest"
	"github.com/quantfabric/kalshi-core/internal/scraper"
	"github.com/quantfabric/kalshi-core/internal/ws"
)

// RESTHandler adapts the REST client to the lifecycle hooks. Health is
// an authenticated GET against the configured path.
type RESTHandler struct {
	Client     *rest.Client
	HealthPath string
}

// NewRESTHandler wraps a REST client. An empty healthPath defaults to
// the exchange status endpoint.
func NewRESTHandler(client *rest.Client, healthPath string) *RESTHandler {
	if healthPath == "" {
		healthPath = rest.APIBasePath + "/exchange/status"
	}
	return &RESTHandler{Client: client, HealthPath: healthPath}
}

func (h *RESTHandler) Establish(ctx context.Context) error {
	return h.Client.HealthCheck(ctx, h.HealthPath)
}

func (h *RESTHandler) CheckHealth(ctx context.Context) health.Result {
	err := h.Client.HealthCheck(ctx, h.HealthPath)
	successes, failures := h.Client.Stats()
	details := map[string]any{
		"request_successes": successes,
		"request_failures":  failures,
	}
	if err != nil {
		return health.Unhealthy(err, details)
	}
	return health.Healthy(details)
}

func (h *RESTHandler) Cleanup(ctx context.Context) error {
	h.Client.CloseSession()
	return nil
}

// WSHandler adapts the WebSocket client to the lifecycle hooks. A
// fresh client is built per establish since a closed gorilla
// connection cannot be reopened.
type WSHandler struct {
	cfg  ws.ClientConfig
	auth ws.HeaderProvider

	mu     sync.Mutex
	client *ws.Client
}

// NewWSHandler creates a WebSocket lifecycle handler.
func NewWSHandler(cfg ws.ClientConfig, auth ws.HeaderProvider) *WSHandler {
	return &WSHandler{cfg: cfg, auth: auth}
}

// Client returns the current WebSocket client, nil when disconnected.
func (h *WSHandler) Client() *ws.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

func (h *WSHandler) Establish(ctx context.Context) error {
	client := ws.NewClient(h.cfg, h.auth, nil)
	if err := client.Connect(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	old := h.client
	h.client = client
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (h *WSHandler) CheckHealth(ctx context.Context) health.Result {
	client := h.Client()
	if client == nil {
		return health.Unhealthy(errors.New("no websocket connection"), nil)
	}
	if err := client.Ping(ctx); err != nil {
		return health.Unhealthy(err, nil)
	}
	return health.Healthy(nil)
}

func (h *WSHandler) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()

	if client != nil {
		return client.Close()
	}
	return nil
}

// ScraperHandler adapts the scraper client to the lifecycle hooks.
// Sessions are single-use, so establish builds a fresh client.
type ScraperHandler struct {
	urls []string
	opts []scraper.Option

	mu     sync.Mutex
	client *scraper.Client
}

// NewScraperHandler creates a scraper lifecycle handler.
func NewScraperHandler(urls []string, opts ...scraper.Option) *ScraperHandler {
	return &ScraperHandler{urls: urls, opts: opts}
}

// Client returns the current scraper client, nil when disconnected.
func (h *ScraperHandler) Client() *scraper.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

func (h *ScraperHandler) Establish(ctx context.Context) error {
	client := scraper.NewClient(h.urls, h.opts...)
	if result := client.CheckHealth(ctx); !result.Healthy {
		client.Close()
		return errors.New(result.Err)
	}

	h.mu.Lock()
	old := h.client
	h.client = client
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return nil
}

func (h *ScraperHandler) CheckHealth(ctx context.Context) health.Result {
	client := h.Client()
	if client == nil {
		return health.Unhealthy(errors.New("no scraper session"), nil)
	}
	return client.CheckHealth(ctx)
}

func (h *ScraperHandler) Cleanup(ctx context.Context) error {
	h.mu.Lock()
	client := h.client
	h.client = nil
	h.mu.Unlock()

	if client != nil {
		client.Close()
	}
	return nil
}
