// Package metrics exposes Prometheus instrumentation for the
// connectivity services.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/connection"
)

// Set bundles the collectors shared across services. Label "service"
// is the connection name ("rest", "ws", "scraper").
type Set struct {
	ConnectionState     *prometheus.GaugeVec
	Reconnects          *prometheus.CounterVec
	APIRetries          *prometheus.CounterVec
	DiscoveryPages      prometheus.Counter
	DiscoveredEvents    prometheus.Gauge
	StoreWriteFailures  *prometheus.CounterVec
	ActiveSubscriptions *prometheus.GaugeVec
}

// NewSet registers the collectors with reg.
func NewSet(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kalshi_connection_state",
			Help: "Connection lifecycle state (0=disconnected .. 5=failed).",
		}, []string{"service"}),
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kalshi_reconnects_total",
			Help: "Reconnection attempts triggered by health failures.",
		}, []string{"service"}),
		APIRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kalshi_api_retries_total",
			Help: "REST request retries by error kind.",
		}, []string{"kind"}),
		DiscoveryPages: factory.NewCounter(prometheus.CounterOpts{
			Name: "kalshi_discovery_pages_total",
			Help: "Market pages fetched during catalog discovery.",
		}),
		DiscoveredEvents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kalshi_discovered_events",
			Help: "Mutually exclusive events found by the last discovery run.",
		}),
		StoreWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kalshi_store_write_failures_total",
			Help: "Failed Redis write operations.",
		}, []string{"op"}),
		ActiveSubscriptions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kalshi_active_subscriptions",
			Help: "Markets currently subscribed per service prefix.",
		}, []string{"service"}),
	}
}

// ObserveTransitions consumes a connection transition stream and keeps
// the state gauge and reconnect counter current. Blocks until the
// channel closes or ctx is done.
func (s *Set) ObserveTransitions(ctx context.Context, transitions <-chan connection.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			s.ConnectionState.WithLabelValues(tr.Service).Set(float64(tr.To))
			if tr.To == connection.StateReconnecting {
				s.Reconnects.WithLabelValues(tr.Service).Inc()
			}
		}
	}
}

// Server serves the metrics endpoint over HTTP.
type Server struct {
	cfg    config.MetricsConfig
	logger *slog.Logger
	srv    *http.Server
	addr   string
}

// NewServer creates a metrics server for the given registry.
func NewServer(cfg config.MetricsConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if cfg.Port == 0 {
		cfg.Port = config.DefaultMetricsPort
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultMetricsPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return &Server{
		cfg:    cfg,
		logger: logger,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start begins serving in the background. The returned error channel
// receives at most one serve failure.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("metrics server listening", "addr", s.addr, "path", s.cfg.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh, nil
}

// Addr returns the bound listen address once Start has succeeded.
func (s *Server) Addr() string { return s.addr }

// Stop shuts the server down, honoring ctx for draining.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
