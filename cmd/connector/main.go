package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quantfabric/kalshi-core/internal/archive"
	"github.com/quantfabric/kalshi-core/internal/auth"
	"github.com/quantfabric/kalshi-core/internal/backoff"
	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/connection"
	"github.com/quantfabric/kalshi-core/internal/lock"
	"github.com/quantfabric/kalshi-core/internal/logging"
	"github.com/quantfabric/kalshi-core/internal/metrics"
	"github.com/quantfabric/kalshi-core/internal/persistence"
	"github.com/quantfabric/kalshi-core/internal/procmon"
	"github.com/quantfabric/kalshi-core/internal/rest"
	"github.com/quantfabric/kalshi-core/internal/scraper"
	"github.com/quantfabric/kalshi-core/internal/store"
	"github.com/quantfabric/kalshi-core/internal/version"
	"github.com/quantfabric/kalshi-core/internal/ws"
)

func main() {
	configPath := flag.String("config", "configs/connector.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	if err := run(*configPath); err != nil {
		slog.Error("connector failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	service := cfg.Instance.Service

	logger, logCloser, err := logging.Setup(service, logging.Options{})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("starting connector",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
	)

	// One instance per host per service.
	fileLock := lock.NewFileLock(cfg.Runtime.Dir, service)
	if err := fileLock.Acquire(); err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return fmt.Errorf("another %s instance is already running: %w", service, err)
		}
		return err
	}
	defer fileLock.Release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	// Shared-state store.
	redisClient := store.NewPool(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s:%d: %w", cfg.Redis.Host, cfg.Redis.Port, err)
	}

	persist := persistence.NewManager(redisClient, "", logger)
	if err := persist.EnsurePersistence(ctx); err != nil {
		return fmt.Errorf("redis persistence: %w", err)
	}

	creds, err := auth.LoadCredentials(cfg.API.AccessKey, cfg.API.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	set := metrics.NewSet(registry)

	restClient := rest.NewClient(cfg.API.RestURL, creds,
		rest.WithLogger(logger),
		rest.WithTimeouts(cfg.API.Timeout, cfg.API.ConnectTimeout, cfg.API.ReadTimeout),
		rest.WithRetries(cfg.API.MaxRetries, cfg.API.BackoffBase, cfg.API.BackoffMax),
		rest.WithRetryNotify(func(kind string) {
			set.APIRetries.WithLabelValues(kind).Inc()
		}),
	)

	engine := backoff.NewEngine(backoff.WithLogger(logger))
	tracker := connection.NewSessionTracker(logger)

	metricsSrv := metrics.NewServer(cfg.Metrics, registry, logger)
	metricsErrs, err := metricsSrv.Start()
	if err != nil {
		return err
	}

	// Optional Postgres transition archive.
	var transitionArchive *archive.TransitionWriter
	if archive.Enabled(cfg.Archive) {
		pool, err := archive.Connect(ctx, cfg.Archive)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer pool.Close()

		transitionArchive = archive.NewTransitionWriter(cfg.Archive, pool, logger)
		if err := transitionArchive.Start(ctx); err != nil {
			return err
		}
	}

	// Connection managers.
	wsCfg := ws.DefaultClientConfig()
	wsCfg.URL = cfg.API.WSURL
	if cfg.Connections.PingInterval > 0 {
		wsCfg.PingInterval = cfg.Connections.PingInterval
	}
	if cfg.Connections.PongTimeout > 0 {
		wsCfg.PongTimeout = cfg.Connections.PongTimeout
	}

	managers := []*connection.Manager{
		connection.NewManager("rest",
			connection.NewRESTHandler(restClient, ""),
			engine, cfg.Connections,
			connection.WithLogger(logger),
			connection.WithSessionTracker(tracker),
		),
		connection.NewManager("ws",
			connection.NewWSHandler(wsCfg, creds),
			engine, cfg.Connections,
			connection.WithLogger(logger),
			connection.WithSessionTracker(tracker),
		),
	}
	if len(cfg.Scraper.URLs) > 0 {
		scraperOpts := []scraper.Option{scraper.WithLogger(logger)}
		if cfg.Scraper.UserAgent != "" {
			scraperOpts = append(scraperOpts, scraper.WithUserAgent(cfg.Scraper.UserAgent))
		}
		if cfg.Scraper.Timeout > 0 {
			scraperOpts = append(scraperOpts, scraper.WithTimeout(cfg.Scraper.Timeout))
		}
		managers = append(managers, connection.NewManager("scraper",
			connection.NewScraperHandler(cfg.Scraper.URLs, scraperOpts...),
			engine, cfg.Connections,
			connection.WithLogger(logger),
			connection.WithSessionTracker(tracker),
		))
	}

	// Fan each manager's transition stream out to metrics, the
	// diagnostics store, and the archive.
	diagnostics := store.NewDiagnosticsStore(redisClient, logger)
	for _, mgr := range managers {
		go consumeTransitions(ctx, mgr.Subscribe(), set, diagnostics, transitionArchive)
	}

	for _, mgr := range managers {
		if err := mgr.Start(ctx); err != nil {
			logger.Error("connection failed to start", "error", err)
		}
	}

	// Host process visibility for diagnostics.
	monitor := procmon.NewMonitor(cfg.Runtime.ProcessCacheTTL, cfg.Runtime.ProcessScanInterval,
		procmon.WithLogger(logger))
	monitor.Start(ctx)

	subs := store.NewSubscriptionStore(redisClient, service, logger)
	if err := subs.UpdateServiceStatus(ctx, service, "running"); err != nil {
		logger.Warn("service status update failed", "error", err)
	}
	go pollSubscriptions(ctx, subs, set, service)

	logger.Info("connector running",
		"metrics_addr", metricsSrv.Addr(),
		"connections", len(managers),
	)

	select {
	case <-ctx.Done():
	case err := <-metricsErrs:
		if err != nil {
			logger.Error("metrics server failed", "error", err)
		}
		cancel()
	}

	logger.Info("shutting down")

	// Teardown order: connections first so transitions still reach the
	// archive, then the background services, then the store.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for _, mgr := range managers {
		if err := mgr.Stop(shutdownCtx); err != nil {
			logger.Warn("connection stop failed", "error", err)
		}
	}
	monitor.Stop()
	if transitionArchive != nil {
		transitionArchive.Stop(shutdownCtx)
	}
	metricsSrv.Stop(shutdownCtx)

	if err := subs.UpdateServiceStatus(shutdownCtx, service, "stopped"); err != nil {
		logger.Warn("service status update failed", "error", err)
	}

	logger.Info("connector stopped")
	return nil
}

// pollSubscriptions keeps the subscription gauge current.
func pollSubscriptions(ctx context.Context, subs *store.SubscriptionStore, set *metrics.Set, service string) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			markets, err := subs.GetSubscribedMarkets(ctx)
			if err != nil {
				continue
			}
			set.ActiveSubscriptions.WithLabelValues(service).Set(float64(len(markets)))
		}
	}
}

// consumeTransitions drains one manager's transition stream until it
// closes.
func consumeTransitions(
	ctx context.Context,
	transitions <-chan connection.Transition,
	set *metrics.Set,
	diagnostics *store.DiagnosticsStore,
	transitionArchive *archive.TransitionWriter,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case tr, ok := <-transitions:
			if !ok {
				return
			}
			set.ConnectionState.WithLabelValues(tr.Service).Set(float64(tr.To))
			if tr.To == connection.StateReconnecting {
				set.Reconnects.WithLabelValues(tr.Service).Inc()
			}
			if transitionArchive != nil {
				transitionArchive.Add(tr)
			}

			recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := diagnostics.RecordConnectionMetrics(recordCtx, tr.Service, map[string]any{
				"state":       tr.To.String(),
				"previous":    tr.From.String(),
				"error":       tr.Err,
				"occurred_at": tr.At.UTC().Format(time.RFC3339),
			})
			cancel()
			if err != nil {
				set.StoreWriteFailures.WithLabelValues("connection_metrics").Inc()
			}
		}
	}
}
