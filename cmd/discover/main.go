package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfabric/kalshi-core/internal/archive"
	"github.com/quantfabric/kalshi-core/internal/auth"
	"github.com/quantfabric/kalshi-core/internal/catalog"
	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/lock"
	"github.com/quantfabric/kalshi-core/internal/logging"
	"github.com/quantfabric/kalshi-core/internal/rest"
	"github.com/quantfabric/kalshi-core/internal/store"
	"github.com/quantfabric/kalshi-core/internal/version"
)

// lockTTL bounds a discovery run; a crashed run frees the lock when it
// expires.
const lockTTL = 10 * time.Minute

func main() {
	configPath := flag.String("config", "configs/connector.local.yaml", "path to config file")
	seed := flag.Bool("seed", true, "seed subscription entries for discovered markets")
	flag.Parse()

	if err := run(*configPath, *seed); err != nil {
		slog.Error("discovery failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, seed bool) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.Setup("discover", logging.Options{})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("starting discovery",
		"version", version.Version,
		"config", configPath,
	)

	ctx := context.Background()

	redisClient := store.NewPool(cfg.Redis)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis %s:%d: %w", cfg.Redis.Host, cfg.Redis.Port, err)
	}

	// One discovery run at a time across all hosts.
	runLock := lock.NewDistributedLock(redisClient, "discovery", "kalshi", lockTTL, logger)
	err = runLock.WithLock(ctx, func(ctx context.Context) error {
		return discover(ctx, cfg, redisClient, logger, seed)
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Warn("discovery already running elsewhere, skipping")
		return nil
	}
	return err
}

func discover(ctx context.Context, cfg *config.ServiceConfig, redisClient *redis.Client, logger *slog.Logger, seed bool) error {
	creds, err := auth.LoadCredentials(cfg.API.AccessKey, cfg.API.PrivateKeyPath)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	client := rest.NewClient(cfg.API.RestURL, creds,
		rest.WithLogger(logger),
		rest.WithTimeouts(cfg.API.Timeout, cfg.API.ConnectTimeout, cfg.API.ReadTimeout),
		rest.WithRetries(cfg.API.MaxRetries, cfg.API.BackoffBase, cfg.API.BackoffMax),
	)
	defer client.CloseSession()

	status, err := client.GetExchangeStatus(ctx)
	if err != nil {
		return fmt.Errorf("get exchange status: %w", err)
	}
	logger.Info("exchange status",
		"exchange_active", status.ExchangeActive,
		"trading_active", status.TradingActive,
	)

	start := time.Now()
	events, err := catalog.DiscoverMutuallyExclusiveMarkets(ctx, client, catalog.Options{
		ExpiryWindow:       cfg.Discovery.ExpiryWindow,
		MinMarketsPerEvent: cfg.Discovery.MinMarketsPerEvent,
		PageLimit:          cfg.Discovery.PageLimit,
		EventBatchSize:     cfg.Discovery.EventBatchSize,
		EventConcurrency:   cfg.Discovery.EventConcurrency,
		StationMapPath:     cfg.Discovery.StationMapPath,
		ExchangeStatus:     status,
		SkipRecorder:       store.NewDiagnosticsStore(redisClient, logger),
		Logger:             logger,
		Progress: func(stage string, completed, total int) {
			logger.Debug("discovery progress", "stage", stage, "completed", completed, "total", total)
		},
	})
	if err != nil {
		return err
	}

	markets := 0
	for _, ev := range events {
		markets += len(ev.Markets)
	}
	elapsed := time.Since(start)
	logger.Info("discovery complete",
		"events", len(events),
		"markets", markets,
		"duration", elapsed,
	)

	if seed {
		if err := seedSubscriptions(ctx, cfg, redisClient, logger, events); err != nil {
			return err
		}
	}

	if archive.Enabled(cfg.Archive) {
		if err := recordRun(ctx, cfg.Archive, len(events), markets, elapsed); err != nil {
			logger.Warn("archive record failed", "error", err)
		}
	}

	for _, ev := range events {
		fmt.Printf("%-24s  %-8s  %3d markets  %s\n", ev.EventTicker, ev.Category, len(ev.Markets), ev.Title)
	}
	return nil
}

// seedSubscriptions registers every discovered market under this
// instance's subscription prefix so the connector picks them up.
func seedSubscriptions(ctx context.Context, cfg *config.ServiceConfig, redisClient *redis.Client, logger *slog.Logger, events []catalog.DiscoveredEvent) error {
	service := cfg.Instance.Service
	subs := store.NewSubscriptionStore(redisClient, service, logger)

	seeded := 0
	for _, ev := range events {
		for _, m := range ev.Markets {
			if err := subs.AddSubscribedMarket(ctx, m.Ticker, ev.Category); err != nil {
				return fmt.Errorf("seed subscription %s: %w", m.Ticker, err)
			}
			seeded++
		}
	}
	logger.Info("subscriptions seeded", "prefix", service, "markets", seeded)
	return nil
}

// recordRun writes a run summary to the Postgres archive.
func recordRun(ctx context.Context, cfg config.ArchiveConfig, events, markets int, elapsed time.Duration) error {
	pool, err := archive.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	return archive.RecordDiscovery(ctx, pool, archive.DiscoverySummary{
		RanAt:    time.Now().UTC(),
		Events:   events,
		Markets:  markets,
		Duration: elapsed,
	})
}
