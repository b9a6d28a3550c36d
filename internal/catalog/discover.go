package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/rest"
)

// MarketAPI is the slice of the REST client the pipeline consumes.
type MarketAPI interface {
	GetMarkets(ctx context.Context, params rest.MarketsParams) (*rest.MarketsResponse, error)
	GetEvent(ctx context.Context, eventTicker string) (*rest.Event, error)
}

// Options tunes a discovery run.
type Options struct {
	ExpiryWindow       time.Duration
	MinMarketsPerEvent int
	PageLimit          int
	EventBatchSize     int
	EventConcurrency   int

	// ExchangeStatus, when supplied, gates the run up front.
	ExchangeStatus *rest.ExchangeStatus

	// Progress, when set, receives (stage, completed, total) updates.
	Progress func(stage string, completed, total int)

	// SkipRecorder, when set, receives skipped-market diagnostics.
	SkipRecorder SkipRecorder

	// StationMapPath points at the weather station whitelist JSON.
	StationMapPath string

	Logger *slog.Logger

	now func() time.Time // test hook
}

func (o *Options) applyDefaults() {
	if o.ExpiryWindow <= 0 {
		o.ExpiryWindow = config.DefaultExpiryWindow
	}
	if o.MinMarketsPerEvent <= 0 {
		o.MinMarketsPerEvent = config.DefaultMinMarketsPerEvent
	}
	if o.PageLimit <= 0 {
		o.PageLimit = config.DefaultPageLimit
	}
	if o.EventBatchSize <= 0 {
		o.EventBatchSize = config.DefaultEventBatchSize
	}
	if o.EventConcurrency <= 0 {
		o.EventConcurrency = config.DefaultEventConcurrency
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
}

// DiscoverMutuallyExclusiveMarkets runs the full discovery pipeline and
// returns the validated event set, sorted by event ticker.
func DiscoverMutuallyExclusiveMarkets(ctx context.Context, client MarketAPI, opts Options) ([]DiscoveredEvent, error) {
	opts.applyDefaults()
	logger := opts.Logger

	if opts.ExchangeStatus != nil && !opts.ExchangeStatus.ExchangeActive {
		return nil, &DiscoveryError{Message: "exchange is not active"}
	}

	now := opts.now()
	windowEnd := now.Add(opts.ExpiryWindow)

	markets, err := fetchOpenMarkets(ctx, client, opts, now, windowEnd)
	if err != nil {
		return nil, err
	}
	logger.Info("fetched open markets", "count", len(markets))

	byEvent := groupByEvent(markets, now, windowEnd)
	if len(byEvent) == 0 {
		return nil, &DiscoveryError{Message: "no markets within expiry window"}
	}

	events := fetchEvents(ctx, client, opts, sortedKeys(byEvent))
	logger.Info("fetched event details",
		"requested", len(byEvent),
		"returned", len(events),
	)

	var (
		discovered []DiscoveredEvent
		skipped    []SkippedMarket
	)
	stations := loadStations(opts.StationMapPath, logger)

	for _, ev := range events {
		if !ev.MutuallyExclusive {
			continue
		}

		eventMarkets := ev.Markets
		if len(eventMarkets) == 0 {
			eventMarkets = byEvent[ev.EventTicker]
		}

		valid, evSkipped := filterEventMarkets(ev, eventMarkets, stations, now, windowEnd)
		skipped = append(skipped, evSkipped...)

		if len(valid) < opts.MinMarketsPerEvent {
			logger.Debug("event below market minimum",
				"event", ev.EventTicker,
				"valid_markets", len(valid),
				"minimum", opts.MinMarketsPerEvent,
			)
			continue
		}

		discovered = append(discovered, DiscoveredEvent{
			EventTicker:  ev.EventTicker,
			SeriesTicker: ev.SeriesTicker,
			Title:        ev.Title,
			Category:     ev.Category,
			Markets:      valid,
		})
	}

	if opts.SkipRecorder != nil && len(skipped) > 0 {
		if err := opts.SkipRecorder.RecordSkippedMarkets(ctx, skipped); err != nil {
			logger.Warn("failed to record skipped markets", "error", err)
		}
	}

	if len(discovered) == 0 {
		return nil, &DiscoveryError{Message: "no mutually exclusive events discovered"}
	}

	sort.Slice(discovered, func(i, j int) bool {
		return discovered[i].EventTicker < discovered[j].EventTicker
	})

	logger.Info("discovery complete",
		"events", len(discovered),
		"skipped_markets", len(skipped),
	)
	return discovered, nil
}

// fetchOpenMarkets paginates the markets listing, refusing to revisit
// any cursor.
func fetchOpenMarkets(ctx context.Context, client MarketAPI, opts Options, now, windowEnd time.Time) ([]rest.Market, error) {
	var (
		markets []rest.Market
		cursor  string
		seen    = make(map[string]bool)
		page    int
	)

	for {
		resp, err := client.GetMarkets(ctx, rest.MarketsParams{
			Limit:      opts.PageLimit,
			Cursor:     cursor,
			Status:     "open",
			MinCloseTS: now.Unix(),
			MaxCloseTS: windowEnd.Unix(),
		})
		if err != nil {
			return nil, &DiscoveryError{Message: "markets fetch failed", Err: err}
		}

		markets = append(markets, resp.Markets...)
		page++
		if opts.Progress != nil {
			opts.Progress("fetch_markets", len(markets), 0)
		}

		if resp.Cursor == "" {
			return markets, nil
		}
		if seen[resp.Cursor] {
			return nil, &DiscoveryError{
				Message: fmt.Sprintf("Pagination error: received repeated cursor '%s'", resp.Cursor),
			}
		}
		seen[resp.Cursor] = true
		cursor = resp.Cursor
	}
}

// groupByEvent buckets in-window markets by event ticker.
func groupByEvent(markets []rest.Market, now, windowEnd time.Time) map[string][]rest.Market {
	byEvent := make(map[string][]rest.Market)
	for _, m := range markets {
		if m.EventTicker == "" {
			continue
		}
		if !inWindow(m.CloseTime, now, windowEnd) {
			continue
		}
		byEvent[m.EventTicker] = append(byEvent[m.EventTicker], m)
	}
	return byEvent
}

// fetchEvents retrieves event details in batches under a bounded
// concurrency group. Per-event failures are logged and dropped.
func fetchEvents(ctx context.Context, client MarketAPI, opts Options, tickers []string) []rest.Event {
	var (
		mu     sync.Mutex
		events []rest.Event
		done   int
	)

	for start := 0; start < len(tickers); start += opts.EventBatchSize {
		end := start + opts.EventBatchSize
		if end > len(tickers) {
			end = len(tickers)
		}
		batch := tickers[start:end]

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.EventConcurrency)

		for _, ticker := range batch {
			ticker := ticker
			g.Go(func() error {
				ev, err := client.GetEvent(gctx, ticker)
				if err != nil {
					opts.Logger.Warn("event fetch failed, dropping event",
						"event", ticker,
						"error", err,
					)
					return nil
				}
				mu.Lock()
				events = append(events, *ev)
				mu.Unlock()
				return nil
			})
		}
		g.Wait()

		done += len(batch)
		if opts.Progress != nil {
			opts.Progress("fetch_events", done, len(tickers))
		}
	}

	return events
}

// filterEventMarkets applies window, strike, and category rules to one
// event's markets.
func filterEventMarkets(ev rest.Event, markets []rest.Market, stations map[string]string, now, windowEnd time.Time) ([]rest.Market, []SkippedMarket) {
	category := classify(ev.Category)

	var (
		valid   []rest.Market
		skipped []SkippedMarket
	)

	skip := func(m rest.Market, reason string) {
		skipped = append(skipped, SkippedMarket{
			Ticker:      m.Ticker,
			EventTicker: ev.EventTicker,
			Reason:      reason,
			SkippedAt:   now,
		})
	}

	for _, m := range markets {
		if !inWindow(m.CloseTime, now, windowEnd) {
			skip(m, "close time outside expiry window")
			continue
		}
		if err := validateStrikes(m); err != nil {
			skip(m, err.Error())
			continue
		}

		switch category {
		case CategoryCrypto:
			if err := validateCryptoMarket(m); err != nil {
				skip(m, err.Error())
				continue
			}
		case CategoryWeather:
			if err := validateWeatherMarket(m, stations); err != nil {
				skip(m, err.Error())
				continue
			}
		}

		valid = append(valid, m)
	}

	return valid, skipped
}

// inWindow reports whether an RFC3339 close time falls in (now,
// windowEnd]. Unparseable times are excluded.
func inWindow(closeTime string, now, windowEnd time.Time) bool {
	t, err := time.Parse(time.RFC3339, closeTime)
	if err != nil {
		return false
	}
	return t.After(now) && !t.After(windowEnd)
}

func sortedKeys(m map[string][]rest.Market) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
