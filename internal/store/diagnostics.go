package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfabric/kalshi-core/internal/catalog"
)

const (
	connectionMetricsPrefix = "connection_metrics:"
	skippedMarketsKey       = "kalshi:skipped_markets"

	// diagnosticsTTL expires metrics and skip records after an hour.
	diagnosticsTTL = time.Hour
)

// DiagnosticsStore persists per-service connection metrics and
// discovery skip records, each with a one hour TTL.
type DiagnosticsStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewDiagnosticsStore creates a diagnostics store.
func NewDiagnosticsStore(client *redis.Client, logger *slog.Logger) *DiagnosticsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsStore{client: client, logger: logger}
}

// RecordConnectionMetrics writes a service's metrics snapshot as JSON.
func (s *DiagnosticsStore) RecordConnectionMetrics(ctx context.Context, service string, metrics map[string]any) error {
	key := connectionMetricsPrefix + service

	data, err := json.Marshal(metrics)
	if err != nil {
		return storeErr("encode", key, err)
	}
	if err := s.client.Set(ctx, key, data, diagnosticsTTL).Err(); err != nil {
		return storeErr("write", key, err)
	}
	return nil
}

// GetConnectionMetrics reads a service's metrics snapshot. A missing
// snapshot returns nil without error.
func (s *DiagnosticsStore) GetConnectionMetrics(ctx context.Context, service string) (map[string]any, error) {
	key := connectionMetricsPrefix + service

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read", key, err)
	}

	var metrics map[string]any
	if err := json.Unmarshal(data, &metrics); err != nil {
		return nil, storeErr("decode", key, err)
	}
	return metrics, nil
}

// RecordSkippedMarkets persists discovery skip diagnostics. Satisfies
// catalog.SkipRecorder.
func (s *DiagnosticsStore) RecordSkippedMarkets(ctx context.Context, markets []catalog.SkippedMarket) error {
	data, err := json.Marshal(markets)
	if err != nil {
		return storeErr("encode", skippedMarketsKey, err)
	}
	if err := s.client.Set(ctx, skippedMarketsKey, data, diagnosticsTTL).Err(); err != nil {
		return storeErr("write", skippedMarketsKey, err)
	}

	s.logger.Debug("recorded skipped markets", "count", len(markets))
	return nil
}

// GetSkippedMarkets reads the last discovery skip diagnostics.
func (s *DiagnosticsStore) GetSkippedMarkets(ctx context.Context) ([]catalog.SkippedMarket, error) {
	data, err := s.client.Get(ctx, skippedMarketsKey).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("read", skippedMarketsKey, err)
	}

	var markets []catalog.SkippedMarket
	if err := json.Unmarshal(data, &markets); err != nil {
		return nil, storeErr("decode", skippedMarketsKey, err)
	}
	return markets, nil
}
