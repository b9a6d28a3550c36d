package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

const (
	subscriptionsKey      = "ops:subscriptions:kalshi"
	subscriptionIDsKey    = "ops:subscription_ids:kalshi"
	serviceStatusKey      = "ops:service_status:kalshi"
	subscribedMarketsSet  = "subscribed_markets"
	serviceKeyPrefix      = "kalshi:"
	subscribedMarkerValue = "1"
)

// SubscriptionStore tracks which markets each service is subscribed
// to, under a per-service prefix in shared hashes.
type SubscriptionStore struct {
	client *redis.Client
	prefix string // service prefix, e.g. "rest" or "ws"
	logger *slog.Logger
}

// NewSubscriptionStore creates a subscription store scoped to one
// service prefix.
func NewSubscriptionStore(client *redis.Client, prefix string, logger *slog.Logger) *SubscriptionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionStore{client: client, prefix: prefix, logger: logger}
}

func (s *SubscriptionStore) field(ticker string) string {
	return s.prefix + ":" + ticker
}

func (s *SubscriptionStore) marketKey(ticker string) string {
	return serviceKeyPrefix + s.prefix + ":" + ticker
}

// GetSubscribedMarkets returns tickers marked subscribed under this
// service's prefix, sorted.
func (s *SubscriptionStore) GetSubscribedMarkets(ctx context.Context) ([]string, error) {
	fields, err := s.client.HGetAll(ctx, subscriptionsKey).Result()
	if err != nil {
		return nil, storeErr("read", subscriptionsKey, err)
	}

	var tickers []string
	for field, value := range fields {
		if value != subscribedMarkerValue {
			continue
		}
		if ticker, ok := strings.CutPrefix(field, s.prefix+":"); ok {
			tickers = append(tickers, ticker)
		}
	}
	sort.Strings(tickers)
	return tickers, nil
}

// AddSubscribedMarket marks a market subscribed and adds it to the
// shared set. A non-empty category is stamped on the market snapshot.
func (s *SubscriptionStore) AddSubscribedMarket(ctx context.Context, ticker, category string) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, subscriptionsKey, s.field(ticker), subscribedMarkerValue)
	pipe.SAdd(ctx, subscribedMarketsSet, ticker)
	if category != "" {
		pipe.HSet(ctx, s.marketKey(ticker), "category", category)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("subscribe", ticker, err)
	}
	return nil
}

// RemoveSubscribedMarket clears a market's subscription marker and
// removes it from the shared set.
func (s *SubscriptionStore) RemoveSubscribedMarket(ctx context.Context, ticker string) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, subscriptionsKey, s.field(ticker))
	pipe.SRem(ctx, subscribedMarketsSet, ticker)
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("unsubscribe", ticker, err)
	}
	return nil
}

// RecordSubscriptionIDs persists vendor-assigned subscription IDs per
// ticker under this service's prefix.
func (s *SubscriptionStore) RecordSubscriptionIDs(ctx context.Context, ids map[string]string) error {
	if len(ids) == 0 {
		return nil
	}

	fields := make(map[string]string, len(ids))
	for ticker, id := range ids {
		fields[s.field(ticker)] = id
	}
	if err := s.client.HSet(ctx, subscriptionIDsKey, fields).Err(); err != nil {
		return storeErr("write", subscriptionIDsKey, err)
	}
	return nil
}

// FetchSubscriptionIDs retrieves subscription IDs for the given
// tickers; missing tickers are omitted from the result.
func (s *SubscriptionStore) FetchSubscriptionIDs(ctx context.Context, tickers []string) (map[string]string, error) {
	if len(tickers) == 0 {
		return map[string]string{}, nil
	}

	fields := make([]string, len(tickers))
	for i, ticker := range tickers {
		fields[i] = s.field(ticker)
	}

	values, err := s.client.HMGet(ctx, subscriptionIDsKey, fields...).Result()
	if err != nil {
		return nil, storeErr("read", subscriptionIDsKey, err)
	}

	out := make(map[string]string)
	for i, v := range values {
		if v == nil {
			continue
		}
		if str, ok := v.(string); ok {
			out[tickers[i]] = str
		}
	}
	return out, nil
}

// UpdateServiceStatus writes one service's status field. The status
// may be a plain string or a map carrying a "status" entry.
func (s *SubscriptionStore) UpdateServiceStatus(ctx context.Context, service string, status any) error {
	var value string
	switch v := status.(type) {
	case string:
		value = v
	case map[string]any:
		str, ok := v["status"].(string)
		if !ok {
			return storeErr("write", serviceStatusKey,
				fmt.Errorf("status mapping for %s lacks a string status entry", service))
		}
		value = str
	default:
		return storeErr("write", serviceStatusKey,
			fmt.Errorf("unsupported status type %T for %s", status, service))
	}

	if err := s.client.HSet(ctx, serviceStatusKey, service, value).Err(); err != nil {
		return storeErr("write", serviceStatusKey, err)
	}
	return nil
}

// RemoveServiceKeys deletes everything owned by this service's prefix:
// snapshot keys, subscription fields, and subscription IDs, in one
// pipeline.
func (s *SubscriptionStore) RemoveServiceKeys(ctx context.Context) error {
	pattern := serviceKeyPrefix + s.prefix + ":*"
	keys, err := s.scanKeys(ctx, pattern)
	if err != nil {
		return storeErr("scan", pattern, err)
	}

	subFields, err := s.prefixedFields(ctx, subscriptionsKey)
	if err != nil {
		return err
	}
	idFields, err := s.prefixedFields(ctx, subscriptionIDsKey)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if len(subFields) > 0 {
		pipe.HDel(ctx, subscriptionsKey, subFields...)
	}
	if len(idFields) > 0 {
		pipe.HDel(ctx, subscriptionIDsKey, idFields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("cleanup", pattern, err)
	}

	s.logger.Info("removed service keys",
		"prefix", s.prefix,
		"snapshot_keys", len(keys),
		"subscription_fields", len(subFields),
	)
	return nil
}

// RemoveMarketCompletely removes every trace of a market owned by this
// service: set membership, subscription field, market hash, snapshot.
func (s *SubscriptionStore) RemoveMarketCompletely(ctx context.Context, ticker string) error {
	if ticker == "" {
		return storeErr("cleanup", subscriptionsKey, errors.New("ticker is required"))
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, subscribedMarketsSet, ticker)
	pipe.HDel(ctx, subscriptionsKey, s.field(ticker))
	pipe.Del(ctx, s.marketKey(ticker))
	pipe.Del(ctx, s.marketKey(ticker)+":snapshot")
	if _, err := pipe.Exec(ctx); err != nil {
		return storeErr("cleanup", ticker, err)
	}
	return nil
}

// prefixedFields lists hash fields under this service's prefix.
func (s *SubscriptionStore) prefixedFields(ctx context.Context, key string) ([]string, error) {
	all, err := s.client.HKeys(ctx, key).Result()
	if err != nil {
		return nil, storeErr("read", key, err)
	}

	var fields []string
	for _, field := range all {
		if strings.HasPrefix(field, s.prefix+":") {
			fields = append(fields, field)
		}
	}
	return fields, nil
}

func (s *SubscriptionStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}
