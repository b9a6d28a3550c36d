// Package catalog discovers the tradeable market universe: paginated
// market fetch, batched event lookups, and category/strike/expiry
// filtering down to mutually-exclusive events.
package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfabric/kalshi-core/internal/rest"
)

// DiscoveryError is any fatal failure of the discovery pipeline.
type DiscoveryError struct {
	Message string
	Err     error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// DiscoveredEvent is a validated mutually-exclusive event with its
// in-window markets.
type DiscoveredEvent struct {
	EventTicker  string
	SeriesTicker string
	Title        string
	Category     string
	Markets      []rest.Market
}

// SkippedMarket records why a market was dropped during filtering.
type SkippedMarket struct {
	Ticker      string    `json:"ticker"`
	EventTicker string    `json:"event_ticker"`
	Reason      string    `json:"reason"`
	SkippedAt   time.Time `json:"skipped_at"`
}

// SkipRecorder persists skipped-market diagnostics.
type SkipRecorder interface {
	RecordSkippedMarkets(ctx context.Context, markets []SkippedMarket) error
}

// Category buckets for filtering rules.
type Category int

const (
	CategoryOther Category = iota
	CategoryCrypto
	CategoryWeather
)

func (c Category) String() string {
	switch c {
	case CategoryCrypto:
		return "crypto"
	case CategoryWeather:
		return "weather"
	}
	return "other"
}
