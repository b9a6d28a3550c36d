package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/quantfabric/kalshi-core/internal/rest"
)

// monthCodeRe matches the DDMONYY segment of crypto market tickers,
// e.g. 25DEC26.
var monthCodeRe = regexp.MustCompile(`\d{2}(JAN|FEB|MAR|APR|MAY|JUN|JUL|AUG|SEP|OCT|NOV|DEC)\d{2}`)

// cryptoAssets are the underlyings accepted for crypto events.
var cryptoAssets = []string{"BTC", "ETH", "SOL", "XRP", "DOGE", "LTC"}

// validStrikeTypes is the closed strike-type set.
var validStrikeTypes = map[string]bool{
	"greater":          true,
	"less":             true,
	"greater_or_equal": true,
	"less_or_equal":    true,
	"between":          true,
}

// classify buckets an event by its exchange category string.
func classify(category string) Category {
	c := strings.ToLower(category)
	switch {
	case strings.Contains(c, "crypto"):
		return CategoryCrypto
	case strings.Contains(c, "weather") || strings.Contains(c, "climate"):
		return CategoryWeather
	}
	return CategoryOther
}

// cryptoAsset returns the underlying asset named in a ticker, or "".
func cryptoAsset(ticker string) string {
	upper := strings.ToUpper(ticker)
	for _, asset := range cryptoAssets {
		if strings.Contains(upper, asset) {
			return asset
		}
	}
	return ""
}

// validateStrikes checks a market's strike bounds: at least one of
// floor/cap must be present, and when both are they must differ.
func validateStrikes(m rest.Market) error {
	if m.FloorStrike == nil && m.CapStrike == nil {
		return fmt.Errorf("market %s has neither floor nor cap strike", m.Ticker)
	}
	if m.FloorStrike != nil && m.CapStrike != nil && *m.FloorStrike == *m.CapStrike {
		return fmt.Errorf("market %s has floor equal to cap (%v)", m.Ticker, *m.FloorStrike)
	}
	return nil
}

// validateCryptoMarket applies the crypto-specific rules: a month-code
// segment in the ticker, a known underlying asset, and a valid strike
// type.
func validateCryptoMarket(m rest.Market) error {
	if !monthCodeRe.MatchString(strings.ToUpper(m.Ticker)) {
		return fmt.Errorf("crypto market %s missing month code", m.Ticker)
	}
	if cryptoAsset(m.Ticker) == "" {
		return fmt.Errorf("crypto market %s references unknown asset", m.Ticker)
	}
	if m.StrikeType != "" && !validStrikeTypes[m.StrikeType] {
		return fmt.Errorf("crypto market %s has invalid strike type %q", m.Ticker, m.StrikeType)
	}
	return nil
}

// validateWeatherMarket restricts weather markets to whitelisted
// stations. The station code is the leading segment of the event
// ticker after any KX prefix, e.g. KXHIGHNY -> NY lookup by suffix.
func validateWeatherMarket(m rest.Market, stations map[string]string) error {
	ticker := strings.ToUpper(m.EventTicker)
	if ticker == "" {
		ticker = strings.ToUpper(m.Ticker)
	}
	for code := range stations {
		if strings.Contains(ticker, strings.ToUpper(code)) {
			return nil
		}
	}
	return fmt.Errorf("weather market %s references unlisted station", m.Ticker)
}
