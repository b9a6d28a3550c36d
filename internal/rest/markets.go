package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// decodeInto unmarshals a raw JSON object, failing on empty input.
func decodeInto(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(raw, v)
}

// GetExchangeStatus fetches exchange/trading availability.
func (c *Client) GetExchangeStatus(ctx context.Context) (*ExchangeStatus, error) {
	var resp ExchangeStatus
	if err := c.getJSON(ctx, APIBasePath+"/exchange/status", nil, &resp); err != nil {
		return nil, fmt.Errorf("get exchange status: %w", err)
	}
	return &resp, nil
}

// GetMarkets fetches a page of markets.
func (c *Client) GetMarkets(ctx context.Context, params MarketsParams) (*MarketsResponse, error) {
	query := url.Values{}
	if params.Limit > 0 {
		query.Set("limit", strconv.Itoa(params.Limit))
	}
	if params.Cursor != "" {
		query.Set("cursor", params.Cursor)
	}
	if params.Status != "" {
		query.Set("status", params.Status)
	}
	if params.MinCloseTS > 0 {
		query.Set("min_close_ts", strconv.FormatInt(params.MinCloseTS, 10))
	}
	if params.MaxCloseTS > 0 {
		query.Set("max_close_ts", strconv.FormatInt(params.MaxCloseTS, 10))
	}

	var resp MarketsResponse
	if err := c.getJSON(ctx, APIBasePath+"/markets", query, &resp); err != nil {
		return nil, fmt.Errorf("get markets: %w", err)
	}

	for i := range resp.Markets {
		resp.Markets[i].Ticker = strings.ToUpper(resp.Markets[i].Ticker)
	}
	return &resp, nil
}

// GetEvent fetches a single event with its nested markets.
func (c *Client) GetEvent(ctx context.Context, eventTicker string) (*Event, error) {
	if eventTicker == "" {
		return nil, fmt.Errorf("get event: event ticker is required")
	}

	query := url.Values{}
	query.Set("with_nested_markets", "true")

	var resp EventResponse
	if err := c.getJSON(ctx, APIBasePath+"/events/"+eventTicker, query, &resp); err != nil {
		return nil, fmt.Errorf("get event %s: %w", eventTicker, err)
	}
	if resp.Event.EventTicker == "" {
		return nil, fmt.Errorf("get event %s: response missing event_ticker", eventTicker)
	}

	// Some API versions return markets beside the event rather than
	// nested inside it.
	if len(resp.Event.Markets) == 0 && len(resp.Markets) > 0 {
		resp.Event.Markets = resp.Markets
	}
	for i := range resp.Event.Markets {
		resp.Event.Markets[i].Ticker = strings.ToUpper(resp.Event.Markets[i].Ticker)
	}
	return &resp.Event, nil
}

// GetSeries fetches a single series by ticker.
func (c *Client) GetSeries(ctx context.Context, seriesTicker string) (*Series, error) {
	if seriesTicker == "" {
		return nil, fmt.Errorf("get series: series ticker is required")
	}

	var resp SeriesResponse
	if err := c.getJSON(ctx, APIBasePath+"/series/"+seriesTicker, nil, &resp); err != nil {
		return nil, fmt.Errorf("get series %s: %w", seriesTicker, err)
	}
	return &resp.Series, nil
}

// ListSeries fetches all series for a category.
func (c *Client) ListSeries(ctx context.Context, category string) ([]Series, error) {
	query := url.Values{}
	if category != "" {
		query.Set("category", category)
	}

	var resp SeriesListResponse
	if err := c.getJSON(ctx, APIBasePath+"/series", query, &resp); err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	return resp.Series, nil
}
