package rest

import "fmt"

// ExchangeStatus from GET /trade-api/v2/exchange/status
type ExchangeStatus struct {
	ExchangeActive      bool   `json:"exchange_active"`
	TradingActive       bool   `json:"trading_active"`
	EstimatedResumeTime string `json:"exchange_estimated_resume_time,omitempty"`
}

// Balance from GET /trade-api/v2/portfolio/balance
type Balance struct {
	BalanceCents int64 `json:"balance"`
	PayoutCents  int64 `json:"payout"`
}

// Position is one market position.
type Position struct {
	Ticker          string `json:"ticker"`
	Position        int64  `json:"position"`
	MarketExposure  int64  `json:"market_exposure"`
	RealizedPnl     int64  `json:"realized_pnl"`
	TotalTradedCost int64  `json:"total_traded"`
	RestingOrders   int64  `json:"resting_orders_count"`
}

// PositionsResponse from GET /trade-api/v2/portfolio/positions
type PositionsResponse struct {
	MarketPositions []Position `json:"market_positions"`
	Cursor          string     `json:"cursor"`
}

// Order sides and actions accepted by the exchange.
const (
	SideYes = "yes"
	SideNo  = "no"

	ActionBuy  = "buy"
	ActionSell = "sell"

	OrderTypeLimit  = "limit"
	OrderTypeMarket = "market"
)

// OrderRequest creates an order.
type OrderRequest struct {
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Action    string `json:"action"`
	Type      string `json:"type"`
	Count     int64  `json:"count"`
	YesPrice  int64  `json:"yes_price,omitempty"`
	NoPrice   int64  `json:"no_price,omitempty"`
	ClientOID string `json:"client_order_id,omitempty"`
}

// Validate checks enum fields before the request goes on the wire.
func (r OrderRequest) Validate() error {
	if r.Ticker == "" {
		return fmt.Errorf("order: ticker is required")
	}
	if r.Side != SideYes && r.Side != SideNo {
		return fmt.Errorf("order: invalid side %q", r.Side)
	}
	if r.Action != ActionBuy && r.Action != ActionSell {
		return fmt.Errorf("order: invalid action %q", r.Action)
	}
	if r.Type != OrderTypeLimit && r.Type != OrderTypeMarket {
		return fmt.Errorf("order: invalid type %q", r.Type)
	}
	if r.Count <= 0 {
		return fmt.Errorf("order: count must be positive, got %d", r.Count)
	}
	return nil
}

// Order as returned by the exchange.
type Order struct {
	OrderID   string `json:"order_id"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Action    string `json:"action"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	YesPrice  int64  `json:"yes_price"`
	NoPrice   int64  `json:"no_price"`
	Count     int64  `json:"count"`
	Remaining int64  `json:"remaining_count"`
	CreatedAt string `json:"created_time"`
}

// OrderResponse wraps a single order.
type OrderResponse struct {
	Order Order `json:"order"`
}

// Fill is one execution against an order.
type Fill struct {
	TradeID   string `json:"trade_id"`
	OrderID   string `json:"order_id"`
	Ticker    string `json:"ticker"`
	Side      string `json:"side"`
	Action    string `json:"action"`
	Count     int64  `json:"count"`
	YesPrice  int64  `json:"yes_price"`
	NoPrice   int64  `json:"no_price"`
	CreatedAt string `json:"created_time"`
}

// FillsResponse from GET /trade-api/v2/portfolio/fills
type FillsResponse struct {
	Fills  []Fill `json:"fills"`
	Cursor string `json:"cursor"`
}

// Market is a tradeable market from the exchange API. Strikes are
// pointers: absence is meaningful for strike validation downstream.
type Market struct {
	Ticker      string   `json:"ticker"`
	EventTicker string   `json:"event_ticker"`
	Title       string   `json:"title"`
	Status      string   `json:"status"`
	StrikeType  string   `json:"strike_type"`
	FloorStrike *float64 `json:"floor_strike"`
	CapStrike   *float64 `json:"cap_strike"`
	CloseTime   string   `json:"close_time"`
	OpenTime    string   `json:"open_time"`
	Volume      int64    `json:"volume"`
}

// MarketsResponse from GET /trade-api/v2/markets
type MarketsResponse struct {
	Markets []Market `json:"markets"`
	Cursor  string   `json:"cursor"`
}

// Event from GET /trade-api/v2/events/{ticker}
type Event struct {
	EventTicker       string   `json:"event_ticker"`
	SeriesTicker      string   `json:"series_ticker"`
	Title             string   `json:"title"`
	Category          string   `json:"category"`
	MutuallyExclusive bool     `json:"mutually_exclusive"`
	Markets           []Market `json:"markets"`
}

// EventResponse wraps a single event with nested markets.
type EventResponse struct {
	Event   Event    `json:"event"`
	Markets []Market `json:"markets"`
}

// Series from GET /trade-api/v2/series/{ticker}
type Series struct {
	Ticker    string   `json:"ticker"`
	Title     string   `json:"title"`
	Category  string   `json:"category"`
	Frequency string   `json:"frequency"`
	Tags      []string `json:"tags"`
}

// SeriesResponse wraps a single series.
type SeriesResponse struct {
	Series Series `json:"series"`
}

// SeriesListResponse from GET /trade-api/v2/series
type SeriesListResponse struct {
	Series []Series `json:"series"`
}

// MarketsParams filters a markets listing.
type MarketsParams struct {
	Limit      int
	Cursor     string
	Status     string
	MinCloseTS int64
	MaxCloseTS int64
}
