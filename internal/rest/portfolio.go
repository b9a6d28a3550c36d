package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GetBalance fetches the portfolio balance.
func (c *Client) GetBalance(ctx context.Context) (*Balance, error) {
	var resp Balance
	if err := c.getJSON(ctx, APIBasePath+"/portfolio/balance", nil, &resp); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &resp, nil
}

// GetPositions fetches a page of market positions.
func (c *Client) GetPositions(ctx context.Context, cursor string) (*PositionsResponse, error) {
	query := url.Values{}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp PositionsResponse
	if err := c.getJSON(ctx, APIBasePath+"/portfolio/positions", query, &resp); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return &resp, nil
}

// CreateOrder submits an order. The request is validated before it goes
// on the wire.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var resp OrderResponse
	if err := c.postJSON(ctx, APIBasePath+"/portfolio/orders", req, &resp); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if resp.Order.OrderID == "" {
		return nil, fmt.Errorf("create order: response missing order_id")
	}
	return &resp.Order, nil
}

// GetOrder fetches a single order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("get order: order ID is required")
	}

	var resp OrderResponse
	if err := c.getJSON(ctx, APIBasePath+"/portfolio/orders/"+orderID, nil, &resp); err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return &resp.Order, nil
}

// CancelOrder cancels an order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, fmt.Errorf("cancel order: order ID is required")
	}

	raw, err := c.APIRequest(ctx, http.MethodDelete, APIBasePath+"/portfolio/orders/"+orderID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	var resp OrderResponse
	if err := decodeInto(raw, &resp); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return &resp.Order, nil
}

// GetFills fetches a page of fills, optionally scoped to one ticker.
func (c *Client) GetFills(ctx context.Context, ticker, cursor string) (*FillsResponse, error) {
	query := url.Values{}
	if ticker != "" {
		query.Set("ticker", ticker)
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp FillsResponse
	if err := c.getJSON(ctx, APIBasePath+"/portfolio/fills", query, &resp); err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	return &resp, nil
}

// GetAllFills paginates through every fill for a ticker.
func (c *Client) GetAllFills(ctx context.Context, ticker string) ([]Fill, error) {
	var all []Fill
	cursor := ""

	for {
		resp, err := c.GetFills(ctx, ticker, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Fills...)

		if resp.Cursor == "" {
			return all, nil
		}
		cursor = resp.Cursor
	}
}
