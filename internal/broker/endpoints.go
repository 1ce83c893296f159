package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// Order parameter constants from the Kite order API.
const (
	VarietyRegular = "regular"
	VarietyAMO     = "amo"
	VarietyCO      = "co"
	VarietyIceberg = "iceberg"
	VarietyAuction = "auction"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeSL     = "SL"
	OrderTypeSLM    = "SL-M"

	ProductCNC  = "CNC"
	ProductNRML = "NRML"
	ProductMIS  = "MIS"

	ValidityDay = "DAY"
	ValidityIOC = "IOC"
	ValidityTTL = "TTL"

	TransactionBuy  = "BUY"
	TransactionSell = "SELL"
)

// OrderParams holds the fields accepted by the place/modify order
// endpoints. Zero-valued optional fields are omitted from the form.
type OrderParams struct {
	TradingSymbol   string
	Exchange        string
	TransactionType string
	OrderType       string
	Quantity        int
	Product         string
	Validity        string
	Price           float64
	TriggerPrice    float64
	DisclosedQty    int
	Tag             string
}

// validate enforces the required order fields.
func (p *OrderParams) validate() error {
	switch {
	case p.TradingSymbol == "":
		return fmt.Errorf("order params: tradingsymbol is required")
	case p.Exchange == "":
		return fmt.Errorf("order params: exchange is required")
	case p.TransactionType == "":
		return fmt.Errorf("order params: transaction_type is required")
	case p.OrderType == "":
		return fmt.Errorf("order params: order_type is required")
	case p.Product == "":
		return fmt.Errorf("order params: product is required")
	case p.Quantity <= 0:
		return fmt.Errorf("order params: quantity must be > 0")
	}
	return nil
}

// form renders the params as the URL-encoded body the API expects.
func (p *OrderParams) form() url.Values {
	v := url.Values{}
	v.Set("tradingsymbol", p.TradingSymbol)
	v.Set("exchange", p.Exchange)
	v.Set("transaction_type", p.TransactionType)
	v.Set("order_type", p.OrderType)
	v.Set("quantity", fmt.Sprintf("%d", p.Quantity))
	v.Set("product", p.Product)
	if p.Validity != "" {
		v.Set("validity", p.Validity)
	}
	if p.Price > 0 {
		v.Set("price", fmt.Sprintf("%g", p.Price))
	}
	if p.TriggerPrice > 0 {
		v.Set("trigger_price", fmt.Sprintf("%g", p.TriggerPrice))
	}
	if p.DisclosedQty > 0 {
		v.Set("disclosed_quantity", fmt.Sprintf("%d", p.DisclosedQty))
	}
	if p.Tag != "" {
		v.Set("tag", p.Tag)
	}
	return v
}

// Margins returns balance and margin for each segment. The session
// manager also uses this call as its token validity probe.
func (c *Client) Margins(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/user/margins", nil)
}

// Profile returns the user profile.
func (c *Client) Profile(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/user/profile", nil)
}

// Orders returns all orders (open and executed) for the day.
func (c *Client) Orders(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/orders", nil)
}

// Trades returns all executed trades for the day.
func (c *Client) Trades(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/trades", nil)
}

// OrderInfo returns the history of a single order.
func (c *Client) OrderInfo(ctx context.Context, orderID string) (json.RawMessage, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order info: orderID is required")
	}
	return c.get(ctx, "/orders/"+url.PathEscape(orderID), nil)
}

// OrderTrades returns the trades generated by a single order.
func (c *Client) OrderTrades(ctx context.Context, orderID string) (json.RawMessage, error) {
	if orderID == "" {
		return nil, fmt.Errorf("order trades: orderID is required")
	}
	return c.get(ctx, "/orders/"+url.PathEscape(orderID)+"/trades", nil)
}

// PlaceOrder places an order of the given variety. A missing tag is
// filled with a generated one so fills can be traced back to this client.
func (c *Client) PlaceOrder(ctx context.Context, variety string, params OrderParams) (json.RawMessage, error) {
	if variety == "" {
		return nil, fmt.Errorf("place order: variety is required")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if params.Tag == "" {
		params.Tag = "kitewire-" + uuid.NewString()[:8]
	}
	return c.requestCtx(ctx, http.MethodPost, c.apiBaseURL+"/orders/"+url.PathEscape(variety), params.form())
}

// ModifyOrder modifies a pending order.
func (c *Client) ModifyOrder(ctx context.Context, variety, orderID string, params OrderParams) (json.RawMessage, error) {
	if variety == "" || orderID == "" {
		return nil, fmt.Errorf("modify order: variety and orderID are required")
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	endpoint := c.apiBaseURL + "/orders/" + url.PathEscape(variety) + "/" + url.PathEscape(orderID)
	return c.requestCtx(ctx, http.MethodPut, endpoint, params.form())
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, variety, orderID string) (json.RawMessage, error) {
	if variety == "" || orderID == "" {
		return nil, fmt.Errorf("cancel order: variety and orderID are required")
	}
	endpoint := c.apiBaseURL + "/orders/" + url.PathEscape(variety) + "/" + url.PathEscape(orderID)
	return c.requestCtx(ctx, http.MethodDelete, endpoint, nil)
}

// DownloadInstruments fetches the full instrument dump. The endpoint is
// unauthenticated and returns raw CSV, not the JSON envelope.
func (c *Client) DownloadInstruments(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBaseURL+"/instruments", http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return io.ReadAll(resp.Body)
}
