// Package broker provides the HTTP client for the broker bridge, the
// external process that mediates with the native trading terminal
// (spec.md §6). The bridge itself is out of scope; only its pinned
// interface is consumed here.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Broker error codes the core must recognize (spec.md §6).
const (
	ErrInvalidStops         = "INVALID_STOPS"
	ErrInvalidVolume        = "INVALID_VOLUME"
	ErrAutoTradingDisabled  = "AUTO_TRADING_DISABLED"
)

// Client wraps a resty HTTP client bound to one broker bridge instance.
// Dispatcher instantiates one Client per account (spec.md §4.10, §5).
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// PriceQuote is the broker's /api/v1/price/{symbol} response.
type PriceQuote struct {
	Bid  decimal.Decimal `json:"bid"`
	Ask  decimal.Decimal `json:"ask"`
	Time time.Time       `json:"time"`
}

// HistoryBar is one element of the /api/v1/history response.
type HistoryBar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
}

// PositionDTO is one element inside /api/v1/open-positions and
// /api/v1/pending-orders.
type PositionDTO struct {
	Symbol    string          `json:"symbol"`
	Ticket    string          `json:"ticket"`
	Direction types.OrderSide `json:"direction"`
	Volume    decimal.Decimal `json:"volume"`
	OpenPrice decimal.Decimal `json:"open_price"`
	SL        *decimal.Decimal `json:"sl,omitempty"`
	TP        *decimal.Decimal `json:"tp,omitempty"`
	OpenTime  time.Time       `json:"open_time"`
	Profit    *decimal.Decimal `json:"profit,omitempty"`
}

type positionsResponse struct {
	Success   bool          `json:"success"`
	Positions []PositionDTO `json:"positions"`
}

// AccountSummary is the broker's /api/v1/account-summary response.
type AccountSummary struct {
	Success     bool            `json:"success"`
	Balance     decimal.Decimal `json:"balance"`
	Equity      decimal.Decimal `json:"equity"`
	Margin      decimal.Decimal `json:"margin"`
	FreeMargin  decimal.Decimal `json:"free_margin"`
	MarginLevel decimal.Decimal `json:"margin_level"`
	Currency    string          `json:"currency"`
}

// LargeOrder is one element of OrderFlowSnapshot.LargeOrders.
type LargeOrder struct {
	Volume decimal.Decimal `json:"volume"`
	Side   types.OrderSide `json:"side"`
	Price  decimal.Decimal `json:"price"`
}

// OrderFlowSnapshot is the broker's /api/v1/order-flow/{symbol} response.
type OrderFlowSnapshot struct {
	Symbol            string          `json:"symbol"`
	Timestamp         time.Time       `json:"timestamp"`
	BidVolume         decimal.Decimal `json:"bid_volume"`
	AskVolume         decimal.Decimal `json:"ask_volume"`
	Delta             decimal.Decimal `json:"delta"`
	DeltaSign         int             `json:"delta_sign"`
	ImbalanceBuyPct   decimal.Decimal `json:"imbalance_buy_pct"`
	ImbalanceSellPct  decimal.Decimal `json:"imbalance_sell_pct"`
	LargeOrders       []LargeOrder    `json:"large_orders"`
}

// OpenTradeRequest is the body of POST /api/v1/trades/open.
type OpenTradeRequest struct {
	Symbol     string          `json:"symbol"`
	Direction  types.OrderSide `json:"direction"`
	OrderKind  types.OrderKind `json:"order_kind"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	LotSize    decimal.Decimal `json:"lot_size"`
	StopLoss   decimal.Decimal `json:"stop_loss"`
	TakeProfit decimal.Decimal `json:"take_profit"`
	Strategy   string          `json:"strategy"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

// TradeResponse is the broker's response to any /api/v1/trades/* call.
type TradeResponse struct {
	Success bool           `json:"success"`
	Ticket  string         `json:"ticket,omitempty"`
	Error   string         `json:"error,omitempty"`
	Context map[string]any `json:"context,omitempty"`
}

// SymbolMetadata is looked up once at boot per spec.md §9's open question:
// pip value and contract size must come from the broker, never guessed.
type SymbolMetadata struct {
	Symbol          string          `json:"symbol"`
	TickSize        decimal.Decimal `json:"tick_size"`
	ContractSize    decimal.Decimal `json:"contract_size"`
	PipValuePerLot  decimal.Decimal `json:"pip_value_per_lot"`
	VolumeStep      decimal.Decimal `json:"volume_step"`
	VolumeMin       decimal.Decimal `json:"volume_min"`
	VolumeMax       decimal.Decimal `json:"volume_max"`
}

// NewClient builds a broker client pinned to baseURL with the spec's 5-10s
// HTTP timeout (spec.md §5).
func NewClient(logger *zap.Logger, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0). // core never retries broker calls; retry semantics are the bridge's (spec.md §6)
		SetHeader("Content-Type", "application/json")

	return &Client{http: httpClient, logger: logger.Named("broker")}
}

// Price fetches the current quote for a symbol.
func (c *Client) Price(ctx context.Context, symbol string) (PriceQuote, error) {
	var out PriceQuote
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/v1/price/" + symbol)
	if err != nil {
		return out, fmt.Errorf("broker price %s: %w", symbol, err)
	}
	if resp.IsError() {
		return out, fmt.Errorf("broker price %s: status %d", symbol, resp.StatusCode())
	}
	return out, nil
}

// History fetches N days of M1 history for a symbol, ascending by time.
func (c *Client) History(ctx context.Context, symbol string, days int) ([]HistoryBar, error) {
	var out []HistoryBar
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":    symbol,
			"timeframe": "M1",
			"days":      fmt.Sprintf("%d", days),
		}).
		SetResult(&out).
		Get("/api/v1/history")
	if err != nil {
		return nil, fmt.Errorf("broker history %s: %w", symbol, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker history %s: status %d", symbol, resp.StatusCode())
	}
	return out, nil
}

// Symbols lists tradable symbols known to the broker.
func (c *Client) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/symbols")
	if err != nil {
		return nil, fmt.Errorf("broker symbols: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker symbols: status %d", resp.StatusCode())
	}
	return out, nil
}

// SymbolInfo fetches per-symbol contract metadata used for pip-value and
// lot-sizing math. Cached by callers at start per spec.md §9.
func (c *Client) SymbolInfo(ctx context.Context, symbol string) (SymbolMetadata, error) {
	var out SymbolMetadata
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/symbols/" + symbol)
	if err != nil {
		return out, fmt.Errorf("broker symbol info %s: %w", symbol, err)
	}
	if resp.IsError() {
		return out, fmt.Errorf("broker symbol info %s: status %d", symbol, resp.StatusCode())
	}
	return out, nil
}

// OpenPositions fetches all open positions from the broker.
func (c *Client) OpenPositions(ctx context.Context) ([]PositionDTO, error) {
	var out positionsResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/open-positions")
	if err != nil {
		return nil, fmt.Errorf("broker open-positions: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker open-positions: status %d", resp.StatusCode())
	}
	return out.Positions, nil
}

// PendingOrders fetches all pending (not-yet-filled) orders.
func (c *Client) PendingOrders(ctx context.Context) ([]PositionDTO, error) {
	var out positionsResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/pending-orders")
	if err != nil {
		return nil, fmt.Errorf("broker pending-orders: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("broker pending-orders: status %d", resp.StatusCode())
	}
	return out.Positions, nil
}

// AccountSummary fetches balance/equity/margin for the bound account.
func (c *Client) AccountSummary(ctx context.Context) (AccountSummary, error) {
	var out AccountSummary
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/account-summary")
	if err != nil {
		return out, fmt.Errorf("broker account-summary: %w", err)
	}
	if resp.IsError() {
		return out, fmt.Errorf("broker account-summary: status %d", resp.StatusCode())
	}
	return out, nil
}

// ErrOrderFlowUnavailable signals a 404 from /order-flow — the feature is
// simply absent for this bridge deployment (spec.md §4.5, §6).
var ErrOrderFlowUnavailable = fmt.Errorf("order-flow endpoint not available")

// OrderFlow fetches the bid/ask volume and large-order tape for a symbol.
func (c *Client) OrderFlow(ctx context.Context, symbol string) (OrderFlowSnapshot, error) {
	var out OrderFlowSnapshot
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/v1/order-flow/" + symbol)
	if err != nil {
		return out, fmt.Errorf("broker order-flow %s: %w", symbol, err)
	}
	if resp.StatusCode() == 404 {
		return out, ErrOrderFlowUnavailable
	}
	if resp.IsError() {
		return out, fmt.Errorf("broker order-flow %s: status %d", symbol, resp.StatusCode())
	}
	return out, nil
}

// OpenTrade submits a new order.
func (c *Client) OpenTrade(ctx context.Context, req OpenTradeRequest) (TradeResponse, error) {
	var out TradeResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(req).SetResult(&out).Post("/api/v1/trades/open")
	if err != nil {
		return out, fmt.Errorf("broker open-trade: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		out.Success = false
		out.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return out, nil
}

// CloseTrade closes an open position.
func (c *Client) CloseTrade(ctx context.Context, ticket, reason string) (TradeResponse, error) {
	body := map[string]string{"ticket": ticket}
	if reason != "" {
		body["reason"] = reason
	}
	var out TradeResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/api/v1/trades/close")
	if err != nil {
		return out, fmt.Errorf("broker close-trade: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		out.Success = false
		out.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return out, nil
}

// CancelOrder cancels a pending order.
func (c *Client) CancelOrder(ctx context.Context, ticket string) (TradeResponse, error) {
	var out TradeResponse
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]string{"ticket": ticket}).
		SetResult(&out).
		Post("/api/v1/trades/cancel")
	if err != nil {
		return out, fmt.Errorf("broker cancel-order: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		out.Success = false
		out.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return out, nil
}

// ModifyTrade updates SL/TP on an open position.
func (c *Client) ModifyTrade(ctx context.Context, ticket string, sl, tp *decimal.Decimal) (TradeResponse, error) {
	body := map[string]any{"ticket": ticket}
	if sl != nil {
		body["stop_loss"] = *sl
	}
	if tp != nil {
		body["take_profit"] = *tp
	}
	var out TradeResponse
	resp, err := c.http.R().SetContext(ctx).SetBody(body).SetResult(&out).Post("/api/v1/trades/modify")
	if err != nil {
		return out, fmt.Errorf("broker modify-trade: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		out.Success = false
		out.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return out, nil
}

// PartialClose closes volumePercent of an open position.
func (c *Client) PartialClose(ctx context.Context, ticket string, volumePercent decimal.Decimal) (TradeResponse, error) {
	var out TradeResponse
	resp, err := c.http.R().SetContext(ctx).
		SetBody(map[string]any{"ticket": ticket, "volume_percent": volumePercent}).
		SetResult(&out).
		Post("/api/v1/trades/partial-close")
	if err != nil {
		return out, fmt.Errorf("broker partial-close: %w", err)
	}
	if resp.IsError() && out.Error == "" {
		out.Success = false
		out.Error = fmt.Sprintf("status %d", resp.StatusCode())
	}
	return out, nil
}
