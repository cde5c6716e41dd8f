package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// Read timeouts: fast single-entity calls vs bulk history fetches. A hung
// connection must never be able to push a cycle past the session deadlines.
const (
	fastTimeout = 15 * time.Second
	bulkTimeout = 60 * time.Second
)

// AlpacaClient implements Broker against the Alpaca v2 REST API.
type AlpacaClient struct {
	logger    *zap.Logger
	apiKey    string
	apiSecret string
	baseURL   string // trading API, paper or live
	dataURL   string // market data API
	fast      *http.Client
	bulk      *http.Client
}

// NewAlpacaClient creates an Alpaca adapter from broker configuration.
func NewAlpacaClient(logger *zap.Logger, cfg types.BrokerConfig) (*AlpacaClient, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, E(KindAuth, "new_client", "", errors.New("missing API credentials"))
	}
	return &AlpacaClient{
		logger:    logger,
		apiKey:    cfg.APIKey,
		apiSecret: cfg.APISecret,
		baseURL:   cfg.BaseURL,
		dataURL:   cfg.DataURL,
		fast:      &http.Client{Timeout: fastTimeout},
		bulk:      &http.Client{Timeout: bulkTimeout},
	}, nil
}

func (c *AlpacaClient) do(ctx context.Context, client *http.Client, method, rawURL, op, symbol string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, E(KindParse, op, symbol, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, E(KindNetwork, op, symbol, err)
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		// Timeouts surface as network failures so a hung connection is
		// indistinguishable from any other recoverable transport error.
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, E(KindNetwork, op, symbol, fmt.Errorf("request timed out: %w", err))
		}
		return nil, E(KindNetwork, op, symbol, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, E(KindNetwork, op, symbol, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return payload, nil
	}

	kind := KindNetwork
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindAuth
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusUnprocessableEntity:
		kind = KindOrderRejected
	case http.StatusTooManyRequests:
		kind = KindRateLimit
	}
	return nil, E(kind, op, symbol, fmt.Errorf("status %d: %s", resp.StatusCode, string(payload)))
}

// GetClock implements Broker.
func (c *AlpacaClient) GetClock(ctx context.Context) (types.MarketClock, error) {
	payload, err := c.do(ctx, c.fast, http.MethodGet, c.baseURL+"/v2/clock", "get_clock", "", nil)
	if err != nil {
		return types.MarketClock{}, err
	}
	var raw struct {
		Timestamp time.Time `json:"timestamp"`
		IsOpen    bool      `json:"is_open"`
		NextOpen  time.Time `json:"next_open"`
		NextClose time.Time `json:"next_close"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.MarketClock{}, E(KindParse, "get_clock", "", err)
	}
	return types.MarketClock{
		IsOpen:     raw.IsOpen,
		NextOpen:   raw.NextOpen,
		NextClose:  raw.NextClose,
		ServerTime: raw.Timestamp,
	}, nil
}

// GetSnapshot implements Broker.
func (c *AlpacaClient) GetSnapshot(ctx context.Context, symbol string) (types.Snapshot, error) {
	u := fmt.Sprintf("%s/v2/stocks/%s/snapshot", c.dataURL, url.PathEscape(symbol))
	payload, err := c.do(ctx, c.fast, http.MethodGet, u, "get_snapshot", symbol, nil)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return types.Snapshot{}, E(KindInvalidSymbol, "get_snapshot", symbol, err)
		}
		return types.Snapshot{}, err
	}
	var raw struct {
		LatestTrade struct {
			Price float64   `json:"p"`
			Time  time.Time `json:"t"`
		} `json:"latestTrade"`
		LatestQuote struct {
			Bid float64 `json:"bp"`
			Ask float64 `json:"ap"`
		} `json:"latestQuote"`
		MinuteBar struct {
			Volume float64 `json:"v"`
		} `json:"minuteBar"`
		PrevDailyBar struct {
			Close float64 `json:"c"`
		} `json:"prevDailyBar"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.Snapshot{}, E(KindParse, "get_snapshot", symbol, err)
	}
	return types.Snapshot{
		Symbol:         symbol,
		Price:          raw.LatestTrade.Price,
		TradeTime:      raw.LatestTrade.Time,
		Bid:            raw.LatestQuote.Bid,
		Ask:            raw.LatestQuote.Ask,
		PrevDailyClose: raw.PrevDailyBar.Close,
		MinuteVolume:   raw.MinuteBar.Volume,
	}, nil
}

// GetBars implements Broker.
func (c *AlpacaClient) GetBars(ctx context.Context, symbol string, size BarSize, lookbackDays, limit int) ([]types.Bar, error) {
	start := time.Now().AddDate(0, 0, -lookbackDays)
	u := fmt.Sprintf("%s/v2/stocks/%s/bars?timeframe=%s&start=%s&limit=%d&sort=desc&adjustment=split&feed=iex",
		c.dataURL, url.PathEscape(symbol), size, start.UTC().Format(time.RFC3339), limit)
	payload, err := c.do(ctx, c.bulk, http.MethodGet, u, "get_bars", symbol, nil)
	if err != nil {
		if KindOf(err) == KindNotFound {
			return nil, E(KindInvalidSymbol, "get_bars", symbol, err)
		}
		return nil, err
	}
	var raw struct {
		Bars []struct {
			Time   time.Time `json:"t"`
			Open   float64   `json:"o"`
			High   float64   `json:"h"`
			Low    float64   `json:"l"`
			Close  float64   `json:"c"`
			Volume float64   `json:"v"`
		} `json:"bars"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, E(KindParse, "get_bars", symbol, err)
	}
	bars := make([]types.Bar, 0, len(raw.Bars))
	for _, b := range raw.Bars {
		bars = append(bars, types.Bar{
			Timestamp: b.Time,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	// Requested newest first so the limit keeps the most recent bars;
	// returned oldest first.
	if len(bars) > 1 && bars[0].Timestamp.After(bars[len(bars)-1].Timestamp) {
		for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
			bars[i], bars[j] = bars[j], bars[i]
		}
	}
	return bars, nil
}

// alpacaPosition mirrors the wire format: numeric fields arrive as strings.
type alpacaPosition struct {
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	AvgEntryPrice  string `json:"avg_entry_price"`
	CurrentPrice   string `json:"current_price"`
	UnrealizedPL   string `json:"unrealized_pl"`
	UnrealizedPLPC string `json:"unrealized_plpc"`
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// GetPositions implements Broker.
func (c *AlpacaClient) GetPositions(ctx context.Context) ([]types.Position, error) {
	payload, err := c.do(ctx, c.fast, http.MethodGet, c.baseURL+"/v2/positions", "get_positions", "", nil)
	if err != nil {
		return nil, err
	}
	var raw []alpacaPosition
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, E(KindParse, "get_positions", "", err)
	}
	positions := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		positions = append(positions, types.Position{
			Symbol:         p.Symbol,
			Qty:            parseFloat(p.Qty),
			AvgEntryPrice:  parseFloat(p.AvgEntryPrice),
			CurrentPrice:   parseFloat(p.CurrentPrice),
			UnrealizedPL:   parseFloat(p.UnrealizedPL),
			UnrealizedPLPC: parseFloat(p.UnrealizedPLPC),
		})
	}
	return positions, nil
}

// alpacaOrder mirrors the order wire format.
type alpacaOrder struct {
	ID             string     `json:"id"`
	ClientOrderID  string     `json:"client_order_id"`
	Symbol         string     `json:"symbol"`
	Side           string     `json:"side"`
	Status         string     `json:"status"`
	Notional       string     `json:"notional"`
	Qty            string     `json:"qty"`
	FilledQty      string     `json:"filled_qty"`
	FilledAvgPrice string     `json:"filled_avg_price"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	FilledAt       *time.Time `json:"filled_at"`
}

func (o alpacaOrder) toOrder() types.Order {
	notional, _ := decimal.NewFromString(o.Notional)
	return types.Order{
		ID:             o.ID,
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           types.OrderSide(o.Side),
		Status:         types.OrderStatus(o.Status),
		Notional:       notional,
		Qty:            parseFloat(o.Qty),
		FilledQty:      parseFloat(o.FilledQty),
		FilledAvgPrice: parseFloat(o.FilledAvgPrice),
		SubmittedAt:    o.SubmittedAt,
		FilledAt:       o.FilledAt,
	}
}

func (c *AlpacaClient) getOrders(ctx context.Context, op, query string) ([]types.Order, error) {
	payload, err := c.do(ctx, c.bulk, http.MethodGet, c.baseURL+"/v2/orders?"+query, op, "", nil)
	if err != nil {
		return nil, err
	}
	var raw []alpacaOrder
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, E(KindParse, op, "", err)
	}
	orders := make([]types.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// GetOpenOrders implements Broker.
func (c *AlpacaClient) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	return c.getOrders(ctx, "get_open_orders", "status=open&limit=500")
}

// GetRecentOrders implements Broker.
func (c *AlpacaClient) GetRecentOrders(ctx context.Context, limit int) ([]types.Order, error) {
	if limit < 100 {
		limit = 100
	}
	return c.getOrders(ctx, "get_recent_orders", fmt.Sprintf("status=all&direction=desc&limit=%d", limit))
}

// PlaceMarketOrder implements Broker. The order is a day-notional market
// order; fractional quantities are the broker's concern.
func (c *AlpacaClient) PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, notional decimal.Decimal, clientOrderID string) (types.Order, error) {
	body := map[string]interface{}{
		"symbol":          symbol,
		"side":            string(side),
		"type":            "market",
		"time_in_force":   "day",
		"notional":        notional.StringFixed(2),
		"client_order_id": clientOrderID,
	}
	payload, err := c.do(ctx, c.fast, http.MethodPost, c.baseURL+"/v2/orders", "place_market_order", symbol, body)
	if err != nil {
		return types.Order{}, err
	}
	var raw alpacaOrder
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.Order{}, E(KindParse, "place_market_order", symbol, err)
	}
	order := raw.toOrder()
	if order.Status == types.OrderStatusRejected {
		return order, E(KindOrderRejected, "place_market_order", symbol,
			fmt.Errorf("order %s rejected", order.ID))
	}
	c.logger.Debug("order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.String("status", string(order.Status)),
		zap.String("client_order_id", clientOrderID),
	)
	return order, nil
}

// ClosePosition implements Broker.
func (c *AlpacaClient) ClosePosition(ctx context.Context, symbol string) (types.Order, error) {
	u := fmt.Sprintf("%s/v2/positions/%s", c.baseURL, url.PathEscape(symbol))
	payload, err := c.do(ctx, c.fast, http.MethodDelete, u, "close_position", symbol, nil)
	if err != nil {
		return types.Order{}, err
	}
	var raw alpacaOrder
	if err := json.Unmarshal(payload, &raw); err != nil {
		return types.Order{}, E(KindParse, "close_position", symbol, err)
	}
	return raw.toOrder(), nil
}
