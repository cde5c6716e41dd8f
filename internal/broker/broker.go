package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// BarSize selects the bar interval for GetBars.
type BarSize string

const (
	Bar1Min  BarSize = "1Min"
	Bar15Min BarSize = "15Min"
	Bar1Day  BarSize = "1Day"
)

// Broker is the minimal surface the engine needs. Every call is synchronous
// and must enforce a read timeout so a hung connection cannot stall the
// session loop past its deadlines.
type Broker interface {
	// GetClock returns the broker's market calendar state.
	GetClock(ctx context.Context) (types.MarketClock, error)

	// GetSnapshot returns the latest trade, quote, previous daily close and
	// latest-minute volume for one symbol.
	GetSnapshot(ctx context.Context, symbol string) (types.Snapshot, error)

	// GetBars returns up to limit most recent bars of the given size over the
	// lookback window, oldest first.
	GetBars(ctx context.Context, symbol string, size BarSize, lookbackDays, limit int) ([]types.Bar, error)

	// GetPositions returns all currently held positions.
	GetPositions(ctx context.Context) ([]types.Position, error)

	// GetOpenOrders returns all non-terminal orders.
	GetOpenOrders(ctx context.Context) ([]types.Order, error)

	// GetRecentOrders returns the most recent orders in any state, newest
	// first.
	GetRecentOrders(ctx context.Context, limit int) ([]types.Order, error)

	// PlaceMarketOrder submits a fractional-notional market order carrying
	// the given client order id.
	PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, notional decimal.Decimal, clientOrderID string) (types.Order, error)

	// ClosePosition liquidates the full position in one symbol at market.
	ClosePosition(ctx context.Context, symbol string) (types.Order, error)
}
