// Package engine_test provides the fakes shared by the engine tests.
package engine_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/internal/journal"
	"github.com/atlas-desktop/intraday-trader/internal/metrics"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// fakeBroker is an in-memory Broker for engine tests.
type fakeBroker struct {
	mu sync.Mutex

	clockFn func() (types.MarketClock, error)

	snapshots map[string]types.Snapshot
	snapErr   map[string]error

	bars    map[string][]types.Bar
	barsErr map[string]error

	positions    []types.Position
	positionsErr error

	openOrders   []types.Order
	recentOrders []types.Order

	placed      []types.Order
	placeStatus types.OrderStatus
	placeErr    error

	closed   []string
	closeErr map[string]error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		snapshots:   make(map[string]types.Snapshot),
		snapErr:     make(map[string]error),
		bars:        make(map[string][]types.Bar),
		barsErr:     make(map[string]error),
		closeErr:    make(map[string]error),
		placeStatus: types.OrderStatusAccepted,
	}
}

func (f *fakeBroker) GetClock(ctx context.Context) (types.MarketClock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clockFn != nil {
		return f.clockFn()
	}
	return types.MarketClock{IsOpen: true}, nil
}

func (f *fakeBroker) GetSnapshot(ctx context.Context, symbol string) (types.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.snapErr[symbol]; err != nil {
		return types.Snapshot{}, err
	}
	snap, ok := f.snapshots[symbol]
	if !ok {
		return types.Snapshot{}, fmt.Errorf("no snapshot for %s", symbol)
	}
	return snap, nil
}

func (f *fakeBroker) GetBars(ctx context.Context, symbol string, size broker.BarSize, lookbackDays, limit int) ([]types.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.barsErr[symbol]; err != nil {
		return nil, err
	}
	out := make([]types.Bar, len(f.bars[symbol]))
	copy(out, f.bars[symbol])
	return out, nil
}

func (f *fakeBroker) GetPositions(ctx context.Context) ([]types.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionsErr != nil {
		return nil, f.positionsErr
	}
	out := make([]types.Position, len(f.positions))
	copy(out, f.positions)
	return out, nil
}

func (f *fakeBroker) GetOpenOrders(ctx context.Context) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Order, len(f.openOrders))
	copy(out, f.openOrders)
	return out, nil
}

func (f *fakeBroker) GetRecentOrders(ctx context.Context, limit int) ([]types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Order, len(f.recentOrders))
	copy(out, f.recentOrders)
	return out, nil
}

func (f *fakeBroker) PlaceMarketOrder(ctx context.Context, symbol string, side types.OrderSide, notional decimal.Decimal, clientOrderID string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return types.Order{}, f.placeErr
	}
	order := types.Order{
		ID:            fmt.Sprintf("order-%d", len(f.placed)+1),
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Side:          side,
		Status:        f.placeStatus,
		Notional:      notional,
		SubmittedAt:   time.Now(),
	}
	f.placed = append(f.placed, order)
	return order, nil
}

func (f *fakeBroker) ClosePosition(ctx context.Context, symbol string) (types.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.closeErr[symbol]; err != nil {
		return types.Order{}, err
	}
	f.closed = append(f.closed, symbol)
	kept := f.positions[:0]
	for _, p := range f.positions {
		if p.Symbol != symbol {
			kept = append(kept, p)
		}
	}
	f.positions = kept
	return types.Order{Symbol: symbol, Side: types.OrderSideSell, Status: types.OrderStatusFilled}, nil
}

func (f *fakeBroker) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func (f *fakeBroker) closedSymbols() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.closed))
	copy(out, f.closed)
	return out
}

func (f *fakeBroker) setSnapshot(snap types.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[snap.Symbol] = snap
}

// baseConfig mirrors the shipped defaults with a short watchlist.
func baseConfig(watchlist ...string) *types.Config {
	return &types.Config{
		Watchlist:        watchlist,
		NotionalPerTrade: decimal.NewFromInt(1000),

		CalibrationDays:   30,
		MinTradesToEnable: 10,

		TakeProfitPct:   0.02,
		StopLossPct:     0.05,
		TrailingStopPct: 0.30,
		PanicStopPct:    0.06,

		MaxSpreadBps:        30,
		MinVolumeRatio:      0.5,
		MinEdgeBps:          60,
		SlippageBufferBps:   10,
		AdverseSelectionBps: 10,
		MinSignalConfidence: 0.7,

		Timezone:          "America/New_York",
		RiskOnTime:        types.TimeOfDay{Hour: 10, Minute: 0},
		NoMoreEntriesTime: types.TimeOfDay{Hour: 15, Minute: 30},
		EODCutoffTime:     types.TimeOfDay{Hour: 15, Minute: 50},

		BacktestSpreadPct: 0.0006,
		JournalPath:       "trader.db",
	}
}

func enabledConfigs() []types.StrategyConfig {
	return []types.StrategyConfig{
		{Name: "ma_crossover", Enabled: true, TradesClosed: 12},
		{Name: "mean_reversion", Enabled: true, TradesClosed: 11},
		{Name: "volatility_breakout", Enabled: true, TradesClosed: 10},
		{Name: "relative_strength", Enabled: true, TradesClosed: 10},
		{Name: "volume_surge", Enabled: true, TradesClosed: 10},
	}
}

type testEngine struct {
	engine  *engine.Engine
	ledger  *engine.Ledger
	broker  *fakeBroker
	metrics *metrics.Metrics
	reg     *prometheus.Registry
}

func newTestEngine(t *testing.T, cfg *types.Config, fb *fakeBroker, strategies []types.StrategyConfig) *testEngine {
	t.Helper()
	logger := zap.NewNop()

	jnl, err := journal.Open(logger, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jnl.Close() })

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	ledger := engine.NewLedger(logger)

	eng := engine.New(logger, cfg, fb, ledger, jnl, m, nil, "test-session", strategies)
	return &testEngine{engine: eng, ledger: ledger, broker: fb, metrics: m, reg: reg}
}

// etDate builds a wall-clock instant on the test trading day in New York.
func etDate(t *testing.T, hour, minute, second int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2024, 3, 4, hour, minute, second, 0, loc)
}
