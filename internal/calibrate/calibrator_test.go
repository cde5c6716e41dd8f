// Package calibrate_test provides tests for the session calibrator.
package calibrate_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/backtest"
	"github.com/atlas-desktop/intraday-trader/internal/calibrate"
	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/internal/strategy"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

func simConfig() backtest.Config {
	return backtest.Config{
		StartingCapital:  decimal.NewFromInt(10000),
		NotionalPerTrade: decimal.NewFromInt(1000),
		SpreadPct:        0,
		Exits: engine.ExitParams{
			TakeProfitPct:   0.02,
			StopLossPct:     0.05,
			TrailingStopPct: 0.30,
			PanicStopPct:    0.06,
		},
		MinSignalConfidence: 0.7,
	}
}

// profitableCrossoverBars produces one clean crossover entry closed by a
// take-profit step.
func profitableCrossoverBars() []types.Bar {
	closes := make([]float64, 0, 30)
	for i := 0; i < 20; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 101, 101*1.02)
	for i := 0; i < 5; i++ {
		closes = append(closes, 101*1.02)
	}

	ts := time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)
	bars := make([]types.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, types.Bar{
			Timestamp: ts.Add(time.Duration(i) * 15 * time.Minute),
			Open:      c, High: c * 1.004, Low: c * 0.996, Close: c,
			Volume: 1000,
		})
	}
	return bars
}

func findConfig(t *testing.T, configs []types.StrategyConfig, name string) types.StrategyConfig {
	t.Helper()
	for _, c := range configs {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("strategy %s missing from calibration result", name)
	return types.StrategyConfig{}
}

func TestCalibrationEnablesProfitableStrategy(t *testing.T) {
	bars := map[string][]types.Bar{"A": profitableCrossoverBars()}

	cal := calibrate.New(zap.NewNop(), simConfig(), 1)
	configs, err := cal.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(configs) != len(strategy.Precedence) {
		t.Fatalf("got %d configs, want %d", len(configs), len(strategy.Precedence))
	}

	crossover := findConfig(t, configs, strategy.MACrossover)
	if !crossover.Enabled {
		t.Error("ma_crossover should be enabled: positive net profit and enough trades")
	}
	if crossover.TradesClosed < 1 {
		t.Errorf("trades closed = %d, want >= 1", crossover.TradesClosed)
	}
	if !crossover.NetProfit.IsPositive() {
		t.Errorf("net profit = %s, want positive", crossover.NetProfit)
	}

	// A strategy with zero signals on this path is disabled by the
	// min-trades rule.
	reversion := findConfig(t, configs, strategy.MeanReversion)
	if reversion.Enabled {
		t.Error("mean_reversion fired no trades and must stay disabled")
	}
	if reversion.TradesClosed != 0 {
		t.Errorf("mean_reversion trades = %d, want 0", reversion.TradesClosed)
	}
}

func TestCalibrationMinTradesGate(t *testing.T) {
	bars := map[string][]types.Bar{"A": profitableCrossoverBars()}

	// One profitable trade is not enough when ten are required.
	cal := calibrate.New(zap.NewNop(), simConfig(), 10)
	configs, err := cal.Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	crossover := findConfig(t, configs, strategy.MACrossover)
	if crossover.Enabled {
		t.Error("one closed trade must not clear a min_trades_to_enable of 10")
	}
}

func TestCalibrationResultOrder(t *testing.T) {
	cal := calibrate.New(zap.NewNop(), simConfig(), 10)
	configs, err := cal.Run(context.Background(), map[string][]types.Bar{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for i, name := range strategy.Precedence {
		if configs[i].Name != name {
			t.Errorf("configs[%d] = %s, want %s", i, configs[i].Name, name)
		}
	}
}

func TestEnabledSetExtraction(t *testing.T) {
	configs := []types.StrategyConfig{
		{Name: "a", Enabled: true},
		{Name: "b", Enabled: false},
	}
	enabled := calibrate.Enabled(configs)
	if !enabled["a"] || enabled["b"] {
		t.Errorf("enabled = %v, want only a", enabled)
	}
}
