// Package calibrate runs the pre-session backtests and decides which
// strategies trade today.
package calibrate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/backtest"
	"github.com/atlas-desktop/intraday-trader/internal/strategy"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// Calibrator evaluates every candidate strategy on the same bar map.
type Calibrator struct {
	logger            *zap.Logger
	simCfg            backtest.Config
	minTradesToEnable int
}

// New creates a calibrator.
func New(logger *zap.Logger, simCfg backtest.Config, minTradesToEnable int) *Calibrator {
	return &Calibrator{logger: logger, simCfg: simCfg, minTradesToEnable: minTradesToEnable}
}

// Run backtests each strategy concurrently over the shared read-only bar map
// and returns one StrategyConfig per strategy, in precedence order. A
// strategy is enabled when its net profit is positive and it closed at least
// minTradesToEnable trades. The result set is immutable for the session.
func (c *Calibrator) Run(ctx context.Context, bars map[string][]types.Bar) ([]types.StrategyConfig, error) {
	configs := make([]types.StrategyConfig, len(strategy.Precedence))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range strategy.Precedence {
		i, name := i, name
		g.Go(func() error {
			sim := backtest.NewSimulator(c.logger, c.simCfg)
			stats, err := sim.Run(gctx, name, bars)
			if err != nil {
				return err
			}
			cfg := types.StrategyConfig{
				Name:         name,
				Enabled:      stats.NetProfit().IsPositive() && stats.TradesClosed >= c.minTradesToEnable,
				NetProfit:    stats.NetProfit(),
				TradesClosed: stats.TradesClosed,
				WinRate:      stats.WinRate(),
			}
			mu.Lock()
			configs[i] = cfg
			mu.Unlock()

			c.logger.Info("strategy calibrated",
				zap.String("strategy", name),
				zap.Bool("enabled", cfg.Enabled),
				zap.String("net_profit", cfg.NetProfit.StringFixed(2)),
				zap.Int("trades_closed", cfg.TradesClosed),
				zap.Float64("win_rate", cfg.WinRate),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return configs, nil
}

// Enabled extracts the enabled-name set from a calibration result.
func Enabled(configs []types.StrategyConfig) map[string]bool {
	enabled := make(map[string]bool, len(configs))
	for _, c := range configs {
		if c.Enabled {
			enabled[c.Name] = true
		}
	}
	return enabled
}
