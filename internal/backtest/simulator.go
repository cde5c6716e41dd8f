// Package backtest replays historical bars through one strategy using the
// live exit rules, so calibration results carry over to the session.
package backtest

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/internal/history"
	"github.com/atlas-desktop/intraday-trader/internal/strategy"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// Config parameterizes one simulation run.
type Config struct {
	StartingCapital  decimal.Decimal
	NotionalPerTrade decimal.Decimal

	// SpreadPct is the simulated round-trip spread as a fraction: buys fill
	// at close*(1+spread/2), sells at close*(1-spread/2). Distinct from the
	// live spread-eligibility threshold.
	SpreadPct float64

	Exits               engine.ExitParams
	MinSignalConfidence float64
}

// Simulator replays a bar map for a single strategy.
type Simulator struct {
	logger *zap.Logger
	cfg    Config
}

// NewSimulator creates a simulator.
func NewSimulator(logger *zap.Logger, cfg Config) *Simulator {
	return &Simulator{logger: logger, cfg: cfg}
}

type simPosition struct {
	entry float64 // fill price including the buy-side spread
	qty   float64
	peak  float64
}

// Run simulates cash-only trading of one strategy across all symbols. Bars
// are consumed in two passes per index: first every history is extended with
// bar i, then each symbol is processed for exit-if-held and entry-if-flat.
// Remaining open positions are marked-to-market at the last close.
func (s *Simulator) Run(ctx context.Context, strategyName string, bars map[string][]types.Bar) (types.StrategyStats, error) {
	if _, ok := strategy.Lookup(strategyName); !ok {
		return types.StrategyStats{}, fmt.Errorf("unknown strategy %q", strategyName)
	}

	runID := uuid.New().String()
	stats := types.StrategyStats{Strategy: strategyName}
	enabled := map[string]bool{strategyName: true}

	symbols := make([]string, 0, len(bars))
	maxLen := 0
	for sym, series := range bars {
		symbols = append(symbols, sym)
		if len(series) > maxLen {
			maxLen = len(series)
		}
	}
	sort.Strings(symbols)

	histories := make(map[string]*history.History, len(symbols))
	positions := make(map[string]*simPosition)
	capital := s.cfg.StartingCapital
	notionalF, _ := s.cfg.NotionalPerTrade.Float64()
	lastClose := make(map[string]float64, len(symbols))

	for _, sym := range symbols {
		histories[sym] = history.New(history.MinCapacity)
	}

	for i := 0; i < maxLen; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		// Pass 1: extend every history with bar i.
		for _, sym := range symbols {
			if i >= len(bars[sym]) {
				continue
			}
			b := bars[sym][i]
			histories[sym].AppendBar(b.Close, b.High, b.Low, b.Volume)
			lastClose[sym] = b.Close
		}

		// Pass 2: exits for held symbols, then entries for flat ones.
		for _, sym := range symbols {
			if i >= len(bars[sym]) {
				continue
			}
			close := bars[sym][i].Close

			if pos, held := positions[sym]; held {
				if close > pos.peak {
					pos.peak = close
				}
				decision := engine.DecideExit(pos.entry, close, pos.peak, s.cfg.Exits)
				if !decision.Hold() {
					capital = s.closePosition(&stats, capital, sym, pos, close, decision.Reason)
					delete(positions, sym)
				}
				continue
			}

			sig, outcome := strategy.Select(histories[sym], histories, enabled, s.cfg.MinSignalConfidence)
			if outcome != strategy.Selected {
				continue
			}
			stats.SignalsGenerated++
			if capital.LessThan(s.cfg.NotionalPerTrade) {
				continue
			}
			buy := close * (1 + s.cfg.SpreadPct/2)
			positions[sym] = &simPosition{
				entry: buy,
				qty:   notionalF / buy,
				peak:  buy,
			}
			capital = capital.Sub(s.cfg.NotionalPerTrade)
			stats.TradesExecuted++
			s.logger.Debug("simulated entry",
				zap.String("run", runID),
				zap.String("strategy", strategyName),
				zap.String("symbol", sym),
				zap.Int("bar", i),
				zap.Float64("price", buy),
				zap.String("reason", sig.Reason),
			)
		}
	}

	// Mark remaining positions to market at the last close.
	for _, sym := range symbols {
		if pos, held := positions[sym]; held {
			capital = s.closePosition(&stats, capital, sym, pos, lastClose[sym], types.ExitEndOfDay)
			delete(positions, sym)
		}
	}

	s.logger.Info("simulation complete",
		zap.String("run", runID),
		zap.String("strategy", strategyName),
		zap.Int("signals", stats.SignalsGenerated),
		zap.Int("closed", stats.TradesClosed),
		zap.String("net_profit", stats.NetProfit().StringFixed(2)),
	)
	return stats, nil
}

func (s *Simulator) closePosition(stats *types.StrategyStats, capital decimal.Decimal, sym string, pos *simPosition, close float64, reason types.ExitReason) decimal.Decimal {
	sell := close * (1 - s.cfg.SpreadPct/2)
	proceeds := decimal.NewFromFloat(sell * pos.qty)
	pnl := proceeds.Sub(s.cfg.NotionalPerTrade)

	stats.TradesClosed++
	if pnl.IsPositive() {
		stats.ProfitableTrades++
		stats.TotalProfit = stats.TotalProfit.Add(pnl)
	} else {
		stats.LosingTrades++
		stats.TotalLoss = stats.TotalLoss.Add(pnl.Neg())
	}

	s.logger.Debug("simulated exit",
		zap.String("symbol", sym),
		zap.String("reason", string(reason)),
		zap.Float64("price", sell),
		zap.String("pnl", pnl.StringFixed(2)),
	)
	return capital.Add(proceeds)
}
