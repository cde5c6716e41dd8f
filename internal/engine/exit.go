package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// RunExitCycle evaluates take-profit, stop-loss and trailing-stop for every
// open position on the 15-minute cadence. A symbol whose snapshot is
// unavailable is skipped and handled next cycle.
func (e *Engine) RunExitCycle(ctx context.Context, now time.Time) {
	start := time.Now()
	defer e.observeCycle("exit", start)

	for _, pos := range e.ledger.Positions() {
		snap, err := e.broker.GetSnapshot(ctx, pos.Symbol)
		if err != nil {
			e.recordBrokerError(err)
			e.logger.Warn("exit snapshot failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}

		peak := e.ledger.UpdatePeak(pos.Symbol, snap.Price)
		decision := DecideExit(pos.EntryPrice, snap.Price, peak, e.exitParams())
		if decision.Hold() {
			continue
		}
		e.closePosition(ctx, pos.Symbol, decision, now)
	}
}

// RunPanicCycle runs every minute at :35s. It applies the catastrophic-loss
// stop to each position and, past the end-of-day cutoff, flattens everything
// and latches entries off for the remainder of the session.
func (e *Engine) RunPanicCycle(ctx context.Context, now time.Time) {
	start := time.Now()
	defer e.observeCycle("panic", start)

	if !e.Flattened() && !now.In(e.loc).Before(e.cfg.EODCutoffTime.On(now.In(e.loc))) {
		e.flattenAll(ctx, now)
		return
	}

	for _, pos := range e.ledger.Positions() {
		snap, err := e.broker.GetSnapshot(ctx, pos.Symbol)
		if err != nil {
			e.recordBrokerError(err)
			e.logger.Warn("panic snapshot failed", zap.String("symbol", pos.Symbol), zap.Error(err))
			continue
		}
		plPct := (snap.Price - pos.EntryPrice) / pos.EntryPrice
		if plPct <= -e.cfg.PanicStopPct {
			e.closePosition(ctx, pos.Symbol, types.ExitDecision{Reason: types.ExitPanic, PLPct: plPct}, now)
		}
	}
}

// flattenAll closes every open equity position. The latch is set only when
// every close in the pass is acknowledged (or the broker reports the symbol
// already flat), so a failed close is re-attempted on the next minute tick.
func (e *Engine) flattenAll(ctx context.Context, now time.Time) {
	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.recordBrokerError(err)
		e.metrics.CyclesSkipped.WithLabelValues("flatten").Inc()
		e.logger.Warn("flatten skipped: positions unavailable", zap.Error(err))
		return
	}
	e.ledger.Reconcile(positions, now)

	failures := 0
	for _, p := range positions {
		plPct := p.UnrealizedPLPC
		if !e.closePositionOrder(ctx, p.Symbol, types.ExitDecision{Reason: types.ExitEndOfDay, PLPct: plPct}, now) {
			failures++
		}
	}

	if failures == 0 {
		e.latchFlattened()
		e.events.Publish("eod_flatten", map[string]interface{}{"positions": len(positions)})
		e.logger.Info("end-of-day flatten complete", zap.Int("closed", len(positions)))
	} else {
		e.logger.Warn("end-of-day flatten incomplete, retrying next minute",
			zap.Int("failures", failures))
	}
}

// closePosition closes one position and records the triggering condition.
func (e *Engine) closePosition(ctx context.Context, symbol string, decision types.ExitDecision, now time.Time) {
	e.closePositionOrder(ctx, symbol, decision, now)
}

// closePositionOrder issues the close and commits the ledger removal only on
// broker acknowledgement. Returns false when the close must be retried.
func (e *Engine) closePositionOrder(ctx context.Context, symbol string, decision types.ExitDecision, now time.Time) bool {
	_, err := e.broker.ClosePosition(ctx, symbol)
	if err != nil {
		if broker.KindOf(err) == broker.KindNotFound {
			// Already flat on the broker side; drop our record.
			e.ledger.Remove(symbol)
			return true
		}
		e.recordBrokerError(err)
		e.logger.Warn("close failed",
			zap.String("symbol", symbol),
			zap.String("reason", string(decision.Reason)),
			zap.Error(err),
		)
		return false
	}

	e.ledger.Remove(symbol)
	e.cooldowns[symbol] = now.Add(cooldownAfterExit)

	e.metrics.ExitsByReason.WithLabelValues(string(decision.Reason)).Inc()
	if err := e.journal.RecordExit(e.sessionID, symbol, decision, now); err != nil {
		e.logger.Warn("journal exit failed", zap.Error(err))
	}
	e.events.Publish("exit", map[string]interface{}{
		"symbol":   symbol,
		"reason":   string(decision.Reason),
		"plPct":    decision.PLPct,
		"drawdown": decision.DrawdownPct,
	})
	e.logger.Info("closed position",
		zap.String("symbol", symbol),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("pl_pct", decision.PLPct),
	)
	return true
}
