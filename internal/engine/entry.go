package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/internal/history"
	"github.com/atlas-desktop/intraday-trader/internal/strategy"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// RunEntryCycle evaluates every watchlist symbol once and places at most one
// order per symbol. Per-symbol failures are logged and skipped; a failure of
// the cycle-wide broker reads skips the whole cycle until the next cadence.
func (e *Engine) RunEntryCycle(ctx context.Context, now time.Time) {
	start := time.Now()
	defer e.observeCycle("entry", start)

	positions, err := e.broker.GetPositions(ctx)
	if err != nil {
		e.recordBrokerError(err)
		e.metrics.CyclesSkipped.WithLabelValues("entry").Inc()
		e.logger.Warn("entry cycle skipped: positions unavailable", zap.Error(err))
		return
	}
	openOrders, err := e.broker.GetOpenOrders(ctx)
	if err != nil {
		e.recordBrokerError(err)
		e.metrics.CyclesSkipped.WithLabelValues("entry").Inc()
		e.logger.Warn("entry cycle skipped: open orders unavailable", zap.Error(err))
		return
	}

	e.ledger.Reconcile(positions, now)

	inPosition := make(map[string]bool, len(positions))
	for _, p := range positions {
		inPosition[p.Symbol] = true
	}
	pending := make(map[string]bool, len(openOrders))
	for _, o := range openOrders {
		pending[o.Symbol] = true
	}

	// Relative strength needs the full peer set, so histories for every
	// watchlist symbol are built before any symbol is evaluated.
	e.histories = make(map[string]*history.History, len(e.cfg.Watchlist))
	for _, sym := range e.cfg.Watchlist {
		bars, err := e.broker.GetBars(ctx, sym, broker.Bar15Min, barLookbackDays, barsPerFetch)
		if err != nil {
			e.recordBrokerError(err)
			e.logger.Warn("bar fetch failed", zap.String("symbol", sym), zap.Error(err))
			continue
		}
		h := history.New(barsPerFetch)
		for _, b := range bars {
			h.AppendBar(b.Close, b.High, b.Low, b.Volume)
		}
		e.histories[sym] = h
	}

	for _, sym := range e.cfg.Watchlist {
		if _, ok := e.histories[sym]; !ok {
			// Fetch already failed above; the symbol waits for the next
			// cycle rather than being retried within this one.
			continue
		}
		e.TryEnter(ctx, sym, now, inPosition, pending)
	}
}

// TryEnter runs the per-symbol entry pipeline: snapshot, signal, eligibility,
// order. The inPosition set is mutated on broker acceptance so a repeated
// invocation for the same symbol within one cycle is blocked; across cycles
// the sets are re-derived from the broker, never carried over.
func (e *Engine) TryEnter(ctx context.Context, sym string, now time.Time, inPosition, pending map[string]bool) types.EntryEligibility {
	h, ok := e.histories[sym]
	if !ok {
		bars, err := e.broker.GetBars(ctx, sym, broker.Bar15Min, barLookbackDays, barsPerFetch)
		if err != nil {
			e.recordBrokerError(err)
			e.logger.Warn("bar fetch failed", zap.String("symbol", sym), zap.Error(err))
			return types.EntryEligibility{Code: types.NoSignal}
		}
		h = history.New(barsPerFetch)
		for _, b := range bars {
			h.AppendBar(b.Close, b.High, b.Low, b.Volume)
		}
		e.histories[sym] = h
	}

	if inPosition[sym] || pending[sym] {
		// Still routed through the filter so the block reason is recorded
		// uniformly.
		eligibility := EvaluateEligibility(EligibilityInput{
			InPosition:   inPosition[sym],
			PendingOrder: !inPosition[sym] && pending[sym],
		})
		e.recordBlockedEntry(sym, eligibility, now)
		return eligibility
	}

	snap, err := e.broker.GetSnapshot(ctx, sym)
	if err != nil {
		e.recordBrokerError(err)
		e.logger.Warn("snapshot fetch failed", zap.String("symbol", sym), zap.Error(err))
		return types.EntryEligibility{Code: types.NoSignal}
	}
	h.AppendTrade(snap.Price, snap.TradeTime)

	sig, outcome := strategy.Select(h, e.histories, e.enabled, e.cfg.MinSignalConfidence)

	eligibility := EvaluateEligibility(EligibilityInput{
		Now:                 now,
		Snapshot:            snap,
		History:             h,
		CooldownUntil:       e.cooldowns[sym],
		SignalOutcome:       outcome,
		MaxSpreadBps:        e.cfg.MaxSpreadBps,
		MinVolumeRatio:      e.cfg.MinVolumeRatio,
		MinEdgeBps:          e.cfg.MinEdgeBps,
		SlippageBufferBps:   e.cfg.SlippageBufferBps,
		AdverseSelectionBps: e.cfg.AdverseSelectionBps,
	})
	if eligibility.Code != types.Eligible {
		e.recordBlockedEntry(sym, eligibility, now)
		return eligibility
	}

	coid := EncodeClientOrderID(sym, sig.Strategy, now,
		e.cfg.TakeProfitPct, e.cfg.StopLossPct, e.cfg.TrailingStopPct)
	order, err := e.broker.PlaceMarketOrder(ctx, sym, types.OrderSideBuy, e.cfg.NotionalPerTrade, coid)
	if err != nil {
		// Rejections are terminal for this attempt: a retry could succeed
		// alongside the first and duplicate the position.
		e.recordBrokerError(err)
		e.logger.Warn("order placement failed",
			zap.String("symbol", sym),
			zap.String("strategy", sig.Strategy),
			zap.Error(err),
		)
		return eligibility
	}
	if !order.Status.Accepted() {
		e.logger.Warn("order not accepted",
			zap.String("symbol", sym),
			zap.String("status", string(order.Status)),
		)
		return eligibility
	}

	pos := types.OpenPosition{
		Symbol:        sym,
		Strategy:      sig.Strategy,
		EntryPrice:    snap.Price,
		EntryTime:     now,
		PeakPrice:     snap.Price,
		ClientOrderID: coid,
	}
	e.ledger.Record(pos)
	// Transiently marks the symbol in use for the remainder of this cycle.
	inPosition[sym] = true

	e.metrics.OrdersPlaced.WithLabelValues(sig.Strategy).Inc()
	if err := e.journal.RecordEntry(e.sessionID, pos); err != nil {
		e.logger.Warn("journal entry failed", zap.Error(err))
	}
	e.events.Publish("entry", pos)
	e.logger.Info("entered position",
		zap.String("symbol", sym),
		zap.String("strategy", sig.Strategy),
		zap.Float64("price", snap.Price),
		zap.String("reason", sig.Reason),
	)
	return eligibility
}

func (e *Engine) recordBlockedEntry(sym string, eligibility types.EntryEligibility, now time.Time) {
	e.metrics.EntriesBlocked.WithLabelValues(string(eligibility.Code)).Inc()
	if err := e.journal.RecordBlocked(e.sessionID, sym, eligibility, now); err != nil {
		e.logger.Warn("journal blocked-entry failed", zap.Error(err))
	}
	e.logger.Debug("entry blocked",
		zap.String("symbol", sym),
		zap.String("reason", eligibility.String()),
	)
}
