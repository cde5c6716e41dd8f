// Package engine implements the live trading cycles: entry, exit, panic,
// the position ledger and the session scheduler.
package engine

import (
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// ExitParams are the thresholds the exit rules evaluate, as fractions.
// A zero PanicStopPct disables the panic rule (the normal 15-minute cycle
// never applies it; the panic cycle and the backtest simulator do).
type ExitParams struct {
	TakeProfitPct   float64
	StopLossPct     float64
	TrailingStopPct float64
	PanicStopPct    float64
}

// DecideExit evaluates the exit rules for one position. peak must already
// include the current price (callers update the peak first). When several
// conditions hold at once the recorded reason follows the fixed precedence
// TakeProfit > TrailingStop > Panic > StopLoss; the close action is the same
// either way.
func DecideExit(entry, current, peak float64, p ExitParams) types.ExitDecision {
	plPct := (current - entry) / entry

	if plPct >= p.TakeProfitPct {
		return types.ExitDecision{Reason: types.ExitTakeProfit, PLPct: plPct}
	}
	if peak > 0 && current < peak*(1-p.TrailingStopPct) {
		drawdown := (peak - current) / peak
		return types.ExitDecision{Reason: types.ExitTrailingStop, PLPct: plPct, DrawdownPct: drawdown}
	}
	if p.PanicStopPct > 0 && plPct <= -p.PanicStopPct {
		return types.ExitDecision{Reason: types.ExitPanic, PLPct: plPct}
	}
	if plPct <= -p.StopLossPct {
		return types.ExitDecision{Reason: types.ExitStopLoss, PLPct: plPct}
	}
	return types.ExitDecision{Reason: types.ExitHold, PLPct: plPct}
}
