package engine

import (
	"time"

	"github.com/atlas-desktop/intraday-trader/internal/history"
	"github.com/atlas-desktop/intraday-trader/internal/strategy"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// EligibilityInput carries everything the entry gate examines. The filter is
// a pure function of this input: identical inputs yield identical outcomes.
type EligibilityInput struct {
	Now           time.Time
	Snapshot      types.Snapshot
	History       *history.History
	InPosition    bool
	PendingOrder  bool
	CooldownUntil time.Time
	SignalOutcome strategy.Outcome

	MaxSpreadBps        float64
	MinVolumeRatio      float64
	MinEdgeBps          float64
	SlippageBufferBps   float64
	AdverseSelectionBps float64
}

// EvaluateEligibility runs the ordered entry gates; the first failing
// condition wins.
func EvaluateEligibility(in EligibilityInput) types.EntryEligibility {
	if in.InPosition {
		return types.EntryEligibility{Code: types.BlockedByInPosition}
	}
	if in.PendingOrder {
		return types.EntryEligibility{Code: types.BlockedByPendingOrder}
	}

	if in.Now.Before(in.CooldownUntil) {
		return types.EntryEligibility{Code: types.BlockedByCooldown, CooldownUntil: in.CooldownUntil}
	}

	spreadBps, err := in.Snapshot.SpreadBps()
	if err != nil || spreadBps > in.MaxSpreadBps {
		return types.EntryEligibility{Code: types.BlockedBySpread, SpreadBps: spreadBps}
	}

	ratio := 0.0
	if avg, ok := in.History.AverageVolume(20); ok && avg > 0 {
		ratio = in.History.LastVolume() / avg
	}
	if ratio < in.MinVolumeRatio {
		return types.EntryEligibility{Code: types.BlockedByVolume, VolumeRatio: ratio}
	}

	netEdgeBps := in.MinEdgeBps - (spreadBps + in.SlippageBufferBps + in.AdverseSelectionBps)
	if netEdgeBps < 0 {
		return types.EntryEligibility{Code: types.BlockedByEdge, EdgeBps: netEdgeBps}
	}

	switch in.SignalOutcome {
	case strategy.NoneFired:
		return types.EntryEligibility{Code: types.NoSignal}
	case strategy.OnlyDisabled:
		return types.EntryEligibility{Code: types.StrategyDisabled}
	}

	return types.EntryEligibility{Code: types.Eligible, SpreadBps: spreadBps, VolumeRatio: ratio, EdgeBps: netEdgeBps}
}
