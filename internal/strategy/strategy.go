// Package strategy provides the signal evaluators.
//
// Each evaluator is a pure function of a price history (and, for relative
// strength, the peer set). Evaluators never retain references to their
// inputs. Precedence between fired signals is fixed: the first
// fired-and-enabled signal in the Precedence order wins for a symbol within
// one cycle.
package strategy

import (
	"fmt"
	"math"

	"github.com/atlas-desktop/intraday-trader/internal/history"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// Strategy names, also used inside client order ids.
const (
	MACrossover        = "ma_crossover"
	MeanReversion      = "mean_reversion"
	VolatilityBreakout = "volatility_breakout"
	RelativeStrength   = "relative_strength"
	VolumeSurge        = "volume_surge"
)

// Precedence is the fixed evaluation and tie-break order.
var Precedence = []string{
	MACrossover,
	MeanReversion,
	VolatilityBreakout,
	RelativeStrength,
	VolumeSurge,
}

// Evaluator produces a signal from a history and the peer set.
type Evaluator func(h *history.History, peers map[string]*history.History) types.StrategySignal

var evaluators = map[string]Evaluator{
	MACrossover:        evalMACrossover,
	MeanReversion:      evalMeanReversion,
	VolatilityBreakout: evalVolatilityBreakout,
	RelativeStrength:   evalRelativeStrength,
	VolumeSurge:        evalVolumeSurge,
}

// Lookup returns the evaluator for a strategy name.
func Lookup(name string) (Evaluator, bool) {
	e, ok := evaluators[name]
	return e, ok
}

// momentumFamily marks the strategies suppressed in high-noise regimes.
var momentumFamily = map[string]bool{
	MACrossover:        true,
	VolatilityBreakout: true,
	VolumeSurge:        true,
}

// Regime gate thresholds on recent noise, as fractions.
const (
	highNoiseThreshold = 0.015
	lowNoiseThreshold  = 0.005
	noiseLookback      = 10
)

func noBuy(name, reason string) types.StrategySignal {
	return types.StrategySignal{Strategy: name, ShouldBuy: false, Reason: reason}
}

// evalMACrossover fires when the 5-sample MA crosses above the 20-sample MA
// on the current sample.
func evalMACrossover(h *history.History, _ map[string]*history.History) types.StrategySignal {
	if h.Len() < 21 {
		return noBuy(MACrossover, "insufficient history")
	}
	fastPrev, ok1 := h.MovingAverage(5, 1)
	slowPrev, ok2 := h.MovingAverage(20, 1)
	fastCur, ok3 := h.MovingAverage(5, 0)
	slowCur, ok4 := h.MovingAverage(20, 0)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return noBuy(MACrossover, "insufficient history")
	}
	if fastPrev <= slowPrev && fastCur > slowCur {
		return types.StrategySignal{
			Strategy:   MACrossover,
			ShouldBuy:  true,
			Confidence: 0.8,
			Reason:     fmt.Sprintf("5-bar MA %.2f crossed above 20-bar MA %.2f", fastCur, slowCur),
		}
	}
	return noBuy(MACrossover, "no crossover")
}

// evalMeanReversion fires when the close sits more than two price standard
// deviations below the 20-sample mean.
func evalMeanReversion(h *history.History, _ map[string]*history.History) types.StrategySignal {
	if h.Len() < 20 {
		return noBuy(MeanReversion, "insufficient history")
	}
	ma, ok := h.MovingAverage(20, 0)
	if !ok {
		return noBuy(MeanReversion, "insufficient history")
	}
	sigma, ok := h.PriceStdDev(20)
	if !ok || sigma < 1e-4 {
		return noBuy(MeanReversion, "flat series")
	}
	z := (h.LastClose() - ma) / sigma
	if z < -2.0 {
		conf := math.Min(1, math.Abs(z)/2.5)
		return types.StrategySignal{
			Strategy:   MeanReversion,
			ShouldBuy:  true,
			Confidence: conf,
			Reason:     fmt.Sprintf("close %.2f is %.2f sigma below 20-bar mean %.2f", h.LastClose(), -z, ma),
		}
	}
	return noBuy(MeanReversion, "within band")
}

// evalVolatilityBreakout fires when short-run absolute returns expand beyond
// 1.5x the historical return volatility with a positive current change.
func evalVolatilityBreakout(h *history.History, _ map[string]*history.History) types.StrategySignal {
	if h.Len() < 20 {
		return noBuy(VolatilityBreakout, "insufficient history")
	}
	recent, ok := h.MeanAbsReturn(4)
	if !ok {
		return noBuy(VolatilityBreakout, "insufficient history")
	}
	vol, ok := h.Volatility()
	if !ok || vol <= 0 {
		return noBuy(VolatilityBreakout, "no volatility baseline")
	}
	if recent > 1.5*vol && h.ChangePercent() > 0 {
		return types.StrategySignal{
			Strategy:   VolatilityBreakout,
			ShouldBuy:  true,
			Confidence: 0.75,
			Reason:     fmt.Sprintf("recent |return| %.4f vs volatility %.4f, change %+.2f%%", recent, vol, h.ChangePercent()),
		}
	}
	return noBuy(VolatilityBreakout, "no expansion")
}

// relativeStrengthLeadPts is the minimum lead over the peer mean change, in
// percent points.
const relativeStrengthLeadPts = 0.5

// evalRelativeStrength fires when this symbol's latest percent change leads
// the mean change across all tracked peers by at least half a point.
func evalRelativeStrength(h *history.History, peers map[string]*history.History) types.StrategySignal {
	if len(peers) == 0 {
		return noBuy(RelativeStrength, "no peer set")
	}
	mean := 0.0
	for _, p := range peers {
		mean += p.ChangePercent()
	}
	mean /= float64(len(peers))
	lead := h.ChangePercent() - mean
	if lead >= relativeStrengthLeadPts {
		conf := math.Min(1, 0.6+lead/5)
		return types.StrategySignal{
			Strategy:   RelativeStrength,
			ShouldBuy:  true,
			Confidence: conf,
			Reason:     fmt.Sprintf("change %+.2f%% leads peer mean %+.2f%% by %.2f pts", h.ChangePercent(), mean, lead),
		}
	}
	return noBuy(RelativeStrength, "no lead over peers")
}

// evalVolumeSurge fires on at least twice the average volume with a positive
// move. Confidence scales with the volume ratio, capped at 1.
func evalVolumeSurge(h *history.History, _ map[string]*history.History) types.StrategySignal {
	if h.Len() < 20 {
		return noBuy(VolumeSurge, "insufficient history")
	}
	avg, ok := h.AverageVolume(20)
	if !ok || avg <= 0 {
		return noBuy(VolumeSurge, "no volume baseline")
	}
	ratio := h.LastVolume() / avg
	if ratio >= 2.0 && h.ChangePercent() > 0.5 {
		conf := math.Min(1, ratio*0.4)
		return types.StrategySignal{
			Strategy:   VolumeSurge,
			ShouldBuy:  true,
			Confidence: conf,
			Reason:     fmt.Sprintf("volume %.1fx average, change %+.2f%%", ratio, h.ChangePercent()),
		}
	}
	return noBuy(VolumeSurge, "no surge")
}

// Outcome classifies the result of Select for eligibility reporting.
type Outcome int

const (
	// Selected: a fired signal from an enabled strategy cleared the
	// confidence threshold.
	Selected Outcome = iota
	// NoneFired: no strategy produced an actionable signal.
	NoneFired
	// OnlyDisabled: no signal was selected and at least one of the signals
	// that fired came from a strategy disabled this session.
	OnlyDisabled
)

// Select evaluates all strategies for one symbol in precedence order and
// returns the first fired-and-enabled signal whose volume-rescaled
// confidence clears minConfidence. Regime gates are applied first: high
// noise suppresses the momentum family, low noise suppresses mean
// reversion.
func Select(h *history.History, peers map[string]*history.History, enabled map[string]bool, minConfidence float64) (types.StrategySignal, Outcome) {
	noise := h.RecentNoise(noiseLookback)
	factor := h.VolumeConfidenceFactor()

	firedDisabled := false
	for _, name := range Precedence {
		if noise > highNoiseThreshold && momentumFamily[name] {
			continue
		}
		if noise < lowNoiseThreshold && name == MeanReversion {
			continue
		}
		sig := evaluators[name](h, peers)
		if !sig.ShouldBuy {
			continue
		}
		if !enabled[name] {
			firedDisabled = true
			continue
		}
		if sig.Confidence/factor < minConfidence {
			continue
		}
		return sig, Selected
	}
	if firedDisabled {
		return types.StrategySignal{}, OnlyDisabled
	}
	return types.StrategySignal{}, NoneFired
}
