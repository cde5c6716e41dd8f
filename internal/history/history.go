// Package history maintains rolling per-symbol price series and the derived
// statistics the strategies consume.
package history

import (
	"math"
	"time"
)

// MinCapacity is the smallest series the engine will operate on; the longest
// strategy lookback plus headroom.
const MinCapacity = 100

// sample is one retained observation. Bars contribute a full OHLCV sample;
// trades contribute a degenerate sample (high = low = close, volume carried
// forward) so the four series always stay the same length.
type sample struct {
	close  float64
	high   float64
	low    float64
	volume float64
}

// History is a bounded rolling series for one symbol. Appends are amortized
// O(1); on overflow the oldest sample is dropped.
type History struct {
	buf   []sample
	start int
	count int

	lastTradeTS time.Time
	changePct   float64 // latest one-sample percent change, in percent points
}

// New creates a History with the given capacity (clamped up to MinCapacity).
func New(capacity int) *History {
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &History{buf: make([]sample, capacity)}
}

// Len returns the number of retained samples.
func (h *History) Len() int { return h.count }

// at returns the i-th oldest sample, 0 <= i < count.
func (h *History) at(i int) sample {
	return h.buf[(h.start+i)%len(h.buf)]
}

func (h *History) push(s sample) {
	if h.count == len(h.buf) {
		h.buf[h.start] = s
		h.start = (h.start + 1) % len(h.buf)
		return
	}
	h.buf[(h.start+h.count)%len(h.buf)] = s
	h.count++
}

// AppendBar appends a full bar observation. Prices must be positive; a
// non-positive close is ignored.
func (h *History) AppendBar(close, high, low, volume float64) {
	if close <= 0 || high <= 0 || low <= 0 {
		return
	}
	prev := h.lastClose()
	h.push(sample{close: close, high: high, low: low, volume: volume})
	if prev > 0 {
		h.changePct = (close - prev) / prev * 100
	}
}

// AppendTrade appends the latest trade price, de-duplicated on the trade
// timestamp: a repeated snapshot of an unchanged last trade is a no-op and
// leaves every derived statistic, including ChangePercent, untouched.
func (h *History) AppendTrade(price float64, tradeTS time.Time) {
	if price <= 0 {
		return
	}
	if !h.lastTradeTS.IsZero() && tradeTS.Equal(h.lastTradeTS) {
		return
	}
	prev := h.lastClose()
	vol := 0.0
	if h.count > 0 {
		vol = h.at(h.count - 1).volume
	}
	h.push(sample{close: price, high: price, low: price, volume: vol})
	h.lastTradeTS = tradeTS
	if prev > 0 {
		h.changePct = (price - prev) / prev * 100
	}
}

func (h *History) lastClose() float64 {
	if h.count == 0 {
		return 0
	}
	return h.at(h.count - 1).close
}

// LastClose returns the most recent close, or 0 when empty.
func (h *History) LastClose() float64 { return h.lastClose() }

// LastVolume returns the most recent volume, or 0 when empty.
func (h *History) LastVolume() float64 {
	if h.count == 0 {
		return 0
	}
	return h.at(h.count - 1).volume
}

// ChangePercent returns the latest one-sample percent change, in percent
// points.
func (h *History) ChangePercent() float64 { return h.changePct }

// MovingAverage returns the mean close of the last k samples ending at the
// given offset from the end (0 = latest sample). ok is false when fewer than
// k+offset samples exist.
func (h *History) MovingAverage(k, offset int) (float64, bool) {
	if k <= 0 || h.count < k+offset {
		return 0, false
	}
	sum := 0.0
	for i := h.count - offset - k; i < h.count-offset; i++ {
		sum += h.at(i).close
	}
	return sum / float64(k), true
}

// Volatility returns the population standard deviation of per-sample simple
// returns r_i = (p_i - p_{i-1}) / p_{i-1}. ok is false with fewer than two
// samples.
func (h *History) Volatility() (float64, bool) {
	if h.count < 2 {
		return 0, false
	}
	n := h.count - 1
	returns := make([]float64, 0, n)
	mean := 0.0
	for i := 1; i < h.count; i++ {
		prev := h.at(i - 1).close
		r := (h.at(i).close - prev) / prev
		returns = append(returns, r)
		mean += r
	}
	mean /= float64(n)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(n)
	return math.Sqrt(variance), true
}

// MeanAbsReturn returns the mean absolute per-sample return over the last k
// returns. ok is false when fewer than k+1 samples exist.
func (h *History) MeanAbsReturn(k int) (float64, bool) {
	if k <= 0 || h.count < k+1 {
		return 0, false
	}
	sum := 0.0
	for i := h.count - k; i < h.count; i++ {
		prev := h.at(i - 1).close
		sum += math.Abs((h.at(i).close - prev) / prev)
	}
	return sum / float64(k), true
}

// PriceStdDev returns the population standard deviation of the last k closes.
// This is a price-level statistic for z-score style comparisons; it is not
// the volatility statistic.
func (h *History) PriceStdDev(k int) (float64, bool) {
	if k <= 0 || h.count < k {
		return 0, false
	}
	mean := 0.0
	for i := h.count - k; i < h.count; i++ {
		mean += h.at(i).close
	}
	mean /= float64(k)
	variance := 0.0
	for i := h.count - k; i < h.count; i++ {
		d := h.at(i).close - mean
		variance += d * d
	}
	variance /= float64(k)
	return math.Sqrt(variance), true
}

// RecentNoise returns the mean of (high-low)/close over the last k samples,
// as a fraction. With fewer than k samples it averages what exists; with no
// samples it returns 0.
func (h *History) RecentNoise(k int) float64 {
	if h.count == 0 {
		return 0
	}
	if k > h.count {
		k = h.count
	}
	sum := 0.0
	for i := h.count - k; i < h.count; i++ {
		s := h.at(i)
		sum += (s.high - s.low) / s.close
	}
	return sum / float64(k)
}

// AverageVolume returns the mean volume over the last k samples. ok is false
// when fewer than k samples exist.
func (h *History) AverageVolume(k int) (float64, bool) {
	if k <= 0 || h.count < k {
		return 0, false
	}
	sum := 0.0
	for i := h.count - k; i < h.count; i++ {
		sum += h.at(i).volume
	}
	return sum / float64(k), true
}

// thinVolumeThreshold marks the fraction of rolling average volume below
// which signal confidence starts being scaled down.
const thinVolumeThreshold = 0.75

// maxVolumeConfidenceFactor bounds the divisor so vanishing volume cannot
// blow it up.
const maxVolumeConfidenceFactor = 3.0

// VolumeConfidenceFactor maps the latest/average volume ratio to a divisor
// >= 1 applied to raw signal confidence. It is 1 in normal conditions and
// grows monotonically as volume thins below thinVolumeThreshold of the
// 20-sample average.
func (h *History) VolumeConfidenceFactor() float64 {
	avg, ok := h.AverageVolume(20)
	if !ok || avg <= 0 {
		return 1
	}
	latest := h.LastVolume()
	if latest <= 0 {
		return maxVolumeConfidenceFactor
	}
	ratio := latest / avg
	if ratio >= thinVolumeThreshold {
		return 1
	}
	factor := thinVolumeThreshold / ratio
	if factor > maxVolumeConfidenceFactor {
		factor = maxVolumeConfidenceFactor
	}
	return factor
}
