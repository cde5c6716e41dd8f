// Package types provides shared type definitions for the trading engine.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus represents the status of an order as reported by the broker
type OrderStatus string

const (
	OrderStatusAccepted   OrderStatus = "accepted"
	OrderStatusPendingNew OrderStatus = "pending_new"
	OrderStatusNew        OrderStatus = "new"
	OrderStatusFilled     OrderStatus = "filled"
	OrderStatusPartial    OrderStatus = "partially_filled"
	OrderStatusCancelled  OrderStatus = "canceled"
	OrderStatusRejected   OrderStatus = "rejected"
	OrderStatusExpired    OrderStatus = "expired"
)

// Accepted reports whether the status counts as broker acceptance of a new
// order. A position is recorded in the ledger as soon as this is true.
func (s OrderStatus) Accepted() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusPendingNew, OrderStatusNew, OrderStatusFilled, OrderStatusPartial:
		return true
	}
	return false
}

// Bar is a single OHLCV observation at a fixed interval (15 minutes unless
// noted).
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Snapshot is the latest market state for one symbol.
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	Price          float64   `json:"price"`
	TradeTime      time.Time `json:"tradeTime"`
	Bid            float64   `json:"bid"`
	Ask            float64   `json:"ask"`
	PrevDailyClose float64   `json:"prevDailyClose"`
	MinuteVolume   float64   `json:"minuteVolume"`
}

// SpreadBps returns the bid/ask spread in basis points, or an error when the
// quote is unusable (crossed or non-positive).
func (s Snapshot) SpreadBps() (float64, error) {
	if s.Bid <= 0 || s.Ask <= 0 {
		return 0, fmt.Errorf("non-positive quote: bid=%.4f ask=%.4f", s.Bid, s.Ask)
	}
	if s.Ask < s.Bid {
		return 0, fmt.Errorf("crossed quote: bid=%.4f ask=%.4f", s.Bid, s.Ask)
	}
	mid := (s.Ask + s.Bid) / 2
	return (s.Ask - s.Bid) / mid * 10000, nil
}

// MarketClock is the broker's view of the trading calendar.
type MarketClock struct {
	IsOpen     bool      `json:"isOpen"`
	NextOpen   time.Time `json:"nextOpen"`
	NextClose  time.Time `json:"nextClose"`
	ServerTime time.Time `json:"serverTime"`
}

// Order is a normalized view of a broker order.
type Order struct {
	ID             string          `json:"id"`
	ClientOrderID  string          `json:"clientOrderId"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Status         OrderStatus     `json:"status"`
	Notional       decimal.Decimal `json:"notional"`
	Qty            float64         `json:"qty"`
	FilledQty      float64         `json:"filledQty"`
	FilledAvgPrice float64         `json:"filledAvgPrice"`
	SubmittedAt    time.Time       `json:"submittedAt"`
	FilledAt       *time.Time      `json:"filledAt,omitempty"`
}

// Position is an open position as reported by the broker.
type Position struct {
	Symbol         string  `json:"symbol"`
	Qty            float64 `json:"qty"`
	AvgEntryPrice  float64 `json:"avgEntryPrice"`
	CurrentPrice   float64 `json:"currentPrice"`
	UnrealizedPL   float64 `json:"unrealizedPl"`
	UnrealizedPLPC float64 `json:"unrealizedPlpc"`
}

// OpenPosition is the ledger's record of a position it manages. The ledger
// owns this record for as long as the broker reports the symbol as held.
type OpenPosition struct {
	Symbol        string    `json:"symbol"`
	Strategy      string    `json:"strategy"`
	EntryPrice    float64   `json:"entryPrice"`
	EntryTime     time.Time `json:"entryTime"`
	PeakPrice     float64   `json:"peakPrice"`
	ClientOrderID string    `json:"clientOrderId"`
}

// StrategySignal is the output of one strategy evaluation.
type StrategySignal struct {
	Strategy   string  `json:"strategy"`
	ShouldBuy  bool    `json:"shouldBuy"`
	Confidence float64 `json:"confidence"` // 0-1
	Reason     string  `json:"reason"`
}

// StrategyStats accumulates the outcome of a simulated (or live) run of one
// strategy.
type StrategyStats struct {
	Strategy         string          `json:"strategy"`
	SignalsGenerated int             `json:"signalsGenerated"`
	TradesExecuted   int             `json:"tradesExecuted"`
	TradesClosed     int             `json:"tradesClosed"`
	ProfitableTrades int             `json:"profitableTrades"`
	LosingTrades     int             `json:"losingTrades"`
	TotalProfit      decimal.Decimal `json:"totalProfit"`
	TotalLoss        decimal.Decimal `json:"totalLoss"`
}

// NetProfit returns total profit minus total loss.
func (s StrategyStats) NetProfit() decimal.Decimal {
	return s.TotalProfit.Sub(s.TotalLoss)
}

// WinRate returns the fraction of closed trades that were profitable.
func (s StrategyStats) WinRate() float64 {
	if s.TradesClosed == 0 {
		return 0
	}
	return float64(s.ProfitableTrades) / float64(s.TradesClosed)
}

// StrategyConfig is the calibrator's verdict for one strategy. It is produced
// once at session start and is immutable for the remainder of the session.
type StrategyConfig struct {
	Name         string          `json:"name"`
	Enabled      bool            `json:"enabled"`
	NetProfit    decimal.Decimal `json:"netProfit"`
	TradesClosed int             `json:"tradesClosed"`
	WinRate      float64         `json:"winRate"`
}

// EligibilityCode identifies the outcome of the entry eligibility filter.
type EligibilityCode string

const (
	Eligible              EligibilityCode = "eligible"
	BlockedByInPosition   EligibilityCode = "in_position"
	BlockedByPendingOrder EligibilityCode = "pending_order"
	BlockedBySpread       EligibilityCode = "spread"
	BlockedByVolume       EligibilityCode = "volume"
	BlockedByEdge         EligibilityCode = "edge"
	BlockedByCooldown     EligibilityCode = "cooldown"
	NoSignal              EligibilityCode = "no_signal"
	StrategyDisabled      EligibilityCode = "strategy_disabled"
)

// EntryEligibility is the tagged outcome of the entry gate for one symbol in
// one cycle. A blocked code carries only its matching detail field; Eligible
// carries the spread, volume ratio and edge it was admitted with.
type EntryEligibility struct {
	Code          EligibilityCode `json:"code"`
	SpreadBps     float64         `json:"spreadBps,omitempty"`
	VolumeRatio   float64         `json:"volumeRatio,omitempty"`
	EdgeBps       float64         `json:"edgeBps,omitempty"`
	CooldownUntil time.Time       `json:"cooldownUntil,omitempty"`
}

func (e EntryEligibility) String() string {
	switch e.Code {
	case BlockedBySpread:
		return fmt.Sprintf("%s (%.1f bps)", e.Code, e.SpreadBps)
	case BlockedByVolume:
		return fmt.Sprintf("%s (ratio %.2f)", e.Code, e.VolumeRatio)
	case BlockedByEdge:
		return fmt.Sprintf("%s (%.1f bps short)", e.Code, -e.EdgeBps)
	case BlockedByCooldown:
		return fmt.Sprintf("%s (until %s)", e.Code, e.CooldownUntil.Format("15:04:05"))
	}
	return string(e.Code)
}

// ExitReason identifies why a position was (or was not) closed.
type ExitReason string

const (
	ExitHold         ExitReason = "hold"
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitPanic        ExitReason = "panic"
	ExitEndOfDay     ExitReason = "end_of_day"
)

// ExitDecision is the tagged outcome of an exit evaluation for one position.
type ExitDecision struct {
	Reason      ExitReason `json:"reason"`
	PLPct       float64    `json:"plPct"`
	DrawdownPct float64    `json:"drawdownPct,omitempty"`
}

// Hold reports whether the decision keeps the position open.
func (d ExitDecision) Hold() bool { return d.Reason == ExitHold }
