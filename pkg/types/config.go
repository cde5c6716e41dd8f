// Package types provides configuration types for the trading engine.
package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeOfDay is a wall-clock instant within the trading day, interpreted in
// the session timezone.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ParseTimeOfDay parses "HH:MM" in 24-hour form.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

// On anchors the time of day to the date of t in t's location.
func (d TimeOfDay) On(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), d.Hour, d.Minute, 0, 0, t.Location())
}

// Before reports whether d is strictly earlier in the day than other.
func (d TimeOfDay) Before(other TimeOfDay) bool {
	return d.Hour*60+d.Minute < other.Hour*60+other.Minute
}

func (d TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute)
}

// BrokerConfig holds broker adapter credentials and endpoints. Credentials
// come from the environment, never from the config file.
type BrokerConfig struct {
	APIKey    string `json:"-"`
	APISecret string `json:"-"`
	BaseURL   string `json:"baseUrl"`
	DataURL   string `json:"dataUrl"`
	Paper     bool   `json:"paper"`
}

// ServerConfig configures the diagnostics HTTP server.
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"readTimeout"`
	WriteTimeout time.Duration `json:"writeTimeout"`
}

// Config is the closed configuration surface of the engine, captured
// immutably at startup.
type Config struct {
	Watchlist        []string        `json:"watchlist"`
	NotionalPerTrade decimal.Decimal `json:"notionalPerTrade"`

	CalibrationDays   int `json:"calibrationDays"`
	MinTradesToEnable int `json:"minTradesToEnable"`

	// Exit thresholds, as fractions (0.02 = 2%).
	TakeProfitPct   float64 `json:"takeProfitPct"`
	StopLossPct     float64 `json:"stopLossPct"`
	TrailingStopPct float64 `json:"trailingStopPct"`
	PanicStopPct    float64 `json:"panicStopPct"`

	// Entry eligibility.
	MaxSpreadBps        float64 `json:"maxSpreadBps"`
	MinVolumeRatio      float64 `json:"minVolumeRatio"`
	MinEdgeBps          float64 `json:"minEdgeBps"`
	SlippageBufferBps   float64 `json:"slippageBufferBps"`
	AdverseSelectionBps float64 `json:"adverseSelectionBps"`
	MinSignalConfidence float64 `json:"minSignalConfidence"`

	// Time-of-day gates, in the session timezone.
	Timezone          string    `json:"timezone"`
	RiskOnTime        TimeOfDay `json:"riskOnTime"`
	NoMoreEntriesTime TimeOfDay `json:"noMoreEntriesTime"`
	EODCutoffTime     TimeOfDay `json:"eodCutoffTime"`

	// Backtest spread constant, as a fraction. Distinct from MaxSpreadBps.
	BacktestSpreadPct float64 `json:"backtestSpreadPct"`

	Broker      BrokerConfig `json:"broker"`
	Server      ServerConfig `json:"server"`
	JournalPath string       `json:"journalPath"`
}

// Validate enforces the startup assertions. A failure here must abort the
// process before the main loop starts.
func (c *Config) Validate() error {
	if len(c.Watchlist) == 0 {
		return fmt.Errorf("watchlist is empty")
	}
	seen := make(map[string]bool, len(c.Watchlist))
	for _, sym := range c.Watchlist {
		if sym == "" {
			return fmt.Errorf("watchlist contains an empty symbol")
		}
		if seen[sym] {
			return fmt.Errorf("watchlist contains duplicate symbol %s", sym)
		}
		seen[sym] = true
	}
	if !c.NotionalPerTrade.IsPositive() {
		return fmt.Errorf("notional_per_trade must be positive, got %s", c.NotionalPerTrade)
	}
	if c.CalibrationDays <= 0 {
		return fmt.Errorf("calibration_days must be positive")
	}
	if c.MinTradesToEnable <= 0 {
		return fmt.Errorf("min_trades_to_enable must be positive")
	}
	if !(c.StopLossPct > 0) {
		return fmt.Errorf("stop_loss_pct must be positive")
	}
	if !(c.PanicStopPct > c.StopLossPct) {
		return fmt.Errorf("panic_stop_pct (%.4f) must exceed stop_loss_pct (%.4f)",
			c.PanicStopPct, c.StopLossPct)
	}
	if !(c.TakeProfitPct > 0) {
		return fmt.Errorf("take_profit_pct must be positive")
	}
	if !(c.TrailingStopPct >= c.TakeProfitPct) {
		return fmt.Errorf("trailing_stop_pct (%.4f) must be at least take_profit_pct (%.4f)",
			c.TrailingStopPct, c.TakeProfitPct)
	}
	if c.MaxSpreadBps <= 0 {
		return fmt.Errorf("max_spread_bps must be positive")
	}
	if c.MinVolumeRatio <= 0 {
		return fmt.Errorf("min_volume_ratio must be positive")
	}
	if c.MinSignalConfidence <= 0 || c.MinSignalConfidence > 1 {
		return fmt.Errorf("min_signal_confidence must be in (0,1]")
	}
	if c.BacktestSpreadPct < 0 {
		return fmt.Errorf("backtest_spread_pct must not be negative")
	}
	if !c.RiskOnTime.Before(c.NoMoreEntriesTime) {
		return fmt.Errorf("risk_on_time %s must precede no_more_entries_time %s",
			c.RiskOnTime, c.NoMoreEntriesTime)
	}
	if !c.NoMoreEntriesTime.Before(c.EODCutoffTime) {
		return fmt.Errorf("no_more_entries_time %s must precede eod_cutoff_time %s",
			c.NoMoreEntriesTime, c.EODCutoffTime)
	}
	if c.Timezone == "" {
		return fmt.Errorf("timezone is required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the session timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		panic(err)
	}
	return loc
}
