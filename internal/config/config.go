// Package config loads and validates the engine configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TRADER_-prefixed environment variables. Broker credentials come only
// from the environment. The resulting Config is immutable for the session.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

const envPrefix = "TRADER"

// Load reads configuration from the given file path (optional, "" skips the
// file layer) plus environment overrides, and validates the result.
func Load(path string) (*types.Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("watchlist", []string{})
	v.SetDefault("notional_per_trade", "1000")
	v.SetDefault("calibration_days", 30)
	v.SetDefault("min_trades_to_enable", 10)

	v.SetDefault("take_profit_pct", 0.02)
	v.SetDefault("stop_loss_pct", 0.05)
	v.SetDefault("trailing_stop_pct", 0.30)
	v.SetDefault("panic_stop_pct", 0.06)

	v.SetDefault("max_spread_bps", 30.0)
	v.SetDefault("min_volume_ratio", 0.5)
	v.SetDefault("min_edge_bps", 60.0)
	v.SetDefault("slippage_buffer_bps", 10.0)
	v.SetDefault("adverse_selection_bps", 10.0)
	v.SetDefault("min_signal_confidence", 0.7)

	v.SetDefault("timezone", "America/New_York")
	v.SetDefault("risk_on_time", "10:00")
	v.SetDefault("no_more_entries_time", "15:30")
	v.SetDefault("eod_cutoff_time", "15:50")

	v.SetDefault("backtest_spread_pct", 0.0006)

	v.SetDefault("broker.base_url", "https://paper-api.alpaca.markets")
	v.SetDefault("broker.data_url", "https://data.alpaca.markets")
	v.SetDefault("broker.paper", true)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("journal_path", "trader.db")
}

func build(v *viper.Viper) (*types.Config, error) {
	notional, err := decimal.NewFromString(v.GetString("notional_per_trade"))
	if err != nil {
		return nil, fmt.Errorf("invalid notional_per_trade %q: %w", v.GetString("notional_per_trade"), err)
	}

	riskOn, err := types.ParseTimeOfDay(v.GetString("risk_on_time"))
	if err != nil {
		return nil, fmt.Errorf("risk_on_time: %w", err)
	}
	noMore, err := types.ParseTimeOfDay(v.GetString("no_more_entries_time"))
	if err != nil {
		return nil, fmt.Errorf("no_more_entries_time: %w", err)
	}
	eod, err := types.ParseTimeOfDay(v.GetString("eod_cutoff_time"))
	if err != nil {
		return nil, fmt.Errorf("eod_cutoff_time: %w", err)
	}

	cfg := &types.Config{
		Watchlist:        watchlist(v),
		NotionalPerTrade: notional,

		CalibrationDays:   v.GetInt("calibration_days"),
		MinTradesToEnable: v.GetInt("min_trades_to_enable"),

		TakeProfitPct:   v.GetFloat64("take_profit_pct"),
		StopLossPct:     v.GetFloat64("stop_loss_pct"),
		TrailingStopPct: v.GetFloat64("trailing_stop_pct"),
		PanicStopPct:    v.GetFloat64("panic_stop_pct"),

		MaxSpreadBps:        v.GetFloat64("max_spread_bps"),
		MinVolumeRatio:      v.GetFloat64("min_volume_ratio"),
		MinEdgeBps:          v.GetFloat64("min_edge_bps"),
		SlippageBufferBps:   v.GetFloat64("slippage_buffer_bps"),
		AdverseSelectionBps: v.GetFloat64("adverse_selection_bps"),
		MinSignalConfidence: v.GetFloat64("min_signal_confidence"),

		Timezone:          v.GetString("timezone"),
		RiskOnTime:        riskOn,
		NoMoreEntriesTime: noMore,
		EODCutoffTime:     eod,

		BacktestSpreadPct: v.GetFloat64("backtest_spread_pct"),

		Broker: types.BrokerConfig{
			APIKey:    os.Getenv("ALPACA_API_KEY"),
			APISecret: os.Getenv("ALPACA_API_SECRET"),
			BaseURL:   v.GetString("broker.base_url"),
			DataURL:   v.GetString("broker.data_url"),
			Paper:     v.GetBool("broker.paper"),
		},
		Server: types.ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
		},
		JournalPath: v.GetString("journal_path"),
	}
	return cfg, nil
}

// watchlist accepts either a YAML list or a comma-separated env string. Order
// is preserved: it is the evaluation order of every entry cycle.
func watchlist(v *viper.Viper) []string {
	raw := v.GetStringSlice("watchlist")
	out := make([]string, 0, len(raw))
	for _, chunk := range raw {
		for _, s := range strings.Split(chunk, ",") {
			s = strings.ToUpper(strings.TrimSpace(s))
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
