// Package main provides the entry point for the intraday trading agent.
// A process runs exactly one market session: recover the ledger from the
// broker, calibrate the strategy basket on recent history, then hand
// control to the session scheduler until the end-of-day flatten.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/intraday-trader/internal/api"
	"github.com/atlas-desktop/intraday-trader/internal/backtest"
	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/internal/calibrate"
	"github.com/atlas-desktop/intraday-trader/internal/config"
	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/internal/journal"
	"github.com/atlas-desktop/intraday-trader/internal/metrics"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// Broker credentials may live in a local .env during development.
	_ = godotenv.Load()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration invalid", zap.Error(err))
		os.Exit(1)
	}

	sessionID := uuid.New().String()
	logger.Info("starting intraday trader",
		zap.String("session", sessionID),
		zap.Strings("watchlist", cfg.Watchlist),
		zap.String("notional", cfg.NotionalPerTrade.StringFixed(2)),
		zap.Bool("paper", cfg.Broker.Paper),
	)

	jnl, err := journal.Open(logger, cfg.JournalPath)
	if err != nil {
		logger.Error("journal unavailable", zap.Error(err))
		os.Exit(1)
	}
	defer jnl.Close()

	alpaca, err := broker.NewAlpacaClient(logger, cfg.Broker)
	if err != nil {
		logger.Error("broker adapter unavailable", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// Rebuild the ledger from broker-observable facts before anything else.
	ledger := engine.NewLedger(logger)
	if err := ledger.Recover(ctx, alpaca); err != nil {
		if broker.IsFatal(err) {
			logger.Error("ledger recovery failed", zap.Error(err))
			os.Exit(1)
		}
		// Recoverable: the first cycle's reconcile adopts anything missed.
		logger.Warn("ledger recovery incomplete", zap.Error(err))
	}

	// Calibrate the strategy basket on recent history.
	calibrationBars := fetchCalibrationBars(ctx, logger, alpaca, cfg)
	calibrator := calibrate.New(logger, backtest.Config{
		StartingCapital:  cfg.NotionalPerTrade.Mul(decimal.NewFromInt(10)),
		NotionalPerTrade: cfg.NotionalPerTrade,
		SpreadPct:        cfg.BacktestSpreadPct,
		Exits: engine.ExitParams{
			TakeProfitPct:   cfg.TakeProfitPct,
			StopLossPct:     cfg.StopLossPct,
			TrailingStopPct: cfg.TrailingStopPct,
			PanicStopPct:    cfg.PanicStopPct,
		},
		MinSignalConfidence: cfg.MinSignalConfidence,
	}, cfg.MinTradesToEnable)

	strategies, err := calibrator.Run(ctx, calibrationBars)
	if err != nil {
		logger.Error("calibration failed", zap.Error(err))
		os.Exit(1)
	}
	if err := jnl.RecordCalibration(sessionID, strategies); err != nil {
		logger.Warn("journal calibration failed", zap.Error(err))
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	hub := api.NewHub(logger)
	go hub.Run()

	eng := engine.New(logger, cfg, alpaca, ledger, jnl, m, hub, sessionID, strategies)

	server := api.NewServer(logger, cfg.Server, eng, jnl, hub)
	go func() {
		if err := server.Start(); err != nil {
			logger.Warn("diagnostics server error", zap.Error(err))
		}
	}()
	defer func() {
		if err := server.Stop(context.Background()); err != nil {
			logger.Warn("diagnostics server shutdown error", zap.Error(err))
		}
	}()

	scheduler := engine.NewScheduler(logger, engine.RealClock{}, alpaca, eng)
	if err := scheduler.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("session loop error", zap.Error(err))
	}
	logger.Info("session ended", zap.String("session", sessionID))
}

// fetchCalibrationBars pulls the calibration lookback for each watchlist
// symbol. A symbol whose history cannot be fetched is left out rather than
// failing startup.
func fetchCalibrationBars(ctx context.Context, logger *zap.Logger, b broker.Broker, cfg *types.Config) map[string][]types.Bar {
	// A trading day holds roughly 26 regular-session 15-minute bars; the
	// limit allows 40 per calendar day of lookback.
	limit := cfg.CalibrationDays * 40
	bars := make(map[string][]types.Bar, len(cfg.Watchlist))
	for _, sym := range cfg.Watchlist {
		series, err := b.GetBars(ctx, sym, broker.Bar15Min, cfg.CalibrationDays, limit)
		if err != nil {
			logger.Warn("calibration history unavailable",
				zap.String("symbol", sym), zap.Error(err))
			continue
		}
		bars[sym] = series
	}
	return bars
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
