package engine

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/internal/history"
	"github.com/atlas-desktop/intraday-trader/internal/journal"
	"github.com/atlas-desktop/intraday-trader/internal/metrics"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// cooldownAfterExit keeps a symbol out of new entries for a while after a
// close, so the same setup is not immediately re-bought.
const cooldownAfterExit = 30 * time.Minute

// barsPerFetch is how many 15-minute bars each entry cycle pulls per symbol.
const barsPerFetch = 100

// barLookbackDays bounds the bar fetch window; wide enough to always cover
// barsPerFetch 15-minute bars across weekends and holidays.
const barLookbackDays = 7

// EventSink receives engine events for real-time observers. Implementations
// must not block.
type EventSink interface {
	Publish(event string, payload interface{})
}

// noopSink is used when no observer is wired.
type noopSink struct{}

func (noopSink) Publish(string, interface{}) {}

// Engine owns the live trading cycles. All broker calls and ledger mutation
// happen on the scheduler goroutine; the mutex only protects snapshot reads
// from the diagnostics server.
type Engine struct {
	logger  *zap.Logger
	cfg     *types.Config
	broker  broker.Broker
	ledger  *Ledger
	journal *journal.Journal
	metrics *metrics.Metrics
	events  EventSink
	loc     *time.Location

	sessionID  string
	strategies []types.StrategyConfig
	enabled    map[string]bool

	// histories is rebuilt from broker bars each entry cycle; cooldowns
	// persist for the session and are set on every acknowledged close.
	histories map[string]*history.History
	cooldowns map[string]time.Time

	mu        sync.RWMutex
	flattened bool
}

// New assembles an engine. strategies is the immutable calibration result
// for this session; events may be nil.
func New(
	logger *zap.Logger,
	cfg *types.Config,
	b broker.Broker,
	ledger *Ledger,
	jnl *journal.Journal,
	m *metrics.Metrics,
	events EventSink,
	sessionID string,
	strategies []types.StrategyConfig,
) *Engine {
	if events == nil {
		events = noopSink{}
	}
	enabled := make(map[string]bool, len(strategies))
	for _, s := range strategies {
		if s.Enabled {
			enabled[s.Name] = true
		}
	}
	m.EnabledCount.Set(float64(len(enabled)))
	return &Engine{
		logger:     logger,
		cfg:        cfg,
		broker:     b,
		ledger:     ledger,
		journal:    jnl,
		metrics:    m,
		events:     events,
		loc:        cfg.Location(),
		sessionID:  sessionID,
		strategies: strategies,
		enabled:    enabled,
		histories:  make(map[string]*history.History),
		cooldowns:  make(map[string]time.Time),
	}
}

// Flattened reports whether the end-of-day flatten has latched. Once true,
// no further entry cycles run this session.
func (e *Engine) Flattened() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.flattened
}

func (e *Engine) latchFlattened() {
	e.mu.Lock()
	e.flattened = true
	e.mu.Unlock()
	e.metrics.EODFlattenTotal.Inc()
}

// exitParams returns the normal-cycle thresholds (panic disabled).
func (e *Engine) exitParams() ExitParams {
	return ExitParams{
		TakeProfitPct:   e.cfg.TakeProfitPct,
		StopLossPct:     e.cfg.StopLossPct,
		TrailingStopPct: e.cfg.TrailingStopPct,
	}
}

// Status is the read-only view served by the diagnostics API.
type Status struct {
	SessionID     string                 `json:"sessionId"`
	Watchlist     []string               `json:"watchlist"`
	Strategies    []types.StrategyConfig `json:"strategies"`
	OpenPositions []types.OpenPosition   `json:"openPositions"`
	Flattened     bool                   `json:"flattened"`
}

// Status returns a snapshot of engine state.
func (e *Engine) Status() Status {
	e.mu.RLock()
	flattened := e.flattened
	e.mu.RUnlock()
	return Status{
		SessionID:     e.sessionID,
		Watchlist:     e.cfg.Watchlist,
		Strategies:    e.strategies,
		OpenPositions: e.ledger.Positions(),
		Flattened:     flattened,
	}
}

// Strategies returns the session's immutable calibration result.
func (e *Engine) Strategies() []types.StrategyConfig { return e.strategies }

func (e *Engine) observeCycle(cycle string, start time.Time) {
	e.metrics.CycleDuration.WithLabelValues(cycle).Observe(time.Since(start).Seconds())
	e.metrics.OpenPositions.Set(float64(e.ledger.Len()))
}

func (e *Engine) recordBrokerError(err error) {
	e.metrics.BrokerErrors.WithLabelValues(broker.KindOf(err).String()).Inc()
}
