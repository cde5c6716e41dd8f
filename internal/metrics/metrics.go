// Package metrics exposes engine counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine collectors, registered on construction.
type Metrics struct {
	OrdersPlaced    *prometheus.CounterVec
	EntriesBlocked  *prometheus.CounterVec
	ExitsByReason   *prometheus.CounterVec
	BrokerErrors    *prometheus.CounterVec
	CyclesSkipped   *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	EnabledCount    prometheus.Gauge
	CycleDuration   *prometheus.HistogramVec
	EODFlattenTotal prometheus.Counter
}

// New registers the engine collectors on the given registerer (pass
// prometheus.DefaultRegisterer in the binary, a fresh registry in tests).
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OrdersPlaced: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_placed_total",
			Help: "Entry orders placed, by strategy.",
		}, []string{"strategy"}),
		EntriesBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_entries_blocked_total",
			Help: "Entry candidates blocked, by eligibility reason.",
		}, []string{"reason"}),
		ExitsByReason: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Positions closed, by exit reason.",
		}, []string{"reason"}),
		BrokerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_broker_errors_total",
			Help: "Broker adapter failures, by error kind.",
		}, []string{"kind"}),
		CyclesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_cycles_skipped_total",
			Help: "Cycles skipped wholesale due to a cycle-wide broker failure.",
		}, []string{"cycle"}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Positions currently tracked by the ledger.",
		}),
		EnabledCount: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trader_enabled_strategies",
			Help: "Strategies enabled by the session calibration.",
		}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Wall-clock duration of each cycle type.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cycle"}),
		EODFlattenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "trader_eod_flatten_total",
			Help: "Times the end-of-day flatten latched.",
		}),
	}
}
