package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// orphanGrace is how long a ledger entry may disagree with the broker
// (broker says not held, ledger says held) before it is dropped. Tolerates
// broker-side replication lag.
const orphanGrace = 5 * time.Minute

// strategyUnknown marks positions whose entry order could not be attributed.
const strategyUnknown = "unknown"

// Ledger tracks per-symbol position metadata. The broker is the single
// source of truth: every cycle re-derives the held set from the broker
// response, and the ledger only caches strategy attribution and peak prices
// on top of it.
type Ledger struct {
	mu          sync.RWMutex
	logger      *zap.Logger
	entries     map[string]*types.OpenPosition
	orphanSince map[string]time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger:      logger,
		entries:     make(map[string]*types.OpenPosition),
		orphanSince: make(map[string]time.Time),
	}
}

// Recover rebuilds the ledger from broker-observable facts: open positions
// are authoritative for the held set, and the most recent filled buy order
// per symbol supplies strategy attribution via its client order id.
func (l *Ledger) Recover(ctx context.Context, b broker.Broker) error {
	positions, err := b.GetPositions(ctx)
	if err != nil {
		return err
	}
	recent, err := b.GetRecentOrders(ctx, 100)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = make(map[string]*types.OpenPosition, len(positions))
	l.orphanSince = make(map[string]time.Time)

	for _, p := range positions {
		entry := &types.OpenPosition{
			Symbol:     p.Symbol,
			Strategy:   strategyUnknown,
			EntryPrice: p.AvgEntryPrice,
			PeakPrice:  p.AvgEntryPrice,
		}
		// Orders arrive newest first; take the first filled buy.
		for _, o := range recent {
			if o.Symbol != p.Symbol || o.Side != types.OrderSideBuy || o.Status != types.OrderStatusFilled {
				continue
			}
			if _, strat, ok := ParseClientOrderID(o.ClientOrderID); ok {
				entry.Strategy = strat
				entry.ClientOrderID = o.ClientOrderID
			}
			if o.FilledAt != nil {
				entry.EntryTime = *o.FilledAt
			} else {
				entry.EntryTime = o.SubmittedAt
			}
			break
		}
		l.entries[p.Symbol] = entry
		l.logger.Info("recovered position",
			zap.String("symbol", p.Symbol),
			zap.String("strategy", entry.Strategy),
			zap.Float64("entry_price", entry.EntryPrice),
		)
	}
	return nil
}

// Reconcile aligns the ledger with a fresh broker position list. Unknown
// held symbols gain a ledger entry; entries the broker no longer reports are
// dropped only after the orphan grace period elapses.
func (l *Ledger) Reconcile(positions []types.Position, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	held := make(map[string]types.Position, len(positions))
	for _, p := range positions {
		held[p.Symbol] = p
	}

	for sym, p := range held {
		delete(l.orphanSince, sym)
		if _, ok := l.entries[sym]; ok {
			continue
		}
		peak := p.AvgEntryPrice
		if p.CurrentPrice > peak {
			peak = p.CurrentPrice
		}
		l.entries[sym] = &types.OpenPosition{
			Symbol:     sym,
			Strategy:   strategyUnknown,
			EntryPrice: p.AvgEntryPrice,
			EntryTime:  now,
			PeakPrice:  peak,
		}
		l.logger.Warn("adopted unattributed position", zap.String("symbol", sym))
	}

	for sym := range l.entries {
		if _, ok := held[sym]; ok {
			continue
		}
		since, seen := l.orphanSince[sym]
		if !seen {
			l.orphanSince[sym] = now
			continue
		}
		if now.Sub(since) >= orphanGrace {
			delete(l.entries, sym)
			delete(l.orphanSince, sym)
			l.logger.Info("dropped orphaned ledger entry", zap.String("symbol", sym))
		}
	}
}

// Record stores a new position. Committed only after broker acceptance.
func (l *Ledger) Record(pos types.OpenPosition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := pos
	l.entries[pos.Symbol] = &p
	delete(l.orphanSince, pos.Symbol)
}

// Remove deletes a position after a broker-acknowledged close.
func (l *Ledger) Remove(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, symbol)
	delete(l.orphanSince, symbol)
}

// UpdatePeak raises the recorded peak if current exceeds it, and returns the
// effective peak.
func (l *Ledger) UpdatePeak(symbol string, current float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[symbol]
	if !ok {
		return current
	}
	if current > e.PeakPrice {
		e.PeakPrice = current
	}
	return e.PeakPrice
}

// Get returns a copy of the entry for symbol.
func (l *Ledger) Get(symbol string) (types.OpenPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[symbol]
	if !ok {
		return types.OpenPosition{}, false
	}
	return *e, true
}

// Positions returns copies of all entries, ordered by symbol.
func (l *Ledger) Positions() []types.OpenPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]types.OpenPosition, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Len returns the number of tracked positions.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
