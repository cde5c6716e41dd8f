package engine_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/engine"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

func TestClientOrderIDRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC)
	id := engine.EncodeClientOrderID("AAPL", "ma_crossover", ts, 0.02, 0.05, 0.30)

	if !strings.HasPrefix(id, "AAPL_ma_crossover_") {
		t.Fatalf("unexpected prefix: %s", id)
	}
	if !strings.HasSuffix(id, "|tp:2.0|sl:5.0|ts:30.0") {
		t.Fatalf("unexpected suffix: %s", id)
	}

	sym, strat, ok := engine.ParseClientOrderID(id)
	if !ok {
		t.Fatal("parse failed")
	}
	if sym != "AAPL" || strat != "ma_crossover" {
		t.Errorf("parsed (%s, %s), want (AAPL, ma_crossover)", sym, strat)
	}
}

func TestParseClientOrderIDRejectsForeignIDs(t *testing.T) {
	for _, id := range []string{
		"",
		"manual-order-1",
		"AAPL_nostamp",
		"AAPL_ma_crossover_notanumber|tp:2.0",
	} {
		if _, _, ok := engine.ParseClientOrderID(id); ok {
			t.Errorf("id %q should not parse", id)
		}
	}
}

func TestLedgerRecoverAttributesStrategy(t *testing.T) {
	fb := newFakeBroker()
	filledAt := time.Date(2024, 3, 4, 10, 30, 0, 0, time.UTC)
	fb.positions = []types.Position{
		{Symbol: "AAPL", Qty: 9.9, AvgEntryPrice: 100.50, CurrentPrice: 101},
		{Symbol: "MSFT", Qty: 2.4, AvgEntryPrice: 410, CurrentPrice: 405},
	}
	fb.recentOrders = []types.Order{
		{
			Symbol:        "AAPL",
			Side:          types.OrderSideBuy,
			Status:        types.OrderStatusFilled,
			ClientOrderID: engine.EncodeClientOrderID("AAPL", "volume_surge", filledAt, 0.02, 0.05, 0.30),
			FilledAt:      &filledAt,
		},
		// MSFT was bought by hand: no parseable id.
		{
			Symbol:        "MSFT",
			Side:          types.OrderSideBuy,
			Status:        types.OrderStatusFilled,
			ClientOrderID: "manual-buy",
			FilledAt:      &filledAt,
		},
	}

	ledger := engine.NewLedger(zap.NewNop())
	if err := ledger.Recover(context.Background(), fb); err != nil {
		t.Fatalf("recover: %v", err)
	}

	aapl, ok := ledger.Get("AAPL")
	if !ok {
		t.Fatal("AAPL not recovered")
	}
	if aapl.Strategy != "volume_surge" {
		t.Errorf("strategy = %s, want volume_surge", aapl.Strategy)
	}
	if aapl.EntryPrice != 100.50 || aapl.PeakPrice != 100.50 {
		t.Errorf("entry/peak = %f/%f, want 100.50/100.50", aapl.EntryPrice, aapl.PeakPrice)
	}
	if !aapl.EntryTime.Equal(filledAt) {
		t.Errorf("entryTime = %v, want %v", aapl.EntryTime, filledAt)
	}

	msft, ok := ledger.Get("MSFT")
	if !ok {
		t.Fatal("MSFT not recovered")
	}
	if msft.Strategy != "unknown" {
		t.Errorf("strategy = %s, want unknown", msft.Strategy)
	}
}

func TestLedgerOrphanGracePeriod(t *testing.T) {
	ledger := engine.NewLedger(zap.NewNop())
	ledger.Record(types.OpenPosition{Symbol: "AAPL", Strategy: "ma_crossover", EntryPrice: 100, PeakPrice: 100})

	t0 := time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)

	// Broker stops reporting the symbol: tolerated within the grace period.
	ledger.Reconcile(nil, t0)
	if _, ok := ledger.Get("AAPL"); !ok {
		t.Fatal("entry dropped immediately; want grace period")
	}
	ledger.Reconcile(nil, t0.Add(2*time.Minute))
	if _, ok := ledger.Get("AAPL"); !ok {
		t.Fatal("entry dropped inside grace period")
	}

	// Broker reports it again: the orphan mark resets.
	ledger.Reconcile([]types.Position{{Symbol: "AAPL", AvgEntryPrice: 100, CurrentPrice: 101}}, t0.Add(3*time.Minute))
	ledger.Reconcile(nil, t0.Add(4*time.Minute))
	ledger.Reconcile(nil, t0.Add(8*time.Minute))
	if _, ok := ledger.Get("AAPL"); !ok {
		t.Fatal("grace period should have restarted after the symbol reappeared")
	}

	// Past the grace period for real this time.
	ledger.Reconcile(nil, t0.Add(10*time.Minute))
	if _, ok := ledger.Get("AAPL"); ok {
		t.Fatal("orphaned entry should be dropped after the grace period")
	}
}

func TestLedgerReconcileAdoptsUnknownPositions(t *testing.T) {
	ledger := engine.NewLedger(zap.NewNop())
	now := time.Date(2024, 3, 4, 11, 0, 0, 0, time.UTC)

	ledger.Reconcile([]types.Position{{Symbol: "TSLA", AvgEntryPrice: 200, CurrentPrice: 210}}, now)
	pos, ok := ledger.Get("TSLA")
	if !ok {
		t.Fatal("held symbol not adopted")
	}
	if pos.Strategy != "unknown" {
		t.Errorf("strategy = %s, want unknown", pos.Strategy)
	}
	if pos.PeakPrice != 210 {
		t.Errorf("peak = %f, want current 210", pos.PeakPrice)
	}
}

func TestLedgerUpdatePeak(t *testing.T) {
	ledger := engine.NewLedger(zap.NewNop())
	ledger.Record(types.OpenPosition{Symbol: "AAPL", EntryPrice: 100, PeakPrice: 100})

	if peak := ledger.UpdatePeak("AAPL", 105); peak != 105 {
		t.Errorf("peak = %f, want 105", peak)
	}
	// A lower price never lowers the peak.
	if peak := ledger.UpdatePeak("AAPL", 101); peak != 105 {
		t.Errorf("peak = %f, want 105", peak)
	}
}
