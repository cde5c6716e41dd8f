// Package broker_test provides tests for the Alpaca adapter against a stub
// HTTP server.
package broker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/intraday-trader/internal/broker"
	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

func newTestClient(t *testing.T, handler http.Handler) (*broker.AlpacaClient, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := broker.NewAlpacaClient(zap.NewNop(), types.BrokerConfig{
		APIKey:    "key",
		APISecret: "secret",
		BaseURL:   ts.URL,
		DataURL:   ts.URL,
		Paper:     true,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, ts
}

func TestNewAlpacaClientRequiresCredentials(t *testing.T) {
	_, err := broker.NewAlpacaClient(zap.NewNop(), types.BrokerConfig{})
	if err == nil {
		t.Fatal("want error without credentials")
	}
	if broker.KindOf(err) != broker.KindAuth {
		t.Errorf("kind = %s, want auth", broker.KindOf(err))
	}
}

func TestGetClock(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/clock", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{
			"timestamp": "2024-03-04T10:00:00-05:00",
			"is_open": true,
			"next_open": "2024-03-05T09:30:00-05:00",
			"next_close": "2024-03-04T16:00:00-05:00"
		}`))
	})

	client, _ := newTestClient(t, mux)
	clock, err := client.GetClock(context.Background())
	if err != nil {
		t.Fatalf("get clock: %v", err)
	}
	if !clock.IsOpen {
		t.Error("is_open not parsed")
	}
	if clock.NextClose.Hour() != 16 {
		t.Errorf("next close hour = %d, want 16", clock.NextClose.Hour())
	}
}

func TestGetSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/stocks/AAPL/snapshot", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"latestTrade": {"p": 181.25, "t": "2024-03-04T15:00:00Z"},
			"latestQuote": {"bp": 181.20, "ap": 181.30},
			"minuteBar": {"v": 24500},
			"prevDailyBar": {"c": 179.66}
		}`))
	})

	client, _ := newTestClient(t, mux)
	snap, err := client.GetSnapshot(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if snap.Price != 181.25 || snap.Bid != 181.20 || snap.Ask != 181.30 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.PrevDailyClose != 179.66 || snap.MinuteVolume != 24500 {
		t.Errorf("snapshot extras = %+v", snap)
	}
}

func TestGetSnapshotUnknownSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"symbol not found"}`, http.StatusNotFound)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.GetSnapshot(context.Background(), "NOPE")
	if err == nil {
		t.Fatal("want error")
	}
	if broker.KindOf(err) != broker.KindInvalidSymbol {
		t.Errorf("kind = %s, want invalid_symbol", broker.KindOf(err))
	}
}

func TestGetPositionsParsesStringNumbers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{
			"symbol": "AAPL",
			"qty": "5.5218",
			"avg_entry_price": "181.10",
			"current_price": "182.00",
			"unrealized_pl": "4.97",
			"unrealized_plpc": "0.00497"
		}]`))
	})

	client, _ := newTestClient(t, mux)
	positions, err := client.GetPositions(context.Background())
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("got %d positions", len(positions))
	}
	p := positions[0]
	if p.Symbol != "AAPL" || p.Qty != 5.5218 || p.AvgEntryPrice != 181.10 {
		t.Errorf("position = %+v", p)
	}
	if p.UnrealizedPLPC != 0.00497 {
		t.Errorf("plpc = %f", p.UnrealizedPLPC)
	}
}

func TestPlaceMarketOrderSendsNotionalAndClientID(t *testing.T) {
	var body map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Write([]byte(`{
			"id": "b6b6dd...",
			"client_order_id": "AAPL_ma_crossover_1709562000000|tp:2.0|sl:5.0|ts:30.0",
			"symbol": "AAPL",
			"side": "buy",
			"status": "accepted",
			"notional": "1000",
			"submitted_at": "2024-03-04T15:00:01Z"
		}`))
	})

	client, _ := newTestClient(t, mux)
	order, err := client.PlaceMarketOrder(context.Background(), "AAPL", types.OrderSideBuy,
		decimal.NewFromInt(1000), "AAPL_ma_crossover_1709562000000|tp:2.0|sl:5.0|ts:30.0")
	if err != nil {
		t.Fatalf("place order: %v", err)
	}

	if body["notional"] != "1000.00" {
		t.Errorf("wire notional = %v, want 1000.00", body["notional"])
	}
	if body["type"] != "market" || body["time_in_force"] != "day" {
		t.Errorf("wire order shape = %v", body)
	}
	if body["client_order_id"] != "AAPL_ma_crossover_1709562000000|tp:2.0|sl:5.0|ts:30.0" {
		t.Errorf("wire client_order_id = %v", body["client_order_id"])
	}
	if !order.Status.Accepted() {
		t.Errorf("status = %s, want accepted", order.Status)
	}
}

func TestPlaceMarketOrderRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient buying power"}`, http.StatusUnprocessableEntity)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.PlaceMarketOrder(context.Background(), "AAPL", types.OrderSideBuy,
		decimal.NewFromInt(1000), "coid")
	if err == nil {
		t.Fatal("want rejection error")
	}
	if broker.KindOf(err) != broker.KindOrderRejected {
		t.Errorf("kind = %s, want order_rejected", broker.KindOf(err))
	}
}

func TestAuthFailureKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.GetPositions(context.Background())
	if err == nil {
		t.Fatal("want error")
	}
	if broker.KindOf(err) != broker.KindAuth {
		t.Errorf("kind = %s, want auth", broker.KindOf(err))
	}
	if !broker.IsFatal(err) {
		t.Error("auth failures are fatal at startup")
	}
}

func TestRateLimitKind(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	client, _ := newTestClient(t, mux)
	_, err := client.GetOpenOrders(context.Background())
	if broker.KindOf(err) != broker.KindRateLimit {
		t.Errorf("kind = %s, want rate_limit", broker.KindOf(err))
	}
	if broker.IsFatal(err) {
		t.Error("rate limits are recoverable")
	}
}

func TestGetBarsParsesSeries(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/stocks/AAPL/bars", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("timeframe") != "15Min" {
			t.Errorf("timeframe = %s", r.URL.Query().Get("timeframe"))
		}
		w.Write([]byte(`{"bars": [
			{"t": "2024-03-04T14:30:00Z", "o": 180, "h": 181, "l": 179.5, "c": 180.5, "v": 120000},
			{"t": "2024-03-04T14:45:00Z", "o": 180.5, "h": 181.2, "l": 180.1, "c": 181, "v": 98000}
		]}`))
	})

	client, _ := newTestClient(t, mux)
	bars, err := client.GetBars(context.Background(), "AAPL", broker.Bar15Min, 7, 100)
	if err != nil {
		t.Fatalf("get bars: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars", len(bars))
	}
	if bars[0].Close != 180.5 || bars[1].Volume != 98000 {
		t.Errorf("bars = %+v", bars)
	}
	if !bars[0].Timestamp.Before(bars[1].Timestamp) {
		t.Error("bars must arrive oldest first")
	}
}

func TestGetRecentOrdersFloorsLimit(t *testing.T) {
	var gotLimit string
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`[]`))
	})

	client, _ := newTestClient(t, mux)
	if _, err := client.GetRecentOrders(context.Background(), 10); err != nil {
		t.Fatalf("get recent orders: %v", err)
	}
	if gotLimit != "100" {
		t.Errorf("limit = %s, want floored to 100", gotLimit)
	}
}
