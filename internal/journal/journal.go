// Package journal keeps a SQLite record of each session: calibration
// verdicts, entries, exits, and blocked entry candidates. Rows are only
// inserted, except that an exit updates the row of the trade it closes.
//
// The broker remains the single source of truth for live state; the journal
// is an audit record read by the diagnostics API, never by the cycles.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/intraday-trader/pkg/types"
)

// Journal wraps the SQLite session record.
type Journal struct {
	logger *zap.Logger
	db     *sql.DB
}

// Open opens (or creates) the journal database and runs migrations.
func Open(logger *zap.Logger, path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal: %w", err)
	}
	j := &Journal{logger: logger, db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS calibrations (
			session_id    TEXT NOT NULL,
			strategy      TEXT NOT NULL,
			enabled       INTEGER NOT NULL,
			net_profit    TEXT NOT NULL,
			trades_closed INTEGER NOT NULL,
			win_rate      REAL NOT NULL,
			created_at    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS trades (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id      TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			strategy        TEXT NOT NULL,
			client_order_id TEXT NOT NULL,
			entry_price     REAL NOT NULL,
			opened_at       TEXT NOT NULL,
			exit_reason     TEXT,
			pl_pct          REAL,
			closed_at       TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

		CREATE TABLE IF NOT EXISTS blocked_entries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			symbol     TEXT NOT NULL,
			reason     TEXT NOT NULL,
			detail     TEXT NOT NULL,
			at         TEXT NOT NULL
		);
	`)
	return err
}

// RecordCalibration stores the session's calibration verdicts.
func (j *Journal) RecordCalibration(sessionID string, configs []types.StrategyConfig) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, c := range configs {
		_, err := j.db.Exec(
			`INSERT INTO calibrations (session_id, strategy, enabled, net_profit, trades_closed, win_rate, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			sessionID, c.Name, boolToInt(c.Enabled), c.NetProfit.StringFixed(2), c.TradesClosed, c.WinRate, now,
		)
		if err != nil {
			return fmt.Errorf("record calibration %s: %w", c.Name, err)
		}
	}
	return nil
}

// RecordEntry stores a newly opened position.
func (j *Journal) RecordEntry(sessionID string, pos types.OpenPosition) error {
	_, err := j.db.Exec(
		`INSERT INTO trades (session_id, symbol, strategy, client_order_id, entry_price, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, pos.Symbol, pos.Strategy, pos.ClientOrderID, pos.EntryPrice,
		pos.EntryTime.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record entry %s: %w", pos.Symbol, err)
	}
	return nil
}

// RecordExit marks the most recent open trade for a symbol as closed.
func (j *Journal) RecordExit(sessionID, symbol string, decision types.ExitDecision, closedAt time.Time) error {
	_, err := j.db.Exec(
		`UPDATE trades SET exit_reason = ?, pl_pct = ?, closed_at = ?
		 WHERE id = (
			SELECT id FROM trades
			WHERE session_id = ? AND symbol = ? AND closed_at IS NULL
			ORDER BY id DESC LIMIT 1
		 )`,
		string(decision.Reason), decision.PLPct, closedAt.UTC().Format(time.RFC3339),
		sessionID, symbol,
	)
	if err != nil {
		return fmt.Errorf("record exit %s: %w", symbol, err)
	}
	return nil
}

// RecordBlocked stores a blocked entry candidate with its reason.
func (j *Journal) RecordBlocked(sessionID, symbol string, eligibility types.EntryEligibility, at time.Time) error {
	_, err := j.db.Exec(
		`INSERT INTO blocked_entries (session_id, symbol, reason, detail, at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, symbol, string(eligibility.Code), eligibility.String(), at.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record blocked %s: %w", symbol, err)
	}
	return nil
}

// TradeRecord is one journal trade row.
type TradeRecord struct {
	ID            int64    `json:"id"`
	Symbol        string   `json:"symbol"`
	Strategy      string   `json:"strategy"`
	ClientOrderID string   `json:"clientOrderId"`
	EntryPrice    float64  `json:"entryPrice"`
	OpenedAt      string   `json:"openedAt"`
	ExitReason    *string  `json:"exitReason,omitempty"`
	PLPct         *float64 `json:"plPct,omitempty"`
	ClosedAt      *string  `json:"closedAt,omitempty"`
}

// RecentTrades returns the newest trades, newest first.
func (j *Journal) RecentTrades(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT id, symbol, strategy, client_order_id, entry_price, opened_at, exit_reason, pl_pct, closed_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		if err := rows.Scan(&r.ID, &r.Symbol, &r.Strategy, &r.ClientOrderID, &r.EntryPrice,
			&r.OpenedAt, &r.ExitReason, &r.PLPct, &r.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// BlockedCounts returns how many times each block reason fired this session.
func (j *Journal) BlockedCounts(sessionID string) (map[string]int, error) {
	rows, err := j.db.Query(
		`SELECT reason, COUNT(*) FROM blocked_entries WHERE session_id = ? GROUP BY reason`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query blocked: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("scan blocked: %w", err)
		}
		counts[reason] = n
	}
	return counts, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
