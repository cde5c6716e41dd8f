package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Client order ids are the sole durable attribution channel: a restart
// recovers a position's strategy by parsing the id of its most recent fill.
// Wire format: {SYMBOL}_{strategy}_{epoch_ms}|tp:{x}|sl:{y}|ts:{z} with the
// thresholds as one-decimal percentages.

// EncodeClientOrderID builds the order id for an entry.
func EncodeClientOrderID(symbol, strategyName string, ts time.Time, tpPct, slPct, trailPct float64) string {
	return fmt.Sprintf("%s_%s_%d|tp:%.1f|sl:%.1f|ts:%.1f",
		symbol, strategyName, ts.UnixMilli(), tpPct*100, slPct*100, trailPct*100)
}

// ParseClientOrderID recovers the symbol and strategy from an encoded id.
// Strategy names may themselves contain underscores; the symbol is the first
// segment and the timestamp the last.
func ParseClientOrderID(id string) (symbol, strategyName string, ok bool) {
	head, _, _ := strings.Cut(id, "|")
	parts := strings.Split(head, "_")
	if len(parts) < 3 {
		return "", "", false
	}
	if _, err := strconv.ParseInt(parts[len(parts)-1], 10, 64); err != nil {
		return "", "", false
	}
	symbol = parts[0]
	strategyName = strings.Join(parts[1:len(parts)-1], "_")
	if symbol == "" || strategyName == "" {
		return "", "", false
	}
	return symbol, strategyName, true
}
