// Package broker defines the capability surface the engine consumes from a
// market-execution backend, and the error taxonomy every adapter maps onto.
package broker

import (
	"errors"
	"fmt"
)

// Kind classifies broker failures. The engine's cycle policy branches on the
// kind, never on adapter-specific details.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetwork
	KindAuth
	KindRateLimit
	KindParse
	KindInvalidSymbol
	KindOrderRejected
	KindNotFound
	KindTimeout
	KindConfigInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindRateLimit:
		return "rate_limit"
	case KindParse:
		return "parse"
	case KindInvalidSymbol:
		return "invalid_symbol"
	case KindOrderRejected:
		return "order_rejected"
	case KindNotFound:
		return "not_found"
	case KindTimeout:
		return "timeout"
	case KindConfigInvalid:
		return "config_invalid"
	}
	return "unknown"
}

// Error is a classified broker failure.
type Error struct {
	Kind   Kind
	Op     string // adapter operation, e.g. "get_snapshot"
	Symbol string // subject symbol, if any
	Err    error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("broker %s %s: %s: %v", e.Op, e.Symbol, e.Kind, e.Err)
	}
	return fmt.Sprintf("broker %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err as a classified broker error.
func E(kind Kind, op, symbol string, err error) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: err}
}

// KindOf extracts the kind from err, or KindUnknown.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// IsFatal reports whether the error must abort startup. During the live loop
// no broker error is fatal; cycles skip and retry at the next cadence.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindAuth, KindConfigInvalid:
		return true
	}
	return false
}
