// Package exchange defines the uniform contract an exchange adapter exposes
// to strategies and the signal manager, plus the event hub used to fan out
// adapter lifecycle events.
package exchange

import (
	"context"
	"fmt"
	"time"
)

// OrderRequest describes one order placement attempt.
type OrderRequest struct {
	Symbol     string
	Price      float64
	IsShort    bool
	IsLimit    bool
	Amount     float64
	StopLoss   float64
	TakeProfit float64
	Leverage   float64
}

// PositionSnapshot is the authoritative live view of one position as
// reported by the exchange.
type PositionSnapshot struct {
	Valid         bool
	Symbol        string
	Quantity      float64
	UnrealizedPnL float64
	Margin        float64
	Leverage      float64
	StopLoss      float64
	TakeProfit    float64
	Size          float64
	IsShort       bool
}

// String renders the snapshot for operator status queries.
func (p PositionSnapshot) String() string {
	if !p.Valid {
		return fmt.Sprintf("%s -> Unknown", p.Symbol)
	}
	side := "Long"
	if p.IsShort {
		side = "Short"
	}
	return fmt.Sprintf("%s %s qty %.8g, pnl %.4g, margin %.4g, lev %.4g, sl %.8g, tp %.8g",
		p.Symbol, side, p.Quantity, p.UnrealizedPnL, p.Margin, p.Leverage, p.StopLoss, p.TakeProfit)
}

// KlinePeriod selects a candle interval for historical queries.
type KlinePeriod string

const (
	PeriodDay  KlinePeriod = "D"
	PeriodHour KlinePeriod = "60"
)

// Candle is one historical kline.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Exchange wraps one venue's order/position/subscription primitives.
// Implementations own the admission state for "symbol currently has an open
// attempt" and the order/position timeout bookkeeping, and emit lifecycle
// events through Events().
type Exchange interface {
	Name() string

	// PlaceOrder attempts to open a position. A symbol that already has an
	// attempt in flight is rejected, not queued. The symbol's ticker stream
	// is subscribed before the order is placed; subscription failure aborts
	// without placing, and an exchange rejection rolls the subscription back.
	PlaceOrder(ctx context.Context, req OrderRequest) (bool, error)

	SymbolExists(ctx context.Context, symbol string) (bool, error)

	// SymbolDigits returns the symbol's tick precision, used for all rounding.
	SymbolDigits(ctx context.Context, symbol string) (int, error)

	LastPrice(ctx context.Context, symbol string) (float64, error)

	// SetStopLoss moves the protective stop. Best-effort: a failure is
	// logged by the adapter and surfaced as an error, never fatal — the
	// caller's in-memory stop is the source of truth and a retry happens
	// naturally on the next tick.
	SetStopLoss(ctx context.Context, symbol string, isShort bool, price float64) error

	PositionInfo(ctx context.Context, symbol string) (PositionSnapshot, error)

	Klines(ctx context.Context, symbol string, period KlinePeriod, start, end time.Time) ([]Candle, error)

	// Events exposes the adapter's event hub for per-symbol subscriptions.
	Events() *Hub
}
