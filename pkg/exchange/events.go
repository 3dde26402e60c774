package exchange

import (
	"log"
	"sync"
)

// Kind enumerates adapter lifecycle event kinds.
type Kind string

const (
	KindOrderFilled    Kind = "order_filled"
	KindPositionClosed Kind = "position_closed"
	KindTickerChanged  Kind = "ticker_changed"
)

// ClosedReason states why a position lifecycle ended.
type ClosedReason int

const (
	// ClosedSold means the position was closed by selling it.
	ClosedSold ClosedReason = iota
	// ClosedCancelled means the order was cancelled and the position was
	// never open.
	ClosedCancelled
)

func (r ClosedReason) String() string {
	if r == ClosedCancelled {
		return "Cancelled"
	}
	return "Sold"
}

// OrderFilled reports one fill batch. Repeated fills accumulate quantity
// upstream.
type OrderFilled struct {
	Symbol   string
	Price    float64
	Quantity float64
}

// PositionClosed reports the end of a position lifecycle. PnL carries the
// exchange-reported realized value when available, else zero.
type PositionClosed struct {
	Symbol    string
	ExitPrice float64
	PnL       float64
	Reason    ClosedReason
}

// TickerUpdate reports the latest traded price of a subscribed symbol.
type TickerUpdate struct {
	Symbol    string
	LastPrice float64
}

// Handler consumes one published event payload.
type Handler func(payload any)

type subKey struct {
	kind   Kind
	symbol string
}

type subscription struct {
	fn Handler
}

// Hub is a registry of (symbol, event-kind) -> callbacks. Dispatch iterates
// a snapshot copy so handlers may subscribe or unsubscribe during delivery.
type Hub struct {
	mu   sync.RWMutex
	subs map[subKey][]*subscription
}

// NewHub creates an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[subKey][]*subscription)}
}

// Subscribe registers a handler for one (kind, symbol) pair and returns an
// unsubscribe function. Unsubscribing twice is a no-op.
func (h *Hub) Subscribe(kind Kind, symbol string, fn Handler) (unsub func()) {
	key := subKey{kind: kind, symbol: symbol}
	sub := &subscription{fn: fn}

	h.mu.Lock()
	h.subs[key] = append(h.subs[key], sub)
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		list := h.subs[key]
		for i, s := range list {
			if s == sub {
				h.subs[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
	}
}

// Publish delivers the payload to every handler registered for the
// (kind, symbol) pair. Handlers run on the caller's goroutine; adapters call
// Publish only after releasing their own lock.
func (h *Hub) Publish(kind Kind, symbol string, payload any) {
	key := subKey{kind: kind, symbol: symbol}

	h.mu.RLock()
	snapshot := make([]*subscription, len(h.subs[key]))
	copy(snapshot, h.subs[key])
	h.mu.RUnlock()

	for _, s := range snapshot {
		deliver(s.fn, kind, symbol, payload)
	}
}

// deliver isolates one handler call. A panicking handler is logged and must
// not take down the stream reader driving the publish.
func deliver(fn Handler, kind Kind, symbol string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("events: handler panic for %s/%v: %v", symbol, kind, r)
		}
	}()
	fn(payload)
}
