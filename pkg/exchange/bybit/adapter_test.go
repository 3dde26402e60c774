package bybit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-trader/internal/config"
	"signal-trader/pkg/exchange"
)

type fakeREST struct {
	mu        sync.Mutex
	position  PositionData
	ticker    Ticker
	created   []CreateOrderParams
	cancelled []string
	orderErr  error
	cancelErr error
}

func (f *fakeREST) Instrument(_ context.Context, symbol string) (Instrument, bool, error) {
	return Instrument{Symbol: symbol, TickSize: 0.01}, true, nil
}

func (f *fakeREST) Ticker(context.Context, string) (Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticker, nil
}

func (f *fakeREST) Klines(context.Context, string, string, time.Time, time.Time) ([]Kline, error) {
	return nil, nil
}

func (f *fakeREST) CreateOrder(_ context.Context, p CreateOrderParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return "", f.orderErr
	}
	f.created = append(f.created, p)
	return "order-1", nil
}

func (f *fakeREST) CancelOrder(_ context.Context, _, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeREST) Position(context.Context, string) (PositionData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.position, nil
}

func (f *fakeREST) SetTradingStop(context.Context, string, float64) error { return nil }
func (f *fakeREST) SetLeverage(context.Context, string, float64) error    { return nil }
func (f *fakeREST) SwitchIsolated(context.Context, string, float64) error { return nil }

func (f *fakeREST) setPosition(p PositionData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.position = p
}

func (f *fakeREST) orders() []CreateOrderParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]CreateOrderParams, len(f.created))
	copy(out, f.created)
	return out
}

type fakeFeed struct {
	mu     sync.Mutex
	subs   []string
	unsubs []string
}

func (f *fakeFeed) Subscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, symbol)
	return nil
}

func (f *fakeFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, symbol)
	return nil
}

func newTestAdapter(cfg config.ExchangeConfig) (*Adapter, *fakeREST, *fakeFeed) {
	rest := &fakeREST{}
	feed := &fakeFeed{}
	a := newAdapter(cfg, rest)
	a.public = feed
	return a, rest, feed
}

func testOrder(symbol string) exchange.OrderRequest {
	return exchange.OrderRequest{
		Symbol:     symbol,
		Price:      50000,
		IsLimit:    true,
		Amount:     0.5,
		StopLoss:   49000,
		TakeProfit: 52500,
		Leverage:   5,
	}
}

// collect subscribes to one event kind and records payloads.
func collect[T any](hub *exchange.Hub, kind exchange.Kind, symbol string) *[]T {
	out := &[]T{}
	hub.Subscribe(kind, symbol, func(payload any) {
		if e, ok := payload.(T); ok {
			*out = append(*out, e)
		}
	})
	return out
}

func TestPlaceOrderRejectsDuplicateSymbol(t *testing.T) {
	a, rest, _ := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})

	accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if err != nil || !accepted {
		t.Fatalf("first PlaceOrder: accepted=%v err=%v", accepted, err)
	}
	accepted, err = a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if err != nil {
		t.Fatalf("second PlaceOrder: %v", err)
	}
	if accepted {
		t.Fatal("duplicate symbol accepted")
	}
	if got := len(rest.orders()); got != 1 {
		t.Fatalf("created %d orders, expected 1", got)
	}
}

func TestPlaceOrderRollsBackSubscriptionOnRejection(t *testing.T) {
	a, rest, feed := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})
	rest.orderErr = errors.New("insufficient balance")

	accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if accepted || err == nil {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}
	if len(feed.subs) != 1 || len(feed.unsubs) != 1 {
		t.Fatalf("subs=%v unsubs=%v, expected rollback", feed.subs, feed.unsubs)
	}

	// The symbol slot must be free again.
	rest.orderErr = nil
	accepted, err = a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if err != nil || !accepted {
		t.Fatalf("retry PlaceOrder: accepted=%v err=%v", accepted, err)
	}
}

func TestExecutionsConfirmFillThenClose(t *testing.T) {
	a, rest, feed := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})
	fills := collect[exchange.OrderFilled](a.hub, exchange.KindOrderFilled, "BTCUSDT")
	closes := collect[exchange.PositionClosed](a.hub, exchange.KindPositionClosed, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}

	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5, AvgPrice: 50000})
	a.handleExecutions([]Execution{
		{Symbol: "BTCUSDT", Side: "Buy", OrderID: "order-1", Price: 50000, Qty: 0.5},
	})

	if len(*fills) != 1 || (*fills)[0].Price != 50000 || (*fills)[0].Quantity != 0.5 {
		t.Fatalf("fill events: %+v", *fills)
	}
	if len(*closes) != 0 {
		t.Fatalf("premature close events: %+v", *closes)
	}

	rest.setPosition(PositionData{Symbol: "BTCUSDT", Size: 0})
	a.handleExecutions([]Execution{
		{Symbol: "BTCUSDT", Side: "Sell", OrderID: "order-tp", Price: 52500, Qty: 0.5},
	})

	if len(*closes) != 1 {
		t.Fatalf("close events: %+v", *closes)
	}
	c := (*closes)[0]
	if c.Reason != exchange.ClosedSold || c.ExitPrice != 52500 {
		t.Fatalf("close event wrong: %+v", c)
	}
	// Closing fills on the reducing side must not look like entries.
	if len(*fills) != 1 {
		t.Fatalf("fill events after close: %+v", *fills)
	}
	if len(feed.unsubs) != 1 {
		t.Fatalf("ticker not unsubscribed on close: %v", feed.unsubs)
	}

	// The slot is free for the next attempt.
	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder after close: accepted=%v err=%v", accepted, err)
	}
}

func TestExecutionsForUntrackedSymbolAreIgnored(t *testing.T) {
	a, rest, _ := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})
	fills := collect[exchange.OrderFilled](a.hub, exchange.KindOrderFilled, "ETHUSDT")

	rest.setPosition(PositionData{Symbol: "ETHUSDT", Side: "Buy", Size: 1})
	a.handleExecutions([]Execution{
		{Symbol: "ETHUSDT", Side: "Buy", Price: 3000, Qty: 1},
	})
	if len(*fills) != 0 {
		t.Fatalf("events for untracked symbol: %+v", *fills)
	}
}

func TestReconcileCancelsTimedOutOrder(t *testing.T) {
	cfg := config.ExchangeConfig{Name: "Bybit", OrderTimeout: config.Duration(time.Nanosecond)}
	a, rest, feed := newTestAdapter(cfg)
	closes := collect[exchange.PositionClosed](a.hub, exchange.KindPositionClosed, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}

	time.Sleep(time.Millisecond)
	a.reconcile(context.Background())

	if len(rest.cancelled) != 1 || rest.cancelled[0] != "order-1" {
		t.Fatalf("cancelled orders: %v", rest.cancelled)
	}
	if len(*closes) != 1 || (*closes)[0].Reason != exchange.ClosedCancelled {
		t.Fatalf("close events: %+v", *closes)
	}
	if len(feed.unsubs) != 1 {
		t.Fatalf("ticker not unsubscribed on cancel: %v", feed.unsubs)
	}
}

func TestReconcileKeepsOrderFilledDuringCancelRace(t *testing.T) {
	cfg := config.ExchangeConfig{Name: "Bybit", OrderTimeout: config.Duration(time.Nanosecond)}
	a, rest, _ := newTestAdapter(cfg)
	closes := collect[exchange.PositionClosed](a.hub, exchange.KindPositionClosed, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}

	// Cancel fails because the order just filled.
	rest.cancelErr = errors.New("order already filled")
	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5})

	time.Sleep(time.Millisecond)
	a.reconcile(context.Background())

	if len(*closes) != 0 {
		t.Fatalf("filled order was released as cancelled: %+v", *closes)
	}
	// A later duplicate attempt must still be rejected.
	accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if err != nil || accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}
}

func TestReconcileKeepsPartialFillAfterSuccessfulCancel(t *testing.T) {
	cfg := config.ExchangeConfig{Name: "Bybit", OrderTimeout: config.Duration(time.Nanosecond)}
	a, rest, feed := newTestAdapter(cfg)
	closes := collect[exchange.PositionClosed](a.hub, exchange.KindPositionClosed, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}

	// The cancel succeeds, but a partial fill already opened a position
	// whose stream event has not arrived yet.
	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 0.2})

	time.Sleep(time.Millisecond)
	a.reconcile(context.Background())

	if len(rest.cancelled) != 1 {
		t.Fatalf("cancelled orders: %v", rest.cancelled)
	}
	if len(*closes) != 0 {
		t.Fatalf("partially filled order was released as cancelled: %+v", *closes)
	}
	if len(feed.unsubs) != 0 {
		t.Fatalf("ticker unsubscribed while a position is live: %v", feed.unsubs)
	}
	// The attempt is now a confirmed position and still occupies the slot.
	accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT"))
	if err != nil || accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}
}

func TestExecutionsCollapseBatchIntoWeightedFill(t *testing.T) {
	a, rest, _ := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})
	fills := collect[exchange.OrderFilled](a.hub, exchange.KindOrderFilled, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}

	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 4})
	a.handleExecutions([]Execution{
		{Symbol: "BTCUSDT", Side: "Buy", OrderID: "order-1", Price: 50000, Qty: 1},
		{Symbol: "BTCUSDT", Side: "Buy", OrderID: "order-1", Price: 50400, Qty: 3},
	})

	if len(*fills) != 1 {
		t.Fatalf("fill events: %+v", *fills)
	}
	f := (*fills)[0]
	// (50000*1 + 50400*3) / 4
	if f.Quantity != 4 || f.Price != 50300 {
		t.Fatalf("aggregated fill wrong: %+v", f)
	}
}

func TestReconcileDetectsMissedClose(t *testing.T) {
	a, rest, _ := newTestAdapter(config.ExchangeConfig{Name: "Bybit"})
	closes := collect[exchange.PositionClosed](a.hub, exchange.KindPositionClosed, "BTCUSDT")

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}
	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5})
	a.handleExecutions([]Execution{
		{Symbol: "BTCUSDT", Side: "Buy", Price: 50000, Qty: 0.5},
	})

	// The stream missed the close; only the venue knows the symbol is flat.
	rest.setPosition(PositionData{Symbol: "BTCUSDT", Size: 0})
	rest.ticker = Ticker{Symbol: "BTCUSDT", LastPrice: 51000}
	a.reconcile(context.Background())

	if len(*closes) != 1 {
		t.Fatalf("close events: %+v", *closes)
	}
	if c := (*closes)[0]; c.Reason != exchange.ClosedSold || c.ExitPrice != 51000 {
		t.Fatalf("close event wrong: %+v", c)
	}
}

func TestReconcileFlattensExpiredPosition(t *testing.T) {
	cfg := config.ExchangeConfig{Name: "Bybit", PositionTimeout: config.Duration(time.Nanosecond)}
	a, rest, _ := newTestAdapter(cfg)

	if accepted, err := a.PlaceOrder(context.Background(), testOrder("BTCUSDT")); err != nil || !accepted {
		t.Fatalf("PlaceOrder: accepted=%v err=%v", accepted, err)
	}
	rest.setPosition(PositionData{Symbol: "BTCUSDT", Side: "Buy", Size: 0.5})
	a.handleExecutions([]Execution{
		{Symbol: "BTCUSDT", Side: "Buy", Price: 50000, Qty: 0.5},
	})

	time.Sleep(time.Millisecond)
	a.reconcile(context.Background())

	orders := rest.orders()
	if len(orders) != 2 {
		t.Fatalf("created %d orders, expected entry plus flatten", len(orders))
	}
	flatten := orders[1]
	if flatten.Side != "Sell" || flatten.OrderType != "Market" || !flatten.ReduceOnly || flatten.Qty != 0.5 {
		t.Fatalf("flatten order wrong: %+v", flatten)
	}
}
