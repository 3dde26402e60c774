package bybit

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-trader/internal/config"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
	"signal-trader/pkg/syncx"
)

// lockWait bounds the adapter lock. PlaceOrder holds it across REST calls,
// so the bound is generous.
const lockWait = 2 * time.Minute

// reconcileInterval is how often pending orders and confirmed positions are
// re-checked against the venue.
const reconcileInterval = time.Minute

var errLockTimeout = fmt.Errorf("bybit: adapter lock wait exceeded %v", lockWait)

// restAPI is the REST surface the adapter needs; satisfied by *Client and by
// test fakes.
type restAPI interface {
	Instrument(ctx context.Context, symbol string) (Instrument, bool, error)
	Ticker(ctx context.Context, symbol string) (Ticker, error)
	Klines(ctx context.Context, symbol, interval string, start, end time.Time) ([]Kline, error)
	CreateOrder(ctx context.Context, p CreateOrderParams) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	Position(ctx context.Context, symbol string) (PositionData, error)
	SetTradingStop(ctx context.Context, symbol string, stopLoss float64) error
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
	SwitchIsolated(ctx context.Context, symbol string, leverage float64) error
}

// tickerFeed is the public stream surface the adapter needs.
type tickerFeed interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// orderState tracks one in-flight attempt: from order placement, through the
// confirming fill, to the position going flat.
type orderState struct {
	orderID   string
	isShort   bool
	confirmed bool
	// orderDeadline cancels an unfilled order; cleared on confirmation.
	orderDeadline time.Time
	// positionDeadline flattens a position that lives too long.
	positionDeadline time.Time
	// exitPrice remembers the last reducing fill for the close event.
	exitPrice float64
}

// pendingEvent is an event built under the adapter lock and published after
// release, so subscribers never run inside the adapter's critical section.
type pendingEvent struct {
	kind    exchange.Kind
	symbol  string
	payload any
}

// Adapter implements the exchange contract for Bybit linear futures. It owns
// the per-symbol in-flight state: a symbol with a live attempt rejects new
// orders until its position closes.
type Adapter struct {
	cfg     config.ExchangeConfig
	rest    restAPI
	public  tickerFeed
	private *PrivateStream
	hub     *exchange.Hub

	mu       *syncx.Mutex
	inFlight map[string]*orderState

	cacheMu     sync.Mutex
	instruments map[string]Instrument
}

// New wires an adapter with a live REST client and both websocket streams.
func New(cfg config.ExchangeConfig) *Adapter {
	a := newAdapter(cfg, NewClient(ClientConfig{
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
		BaseURL:   cfg.RestBaseURL,
	}))
	a.public = NewPublicStream(cfg.WSPublicURL, a.publishTicker)
	a.private = NewPrivateStream(cfg.WSPrivateURL, cfg.APIKey, cfg.APISecret, a.handleExecutions)
	return a
}

func newAdapter(cfg config.ExchangeConfig, rest restAPI) *Adapter {
	return &Adapter{
		cfg:         cfg,
		rest:        rest,
		hub:         exchange.NewHub(),
		mu:          syncx.NewMutex(),
		inFlight:    make(map[string]*orderState),
		instruments: make(map[string]Instrument),
	}
}

// Start connects the streams and runs the reconciliation loop until ctx is
// done.
func (a *Adapter) Start(ctx context.Context) {
	if s, ok := a.public.(*PublicStream); ok {
		s.Start(ctx)
	}
	if a.private != nil {
		a.private.Start(ctx)
	}
	go func() {
		ticker := time.NewTicker(reconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.reconcile(ctx)
			}
		}
	}()
}

func (a *Adapter) Name() string          { return a.cfg.Name }
func (a *Adapter) Events() *exchange.Hub { return a.hub }

// PlaceOrder places one order for the symbol. A symbol with an attempt
// already in flight is rejected. The ticker subscription happens before the
// order so no early tick is missed; a venue rejection rolls it back.
func (a *Adapter) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (bool, error) {
	if !a.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer a.mu.Unlock()

	if _, ok := a.inFlight[req.Symbol]; ok {
		log.Printf("bybit: rejecting order for %s - attempt already in flight", req.Symbol)
		return false, nil
	}

	// Margin and leverage setup is best-effort: the venue answers
	// "not modified" for repeats and a failure must not block the order.
	if a.cfg.IsolatedMargin && req.Leverage > 0 {
		if err := a.rest.SwitchIsolated(ctx, req.Symbol, req.Leverage); err != nil {
			log.Printf("bybit: switch isolated for %s: %v", req.Symbol, err)
		}
	}
	if req.Leverage > 0 {
		if err := a.rest.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
			log.Printf("bybit: set leverage for %s: %v", req.Symbol, err)
		}
	}

	if err := a.public.Subscribe(req.Symbol); err != nil {
		return false, fmt.Errorf("bybit: subscribe %s: %w", req.Symbol, err)
	}

	side := "Buy"
	if req.IsShort {
		side = "Sell"
	}
	orderType := "Market"
	if req.IsLimit {
		orderType = "Limit"
	}
	orderID, err := a.rest.CreateOrder(ctx, CreateOrderParams{
		Symbol:     req.Symbol,
		Side:       side,
		OrderType:  orderType,
		Qty:        req.Amount,
		Price:      req.Price,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
	})
	if err != nil {
		if uerr := a.public.Unsubscribe(req.Symbol); uerr != nil {
			log.Printf("bybit: unsubscribe %s after rejection: %v", req.Symbol, uerr)
		}
		return false, err
	}

	st := &orderState{orderID: orderID, isShort: req.IsShort}
	if a.cfg.OrderTimeout.Std() > 0 {
		st.orderDeadline = time.Now().Add(a.cfg.OrderTimeout.Std())
	}
	a.inFlight[req.Symbol] = st
	log.Printf("bybit: order %s placed for %s (%s %s qty %v)", orderID, req.Symbol, side, orderType, req.Amount)
	return true, nil
}

// SymbolExists reports whether the contract is listed.
func (a *Adapter) SymbolExists(ctx context.Context, symbol string) (bool, error) {
	_, found, err := a.instrument(ctx, symbol)
	return found, err
}

// SymbolDigits returns the tick precision derived from the contract's tick
// size.
func (a *Adapter) SymbolDigits(ctx context.Context, symbol string) (int, error) {
	inst, found, err := a.instrument(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("bybit: unknown symbol %s", symbol)
	}
	return calc.Digits(inst.TickSize), nil
}

func (a *Adapter) instrument(ctx context.Context, symbol string) (Instrument, bool, error) {
	a.cacheMu.Lock()
	inst, ok := a.instruments[symbol]
	a.cacheMu.Unlock()
	if ok {
		return inst, true, nil
	}

	inst, found, err := a.rest.Instrument(ctx, symbol)
	if err != nil || !found {
		return Instrument{}, false, err
	}
	a.cacheMu.Lock()
	a.instruments[symbol] = inst
	a.cacheMu.Unlock()
	return inst, true, nil
}

func (a *Adapter) LastPrice(ctx context.Context, symbol string) (float64, error) {
	t, err := a.rest.Ticker(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return t.LastPrice, nil
}

func (a *Adapter) SetStopLoss(ctx context.Context, symbol string, _ bool, price float64) error {
	return a.rest.SetTradingStop(ctx, symbol, price)
}

func (a *Adapter) PositionInfo(ctx context.Context, symbol string) (exchange.PositionSnapshot, error) {
	pos, err := a.rest.Position(ctx, symbol)
	if err != nil {
		return exchange.PositionSnapshot{Symbol: symbol}, err
	}
	return exchange.PositionSnapshot{
		Valid:         pos.Size > 0,
		Symbol:        symbol,
		Quantity:      pos.Size,
		Size:          pos.Size,
		UnrealizedPnL: pos.UnrealisedPnL,
		Margin:        pos.PositionIM,
		Leverage:      pos.Leverage,
		StopLoss:      pos.StopLoss,
		TakeProfit:    pos.TakeProfit,
		IsShort:       pos.Side == "Sell",
	}, nil
}

func (a *Adapter) Klines(ctx context.Context, symbol string, period exchange.KlinePeriod, start, end time.Time) ([]exchange.Candle, error) {
	klines, err := a.rest.Klines(ctx, symbol, string(period), start, end)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Candle, len(klines))
	for i, k := range klines {
		out[i] = exchange.Candle{
			OpenTime: k.StartTime,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return out, nil
}

func (a *Adapter) publishTicker(symbol string, lastPrice float64) {
	a.hub.Publish(exchange.KindTickerChanged, symbol, exchange.TickerUpdate{
		Symbol:    symbol,
		LastPrice: lastPrice,
	})
}

// handleExecutions processes one private-stream execution batch. Fills on the
// opening side become one OrderFilled event per symbol; once the venue
// reports the symbol flat the attempt is released and PositionClosed is
// published.
func (a *Adapter) handleExecutions(execs []Execution) {
	bySymbol := make(map[string][]Execution)
	for _, e := range execs {
		bySymbol[e.Symbol] = append(bySymbol[e.Symbol], e)
	}

	ctx := context.Background()
	var pending []pendingEvent
	for symbol, fills := range bySymbol {
		if !a.mu.Lock(lockWait) {
			log.Printf("bybit: lock timeout handling executions for %s", symbol)
			continue
		}
		st, ok := a.inFlight[symbol]
		if !ok {
			a.mu.Unlock()
			continue
		}

		openingSide := "Buy"
		if st.isShort {
			openingSide = "Sell"
		}
		// Opening fills of one batch collapse into a single event with the
		// volume-weighted price; reducing fills only memo the exit price.
		var filledQty, notional float64
		for _, f := range fills {
			if f.Side == openingSide {
				filledQty += f.Qty
				notional += f.Price * f.Qty
				continue
			}
			st.exitPrice = f.Price
		}
		if filledQty > 0 {
			pending = append(pending, pendingEvent{
				kind:   exchange.KindOrderFilled,
				symbol: symbol,
				payload: exchange.OrderFilled{
					Symbol:   symbol,
					Price:    notional / filledQty,
					Quantity: filledQty,
				},
			})
		}

		pos, err := a.rest.Position(ctx, symbol)
		if err != nil {
			log.Printf("bybit: position lookup for %s: %v", symbol, err)
			a.mu.Unlock()
			continue
		}
		if pos.Size > 0 {
			if !st.confirmed {
				st.confirmed = true
				st.orderDeadline = time.Time{}
				if a.cfg.PositionTimeout.Std() > 0 {
					st.positionDeadline = time.Now().Add(a.cfg.PositionTimeout.Std())
				}
			}
		} else if st.confirmed || st.exitPrice > 0 {
			pending = append(pending, a.release(symbol, st, exchange.ClosedSold, st.exitPrice))
		}
		a.mu.Unlock()
	}

	for _, e := range pending {
		a.hub.Publish(e.kind, e.symbol, e.payload)
	}
}

// release drops the in-flight state and builds the close event. Callers hold
// the adapter lock.
func (a *Adapter) release(symbol string, st *orderState, reason exchange.ClosedReason, exitPrice float64) pendingEvent {
	delete(a.inFlight, symbol)
	if err := a.public.Unsubscribe(symbol); err != nil {
		log.Printf("bybit: unsubscribe %s on release: %v", symbol, err)
	}
	log.Printf("bybit: released %s (%s)", symbol, reason)
	return pendingEvent{
		kind:   exchange.KindPositionClosed,
		symbol: symbol,
		payload: exchange.PositionClosed{
			Symbol:    symbol,
			ExitPrice: exitPrice,
			Reason:    reason,
		},
	}
}

// reconcile re-checks every in-flight attempt against the venue: unfilled
// orders past their deadline are cancelled, positions that disappeared
// without a stream event are released, and positions past their lifetime are
// flattened at market.
func (a *Adapter) reconcile(ctx context.Context) {
	if !a.mu.Lock(lockWait) {
		log.Printf("bybit: lock timeout in reconciliation")
		return
	}

	now := time.Now()
	var pending []pendingEvent
	for symbol, st := range a.inFlight {
		if !st.confirmed {
			if st.orderDeadline.IsZero() || now.Before(st.orderDeadline) {
				continue
			}
			// The cancel may race a fill, and even a successful cancel can
			// follow a partial fill whose stream event is still in flight.
			// The venue's position is checked before releasing either way.
			if err := a.rest.CancelOrder(ctx, symbol, st.orderID); err != nil {
				log.Printf("bybit: cancel timed-out order %s for %s: %v", st.orderID, symbol, err)
			}
			pos, perr := a.rest.Position(ctx, symbol)
			if perr != nil {
				// Unknown state; keep the attempt and retry next tick.
				log.Printf("bybit: position lookup after cancel for %s: %v", symbol, perr)
				continue
			}
			if pos.Size > 0 {
				st.confirmed = true
				st.orderDeadline = time.Time{}
				if a.cfg.PositionTimeout.Std() > 0 {
					st.positionDeadline = now.Add(a.cfg.PositionTimeout.Std())
				}
				continue
			}
			pending = append(pending, a.release(symbol, st, exchange.ClosedCancelled, 0))
			continue
		}

		pos, err := a.rest.Position(ctx, symbol)
		if err != nil {
			log.Printf("bybit: reconcile position for %s: %v", symbol, err)
			continue
		}
		if pos.Size == 0 {
			exit := st.exitPrice
			if exit == 0 {
				if t, terr := a.rest.Ticker(ctx, symbol); terr == nil {
					exit = t.LastPrice
				}
			}
			pending = append(pending, a.release(symbol, st, exchange.ClosedSold, exit))
			continue
		}
		if !st.positionDeadline.IsZero() && now.After(st.positionDeadline) {
			log.Printf("bybit: position lifetime exceeded for %s, flattening", symbol)
			side := "Sell"
			if st.isShort {
				side = "Buy"
			}
			if _, err := a.rest.CreateOrder(ctx, CreateOrderParams{
				Symbol:     symbol,
				Side:       side,
				OrderType:  "Market",
				Qty:        pos.Size,
				ReduceOnly: true,
			}); err != nil {
				log.Printf("bybit: flatten %s: %v", symbol, err)
				continue
			}
			// Clear the deadline; the close arrives via the execution stream.
			st.positionDeadline = time.Time{}
		}
	}
	a.mu.Unlock()

	for _, e := range pending {
		a.hub.Publish(e.kind, e.symbol, e.payload)
	}
}
