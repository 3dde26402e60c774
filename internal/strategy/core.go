package strategy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"signal-trader/internal/model"
	"signal-trader/internal/notifier"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
	"signal-trader/pkg/syncx"
)

// lockWait bounds how long a strategy instance waits for its own lock.
// Exchange callbacks and Execute contend on it; a wait past this bound means
// the instance is stuck and the operation fails instead of deadlocking.
const lockWait = time.Minute

var errLockTimeout = fmt.Errorf("strategy: lock wait exceeded %v", lockWait)

// core carries the state and event plumbing shared by all strategy variants.
// All event handlers and Execute run under the instance mutex, since
// exchange callbacks fire on a different goroutine than the call that
// created the instance.
type core struct {
	id    uuid.UUID
	name  string
	mu    *syncx.Mutex
	notif notifier.Notifier

	// owner is the variant embedding this core, reported on completion.
	owner Strategy

	ex     exchange.Exchange
	n      *model.Notification
	sig    *model.Signal
	digits int

	pos *Position
	// initialStop seeds Position.LastLoss on the first fill.
	initialStop float64

	unsubs   []func()
	closed   bool
	onClosed func(Strategy, exchange.PositionClosed)
}

func newCore(name string, deps Deps) core {
	return core{
		id:    uuid.New(),
		name:  name,
		mu:    syncx.NewMutex(),
		notif: deps.Notifier,
	}
}

func (c *core) ID() uuid.UUID               { return c.id }
func (c *core) Name() string                { return c.name }
func (c *core) Exchange() exchange.Exchange { return c.ex }

func (c *core) Symbol() string {
	if c.n == nil {
		return ""
	}
	return c.n.SymbolName
}

// Position returns a copy of the tracked position, safe to read without the
// instance lock.
func (c *core) Position() *Position {
	if !c.mu.Lock(lockWait) {
		log.Printf("%s: lock timeout reading position", c.name)
		return nil
	}
	defer c.mu.Unlock()
	if c.pos == nil {
		return nil
	}
	snapshot := *c.pos
	return &snapshot
}

func (c *core) OnClosed(fn func(Strategy, exchange.PositionClosed)) {
	if !c.mu.Lock(lockWait) {
		log.Printf("%s: lock timeout registering completion callback", c.name)
		return
	}
	defer c.mu.Unlock()
	c.onClosed = fn
}

// prepare runs the common Execute prologue: bind collaborators, validate the
// symbol and fix the notification's rounding for the instance lifetime.
// Callers hold the instance lock.
func (c *core) prepare(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	c.ex = ex
	c.n = n
	c.sig = sig

	exists, err := ex.SymbolExists(ctx, n.SymbolName)
	if err != nil {
		return false, fmt.Errorf("%s: symbol lookup: %w", c.name, err)
	}
	if !exists {
		c.say(ctx, fmt.Sprintf("Symbol %s not found on exchange %s", n.SymbolName, sig.Exchange))
		return false, nil
	}

	digits, err := ex.SymbolDigits(ctx, n.SymbolName)
	if err != nil {
		return false, fmt.Errorf("%s: symbol digits: %w", c.name, err)
	}
	c.digits = digits
	n.Round(digits)
	return true, nil
}

// subscribe registers the instance's event handlers, scoped to its symbol.
// onTick may be nil for variants that never adjust the stop.
func (c *core) subscribe(onTick exchange.Handler) {
	hub := c.ex.Events()
	sym := c.n.SymbolName
	c.unsubs = append(c.unsubs,
		hub.Subscribe(exchange.KindOrderFilled, sym, c.handleFilled),
		hub.Subscribe(exchange.KindPositionClosed, sym, c.handleClosed),
	)
	if onTick != nil {
		c.unsubs = append(c.unsubs, hub.Subscribe(exchange.KindTickerChanged, sym, onTick))
	}
}

func (c *core) unsubscribeAll() {
	for _, unsub := range c.unsubs {
		unsub()
	}
	c.unsubs = nil
}

func (c *core) handleFilled(payload any) {
	e, ok := payload.(exchange.OrderFilled)
	if !ok || e.Symbol != c.Symbol() {
		return
	}
	if !c.mu.Lock(lockWait) {
		log.Printf("%s: lock timeout on fill for %s", c.name, e.Symbol)
		return
	}
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.pos != nil {
		c.pos.ApplyFill(e.Price, e.Quantity)
		return
	}

	c.pos = newPosition(c.n, e.Price, e.Quantity, c.initialStop)
	c.say(context.Background(), fmt.Sprintf("Position created for %s, entry %v",
		c.n.SymbolName, calc.Round(e.Price, c.n.Decimals)))
}

func (c *core) handleClosed(payload any) {
	e, ok := payload.(exchange.PositionClosed)
	if !ok || e.Symbol != c.Symbol() {
		return
	}
	if !c.mu.Lock(lockWait) {
		log.Printf("%s: lock timeout on close for %s", c.name, e.Symbol)
		return
	}
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.unsubscribeAll()

	var message string
	if c.pos != nil {
		c.pos.ExitPrice = e.ExitPrice
		pnl := e.PnL
		if pnl == 0 {
			pnl = calc.PnL(c.pos.Quantity, c.pos.EntryPrice, c.pos.ExitPrice, c.pos.IsShort)
		}
		message = fmt.Sprintf("Position closed for %s. Entry %v, exit %v, pnl %v",
			c.n.SymbolName,
			calc.Round(c.pos.EntryPrice, c.n.Decimals),
			calc.Round(c.pos.ExitPrice, c.n.Decimals),
			calc.Round(pnl, 4))
	} else if e.Reason == exchange.ClosedCancelled {
		message = fmt.Sprintf("Position cancelled for %s because of order timeout - was never opened!", e.Symbol)
	}

	cb := c.onClosed
	owner := c.owner
	c.mu.Unlock()

	if message != "" {
		log.Printf("%s: %s", c.name, message)
		c.say(context.Background(), message)
	}
	// Completion fires for every close, whatever the reason, so the manager
	// always reclaims admission capacity.
	if cb != nil {
		cb(owner, e)
	}
}

// updateStop sends a tightened stop and records it as the authoritative
// current protective stop. A failed remote update is logged only; LastLoss
// still advances so the next favorable tick retries from the same baseline.
func (c *core) updateStop(ctx context.Context, stop float64) {
	c.pos.LastLoss = stop
	if err := c.ex.SetStopLoss(ctx, c.n.SymbolName, c.pos.IsShort, stop); err != nil {
		log.Printf("%s: stop loss update for %s failed: %v", c.name, c.n.SymbolName, err)
		return
	}
	message := fmt.Sprintf("Stop loss updated for %s to %v", c.n.SymbolName, stop)
	log.Printf("%s: %s", c.name, message)
	c.say(ctx, message)
}

func (c *core) say(ctx context.Context, message string) {
	if c.notif != nil {
		c.notif.Send(ctx, message)
	}
}
