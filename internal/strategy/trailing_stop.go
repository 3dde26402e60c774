package strategy

import (
	"context"
	"fmt"
	"log"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// trailingStopLoss places a limit order with signal-relative targets and
// trails the stop once price has moved the configured start offset in the
// favorable direction from entry. Once armed, the stop follows the last
// price at the trailing offset and only ever moves in the position's favor.
type trailingStopLoss struct {
	core
	trailingArmed bool
}

func newTrailingStopLoss(deps Deps) *trailingStopLoss {
	s := &trailingStopLoss{core: newCore(NameTrailingStopLoss, deps)}
	s.owner = s
	return s
}

func (s *trailingStopLoss) Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	if !s.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer s.mu.Unlock()

	ok, err := s.prepare(ctx, ex, n, sig)
	if !ok {
		return false, err
	}

	takeProfit, stopLoss := entryTargets(n.SignalPrice, n.IsShort(), sig, s.digits)
	if sig.UseStopLossFromSignal {
		stopLoss = n.StopLoss
	}
	s.initialStop = stopLoss

	s.subscribe(s.handleTicker)

	amount := calc.Amount(sig.RiskPerTrade*sig.RiskFactor, stopLoss, n.SignalPrice)
	accepted, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     n.SymbolName,
		Price:      n.SignalPrice,
		IsShort:    n.IsShort(),
		IsLimit:    true,
		Amount:     amount,
		StopLoss:   stopLoss,
		TakeProfit: takeProfit,
		Leverage:   sig.Leverage,
	})
	if err != nil || !accepted {
		s.unsubscribeAll()
		return false, err
	}
	return true, nil
}

func (s *trailingStopLoss) handleTicker(payload any) {
	e, ok := payload.(exchange.TickerUpdate)
	if !ok || e.Symbol != s.Symbol() {
		return
	}
	if !s.mu.Lock(lockWait) {
		log.Printf("%s: lock timeout on tick for %s", s.name, e.Symbol)
		return
	}
	defer s.mu.Unlock()

	if s.closed || s.pos == nil {
		return
	}
	s.pos.LastPrice = e.LastPrice

	if !s.trailingArmed {
		offset := e.LastPrice/s.pos.EntryPrice - 1
		if s.pos.IsShort {
			offset = 1 - e.LastPrice/s.pos.EntryPrice
		}
		if offset <= s.sig.TrailingStartOffset {
			return
		}
		s.trailingArmed = true
		message := fmt.Sprintf("Enabled trailing for %s at %v", s.n.SymbolName, e.LastPrice)
		log.Printf("%s: %s", s.name, message)
		s.say(context.Background(), message)
	}

	var stop float64
	if s.pos.IsShort {
		stop = calc.Round(e.LastPrice+e.LastPrice*s.sig.TrailingOffset, s.digits)
		if stop >= s.pos.LastLoss {
			return
		}
	} else {
		stop = calc.Round(e.LastPrice-e.LastPrice*s.sig.TrailingOffset, s.digits)
		if stop <= s.pos.LastLoss {
			return
		}
	}

	s.updateStop(context.Background(), stop)
}
