package strategy

import (
	"context"
	"log"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// targetLadderTrailing opens at market with the fifth target as take-profit
// and ratchets the stop through the notification's ladder as price advances:
// past Target4 the stop moves to Target3, past Target3 to Target1, past
// Target2 to the signal price. The stop is only ever tightened.
type targetLadderTrailing struct {
	core
}

func newTargetLadderTrailing(deps Deps) *targetLadderTrailing {
	s := &targetLadderTrailing{core: newCore(NameTargetLadderTrailing, deps)}
	s.owner = s
	return s
}

func (s *targetLadderTrailing) Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	if !s.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer s.mu.Unlock()

	ok, err := s.prepare(ctx, ex, n, sig)
	if !ok {
		return false, err
	}
	s.initialStop = n.StopLoss

	s.subscribe(s.handleTicker)

	amount := calc.Amount(sig.RiskPerTrade*sig.RiskFactor, n.StopLoss, n.SignalPrice)
	accepted, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     n.SymbolName,
		Price:      n.SignalPrice,
		IsShort:    n.IsShort(),
		IsLimit:    false,
		Amount:     amount,
		StopLoss:   n.StopLoss,
		TakeProfit: n.Targets[4],
		Leverage:   sig.Leverage,
	})
	if err != nil || !accepted {
		s.unsubscribeAll()
		return false, err
	}
	return true, nil
}

func (s *targetLadderTrailing) handleTicker(payload any) {
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

	stop, ok := s.nextStop(e.LastPrice)
	if !ok {
		return
	}
	// The stop only ever tightens; candidates that would loosen it are
	// silently ignored.
	if s.pos.IsShort {
		if stop >= s.pos.LastLoss {
			return
		}
	} else {
		if stop <= s.pos.LastLoss {
			return
		}
	}

	s.updateStop(context.Background(), stop)
}

// nextStop maps the last price onto the ladder rung the stop should sit at.
func (s *targetLadderTrailing) nextStop(lastPrice float64) (float64, bool) {
	n := s.n
	if s.pos.IsShort {
		switch {
		case lastPrice < n.Targets[3]:
			return n.Targets[2], true
		case lastPrice < n.Targets[2]:
			return n.Targets[0], true
		case lastPrice < n.Targets[1]:
			return n.SignalPrice, true
		}
		return 0, false
	}
	switch {
	case lastPrice > n.Targets[3]:
		return n.Targets[2], true
	case lastPrice > n.Targets[2]:
		return n.Targets[0], true
	case lastPrice > n.Targets[1]:
		return n.SignalPrice, true
	}
	return 0, false
}
