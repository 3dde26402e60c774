package strategy

import (
	"context"
	"fmt"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// limitFixedTargets places a limit order at the signal price with take-profit
// and stop as fixed fractions of it. Alerts without an entry price are
// rejected; nothing adjusts after placement.
type limitFixedTargets struct {
	core
}

func newLimitFixedTargets(deps Deps) *limitFixedTargets {
	s := &limitFixedTargets{core: newCore(NameLimitFixedTargets, deps)}
	s.owner = s
	return s
}

func (s *limitFixedTargets) Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	if !s.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer s.mu.Unlock()

	ok, err := s.prepare(ctx, ex, n, sig)
	if !ok {
		return false, err
	}

	if n.SignalPrice == 0 {
		s.say(ctx, fmt.Sprintf("No entry price for %s - limit order not placed", n.SymbolName))
		return false, nil
	}

	takeProfit, stopLoss := entryTargets(n.SignalPrice, n.IsShort(), sig, s.digits)
	s.initialStop = stopLoss

	s.subscribe(nil)

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
