package strategy

import (
	"context"
	"fmt"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// fixedTakeProfit places a limit order at the signal price with the
// take-profit taken from the notification's target ladder at the configured
// index and the notification's own stop. The stop is never adjusted.
type fixedTakeProfit struct {
	core
}

func newFixedTakeProfit(deps Deps) *fixedTakeProfit {
	s := &fixedTakeProfit{core: newCore(NameFixedTakeProfit, deps)}
	s.owner = s
	return s
}

func (s *fixedTakeProfit) Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	if !s.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer s.mu.Unlock()

	ok, err := s.prepare(ctx, ex, n, sig)
	if !ok {
		return false, err
	}

	takeProfit, ok := n.Target(sig.TakeProfitIndex)
	if !ok {
		s.say(ctx, fmt.Sprintf("Could not read take profit for %s index %d", n.SymbolName, sig.TakeProfitIndex))
		return false, nil
	}
	s.initialStop = n.StopLoss

	s.subscribe(nil)

	amount := calc.Amount(sig.RiskPerTrade*sig.RiskFactor, n.StopLoss, n.SignalPrice)
	accepted, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     n.SymbolName,
		Price:      n.SignalPrice,
		IsShort:    n.IsShort(),
		IsLimit:    true,
		Amount:     amount,
		StopLoss:   n.StopLoss,
		TakeProfit: takeProfit,
		Leverage:   sig.Leverage,
	})
	if err != nil || !accepted {
		s.unsubscribeAll()
		return false, err
	}
	return true, nil
}
