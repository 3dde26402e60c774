package strategy

import (
	"context"
	"fmt"

	"signal-trader/internal/model"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/exchange"
)

// signalFixedTargets computes take-profit and stop as fixed fractions of the
// signal price, signed by direction. The stop can instead be taken verbatim
// from the notification. No adjustment happens after placement.
type signalFixedTargets struct {
	core
}

func newSignalFixedTargets(deps Deps) *signalFixedTargets {
	s := &signalFixedTargets{core: newCore(NameSignalFixedTargets, deps)}
	s.owner = s
	return s
}

func (s *signalFixedTargets) Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error) {
	if !s.mu.Lock(lockWait) {
		return false, errLockTimeout
	}
	defer s.mu.Unlock()

	ok, err := s.prepare(ctx, ex, n, sig)
	if !ok {
		return false, err
	}

	price := n.SignalPrice
	if price == 0 {
		// Alerts without an entry price trade at the live market price.
		price, err = ex.LastPrice(ctx, n.SymbolName)
		if err != nil || price == 0 {
			s.say(ctx, fmt.Sprintf("Could not get price for %s", n.SymbolName))
			return false, err
		}
		price = calc.Round(price, s.digits)
	}

	takeProfit, stopLoss := entryTargets(price, n.IsShort(), sig, s.digits)
	if sig.UseStopLossFromSignal {
		stopLoss = n.StopLoss
	}
	s.initialStop = stopLoss

	s.subscribe(nil)

	amount := calc.Amount(sig.RiskPerTrade*sig.RiskFactor, stopLoss, price)
	accepted, err := ex.PlaceOrder(ctx, exchange.OrderRequest{
		Symbol:     n.SymbolName,
		Price:      price,
		IsShort:    n.IsShort(),
		IsLimit:    false,
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

// entryTargets derives the take-profit/stop pair from a reference price and
// the signal rule's fractional offsets.
func entryTargets(price float64, isShort bool, sig *model.Signal, digits int) (takeProfit, stopLoss float64) {
	if isShort {
		takeProfit = calc.Round(price-price*sig.TakeProfit, digits)
		stopLoss = calc.Round(price+price*sig.StopLoss, digits)
		return
	}
	takeProfit = calc.Round(price+price*sig.TakeProfit, digits)
	stopLoss = calc.Round(price-price*sig.StopLoss, digits)
	return
}
