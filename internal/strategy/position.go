package strategy

import "signal-trader/internal/model"

// Position is the runtime state of one open exchange position. It is created
// on the first fill event, mutated by every subsequent fill/tick/close event
// and dropped when the owning strategy closes.
type Position struct {
	Notification *model.Notification
	IsShort      bool

	// EntryPrice is the volume-weighted average of fills.
	EntryPrice float64
	// Quantity is the cumulative filled size; it only grows via partial fills.
	Quantity  float64
	LastPrice float64
	// LastLoss is the last stop-loss value sent to the exchange — the
	// authoritative current protective stop for trailing comparisons, even
	// when a remote stop update transiently fails.
	LastLoss  float64
	ExitPrice float64
}

func newPosition(n *model.Notification, fillPrice, quantity, initialStop float64) *Position {
	return &Position{
		Notification: n,
		IsShort:      n.IsShort(),
		EntryPrice:   fillPrice,
		Quantity:     quantity,
		LastPrice:    fillPrice,
		LastLoss:     initialStop,
	}
}

// ApplyFill folds one additional fill into the position: quantity
// accumulates and the entry becomes the quantity-weighted average price.
func (p *Position) ApplyFill(price, quantity float64) {
	if quantity <= 0 {
		return
	}
	total := p.Quantity + quantity
	p.EntryPrice = (p.EntryPrice*p.Quantity + price*quantity) / total
	p.Quantity = total
}
