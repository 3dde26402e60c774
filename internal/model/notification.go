// Package model defines the domain types exchanged between the ingress, the
// signal manager and the strategies.
package model

import "signal-trader/pkg/calc"

// Alert is the raw inbound payload of a trading alert. All fields are
// optional on the wire; absent values map to zero in Notification.
type Alert struct {
	Type             *int     `json:"Type"`
	CustomSignalName *string  `json:"CustomSignalName"`
	Exchange         *string  `json:"Exchange"`
	MarketName       *string  `json:"MarketName"`
	Period           *int     `json:"Period"`
	Signal           *int     `json:"Signal"`
	SignalTypeID     *int     `json:"SignalTypeId"`
	SignalPrice      *float64 `json:"SignalPrice"`
	StopLoss         *float64 `json:"StopLoss"`
	Target1          *float64 `json:"Target1"`
	Target2          *float64 `json:"Target2"`
	Target3          *float64 `json:"Target3"`
	Target4          *float64 `json:"Target4"`
	Target5          *float64 `json:"Target5"`
	Closed           *bool    `json:"Closed"`
	ClosePrice       *float64 `json:"ClosePrice"`
}

// Notification is one trading alert. It is immutable after creation except
// for Round, which fixes the symbol's tick precision and re-rounds every
// price field in place. That rounding is one-way for the notification's
// lifetime.
type Notification struct {
	Type         int
	SignalTypeID int
	SymbolName   string
	// Signal's sign encodes direction: >0 long, <0 short.
	Signal      int
	SignalPrice float64
	StopLoss    float64
	// Targets is the ascending take-profit ladder (Target1..Target5).
	Targets  [5]float64
	Closed   bool
	Decimals int
}

// NewNotification maps a raw alert into a Notification, treating absent
// fields as zero.
func NewNotification(a *Alert) *Notification {
	n := &Notification{}
	if a.Type != nil {
		n.Type = *a.Type
	}
	if a.MarketName != nil {
		n.SymbolName = *a.MarketName
	}
	if a.Signal != nil {
		n.Signal = *a.Signal
	}
	if a.SignalTypeID != nil {
		n.SignalTypeID = *a.SignalTypeID
	}
	if a.SignalPrice != nil {
		n.SignalPrice = *a.SignalPrice
	}
	if a.StopLoss != nil {
		n.StopLoss = *a.StopLoss
	}
	for i, p := range []*float64{a.Target1, a.Target2, a.Target3, a.Target4, a.Target5} {
		if p != nil {
			n.Targets[i] = *p
		}
	}
	if a.Closed != nil {
		n.Closed = *a.Closed
	}
	return n
}

// IsShort reports whether the alert calls for a short position.
func (n *Notification) IsShort() bool {
	return n.Signal < 0
}

// Target returns the 1-based take-profit target at index i.
func (n *Notification) Target(i int) (float64, bool) {
	if i < 1 || i > len(n.Targets) {
		return 0, false
	}
	return n.Targets[i-1], true
}

// Round fixes the tick precision and rounds all price fields in place.
func (n *Notification) Round(decimals int) {
	n.Decimals = decimals
	n.SignalPrice = calc.Round(n.SignalPrice, decimals)
	n.StopLoss = calc.Round(n.StopLoss, decimals)
	for i := range n.Targets {
		n.Targets[i] = calc.Round(n.Targets[i], decimals)
	}
}
