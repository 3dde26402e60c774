// Package strategy implements the stateful policies that drive one accepted
// notification through order placement, fills, stop management and close.
// One instance exists per accepted notification; instances are owned by the
// signal manager and driven purely by exchange events after placement.
package strategy

import (
	"context"

	"github.com/google/uuid"

	"signal-trader/internal/model"
	"signal-trader/internal/notifier"
	"signal-trader/pkg/exchange"
)

// Registered strategy names, referenced by signal rule configuration.
const (
	NameFixedTakeProfit      = "FixedTakeProfit"
	NameTargetLadderTrailing = "TargetLadderTrailing"
	NameSignalFixedTargets   = "SignalFixedTargets"
	NameLimitFixedTargets    = "LimitFixedTargets"
	NameTrailingStopLoss     = "TrailingStopLoss"
)

// Strategy manages one open position's lifecycle and stop adjustments.
type Strategy interface {
	// ID is the unique instance identity.
	ID() uuid.UUID
	Name() string
	Symbol() string
	Exchange() exchange.Exchange

	// Execute validates the symbol, sizes the order and places it. It
	// reports false with no side effects left behind when the attempt is
	// rejected; on success the instance is live and event-driven.
	Execute(ctx context.Context, ex exchange.Exchange, n *model.Notification, sig *model.Signal) (bool, error)

	// OnClosed registers the completion callback fired exactly once when the
	// position lifecycle ends, whatever the close reason.
	OnClosed(fn func(s Strategy, e exchange.PositionClosed))

	// Position returns a copy of the currently tracked position, or nil
	// before the first fill.
	Position() *Position
}

// Deps bundles the collaborators injected into every instance.
type Deps struct {
	Notifier notifier.Notifier
}

// New resolves a strategy implementation by its configured name.
func New(name string, deps Deps) (Strategy, bool) {
	if deps.Notifier == nil {
		deps.Notifier = notifier.Noop{}
	}
	switch name {
	case NameFixedTakeProfit:
		return newFixedTakeProfit(deps), true
	case NameTargetLadderTrailing:
		return newTargetLadderTrailing(deps), true
	case NameSignalFixedTargets:
		return newSignalFixedTargets(deps), true
	case NameLimitFixedTargets:
		return newLimitFixedTargets(deps), true
	case NameTrailingStopLoss:
		return newTrailingStopLoss(deps), true
	default:
		return nil, false
	}
}
