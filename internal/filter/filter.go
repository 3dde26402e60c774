// Package filter holds the optional pre-trade gates consulted before a
// strategy is allowed to execute. Filters are advisory: a signal rule with
// no filter configured executes unconditionally.
package filter

import (
	"context"
	"fmt"

	"signal-trader/internal/model"
	"signal-trader/pkg/exchange"
)

// Filter is one pre-trade gate. Pass reports whether the notification may
// execute; on veto, Message returns a human-readable rejection.
type Filter interface {
	Name() string
	Pass(ctx context.Context, signal *model.Signal, n *model.Notification, ex exchange.Exchange) (bool, error)
	Message() string
}

// New resolves a configured filter by name.
func New(cfg *model.FilterConfig) (Filter, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Name {
	case CciFilterName:
		return NewCciFilter(cfg.Symbol, cfg.Period, cfg.Offset), nil
	default:
		return nil, fmt.Errorf("unknown filter %q", cfg.Name)
	}
}
