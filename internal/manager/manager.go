// Package manager owns the admission pipeline: it matches inbound
// notifications against configured signal rules, enforces the position cap,
// runs pre-trade filters and hands accepted notifications to a fresh
// strategy instance. It is the only component that mutates the set of live
// strategies.
package manager

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"signal-trader/internal/filter"
	"signal-trader/internal/model"
	"signal-trader/internal/notifier"
	"signal-trader/internal/strategy"
	"signal-trader/pkg/calc"
	"signal-trader/pkg/db"
	"signal-trader/pkg/exchange"
	"signal-trader/pkg/syncx"
)

// lockWait bounds the manager lock. It is longer than the strategy bound
// because Execute holds it across symbol validation and order placement.
const lockWait = 2 * time.Minute

var errLockTimeout = fmt.Errorf("manager: lock wait exceeded %v", lockWait)

// Journal persists accepted notifications and finished trades. Persistence
// failures are logged and never block the trading path.
type Journal interface {
	InsertNotification(ctx context.Context, rec db.NotificationRecord) error
	InsertTrade(ctx context.Context, rec db.TradeRecord) error
}

// Options carries the manager's configuration and collaborators.
type Options struct {
	Signals      []*model.Signal
	Exchanges    map[string]exchange.Exchange
	MaxPositions int
	Notifier     notifier.Notifier
	Journal      Journal
}

// Manager routes notifications to strategies and tracks the live set.
type Manager struct {
	mu           *syncx.Mutex
	signals      []*model.Signal
	exchanges    map[string]exchange.Exchange
	maxPositions int
	notif        notifier.Notifier
	journal      Journal

	// filters are resolved once at construction, keyed by their signal rule.
	filters map[*model.Signal]filter.Filter

	active map[uuid.UUID]strategy.Strategy
}

// New builds a manager and resolves each signal rule's filter. Unknown
// filter names fail construction rather than surfacing on the first alert.
func New(opts Options) (*Manager, error) {
	if opts.Notifier == nil {
		opts.Notifier = notifier.Noop{}
	}
	m := &Manager{
		mu:           syncx.NewMutex(),
		signals:      opts.Signals,
		exchanges:    opts.Exchanges,
		maxPositions: opts.MaxPositions,
		notif:        opts.Notifier,
		journal:      opts.Journal,
		filters:      make(map[*model.Signal]filter.Filter),
		active:       make(map[uuid.UUID]strategy.Strategy),
	}
	for _, sig := range opts.Signals {
		f, err := filter.New(sig.Filter)
		if err != nil {
			return nil, fmt.Errorf("signal %q: %w", sig.SignalName, err)
		}
		if f != nil {
			m.filters[sig] = f
		}
	}
	return m, nil
}

// Execute runs one notification through admission. The first matching,
// active signal rule whose direction and filter accept the notification gets
// it; at most one strategy instance is created per notification. Rejections
// are reported to the operator and are not errors.
func (m *Manager) Execute(ctx context.Context, n *model.Notification) error {
	if n == nil || n.SymbolName == "" {
		return nil
	}
	if n.Closed {
		log.Printf("manager: ignoring close alert for %s", n.SymbolName)
		return nil
	}

	if !m.mu.Lock(lockWait) {
		m.notif.Send(ctx, fmt.Sprintf("Could not process notification for %s - manager is busy", n.SymbolName))
		return errLockTimeout
	}
	defer m.mu.Unlock()

	if len(m.signals) == 0 {
		m.notif.Send(ctx, "No signals configured - notification ignored")
		return nil
	}
	if len(m.exchanges) == 0 {
		m.notif.Send(ctx, "No exchanges configured - notification ignored")
		return nil
	}
	if len(m.active) >= m.maxPositions {
		m.notif.Send(ctx, fmt.Sprintf("Maximum number of parallel positions (%d) reached - ignoring %s",
			m.maxPositions, n.SymbolName))
		return nil
	}

	for _, sig := range m.signals {
		if !sig.Matches(n) {
			continue
		}
		if !sig.IsActive {
			log.Printf("manager: signal %q matched %s but is inactive", sig.SignalName, n.SymbolName)
			continue
		}
		if !sig.Direction.Matches(n.Signal) {
			log.Printf("manager: signal %q skipped %s - direction mismatch", sig.SignalName, n.SymbolName)
			continue
		}

		ex, ok := m.exchanges[sig.Exchange]
		if !ok {
			m.notif.Send(ctx, fmt.Sprintf("Exchange %s for signal %q is not configured", sig.Exchange, sig.SignalName))
			continue
		}

		// A rule that fails past this point does not consume the
		// notification; the next matching rule still gets a chance.
		if f := m.filters[sig]; f != nil {
			pass, err := f.Pass(ctx, sig, n, ex)
			if err != nil {
				log.Printf("manager: filter %s failed for %s: %v", f.Name(), n.SymbolName, err)
				continue
			}
			if !pass {
				m.notif.Send(ctx, f.Message())
				continue
			}
		}

		strat, ok := strategy.New(sig.Strategy, strategy.Deps{Notifier: m.notif})
		if !ok {
			m.notif.Send(ctx, fmt.Sprintf("Unknown strategy %q for signal %q", sig.Strategy, sig.SignalName))
			continue
		}
		strat.OnClosed(m.completed)

		accepted, err := strat.Execute(ctx, ex, n, sig)
		if err != nil {
			log.Printf("manager: strategy %s failed for %s: %v", sig.Strategy, n.SymbolName, err)
			continue
		}
		if !accepted {
			continue
		}

		m.active[strat.ID()] = strat
		log.Printf("manager: %s accepted %s via signal %q (%d/%d positions)",
			sig.Strategy, n.SymbolName, sig.SignalName, len(m.active), m.maxPositions)
		m.journalNotification(ctx, n)
		return nil
	}

	log.Printf("manager: no signal matched notification for %s (type %d, signalTypeId %d)",
		n.SymbolName, n.Type, n.SignalTypeID)
	return nil
}

// completed is the per-strategy completion callback. It fires for every
// close reason so admission capacity is always reclaimed.
func (m *Manager) completed(s strategy.Strategy, e exchange.PositionClosed) {
	if !m.mu.Lock(lockWait) {
		log.Printf("manager: lock timeout releasing %s", e.Symbol)
		return
	}
	delete(m.active, s.ID())
	open := len(m.active)
	m.mu.Unlock()

	log.Printf("manager: %s finished for %s (%s), %d position(s) open",
		s.Name(), e.Symbol, e.Reason, open)
	m.journalTrade(context.Background(), s, e)
}

// ExecuteRemoteCommand applies an operator mutation to the targeted signal
// rules. Risk factors are clamped to [0,1].
func (m *Manager) ExecuteRemoteCommand(ctx context.Context, cmd *model.RemoteCommand) error {
	if !m.mu.Lock(lockWait) {
		return errLockTimeout
	}
	defer m.mu.Unlock()

	changed := 0
	for _, sig := range m.signals {
		if !cmd.AppliesTo(sig) {
			continue
		}
		switch cmd.Type {
		case model.ChangeStrategyState:
			if cmd.IsSignalActive == nil {
				return fmt.Errorf("manager: %s command without IsSignalActive", cmd.Type)
			}
			sig.IsActive = *cmd.IsSignalActive
			changed++
		case model.ChangeStrategyRisk:
			if cmd.RiskFactor == nil {
				return fmt.Errorf("manager: %s command without RiskFactor", cmd.Type)
			}
			factor := *cmd.RiskFactor
			if factor < 0 {
				factor = 0
			}
			if factor > 1 {
				factor = 1
			}
			sig.RiskFactor = factor
			changed++
		default:
			return fmt.Errorf("manager: unknown remote command type %q", cmd.Type)
		}
	}

	message := fmt.Sprintf("Remote command %s applied to %d signal(s)", cmd.Type, changed)
	log.Printf("manager: %s", message)
	m.notif.Send(ctx, message)
	return nil
}

// OpenPositions lists the symbols of the live strategy instances.
func (m *Manager) OpenPositions() []string {
	if !m.mu.Lock(lockWait) {
		return nil
	}
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.Symbol())
	}
	return out
}

// PositionDetails queries the exchange for each live position and formats a
// per-symbol report for the operator.
func (m *Manager) PositionDetails(ctx context.Context) string {
	if !m.mu.Lock(lockWait) {
		return "manager is busy"
	}
	live := make([]strategy.Strategy, 0, len(m.active))
	for _, s := range m.active {
		live = append(live, s)
	}
	m.mu.Unlock()

	if len(live) == 0 {
		return "No open positions"
	}
	var b strings.Builder
	for _, s := range live {
		info, err := s.Exchange().PositionInfo(ctx, s.Symbol())
		if err != nil {
			fmt.Fprintf(&b, "%s: position lookup failed: %v\n", s.Symbol(), err)
			continue
		}
		fmt.Fprintf(&b, "%s\n", info.String())
	}
	return strings.TrimRight(b.String(), "\n")
}

// HandleCommand answers the operator command vocabulary. It is wired as the
// notifier's inbound command handler.
func (m *Manager) HandleCommand(ctx context.Context, command string) string {
	switch command {
	case notifier.CommandOpenPositions:
		symbols := m.OpenPositions()
		if len(symbols) == 0 {
			return "No open positions"
		}
		return fmt.Sprintf("Open positions (%d): %s", len(symbols), strings.Join(symbols, ", "))
	case notifier.CommandPositionInfos:
		return m.PositionDetails(ctx)
	default:
		return fmt.Sprintf("Unknown command %q", command)
	}
}

func (m *Manager) journalNotification(ctx context.Context, n *model.Notification) {
	if m.journal == nil {
		return
	}
	err := m.journal.InsertNotification(ctx, db.NotificationRecord{
		ID:           uuid.NewString(),
		Type:         n.Type,
		SignalTypeID: n.SignalTypeID,
		Symbol:       n.SymbolName,
		Signal:       n.Signal,
		SignalPrice:  n.SignalPrice,
		StopLoss:     n.StopLoss,
	})
	if err != nil {
		log.Printf("manager: notification journal failed for %s: %v", n.SymbolName, err)
	}
}

func (m *Manager) journalTrade(ctx context.Context, s strategy.Strategy, e exchange.PositionClosed) {
	if m.journal == nil {
		return
	}
	rec := db.TradeRecord{
		ID:        s.ID().String(),
		Symbol:    e.Symbol,
		Strategy:  s.Name(),
		ExitPrice: e.ExitPrice,
		PnL:       e.PnL,
		Reason:    e.Reason.String(),
	}
	if pos := s.Position(); pos != nil {
		rec.IsShort = pos.IsShort
		rec.EntryPrice = pos.EntryPrice
		rec.Quantity = pos.Quantity
		if rec.PnL == 0 {
			rec.PnL = calc.PnL(pos.Quantity, pos.EntryPrice, e.ExitPrice, pos.IsShort)
		}
	}
	if err := m.journal.InsertTrade(ctx, rec); err != nil {
		log.Printf("manager: trade journal failed for %s: %v", e.Symbol, err)
	}
}
