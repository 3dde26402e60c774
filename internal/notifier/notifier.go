// Package notifier is the outbound operator channel: push-style status and
// alert messages plus a small inbound command vocabulary. It is injected
// into the components that need it rather than held as global state.
package notifier

import "context"

// Operator command vocabulary.
const (
	CommandPing          = "ping"
	CommandOpenPositions = "openpositions"
	CommandPositionInfos = "positioninfos"
)

// CommandHandler answers one operator command with a reply message.
type CommandHandler func(ctx context.Context, command string) string

// Notifier pushes operator-visible messages. Send is best-effort; delivery
// failures are logged by the implementation and never propagate into the
// trading path.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Noop is used when no operator channel is configured.
type Noop struct{}

// Send discards the message.
func (Noop) Send(context.Context, string) {}
