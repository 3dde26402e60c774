package model

import "gopkg.in/yaml.v3"

// SignalDirection constrains which alert directions a signal rule accepts.
type SignalDirection string

const (
	DirectionAny   SignalDirection = "Any"
	DirectionLong  SignalDirection = "Long"
	DirectionShort SignalDirection = "Short"
)

// Matches reports whether a signed alert value satisfies the direction
// constraint.
func (d SignalDirection) Matches(signal int) bool {
	switch d {
	case DirectionLong:
		return signal > 0
	case DirectionShort:
		return signal < 0
	default:
		return true
	}
}

// FilterConfig configures an optional pre-trade filter for a signal rule.
type FilterConfig struct {
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	Period int    `yaml:"period"`
	Offset int    `yaml:"offset"`
}

// Signal is a configured trading rule: it maps a notification category to a
// strategy and its risk/target parameters. Signals are created at
// configuration load and mutated at runtime only through remote commands
// (IsActive, RiskFactor).
type Signal struct {
	Type         int             `yaml:"type"`
	SignalTypeID int             `yaml:"signalTypeId"`
	SignalName   string          `yaml:"signalName"`
	Exchange     string          `yaml:"exchange"`
	Strategy     string          `yaml:"strategy"`
	Direction    SignalDirection `yaml:"direction"`
	Leverage     float64         `yaml:"leverage"`
	// RiskPerTrade is the quote-currency capital risked per trade.
	RiskPerTrade float64 `yaml:"riskPerTrade"`
	// RiskFactor is a runtime multiplier, clamped to [0,1] by remote command.
	RiskFactor float64 `yaml:"riskFactor"`
	IsActive   bool    `yaml:"isActive"`

	// Strategy-specific parameters.
	TakeProfitIndex       int           `yaml:"takeProfitIndex"`
	TakeProfit            float64       `yaml:"takeProfit"`
	StopLoss              float64       `yaml:"stopLoss"`
	UseStopLossFromSignal bool          `yaml:"useStopLossFromSignal"`
	TrailingStartOffset   float64       `yaml:"trailingStartOffset"`
	TrailingOffset        float64       `yaml:"trailingOffset"`
	Filter                *FilterConfig `yaml:"filter"`
}

// UnmarshalYAML applies the runtime defaults (active, full risk) before
// decoding the configured fields.
func (s *Signal) UnmarshalYAML(value *yaml.Node) error {
	type raw Signal
	r := raw{IsActive: true, RiskFactor: 1.0, Direction: DirectionAny}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*s = Signal(r)
	return nil
}

// Matches reports whether a notification belongs to this signal rule.
func (s *Signal) Matches(n *Notification) bool {
	return s.Type == n.Type && s.SignalTypeID == n.SignalTypeID
}
