package model

// RemoteCommandType selects the mutation a remote command applies.
type RemoteCommandType string

const (
	ChangeStrategyState RemoteCommandType = "ChangeStrategyState"
	ChangeStrategyRisk  RemoteCommandType = "ChangeStrategyRisk"
)

// RemoteCommandTarget selects the subset of signal rules a command applies to.
type RemoteCommandTarget string

const (
	TargetAll   RemoteCommandTarget = "All"
	TargetLong  RemoteCommandTarget = "Long"
	TargetShort RemoteCommandTarget = "Short"
)

// RemoteCommand is an operator instruction received over the command ingress.
type RemoteCommand struct {
	Type           RemoteCommandType   `json:"Type"`
	Target         RemoteCommandTarget `json:"Target"`
	RiskFactor     *float64            `json:"RiskFactor,omitempty"`
	IsSignalActive *bool               `json:"IsSignalActive,omitempty"`
}

// AppliesTo reports whether the command target selects the given signal rule.
func (c *RemoteCommand) AppliesTo(s *Signal) bool {
	switch c.Target {
	case TargetAll:
		return true
	case TargetLong:
		return s.Direction == DirectionLong
	case TargetShort:
		return s.Direction == DirectionShort
	default:
		return false
	}
}
