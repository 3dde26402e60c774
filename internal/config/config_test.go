package config

import (
	"os"
	"path/filepath"
	"testing"

	"signal-trader/internal/model"
)

const sample = `
port: "9090"
maxPositions: 3
exchanges:
  - name: BybitFutures
    apiKey: key
    apiSecret: secret
    orderTimeout: 300s
    positionTimeout: 12h
signals:
  - type: 1
    signalTypeId: 2
    exchange: BybitFutures
    strategy: FixedTakeProfit
    direction: Long
    leverage: 5
    riskPerTrade: 10
    takeProfitIndex: 5
  - type: 1
    signalTypeId: 3
    exchange: BybitFutures
    strategy: TrailingStopLoss
    riskFactor: 0.5
    isActive: false
    trailingStartOffset: 0.01
    trailingOffset: 0.005
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.MaxPositions != 3 {
		t.Fatalf("unexpected top-level config: %+v", cfg)
	}

	first := cfg.Signals[0]
	if !first.IsActive || first.RiskFactor != 1.0 {
		t.Fatalf("defaults not applied: active=%v riskFactor=%v", first.IsActive, first.RiskFactor)
	}
	if first.Direction != model.DirectionLong {
		t.Fatalf("direction=%v, expected Long", first.Direction)
	}

	second := cfg.Signals[1]
	if second.IsActive || second.RiskFactor != 0.5 {
		t.Fatalf("explicit values overridden: active=%v riskFactor=%v", second.IsActive, second.RiskFactor)
	}
	if second.Direction != model.DirectionAny {
		t.Fatalf("direction default=%v, expected Any", second.Direction)
	}

	ex := cfg.Exchanges[0]
	if ex.OrderTimeout.Std().Seconds() != 300 {
		t.Fatalf("orderTimeout=%v", ex.OrderTimeout)
	}
	if ex.PositionTimeout.Std().Hours() != 12 {
		t.Fatalf("positionTimeout=%v", ex.PositionTimeout)
	}
}

func TestLoadRejectsUnknownExchangeRef(t *testing.T) {
	body := `
maxPositions: 1
exchanges:
  - name: BybitFutures
signals:
  - type: 1
    signalTypeId: 1
    exchange: Nowhere
    strategy: FixedTakeProfit
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Fatal("expected error for unknown exchange reference")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("BYBITFUTURES_API_KEY", "env-key")
	cfg, err := Load(writeConfig(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Exchanges[0].APIKey != "env-key" {
		t.Fatalf("APIKey=%q, expected env override", cfg.Exchanges[0].APIKey)
	}
}
