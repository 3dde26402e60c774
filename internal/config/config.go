// Package config loads the startup configuration: a yaml file with the
// exchange and signal rule definitions, plus environment overrides for
// secrets (optionally via .env).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"signal-trader/internal/model"
)

// Duration parses yaml durations given either as a Go duration string
// ("300s", "12h") or as an integer number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs int64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("duration must be a string or integer seconds: %w", err)
	}
	*d = Duration(time.Duration(secs) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ExchangeConfig defines one venue connection.
type ExchangeConfig struct {
	Name         string `yaml:"name"`
	APIKey       string `yaml:"apiKey"`
	APISecret    string `yaml:"apiSecret"`
	RestBaseURL  string `yaml:"restBaseUrl"`
	WSPublicURL  string `yaml:"wsPublicUrl"`
	WSPrivateURL string `yaml:"wsPrivateUrl"`
	// IsolatedMargin switches the symbol to isolated margin before placing.
	IsolatedMargin bool `yaml:"isolatedMargin"`
	// OrderTimeout is how long an unfilled order may stay pending before the
	// reconciliation loop cancels it. Zero disables the timeout.
	OrderTimeout Duration `yaml:"orderTimeout"`
	// PositionTimeout is how long a position may stay open before the
	// reconciliation loop flattens it. Zero disables the timeout.
	PositionTimeout Duration `yaml:"positionTimeout"`
}

// Config holds all startup settings. The signal list's structure is never
// hot-reloaded; only IsActive/RiskFactor change at runtime via remote
// command.
type Config struct {
	Port         string           `yaml:"port"`
	DBPath       string           `yaml:"dbPath"`
	JWTSecret    string           `yaml:"jwtSecret"`
	MaxPositions int              `yaml:"maxPositions"`
	Exchanges    []ExchangeConfig `yaml:"exchanges"`
	Signals      []*model.Signal  `yaml:"signals"`
	Telegram     TelegramConfig   `yaml:"telegram"`
}

// TelegramConfig configures the outbound operator channel.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   int64  `yaml:"chatId"`
}

// Load reads the yaml file at path and applies environment overrides.
// A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Port:         "8080",
		DBPath:       "./data/trader.db",
		MaxPositions: 5,
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	for i := range cfg.Exchanges {
		ex := &cfg.Exchanges[i]
		prefix := envPrefix(ex.Name)
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			ex.APIKey = v
		}
		if v := os.Getenv(prefix + "_API_SECRET"); v != "" {
			ex.APISecret = v
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.MaxPositions <= 0 {
		return fmt.Errorf("maxPositions must be positive, got %d", c.MaxPositions)
	}
	names := make(map[string]bool, len(c.Exchanges))
	for _, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange with empty name")
		}
		if names[ex.Name] {
			return fmt.Errorf("duplicate exchange %q", ex.Name)
		}
		names[ex.Name] = true
	}
	for _, sig := range c.Signals {
		if sig.Strategy == "" {
			return fmt.Errorf("signal %d/%d has no strategy", sig.Type, sig.SignalTypeID)
		}
		if sig.Exchange != "" && !names[sig.Exchange] {
			return fmt.Errorf("signal %d/%d references unknown exchange %q", sig.Type, sig.SignalTypeID, sig.Exchange)
		}
	}
	return nil
}

func envPrefix(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z' || r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
