package strategy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"autotrader/pkg/broker"
)

// Config represents a strategy entry in YAML.
type Config struct {
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Parameters map[string]interface{} `yaml:"parameters"`
	Disabled   bool                   `yaml:"disabled"`
}

// ConfigFile is the top-level strategies.yaml.
type ConfigFile struct {
	LiveSymbol      string      `yaml:"live_symbol"`
	LiveStrategy    string      `yaml:"live_strategy"`
	TradingMode     TradingMode `yaml:"trading_mode"`
	TradingQuantity int64       `yaml:"trading_quantity"`
	MaxShadowStocks int         `yaml:"max_shadow_stocks"`
	ShadowSymbols   []string    `yaml:"shadow_symbols"`
	Strategies      []Config    `yaml:"strategies"`
}

// LoadConfig reads strategies.yaml.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config: %w", err)
	}
	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	if file.TradingMode == "" {
		file.TradingMode = LongOnly
	}
	if file.TradingMode != LongOnly && file.TradingMode != LongShort {
		return nil, fmt.Errorf("unknown trading mode %q", file.TradingMode)
	}
	file.LiveSymbol = strings.ToUpper(file.LiveSymbol)
	for i, s := range file.ShadowSymbols {
		file.ShadowSymbols[i] = strings.ToUpper(s)
	}
	return &file, nil
}

// FactoryDeps are the external collaborators some strategy types need.
type FactoryDeps struct {
	Signals broker.SignalSource
	Remote  func(addr, method string, timeout time.Duration) (*RemoteClient, error)
}

// BuildFactories turns configured strategies into factories, preserving
// file order. Remote workers are dialled once and shared across lanes.
func BuildFactories(cfgs []Config, deps FactoryDeps) ([]string, map[string]Factory, error) {
	if deps.Remote == nil {
		deps.Remote = func(addr, method string, timeout time.Duration) (*RemoteClient, error) {
			return DialRemote(addr, method, timeout)
		}
	}
	var names []string
	factories := make(map[string]Factory)
	for _, c := range cfgs {
		if c.Disabled {
			continue
		}
		if c.Name == "" {
			c.Name = c.Type
		}
		if _, dup := factories[c.Name]; dup {
			return nil, nil, fmt.Errorf("duplicate strategy name %q", c.Name)
		}
		f, err := buildFactory(c, deps)
		if err != nil {
			return nil, nil, fmt.Errorf("strategy %s: %w", c.Name, err)
		}
		names = append(names, c.Name)
		factories[c.Name] = f
	}
	return names, factories, nil
}

func buildFactory(c Config, deps FactoryDeps) (Factory, error) {
	p := c.Parameters
	switch strings.ToLower(c.Type) {
	case "ma_cross":
		fast, slow := paramInt(p, "fast", 5), paramInt(p, "slow", 20)
		if _, err := NewMACrossStrategy(c.Name, fast, slow); err != nil {
			return nil, err
		}
		return func(string) (Strategy, error) { return NewMACrossStrategy(c.Name, fast, slow) }, nil

	case "rsi":
		period := paramInt(p, "period", 14)
		lo, hi := paramFloat(p, "oversold", 30), paramFloat(p, "overbought", 70)
		if _, err := NewRSIStrategy(c.Name, period, lo, hi); err != nil {
			return nil, err
		}
		return func(string) (Strategy, error) { return NewRSIStrategy(c.Name, period, lo, hi) }, nil

	case "grpc", "remote":
		addr := paramString(p, "address", "")
		if addr == "" {
			return nil, fmt.Errorf("grpc strategy needs an address")
		}
		timeout := time.Duration(paramInt(p, "timeout_ms", 2000)) * time.Millisecond
		client, err := deps.Remote(addr, paramString(p, "method", ""), timeout)
		if err != nil {
			return nil, err
		}
		return func(string) (Strategy, error) { return NewRemoteStrategy(c.Name, client), nil }, nil

	case "bridge":
		if deps.Signals == nil {
			return nil, fmt.Errorf("bridge strategy needs a signal source")
		}
		timeout := time.Duration(paramInt(p, "timeout_ms", 2000)) * time.Millisecond
		return func(string) (Strategy, error) { return NewBridgeStrategy(c.Name, deps.Signals, timeout), nil }, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, c.Type)
}

func paramInt(p map[string]interface{}, key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramFloat(p map[string]interface{}, key string, def float64) float64 {
	switch v := p[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

func paramString(p map[string]interface{}, key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}
