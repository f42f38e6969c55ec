package risk

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gate reference data and tuning loaded from risk.yaml.
type Config struct {
	Policies  map[string]FailurePolicy `yaml:"policies"`
	Blackouts []BlackoutWindow         `yaml:"blackouts"`
	Liquidity struct {
		Limits  LiquidityLimits             `yaml:"limits"`
		Symbols map[string]LiquidityProfile `yaml:"symbols"`
	} `yaml:"liquidity"`
	Compliance   ComplianceRules `yaml:"compliance"`
	Fundamentals struct {
		Thresholds FundamentalThresholds   `yaml:"thresholds"`
		Symbols    map[string]Fundamentals `yaml:"symbols"`
	} `yaml:"fundamentals"`
	RiskScore ScoreConfig `yaml:"risk_score"`
}

// DefaultConfig returns US-style rules with no reference data.
func DefaultConfig() Config {
	var cfg Config
	cfg.Policies = DefaultPolicies()
	cfg.Liquidity.Limits = LiquidityLimits{
		MaxSectorExposurePct:   25,
		MaxADVParticipationPct: 1,
		MinDollarVolume:        1_000_000,
	}
	cfg.Compliance = ComplianceRules{
		Jurisdiction:           "US",
		MinAccountEquity:       2000,
		PatternDayTraderEquity: 25000,
		MaxDayTrades:           3,
		WindowDays:             5,
	}
	cfg.Fundamentals.Thresholds = FundamentalThresholds{
		MaxPE:           80,
		CautionPE:       40,
		MaxDebtToEquity: 3,
	}
	cfg.RiskScore = DefaultScoreConfig()
	return cfg
}

// LoadConfig reads risk.yaml on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	for gate, p := range cfg.Policies {
		if p != FailOpen && p != FailClosed {
			return cfg, fmt.Errorf("gate %s: unknown failure policy %q", gate, p)
		}
	}
	return cfg, nil
}

// StaticProvider serves reference data held in memory.
type StaticProvider struct {
	mu           sync.RWMutex
	blackouts    []BlackoutWindow
	liquidity    map[string]LiquidityProfile
	compliance   ComplianceRules
	fundamentals map[string]Fundamentals
}

// NewStaticProvider indexes the reference data in cfg.
func NewStaticProvider(cfg Config) *StaticProvider {
	p := &StaticProvider{}
	p.Load(cfg)
	return p
}

// Load swaps in new reference data.
func (p *StaticProvider) Load(cfg Config) {
	liq := make(map[string]LiquidityProfile, len(cfg.Liquidity.Symbols))
	for s, v := range cfg.Liquidity.Symbols {
		liq[strings.ToUpper(s)] = v
	}
	fund := make(map[string]Fundamentals, len(cfg.Fundamentals.Symbols))
	for s, v := range cfg.Fundamentals.Symbols {
		fund[strings.ToUpper(s)] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.blackouts = append([]BlackoutWindow(nil), cfg.Blackouts...)
	p.liquidity = liq
	p.compliance = cfg.Compliance
	p.fundamentals = fund
}

// AddBlackout registers a window at runtime.
func (p *StaticProvider) AddBlackout(w BlackoutWindow) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.blackouts = append(p.blackouts, w)
}

func (p *StaticProvider) Blackout(_ context.Context, symbol string, at time.Time) (*BlackoutWindow, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, w := range p.blackouts {
		if strings.EqualFold(w.Symbol, symbol) && w.Contains(at) {
			w := w
			return &w, nil
		}
	}
	return nil, nil
}

func (p *StaticProvider) Liquidity(_ context.Context, symbol string) (LiquidityProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.liquidity[strings.ToUpper(symbol)]
	if !ok {
		return LiquidityProfile{}, fmt.Errorf("liquidity for %s: %w", symbol, ErrNoData)
	}
	return v, nil
}

func (p *StaticProvider) Compliance(context.Context) (ComplianceRules, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.compliance, nil
}

func (p *StaticProvider) Fundamentals(_ context.Context, symbol string) (Fundamentals, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.fundamentals[strings.ToUpper(symbol)]
	if !ok {
		return Fundamentals{}, fmt.Errorf("fundamentals for %s: %w", symbol, ErrNoData)
	}
	return v, nil
}

// NewDefaultChain wires the five gates in their fixed order.
func NewDefaultChain(cfg Config, provider Provider, account Account, stats StatsSource) *Chain {
	gates := []Gate{
		BlackoutGate{Provider: provider},
		LiquidityGate{Provider: provider, Account: account, Limits: cfg.Liquidity.Limits},
		ComplianceGate{Provider: provider, Account: account, Stats: stats},
		FundamentalsGate{Provider: provider, Thresholds: cfg.Fundamentals.Thresholds},
		RiskScoreGate{Stats: stats, Config: cfg.RiskScore},
	}
	return NewChain(gates, cfg.Policies)
}
