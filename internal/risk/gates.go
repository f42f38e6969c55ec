package risk

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Provider answers point-in-time reference data queries.
type Provider interface {
	Blackout(ctx context.Context, symbol string, at time.Time) (*BlackoutWindow, error)
	Liquidity(ctx context.Context, symbol string) (LiquidityProfile, error)
	Compliance(ctx context.Context) (ComplianceRules, error)
	Fundamentals(ctx context.Context, symbol string) (Fundamentals, error)
}

// Account exposes equity and current holdings for exposure checks.
type Account interface {
	Equity(ctx context.Context) (float64, error)
	// Holdings maps symbol to absolute notional.
	Holdings(ctx context.Context) (map[string]float64, error)
}

// StatsSource feeds the risk score and the day-trade rule.
type StatsSource interface {
	Stats(ctx context.Context) (Stats, error)
	DayTrades(since time.Time) int
}

// BlackoutGate rejects entries inside an event blackout window.
type BlackoutGate struct {
	Provider Provider
}

func (BlackoutGate) Name() string { return GateBlackout }

func (g BlackoutGate) Check(ctx context.Context, o Order) (Verdict, error) {
	w, err := g.Provider.Blackout(ctx, o.Symbol, o.Time)
	if err != nil {
		return Verdict{}, err
	}
	if w != nil {
		return Reject(fmt.Sprintf("%s in %s blackout until %s", o.Symbol, w.Event, w.End.Format(time.RFC3339))), nil
	}
	return Approve(o.Quantity), nil
}

// LiquidityGate caps quantity by sector exposure and ADV participation and
// rejects symbols below the liquidity floor.
type LiquidityGate struct {
	Provider Provider
	Account  Account
	Limits   LiquidityLimits
}

func (LiquidityGate) Name() string { return GateLiquidity }

func (g LiquidityGate) Check(ctx context.Context, o Order) (Verdict, error) {
	if o.Price <= 0 {
		return Reject("liquidity check needs a positive price"), nil
	}
	profile, err := g.Provider.Liquidity(ctx, o.Symbol)
	if err != nil {
		return Verdict{}, err
	}

	if g.Limits.MinDollarVolume > 0 {
		dollarVolume := profile.AvgDailyVolume * o.Price
		if dollarVolume < g.Limits.MinDollarVolume {
			return Reject(fmt.Sprintf("%s illiquid: dollar volume %.0f below floor %.0f",
				o.Symbol, dollarVolume, g.Limits.MinDollarVolume)), nil
		}
	}

	allowed := o.Quantity
	if g.Limits.MaxADVParticipationPct > 0 {
		byADV := int64(math.Floor(profile.AvgDailyVolume * g.Limits.MaxADVParticipationPct / 100))
		if byADV < allowed {
			allowed = byADV
		}
	}

	if g.Limits.MaxSectorExposurePct > 0 && profile.Sector != "" {
		equity, err := g.Account.Equity(ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("equity: %w", err)
		}
		holdings, err := g.Account.Holdings(ctx)
		if err != nil {
			return Verdict{}, fmt.Errorf("holdings: %w", err)
		}
		var sectorNotional float64
		for sym, notional := range holdings {
			p, err := g.Provider.Liquidity(ctx, sym)
			if err != nil {
				continue
			}
			if strings.EqualFold(p.Sector, profile.Sector) {
				sectorNotional += notional
			}
		}
		room := equity*g.Limits.MaxSectorExposurePct/100 - sectorNotional
		bySector := int64(math.Floor(room / o.Price))
		if bySector < allowed {
			allowed = bySector
		}
	}

	if allowed < 1 {
		return Reject(fmt.Sprintf("%s exposure limit reached (sector %s)", o.Symbol, profile.Sector)), nil
	}
	return Approve(allowed), nil
}

// ComplianceGate enforces the jurisdiction's capital and day-trading rules.
type ComplianceGate struct {
	Provider Provider
	Account  Account
	Stats    StatsSource
}

func (ComplianceGate) Name() string { return GateCompliance }

func (g ComplianceGate) Check(ctx context.Context, o Order) (Verdict, error) {
	rules, err := g.Provider.Compliance(ctx)
	if err != nil {
		return Verdict{}, err
	}
	equity, err := g.Account.Equity(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("equity: %w", err)
	}

	if rules.MinAccountEquity > 0 && equity < rules.MinAccountEquity {
		return Reject(fmt.Sprintf("%s rule: account equity %.2f below minimum %.2f",
			rules.Jurisdiction, equity, rules.MinAccountEquity)), nil
	}

	if rules.MaxDayTrades > 0 && rules.PatternDayTraderEquity > 0 && equity < rules.PatternDayTraderEquity {
		window := rules.WindowDays
		if window <= 0 {
			window = 5
		}
		since := o.Time.AddDate(0, 0, -window)
		if n := g.Stats.DayTrades(since); n >= rules.MaxDayTrades {
			return Reject(fmt.Sprintf("%s pattern day trader rule: %d day trades in %d days with equity %.2f below %.2f",
				rules.Jurisdiction, n, window, equity, rules.PatternDayTraderEquity)), nil
		}
	}
	return Approve(o.Quantity), nil
}

// FundamentalsGate screens long entries on valuation, leverage and growth.
type FundamentalsGate struct {
	Provider   Provider
	Thresholds FundamentalThresholds
}

func (FundamentalsGate) Name() string { return GateFundamentals }

func (g FundamentalsGate) Check(ctx context.Context, o Order) (Verdict, error) {
	// short entries profit from weak fundamentals
	if !strings.EqualFold(o.Action, "BUY") {
		return Approve(o.Quantity), nil
	}
	f, err := g.Provider.Fundamentals(ctx, o.Symbol)
	if err != nil {
		return Verdict{}, err
	}
	t := g.Thresholds
	if t.MaxPE > 0 && f.PE > t.MaxPE {
		return Reject(fmt.Sprintf("%s valuation: P/E %.1f above %.1f", o.Symbol, f.PE, t.MaxPE)), nil
	}
	if t.MaxDebtToEquity > 0 && f.DebtToEquity > t.MaxDebtToEquity {
		return Reject(fmt.Sprintf("%s leverage: debt/equity %.2f above %.2f", o.Symbol, f.DebtToEquity, t.MaxDebtToEquity)), nil
	}
	if t.CheckGrowth && f.RevenueGrowth < t.MinRevenueGrowth {
		return Reject(fmt.Sprintf("%s growth: revenue growth %.2f below %.2f", o.Symbol, f.RevenueGrowth, t.MinRevenueGrowth)), nil
	}

	v := Approve(o.Quantity)
	if t.CautionPE > 0 && f.PE > t.CautionPE {
		v.Caution = true
		v.Reason = fmt.Sprintf("%s caution: P/E %.1f above %.1f", o.Symbol, f.PE, t.CautionPE)
	}
	return v, nil
}

// RiskScoreGate vetoes when the calibrated risk score reaches the threshold.
type RiskScoreGate struct {
	Stats  StatsSource
	Config ScoreConfig
}

func (RiskScoreGate) Name() string { return GateRiskScore }

func (g RiskScoreGate) Check(ctx context.Context, o Order) (Verdict, error) {
	stats, err := g.Stats.Stats(ctx)
	if err != nil {
		return Verdict{}, err
	}
	score, threshold := Score(stats, o.Confidence, g.Config)
	if score >= threshold {
		return Reject(fmt.Sprintf("risk score %.2f at or above threshold %.2f", score, threshold)), nil
	}
	return Approve(o.Quantity), nil
}

// Score computes the weighted risk score in [0,1] and the threshold adjusted
// for signal confidence. Without a confidence the signal weight is dropped.
func Score(s Stats, confidence *float64, cfg ScoreConfig) (score, threshold float64) {
	components := []struct{ weight, value float64 }{
		{cfg.PnLWeight, ratio(-s.RecentPnL, cfg.PnLScale)},
		{cfg.StreakWeight, ratio(float64(s.LossStreak), cfg.StreakScale)},
		{cfg.DrawdownWeight, ratio(s.DrawdownPct, cfg.DrawdownScale)},
	}
	threshold = cfg.Threshold
	if confidence != nil {
		c := clamp01(*confidence)
		components = append(components, struct{ weight, value float64 }{cfg.SignalWeight, 1 - c})
		switch {
		case c > cfg.HighConfidence:
			threshold += cfg.ConfidenceShift
		case c < cfg.LowConfidence:
			threshold -= cfg.ConfidenceShift
		}
	}

	var sum, weights float64
	for _, c := range components {
		sum += c.weight * c.value
		weights += c.weight
	}
	if weights > 0 {
		score = sum / weights
	}
	return score, threshold
}

func ratio(v, scale float64) float64 {
	if scale <= 0 {
		return 0
	}
	return clamp01(v / scale)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
