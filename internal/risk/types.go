package risk

import (
	"errors"
	"time"
)

// FailurePolicy decides what a gate does when its data source errors.
type FailurePolicy string

const (
	FailOpen   FailurePolicy = "FAIL_OPEN"   // proceed with the quantity the gate received
	FailClosed FailurePolicy = "FAIL_CLOSED" // veto the order
)

// Gate names, in chain order.
const (
	GateBlackout     = "blackout"
	GateLiquidity    = "liquidity"
	GateCompliance   = "compliance"
	GateFundamentals = "fundamentals"
	GateRiskScore    = "risk_score"
)

var (
	// ErrNoData is returned by providers that have nothing for a symbol.
	ErrNoData = errors.New("no reference data")
	// ErrInvalidPolicy rejects a failure policy other than FAIL_OPEN or FAIL_CLOSED.
	ErrInvalidPolicy = errors.New("unknown failure policy")
)

// Order is the entry order under admission.
type Order struct {
	Symbol     string
	Action     string // BUY or SELL
	Quantity   int64
	Price      float64
	Strategy   string
	Confidence *float64
	Time       time.Time
}

// Verdict is what a single gate decides.
type Verdict struct {
	Approved bool
	Quantity int64 // may be lower than requested
	Reason   string
	Caution  bool
}

// Approve passes the order through at qty.
func Approve(qty int64) Verdict { return Verdict{Approved: true, Quantity: qty} }

// Reject vetoes the order.
func Reject(reason string) Verdict { return Verdict{Reason: reason} }

// GateResult is the outcome of the whole chain.
type GateResult struct {
	Approved bool     `json:"approved"`
	Quantity int64    `json:"quantity"`
	Reason   string   `json:"reason,omitempty"` // set iff rejected
	Gate     string   `json:"gate,omitempty"`   // gate that rejected
	Caution  bool     `json:"caution"`
	Notes    []string `json:"notes,omitempty"`
}

// BlackoutWindow is a period around a corporate event when entries are barred.
type BlackoutWindow struct {
	Symbol string    `yaml:"symbol" json:"symbol"`
	Event  string    `yaml:"event" json:"event"`
	Start  time.Time `yaml:"start" json:"start"`
	End    time.Time `yaml:"end" json:"end"`
}

// Contains reports whether t is inside the window.
func (w BlackoutWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// LiquidityProfile is the point-in-time liquidity data for a symbol.
type LiquidityProfile struct {
	Sector         string  `yaml:"sector" json:"sector"`
	AvgDailyVolume float64 `yaml:"avg_daily_volume" json:"avg_daily_volume"`
}

// LiquidityLimits bounds exposure. Zero disables a limit.
type LiquidityLimits struct {
	MaxSectorExposurePct   float64 `yaml:"max_sector_exposure_pct"`
	MaxADVParticipationPct float64 `yaml:"max_adv_participation_pct"`
	MinDollarVolume        float64 `yaml:"min_dollar_volume"`
}

// ComplianceRules are the jurisdiction's capital and day-trading rules.
type ComplianceRules struct {
	Jurisdiction           string  `yaml:"jurisdiction"`
	MinAccountEquity       float64 `yaml:"min_account_equity"`
	PatternDayTraderEquity float64 `yaml:"pattern_day_trader_equity"`
	MaxDayTrades           int     `yaml:"max_day_trades"`
	WindowDays             int     `yaml:"window_days"`
}

// Fundamentals is the latest fundamental snapshot.
type Fundamentals struct {
	PE            float64 `yaml:"pe" json:"pe"`
	DebtToEquity  float64 `yaml:"debt_to_equity" json:"debt_to_equity"`
	RevenueGrowth float64 `yaml:"revenue_growth" json:"revenue_growth"`
}

// FundamentalThresholds bound valuation, leverage and growth. Zero disables.
type FundamentalThresholds struct {
	MaxPE            float64 `yaml:"max_pe"`
	CautionPE        float64 `yaml:"caution_pe"`
	MaxDebtToEquity  float64 `yaml:"max_debt_to_equity"`
	MinRevenueGrowth float64 `yaml:"min_revenue_growth"`
	CheckGrowth      bool    `yaml:"check_growth"`
}

// ScoreConfig weights the calibrated risk score.
type ScoreConfig struct {
	Threshold       float64 `yaml:"threshold"`
	PnLWeight       float64 `yaml:"pnl_weight"`
	StreakWeight    float64 `yaml:"streak_weight"`
	DrawdownWeight  float64 `yaml:"drawdown_weight"`
	SignalWeight    float64 `yaml:"signal_weight"`
	PnLScale        float64 `yaml:"pnl_scale"`        // loss that maps to a full pnl component
	StreakScale     float64 `yaml:"streak_scale"`     // losses in a row that map to a full streak component
	DrawdownScale   float64 `yaml:"drawdown_scale"`   // drawdown % that maps to a full drawdown component
	HighConfidence  float64 `yaml:"high_confidence"`  // above: relax threshold
	LowConfidence   float64 `yaml:"low_confidence"`   // below: tighten threshold
	ConfidenceShift float64 `yaml:"confidence_shift"` // threshold delta applied either way
	RecentTrades    int     `yaml:"recent_trades"`    // realized trades in the pnl window
}

// DefaultScoreConfig returns the weights used when none are configured.
func DefaultScoreConfig() ScoreConfig {
	return ScoreConfig{
		Threshold:       0.6,
		PnLWeight:       0.3,
		StreakWeight:    0.25,
		DrawdownWeight:  0.3,
		SignalWeight:    0.15,
		PnLScale:        1000,
		StreakScale:     5,
		DrawdownScale:   10,
		HighConfidence:  0.8,
		LowConfidence:   0.4,
		ConfidenceShift: 0.1,
		RecentTrades:    10,
	}
}

// Stats is the realized-performance view the risk score reads.
type Stats struct {
	RecentPnL   float64 `json:"recent_pnl"`
	TotalPnL    float64 `json:"total_pnl"`
	DailyPnL    float64 `json:"daily_pnl"`
	WeeklyPnL   float64 `json:"weekly_pnl"`
	WinStreak   int     `json:"win_streak"`
	LossStreak  int     `json:"loss_streak"`
	Drawdown    float64 `json:"drawdown"`
	DrawdownPct float64 `json:"drawdown_pct"`
	MaxDrawdown float64 `json:"max_drawdown"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
}
