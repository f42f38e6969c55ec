package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Files
	DBPath         string
	StrategiesPath string
	RiskPath       string

	// Market data
	UseMockFeed bool
	StreamURL   string
	Symbols     []string // extra symbols to subscribe on top of strategies.yaml

	// Broker bridge
	DryRun           bool
	BridgeURL        string
	BridgeToken      string
	BridgeTimeout    time.Duration
	BridgeRPS        float64
	PaperCapital     float64
	PaperSlippageBps float64
	BalanceTTL       time.Duration

	// Execution
	OrderMaxAttempts   int
	OrderBackoff       time.Duration
	ContractMultiplier float64
	InitialCapital     float64
	TickWorkers        int

	// Remote strategies
	RemoteStrategyTimeout time.Duration

	// Drawdown monitor
	DrawdownThresholdPct float64
	DrawdownInterval     time.Duration
	DrawdownLookback     time.Duration
	SelectionWindow      time.Duration
	TradingOpen          string // HH:MM, empty means always open
	TradingClose         string
	TradingTimezone      string

	// Reconciliation
	ReconcileInterval time.Duration
	ReconcileAutoSync bool

	// Auth
	JWTSecret string

	// Localization
	Language string // "en" or "zh"
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/autotrader.db")
	}

	return &Config{
		Port:                  getEnv("PORT", "8080"),
		DBPath:                dbPath,
		StrategiesPath:        getEnv("STRATEGIES_PATH", "./strategies.yaml"),
		RiskPath:              getEnv("RISK_PATH", "./risk.yaml"),
		UseMockFeed:           getEnv("USE_MOCK_FEED", "true") == "true",
		StreamURL:             getEnv("STREAM_URL", "ws://localhost:8765/stream"),
		Symbols:               splitAndTrim(strings.ToUpper(getEnv("SYMBOLS", ""))),
		DryRun:                getEnv("DRY_RUN", "true") == "true",
		BridgeURL:             getEnv("BRIDGE_URL", "http://localhost:5000"),
		BridgeToken:           os.Getenv("BRIDGE_TOKEN"),
		BridgeTimeout:         getEnvDuration("BRIDGE_TIMEOUT", 10*time.Second),
		BridgeRPS:             getEnvFloat("BRIDGE_RPS", 5),
		PaperCapital:          getEnvFloat("PAPER_CAPITAL", 100000),
		PaperSlippageBps:      getEnvFloat("PAPER_SLIPPAGE_BPS", 0),
		BalanceTTL:            getEnvDuration("BALANCE_TTL", 5*time.Second),
		OrderMaxAttempts:      getEnvInt("ORDER_MAX_ATTEMPTS", 3),
		OrderBackoff:          getEnvDuration("ORDER_BACKOFF", time.Second),
		ContractMultiplier:    getEnvFloat("CONTRACT_MULTIPLIER", 1),
		InitialCapital:        getEnvFloat("INITIAL_CAPITAL", 100000),
		TickWorkers:           getEnvInt("TICK_WORKERS", 4),
		RemoteStrategyTimeout: getEnvDuration("REMOTE_STRATEGY_TIMEOUT", 2*time.Second),
		DrawdownThresholdPct:  getEnvFloat("DRAWDOWN_THRESHOLD_PCT", 10),
		DrawdownInterval:      getEnvDuration("DRAWDOWN_INTERVAL", 5*time.Minute),
		DrawdownLookback:      getEnvDuration("DRAWDOWN_LOOKBACK", 7*24*time.Hour),
		SelectionWindow:       getEnvDuration("SELECTION_WINDOW", 30*24*time.Hour),
		TradingOpen:           getEnv("TRADING_OPEN", ""),
		TradingClose:          getEnv("TRADING_CLOSE", ""),
		TradingTimezone:       getEnv("TRADING_TZ", "America/New_York"),
		ReconcileInterval:     getEnvDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileAutoSync:     getEnv("RECONCILE_AUTO_SYNC", "false") == "true",
		JWTSecret:             getEnv("JWT_SECRET", "dev-secret"),
		Language:              getEnv("LANGUAGE", "en"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
