package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	DryRunMode         string
	LiveMode           string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string
	TradeLogFlushed    string

	// Risk
	RiskConfigDefault string
	GateChainReady    string
	TrackerWarmFailed string

	// Strategy
	StrategyConfigLoadFailed string
	StrategyBuildFailed      string
	StrategyLoaded           string
	LiveStrategy             string
	RemoteStrategyDialed     string

	// Services
	ReconStarted          string
	MockFeedStarted       string
	StreamFeedStarted     string
	DrawdownStarted       string
	EngineStarted         string
	TokenIssued           string
	SignalProcessingPanic string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	Starting:           "Starting autotrader...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	DryRunMode:         "Running in DRY-RUN mode (orders fill against the paper broker)",
	LiveMode:           "Running LIVE against broker bridge %s",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",
	TradeLogFlushed:    "Trade log flushed",

	RiskConfigDefault: "Risk config %s not loaded (%v), using defaults",
	GateChainReady:    "Admission gate chain ready: %v",
	TrackerWarmFailed: "Failed to warm risk tracker: %v",

	StrategyConfigLoadFailed: "Failed to load strategies.yaml: %v",
	StrategyBuildFailed:      "Failed to build strategies: %v",
	StrategyLoaded:           "Loaded strategy: %s (%s)",
	LiveStrategy:             "Live symbol %s trading with %s",
	RemoteStrategyDialed:     "Remote strategy client ready at %s",

	ReconStarted:          "Reconciliation service started",
	MockFeedStarted:       "Mock feed started",
	StreamFeedStarted:     "Market stream feed started: %s",
	DrawdownStarted:       "Drawdown monitor started (threshold %.1f%%)",
	EngineStarted:         "Engine tick pipeline started",
	TokenIssued:           "Token for %s (expires %s):",
	SignalProcessingPanic: "PANIC in signal processing: %v",
}

// Chinese messages
var messagesZH = Messages{
	Starting:           "啟動自動交易系統...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	DryRunMode:         "DRY-RUN 模式（委託由模擬券商成交）",
	LiveMode:           "正式模式，券商橋接：%s",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",
	TradeLogFlushed:    "交易紀錄已寫入",

	RiskConfigDefault: "風控設定 %s 未載入（%v），使用預設值",
	GateChainReady:    "准入關卡鏈就緒：%v",
	TrackerWarmFailed: "載入風控歷史失敗：%v",

	StrategyConfigLoadFailed: "讀取 strategies.yaml 失敗：%v",
	StrategyBuildFailed:      "建立策略失敗：%v",
	StrategyLoaded:           "已載入策略：%s（%s）",
	LiveStrategy:             "實盤標的 %s 使用策略 %s",
	RemoteStrategyDialed:     "遠端策略客戶端就緒：%s",

	ReconStarted:          "對帳服務已啟動",
	MockFeedStarted:       "模擬行情訂閱已啟動",
	StreamFeedStarted:     "行情串流已啟動：%s",
	DrawdownStarted:       "回撤監控已啟動（門檻 %.1f%%）",
	EngineStarted:         "引擎行情管線已啟動",
	TokenIssued:           "%s 的存取權杖（到期 %s）：",
	SignalProcessingPanic: "處理策略訊號時發生 PANIC：%v",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
