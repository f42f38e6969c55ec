package api

import (
	"errors"
	"net/http"
	"strings"

	"autotrader/internal/conditional"
	"autotrader/internal/engine"
	"autotrader/internal/order"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"

	"github.com/gin-gonic/gin"
)

type executeOrderRequest struct {
	Symbol     string   `json:"symbol" binding:"required,min=1"`
	Action     string   `json:"action" binding:"required,oneof=BUY SELL buy sell"`
	Quantity   int64    `json:"quantity" binding:"gt=0"`
	Price      float64  `json:"price" binding:"gt=0"`
	IsExit     bool     `json:"is_exit"`
	Strategy   string   `json:"strategy"`
	Confidence *float64 `json:"confidence"`
}

type ocoRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=LONG SHORT"`
	TakeProfit float64 `json:"take_profit" binding:"gt=0"`
	StopLoss   float64 `json:"stop_loss" binding:"gt=0"`
}

type trailingRequest struct {
	Symbol    string  `json:"symbol" binding:"required,min=1"`
	Side      string  `json:"side" binding:"required,oneof=LONG SHORT"`
	Trail     float64 `json:"trail" binding:"gt=0,lt=1"`
	Reference float64 `json:"reference"`
}

type bracketRequest struct {
	Symbol     string  `json:"symbol" binding:"required,min=1"`
	Side       string  `json:"side" binding:"required,oneof=LONG SHORT"`
	Entry      float64 `json:"entry" binding:"gt=0"`
	TakeProfit float64 `json:"take_profit" binding:"gt=0"`
	StopLoss   float64 `json:"stop_loss" binding:"gt=0"`
}

type evaluateRequest struct {
	Symbol string  `json:"symbol" binding:"required,min=1"`
	Price  float64 `json:"price" binding:"gt=0"`
}

type flattenRequest struct {
	Reason string `json:"reason"`
}

type switchRequest struct {
	Name   string `json:"name" binding:"required,min=1"`
	Reason string `json:"reason"`
}

type shadowRequest struct {
	Symbols []string `json:"symbols"`
}

type policyRequest struct {
	Policy string `json:"policy" binding:"required"`
}

type listQuery struct {
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
}

func (q *listQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondCoreError maps core sentinel errors onto HTTP statuses.
func respondCoreError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidOrder), errors.Is(err, order.ErrInvalidQuantity),
		errors.Is(err, conditional.ErrInvalidOrder), errors.Is(err, risk.ErrInvalidPolicy):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, strategy.ErrUnknownStrategy):
		respondError(c, http.StatusNotFound, "UNKNOWN_STRATEGY", err.Error())
	case errors.Is(err, order.ErrNoReferencePrice):
		respondError(c, http.StatusConflict, "NO_PRICE", err.Error())
	case errors.Is(err, order.ErrRetriesExhausted):
		respondError(c, http.StatusBadGateway, "BROKER_UNAVAILABLE", err.Error())
	case errors.Is(err, engine.ErrNoDatabase):
		respondError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return false
	}
	return true
}

// --- Positions ---

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Positions(c.Request.Context()))
}

func (s *Server) getPosition(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{
		"symbol":      symbol,
		"quantity":    s.Engine.Position(symbol),
		"entry_price": s.Engine.EntryPrice(symbol),
		"entry_time":  s.Engine.EntryTime(symbol),
	})
}

func (s *Server) flattenPosition(c *gin.Context) {
	var req flattenRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual flatten by " + CurrentOperator(c)
	}
	closed, err := s.Engine.FlattenPosition(c.Request.Context(), req.Reason, c.Param("symbol"))
	if err != nil {
		respondCoreError(c, err)
		return
	}
	if closed == nil {
		c.JSON(http.StatusOK, gin.H{"status": "flat"})
		return
	}
	c.JSON(http.StatusOK, closed)
}

func (s *Server) getBalance(c *gin.Context) {
	if s.Account == nil {
		respondError(c, http.StatusServiceUnavailable, "BALANCE_UNAVAILABLE", "account source not configured")
		return
	}
	account, err := s.Account.Snapshot(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusBadGateway, "BROKER_UNAVAILABLE", err.Error())
		return
	}
	c.JSON(http.StatusOK, account)
}

// --- Orders ---

func (s *Server) executeOrder(c *gin.Context) {
	var req executeOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Strategy == "" {
		req.Strategy = "manual"
	}
	res, err := s.Engine.ExecuteOrderWithRetry(c.Request.Context(), order.Request{
		Action:     req.Action,
		Quantity:   req.Quantity,
		Price:      req.Price,
		Symbol:     req.Symbol,
		IsExit:     req.IsExit,
		Strategy:   req.Strategy,
		Confidence: req.Confidence,
	})
	if err != nil {
		respondCoreError(c, err)
		return
	}
	if !res.Submitted {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listConditional(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.ListOrders(c.Request.Context(), c.Query("symbol")))
}

func (s *Server) placeOCO(c *gin.Context) {
	var req ocoRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := s.Engine.PlaceOCO(c.Request.Context(), req.Symbol, conditional.Side(req.Side), req.TakeProfit, req.StopLoss)
	s.respondPlaced(c, id, err)
}

func (s *Server) placeTrailing(c *gin.Context) {
	var req trailingRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := s.Engine.PlaceTrailingStop(c.Request.Context(), req.Symbol, conditional.Side(req.Side), req.Trail, req.Reference)
	s.respondPlaced(c, id, err)
}

func (s *Server) placeBracket(c *gin.Context) {
	var req bracketRequest
	if !bindJSON(c, &req) {
		return
	}
	id, err := s.Engine.PlaceBracket(c.Request.Context(), req.Symbol, conditional.Side(req.Side), req.Entry, req.TakeProfit, req.StopLoss)
	s.respondPlaced(c, id, err)
}

func (s *Server) respondPlaced(c *gin.Context, id string, err error) {
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) evaluateOrders(c *gin.Context) {
	var req evaluateRequest
	if !bindJSON(c, &req) {
		return
	}
	triggers := s.Engine.EvaluateOrders(c.Request.Context(), req.Symbol, req.Price)
	if triggers == nil {
		triggers = []conditional.Trigger{}
	}
	c.JSON(http.StatusOK, gin.H{"triggered": triggers})
}

func (s *Server) cancelOrder(c *gin.Context) {
	if !s.Engine.CancelOrder(c.Request.Context(), c.Param("id")) {
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found or already triggered")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": 1})
}

func (s *Server) cancelSymbolOrders(c *gin.Context) {
	n := s.Engine.CancelAllForSymbol(c.Request.Context(), c.Param("symbol"))
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

// --- Strategies ---

func (s *Server) getStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.StrategyStatus(c.Request.Context()))
}

func (s *Server) switchStrategy(c *gin.Context) {
	var req switchRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "manual switch by " + CurrentOperator(c)
	}
	if err := s.Engine.SwitchStrategy(c.Request.Context(), req.Name, req.Reason); err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.StrategyStatus(c.Request.Context()))
}

func (s *Server) setShadowSymbols(c *gin.Context) {
	var req shadowRequest
	if !bindJSON(c, &req) {
		return
	}
	kept := s.Engine.SetShadowSymbols(c.Request.Context(), req.Symbols)
	if kept == nil {
		kept = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"shadow_symbols": kept})
}

func (s *Server) getSwitches(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()
	switches, err := s.Engine.StrategySwitches(c.Request.Context(), q.Limit)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, switches)
}

// --- Risk and history ---

func (s *Server) getRiskMetrics(c *gin.Context) {
	m, err := s.Engine.RiskMetrics(c.Request.Context())
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) setGatePolicy(c *gin.Context) {
	var req policyRequest
	if !bindJSON(c, &req) {
		return
	}
	gate := c.Param("gate")
	policy := risk.FailurePolicy(strings.ToUpper(req.Policy))
	if err := s.Engine.SetGatePolicy(c.Request.Context(), gate, policy); err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gate": gate, "policy": policy})
}

func (s *Server) getTrades(c *gin.Context) {
	var q listQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()
	trades, err := s.Engine.Trades(c.Request.Context(), q.Symbol, q.Limit)
	if err != nil {
		respondCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, trades)
}

// --- System ---

func (s *Server) getSystemStatus(c *gin.Context) {
	status := s.Engine.SystemStatus(c.Request.Context())
	mode := "LIVE"
	if status.DryRun {
		mode = "DRY_RUN"
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":          mode,
		"dry_run":       status.DryRun,
		"symbols":       status.Symbols,
		"use_mock_feed": status.UseMockFeed,
		"version":       status.Version,
		"server_time":   status.ServerTime.UTC(),
	})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
