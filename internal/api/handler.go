package api

import (
	"context"
	"net/http"
	"time"

	"autotrader/internal/engine"
	"autotrader/internal/events"
	"autotrader/internal/monitor"
	"autotrader/pkg/broker"

	"github.com/gin-gonic/gin"
)

// AccountSource is the cached broker account view.
type AccountSource interface {
	Snapshot(ctx context.Context) (broker.Account, error)
}

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Engine    engine.Service
	Account   AccountSource
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	limiter   *ipLimiter
}

func NewServer(bus *events.Bus, svc engine.Service, account AccountSource, metrics *monitor.SystemMetrics, jwtSecret string) *Server {
	r := gin.New()
	limiter := newIPLimiter(20, 50)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware(limiter))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		Engine:    svc,
		Account:   account,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		limiter:   limiter,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/:symbol", s.getPosition)
			protected.POST("/positions/:symbol/flatten", s.flattenPosition)
			protected.GET("/balance", s.getBalance)

			protected.POST("/orders/execute", s.executeOrder)
			protected.GET("/orders/conditional", s.listConditional)
			protected.POST("/orders/oco", s.placeOCO)
			protected.POST("/orders/trailing", s.placeTrailing)
			protected.POST("/orders/bracket", s.placeBracket)
			protected.POST("/orders/evaluate", s.evaluateOrders)
			protected.DELETE("/orders/conditional/:id", s.cancelOrder)
			protected.DELETE("/orders/symbol/:symbol", s.cancelSymbolOrders)

			protected.GET("/strategies", s.getStrategies)
			protected.POST("/strategies/switch", s.switchStrategy)
			protected.PUT("/strategies/shadow", s.setShadowSymbols)
			protected.GET("/strategies/switches", s.getSwitches)

			protected.GET("/risk", s.getRiskMetrics)
			protected.PUT("/risk/policies/:gate", s.setGatePolicy)
			protected.GET("/trades", s.getTrades)

			protected.GET("/ws", s.websocket)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.limiter.sweep(ctx, 5*time.Minute)
	srv := &http.Server{Addr: addr, Handler: s.Router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
