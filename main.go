package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"autotrader/internal/api"
	"autotrader/internal/balance"
	"autotrader/internal/conditional"
	"autotrader/internal/engine"
	"autotrader/internal/events"
	"autotrader/internal/ledger"
	"autotrader/internal/market"
	"autotrader/internal/monitor"
	"autotrader/internal/order"
	"autotrader/internal/persistence"
	"autotrader/internal/reconciliation"
	"autotrader/internal/risk"
	"autotrader/internal/strategy"
	"autotrader/pkg/broker"
	"autotrader/pkg/cache"
	"autotrader/pkg/config"
	"autotrader/pkg/db"
	"autotrader/pkg/i18n"
	pkgmarket "autotrader/pkg/market"
)

var version = "dev"

// venue is what both the paper broker and the bridge provide.
type venue interface {
	broker.Broker
	broker.SignalSource
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "autotrader",
		Short:        "Signal-driven trading core with risk gates and strategy failover",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newTokenCmd())
	root.AddCommand(newHealthCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the trading loop and the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the admin API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			i18n.SetLanguage(i18n.Language(cfg.Language))
			operator, _ := cmd.Flags().GetString("operator")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, expiresAt, err := api.GenerateToken(operator, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), i18n.Get("TokenIssued")+"\n", operator, expiresAt.UTC().Format(time.RFC3339))
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("operator", "ops", "Operator name embedded in the token")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "autotrader %s\n", version)
		},
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf(i18n.Get("ConfigLoadFailed"), err)
	}
	i18n.SetLanguage(i18n.Language(cfg.Language))
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	stratFile, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		return fmt.Errorf(i18n.Get("StrategyConfigLoadFailed"), err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Core services
	bus := events.NewBus()
	metrics := monitor.NewSystemMetrics()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}
	writer := persistence.NewBatchWriter(database, 50, 500*time.Millisecond)

	// Broker: paper fills in dry-run, otherwise the bridge.
	var v venue
	if cfg.DryRun {
		log.Println(i18n.Get("DryRunMode"))
		v = broker.NewPaper(cfg.PaperCapital, cfg.PaperSlippageBps)
	} else {
		log.Printf(i18n.Get("LiveMode"), cfg.BridgeURL)
		v = broker.NewBridge(broker.BridgeConfig{
			BaseURL:        cfg.BridgeURL,
			Token:          cfg.BridgeToken,
			Timeout:        cfg.BridgeTimeout,
			RequestsPerSec: cfg.BridgeRPS,
		})
	}

	prices := cache.NewPriceCache()
	balances := balance.NewManager(v, cfg.BalanceTTL, prices.Get)
	balances.Start(ctx, cfg.BalanceTTL)

	// Admission gates
	riskCfg, err := risk.LoadConfig(cfg.RiskPath)
	if err != nil {
		log.Printf(i18n.Get("RiskConfigDefault"), cfg.RiskPath, err)
		riskCfg = risk.DefaultConfig()
	}
	tracker := risk.NewTracker(cfg.InitialCapital, database)
	if err := tracker.Warm(ctx); err != nil {
		log.Printf(i18n.Get("TrackerWarmFailed"), err)
	}
	chain := risk.NewDefaultChain(riskCfg, risk.NewStaticProvider(riskCfg), balances, tracker)
	log.Printf(i18n.Get("GateChainReady"), chain.Gates())

	// Execution
	led := ledger.New()
	exec := order.NewExecutor(order.Deps{
		Broker:  v,
		Gates:   chain,
		Ledger:  led,
		Prices:  prices,
		Trades:  writer,
		PnL:     tracker,
		Bus:     bus,
		Metrics: metrics,
	}, order.Config{
		MaxAttempts:        cfg.OrderMaxAttempts,
		BaseBackoff:        cfg.OrderBackoff,
		ContractMultiplier: cfg.ContractMultiplier,
	})
	exec.OnFill = func(events.Fill) { balances.Invalidate() }
	conditionals := conditional.NewEngine(exec, bus)

	// Strategies
	var remotes []*strategy.RemoteClient
	var remotesMu sync.Mutex
	names, factories, err := strategy.BuildFactories(stratFile.Strategies, strategy.FactoryDeps{
		Signals: v,
		Remote: func(addr, method string, timeout time.Duration) (*strategy.RemoteClient, error) {
			if timeout <= 0 {
				timeout = cfg.RemoteStrategyTimeout
			}
			client, err := strategy.DialRemote(addr, method, timeout)
			if err != nil {
				return nil, err
			}
			log.Printf(i18n.Get("RemoteStrategyDialed"), addr)
			remotesMu.Lock()
			remotes = append(remotes, client)
			remotesMu.Unlock()
			return client, nil
		},
	})
	if err != nil {
		return fmt.Errorf(i18n.Get("StrategyBuildFailed"), err)
	}
	defer func() {
		for _, c := range remotes {
			_ = c.Close()
		}
	}()
	for _, sc := range stratFile.Strategies {
		if !sc.Disabled {
			log.Printf(i18n.Get("StrategyLoaded"), sc.Name, sc.Type)
		}
	}

	dispatcher, err := strategy.NewDispatcher(names, factories, strategy.Options{
		LiveSymbol:      stratFile.LiveSymbol,
		LiveStrategy:    stratFile.LiveStrategy,
		Mode:            stratFile.TradingMode,
		TradingQuantity: stratFile.TradingQuantity,
		MaxShadowStocks: stratFile.MaxShadowStocks,
	}, strategy.Deps{
		Executor:  exec,
		Positions: led,
		Sizer:     balances,
		ShadowLog: writer,
		Switches:  database,
		Bus:       bus,
		Metrics:   metrics,
	})
	if err != nil {
		return fmt.Errorf(i18n.Get("StrategyBuildFailed"), err)
	}
	dispatcher.SetShadowSymbols(stratFile.ShadowSymbols)
	dispatcher.ResetAll()
	log.Printf(i18n.Get("LiveStrategy"), dispatcher.LiveSymbol(), dispatcher.ActiveStrategy())

	// Drawdown failover
	loc, err := time.LoadLocation(cfg.TradingTimezone)
	if err != nil {
		loc = time.UTC
	}
	drawdown := monitor.NewDrawdownMonitor(monitor.DrawdownConfig{
		ThresholdPct:    cfg.DrawdownThresholdPct,
		Interval:        cfg.DrawdownInterval,
		Lookback:        cfg.DrawdownLookback,
		SelectionWindow: cfg.SelectionWindow,
		Hours:           monitor.TradingHours{Open: cfg.TradingOpen, Close: cfg.TradingClose, Location: loc},
	}, monitor.NewPerformanceTracker(database), dispatcher, exec, bus)
	drawdown.Start(ctx)
	log.Printf(i18n.Get("DrawdownStarted"), cfg.DrawdownThresholdPct)

	recon := reconciliation.NewService(v, led, exec, bus, cfg.ReconcileInterval)
	recon.SetAutoSync(cfg.ReconcileAutoSync)
	recon.Start(ctx)
	log.Println(i18n.Get("ReconStarted"))

	alerter := &monitor.Alerter{Bus: bus, Sink: monitor.LogSink{}}
	alerter.Start(ctx)

	// Tick pipeline
	symbols := trackedSymbols(dispatcher.LiveSymbol(), dispatcher.ShadowSymbols(), cfg.Symbols)
	svc := engine.NewImpl(engine.Config{
		Ledger:             led,
		Prices:             prices,
		Executor:           exec,
		Conditional:        conditionals,
		Dispatcher:         dispatcher,
		Chain:              chain,
		Tracker:            tracker,
		DB:                 database,
		Bus:                bus,
		Metrics:            metrics,
		ContractMultiplier: cfg.ContractMultiplier,
		Workers:            cfg.TickWorkers,
		Meta: engine.SystemStatus{
			DryRun:      cfg.DryRun,
			UseMockFeed: cfg.UseMockFeed,
			Symbols:     symbols,
			Version:     version,
		},
	})
	svc.Start(ctx)
	log.Println(i18n.Get("EngineStarted"))

	if cfg.UseMockFeed {
		(&market.MockFeed{Bus: bus, Symbols: symbols}).Start(ctx)
		log.Println(i18n.Get("MockFeedStarted"))
	} else {
		(&market.Feed{Stream: pkgmarket.NewStreamClient(cfg.StreamURL), Bus: bus, Symbols: symbols}).Start(ctx)
		log.Printf(i18n.Get("StreamFeedStarted"), cfg.StreamURL)
	}

	server := api.NewServer(bus, svc, balances, metrics, cfg.JWTSecret)
	go func() {
		if err := server.Start(ctx, ":"+cfg.Port); err != nil {
			log.Printf(i18n.Get("APIServerError"), err)
			stop()
		}
	}()
	log.Printf(i18n.Get("ServerListening"), cfg.Port)

	<-ctx.Done()
	log.Println(i18n.Get("ShuttingDown"))
	if err := writer.Close(); err != nil {
		log.Printf("persistence: final flush failed: %v", err)
	} else {
		log.Println(i18n.Get("TradeLogFlushed"))
	}
	return nil
}

// trackedSymbols merges the live symbol, the shadow set and any extra
// configured symbols, preserving first-seen order.
func trackedSymbols(live string, shadow, extra []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(live)
	for _, s := range shadow {
		add(s)
	}
	for _, s := range extra {
		add(s)
	}
	return out
}
