package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"autotrader/internal/strategy"
	"autotrader/pkg/broker"
	"autotrader/pkg/config"
	"autotrader/pkg/db"
)

const (
	statusHealthy   = "HEALTHY"
	statusDegraded  = "DEGRADED"
	statusUnhealthy = "UNHEALTHY"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check configuration, database, broker bridge and API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			report := runHealthChecks(ctx, cfg, fmt.Sprintf("http://localhost:%s", cfg.Port))
			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(out, "🏥 autotrader health check")
				for _, svc := range report.Services {
					icon := "✓"
					switch svc.Status {
					case statusUnhealthy:
						icon = "✗"
					case statusDegraded:
						icon = "⚠"
					}
					fmt.Fprintf(out, "%s %-16s %s %s\n", icon, svc.Service, svc.Status, svc.Message)
				}
				fmt.Fprintf(out, "Overall Status: %s\n", report.Overall)
			}
			if report.Overall == statusUnhealthy {
				return fmt.Errorf("health check failed")
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the report as JSON")
	return cmd
}

func runHealthChecks(ctx context.Context, cfg *config.Config, apiBase string) HealthReport {
	report := HealthReport{
		Overall: statusHealthy,
		Services: []HealthStatus{
			checkStrategies(cfg),
			checkDatabase(ctx, cfg),
			checkBridge(ctx, cfg),
			checkAPIServer(ctx, apiBase),
		},
	}
	for _, svc := range report.Services {
		if svc.Status == statusUnhealthy {
			report.Overall = statusUnhealthy
			break
		} else if svc.Status == statusDegraded {
			report.Overall = statusDegraded
		}
	}
	return report
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: statusHealthy, Timestamp: time.Now()}
}

func checkStrategies(cfg *config.Config) HealthStatus {
	status := newStatus("Strategies")
	file, err := strategy.LoadConfig(cfg.StrategiesPath)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	status.Message = fmt.Sprintf("%d configured, live %s on %s", len(file.Strategies), file.LiveStrategy, file.LiveSymbol)
	return status
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Database")
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	defer database.Close()

	if err := database.Ping(ctx); err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}
	status.Message = "Connected"
	return status
}

func checkBridge(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Broker bridge")
	if cfg.DryRun {
		status.Message = "Skipped (dry run uses the paper broker)"
		return status
	}
	bridge := broker.NewBridge(broker.BridgeConfig{
		BaseURL: cfg.BridgeURL,
		Token:   cfg.BridgeToken,
		Timeout: 5 * time.Second,
	})
	account, err := bridge.Account(ctx)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	status.Message = fmt.Sprintf("Equity %.2f, %d positions", account.Equity, len(account.Positions))
	return status
}

func checkAPIServer(ctx context.Context, base string) HealthStatus {
	status := newStatus("API server")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		status.Status = statusUnhealthy
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		// The API only runs alongside the trading loop.
		status.Status = statusDegraded
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = statusDegraded
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Message = "Running"
	return status
}
