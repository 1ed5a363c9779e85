package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect both tiers and run the reconciler until interrupted",
	Long: `Loads HybridConfig, wires the fast tier, durable tier, outbox,
reconciler, and circuit breaker into one Orchestrator, connects, and
blocks until SIGINT/SIGTERM — a wiring demo for the hybrid store, not an
HTTP service (spec.md §1 places an HTTP-facing surface out of scope).`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	a, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("wiring app: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Resilience.OperationTimeout*2)
	defer cancel()
	if err := a.connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	a.logger.Info("authstore connected", "write_behind", cfg.EnableWriteBehind)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Observability.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sigCtx.Done():
			a.logger.Info("shutting down")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			a.orch.Disconnect(shutdownCtx)
			shutdownCancel()
			return nil
		case <-ticker.C:
			if cfg.Observability.EnableDetailedLogs {
				a.logger.Info("orchestrator status", "healthy", a.orch.IsHealthy(context.Background()), "breaker_open", a.orch.IsBreakerOpen())
			}
		}
	}
}
