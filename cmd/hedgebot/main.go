// Command hedgebot runs the delta-neutral hedging engine.
//
// Architecture:
//
//	main.go                    — entry point: loads config, recovers crashed
//	                              operations, starts the status API, waits
//	                              for SIGINT/SIGTERM
//	internal/config            — YAML config with HEDGER_* env overrides
//	internal/exchange          — Bybit v5 REST+WS adapter
//	internal/planner           — turns a HedgeRequest into concrete order
//	                              sizes, leverage, and a chunk plan
//	internal/executor          — sequential and chunked-websocket order
//	                              state machines for one hedge/unhedge
//	internal/reconciler        — closes residual spot/futures imbalance
//	internal/progress          — throttled progress callback
//	internal/store             — GORM/SQLite operation persistence
//	internal/supervisor        — registry of running operations
//	internal/statusapi         — read-only HTTP/WS status feed
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hedgeengine/internal/config"
	"hedgeengine/internal/exchange"
	"hedgeengine/internal/progress"
	"hedgeengine/internal/statusapi"
	"hedgeengine/internal/store"
	"hedgeengine/internal/supervisor"
	"hedgeengine/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HEDGER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg))

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("failed to open store", "error", err, "path", cfg.DBPath)
		os.Exit(1)
	}
	defer st.Close()

	auth := exchange.NewAuth(cfg)
	adapter := exchange.NewClient(cfg, auth, logger)

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	if err := adapter.CheckConnection(connectCtx); err != nil {
		cancelConnect()
		logger.Error("exchange connectivity check failed", "error", err)
		os.Exit(1)
	}
	cancelConnect()

	sink := progress.NewSink(logProgress(logger), 0)
	sv := supervisor.New(adapter, st, cfg, sink, logger)

	reclaimCtx, cancelReclaim := context.WithTimeout(context.Background(), 30*time.Second)
	if _, err := sv.ReclaimCrashed(reclaimCtx); err != nil {
		logger.Error("failed to reclaim crashed operations", "error", err)
	}
	cancelReclaim()

	var statusServer *statusapi.Server
	if cfg.StatusAPI.Enabled {
		statusServer = statusapi.NewServer(cfg.StatusAPI.Port, sv, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("status api failed", "error", err)
			}
		}()
		logger.Info("status api started", "url", fmt.Sprintf("http://localhost:%d", cfg.StatusAPI.Port))
	}

	logger.Info("hedgebot started",
		"use_testnet", cfg.UseTestnet,
		"quote_currency", cfg.QuoteCurrency,
		"strategy_default", cfg.HedgeStrategyDefault,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if statusServer != nil {
		if err := statusServer.Stop(); err != nil {
			logger.Error("failed to stop status api", "error", err)
		}
	}
}

func newLogHandler(cfg *config.Config) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logProgress is the default progress.Callback used when no external
// transport (bot, webhook) is wired in; it just logs.
func logProgress(logger *slog.Logger) progress.Callback {
	return func(ctx context.Context, update types.ProgressUpdate) error {
		logger.Info("progress",
			"operation_id", update.OperationID,
			"stage", update.Stage,
			"cumulative_filled", update.CumulativeFilled,
			"total_target", update.TotalTarget,
			"is_replacement", update.IsReplacement,
		)
		return nil
	}
}
