package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"shopops/internal/agent"
	"shopops/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runCmd starts the agent
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the agent",
	Long: `Starts the print, message and command feeds, opens the chat session and
answers inbound messages until interrupted.

A remote restart or session reset exits the process; run it under a
supervisor that restarts it.`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid configuration", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting agent",
		zap.String("store", cfg.Store.Backend),
		zap.Bool("assistant", cfg.AI.Enabled),
		zap.String("metrics", cfg.Metrics.Listen))

	a, shutdown, err := agent.Bootstrap(ctx, cfg)
	if err != nil {
		logging.BootError("Bootstrap failed: %v", err)
		return err
	}
	defer shutdown()

	logger.Info("Agent running", zap.String("owner", a.Owner()))
	if err := a.Run(ctx); err != nil {
		logger.Error("Agent stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Agent stopped")
	return nil
}
