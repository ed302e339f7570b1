package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/node"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node",
	Long: `Start the Ledgerberry node with the specified configuration.

The chain is created from the genesis file on first start. The node will
run until interrupted (Ctrl+C) or it receives a termination signal.

Example:
  ledgerberry start --config node0/config.toml`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closer, err := logging.FromConfig(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer closer.Close()

	logger.Info("Starting Ledgerberry node",
		"chain_id", cfg.Chain.ChainID,
		"version", Version,
	)

	n, err := node.NewNode(cfg, node.WithLogger(logger), node.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("creating node: %w", err)
	}

	if err := n.Start(); err != nil {
		_ = n.Close()
		return fmt.Errorf("starting node: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info("Received signal, shutting down")

	if err := n.Stop(); err != nil {
		logger.Error("Error stopping node", logging.Error(err))
		return fmt.Errorf("stopping node: %w", err)
	}

	logger.Info("Node stopped gracefully")
	return nil
}
