package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/ledgerberry/config"
	"github.com/blockberries/ledgerberry/node"
	"github.com/blockberries/ledgerberry/types"
)

var (
	initChainID  string
	initDataDir  string
	initBackend  string
	initPower    int64
	initOverride bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new node",
	Long: `Initialize a new Ledgerberry node with configuration, key and genesis.

This command creates:
  - config.toml: Node configuration
  - node_key.seed: Node signing key
  - genesis.bin: Genesis block with the node key as the only validator
  - data/: Data directory for the chain and state

Example:
  ledgerberry init --chain-id mychain --data-dir ./node0`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initChainID, "chain-id", "ledgerberry-devnet-1", "chain ID for the network")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", ".", "directory for configuration and data")
	initCmd.Flags().StringVar(&initBackend, "backend", "leveldb", "storage backend (leveldb, badgerdb, memory)")
	initCmd.Flags().Int64Var(&initPower, "power", 1, "voting power of the node key in the genesis validator set")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration and genesis")
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir := initDataDir
	if dataDir == "" {
		dataDir = "."
	}

	configPath := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("config.toml already exists; use --force to override")
	}
	if initPower <= 0 {
		return fmt.Errorf("power must be positive, got %d", initPower)
	}

	// Paths stay relative in the written file so the directory can move.
	cfg := config.DefaultConfig()
	cfg.Chain.ChainID = initChainID
	cfg.Store.Backend = initBackend
	cfg.StateStore.Backend = initBackend
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	resolved := *cfg
	resolved.ResolvePaths(dataDir)
	if err := resolved.EnsureDataDirs(); err != nil {
		return err
	}

	keyPath := resolved.Chain.PrivateKeyPath
	var key *types.PrivateKey
	if _, err := os.Stat(keyPath); os.IsNotExist(err) || initOverride {
		key, err = types.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := node.SaveKey(keyPath, key); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated node key: %s\n", keyPath)
	} else {
		key, err = node.LoadKey(keyPath)
		if err != nil {
			return err
		}
	}

	genesisPath := resolved.Chain.GenesisPath
	if _, err := os.Stat(genesisPath); err == nil && !initOverride {
		return fmt.Errorf("%s already exists; use --force to override", genesisPath)
	}
	validators := []*types.Validator{types.NewValidator(key.PublicKey(), initPower)}
	genesis, err := node.GenerateGenesis(&resolved, key, validators, time.Now())
	if err != nil {
		return fmt.Errorf("generating genesis: %w", err)
	}
	if err := node.WriteGenesisFile(genesisPath, genesis); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized Ledgerberry node\n")
	fmt.Fprintf(out, "  Chain ID:    %s\n", initChainID)
	fmt.Fprintf(out, "  Address:     %s\n", key.Address())
	fmt.Fprintf(out, "  Genesis:     %s\n", genesis.Hash())
	fmt.Fprintf(out, "  Config:      %s\n", configPath)
	fmt.Fprintf(out, "  Data dir:    %s\n", filepath.Join(dataDir, "data"))

	return nil
}
