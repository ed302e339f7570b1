package node

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/chain"
	"github.com/blockberries/ledgerberry/config"
	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/types"
)

// LoadGenesisFile reads an encoded genesis block.
func LoadGenesisFile(path string) (*types.Block, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", types.ErrGenesisNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading genesis file: %w", err)
	}
	block, err := types.DecodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("decoding genesis file: %w", err)
	}
	if !block.IsGenesis() {
		return nil, fmt.Errorf("%w: height %d", types.ErrInvalidGenesis, block.Height())
	}
	return block, nil
}

// WriteGenesisFile writes an encoded genesis block to path.
func WriteGenesisFile(path string, block *types.Block) error {
	data, err := types.EncodeBlock(block)
	if err != nil {
		return fmt.Errorf("encoding genesis block: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating genesis directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing genesis file: %w", err)
	}
	return nil
}

// GenerateGenesis builds a genesis block signed by proposer that installs
// validators. It is evaluated against scratch in-memory stores under the
// policy in cfg.
func GenerateGenesis(cfg *config.Config, proposer *types.PrivateKey, validators []*types.Validator, ts time.Time) (*types.Block, error) {
	deps := chain.Deps{
		Repository: store.NewRepository(kvstore.NewMemoryStore()),
		States:     state.NewStore(kvstore.NewMemoryStore()),
		Loader:     action.NewRegistry(),
	}
	return chain.ProposeGenesisBlock(chain.GenesisParams{
		Proposer:   proposer,
		Validators: validators,
		Timestamp:  ts,
	}, deps, chain.WithPolicy(chain.PolicyFromConfig(cfg.Chain)))
}
