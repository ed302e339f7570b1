// Package testing provides test utilities for ledgerberry integration tests:
// an in-process network of replicas sharing one genesis, with block and
// transaction propagation done by direct calls.
package testing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/blockberries/ledgerberry/chain"
	"github.com/blockberries/ledgerberry/config"
	"github.com/blockberries/ledgerberry/consensus"
	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/node"
	"github.com/blockberries/ledgerberry/types"
)

// TestNode wraps a ledgerberry node with test utilities.
type TestNode struct {
	*node.Node

	key     *types.PrivateKey
	dataDir string
}

// Key returns the validator key of the node.
func (tn *TestNode) Key() *types.PrivateKey {
	return tn.key
}

// Cleanup stops the node if it is running and removes its data directory.
func (tn *TestNode) Cleanup() error {
	err := tn.Close()
	if rmErr := os.RemoveAll(tn.dataDir); rmErr != nil {
		err = errors.Join(err, rmErr)
	}
	return err
}

// TestNetworkConfig holds configuration options for creating a test network.
type TestNetworkConfig struct {
	// ChainID is the chain identifier (default: "test-chain")
	ChainID string

	// Validators is the number of replicas, each a validator of power 1
	// (default: 4)
	Validators int

	// Backend is the storage backend of every replica (default: "memory")
	Backend string

	// ModifyConfig is applied to each replica's config before it is opened.
	ModifyConfig func(i int, cfg *config.Config)
}

// DefaultTestNetworkConfig returns a TestNetworkConfig with default values.
func DefaultTestNetworkConfig() *TestNetworkConfig {
	return &TestNetworkConfig{
		ChainID:    "test-chain",
		Validators: 4,
		Backend:    "memory",
	}
}

// TestNetwork is a set of replicas of one chain. Every replica is a
// validator; blocks are committed by the replicas chosen as online.
type TestNetwork struct {
	Nodes   []*TestNode
	Genesis *types.Block
	ValSet  *types.ValidatorSet

	mu        sync.Mutex
	proposers *consensus.ProposerSelection
}

// NewTestNetwork creates the replicas and their shared genesis block. The
// first replica signs the genesis transaction.
func NewTestNetwork(tc *TestNetworkConfig) (*TestNetwork, error) {
	if tc == nil {
		tc = DefaultTestNetworkConfig()
	}
	if tc.Validators <= 0 {
		return nil, fmt.Errorf("need at least one validator, got %d", tc.Validators)
	}

	keys := make([]*types.PrivateKey, tc.Validators)
	vals := make([]*types.Validator, tc.Validators)
	for i := range keys {
		key, err := types.GeneratePrivateKey()
		if err != nil {
			return nil, err
		}
		keys[i] = key
		vals[i] = types.NewValidator(key.PublicKey(), 1)
	}
	valSet, err := types.NewValidatorSet(vals)
	if err != nil {
		return nil, err
	}

	base := config.DefaultConfig()
	base.Chain.ChainID = tc.ChainID
	genesis, err := node.GenerateGenesis(base, keys[0], vals, time.Now())
	if err != nil {
		return nil, fmt.Errorf("generating genesis: %w", err)
	}

	net := &TestNetwork{
		Genesis:   genesis,
		ValSet:    valSet,
		proposers: consensus.NewProposerSelection(valSet),
	}
	for i, key := range keys {
		tn, err := newTestNode(i, tc, key, genesis)
		if err != nil {
			_ = net.Cleanup()
			return nil, fmt.Errorf("creating node %d: %w", i, err)
		}
		net.Nodes = append(net.Nodes, tn)
	}
	return net, nil
}

func newTestNode(i int, tc *TestNetworkConfig, key *types.PrivateKey, genesis *types.Block) (*TestNode, error) {
	dataDir, err := os.MkdirTemp("", fmt.Sprintf("ledgerberry-test-%d-*", i))
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	cfg := config.DefaultConfig()
	cfg.Chain.ChainID = tc.ChainID
	cfg.Store.Backend = tc.Backend
	cfg.StateStore.Backend = tc.Backend
	if tc.ModifyConfig != nil {
		tc.ModifyConfig(i, cfg)
	}
	cfg.ResolvePaths(dataDir)

	setup := func() (*node.Node, error) {
		if err := cfg.EnsureDataDirs(); err != nil {
			return nil, err
		}
		if err := node.SaveKey(cfg.Chain.PrivateKeyPath, key); err != nil {
			return nil, err
		}
		if err := node.WriteGenesisFile(cfg.Chain.GenesisPath, genesis); err != nil {
			return nil, err
		}
		return node.NewNode(cfg, node.WithLogger(logging.NewNopLogger()))
	}
	n, err := setup()
	if err != nil {
		_ = os.RemoveAll(dataDir)
		return nil, err
	}
	return &TestNode{Node: n, key: key, dataDir: dataDir}, nil
}

// Start starts every replica.
func (net *TestNetwork) Start() error {
	for i, tn := range net.Nodes {
		if err := tn.Start(); err != nil {
			return fmt.Errorf("starting node %d: %w", i, err)
		}
	}
	return nil
}

// Cleanup stops every replica and removes their data.
func (net *TestNetwork) Cleanup() error {
	var errs []error
	for _, tn := range net.Nodes {
		errs = append(errs, tn.Cleanup())
	}
	return errors.Join(errs...)
}

// All returns the indices of every replica.
func (net *TestNetwork) All() []int {
	idx := make([]int, len(net.Nodes))
	for i := range idx {
		idx[i] = i
	}
	return idx
}

// Chain returns the chain of replica i.
func (net *TestNetwork) Chain(i int) *chain.BlockChain {
	return net.Nodes[i].Chain()
}

// BroadcastTx stages tx on the given replicas. Replicas that already hold
// it are skipped.
func (net *TestNetwork) BroadcastTx(tx *types.Transaction, to []int) error {
	for _, i := range to {
		err := net.Nodes[i].Chain().StageTransaction(tx)
		if err != nil && !errors.Is(err, types.ErrTxAlreadyExists) {
			return fmt.Errorf("node %d: %w", i, err)
		}
	}
	return nil
}

// Commit signs a commit for block with the keys of the signer replicas.
func (net *TestNetwork) Commit(block *types.Block, signers []int) (*types.BlockCommit, error) {
	keys := make([]*types.PrivateKey, 0, len(signers))
	for _, i := range signers {
		keys = append(keys, net.Nodes[i].key)
	}
	return consensus.NewBlockCommit(block.Height(), 0, block.Hash(), net.ValSet, keys, block.Time())
}

// ProduceBlock has the proposer replica propose a block, commits it with
// the online replicas' signatures and appends it on every online replica.
func (net *TestNetwork) ProduceBlock(ctx context.Context, proposer int, online []int) (*types.Block, error) {
	net.mu.Lock()
	defer net.mu.Unlock()

	p := net.Nodes[proposer]
	block, err := p.Chain().Propose(ctx, p.Address())
	if err != nil {
		return nil, fmt.Errorf("proposing on node %d: %w", proposer, err)
	}
	commit, err := net.Commit(block, online)
	if err != nil {
		return nil, err
	}
	for _, i := range online {
		if err := net.Nodes[i].Chain().Append(ctx, block, commit); err != nil {
			return nil, fmt.Errorf("appending on node %d: %w", i, err)
		}
	}
	return block, nil
}

// NextProposer returns the index of the replica whose turn it is to
// propose, weighted by voting power.
func (net *TestNetwork) NextProposer() int {
	net.mu.Lock()
	defer net.mu.Unlock()
	return net.indexOf(net.proposers.Proposer().Address)
}

// ProduceNext is ProduceBlock with the proposer chosen by NextProposer. The
// selection advances only when the block is appended.
func (net *TestNetwork) ProduceNext(ctx context.Context, online []int) (*types.Block, error) {
	block, err := net.ProduceBlock(ctx, net.NextProposer(), online)
	if err != nil {
		return nil, err
	}
	net.mu.Lock()
	net.proposers.Advance()
	net.mu.Unlock()
	return block, nil
}

func (net *TestNetwork) indexOf(addr types.Address) int {
	for i, tn := range net.Nodes {
		if tn.Address() == addr {
			return i
		}
	}
	return -1
}

// Sync appends the blocks the source replica has and the target lacks,
// with their stored commits. It returns the number of blocks appended.
func (net *TestNetwork) Sync(ctx context.Context, from, to int) (int, error) {
	src, dst := net.Nodes[from].Chain(), net.Nodes[to].Chain()
	synced := 0
	for h := dst.Height() + 1; h <= src.Height(); h++ {
		block, err := src.GetBlockByHeight(h)
		if err != nil {
			return synced, fmt.Errorf("loading block %d: %w", h, err)
		}
		commit, err := src.GetBlockCommit(block.Hash())
		if err != nil {
			return synced, fmt.Errorf("loading commit %d: %w", h, err)
		}
		if err := dst.Append(ctx, block, commit); err != nil {
			return synced, fmt.Errorf("appending block %d: %w", h, err)
		}
		synced++
	}
	return synced, nil
}

// Converged reports whether the given replicas share the same tip.
func (net *TestNetwork) Converged(nodes []int) bool {
	if len(nodes) == 0 {
		return true
	}
	want := net.Nodes[nodes[0]].Chain().TipHash()
	for _, i := range nodes[1:] {
		if !net.Nodes[i].Chain().TipHash().Equal(want) {
			return false
		}
	}
	return true
}
