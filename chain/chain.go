// Package chain is the blockchain orchestrator. It proposes blocks from
// staged transactions and appends committed blocks, which is the only way
// chain state changes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/events"
	"github.com/blockberries/ledgerberry/evidence"
	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/mempool"
	"github.com/blockberries/ledgerberry/metrics"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/types"
)

const tracerName = "github.com/blockberries/ledgerberry/chain"

// Deps are the storage and execution collaborators of a chain.
type Deps struct {
	// Repository stores blocks, commits, nonces, executions and evidence.
	Repository *store.Repository

	// States stores world state tries.
	States *state.Store

	// Loader decodes transaction action payloads.
	Loader action.Loader
}

func (d Deps) validate() error {
	if d.Repository == nil || d.States == nil || d.Loader == nil {
		return errors.New("chain: repository, state store and action loader are required")
	}
	return nil
}

// tipState is the chain head. It is replaced as a whole on every append.
type tipState struct {
	block  *types.Block
	hash   types.Hash
	commit *types.BlockCommit
}

// BlockChain is a handle on one chain.
//
// Reads are safe for concurrent use. Append calls are serialized.
type BlockChain struct {
	repo      *store.Repository
	states    *state.Store
	evaluator *action.Evaluator
	mempool   *mempool.Mempool
	ledger    *evidence.Ledger
	policy    Policy

	genesis *types.Block
	tip     atomic.Pointer[tipState]

	// appendMu serializes Append.
	appendMu sync.Mutex
	// txMu serializes nonce assignment in MakeTransaction.
	txMu sync.Mutex

	clock          func() time.Time
	logger         *logging.Logger
	metrics        metrics.Metrics
	tracer         trace.Tracer
	bus            *events.Bus
	mempoolMaxTxs  int
	mempoolTxLife  time.Duration
	tracerProvider trace.TracerProvider
}

// Option is a functional option for configuring a BlockChain.
type Option func(*BlockChain)

// WithPolicy sets the block policy.
func WithPolicy(p Policy) Option {
	return func(c *BlockChain) {
		c.policy = p
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *BlockChain) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m metrics.Metrics) Option {
	return func(c *BlockChain) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracerProvider sets the provider spans are created from. The global
// provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *BlockChain) {
		c.tracerProvider = tp
	}
}

// WithEventBus sets the bus TxExecuted and TipChanged events are published on.
func WithEventBus(bus *events.Bus) Option {
	return func(c *BlockChain) {
		c.bus = bus
	}
}

// WithClock sets the time source used for proposals and staging expiry.
func WithClock(clock func() time.Time) Option {
	return func(c *BlockChain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithMempoolLimits sets the staged transaction cap and lifetime.
func WithMempoolLimits(maxTxs int, lifetime time.Duration) Option {
	return func(c *BlockChain) {
		c.mempoolMaxTxs = maxTxs
		c.mempoolTxLife = lifetime
	}
}

func newBlockChain(deps Deps, opts []Option) (*BlockChain, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	c := &BlockChain{
		repo:    deps.Repository,
		states:  deps.States,
		policy:  DefaultPolicy(),
		clock:   time.Now,
		logger:  logging.NewNopLogger(),
		metrics: metrics.NewNopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.tracerProvider == nil {
		c.tracerProvider = otel.GetTracerProvider()
	}
	c.tracer = c.tracerProvider.Tracer(tracerName)
	c.logger = c.logger.WithComponent("chain")
	c.evaluator = action.NewEvaluator(deps.States, deps.Loader,
		action.WithBeginBlockActions(c.policy.BeginBlockActions...),
		action.WithEndBlockActions(c.policy.EndBlockActions...),
		action.WithLogger(c.logger))
	c.ledger = evidence.NewLedger(c.repo, c, c.policy.EvidencePendingDuration, c.logger)
	return c, nil
}

// attach finishes construction once the genesis block is known.
func (c *BlockChain) attach(genesis *types.Block, tip *tipState) {
	c.genesis = genesis
	c.tip.Store(tip)
	c.mempool = mempool.New(mempool.Config{
		GenesisHash: genesis.Hash(),
		Lifetime:    c.mempoolTxLife,
		MaxTxs:      c.mempoolMaxTxs,
		Clock:       c.clock,
		Logger:      c.logger,
	})
	c.mempool.SetTxValidator(func(tx *types.Transaction) error {
		return c.runTxValidators(tx)
	})
	c.metrics.SetBlockHeight(tip.block.Height())
}

// Create initializes an empty repository with genesis and returns the
// chain. The genesis block is evaluated from the empty state and must
// declare the resulting state root and a non-empty validator set.
func Create(genesis *types.Block, deps Deps, opts ...Option) (*BlockChain, error) {
	c, err := newBlockChain(deps, opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.repo.Genesis(); err == nil {
		return nil, types.ErrChainAlreadyInitialized
	} else if !errors.Is(err, types.ErrChainNotInitialized) {
		return nil, err
	}

	res, err := c.validateGenesis(genesis)
	if err != nil {
		return nil, err
	}
	hash := genesis.Hash()
	if err := c.persist(genesis, hash, nil, res, nil); err != nil {
		return nil, err
	}

	c.attach(genesis, &tipState{block: genesis, hash: hash})
	c.logger.Info("chain created",
		logging.BlockHash(hash),
		logging.StateRoot(genesis.Header.StateRootHash),
		logging.Count(len(genesis.Transactions)))
	return c, nil
}

// Open loads an initialized chain from its repository.
func Open(deps Deps, opts ...Option) (*BlockChain, error) {
	c, err := newBlockChain(deps, opts)
	if err != nil {
		return nil, err
	}
	genesisHash, err := c.repo.Genesis()
	if err != nil {
		return nil, err
	}
	genesis, err := c.repo.GetBlock(genesisHash)
	if err != nil {
		return nil, fmt.Errorf("loading genesis: %w", err)
	}
	tipHash, err := c.repo.Tip()
	if err != nil {
		return nil, err
	}
	tipBlock, err := c.repo.GetBlock(tipHash)
	if err != nil {
		return nil, fmt.Errorf("loading tip: %w", err)
	}
	tip := &tipState{block: tipBlock, hash: tipHash}
	if !tipBlock.IsGenesis() {
		if tip.commit, err = c.repo.GetBlockCommit(tipHash); err != nil {
			return nil, fmt.Errorf("loading tip commit: %w", err)
		}
	}

	c.attach(genesis, tip)
	c.logger.Info("chain opened",
		logging.Height(tipBlock.Height()),
		logging.BlockHash(tipHash))
	return c, nil
}

// Policy returns the chain policy.
func (c *BlockChain) Policy() Policy {
	return c.policy
}

// Genesis returns the genesis block.
func (c *BlockChain) Genesis() *types.Block {
	return c.genesis
}

// Tip returns the last appended block.
func (c *BlockChain) Tip() *types.Block {
	return c.tip.Load().block
}

// TipHash returns the hash of the last appended block.
func (c *BlockChain) TipHash() types.Hash {
	return c.tip.Load().hash
}

// TipCommit returns the commit of the last appended block, nil at genesis.
func (c *BlockChain) TipCommit() *types.BlockCommit {
	return c.tip.Load().commit
}

// Height returns the tip height.
func (c *BlockChain) Height() int64 {
	return c.tip.Load().block.Height()
}

// GetBlock returns a block by hash.
func (c *BlockChain) GetBlock(hash types.Hash) (*types.Block, error) {
	return c.repo.GetBlock(hash)
}

// GetBlockByHeight returns the block at height.
func (c *BlockChain) GetBlockByHeight(height int64) (*types.Block, error) {
	if height < 0 || height > c.Height() {
		return nil, fmt.Errorf("%w: height %d", types.ErrBlockNotFound, height)
	}
	return c.repo.GetBlockByHeight(height)
}

// GetBlockCommit returns the commit of the block with hash.
func (c *BlockChain) GetBlockCommit(hash types.Hash) (*types.BlockCommit, error) {
	return c.repo.GetBlockCommit(hash)
}

// GetWorld returns the world with the given state root.
func (c *BlockChain) GetWorld(root types.Hash) (*state.World, error) {
	return c.states.GetWorld(root)
}

// GetWorldAt returns the world after the block at height.
func (c *BlockChain) GetWorldAt(height int64) (*state.World, error) {
	block, err := c.GetBlockByHeight(height)
	if err != nil {
		return nil, err
	}
	return c.states.GetWorld(block.Header.StateRootHash)
}

// ValidatorSetAt returns the validator set that commits the block at
// height: the one recorded in the state the block builds on. The genesis
// block is governed by its own output state. Height may be one above the
// tip.
func (c *BlockChain) ValidatorSetAt(height int64) (*types.ValidatorSet, error) {
	tip := c.tip.Load()
	var root types.Hash
	switch {
	case height < 0 || height > tip.block.Height()+1:
		return nil, fmt.Errorf("%w: height %d", types.ErrBlockNotFound, height)
	case height == tip.block.Height()+1:
		root = tip.block.Header.StateRootHash
	case height == 0:
		root = c.genesis.Header.StateRootHash
	default:
		block, err := c.repo.GetBlockByHeight(height)
		if err != nil {
			return nil, err
		}
		root = block.Header.PreviousStateRootHash
	}
	world, err := c.states.GetWorld(root)
	if err != nil {
		return nil, err
	}
	return world.GetValidatorSet()
}

// GetNextTxNonce returns the nonce the next transaction of signer should
// use, counting transactions already staged.
func (c *BlockChain) GetNextTxNonce(signer types.Address) (int64, error) {
	chainNonce, err := c.repo.GetNonce(signer)
	if err != nil {
		return 0, err
	}
	return c.mempool.NextNonce(signer, chainNonce), nil
}

// GetTxExecution returns the outcome of a transaction in a block.
func (c *BlockChain) GetTxExecution(blockHash, txID types.Hash) (*types.TxExecution, error) {
	return c.repo.GetTxExecution(blockHash, txID)
}

// GetTransaction returns an included transaction by id.
func (c *BlockChain) GetTransaction(id types.Hash) (*types.Transaction, error) {
	return c.repo.GetTransaction(id)
}

// Mempool returns the staged transaction collection.
func (c *BlockChain) Mempool() *mempool.Mempool {
	return c.mempool
}

// Evidence returns the evidence ledger.
func (c *BlockChain) Evidence() *evidence.Ledger {
	return c.ledger
}

func (c *BlockChain) chainNonce(signer types.Address) (int64, error) {
	return c.repo.GetNonce(signer)
}

func (c *BlockChain) publish(ctx context.Context, kind string, height int64, data any) {
	if c.bus == nil {
		return
	}
	if _, err := c.bus.Publish(ctx, events.Event{Kind: kind, Height: height, Data: data}); err != nil {
		c.logger.Debug("event not published", logging.State(kind), logging.Error(err))
	}
}
