package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/types"
)

// Propose builds a candidate block on the current tip from the staged
// transactions and the pending evidence that is still committable. The
// block is evaluated speculatively to fill in its state root; nothing is
// persisted.
//
// Returns types.ErrNotEnoughTransactions when the policy minimum is not
// met.
func (c *BlockChain) Propose(ctx context.Context, proposer types.Address) (block *types.Block, err error) {
	ctx, span := c.tracer.Start(ctx, "BlockChain.Propose",
		trace.WithAttributes(attribute.String("proposer", proposer.String())))
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	tip := c.tip.Load()
	height := tip.block.Height() + 1

	txs, err := c.mempool.Collect(c.chainNonce, c.policy.collectOptions())
	if err != nil {
		if errors.Is(err, types.ErrNotEnoughTransactions) {
			c.logger.Debug("not ready to propose", logging.Height(height), logging.Error(err))
		}
		return nil, err
	}
	evs, err := c.proposableEvidence(height)
	if err != nil {
		return nil, err
	}

	block = types.NewBlock(types.BlockHeader{
		ProtocolVersion:       c.proposalVersion(tip.block),
		Height:                height,
		Timestamp:             c.proposalTimestamp(tip.block),
		Proposer:              proposer,
		PreviousHash:          tip.hash,
		PreviousCommit:        tip.commit,
		PreviousStateRootHash: tip.block.Header.StateRootHash,
	}, txs, evs)

	res, err := c.evaluate(ctx, block)
	if err != nil {
		return nil, err
	}
	block.Header.StateRootHash = res.StateRoot()

	if err := c.checkLimits(block); err != nil {
		return nil, err
	}
	for _, v := range c.policy.BlockValidators {
		if err := v(c, block); err != nil {
			return nil, fmt.Errorf("%w: block %d: %w", types.ErrPolicyViolation, height, err)
		}
	}

	span.SetAttributes(
		attribute.Int64("height", height),
		attribute.Int("txs", len(txs)),
		attribute.Int("evidence", len(evs)),
	)
	c.metrics.IncBlocksProposed()
	c.logger.Debug("block proposed",
		logging.Height(height),
		logging.BlockHash(block.Hash()),
		logging.StateRoot(block.Header.StateRootHash),
		logging.Count(len(txs)))
	return block, nil
}

// proposableEvidence returns pending evidence that a block at height may
// still commit.
func (c *BlockChain) proposableEvidence(height int64) ([]*types.DuplicateVoteEvidence, error) {
	pending, err := c.ledger.PendingEvidence()
	if err != nil {
		return nil, err
	}
	var out []*types.DuplicateVoteEvidence
	for _, ev := range pending {
		if ev.Height < height && !c.ledger.IsExpired(ev.Height, height) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (c *BlockChain) proposalVersion(prev *types.Block) int32 {
	v := min(types.CurrentProtocolVersion, c.policy.MaxProtocolVersion)
	return max(v, prev.Header.ProtocolVersion)
}

func (c *BlockChain) proposalTimestamp(prev *types.Block) int64 {
	return max(c.clock().UnixNano(), prev.Header.Timestamp+1)
}

// GenesisParams describes a genesis block.
type GenesisParams struct {
	// Proposer signs the genesis transaction that installs Validators and
	// runs Actions.
	Proposer *types.PrivateKey

	// Validators is the initial validator set.
	Validators []*types.Validator

	// Actions are extra action payloads for the proposer's transaction.
	Actions [][]byte

	// Transactions follow the proposer's transaction. They are not bound
	// to a genesis hash.
	Transactions []*types.Transaction

	// Timestamp defaults to the clock.
	Timestamp time.Time

	// ProtocolVersion defaults to the highest version the policy accepts.
	ProtocolVersion int32
}

// ProposeGenesisBlock builds a genesis block from params and evaluates it
// from the empty state to fill in its state root. Any failing genesis
// transaction is an error. deps supply the state store and action loader;
// nothing is persisted.
func ProposeGenesisBlock(params GenesisParams, deps Deps, opts ...Option) (*types.Block, error) {
	c, err := newBlockChain(deps, opts)
	if err != nil {
		return nil, err
	}
	if params.Proposer == nil {
		return nil, fmt.Errorf("%w: no proposer key", types.ErrInvalidGenesis)
	}

	actions := make([][]byte, 0, len(params.Validators)+len(params.Actions))
	for _, v := range params.Validators {
		payload, err := action.Marshal(&action.SetValidator{PublicKey: v.PublicKey, Power: v.Power})
		if err != nil {
			return nil, err
		}
		actions = append(actions, payload)
	}
	actions = append(actions, params.Actions...)

	ts := params.Timestamp
	if ts.IsZero() {
		ts = c.clock()
	}
	txs := make([]*types.Transaction, 0, len(params.Transactions)+1)
	if len(actions) > 0 {
		tx, err := types.NewTransaction(params.Proposer, 0, nil, actions, ts)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	txs = append(txs, params.Transactions...)

	version := params.ProtocolVersion
	if version == 0 {
		version = min(types.CurrentProtocolVersion, c.policy.MaxProtocolVersion)
	}
	block := types.NewBlock(types.BlockHeader{
		ProtocolVersion: version,
		Height:          0,
		Timestamp:       ts.UnixNano(),
		Proposer:        params.Proposer.Address(),
	}, txs, nil)

	res, err := c.evaluator.Evaluate(block, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}
	for i, tr := range res.TxResults {
		if tr.Fail {
			return nil, fmt.Errorf("%w: tx %d failed: %s",
				types.ErrInvalidGenesis, i, strings.Join(tr.ExceptionNames, ", "))
		}
	}
	block.Header.StateRootHash = res.StateRoot()
	return block, nil
}
