package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/consensus"
	"github.com/blockberries/ledgerberry/events"
	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/metrics"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/trie"
	"github.com/blockberries/ledgerberry/types"
)

// Append validates block and its commit against the tip and, if both are
// valid, makes block the new tip.
//
// Checks run in this order and the first failure is returned: height,
// previous hash and state root, timestamp, protocol version, size and
// transaction limits, block integrity, commit and previous commit,
// transaction signatures and genesis binding, nonces, evidence, policy
// hooks, and finally the recomputed state root.
//
// On success the state, block, commit, nonces, executions, evidence
// transitions and tip are persisted together; included transactions are
// unstaged and TxExecuted then TipChanged events are published. On
// failure nothing changes.
func (c *BlockChain) Append(ctx context.Context, block *types.Block, commit *types.BlockCommit) (err error) {
	ctx, span := c.tracer.Start(ctx, "BlockChain.Append")
	defer span.End()

	c.appendMu.Lock()
	defer c.appendMu.Unlock()

	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.metrics.IncBlocksRejected(rejectReason(err))
		}
	}()

	if block == nil {
		return fmt.Errorf("%w: nil block", types.ErrInvalidBlock)
	}
	for i, tx := range block.Transactions {
		if tx == nil {
			return fmt.Errorf("%w: %w: nil transaction at %d", types.ErrInvalidBlock, types.ErrInvalidTransaction, i)
		}
	}
	hash := block.Hash()
	span.SetAttributes(
		attribute.Int64("height", block.Height()),
		attribute.String("block_hash", hash.String()),
		attribute.Int("txs", len(block.Transactions)),
	)

	tip := c.tip.Load()
	res, err := c.validateBlock(ctx, tip, block, hash, commit)
	if err != nil {
		c.logger.Warn("block rejected",
			logging.Height(block.Height()),
			logging.BlockHash(hash),
			logging.Error(err))
		return err
	}

	var pruned []types.Hash
	err = c.persist(block, hash, commit, res, func(b *store.Batch) error {
		var werr error
		pruned, werr = c.ledger.WriteBlock(b, block)
		return werr
	})
	if err != nil {
		return err
	}

	c.tip.Store(&tipState{block: block, hash: hash, commit: commit})
	removed := c.mempool.RemoveTxs(block.TxIDs())

	c.recordAppend(block, res, len(pruned), time.Since(start))
	c.logger.Info("block appended",
		logging.Height(block.Height()),
		logging.BlockHash(hash),
		logging.StateRoot(block.Header.StateRootHash),
		logging.Count(len(block.Transactions)),
		slog.Int("unstaged", removed),
		slog.Int("failed_txs", res.FailedTxs()))
	if len(pruned) > 0 {
		c.logger.Info("expired evidence dropped", logging.Height(block.Height()), logging.Count(len(pruned)))
	}

	for i, tx := range block.Transactions {
		c.publish(ctx, events.EventTxExecuted, block.Height(), &events.TxExecuted{
			Index:     i,
			Signer:    tx.Signer,
			Nonce:     tx.Nonce,
			Execution: res.executions[i],
		})
	}
	c.publish(ctx, events.EventTipChanged, block.Height(), &events.TipChanged{
		OldTip:    tip.hash,
		OldHeight: tip.block.Height(),
		NewTip:    hash,
		NewHeight: block.Height(),
	})
	return nil
}

// appendResult is the evaluated outcome of a validated block.
type appendResult struct {
	*action.Result
	executions []*types.TxExecution
	nonces     map[types.Address]int64
}

func (c *BlockChain) validateBlock(ctx context.Context, tip *tipState, block *types.Block, hash types.Hash, commit *types.BlockCommit) (*appendResult, error) {
	prev := tip.block
	h := block.Header

	// 1. height
	if h.Height != prev.Height()+1 {
		return nil, fmt.Errorf("%w: got %d, want %d", types.ErrInvalidBlockHeight, h.Height, prev.Height()+1)
	}
	// 2. previous hash and the state it builds on
	if !h.PreviousHash.Equal(tip.hash) {
		return nil, fmt.Errorf("%w: got %s, want %s", types.ErrInvalidPreviousHash, h.PreviousHash, tip.hash)
	}
	if !h.PreviousStateRootHash.Equal(prev.Header.StateRootHash) {
		return nil, fmt.Errorf("%w: got %s, want %s",
			types.ErrInvalidPreviousStateRoot, h.PreviousStateRootHash, prev.Header.StateRootHash)
	}
	// 3. timestamp
	if h.Timestamp <= prev.Header.Timestamp {
		return nil, fmt.Errorf("%w: %s is not after %s",
			types.ErrInvalidBlockTimestamp, block.Time().UTC(), prev.Time().UTC())
	}
	// 4. protocol version
	if err := c.checkProtocolVersion(h.ProtocolVersion, prev.Header.ProtocolVersion); err != nil {
		return nil, err
	}
	// 5. size and transaction limits
	if err := c.checkLimits(block); err != nil {
		return nil, err
	}
	if err := block.VerifyIntegrity(); err != nil {
		return nil, err
	}
	// 6. commit
	if err := c.checkCommits(tip, block, hash, commit); err != nil {
		return nil, err
	}
	for i, tx := range block.Transactions {
		if err := c.checkTransaction(tx, false); err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
	}
	// 7. nonces
	nonces, err := c.checkNonces(block)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.ValidateBlockEvidence(block); err != nil {
		return nil, err
	}
	// 8. policy hooks
	if err := c.runPolicy(block); err != nil {
		return nil, err
	}
	// 9. state root
	res, err := c.evaluate(ctx, block)
	if err != nil {
		return nil, err
	}
	if root := res.StateRoot(); !root.Equal(h.StateRootHash) {
		return nil, fmt.Errorf("%w: declared %s, computed %s", types.ErrStateRootMismatch, h.StateRootHash, root)
	}

	return &appendResult{
		Result:     res,
		executions: res.TxExecutions(hash),
		nonces:     nonces,
	}, nil
}

func (c *BlockChain) checkProtocolVersion(version, prevVersion int32) error {
	if version < prevVersion {
		return fmt.Errorf("%w: %d is below previous %d", types.ErrInvalidProtocolVersion, version, prevVersion)
	}
	if version > c.policy.MaxProtocolVersion {
		return fmt.Errorf("%w: %d is above supported %d", types.ErrInvalidProtocolVersion, version, c.policy.MaxProtocolVersion)
	}
	return nil
}

func (c *BlockChain) checkLimits(block *types.Block) error {
	p := &c.policy
	if p.MaxBlockBytes > 0 {
		if size := block.ByteSize(); size > p.MaxBlockBytes {
			return fmt.Errorf("%w: %d bytes, limit %d", types.ErrBlockTooLarge, size, p.MaxBlockBytes)
		}
	}
	if p.MaxTransactionsPerBlock > 0 && len(block.Transactions) > p.MaxTransactionsPerBlock {
		return fmt.Errorf("%w: %d, limit %d", types.ErrTooManyTransactions, len(block.Transactions), p.MaxTransactionsPerBlock)
	}
	if p.MaxTransactionsBytes > 0 {
		total := 0
		for _, tx := range block.Transactions {
			total += tx.ByteSize()
		}
		if total > p.MaxTransactionsBytes {
			return fmt.Errorf("%w: transactions take %d bytes, limit %d", types.ErrBlockTooLarge, total, p.MaxTransactionsBytes)
		}
	}
	if p.MaxTransactionsPerSignerPerBlock > 0 {
		perSigner := make(map[types.Address]int)
		for _, tx := range block.Transactions {
			perSigner[tx.Signer]++
			if perSigner[tx.Signer] > p.MaxTransactionsPerSignerPerBlock {
				return fmt.Errorf("%w: signer %s has more than %d",
					types.ErrTooManyTransactions, tx.Signer, p.MaxTransactionsPerSignerPerBlock)
			}
		}
	}
	return nil
}

// checkCommits validates the commit for block and the previous commit the
// block embeds. A height-1 block carries no previous commit.
func (c *BlockChain) checkCommits(tip *tipState, block *types.Block, hash types.Hash, commit *types.BlockCommit) error {
	valSet, err := c.ValidatorSetAt(block.Height())
	if err != nil {
		return err
	}
	if err := consensus.ValidateBlockCommit(block.Height(), hash, commit, valSet); err != nil {
		return err
	}

	prevCommit := block.Header.PreviousCommit
	if tip.block.IsGenesis() {
		if prevCommit != nil {
			return fmt.Errorf("%w: block after genesis carries one", types.ErrInvalidPreviousCommit)
		}
		return nil
	}
	if prevCommit == nil {
		return fmt.Errorf("%w: missing", types.ErrInvalidPreviousCommit)
	}
	prevSet, err := c.ValidatorSetAt(tip.block.Height())
	if err != nil {
		return err
	}
	if err := consensus.ValidateBlockCommit(tip.block.Height(), tip.hash, prevCommit, prevSet); err != nil {
		return fmt.Errorf("%w: %w", types.ErrInvalidPreviousCommit, err)
	}
	return nil
}

// checkTransaction verifies a transaction's signature and, outside the
// genesis block, its genesis binding.
func (c *BlockChain) checkTransaction(tx *types.Transaction, genesis bool) error {
	if tx == nil {
		return fmt.Errorf("%w: nil transaction", types.ErrInvalidTransaction)
	}
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrInvalidTransaction, tx.ID(), err)
	}
	if !genesis && !tx.GenesisHash.Equal(c.genesis.Hash()) {
		return fmt.Errorf("%w: %s: %w", types.ErrInvalidTransaction, tx.ID(), types.ErrInvalidTxGenesisHash)
	}
	return nil
}

// checkNonces requires each transaction's nonce to be its signer's chain
// nonce plus the signer's earlier transactions in the block. It returns
// the signers' chain nonces after the block.
func (c *BlockChain) checkNonces(block *types.Block) (map[types.Address]int64, error) {
	next := make(map[types.Address]int64)
	for i, tx := range block.Transactions {
		expected, ok := next[tx.Signer]
		if !ok {
			n, err := c.repo.GetNonce(tx.Signer)
			if err != nil {
				return nil, err
			}
			expected = n
		}
		if tx.Nonce != expected {
			return nil, fmt.Errorf("%w: tx %d from %s has nonce %d, want %d",
				types.ErrInvalidTxNonce, i, tx.Signer, tx.Nonce, expected)
		}
		next[tx.Signer] = expected + 1
	}
	return next, nil
}

func (c *BlockChain) runPolicy(block *types.Block) error {
	for _, v := range c.policy.BlockValidators {
		if err := v(c, block); err != nil {
			return fmt.Errorf("%w: block %d: %w", types.ErrPolicyViolation, block.Height(), err)
		}
	}
	for i, tx := range block.Transactions {
		if err := c.runTxValidators(tx); err != nil {
			return fmt.Errorf("%w: tx %d: %w", types.ErrPolicyViolation, i, err)
		}
	}
	return nil
}

func (c *BlockChain) runTxValidators(tx *types.Transaction) error {
	for _, v := range c.policy.TxValidators {
		if err := v(c, tx); err != nil {
			return err
		}
	}
	return nil
}

func (c *BlockChain) evaluate(ctx context.Context, block *types.Block) (*action.Result, error) {
	_, span := c.tracer.Start(ctx, "BlockChain.evaluate",
		trace.WithAttributes(attribute.Int64("height", block.Height())))
	defer span.End()

	start := time.Now()
	res, err := c.evaluator.Evaluate(block, block.Header.PreviousStateRootHash)
	c.metrics.ObserveEvaluationLatency(time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("failed_txs", res.FailedTxs()))
	return res, nil
}

// persist commits the block's output state, then writes the block, its
// commit, nonces, executions and tip in one repository batch. write, when
// set, adds further entries and performs the write. State tries are content
// addressed, so nodes written for a block whose batch then fails are
// unreachable.
func (c *BlockChain) persist(block *types.Block, hash types.Hash, commit *types.BlockCommit, res *appendResult, write func(*store.Batch) error) error {
	if _, err := c.states.Commit(res.Output); err != nil {
		return fmt.Errorf("committing state: %w", err)
	}

	b := c.repo.NewBatch()
	b.PutBlock(block)
	if commit != nil {
		b.PutBlockCommit(hash, commit)
	}
	for signer, nonce := range res.nonces {
		b.SetNonce(signer, nonce)
	}
	for _, exec := range res.executions {
		b.PutTxExecution(exec)
	}
	if block.IsGenesis() {
		b.SetGenesis(hash)
	}
	b.SetTip(hash)
	if write == nil {
		write = (*store.Batch).Write
	}
	if err := write(b); err != nil {
		return fmt.Errorf("writing block %d: %w", block.Height(), err)
	}
	return nil
}

func (c *BlockChain) recordAppend(block *types.Block, res *appendResult, pruned int, elapsed time.Duration) {
	c.metrics.SetBlockHeight(block.Height())
	c.metrics.IncBlocksAppended()
	c.metrics.ObserveAppendLatency(elapsed)
	c.metrics.SetBlockSize(block.ByteSize())
	c.metrics.SetMempoolSize(c.mempool.Size())
	c.metrics.SetMempoolBytes(c.mempool.SizeBytes())
	for _, tr := range res.TxResults {
		if tr.Fail {
			c.metrics.IncTxsExecuted(metrics.TxResultFailure)
		} else {
			c.metrics.IncTxsExecuted(metrics.TxResultSuccess)
		}
	}
	if n := len(block.Evidence); n > 0 {
		c.metrics.IncEvidenceCommitted(n)
	}
	if pruned > 0 {
		c.metrics.IncEvidencePruned(pruned)
	}
	if pending, err := c.ledger.PendingEvidence(); err == nil {
		c.metrics.SetPendingEvidence(len(pending))
	}
}

// rejectReason maps an append error to a metrics label.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidBlockCommit):
		return metrics.ReasonInvalidCommit
	case errors.Is(err, types.ErrInvalidTxNonce):
		return metrics.ReasonInvalidNonce
	case errors.Is(err, types.ErrPolicyViolation):
		return metrics.ReasonPolicy
	case errors.Is(err, types.ErrStateRootMismatch):
		return metrics.ReasonStateRoot
	case errors.Is(err, types.ErrBlockActionFailed):
		return metrics.ReasonExecution
	case errors.Is(err, types.ErrInvalidEvidence),
		errors.Is(err, types.ErrEvidenceExpired),
		errors.Is(err, types.ErrDuplicateEvidence):
		return metrics.ReasonEvidence
	case errors.Is(err, types.ErrInvalidBlock):
		return metrics.ReasonInvalidBlock
	default:
		return metrics.ReasonOther
	}
}

// validateGenesis checks a genesis block and evaluates it from the empty
// state. The declared state root must match and must hold a non-empty
// validator set.
func (c *BlockChain) validateGenesis(genesis *types.Block) (*appendResult, error) {
	if genesis == nil {
		return nil, fmt.Errorf("%w: nil block", types.ErrInvalidGenesis)
	}
	h := genesis.Header
	switch {
	case h.Height != 0:
		return nil, fmt.Errorf("%w: height %d", types.ErrInvalidGenesis, h.Height)
	case !h.PreviousHash.IsEmpty():
		return nil, fmt.Errorf("%w: has a previous hash", types.ErrInvalidGenesis)
	case h.PreviousCommit != nil:
		return nil, fmt.Errorf("%w: has a previous commit", types.ErrInvalidGenesis)
	case !trie.IsEmptyRoot(h.PreviousStateRootHash):
		return nil, fmt.Errorf("%w: builds on a non-empty state", types.ErrInvalidGenesis)
	case len(genesis.Evidence) > 0:
		return nil, fmt.Errorf("%w: carries evidence", types.ErrInvalidGenesis)
	}
	if err := c.checkProtocolVersion(h.ProtocolVersion, 0); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}
	if err := genesis.VerifyIntegrity(); err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}
	for i, tx := range genesis.Transactions {
		if err := c.checkTransaction(tx, true); err != nil {
			return nil, fmt.Errorf("%w: tx %d: %w", types.ErrInvalidGenesis, i, err)
		}
	}
	nonces, err := c.checkNonces(genesis)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}

	res, err := c.evaluator.Evaluate(genesis, h.PreviousStateRootHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}
	if root := res.StateRoot(); !root.Equal(h.StateRootHash) {
		return nil, fmt.Errorf("%w: %w: declared %s, computed %s",
			types.ErrInvalidGenesis, types.ErrStateRootMismatch, h.StateRootHash, root)
	}
	valSet, err := res.Output.GetValidatorSet()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrInvalidGenesis, err)
	}
	if valSet.Len() == 0 {
		return nil, fmt.Errorf("%w: empty validator set", types.ErrInvalidGenesis)
	}

	return &appendResult{
		Result:     res,
		executions: res.TxExecutions(genesis.Hash()),
		nonces:     nonces,
	}, nil
}
