package chain

import (
	"errors"
	"time"

	"github.com/blockberries/ledgerberry/logging"
	"github.com/blockberries/ledgerberry/metrics"
	"github.com/blockberries/ledgerberry/types"
)

// MakeTransaction signs a transaction with the next free nonce of key's
// signer and stages it. Concurrent callers receive distinct, gap-free
// nonces.
func (c *BlockChain) MakeTransaction(key *types.PrivateKey, actions [][]byte, ts time.Time) (*types.Transaction, error) {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	nonce, err := c.GetNextTxNonce(key.Address())
	if err != nil {
		return nil, err
	}
	if ts.IsZero() {
		ts = c.clock()
	}
	tx, err := types.NewTransaction(key, nonce, c.genesis.Hash(), actions, ts)
	if err != nil {
		return nil, err
	}
	if err := c.StageTransaction(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// StageTransaction adds tx to the staged collection. A transaction whose
// nonce is already consumed is accepted but never proposed.
func (c *BlockChain) StageTransaction(tx *types.Transaction) error {
	if err := c.mempool.Add(tx); err != nil {
		c.metrics.IncTxsRejected(stageRejectReason(err))
		return err
	}
	c.metrics.IncTxsStaged()
	c.metrics.SetMempoolSize(c.mempool.Size())
	c.metrics.SetMempoolBytes(c.mempool.SizeBytes())
	return nil
}

// GetStagedTransaction returns a staged transaction by id.
func (c *BlockChain) GetStagedTransaction(id types.Hash) (*types.Transaction, error) {
	return c.mempool.Get(id)
}

// UnstageTransaction removes a staged transaction and reports whether it
// was staged.
func (c *BlockChain) UnstageTransaction(id types.Hash) bool {
	ok := c.mempool.Remove(id)
	if ok {
		c.metrics.SetMempoolSize(c.mempool.Size())
		c.metrics.SetMempoolBytes(c.mempool.SizeBytes())
	}
	return ok
}

// IgnoreTransaction unstages a transaction and refuses to stage it again.
func (c *BlockChain) IgnoreTransaction(id types.Hash) {
	c.mempool.Ignore(id)
	c.metrics.SetMempoolSize(c.mempool.Size())
	c.logger.Debug("transaction ignored", logging.TxID(id))
}

// StagedTransactions returns the staged transactions in arrival order.
// When filtered is set, transactions that can no longer be included are
// left out.
func (c *BlockChain) StagedTransactions(filtered bool) ([]*types.Transaction, error) {
	return c.mempool.Iterate(c.chainNonce, filtered)
}

func stageRejectReason(err error) string {
	switch {
	case errors.Is(err, types.ErrTxAlreadyExists):
		return metrics.ReasonDuplicate
	case errors.Is(err, types.ErrTxIgnored):
		return metrics.ReasonIgnored
	case errors.Is(err, types.ErrTxExpired):
		return metrics.ReasonExpired
	case errors.Is(err, types.ErrMempoolFull):
		return metrics.ReasonFull
	case errors.Is(err, types.ErrPolicyViolation):
		return metrics.ReasonPolicy
	case errors.Is(err, types.ErrInvalidTxGenesisHash):
		return metrics.ReasonGenesis
	default:
		return metrics.ReasonOther
	}
}

// AddEvidence stages evidence as pending.
func (c *BlockChain) AddEvidence(ev *types.DuplicateVoteEvidence) error {
	if err := c.ledger.AddEvidence(ev); err != nil {
		return err
	}
	c.updatePendingEvidence()
	return nil
}

// CommitEvidence records evidence as committed outside of a block.
func (c *BlockChain) CommitEvidence(ev *types.DuplicateVoteEvidence) error {
	if err := c.ledger.CommitEvidence(ev); err != nil {
		return err
	}
	c.metrics.IncEvidenceCommitted(1)
	c.updatePendingEvidence()
	return nil
}

// DeletePendingEvidence removes pending evidence and reports whether it
// existed.
func (c *BlockChain) DeletePendingEvidence(id types.Hash) (bool, error) {
	ok, err := c.ledger.DeletePendingEvidence(id)
	if ok {
		c.updatePendingEvidence()
	}
	return ok, err
}

// GetPendingEvidence returns pending evidence by id.
func (c *BlockChain) GetPendingEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return c.ledger.GetPendingEvidence(id)
}

// GetCommittedEvidence returns committed evidence by id.
func (c *BlockChain) GetCommittedEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return c.ledger.GetCommittedEvidence(id)
}

// IsEvidencePending reports whether evidence is pending.
func (c *BlockChain) IsEvidencePending(id types.Hash) (bool, error) {
	return c.ledger.IsEvidencePending(id)
}

// IsEvidenceCommitted reports whether evidence is committed.
func (c *BlockChain) IsEvidenceCommitted(id types.Hash) (bool, error) {
	return c.ledger.IsEvidenceCommitted(id)
}

// IsEvidenceExpired reports whether evidence is past the pending window at
// the current tip.
func (c *BlockChain) IsEvidenceExpired(ev *types.DuplicateVoteEvidence) bool {
	return c.ledger.IsEvidenceExpired(ev)
}

// PendingEvidence returns all pending evidence ordered by height.
func (c *BlockChain) PendingEvidence() ([]*types.DuplicateVoteEvidence, error) {
	return c.ledger.PendingEvidence()
}

func (c *BlockChain) updatePendingEvidence() {
	pending, err := c.ledger.PendingEvidence()
	if err != nil {
		c.logger.Debug("counting pending evidence", logging.Error(err))
		return
	}
	c.metrics.SetPendingEvidence(len(pending))
}

// PurgeExpiredTransactions unstages every transaction past the mempool
// lifetime and returns how many were removed.
func (c *BlockChain) PurgeExpiredTransactions() int {
	n := c.mempool.PurgeExpired()
	if n > 0 {
		c.metrics.SetMempoolSize(c.mempool.Size())
		c.metrics.SetMempoolBytes(c.mempool.SizeBytes())
		c.logger.Debug("expired transactions purged", logging.Count(n))
	}
	return n
}
