// Package store persists chain data: blocks, commits, the height index,
// transactions, nonces, transaction executions and evidence.
//
// All writes go through a Batch so that appending a block is a single
// atomic write.
package store

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

// Repository reads chain data from a key/value store.
// It is safe for concurrent use when the underlying store is.
type Repository struct {
	kv kvstore.Store
}

// NewRepository creates a repository over kv.
func NewRepository(kv kvstore.Store) *Repository {
	return &Repository{kv: kv}
}

// Close closes the underlying store.
func (r *Repository) Close() error {
	return r.kv.Close()
}

// NewBatch starts an atomic write batch.
func (r *Repository) NewBatch() *Batch {
	return &Batch{b: r.kv.NewBatch()}
}

// Tip returns the hash of the chain tip.
// Returns types.ErrChainNotInitialized for an empty repository.
func (r *Repository) Tip() (types.Hash, error) {
	return r.getMeta(keyMetaTip)
}

// Genesis returns the hash of the genesis block.
// Returns types.ErrChainNotInitialized for an empty repository.
func (r *Repository) Genesis() (types.Hash, error) {
	return r.getMeta(keyMetaGenesis)
}

func (r *Repository) getMeta(key []byte) (types.Hash, error) {
	data, err := r.kv.Get(key)
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, types.ErrChainNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	return types.Hash(data), nil
}

// GetBlock returns a block by hash.
// Returns types.ErrBlockNotFound if it does not exist.
func (r *Repository) GetBlock(hash types.Hash) (*types.Block, error) {
	data, err := r.kv.Get(makeKey(prefixBlock, hash))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading block: %w", err)
	}
	return types.DecodeBlock(data)
}

// HasBlock reports whether a block is stored.
func (r *Repository) HasBlock(hash types.Hash) (bool, error) {
	return r.kv.Has(makeKey(prefixBlock, hash))
}

// GetBlockHash returns the hash of the block at height.
// Returns types.ErrBlockNotFound if the height is not indexed.
func (r *Repository) GetBlockHash(height int64) (types.Hash, error) {
	data, err := r.kv.Get(makeHeightKey(height))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w at height %d", types.ErrBlockNotFound, height)
	}
	if err != nil {
		return nil, fmt.Errorf("loading height index: %w", err)
	}
	return types.Hash(data), nil
}

// GetBlockByHeight returns the block at height.
func (r *Repository) GetBlockByHeight(height int64) (*types.Block, error) {
	hash, err := r.GetBlockHash(height)
	if err != nil {
		return nil, err
	}
	return r.GetBlock(hash)
}

// GetBlockCommit returns the commit certifying the block with the given hash.
// Returns types.ErrCommitNotFound if none is stored, which is always the
// case for genesis.
func (r *Repository) GetBlockCommit(hash types.Hash) (*types.BlockCommit, error) {
	data, err := r.kv.Get(makeKey(prefixCommit, hash))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrCommitNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading commit: %w", err)
	}
	return types.DecodeBlockCommit(data)
}

// GetNonce returns the next nonce of signer. Unknown signers start at 0.
func (r *Repository) GetNonce(signer types.Address) (int64, error) {
	data, err := r.kv.Get(makeNonceKey(signer))
	if errors.Is(err, types.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("loading nonce: %w", err)
	}
	return decodeInt64(data), nil
}

// GetTransaction returns a committed transaction.
// Returns types.ErrTxNotFound if it has not been included in a block.
func (r *Repository) GetTransaction(id types.Hash) (*types.Transaction, error) {
	data, err := r.kv.Get(makeKey(prefixTx, id))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrTxNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction: %w", err)
	}
	var tx types.Transaction
	if err := types.Decode(data, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTxBlockHash returns the hash of the block that included a transaction.
func (r *Repository) GetTxBlockHash(id types.Hash) (types.Hash, error) {
	data, err := r.kv.Get(makeKey(prefixTxBlock, id))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrTxNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction index: %w", err)
	}
	return types.Hash(data), nil
}

// GetTxExecution returns the execution record of a transaction in a block.
// Returns types.ErrTxExecutionNotFound if there is none.
func (r *Repository) GetTxExecution(blockHash, txID types.Hash) (*types.TxExecution, error) {
	data, err := r.kv.Get(makeKey(prefixExecution, txID, blockHash))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: tx %s in block %s", types.ErrTxExecutionNotFound, txID, blockHash)
	}
	if err != nil {
		return nil, fmt.Errorf("loading tx execution: %w", err)
	}
	var exec types.TxExecution
	if err := types.Decode(data, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// TxExecutionsOf returns every execution record of a transaction.
func (r *Repository) TxExecutionsOf(txID types.Hash) ([]*types.TxExecution, error) {
	var (
		out     []*types.TxExecution
		iterErr error
	)
	err := r.kv.Iterate(makeKey(prefixExecution, txID), func(_, value []byte) bool {
		var exec types.TxExecution
		if iterErr = types.Decode(value, &exec); iterErr != nil {
			return false
		}
		out = append(out, &exec)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, iterErr
}

// GetPendingEvidence returns pending evidence by id.
// Returns types.ErrEvidenceNotFound if it is not pending.
func (r *Repository) GetPendingEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return r.getEvidence(prefixPendingEv, id)
}

// GetCommittedEvidence returns committed evidence by id.
// Returns types.ErrEvidenceNotFound if it is not committed.
func (r *Repository) GetCommittedEvidence(id types.Hash) (*types.DuplicateVoteEvidence, error) {
	return r.getEvidence(prefixCommitEv, id)
}

// HasPendingEvidence reports whether evidence is pending.
func (r *Repository) HasPendingEvidence(id types.Hash) (bool, error) {
	return r.kv.Has(makeKey(prefixPendingEv, id))
}

// HasCommittedEvidence reports whether evidence is committed.
func (r *Repository) HasCommittedEvidence(id types.Hash) (bool, error) {
	return r.kv.Has(makeKey(prefixCommitEv, id))
}

// PendingEvidence returns all pending evidence ordered by height, then id.
func (r *Repository) PendingEvidence() ([]*types.DuplicateVoteEvidence, error) {
	var (
		out     []*types.DuplicateVoteEvidence
		iterErr error
	)
	err := r.kv.Iterate(prefixPendingEv, func(_, value []byte) bool {
		var ev *types.DuplicateVoteEvidence
		if ev, iterErr = types.DecodeEvidence(value); iterErr != nil {
			return false
		}
		out = append(out, ev)
		return true
	})
	if err != nil {
		return nil, err
	}
	if iterErr != nil {
		return nil, iterErr
	}
	slices.SortStableFunc(out, func(a, b *types.DuplicateVoteEvidence) int {
		return cmp.Compare(a.Height, b.Height)
	})
	return out, nil
}

func (r *Repository) getEvidence(prefix []byte, id types.Hash) (*types.DuplicateVoteEvidence, error) {
	data, err := r.kv.Get(makeKey(prefix, id))
	if errors.Is(err, types.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", types.ErrEvidenceNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading evidence: %w", err)
	}
	return types.DecodeEvidence(data)
}
