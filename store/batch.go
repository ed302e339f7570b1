package store

import (
	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

// Batch accumulates repository writes that become visible together on
// Write. The first encoding error is kept and returned by Write.
type Batch struct {
	b   kvstore.Batch
	err error
}

func (b *Batch) set(key []byte, value []byte) {
	if b.err == nil {
		b.err = b.b.Set(key, value)
	}
}

func (b *Batch) setEncoded(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := types.Encode(v)
	if err != nil {
		b.err = err
		return
	}
	b.set(key, data)
}

func (b *Batch) delete(key []byte) {
	if b.err == nil {
		b.err = b.b.Delete(key)
	}
}

// PutBlock stores a block, indexes it by height and indexes its
// transactions.
func (b *Batch) PutBlock(block *types.Block) {
	hash := block.Hash()
	b.setEncoded(makeKey(prefixBlock, hash), block)
	b.set(makeHeightKey(block.Height()), hash)
	for _, tx := range block.Transactions {
		id := tx.ID()
		b.setEncoded(makeKey(prefixTx, id), tx)
		b.set(makeKey(prefixTxBlock, id), hash)
	}
}

// PutBlockCommit stores the commit certifying the block with the given hash.
func (b *Batch) PutBlockCommit(blockHash types.Hash, commit *types.BlockCommit) {
	b.setEncoded(makeKey(prefixCommit, blockHash), commit)
}

// SetNonce sets the next nonce of signer.
func (b *Batch) SetNonce(signer types.Address, nonce int64) {
	b.set(makeNonceKey(signer), encodeInt64(nonce))
}

// PutTxExecution stores an execution record.
func (b *Batch) PutTxExecution(exec *types.TxExecution) {
	b.setEncoded(makeKey(prefixExecution, exec.TxID, exec.BlockHash), exec)
}

// PutPendingEvidence stores evidence as pending.
func (b *Batch) PutPendingEvidence(ev *types.DuplicateVoteEvidence) {
	b.setEncoded(makeKey(prefixPendingEv, ev.ID()), ev)
}

// DeletePendingEvidence removes pending evidence.
func (b *Batch) DeletePendingEvidence(id types.Hash) {
	b.delete(makeKey(prefixPendingEv, id))
}

// PutCommittedEvidence stores evidence as committed.
func (b *Batch) PutCommittedEvidence(ev *types.DuplicateVoteEvidence) {
	b.setEncoded(makeKey(prefixCommitEv, ev.ID()), ev)
}

// SetTip points the chain tip at a block.
func (b *Batch) SetTip(hash types.Hash) {
	b.set(keyMetaTip, hash)
}

// SetGenesis records the genesis block hash.
func (b *Batch) SetGenesis(hash types.Hash) {
	b.set(keyMetaGenesis, hash)
}

// Len returns the number of accumulated writes.
func (b *Batch) Len() int {
	return b.b.Len()
}

// Write applies the batch atomically.
func (b *Batch) Write() error {
	if b.err != nil {
		return b.err
	}
	return b.b.Write()
}
