package chain

import (
	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/config"
	"github.com/blockberries/ledgerberry/mempool"
	"github.com/blockberries/ledgerberry/types"
)

// BlockValidator is a policy hook that may veto a block. It runs during
// Append after the nonce checks, and on every candidate Propose builds.
type BlockValidator func(c *BlockChain, block *types.Block) error

// TxValidator is a policy hook that may veto a transaction. It runs when a
// transaction is staged and for every transaction of an appended block.
type TxValidator func(c *BlockChain, tx *types.Transaction) error

// Policy holds the rules blocks on this chain must follow.
// Zero limits are unlimited.
type Policy struct {
	// MaxProtocolVersion is the highest block protocol version accepted.
	MaxProtocolVersion int32

	// MaxBlockBytes caps the encoded block size.
	MaxBlockBytes int

	// MaxTransactionsBytes caps the encoded size of a block's transactions.
	MaxTransactionsBytes int

	// MaxTransactionsPerBlock caps the number of transactions in a block.
	MaxTransactionsPerBlock int

	// MinTransactionsPerBlock is the number of eligible transactions
	// Propose needs.
	MinTransactionsPerBlock int

	// MaxTransactionsPerSignerPerBlock caps one signer's transactions in a block.
	MaxTransactionsPerSignerPerBlock int

	// EvidencePendingDuration is the number of blocks evidence stays
	// addable after its height.
	EvidencePendingDuration int64

	// BeginBlockActions and EndBlockActions run around every block's
	// transactions. Their failure rejects the block.
	BeginBlockActions []action.Action
	EndBlockActions   []action.Action

	BlockValidators []BlockValidator
	TxValidators    []TxValidator

	// TxPriority orders signers during Propose. Nil means arrival order.
	TxPriority mempool.Comparator
}

// DefaultPolicy returns the policy used when none is given.
func DefaultPolicy() Policy {
	return Policy{
		MaxProtocolVersion:               types.CurrentProtocolVersion,
		MaxBlockBytes:                    22020096,
		MaxTransactionsBytes:             20971520,
		MaxTransactionsPerBlock:          1000,
		MaxTransactionsPerSignerPerBlock: 100,
		EvidencePendingDuration:          100,
	}
}

// PolicyFromConfig builds a policy from the chain configuration. Hooks and
// block actions are left empty.
func PolicyFromConfig(cfg config.ChainConfig) Policy {
	return Policy{
		MaxProtocolVersion:               cfg.MaxProtocolVersion,
		MaxBlockBytes:                    int(cfg.MaxBlockBytes),
		MaxTransactionsBytes:             int(cfg.MaxTransactionsBytes),
		MaxTransactionsPerBlock:          cfg.MaxTransactionsPerBlock,
		MinTransactionsPerBlock:          cfg.MinTransactionsPerBlock,
		MaxTransactionsPerSignerPerBlock: cfg.MaxTransactionsPerSignerPerBlock,
		EvidencePendingDuration:          cfg.EvidencePendingDuration,
	}
}

func (p *Policy) collectOptions() mempool.CollectOptions {
	return mempool.CollectOptions{
		MaxTransactions:          p.MaxTransactionsPerBlock,
		MaxTransactionsPerSigner: p.MaxTransactionsPerSignerPerBlock,
		MinTransactions:          p.MinTransactionsPerBlock,
		MaxBytes:                 p.MaxTransactionsBytes,
		Priority:                 p.TxPriority,
	}
}
