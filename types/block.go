package types

import (
	"fmt"
	"time"
)

// CurrentProtocolVersion is the highest block protocol version this
// implementation understands.
const CurrentProtocolVersion int32 = 1

// BlockHeader carries everything a block's hash commits to.
type BlockHeader struct {
	ProtocolVersion       int32        `cramberry:"1"`
	Height                int64        `cramberry:"2"`
	Timestamp             int64        `cramberry:"3"`
	Proposer              Address      `cramberry:"4"`
	PreviousHash          Hash         `cramberry:"5"`
	PreviousCommit        *BlockCommit `cramberry:"6"`
	PreviousStateRootHash Hash         `cramberry:"7"`
	StateRootHash         Hash         `cramberry:"8"`
	TxHash                Hash         `cramberry:"9"`
	EvidenceHash          Hash         `cramberry:"10"`
}

// Block is a header plus its ordered transactions and evidence.
type Block struct {
	Header       BlockHeader              `cramberry:"1"`
	Transactions []*Transaction           `cramberry:"2"`
	Evidence     []*DuplicateVoteEvidence `cramberry:"3"`
}

// NewBlock assembles a block and fills in the transaction and evidence hashes.
func NewBlock(header BlockHeader, txs []*Transaction, evidence []*DuplicateVoteEvidence) *Block {
	header.TxHash = ComputeTxHash(txs)
	header.EvidenceHash = ComputeEvidenceHash(evidence)
	return &Block{
		Header:       header,
		Transactions: txs,
		Evidence:     evidence,
	}
}

// ComputeTxHash hashes the ordered list of transaction ids.
func ComputeTxHash(txs []*Transaction) Hash {
	ids := make([]Hash, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID()
	}
	return HashConcat(ids...)
}

// ComputeEvidenceHash hashes the ordered list of evidence ids.
func ComputeEvidenceHash(evidence []*DuplicateVoteEvidence) Hash {
	ids := make([]Hash, len(evidence))
	for i, ev := range evidence {
		ids[i] = ev.ID()
	}
	return HashConcat(ids...)
}

// Hash returns the block hash, the content hash of the header.
func (b *Block) Hash() Hash {
	return MustHashValue(&b.Header)
}

// Height returns the block height.
func (b *Block) Height() int64 { return b.Header.Height }

// Time returns the block timestamp.
func (b *Block) Time() time.Time { return time.Unix(0, b.Header.Timestamp) }

// IsGenesis reports whether this is a height-0 block.
func (b *Block) IsGenesis() bool { return b.Header.Height == 0 }

// ByteSize returns the encoded length of the full block.
func (b *Block) ByteSize() int {
	data, err := Encode(b)
	if err != nil {
		return 0
	}
	return len(data)
}

// TxIDs returns the transaction ids in block order.
func (b *Block) TxIDs() []Hash {
	ids := make([]Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID()
	}
	return ids
}

// VerifyIntegrity checks that the header's transaction and evidence hashes
// match the block body.
func (b *Block) VerifyIntegrity() error {
	if !b.Header.TxHash.Equal(ComputeTxHash(b.Transactions)) {
		return fmt.Errorf("%w: tx hash", ErrInvalidBlockHash)
	}
	if !b.Header.EvidenceHash.Equal(ComputeEvidenceHash(b.Evidence)) {
		return fmt.Errorf("%w: evidence hash", ErrInvalidBlockHash)
	}
	return nil
}

// EncodeBlock serializes a block for storage.
func EncodeBlock(b *Block) ([]byte, error) {
	return Encode(b)
}

// DecodeBlock deserializes a stored block.
func DecodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := Decode(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
