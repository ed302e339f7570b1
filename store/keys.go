package store

import (
	"encoding/binary"

	"github.com/blockberries/ledgerberry/types"
)

// Key prefixes.
var (
	prefixBlock     = []byte("B:")  // B:<hash> -> block
	prefixCommit    = []byte("C:")  // C:<hash> -> commit certifying the block
	prefixHeight    = []byte("H:")  // H:<height> -> block hash
	prefixTx        = []byte("T:")  // T:<txid> -> transaction
	prefixTxBlock   = []byte("TB:") // TB:<txid> -> hash of the including block
	prefixExecution = []byte("X:")  // X:<txid><blockhash> -> tx execution
	prefixNonce     = []byte("N:")  // N:<address> -> next nonce
	prefixPendingEv = []byte("EP:") // EP:<id> -> pending evidence
	prefixCommitEv  = []byte("EC:") // EC:<id> -> committed evidence
	keyMetaTip      = []byte("M:tip")
	keyMetaGenesis  = []byte("M:genesis")
)

func makeKey(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func makeHeightKey(height int64) []byte {
	return makeKey(prefixHeight, encodeInt64(height))
}

func makeNonceKey(addr types.Address) []byte {
	return makeKey(prefixNonce, []byte(addr))
}

func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)) //nolint:gosec // heights and nonces are non-negative
	return buf
}

func decodeInt64(data []byte) int64 {
	if len(data) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(data)) //nolint:gosec // stored values are non-negative
}
