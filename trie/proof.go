package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

// ErrInvalidProof is returned when a proof does not connect a key to a root.
var ErrInvalidProof = errors.New("trie: invalid proof")

// Prove returns the encoded nodes on the path from the root towards key.
// The proof shows either the value of key or its absence.
func (t *MerkleTrie) Prove(key []byte) ([][]byte, error) {
	var proof [][]byte
	hexKey := keybytesToHex(key)
	n := t.root
	for len(hexKey) > 0 && n != nil {
		switch cur := n.(type) {
		case hashNode:
			resolved, err := t.resolve(cur)
			if err != nil {
				return nil, err
			}
			n = resolved
			continue
		case *shortNode:
			proof = append(proof, cur.ref.enc)
			if len(hexKey) < len(cur.Key) || !bytes.Equal(cur.Key, hexKey[:len(cur.Key)]) {
				n = nil
			} else {
				n = cur.Val
				hexKey = hexKey[len(cur.Key):]
			}
		case *fullNode:
			proof = append(proof, cur.ref.enc)
			n = cur.Children[hexKey[0]]
			hexKey = hexKey[1:]
		case valueNode:
			n = nil
		default:
			panic(fmt.Sprintf("trie: invalid node %T", n))
		}
	}
	return proof, nil
}

// VerifyProof checks a proof produced by Prove against root. It returns the
// proven value and whether the key is present.
func VerifyProof(root types.Hash, key []byte, proof [][]byte) ([]byte, bool, error) {
	if IsEmptyRoot(root) {
		if len(proof) != 0 {
			return nil, false, fmt.Errorf("%w: nodes supplied for empty root", ErrInvalidProof)
		}
		return nil, false, nil
	}
	mem := kvstore.NewMemoryStore()
	for _, enc := range proof {
		if err := mem.Set(types.HashBytes(enc), enc); err != nil {
			return nil, false, err
		}
	}
	value, found, err := New(mem, root).Get(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	return value, found, nil
}
