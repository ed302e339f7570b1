package trie

import (
	"fmt"

	"github.com/blockberries/ledgerberry/types"
)

// node is one of *shortNode, *fullNode, hashNode or valueNode.
//
// Short and full nodes are immutable once constructed: their encoding and
// hash are computed eagerly, so a node can be shared between any number of
// tries and read from many goroutines without synchronization.
type node interface {
	kind() string
}

type (
	// fullNode branches on the next nibble. Children[16] holds the value
	// of a key that ends at this node.
	fullNode struct {
		Children [17]node
		ref      nodeRef
	}

	// shortNode is a leaf when Key ends with the terminator and Val is a
	// valueNode, and an extension otherwise.
	shortNode struct {
		Key []byte
		Val node
		ref nodeRef
	}

	// hashNode references a stored node that has not been loaded yet.
	hashNode []byte

	valueNode []byte
)

type nodeRef struct {
	hash types.Hash
	enc  []byte
}

func (n *fullNode) kind() string  { return "full" }
func (n *shortNode) kind() string { return "short" }
func (n hashNode) kind() string   { return "hash" }
func (n valueNode) kind() string  { return "value" }

// nodeRecord is the stored form of short and full nodes. Child nodes are
// referenced by hash; values are stored inline.
type nodeRecord struct {
	Short    bool     `cramberry:"1"`
	Key      []byte   `cramberry:"2"`
	Value    []byte   `cramberry:"3"`
	HasValue bool     `cramberry:"4"`
	Children [][]byte `cramberry:"5"`
}

func newShortNode(key []byte, val node) *shortNode {
	n := &shortNode{Key: key, Val: val}
	rec := nodeRecord{Short: true, Key: hexToCompact(key)}
	if v, ok := val.(valueNode); ok {
		rec.Value = v
		rec.HasValue = true
	} else {
		rec.Children = [][]byte{childRef(val)}
	}
	n.ref = makeRef(&rec)
	return n
}

func newFullNode(children [17]node) *fullNode {
	n := &fullNode{Children: children}
	rec := nodeRecord{Children: make([][]byte, 16)}
	for i := 0; i < 16; i++ {
		rec.Children[i] = childRef(children[i])
	}
	if v, ok := children[16].(valueNode); ok {
		rec.Value = v
		rec.HasValue = true
	}
	n.ref = makeRef(&rec)
	return n
}

func makeRef(rec *nodeRecord) nodeRef {
	enc, err := types.Encode(rec)
	if err != nil {
		panic(fmt.Sprintf("trie: encoding node: %v", err))
	}
	return nodeRef{hash: types.HashBytes(enc), enc: enc}
}

// childRef returns the hash a parent record stores for n.
func childRef(n node) []byte {
	switch n := n.(type) {
	case *shortNode:
		return n.ref.hash
	case *fullNode:
		return n.ref.hash
	case hashNode:
		return n
	default:
		return []byte{}
	}
}

// nodeHash returns the hash of a short, full or hash node.
func nodeHash(n node) types.Hash {
	switch n := n.(type) {
	case *shortNode:
		return n.ref.hash
	case *fullNode:
		return n.ref.hash
	case hashNode:
		return types.Hash(n)
	default:
		return nil
	}
}

// decodeNode parses a stored record. Children are left as hash nodes and
// resolved on demand.
func decodeNode(hash types.Hash, data []byte) (node, error) {
	var rec nodeRecord
	if err := types.Decode(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: node %s: %v", ErrCorruptNode, hash, err)
	}
	ref := nodeRef{hash: hash.Copy(), enc: data}

	if rec.Short {
		key := compactToHex(rec.Key)
		n := &shortNode{Key: key, ref: ref}
		switch {
		case rec.HasValue:
			if !hasTerm(key) {
				return nil, fmt.Errorf("%w: leaf %s without terminator", ErrCorruptNode, hash)
			}
			n.Val = valueNode(rec.Value)
		case len(rec.Children) == 1 && len(rec.Children[0]) > 0:
			n.Val = hashNode(rec.Children[0])
		default:
			return nil, fmt.Errorf("%w: short node %s has no child", ErrCorruptNode, hash)
		}
		return n, nil
	}

	if len(rec.Children) != 16 {
		return nil, fmt.Errorf("%w: full node %s has %d children", ErrCorruptNode, hash, len(rec.Children))
	}
	n := &fullNode{ref: ref}
	for i, c := range rec.Children {
		if len(c) > 0 {
			n.Children[i] = hashNode(c)
		}
	}
	if rec.HasValue {
		n.Children[16] = valueNode(rec.Value)
	}
	return n, nil
}

// childHashes lists the stored children referenced by a record.
func childHashes(n node) []types.Hash {
	var out []types.Hash
	switch n := n.(type) {
	case *shortNode:
		if h := nodeHash(n.Val); h != nil {
			out = append(out, h)
		}
	case *fullNode:
		for _, c := range n.Children[:16] {
			if h := nodeHash(c); h != nil {
				out = append(out, h)
			}
		}
	}
	return out
}
