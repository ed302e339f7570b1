// Package trie implements an authenticated, content-addressed
// Merkle-Patricia trie over a kvstore.
//
// A MerkleTrie value is immutable: Set and Remove return a new trie that
// shares every untouched subtree with the original. Nodes are persisted
// under their own hash, so equal contents always produce equal root hashes
// and committing the same trie twice writes nothing the second time.
package trie

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

var (
	// ErrCorruptNode is returned when a stored node cannot be decoded or
	// does not match its hash.
	ErrCorruptNode = errors.New("trie: corrupt node")

	// ErrMissingNode is returned when a referenced node is absent from the store.
	ErrMissingNode = fmt.Errorf("%w: missing trie node", types.ErrStateNotFound)
)

// EmptyRootHash is the root hash of a trie with no entries. It is never
// written to a store.
var EmptyRootHash = types.EmptyHash()

// IsEmptyRoot reports whether root denotes the empty trie.
func IsEmptyRoot(root types.Hash) bool {
	return len(root) == 0 || root.Equal(EmptyRootHash)
}

// MerkleTrie is an immutable view of a trie rooted at a node.
type MerkleTrie struct {
	store kvstore.Store
	root  node
}

// New returns the trie with the given root hash backed by store. Nodes are
// loaded lazily as they are read.
func New(store kvstore.Store, root types.Hash) *MerkleTrie {
	t := &MerkleTrie{store: store}
	if !IsEmptyRoot(root) {
		t.root = hashNode(root.Copy())
	}
	return t
}

// NewEmpty returns an empty trie backed by store.
func NewEmpty(store kvstore.Store) *MerkleTrie {
	return &MerkleTrie{store: store}
}

// Hash returns the root hash.
func (t *MerkleTrie) Hash() types.Hash {
	if t.root == nil {
		return EmptyRootHash
	}
	return nodeHash(t.root)
}

// IsEmpty reports whether the trie has no entries.
func (t *MerkleTrie) IsEmpty() bool {
	return t.root == nil
}

// Store returns the backing store.
func (t *MerkleTrie) Store() kvstore.Store {
	return t.store
}

// Get returns the value at key, or nil and false if absent.
func (t *MerkleTrie) Get(key []byte) ([]byte, bool, error) {
	value, found, err := t.get(t.root, keybytesToHex(key), 0)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return append([]byte{}, value...), true, nil
}

func (t *MerkleTrie) get(n node, key []byte, pos int) ([]byte, bool, error) {
	switch n := n.(type) {
	case nil:
		return nil, false, nil
	case valueNode:
		return n, true, nil
	case *shortNode:
		if len(key)-pos < len(n.Key) || !bytes.Equal(n.Key, key[pos:pos+len(n.Key)]) {
			return nil, false, nil
		}
		return t.get(n.Val, key, pos+len(n.Key))
	case *fullNode:
		return t.get(n.Children[key[pos]], key, pos+1)
	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, false, err
		}
		return t.get(resolved, key, pos)
	default:
		panic(fmt.Sprintf("trie: invalid node %T", n))
	}
}

// Set returns a new trie with key mapped to value. The receiver is unchanged.
func (t *MerkleTrie) Set(key, value []byte) (*MerkleTrie, error) {
	if value == nil {
		value = []byte{}
	}
	root, err := t.insert(t.root, keybytesToHex(key), valueNode(append([]byte{}, value...)))
	if err != nil {
		return nil, err
	}
	return &MerkleTrie{store: t.store, root: root}, nil
}

// SetMany applies several writes in order and returns the resulting trie.
func (t *MerkleTrie) SetMany(kvs map[string][]byte) (*MerkleTrie, error) {
	cur := t
	for k, v := range kvs {
		next, err := cur.Set([]byte(k), v)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (t *MerkleTrie) insert(n node, key []byte, value node) (node, error) {
	if len(key) == 0 {
		return value, nil
	}
	switch n := n.(type) {
	case nil:
		return newShortNode(key, value), nil

	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen == len(n.Key) {
			child, err := t.insert(n.Val, key[matchlen:], value)
			if err != nil {
				return nil, err
			}
			return newShortNode(n.Key, child), nil
		}
		// Split at the first differing nibble.
		var children [17]node
		old, err := t.insert(nil, n.Key[matchlen+1:], n.Val)
		if err != nil {
			return nil, err
		}
		children[n.Key[matchlen]] = old
		fresh, err := t.insert(nil, key[matchlen+1:], value)
		if err != nil {
			return nil, err
		}
		children[key[matchlen]] = fresh
		branch := newFullNode(children)
		if matchlen == 0 {
			return branch, nil
		}
		return newShortNode(key[:matchlen], branch), nil

	case *fullNode:
		children := n.Children
		child, err := t.insert(children[key[0]], key[1:], value)
		if err != nil {
			return nil, err
		}
		children[key[0]] = child
		return newFullNode(children), nil

	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return nil, err
		}
		return t.insert(resolved, key, value)

	default:
		panic(fmt.Sprintf("trie: invalid node %T", n))
	}
}

// Remove returns a new trie without key. Removing an absent key returns the
// receiver.
func (t *MerkleTrie) Remove(key []byte) (*MerkleTrie, error) {
	dirty, root, err := t.delete(t.root, keybytesToHex(key))
	if err != nil {
		return nil, err
	}
	if !dirty {
		return t, nil
	}
	return &MerkleTrie{store: t.store, root: root}, nil
}

// delete reports whether anything changed along with the replacement node.
func (t *MerkleTrie) delete(n node, key []byte) (bool, node, error) {
	switch n := n.(type) {
	case nil:
		return false, nil, nil

	case valueNode:
		return true, nil, nil

	case *shortNode:
		matchlen := prefixLen(key, n.Key)
		if matchlen < len(n.Key) {
			return false, n, nil
		}
		if matchlen == len(key) {
			return true, nil, nil
		}
		dirty, child, err := t.delete(n.Val, key[len(n.Key):])
		if !dirty || err != nil {
			return false, n, err
		}
		switch child := child.(type) {
		case nil:
			return true, nil, nil
		case *shortNode:
			// Merge the extension with the child's key.
			return true, newShortNode(concat(n.Key, child.Key...), child.Val), nil
		default:
			return true, newShortNode(n.Key, child), nil
		}

	case *fullNode:
		dirty, child, err := t.delete(n.Children[key[0]], key[1:])
		if !dirty || err != nil {
			return false, n, err
		}
		children := n.Children
		children[key[0]] = child

		pos := -1
		for i, c := range children {
			if c != nil {
				if pos == -1 {
					pos = i
				} else {
					pos = -2
					break
				}
			}
		}
		switch {
		case pos == -1:
			return true, nil, nil
		case pos == 16:
			return true, newShortNode([]byte{terminator}, children[16]), nil
		case pos >= 0:
			// Only one child remains; collapse the branch into a short node.
			only, err := t.resolveIfHash(children[pos])
			if err != nil {
				return false, n, err
			}
			if cnode, ok := only.(*shortNode); ok {
				return true, newShortNode(concat([]byte{byte(pos)}, cnode.Key...), cnode.Val), nil
			}
			return true, newShortNode([]byte{byte(pos)}, only), nil
		default:
			return true, newFullNode(children), nil
		}

	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return false, n, err
		}
		dirty, out, err := t.delete(resolved, key)
		if !dirty || err != nil {
			return false, n, err
		}
		return true, out, nil

	default:
		panic(fmt.Sprintf("trie: invalid node %T", n))
	}
}

func (t *MerkleTrie) resolveIfHash(n node) (node, error) {
	if h, ok := n.(hashNode); ok {
		return t.resolve(h)
	}
	return n, nil
}

// resolve loads a node by hash and checks its integrity.
func (t *MerkleTrie) resolve(h hashNode) (node, error) {
	if t.store == nil {
		return nil, fmt.Errorf("%w: %x (no store)", ErrMissingNode, []byte(h))
	}
	data, err := t.store.Get(h)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %x", ErrMissingNode, []byte(h))
		}
		return nil, fmt.Errorf("loading node %x: %w", []byte(h), err)
	}
	if !types.HashBytes(data).Equal(types.Hash(h)) {
		return nil, fmt.Errorf("%w: %x hash mismatch", ErrCorruptNode, []byte(h))
	}
	return decodeNode(types.Hash(h), data)
}

// Commit persists every node reachable from the root that the store does
// not yet hold, in one atomic batch. It returns a trie with the same root.
// Committing an empty trie performs no writes.
func (t *MerkleTrie) Commit() (*MerkleTrie, error) {
	if t.root == nil {
		return t, nil
	}
	batch := t.store.NewBatch()
	if _, err := t.CommitTo(batch); err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("writing trie nodes: %w", err)
	}
	return t, nil
}

// CommitTo writes nodes missing from the trie's store to w and returns how
// many were written. Children are written before their parents.
func (t *MerkleTrie) CommitTo(w kvstore.Writer) (int, error) {
	if t.root == nil {
		return 0, nil
	}
	written := 0
	seen := make(map[string]struct{})
	var walk func(n node) error
	walk = func(n node) error {
		var ref nodeRef
		switch n := n.(type) {
		case *shortNode:
			ref = n.ref
		case *fullNode:
			ref = n.ref
		default:
			// Hash nodes were loaded from the store; values live inline.
			return nil
		}
		if _, ok := seen[string(ref.hash)]; ok {
			return nil
		}
		seen[string(ref.hash)] = struct{}{}
		has, err := t.store.Has(ref.hash)
		if err != nil {
			return err
		}
		if has {
			// A stored node implies its whole subtree is stored.
			return nil
		}
		switch n := n.(type) {
		case *shortNode:
			if err := walk(n.Val); err != nil {
				return err
			}
		case *fullNode:
			for _, c := range n.Children[:16] {
				if err := walk(c); err != nil {
					return err
				}
			}
		}
		if err := w.Set(ref.hash, ref.enc); err != nil {
			return err
		}
		written++
		return nil
	}
	if err := walk(t.root); err != nil {
		return 0, err
	}
	return written, nil
}

// IterateValues calls fn for each key/value pair in ascending key order
// until fn returns false.
func (t *MerkleTrie) IterateValues(fn func(key, value []byte) bool) error {
	_, err := t.iterate(t.root, nil, fn)
	return err
}

func (t *MerkleTrie) iterate(n node, prefix []byte, fn func(key, value []byte) bool) (bool, error) {
	switch n := n.(type) {
	case nil:
		return true, nil
	case valueNode:
		return fn(hexToKeybytes(prefix), append([]byte{}, n...)), nil
	case *shortNode:
		return t.iterate(n.Val, concat(prefix, n.Key...), fn)
	case *fullNode:
		// The value slot sorts before any longer key.
		if n.Children[16] != nil {
			cont, err := t.iterate(n.Children[16], concat(prefix, terminator), fn)
			if err != nil || !cont {
				return cont, err
			}
		}
		for i := 0; i < 16; i++ {
			if n.Children[i] == nil {
				continue
			}
			cont, err := t.iterate(n.Children[i], concat(prefix, byte(i)), fn)
			if err != nil || !cont {
				return cont, err
			}
		}
		return true, nil
	case hashNode:
		resolved, err := t.resolve(n)
		if err != nil {
			return false, err
		}
		return t.iterate(resolved, prefix, fn)
	default:
		panic(fmt.Sprintf("trie: invalid node %T", n))
	}
}

// Len counts the entries in the trie.
func (t *MerkleTrie) Len() (int, error) {
	count := 0
	err := t.IterateValues(func(_, _ []byte) bool {
		count++
		return true
	})
	return count, err
}
