package trie

import (
	"errors"
	"fmt"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

// CopyTrie copies every node reachable from root that dst does not already
// hold from src to dst, and returns the number of nodes written. onValue,
// if non-nil, is called for every leaf value reached so callers can follow
// values that reference other tries.
//
// Nodes are written after their subtrees, so a node present at dst always
// has its complete subtree present too and is skipped without descending.
func CopyTrie(src kvstore.Reader, dst kvstore.Store, root types.Hash, onValue func(value []byte) error) (int, error) {
	if IsEmptyRoot(root) {
		return 0, nil
	}
	c := &copier{src: src, dst: dst, onValue: onValue}
	if err := c.copy(root); err != nil {
		return c.written, err
	}
	return c.written, nil
}

type copier struct {
	src     kvstore.Reader
	dst     kvstore.Store
	onValue func(value []byte) error
	written int
}

func (c *copier) copy(h types.Hash) error {
	has, err := c.dst.Has(h)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	data, err := c.src.Get(h)
	if err != nil {
		if errors.Is(err, types.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrMissingNode, h)
		}
		return err
	}
	n, err := decodeNode(h, data)
	if err != nil {
		return err
	}
	for _, child := range childHashes(n) {
		if err := c.copy(child); err != nil {
			return err
		}
	}
	if c.onValue != nil {
		for _, v := range leafValues(n) {
			if err := c.onValue(v); err != nil {
				return err
			}
		}
	}
	if err := c.dst.Set(h, data); err != nil {
		return err
	}
	c.written++
	return nil
}

func leafValues(n node) [][]byte {
	switch n := n.(type) {
	case *shortNode:
		if v, ok := n.Val.(valueNode); ok {
			return [][]byte{v}
		}
	case *fullNode:
		if v, ok := n.Children[16].(valueNode); ok {
			return [][]byte{v}
		}
	}
	return nil
}
