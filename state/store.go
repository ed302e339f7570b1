package state

import (
	"context"
	"fmt"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/trie"
	"github.com/blockberries/ledgerberry/types"
)

// Store persists world and account trie nodes in a key/value store.
// It is safe for concurrent use; committed states are immutable.
type Store struct {
	kv kvstore.Store
}

// NewStore creates a state store over kv.
func NewStore(kv kvstore.Store) *Store {
	return &Store{kv: kv}
}

// KV returns the underlying key/value store.
func (s *Store) KV() kvstore.Store {
	return s.kv
}

// EmptyWorld returns the world with no state.
func (s *Store) EmptyWorld() *World {
	return newWorld(trie.NewEmpty(s.kv))
}

// ContainsState reports whether the state with the given root is stored.
func (s *Store) ContainsState(root types.Hash) (bool, error) {
	if trie.IsEmptyRoot(root) {
		return true, nil
	}
	return s.kv.Has(root)
}

// GetWorld returns the committed world with the given root.
func (s *Store) GetWorld(root types.Hash) (*World, error) {
	ok, err := s.ContainsState(root)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrStateNotFound, root)
	}
	return newWorld(trie.New(s.kv, root)), nil
}

// Commit persists the world's dirty account tries and then the world trie
// in one atomic batch, and returns a clean world with the same root.
func (s *Store) Commit(w *World) (*World, error) {
	batch := s.kv.NewBatch()
	for addr, t := range w.dirty {
		if _, err := t.CommitTo(batch); err != nil {
			return nil, fmt.Errorf("committing account %s: %w", addr, err)
		}
	}
	if _, err := w.trie.CommitTo(batch); err != nil {
		return nil, fmt.Errorf("committing world trie: %w", err)
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("writing state batch: %w", err)
	}
	return newWorld(w.trie), nil
}

// CopyStates copies the states with the given roots, including every
// account trie they reference, into dst. Nodes already present at dst are
// not rewritten. It returns the number of nodes written.
func (s *Store) CopyStates(ctx context.Context, roots []types.Hash, dst kvstore.Store) (int, error) {
	total := 0
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := trie.CopyTrie(s.kv, dst, root, func(value []byte) error {
			// World trie values are account roots.
			m, err := trie.CopyTrie(s.kv, dst, types.Hash(value), nil)
			total += m
			return err
		})
		total += n
		if err != nil {
			return total, fmt.Errorf("copying state %s: %w", root, err)
		}
	}
	return total, nil
}
