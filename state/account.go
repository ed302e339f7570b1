package state

import (
	"github.com/blockberries/ledgerberry/trie"
	"github.com/blockberries/ledgerberry/types"
)

// Account is an immutable view of one address's key/value state.
type Account struct {
	trie *trie.MerkleTrie
}

// Get returns the value at key.
func (a *Account) Get(key string) ([]byte, bool, error) {
	return a.trie.Get([]byte(key))
}

// Set returns a new account with key mapped to value.
func (a *Account) Set(key string, value []byte) (*Account, error) {
	next, err := a.trie.Set([]byte(key), value)
	if err != nil {
		return nil, err
	}
	return &Account{trie: next}, nil
}

// Remove returns a new account without key.
func (a *Account) Remove(key string) (*Account, error) {
	next, err := a.trie.Remove([]byte(key))
	if err != nil {
		return nil, err
	}
	return &Account{trie: next}, nil
}

// Hash returns the account's state root.
func (a *Account) Hash() types.Hash {
	return a.trie.Hash()
}

// IsEmpty reports whether the account holds no state.
func (a *Account) IsEmpty() bool {
	return a.trie.IsEmpty()
}

// Iterate visits every key/value pair in key order until fn returns false.
func (a *Account) Iterate(fn func(key string, value []byte) bool) error {
	return a.trie.IterateValues(func(k, v []byte) bool {
		return fn(string(k), v)
	})
}
