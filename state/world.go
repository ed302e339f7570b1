// Package state models world state as a forest of tries: a world trie maps
// account addresses to account trie roots, and each account trie maps keys
// to values. Every state is addressed solely by its world root hash.
package state

import (
	"fmt"
	"maps"
	"strings"

	"github.com/blockberries/ledgerberry/trie"
	"github.com/blockberries/ledgerberry/types"
)

// SystemAddress holds chain-level state such as the validator set.
var SystemAddress = types.Address(strings.Repeat("0", types.AddressSize*2-1) + "1")

// validatorSetKey is the system account key of the encoded validator set.
const validatorSetKey = "validator_set"

// World is an immutable view of the whole state. Mutators return a new
// World; the receiver never changes.
type World struct {
	trie *trie.MerkleTrie

	// accounts written since the last commit, keyed by address
	dirty map[types.Address]*trie.MerkleTrie
}

func newWorld(t *trie.MerkleTrie) *World {
	return &World{trie: t, dirty: map[types.Address]*trie.MerkleTrie{}}
}

// Hash returns the world state root.
func (w *World) Hash() types.Hash {
	return w.trie.Hash()
}

// IsDirty reports whether the world holds uncommitted account changes.
func (w *World) IsDirty() bool {
	return len(w.dirty) > 0
}

// GetAccount returns the account at addr. Absent accounts are empty.
func (w *World) GetAccount(addr types.Address) (*Account, error) {
	if t, ok := w.dirty[addr]; ok {
		return &Account{trie: t}, nil
	}
	root, found, err := w.trie.Get(addr.Bytes())
	if err != nil {
		return nil, fmt.Errorf("reading account %s: %w", addr, err)
	}
	if !found {
		return &Account{trie: trie.NewEmpty(w.trie.Store())}, nil
	}
	return &Account{trie: trie.New(w.trie.Store(), types.Hash(root))}, nil
}

// SetAccount returns a world with acct stored at addr. Storing an empty
// account removes it, so empty accounts never affect the root hash.
func (w *World) SetAccount(addr types.Address, acct *Account) (*World, error) {
	var (
		next *trie.MerkleTrie
		err  error
	)
	if acct.IsEmpty() {
		next, err = w.trie.Remove(addr.Bytes())
	} else {
		next, err = w.trie.Set(addr.Bytes(), acct.Hash())
	}
	if err != nil {
		return nil, fmt.Errorf("writing account %s: %w", addr, err)
	}
	dirty := maps.Clone(w.dirty)
	dirty[addr] = acct.trie
	return &World{trie: next, dirty: dirty}, nil
}

// GetState returns the value at key in the account at addr.
func (w *World) GetState(addr types.Address, key string) ([]byte, bool, error) {
	acct, err := w.GetAccount(addr)
	if err != nil {
		return nil, false, err
	}
	return acct.Get(key)
}

// SetState returns a world with key set to value in the account at addr.
func (w *World) SetState(addr types.Address, key string, value []byte) (*World, error) {
	acct, err := w.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acct, err = acct.Set(key, value)
	if err != nil {
		return nil, err
	}
	return w.SetAccount(addr, acct)
}

// RemoveState returns a world without key in the account at addr.
func (w *World) RemoveState(addr types.Address, key string) (*World, error) {
	acct, err := w.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	acct, err = acct.Remove(key)
	if err != nil {
		return nil, err
	}
	return w.SetAccount(addr, acct)
}

// GetValidatorSet returns the validator set recorded in state. A world
// without one has an empty set.
func (w *World) GetValidatorSet() (*types.ValidatorSet, error) {
	data, found, err := w.GetState(SystemAddress, validatorSetKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return &types.ValidatorSet{}, nil
	}
	vs, err := types.DecodeValidatorSet(data)
	if err != nil {
		return nil, fmt.Errorf("decoding validator set: %w", err)
	}
	return vs, nil
}

// SetValidatorSet returns a world with vs recorded as the validator set.
func (w *World) SetValidatorSet(vs *types.ValidatorSet) (*World, error) {
	data, err := types.EncodeValidatorSet(vs)
	if err != nil {
		return nil, err
	}
	return w.SetState(SystemAddress, validatorSetKey, data)
}

// Addresses returns the addresses of all non-empty accounts in order.
func (w *World) Addresses() ([]types.Address, error) {
	var out []types.Address
	err := w.trie.IterateValues(func(k, _ []byte) bool {
		out = append(out, types.Address(k))
		return true
	})
	return out, err
}
