// Package testutil provides fixtures shared by ledgerberry tests: keys,
// validator sets, commits and in-memory stores.
package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/action"
	"github.com/blockberries/ledgerberry/consensus"
	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/state"
	"github.com/blockberries/ledgerberry/store"
	"github.com/blockberries/ledgerberry/types"
)

// GenesisTime is the default genesis timestamp used by fixtures.
var GenesisTime = time.Unix(1_700_000_000, 0).UTC()

// Key returns a deterministic key for index i.
func Key(t testing.TB, i int) *types.PrivateKey {
	t.Helper()
	seed := make([]byte, 32)
	copy(seed, fmt.Sprintf("ledgerberry-test-key-%04d", i))
	key, err := types.PrivateKeyFromSeed(seed)
	require.NoError(t, err)
	return key
}

// Keys returns n deterministic keys starting at index 0.
func Keys(t testing.TB, n int) []*types.PrivateKey {
	t.Helper()
	keys := make([]*types.PrivateKey, n)
	for i := range keys {
		keys[i] = Key(t, i)
	}
	return keys
}

// Validators returns one validator per key. powers is either empty, for
// power 1 each, or has one entry per key.
func Validators(t testing.TB, keys []*types.PrivateKey, powers ...int64) []*types.Validator {
	t.Helper()
	require.True(t, len(powers) == 0 || len(powers) == len(keys), "one power per key")
	vals := make([]*types.Validator, len(keys))
	for i, k := range keys {
		power := int64(1)
		if len(powers) > 0 {
			power = powers[i]
		}
		vals[i] = types.NewValidator(k.PublicKey(), power)
	}
	return vals
}

// ValidatorSet builds a validator set from keys.
func ValidatorSet(t testing.TB, keys []*types.PrivateKey, powers ...int64) *types.ValidatorSet {
	t.Helper()
	vs, err := types.NewValidatorSet(Validators(t, keys, powers...))
	require.NoError(t, err)
	return vs
}

// Commit signs a commit for block with signers; every other validator of
// valSet gets a Null slot.
func Commit(t testing.TB, block *types.Block, valSet *types.ValidatorSet, signers ...*types.PrivateKey) *types.BlockCommit {
	t.Helper()
	commit, err := consensus.NewBlockCommit(block.Height(), 0, block.Hash(), valSet, signers, block.Time())
	require.NoError(t, err)
	return commit
}

// Stores is a repository and state store over in-memory key/value stores.
type Stores struct {
	Repository *store.Repository
	States     *state.Store
	BlockKV    *kvstore.MemoryStore
	StateKV    *kvstore.MemoryStore
}

// MemoryStores returns fresh in-memory stores.
func MemoryStores() *Stores {
	blockKV := kvstore.NewMemoryStore()
	stateKV := kvstore.NewMemoryStore()
	return &Stores{
		Repository: store.NewRepository(blockKV),
		States:     state.NewStore(stateKV),
		BlockKV:    blockKV,
		StateKV:    stateKV,
	}
}

// SetState returns a SetState action payload.
func SetState(key string, value []byte) []byte {
	return action.MustMarshal(&action.SetState{Key: key, Value: value})
}

// Transaction signs a transaction bound to genesisHash.
func Transaction(t testing.TB, key *types.PrivateKey, nonce int64, genesisHash types.Hash, ts time.Time, actions ...[]byte) *types.Transaction {
	t.Helper()
	tx, err := types.NewTransaction(key, nonce, genesisHash, actions, ts)
	require.NoError(t, err)
	return tx
}

// DuplicateVote builds double-sign evidence by key at height.
func DuplicateVote(t testing.TB, key *types.PrivateKey, height int64, valSet *types.ValidatorSet, ts time.Time) *types.DuplicateVoteEvidence {
	t.Helper()
	val := valSet.GetByAddress(key.Address())
	require.NotNil(t, val, "key is not a validator")
	a, err := types.NewPreCommitVote(key, height, 0, types.HashBytes([]byte("block-a")), val.Power, ts)
	require.NoError(t, err)
	b, err := types.NewPreCommitVote(key, height, 0, types.HashBytes([]byte("block-b")), val.Power, ts)
	require.NoError(t, err)
	ev, err := types.NewDuplicateVoteEvidence(a, b, valSet, ts)
	require.NoError(t, err)
	return ev
}
