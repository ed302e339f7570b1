package consensus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/types"
)

var testTime = time.Unix(1_700_000_000, 0)

// makeTestValidators returns a set with the given powers and the keys of
// its members, keys[i] holding powers[i].
func makeTestValidators(t *testing.T, powers ...int64) (*types.ValidatorSet, []*types.PrivateKey) {
	t.Helper()
	keys := make([]*types.PrivateKey, len(powers))
	vals := make([]*types.Validator, len(powers))
	for i, p := range powers {
		seed := make([]byte, 32)
		seed[0] = byte(i + 1)
		key, err := types.PrivateKeyFromSeed(seed)
		require.NoError(t, err)
		keys[i] = key
		vals[i] = types.NewValidator(key.PublicKey(), p)
	}
	vs, err := types.NewValidatorSet(vals)
	require.NoError(t, err)
	return vs, keys
}

func TestValidateBlockCommit_Genesis(t *testing.T) {
	vs, keys := makeTestValidators(t, 1, 1, 1)
	hash := types.HashBytes([]byte("genesis"))

	require.NoError(t, ValidateBlockCommit(0, hash, nil, vs))

	commit, err := NewBlockCommit(0, 0, hash, vs, keys, testTime)
	require.NoError(t, err)
	err = ValidateBlockCommit(0, hash, commit, vs)
	require.ErrorIs(t, err, types.ErrUnexpectedCommit)
	require.ErrorIs(t, err, types.ErrInvalidBlockCommit)
}

func TestValidateBlockCommit_Quorum(t *testing.T) {
	hash := types.HashBytes([]byte("block"))

	tests := []struct {
		name    string
		powers  []int64
		signers []int
		valid   bool
	}{
		{"all of three", []int64{1, 1, 1}, []int{0, 1, 2}, true},
		{"two of three is exactly two thirds", []int64{1, 1, 1}, []int{0, 1}, false},
		{"one of three", []int64{1, 1, 1}, []int{0}, false},
		{"none", []int64{1, 1, 1}, nil, false},
		{"three of four", []int64{1, 1, 1, 1}, []int{0, 1, 2}, true},
		{"single validator", []int64{10}, []int{0}, true},
		{"minority by count, majority by power", []int64{10, 1, 1, 1}, []int{0}, true},
		{"majority by count, minority by power", []int64{10, 1, 1, 1}, []int{1, 2, 3}, false},
		{"power just above two thirds", []int64{34, 33, 33}, []int{0, 1}, true},
		{"power one short", []int64{33, 33, 34}, []int{0, 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vs, keys := makeTestValidators(t, tt.powers...)
			signers := make([]*types.PrivateKey, len(tt.signers))
			for i, idx := range tt.signers {
				signers[i] = keys[idx]
			}
			commit, err := NewBlockCommit(5, 0, hash, vs, signers, testTime)
			require.NoError(t, err)
			require.Len(t, commit.Votes, vs.Len())

			err = ValidateBlockCommit(5, hash, commit, vs)
			if tt.valid {
				require.NoError(t, err)
				assert.Greater(t, commit.PreCommitPower()*3, vs.TotalPower()*2)
			} else {
				require.ErrorIs(t, err, types.ErrInsufficientVotePower)
			}
		})
	}
}

func TestValidateBlockCommit_QuorumMonotonicity(t *testing.T) {
	hash := types.HashBytes([]byte("block"))
	// Powers chosen so every prefix sum is reachable.
	vs, keys := makeTestValidators(t, 1, 2, 3, 4, 5, 6)
	quorum := vs.TwoThirdsMajority()
	require.Equal(t, int64(15), quorum)

	for n := 0; n <= len(keys); n++ {
		commit, err := NewBlockCommit(1, 0, hash, vs, keys[:n], testTime)
		require.NoError(t, err)
		err = ValidateBlockCommit(1, hash, commit, vs)
		if commit.PreCommitPower() >= quorum {
			require.NoError(t, err, "power %d", commit.PreCommitPower())
		} else {
			require.ErrorIs(t, err, types.ErrInsufficientVotePower, "power %d", commit.PreCommitPower())
		}
	}
}

func TestValidateBlockCommit_Rejects(t *testing.T) {
	hash := types.HashBytes([]byte("block"))
	vs, keys := makeTestValidators(t, 1, 1, 1)
	outsider, _ := makeTestValidators(t, 1, 1, 1, 1)

	fresh := func(t *testing.T) *types.BlockCommit {
		commit, err := NewBlockCommit(3, 1, hash, vs, keys, testTime)
		require.NoError(t, err)
		return commit
	}

	tests := []struct {
		name   string
		mutate func(t *testing.T, c *types.BlockCommit) (height int64, blockHash types.Hash)
		err    error
	}{
		{
			name: "missing",
			mutate: func(*testing.T, *types.BlockCommit) (int64, types.Hash) {
				return 3, hash
			},
			err: types.ErrMissingCommit,
		},
		{
			name: "height mismatch",
			mutate: func(*testing.T, *types.BlockCommit) (int64, types.Hash) {
				return 4, hash
			},
			err: types.ErrCommitHeightMismatch,
		},
		{
			name: "block hash mismatch",
			mutate: func(*testing.T, *types.BlockCommit) (int64, types.Hash) {
				return 3, types.HashBytes([]byte("other"))
			},
			err: types.ErrCommitBlockHashMismatch,
		},
		{
			name: "dropped slot",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes = c.Votes[:2]
				return 3, hash
			},
			err: types.ErrCommitVoteCount,
		},
		{
			name: "swapped slots",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[0], c.Votes[1] = c.Votes[1], c.Votes[0]
				return 3, hash
			},
			err: types.ErrCommitVoteOrder,
		},
		{
			name: "unknown validator",
			mutate: func(t *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				// the fourth validator of the larger set is not in vs
				var stranger *types.Validator
				for _, v := range outsider.Validators {
					if !vs.Contains(v.Address) {
						stranger = v
					}
				}
				require.NotNil(t, stranger)
				c.Votes = append(c.Votes, types.NewNullVote(stranger, 3, 1, hash, testTime))
				return 3, hash
			},
			err: types.ErrUnknownCommitValidator,
		},
		{
			name: "wrong power",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[0].ValidatorPower = 5
				return 3, hash
			},
			err: types.ErrCommitVotePower,
		},
		{
			name: "vote for another round",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[2].Round = 0
				return 3, hash
			},
			err: types.ErrCommitVoteMismatch,
		},
		{
			name: "forged signature",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[1].Signature[0] ^= 0xff
				return 3, hash
			},
			err: types.ErrInvalidCommitSignature,
		},
		{
			name: "signed null vote",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[1].Flag = types.VoteFlagNull
				return 3, hash
			},
			err: types.ErrInvalidCommitSignature,
		},
		{
			name: "unknown flag",
			mutate: func(_ *testing.T, c *types.BlockCommit) (int64, types.Hash) {
				c.Votes[1].Flag = 7
				return 3, hash
			},
			err: types.ErrInvalidBlockCommit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commit := fresh(t)
			height, blockHash := tt.mutate(t, commit)
			if tt.err == types.ErrMissingCommit {
				commit = nil
			}
			err := ValidateBlockCommit(height, blockHash, commit, vs)
			require.ErrorIs(t, err, tt.err)
			require.ErrorIs(t, err, types.ErrInvalidBlockCommit)
		})
	}
}

func TestNewBlockCommit_NullSlots(t *testing.T) {
	hash := types.HashBytes([]byte("block"))
	vs, keys := makeTestValidators(t, 2, 3, 4)

	commit, err := NewBlockCommit(7, 2, hash, vs, keys[1:2], testTime)
	require.NoError(t, err)
	require.Len(t, commit.Votes, 3)
	for i, vote := range commit.Votes {
		assert.Equal(t, vs.Validators[i].Address, vote.ValidatorAddress())
		assert.Equal(t, vs.Validators[i].Power, vote.ValidatorPower)
		if vote.ValidatorAddress() == keys[1].Address() {
			assert.Equal(t, types.VoteFlagPreCommit, vote.Flag)
			assert.NoError(t, vote.Verify())
		} else {
			assert.Equal(t, types.VoteFlagNull, vote.Flag)
			assert.Empty(t, vote.Signature)
		}
	}
	assert.Equal(t, int64(3), commit.PreCommitPower())
}
