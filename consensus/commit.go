// Package consensus validates BFT block commits against validator sets.
package consensus

import (
	"fmt"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockberries/ledgerberry/types"
)

// ValidateBlockCommit checks that commit certifies the block with the
// given height and hash under valSet.
//
// The genesis height must carry no commit. Any other height needs a commit
// with exactly one vote slot per validator, in validator set order. Each
// slot is either a signed PreCommit or an unsigned Null vote, and the
// PreCommit power must be strictly greater than two thirds of the total.
// All returned errors wrap types.ErrInvalidBlockCommit.
func ValidateBlockCommit(height int64, blockHash types.Hash, commit *types.BlockCommit, valSet *types.ValidatorSet) error {
	if height == 0 {
		if commit != nil {
			return types.ErrUnexpectedCommit
		}
		return nil
	}
	if commit == nil {
		return fmt.Errorf("%w at height %d", types.ErrMissingCommit, height)
	}
	if commit.Height != height {
		return fmt.Errorf("%w: commit %d, block %d", types.ErrCommitHeightMismatch, commit.Height, height)
	}
	if !commit.BlockHash.Equal(blockHash) {
		return fmt.Errorf("%w: commit %s, block %s", types.ErrCommitBlockHashMismatch, commit.BlockHash, blockHash)
	}

	var (
		power  int64
		signed []*types.Vote
	)
	for i, vote := range commit.Votes {
		if vote == nil {
			return fmt.Errorf("%w: nil vote at slot %d", types.ErrInvalidBlockCommit, i)
		}
		addr := vote.ValidatorAddress()
		idx := valSet.IndexOf(addr)
		if idx < 0 {
			return fmt.Errorf("%w: %s", types.ErrUnknownCommitValidator, addr)
		}
		if idx != i {
			return fmt.Errorf("%w: %s at slot %d, expected %d", types.ErrCommitVoteOrder, addr, i, idx)
		}
		val := valSet.Validators[idx]
		if vote.ValidatorPower != val.Power {
			return fmt.Errorf("%w: %s votes with %d, has %d", types.ErrCommitVotePower, addr, vote.ValidatorPower, val.Power)
		}
		if vote.Height != commit.Height || vote.Round != commit.Round || !vote.BlockHash.Equal(commit.BlockHash) {
			return fmt.Errorf("%w: slot %d", types.ErrCommitVoteMismatch, i)
		}

		switch vote.Flag {
		case types.VoteFlagNull:
			if len(vote.Signature) != 0 {
				return fmt.Errorf("%w: null vote from %s is signed", types.ErrInvalidCommitSignature, addr)
			}
		case types.VoteFlagPreCommit:
			signed = append(signed, vote)
			power += val.Power
		default:
			return fmt.Errorf("%w: slot %d has flag %s", types.ErrInvalidBlockCommit, i, vote.Flag)
		}
	}
	if len(commit.Votes) != valSet.Len() {
		return fmt.Errorf("%w: %d votes for %d validators", types.ErrCommitVoteCount, len(commit.Votes), valSet.Len())
	}

	if quorum := valSet.TwoThirdsMajority(); power < quorum {
		return fmt.Errorf("%w: got %d, need %d of %d", types.ErrInsufficientVotePower, power, quorum, valSet.TotalPower())
	}

	return verifyVoteSignatures(signed)
}

// verifyVoteSignatures checks PreCommit signatures in parallel.
func verifyVoteSignatures(votes []*types.Vote) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, vote := range votes {
		g.Go(func() error {
			if err := vote.Verify(); err != nil {
				return fmt.Errorf("%w: %s: %w", types.ErrInvalidCommitSignature, vote.ValidatorAddress(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// NewBlockCommit assembles a commit for a block. Validators whose keys
// are in signers get a signed PreCommit vote, every other validator gets
// a Null slot.
func NewBlockCommit(height int64, round int32, blockHash types.Hash, valSet *types.ValidatorSet, signers []*types.PrivateKey, ts time.Time) (*types.BlockCommit, error) {
	keys := make(map[types.Address]*types.PrivateKey, len(signers))
	for _, k := range signers {
		keys[k.Address()] = k
	}

	commit := &types.BlockCommit{
		Height:    height,
		Round:     round,
		BlockHash: blockHash.Copy(),
		Votes:     make([]*types.Vote, 0, valSet.Len()),
	}
	for _, val := range valSet.Validators {
		key, ok := keys[val.Address]
		if !ok {
			commit.Votes = append(commit.Votes, types.NewNullVote(val, height, round, blockHash, ts))
			continue
		}
		vote, err := types.NewPreCommitVote(key, height, round, blockHash, val.Power, ts)
		if err != nil {
			return nil, err
		}
		commit.Votes = append(commit.Votes, vote)
	}
	return commit, nil
}
