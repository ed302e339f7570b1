package types

import (
	"bytes"
	"fmt"
	"time"
)

// DuplicateVoteEvidence proves that a validator signed two conflicting
// votes at the same height and round.
type DuplicateVoteEvidence struct {
	TargetAddress  Address `cramberry:"1"`
	Height         int64   `cramberry:"2"`
	VoteA          *Vote   `cramberry:"3"`
	VoteB          *Vote   `cramberry:"4"`
	ValidatorPower int64   `cramberry:"5"`
	TotalPower     int64   `cramberry:"6"`
	Timestamp      int64   `cramberry:"7"`
}

// NewDuplicateVoteEvidence builds evidence from two conflicting votes. The
// votes are ordered by block hash so the same pair always yields the same id.
func NewDuplicateVoteEvidence(voteA, voteB *Vote, valSet *ValidatorSet, ts time.Time) (*DuplicateVoteEvidence, error) {
	if voteA == nil || voteB == nil {
		return nil, fmt.Errorf("%w: nil vote", ErrInvalidEvidence)
	}
	if bytes.Compare(voteA.BlockHash, voteB.BlockHash) > 0 {
		voteA, voteB = voteB, voteA
	}
	addr := voteA.ValidatorAddress()
	val := valSet.GetByAddress(addr)
	if val == nil {
		return nil, fmt.Errorf("%w: %s", ErrEvidenceNotValidator, addr)
	}
	return &DuplicateVoteEvidence{
		TargetAddress:  addr,
		Height:         voteA.Height,
		VoteA:          voteA,
		VoteB:          voteB,
		ValidatorPower: val.Power,
		TotalPower:     valSet.TotalPower(),
		Timestamp:      ts.UnixNano(),
	}, nil
}

// ID returns the content hash of the evidence.
func (e *DuplicateVoteEvidence) ID() Hash {
	return MustHashValue(e)
}

// Verify checks the evidence against the validator set active at its height.
func (e *DuplicateVoteEvidence) Verify(valSet *ValidatorSet) error {
	a, b := e.VoteA, e.VoteB
	if a == nil || b == nil {
		return fmt.Errorf("%w: missing vote", ErrInvalidEvidence)
	}
	if a.Height != e.Height || b.Height != e.Height {
		return fmt.Errorf("%w: vote height differs from evidence height %d", ErrInvalidEvidence, e.Height)
	}
	if a.Round != b.Round {
		return fmt.Errorf("%w: votes for different rounds", ErrInvalidEvidence)
	}
	if a.Flag != b.Flag {
		return fmt.Errorf("%w: votes of different type", ErrInvalidEvidence)
	}
	if a.ValidatorAddress() != e.TargetAddress || b.ValidatorAddress() != e.TargetAddress {
		return fmt.Errorf("%w: votes not from target %s", ErrInvalidEvidence, e.TargetAddress)
	}
	if a.BlockHash.Equal(b.BlockHash) {
		return fmt.Errorf("%w: votes for the same block", ErrInvalidEvidence)
	}
	val := valSet.GetByAddress(e.TargetAddress)
	if val == nil {
		return fmt.Errorf("%w: %s", ErrEvidenceNotValidator, e.TargetAddress)
	}
	if val.Power != e.ValidatorPower {
		return fmt.Errorf("%w: validator power %d, set has %d", ErrInvalidEvidence, e.ValidatorPower, val.Power)
	}
	if total := valSet.TotalPower(); total != e.TotalPower {
		return fmt.Errorf("%w: total power %d, set has %d", ErrInvalidEvidence, e.TotalPower, total)
	}
	if err := a.Verify(); err != nil {
		return fmt.Errorf("%w: vote A: %w", ErrInvalidEvidence, err)
	}
	if err := b.Verify(); err != nil {
		return fmt.Errorf("%w: vote B: %w", ErrInvalidEvidence, err)
	}
	return nil
}

// EncodeEvidence serializes evidence for storage.
func EncodeEvidence(e *DuplicateVoteEvidence) ([]byte, error) {
	return Encode(e)
}

// DecodeEvidence deserializes stored evidence.
func DecodeEvidence(data []byte) (*DuplicateVoteEvidence, error) {
	var e DuplicateVoteEvidence
	if err := Decode(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
