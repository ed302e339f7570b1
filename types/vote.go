package types

import (
	"fmt"
	"time"
)

// VoteFlag distinguishes a signed PreCommit from an empty vote slot.
type VoteFlag uint8

const (
	// VoteFlagNull marks an unsigned slot for a validator that did not commit.
	VoteFlagNull VoteFlag = 0
	// VoteFlagPreCommit marks a signed commit vote.
	VoteFlagPreCommit VoteFlag = 1
)

// String returns the flag name.
func (f VoteFlag) String() string {
	switch f {
	case VoteFlagNull:
		return "Null"
	case VoteFlagPreCommit:
		return "PreCommit"
	default:
		return fmt.Sprintf("VoteFlag(%d)", uint8(f))
	}
}

// Vote is one validator's slot in a BlockCommit.
type Vote struct {
	Height         int64    `cramberry:"1"`
	Round          int32    `cramberry:"2"`
	BlockHash      Hash     `cramberry:"3"`
	Timestamp      int64    `cramberry:"4"`
	ValidatorKey   []byte   `cramberry:"5"`
	ValidatorPower int64    `cramberry:"6"`
	Flag           VoteFlag `cramberry:"7"`
	Signature      []byte   `cramberry:"8"`
}

// ValidatorAddress returns the address of the voting validator.
func (v *Vote) ValidatorAddress() Address {
	return AddressFromPublicKey(v.ValidatorKey)
}

// SignBytes returns the canonical bytes covered by the signature.
func (v *Vote) SignBytes() ([]byte, error) {
	unsigned := *v
	unsigned.Signature = nil
	return Encode(&unsigned)
}

// Verify checks the signature against the vote's validator key.
func (v *Vote) Verify() error {
	msg, err := v.SignBytes()
	if err != nil {
		return err
	}
	return VerifySignature(v.ValidatorKey, msg, v.Signature)
}

// Time returns the vote timestamp.
func (v *Vote) Time() time.Time {
	return time.Unix(0, v.Timestamp)
}

// NewPreCommitVote creates and signs a PreCommit vote.
func NewPreCommitVote(key *PrivateKey, height int64, round int32, blockHash Hash, power int64, ts time.Time) (*Vote, error) {
	v := &Vote{
		Height:         height,
		Round:          round,
		BlockHash:      blockHash.Copy(),
		Timestamp:      ts.UnixNano(),
		ValidatorKey:   key.PublicKey(),
		ValidatorPower: power,
		Flag:           VoteFlagPreCommit,
	}
	msg, err := v.SignBytes()
	if err != nil {
		return nil, err
	}
	v.Signature = key.Sign(msg)
	return v, nil
}

// NewNullVote creates an unsigned Null slot for a validator.
func NewNullVote(val *Validator, height int64, round int32, blockHash Hash, ts time.Time) *Vote {
	return &Vote{
		Height:         height,
		Round:          round,
		BlockHash:      blockHash.Copy(),
		Timestamp:      ts.UnixNano(),
		ValidatorKey:   append([]byte(nil), val.PublicKey...),
		ValidatorPower: val.Power,
		Flag:           VoteFlagNull,
	}
}

// BlockCommit certifies a block with one vote slot per validator, in
// validator set order.
type BlockCommit struct {
	Height    int64   `cramberry:"1"`
	Round     int32   `cramberry:"2"`
	BlockHash Hash    `cramberry:"3"`
	Votes     []*Vote `cramberry:"4"`
}

// Hash returns the content hash of the commit.
func (c *BlockCommit) Hash() Hash {
	return MustHashValue(c)
}

// PreCommitPower sums the declared power of PreCommit votes.
func (c *BlockCommit) PreCommitPower() int64 {
	var power int64
	for _, v := range c.Votes {
		if v != nil && v.Flag == VoteFlagPreCommit {
			power += v.ValidatorPower
		}
	}
	return power
}

// EncodeBlockCommit serializes a commit for storage.
func EncodeBlockCommit(c *BlockCommit) ([]byte, error) {
	return Encode(c)
}

// DecodeBlockCommit deserializes a stored commit.
func DecodeBlockCommit(data []byte) (*BlockCommit, error) {
	var c BlockCommit
	if err := Decode(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
