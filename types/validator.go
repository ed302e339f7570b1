package types

import (
	"bytes"
	"fmt"
	"math"
	"slices"
)

// Validator is a consensus participant with voting power.
type Validator struct {
	Address   Address `cramberry:"1"`
	PublicKey []byte  `cramberry:"2"`
	Power     int64   `cramberry:"3"`
}

// NewValidator creates a validator from its public key.
func NewValidator(pub []byte, power int64) *Validator {
	return &Validator{
		Address:   AddressFromPublicKey(pub),
		PublicKey: append([]byte(nil), pub...),
		Power:     power,
	}
}

// Copy returns a deep copy.
func (v *Validator) Copy() *Validator {
	return &Validator{
		Address:   v.Address,
		PublicKey: append([]byte(nil), v.PublicKey...),
		Power:     v.Power,
	}
}

// ValidateBasic checks the validator's fields.
func (v *Validator) ValidateBasic() error {
	if len(v.PublicKey) != PublicKeySize {
		return fmt.Errorf("%w: public key size %d", ErrInvalidValidatorSet, len(v.PublicKey))
	}
	if AddressFromPublicKey(v.PublicKey) != v.Address {
		return fmt.Errorf("%w: address %s does not match public key", ErrInvalidValidatorSet, v.Address)
	}
	if v.Power < 0 {
		return fmt.Errorf("%w: negative power %d for %s", ErrInvalidValidatorSet, v.Power, v.Address)
	}
	return nil
}

// ValidatorSet is an immutable list of validators sorted by address.
// The sort order defines the positional vote slots of a BlockCommit.
type ValidatorSet struct {
	Validators []*Validator `cramberry:"1"`
}

// NewValidatorSet validates, copies and sorts validators.
func NewValidatorSet(validators []*Validator) (*ValidatorSet, error) {
	seen := make(map[Address]bool, len(validators))
	var total int64
	sorted := make([]*Validator, 0, len(validators))
	for i, v := range validators {
		if v == nil {
			return nil, fmt.Errorf("%w: validator at index %d is nil", ErrInvalidValidatorSet, i)
		}
		if err := v.ValidateBasic(); err != nil {
			return nil, err
		}
		if seen[v.Address] {
			return nil, fmt.Errorf("%w: duplicate validator %s", ErrInvalidValidatorSet, v.Address)
		}
		seen[v.Address] = true
		if total > math.MaxInt64-v.Power {
			return nil, fmt.Errorf("%w: total power overflows", ErrInvalidValidatorSet)
		}
		total += v.Power
		sorted = append(sorted, v.Copy())
	}
	slices.SortFunc(sorted, func(a, b *Validator) int {
		return bytes.Compare([]byte(a.Address), []byte(b.Address))
	})
	return &ValidatorSet{Validators: sorted}, nil
}

// Len returns the number of validators.
func (vs *ValidatorSet) Len() int {
	if vs == nil {
		return 0
	}
	return len(vs.Validators)
}

// TotalPower returns the sum of all voting power.
func (vs *ValidatorSet) TotalPower() int64 {
	if vs == nil {
		return 0
	}
	var total int64
	for _, v := range vs.Validators {
		total += v.Power
	}
	return total
}

// TwoThirdsMajority returns the smallest power strictly greater than two
// thirds of the total.
func (vs *ValidatorSet) TwoThirdsMajority() int64 {
	total := vs.TotalPower()
	// 2*total can overflow, so compute floor(2*total/3) piecewise.
	third := total / 3
	rem := total % 3
	twoThirds := third + third
	if rem == 2 {
		twoThirds++
	}
	return twoThirds + 1
}

// GetByAddress returns a copy of the validator with the given address.
func (vs *ValidatorSet) GetByAddress(addr Address) *Validator {
	if idx := vs.IndexOf(addr); idx >= 0 {
		return vs.Validators[idx].Copy()
	}
	return nil
}

// IndexOf returns the position of addr in the sorted set, or -1.
func (vs *ValidatorSet) IndexOf(addr Address) int {
	if vs == nil {
		return -1
	}
	idx, found := slices.BinarySearchFunc(vs.Validators, addr, func(v *Validator, target Address) int {
		return bytes.Compare([]byte(v.Address), []byte(target))
	})
	if !found {
		return -1
	}
	return idx
}

// Contains reports whether addr is in the set.
func (vs *ValidatorSet) Contains(addr Address) bool {
	return vs.IndexOf(addr) >= 0
}

// Update returns a new set with v added or replaced. A validator with zero
// power is removed.
func (vs *ValidatorSet) Update(v *Validator) (*ValidatorSet, error) {
	if err := v.ValidateBasic(); err != nil {
		return nil, err
	}
	next := make([]*Validator, 0, vs.Len()+1)
	if vs != nil {
		for _, existing := range vs.Validators {
			if existing.Address != v.Address {
				next = append(next, existing)
			}
		}
	}
	if v.Power > 0 {
		next = append(next, v)
	}
	return NewValidatorSet(next)
}

// Hash returns the content hash of the set.
func (vs *ValidatorSet) Hash() Hash {
	return MustHashValue(vs)
}

// EncodeValidatorSet serializes a validator set.
func EncodeValidatorSet(vs *ValidatorSet) ([]byte, error) {
	return Encode(vs)
}

// DecodeValidatorSet deserializes a validator set and re-validates it.
func DecodeValidatorSet(data []byte) (*ValidatorSet, error) {
	var raw ValidatorSet
	if err := Decode(data, &raw); err != nil {
		return nil, err
	}
	return NewValidatorSet(raw.Validators)
}
