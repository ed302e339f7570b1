// Package types defines the data model of the ledger: blocks, commits, votes,
// transactions, validators, misbehavior evidence and execution records.
//
// Every persisted entity carries cramberry field tags and is encoded through
// Encode, which is canonical: equal values always produce equal bytes and
// therefore equal content hashes.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash represents a cryptographic hash (32 bytes for SHA-256).
type Hash []byte

// Address identifies an account or validator. It is the lowercase hex
// encoding of the first AddressSize bytes of SHA-256(public key).
type Address string

// AddressSize is the number of hash bytes retained in an address.
const AddressSize = 20

// String returns the hash as a hexadecimal string.
func (h Hash) String() string {
	return hex.EncodeToString(h)
}

// Bytes returns the raw bytes of the hash.
func (h Hash) Bytes() []byte {
	return []byte(h)
}

// IsEmpty returns true if the hash is nil or zero-length.
func (h Hash) IsEmpty() bool {
	return len(h) == 0
}

// Equal returns true if the hashes are equal.
func (h Hash) Equal(other Hash) bool {
	if len(h) != len(other) {
		return false
	}
	for i := range h {
		if h[i] != other[i] {
			return false
		}
	}
	return true
}

// Copy returns an independent copy of the hash.
func (h Hash) Copy() Hash {
	if h == nil {
		return nil
	}
	out := make(Hash, len(h))
	copy(out, h)
	return out
}

// HashFromHex parses a hexadecimal string into a Hash.
func HashFromHex(s string) (Hash, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex string: %w", err)
	}
	return Hash(b), nil
}

// String returns the address.
func (a Address) String() string {
	return string(a)
}

// IsEmpty returns true for the zero address.
func (a Address) IsEmpty() bool {
	return a == ""
}

// Bytes returns the address as a byte key.
func (a Address) Bytes() []byte {
	return []byte(a)
}

// ParseAddress validates and normalizes a hex address string.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimPrefix(s, "0x"))
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(b) != AddressSize {
		return "", fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, AddressSize, len(b))
	}
	return Address(s), nil
}
