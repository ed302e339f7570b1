package types

import (
	"errors"
	"fmt"
)

// Limits on account state entries written by actions.
const (
	// MaxStateKeySize is the maximum key size in an account's storage (1 KB).
	MaxStateKeySize = 1024

	// MaxStateValueSize is the maximum value size in an account's storage (1 MB).
	MaxStateValueSize = 1 * 1024 * 1024
)

// Validation errors.
var (
	// ErrDataTooLarge is returned when data exceeds size limits.
	ErrDataTooLarge = errors.New("data too large")

	// ErrEmptyData is returned when required data is empty.
	ErrEmptyData = errors.New("empty data")
)

// ValidateStateKey validates that an account storage key is within limits.
func ValidateStateKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: key cannot be empty", ErrEmptyData)
	}
	if len(key) > MaxStateKeySize {
		return fmt.Errorf("%w: key size exceeds maximum: %d > %d", ErrDataTooLarge, len(key), MaxStateKeySize)
	}
	return nil
}

// ValidateStateValue validates that an account storage value is within
// limits. Empty values are allowed.
func ValidateStateValue(value []byte) error {
	if len(value) > MaxStateValueSize {
		return fmt.Errorf("%w: value size exceeds maximum: %d > %d", ErrDataTooLarge, len(value), MaxStateValueSize)
	}
	return nil
}
