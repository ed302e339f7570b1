package types

import (
	"crypto/sha256"
)

const (
	// HashSize is the size of a SHA-256 hash in bytes.
	HashSize = sha256.Size // 32 bytes
)

// HashBytes computes the SHA-256 hash of arbitrary bytes.
func HashBytes(data []byte) Hash {
	h := sha256.Sum256(data)
	return h[:]
}

// HashConcat computes the SHA-256 hash of the concatenation of the given hashes.
// Used for ordered id lists such as a block's transaction and evidence hashes.
func HashConcat(hashes ...Hash) Hash {
	h := sha256.New()
	for _, x := range hashes {
		h.Write(x)
	}
	return h.Sum(nil)
}

// EmptyHash returns the hash of an empty byte slice.
func EmptyHash() Hash {
	h := sha256.Sum256([]byte{})
	return h[:]
}

// HashValue encodes v canonically and hashes the result.
func HashValue(v any) (Hash, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	return HashBytes(data), nil
}

// MustHashValue is HashValue for values whose encoding cannot fail.
// It panics on encoding errors, which indicate a programming error.
func MustHashValue(v any) Hash {
	h, err := HashValue(v)
	if err != nil {
		panic("CONSENSUS CRITICAL: failed to encode value for hashing: " + err.Error())
	}
	return h
}
