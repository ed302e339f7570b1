package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// Key sizes.
const (
	PublicKeySize = ed25519.PublicKeySize
	SignatureSize = ed25519.SignatureSize
)

// PrivateKey is an Ed25519 signing key.
type PrivateKey struct {
	key ed25519.PrivateKey
}

// GeneratePrivateKey creates a new random private key.
func GeneratePrivateKey() (*PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &PrivateKey{key: priv}, nil
}

// PrivateKeyFromSeed derives a private key from a 32-byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &PrivateKey{key: ed25519.NewKeyFromSeed(seed)}, nil
}

// Seed returns the 32-byte seed the key was derived from.
func (k *PrivateKey) Seed() []byte {
	return k.key.Seed()
}

// PublicKey returns a copy of the public key bytes.
func (k *PrivateKey) PublicKey() []byte {
	pub := k.key.Public().(ed25519.PublicKey)
	out := make([]byte, len(pub))
	copy(out, pub)
	return out
}

// Address returns the address derived from the public key.
func (k *PrivateKey) Address() Address {
	return AddressFromPublicKey(k.PublicKey())
}

// Sign signs msg.
func (k *PrivateKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.key, msg)
}

// AddressFromPublicKey derives the address of a public key.
func AddressFromPublicKey(pub []byte) Address {
	h := HashBytes(pub)
	return Address(hex.EncodeToString(h[:AddressSize]))
}

// VerifySignature checks sig over msg against pub.
func VerifySignature(pub, msg, sig []byte) error {
	if len(pub) != PublicKeySize {
		return errors.New("invalid public key size")
	}
	if len(sig) == 0 {
		return errors.New("missing signature")
	}
	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
