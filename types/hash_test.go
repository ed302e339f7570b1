package types

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashSize(t *testing.T) {
	require.Equal(t, 32, HashSize)
	require.Equal(t, sha256.Size, HashSize)
}

func TestHashBytes(t *testing.T) {
	t.Run("matches sha256 directly", func(t *testing.T) {
		data := []byte("test")
		expected := sha256.Sum256(data)
		require.Equal(t, expected[:], HashBytes(data).Bytes())
	})

	t.Run("empty input equals EmptyHash", func(t *testing.T) {
		require.True(t, HashBytes(nil).Equal(EmptyHash()))
		require.True(t, HashBytes([]byte{}).Equal(EmptyHash()))
	})

	t.Run("deterministic", func(t *testing.T) {
		require.True(t, HashBytes([]byte("a")).Equal(HashBytes([]byte("a"))))
		require.False(t, HashBytes([]byte("a")).Equal(HashBytes([]byte("b"))))
	})
}

func TestHashConcat(t *testing.T) {
	a := HashBytes([]byte("a"))
	b := HashBytes([]byte("b"))

	require.False(t, HashConcat(a, b).Equal(HashConcat(b, a)), "order matters")
	require.True(t, HashConcat().Equal(EmptyHash()))

	joined := append(append([]byte{}, a...), b...)
	require.True(t, HashConcat(a, b).Equal(HashBytes(joined)))
}

func TestHashHelpers(t *testing.T) {
	h := HashBytes([]byte("x"))

	t.Run("hex round trip", func(t *testing.T) {
		parsed, err := HashFromHex(h.String())
		require.NoError(t, err)
		require.True(t, parsed.Equal(h))
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := HashFromHex("zz")
		require.Error(t, err)
	})

	t.Run("copy is independent", func(t *testing.T) {
		c := h.Copy()
		c[0] ^= 0xff
		require.False(t, c.Equal(h))
	})

	t.Run("empty", func(t *testing.T) {
		require.True(t, Hash(nil).IsEmpty())
		require.False(t, h.IsEmpty())
		require.Nil(t, Hash(nil).Copy())
	})
}

func TestAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)

	addr := key.Address()
	require.Len(t, addr.String(), AddressSize*2)
	require.Equal(t, addr, AddressFromPublicKey(key.PublicKey()))

	parsed, err := ParseAddress("0x" + addr.String())
	require.NoError(t, err)
	require.Equal(t, addr, parsed)

	_, err = ParseAddress("abcd")
	require.ErrorIs(t, err, ErrInvalidAddress)

	_, err = ParseAddress("not-hex")
	require.ErrorIs(t, err, ErrInvalidAddress)
}

func TestKeys(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	k1, err := PrivateKeyFromSeed(seed)
	require.NoError(t, err)
	k2, err := PrivateKeyFromSeed(seed)
	require.NoError(t, err)
	require.Equal(t, k1.Address(), k2.Address())
	require.Equal(t, seed, k1.Seed())

	sig := k1.Sign([]byte("msg"))
	require.NoError(t, VerifySignature(k1.PublicKey(), []byte("msg"), sig))
	require.ErrorIs(t, VerifySignature(k1.PublicKey(), []byte("other"), sig), ErrInvalidSignature)
	require.Error(t, VerifySignature([]byte{1, 2}, []byte("msg"), sig))
	require.Error(t, VerifySignature(k1.PublicKey(), []byte("msg"), nil))

	_, err = PrivateKeyFromSeed([]byte{1})
	require.Error(t, err)
}
