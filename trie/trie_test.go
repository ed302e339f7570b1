package trie

import (
	"bytes"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/ledgerberry/kvstore"
	"github.com/blockberries/ledgerberry/types"
)

// countingStore records writes that reach the underlying store.
type countingStore struct {
	kvstore.Store
	writes atomic.Int64
}

func newCountingStore() *countingStore {
	return &countingStore{Store: kvstore.NewMemoryStore()}
}

func (s *countingStore) Set(key, value []byte) error {
	s.writes.Add(1)
	return s.Store.Set(key, value)
}

func (s *countingStore) NewBatch() kvstore.Batch {
	return &countingBatch{Batch: s.Store.NewBatch(), parent: s}
}

type countingBatch struct {
	kvstore.Batch
	parent *countingStore
}

func (b *countingBatch) Set(key, value []byte) error {
	b.parent.writes.Add(1)
	return b.Batch.Set(key, value)
}

func makeTestEntries(n int) map[string][]byte {
	entries := make(map[string][]byte, n)
	for i := 0; i < n; i++ {
		entries[fmt.Sprintf("key-%03d", i)] = []byte(fmt.Sprintf("value-%d", i))
	}
	return entries
}

func buildTrie(t *testing.T, store kvstore.Store, entries map[string][]byte, order []string) *MerkleTrie {
	t.Helper()
	tr := NewEmpty(store)
	for _, k := range order {
		next, err := tr.Set([]byte(k), entries[k])
		require.NoError(t, err)
		tr = next
	}
	return tr
}

func sortedKeys(entries map[string][]byte) []string {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestEmptyTrie(t *testing.T) {
	store := newCountingStore()
	tr := NewEmpty(store)

	require.True(t, tr.IsEmpty())
	require.True(t, tr.Hash().Equal(EmptyRootHash))
	require.True(t, EmptyRootHash.Equal(types.HashBytes(nil)))

	v, found, err := tr.Get([]byte("anything"))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, v)

	t.Run("commit empty is a no-op", func(t *testing.T) {
		committed, err := tr.Commit()
		require.NoError(t, err)
		require.True(t, committed.Hash().Equal(EmptyRootHash))
		require.Zero(t, store.writes.Load())

		has, err := store.Has(EmptyRootHash)
		require.NoError(t, err)
		require.False(t, has)
	})

	t.Run("empty root loads as empty", func(t *testing.T) {
		require.True(t, New(store, EmptyRootHash).IsEmpty())
		require.True(t, New(store, nil).IsEmpty())
	})
}

func TestSetGet(t *testing.T) {
	store := kvstore.NewMemoryStore()
	entries := makeTestEntries(50)
	tr := buildTrie(t, store, entries, sortedKeys(entries))

	for k, v := range entries {
		got, found, err := tr.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, found, k)
		require.Equal(t, v, got)
	}

	_, found, err := tr.Get([]byte("key-999"))
	require.NoError(t, err)
	require.False(t, found)

	t.Run("prefix keys", func(t *testing.T) {
		tr := NewEmpty(store)
		for _, k := range []string{"a", "ab", "abc", ""} {
			next, err := tr.Set([]byte(k), []byte("v:"+k))
			require.NoError(t, err)
			tr = next
		}
		for _, k := range []string{"a", "ab", "abc", ""} {
			got, found, err := tr.Get([]byte(k))
			require.NoError(t, err)
			require.True(t, found, "key %q", k)
			require.Equal(t, []byte("v:"+k), got)
		}
		_, found, err := tr.Get([]byte("abcd"))
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("overwrite", func(t *testing.T) {
		next, err := tr.Set([]byte("key-001"), []byte("changed"))
		require.NoError(t, err)
		got, _, err := next.Get([]byte("key-001"))
		require.NoError(t, err)
		require.Equal(t, []byte("changed"), got)
		require.False(t, next.Hash().Equal(tr.Hash()))
	})

	t.Run("empty value is present", func(t *testing.T) {
		next, err := tr.Set([]byte("empty"), nil)
		require.NoError(t, err)
		got, found, err := next.Get([]byte("empty"))
		require.NoError(t, err)
		require.True(t, found)
		require.Empty(t, got)
	})
}

func TestSetIsPure(t *testing.T) {
	store := kvstore.NewMemoryStore()
	base := buildTrie(t, store, map[string][]byte{"a": []byte("1")}, []string{"a"})
	baseHash := base.Hash()

	next, err := base.Set([]byte("b"), []byte("2"))
	require.NoError(t, err)

	require.True(t, base.Hash().Equal(baseHash))
	_, found, err := base.Get([]byte("b"))
	require.NoError(t, err)
	require.False(t, found, "original trie must not observe the write")

	got, found, err := next.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("2"), got)
}

func TestHashIsContentAddressed(t *testing.T) {
	entries := makeTestEntries(64)
	keys := sortedKeys(entries)

	a := buildTrie(t, kvstore.NewMemoryStore(), entries, keys)

	shuffled := append([]string(nil), keys...)
	rand.New(rand.NewSource(42)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	b := buildTrie(t, kvstore.NewMemoryStore(), entries, shuffled)

	require.True(t, a.Hash().Equal(b.Hash()), "insertion order must not affect the root")
}

func TestRemove(t *testing.T) {
	store := kvstore.NewMemoryStore()
	entries := makeTestEntries(30)
	full := buildTrie(t, store, entries, sortedKeys(entries))

	reduced := map[string][]byte{}
	for k, v := range entries {
		if k != "key-007" && k != "key-020" {
			reduced[k] = v
		}
	}
	expected := buildTrie(t, store, reduced, sortedKeys(reduced))

	removed, err := full.Remove([]byte("key-007"))
	require.NoError(t, err)
	removed, err = removed.Remove([]byte("key-020"))
	require.NoError(t, err)
	require.True(t, expected.Hash().Equal(removed.Hash()))

	same, err := removed.Remove([]byte("not-there"))
	require.NoError(t, err)
	require.True(t, same.Hash().Equal(removed.Hash()))

	t.Run("remove everything", func(t *testing.T) {
		tr := full
		for k := range entries {
			tr, err = tr.Remove([]byte(k))
			require.NoError(t, err)
		}
		require.True(t, tr.IsEmpty())
		require.True(t, tr.Hash().Equal(EmptyRootHash))
	})

	t.Run("remove through committed nodes", func(t *testing.T) {
		committed, err := full.Commit()
		require.NoError(t, err)
		lazy := New(store, committed.Hash())
		out, err := lazy.Remove([]byte("key-007"))
		require.NoError(t, err)
		out, err = out.Remove([]byte("key-020"))
		require.NoError(t, err)
		require.True(t, expected.Hash().Equal(out.Hash()))
	})
}

func TestCommitIdempotence(t *testing.T) {
	store := newCountingStore()
	entries := makeTestEntries(40)
	tr := buildTrie(t, store, entries, sortedKeys(entries))

	first, err := tr.Commit()
	require.NoError(t, err)
	writes := store.writes.Load()
	require.Positive(t, writes)

	second, err := first.Commit()
	require.NoError(t, err)
	require.True(t, first.Hash().Equal(second.Hash()))
	require.Equal(t, writes, store.writes.Load(), "second commit must not write")

	t.Run("lazy trie commit writes nothing", func(t *testing.T) {
		lazy := New(store, first.Hash())
		_, err := lazy.Commit()
		require.NoError(t, err)
		require.Equal(t, writes, store.writes.Load())
	})
}

func TestLazyResolution(t *testing.T) {
	store := kvstore.NewMemoryStore()
	entries := makeTestEntries(25)
	committed, err := buildTrie(t, store, entries, sortedKeys(entries)).Commit()
	require.NoError(t, err)

	lazy := New(store, committed.Hash())
	for k, v := range entries {
		got, found, err := lazy.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, got)
	}

	t.Run("missing node", func(t *testing.T) {
		orphan := New(kvstore.NewMemoryStore(), committed.Hash())
		_, _, err := orphan.Get([]byte("key-001"))
		require.ErrorIs(t, err, ErrMissingNode)
		require.ErrorIs(t, err, types.ErrStateNotFound)
	})

	t.Run("corrupt node", func(t *testing.T) {
		bad := kvstore.NewMemoryStore()
		require.NoError(t, bad.Set(committed.Hash(), []byte("garbage")))
		_, _, err := New(bad, committed.Hash()).Get([]byte("key-001"))
		require.ErrorIs(t, err, ErrCorruptNode)
	})
}

func TestStructuralSharing(t *testing.T) {
	store := newCountingStore()
	entries := makeTestEntries(200)
	base, err := buildTrie(t, store, entries, sortedKeys(entries)).Commit()
	require.NoError(t, err)
	baseWrites := store.writes.Load()

	next, err := New(store, base.Hash()).Set([]byte("key-100"), []byte("updated"))
	require.NoError(t, err)
	_, err = next.Commit()
	require.NoError(t, err)

	// Only the path from the root to the changed leaf is new.
	delta := store.writes.Load() - baseWrites
	require.Positive(t, delta)
	require.Less(t, delta, int64(10))

	// The old root is still readable.
	old, _, err := New(store, base.Hash()).Get([]byte("key-100"))
	require.NoError(t, err)
	require.Equal(t, []byte("value-100"), old)
}

func TestIterateValues(t *testing.T) {
	entries := makeTestEntries(33)
	entries["key"] = []byte("short")
	tr := buildTrie(t, kvstore.NewMemoryStore(), entries, sortedKeys(entries))

	var keys []string
	require.NoError(t, tr.IterateValues(func(key, value []byte) bool {
		keys = append(keys, string(key))
		require.Equal(t, entries[string(key)], value)
		return true
	}))
	require.Equal(t, sortedKeys(entries), keys)

	n, err := tr.Len()
	require.NoError(t, err)
	require.Equal(t, len(entries), n)

	visited := 0
	require.NoError(t, tr.IterateValues(func(_, _ []byte) bool {
		visited++
		return visited < 5
	}))
	require.Equal(t, 5, visited)
}

func TestProof(t *testing.T) {
	store := kvstore.NewMemoryStore()
	entries := makeTestEntries(50)
	tr, err := buildTrie(t, store, entries, sortedKeys(entries)).Commit()
	require.NoError(t, err)
	root := tr.Hash()

	proof, err := New(store, root).Prove([]byte("key-013"))
	require.NoError(t, err)
	require.NotEmpty(t, proof)

	value, found, err := VerifyProof(root, []byte("key-013"), proof)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("value-13"), value)

	t.Run("absence", func(t *testing.T) {
		proof, err := tr.Prove([]byte("nope"))
		require.NoError(t, err)
		_, found, err := VerifyProof(root, []byte("nope"), proof)
		require.NoError(t, err)
		require.False(t, found)
	})

	t.Run("wrong root", func(t *testing.T) {
		_, _, err := VerifyProof(types.HashBytes([]byte("other")), []byte("key-013"), proof)
		require.ErrorIs(t, err, ErrInvalidProof)
	})

	t.Run("tampered node", func(t *testing.T) {
		tampered := make([][]byte, len(proof))
		copy(tampered, proof)
		last := append([]byte{}, tampered[len(tampered)-1]...)
		idx := bytes.Index(last, []byte("value-13"))
		require.GreaterOrEqual(t, idx, 0)
		last[idx] = 'V'
		tampered[len(tampered)-1] = last
		_, _, err := VerifyProof(root, []byte("key-013"), tampered)
		require.ErrorIs(t, err, ErrInvalidProof)
	})
}

func TestCopyTrie(t *testing.T) {
	src := kvstore.NewMemoryStore()
	entries := makeTestEntries(60)
	tr, err := buildTrie(t, src, entries, sortedKeys(entries)).Commit()
	require.NoError(t, err)

	dst := newCountingStore()
	var values int
	n, err := CopyTrie(src, dst, tr.Hash(), func(value []byte) error {
		values++
		return nil
	})
	require.NoError(t, err)
	require.Positive(t, n)
	require.Equal(t, len(entries), values)
	require.Equal(t, src.Len(), dst.Store.(*kvstore.MemoryStore).Len())

	copied := New(dst, tr.Hash())
	for k, v := range entries {
		got, found, err := copied.Get([]byte(k))
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, v, got)
	}

	t.Run("second copy writes nothing", func(t *testing.T) {
		before := dst.writes.Load()
		n, err := CopyTrie(src, dst, tr.Hash(), nil)
		require.NoError(t, err)
		require.Zero(t, n)
		require.Equal(t, before, dst.writes.Load())
	})

	t.Run("derived trie copies only new nodes", func(t *testing.T) {
		next, err := tr.Set([]byte("key-005"), []byte("x"))
		require.NoError(t, err)
		next, err = next.Commit()
		require.NoError(t, err)
		n, err := CopyTrie(src, dst, next.Hash(), nil)
		require.NoError(t, err)
		require.Positive(t, n)
		require.Less(t, n, 10)
	})

	t.Run("empty root", func(t *testing.T) {
		n, err := CopyTrie(src, dst, EmptyRootHash, nil)
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("missing source node", func(t *testing.T) {
		_, err := CopyTrie(kvstore.NewMemoryStore(), kvstore.NewMemoryStore(), tr.Hash(), nil)
		require.ErrorIs(t, err, ErrMissingNode)
	})
}

func TestConcurrentReads(t *testing.T) {
	store := kvstore.NewMemoryStore()
	entries := makeTestEntries(100)
	committed, err := buildTrie(t, store, entries, sortedKeys(entries)).Commit()
	require.NoError(t, err)
	shared := New(store, committed.Hash())

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			local := shared
			for k, v := range entries {
				got, found, err := local.Get([]byte(k))
				if err != nil || !found || !bytes.Equal(got, v) {
					errs <- fmt.Errorf("goroutine %d: key %s: %v", g, k, err)
					return
				}
			}
			// speculative writes never affect the shared view
			if _, err := local.Set([]byte(fmt.Sprintf("concurrent-%d", g)), []byte("x")); err != nil {
				errs <- err
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.True(t, shared.Hash().Equal(committed.Hash()))
}

func TestCompactEncoding(t *testing.T) {
	tests := [][]byte{
		{},
		{terminator},
		{1, 2, 3, 4, 5},
		{0, 15, 1, 12, 11, 8, terminator},
		{15, 1, 12, 11, 8, terminator},
	}
	for _, hex := range tests {
		require.Equal(t, hex, compactToHex(hexToCompact(hex)), "hex %v", hex)
	}
	require.Equal(t, []byte("abc"), hexToKeybytes(keybytesToHex([]byte("abc"))))
}
