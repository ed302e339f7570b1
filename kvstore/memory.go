package kvstore

import (
	"bytes"
	"sort"
	"strings"
	"sync"

	"github.com/blockberries/ledgerberry/types"
)

// MemoryStore implements Store with an in-memory map.
// Primarily used for testing.
type MemoryStore struct {
	data   map[string][]byte
	closed bool
	mu     sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored at key.
func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, types.ErrStoreClosed
	}
	v, ok := m.data[string(key)]
	if !ok {
		return nil, types.ErrKeyNotFound
	}
	return copyBytes(v), nil
}

// Has reports whether key exists.
func (m *MemoryStore) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, types.ErrStoreClosed
	}
	_, ok := m.data[string(key)]
	return ok, nil
}

// Set stores a copy of value at key.
func (m *MemoryStore) Set(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	m.data[string(key)] = copyBytes(value)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	delete(m.data, string(key))
	return nil
}

// Iterate visits keys with the prefix in ascending order. The callback runs
// on a snapshot, so it may write to the store.
func (m *MemoryStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return types.ErrStoreClosed
	}
	p := string(prefix)
	keys := make([]string, 0)
	for k := range m.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = copyBytes(m.data[k])
	}
	m.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			return nil
		}
	}
	return nil
}

// NewBatch returns a batch applied under a single lock acquisition.
func (m *MemoryStore) NewBatch() Batch {
	return &opBatch{apply: m.applyOps}
}

func (m *MemoryStore) applyOps(ops []batchOp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return types.ErrStoreClosed
	}
	for _, op := range ops {
		if op.delete {
			delete(m.data, string(op.key))
		} else {
			m.data[string(op.key)] = op.value
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Equal reports whether both stores hold identical contents.
func (m *MemoryStore) Equal(other *MemoryStore) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	other.mu.RLock()
	defer other.mu.RUnlock()
	if len(m.data) != len(other.data) {
		return false
	}
	for k, v := range m.data {
		ov, ok := other.data[k]
		if !ok || !bytes.Equal(v, ov) {
			return false
		}
	}
	return true
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
