// Package kvstore provides the ordered key/value stores that back the state
// trie and the chain repository, with atomic write batches.
package kvstore

// Reader reads values by key. Get returns types.ErrKeyNotFound for absent keys.
type Reader interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
}

// Writer mutates keys.
type Writer interface {
	Set(key, value []byte) error
	Delete(key []byte) error
}

// Batch accumulates writes that are applied atomically by Write.
// A batch must not be used after Write.
type Batch interface {
	Writer

	// Write applies all accumulated operations atomically.
	Write() error

	// Len returns the number of accumulated operations.
	Len() int
}

// Store is a persistent ordered key/value store.
type Store interface {
	Reader
	Writer

	// Iterate calls fn for each key with the given prefix in ascending key
	// order until fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error

	// NewBatch starts an atomic write batch.
	NewBatch() Batch

	// Close releases resources.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBadger  = "badgerdb"
)

// Open opens a store of the named backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendLevelDB:
		return OpenLevelDB(path)
	case BackendBadger:
		return OpenBadger(path, DefaultBadgerOptions())
	default:
		return nil, &UnknownBackendError{Backend: backend}
	}
}

// UnknownBackendError is returned by Open for unsupported backend names.
type UnknownBackendError struct {
	Backend string
}

func (e *UnknownBackendError) Error() string {
	return "unknown store backend: " + e.Backend
}

// copyBytes returns an independent copy of b, preserving nil.
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// opBatch buffers operations for backends without a native batch type.
type opBatch struct {
	ops   []batchOp
	apply func(ops []batchOp) error
}

func (b *opBatch) Set(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: copyBytes(key), value: copyBytes(value)})
	return nil
}

func (b *opBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: copyBytes(key), delete: true})
	return nil
}

func (b *opBatch) Len() int {
	return len(b.ops)
}

func (b *opBatch) Write() error {
	if len(b.ops) == 0 {
		return nil
	}
	err := b.apply(b.ops)
	b.ops = nil
	return err
}
