package kvstore

// PrefixStore is a view of a Store where every key is namespaced under a
// fixed prefix, so several logical stores can share one database.
type PrefixStore struct {
	parent Store
	prefix []byte
}

// NewPrefixStore creates a prefixed view of parent. Closing the view does
// not close the parent.
func NewPrefixStore(parent Store, prefix []byte) *PrefixStore {
	return &PrefixStore{parent: parent, prefix: copyBytes(prefix)}
}

func (p *PrefixStore) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

// Get retrieves the value at key.
func (p *PrefixStore) Get(key []byte) ([]byte, error) {
	return p.parent.Get(p.key(key))
}

// Has reports whether key exists.
func (p *PrefixStore) Has(key []byte) (bool, error) {
	return p.parent.Has(p.key(key))
}

// Set writes value at key.
func (p *PrefixStore) Set(key, value []byte) error {
	return p.parent.Set(p.key(key), value)
}

// Delete removes key.
func (p *PrefixStore) Delete(key []byte) error {
	return p.parent.Delete(p.key(key))
}

// Iterate visits keys under prefix with the view prefix stripped.
func (p *PrefixStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	n := len(p.prefix)
	return p.parent.Iterate(p.key(prefix), func(key, value []byte) bool {
		return fn(key[n:], value)
	})
}

// NewBatch returns a batch on the parent store that prefixes keys.
func (p *PrefixStore) NewBatch() Batch {
	return &prefixBatch{parent: p.parent.NewBatch(), store: p}
}

// Close is a no-op; the parent owns the database.
func (p *PrefixStore) Close() error {
	return nil
}

type prefixBatch struct {
	parent Batch
	store  *PrefixStore
}

func (b *prefixBatch) Set(key, value []byte) error {
	return b.parent.Set(b.store.key(key), value)
}

func (b *prefixBatch) Delete(key []byte) error {
	return b.parent.Delete(b.store.key(key))
}

func (b *prefixBatch) Len() int {
	return b.parent.Len()
}

func (b *prefixBatch) Write() error {
	return b.parent.Write()
}
