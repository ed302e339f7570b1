package kvstore

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/blockberries/ledgerberry/types"
)

// BadgerStore implements Store using BadgerDB.
// BadgerDB is optimized for SSDs and offers better write performance
// than LevelDB for certain workloads.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions contains configuration options for BadgerDB.
type BadgerOptions struct {
	// InMemory keeps all data in memory; path is ignored.
	InMemory bool

	// SyncWrites ensures durability by syncing writes to disk.
	// Default: true
	SyncWrites bool

	// Compression enables Snappy compression for values.
	// Default: true
	Compression bool

	// ValueLogFileSize is the maximum size of a single value log file.
	// Default: 1GB
	ValueLogFileSize int64

	// MemTableSize is the size of the memtable.
	// Default: 64MB
	MemTableSize int64

	// Logger is an optional logger for BadgerDB.
	// If nil, logging is disabled.
	Logger badger.Logger
}

// DefaultBadgerOptions returns sensible default options.
func DefaultBadgerOptions() *BadgerOptions {
	return &BadgerOptions{
		SyncWrites:       true,
		Compression:      true,
		ValueLogFileSize: 1 << 30,  // 1GB
		MemTableSize:     64 << 20, // 64MB
	}
}

// OpenBadger opens or creates a BadgerDB store at path.
func OpenBadger(path string, opts *BadgerOptions) (*BadgerStore, error) {
	if opts == nil {
		opts = DefaultBadgerOptions()
	}

	badgerOpts := badger.DefaultOptions(path)
	if opts.InMemory {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts = badgerOpts.WithSyncWrites(opts.SyncWrites && !opts.InMemory)
	if opts.ValueLogFileSize > 0 {
		badgerOpts = badgerOpts.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	if opts.MemTableSize > 0 {
		badgerOpts = badgerOpts.WithMemTableSize(opts.MemTableSize)
	}

	if opts.Compression {
		badgerOpts = badgerOpts.WithCompression(options.Snappy)
	} else {
		badgerOpts = badgerOpts.WithCompression(options.None)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("opening badgerdb: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Get retrieves the value at key.
func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapBadgerError(err)
	}
	return value, nil
}

// Has reports whether key exists.
func (s *BadgerStore) Has(key []byte) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapBadgerError(err)
	}
	return true, nil
}

// Set writes value at key.
func (s *BadgerStore) Set(key, value []byte) error {
	return mapBadgerError(s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(copyBytes(key), copyBytes(value))
	}))
}

// Delete removes key.
func (s *BadgerStore) Delete(key []byte) error {
	return mapBadgerError(s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(copyBytes(key))
	}))
}

// Iterate visits keys with the prefix in ascending order.
func (s *BadgerStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return mapBadgerError(s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	}))
}

// NewBatch returns a batch applied in a single Badger transaction.
func (s *BadgerStore) NewBatch() Batch {
	return &opBatch{apply: s.applyOps}
}

func (s *BadgerStore) applyOps(ops []batchOp) error {
	return mapBadgerError(s.db.Update(func(txn *badger.Txn) error {
		for _, op := range ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func mapBadgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return types.ErrKeyNotFound
	case errors.Is(err, badger.ErrDBClosed):
		return types.ErrStoreClosed
	default:
		return err
	}
}
