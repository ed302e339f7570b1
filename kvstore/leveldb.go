package kvstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/blockberries/ledgerberry/types"
)

// LevelDBStore implements Store using LevelDB.
type LevelDBStore struct {
	db   *leveldb.DB
	path string
}

// OpenLevelDB opens or creates a LevelDB store at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{
		NoSync: false,
	})
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return &LevelDBStore{db: db, path: path}, nil
}

// NewLevelDBWithStorage opens a LevelDB store over an arbitrary storage,
// such as storage.NewMemStorage() in tests.
func NewLevelDBWithStorage(stor storage.Storage) (*LevelDBStore, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb: %w", err)
	}
	return &LevelDBStore{db: db}, nil
}

// Get retrieves the value at key.
func (s *LevelDBStore) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err != nil {
		return nil, mapLevelDBError(err)
	}
	return v, nil
}

// Has reports whether key exists.
func (s *LevelDBStore) Has(key []byte) (bool, error) {
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return false, mapLevelDBError(err)
	}
	return ok, nil
}

// Set writes value at key.
func (s *LevelDBStore) Set(key, value []byte) error {
	return mapLevelDBError(s.db.Put(key, value, &opt.WriteOptions{Sync: true}))
}

// Delete removes key.
func (s *LevelDBStore) Delete(key []byte) error {
	return mapLevelDBError(s.db.Delete(key, &opt.WriteOptions{Sync: true}))
}

// Iterate visits keys with the prefix in ascending order.
func (s *LevelDBStore) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		// Iterator buffers are reused between steps.
		if !fn(copyBytes(iter.Key()), copyBytes(iter.Value())) {
			break
		}
	}
	return mapLevelDBError(iter.Error())
}

// NewBatch returns a LevelDB batch written with a synced write.
func (s *LevelDBStore) NewBatch() Batch {
	return &levelDBBatch{db: s.db, batch: new(leveldb.Batch)}
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

// Path returns the database directory, empty for non-file storage.
func (s *LevelDBStore) Path() string {
	return s.path
}

type levelDBBatch struct {
	db    *leveldb.DB
	batch *leveldb.Batch
}

func (b *levelDBBatch) Set(key, value []byte) error {
	b.batch.Put(key, value)
	return nil
}

func (b *levelDBBatch) Delete(key []byte) error {
	b.batch.Delete(key)
	return nil
}

func (b *levelDBBatch) Len() int {
	return b.batch.Len()
}

func (b *levelDBBatch) Write() error {
	if b.batch.Len() == 0 {
		return nil
	}
	err := b.db.Write(b.batch, &opt.WriteOptions{Sync: true})
	b.batch.Reset()
	return mapLevelDBError(err)
}

func mapLevelDBError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, leveldb.ErrNotFound):
		return types.ErrKeyNotFound
	case errors.Is(err, leveldb.ErrClosed):
		return types.ErrStoreClosed
	default:
		return err
	}
}
