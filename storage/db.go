package storage

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// ErrNotFound is returned by Get when the key has no stored value.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the engine to use any backend (in-memory or persistent) as long
// as multi-key writes can be applied atomically through a Batch.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Write(batch *Batch) error
	Close() // A way to gracefully shut down the database connection.
}

// Batch collects puts and deletes that must land together.
type Batch struct {
	inner leveldb.Batch
}

// NewBatch returns an empty batch.
func NewBatch() *Batch { return &Batch{} }

// Put queues a key/value write.
func (b *Batch) Put(key, value []byte) { b.inner.Put(key, value) }

// Delete queues a key removal.
func (b *Batch) Delete(key []byte) { b.inner.Delete(key) }

// Len reports the number of queued operations.
func (b *Batch) Len() int { return b.inner.Len() }

// Reset clears the batch for reuse.
func (b *Batch) Reset() { b.inner.Reset() }

// LevelDB is a key-value store using LevelDB. It backs both the persistent
// store and the in-memory store used by tests.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// NewMemDB opens a LevelDB instance on volatile memory storage. Opening an
// empty memory storage cannot fail.
func NewMemDB() *LevelDB {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), &opt.Options{})
	if err != nil {
		panic(err)
	}
	return &LevelDB{db: db}
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Has reports whether a value is stored under key.
func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

// Write applies every operation in the batch atomically.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	return ldb.db.Write(&batch.inner, &opt.WriteOptions{Sync: true})
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
