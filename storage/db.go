package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/ethdb"
	gethleveldb "github.com/ethereum/go-ethereum/ethdb/leveldb"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store backing the exchange
// state. Both backends expose the trie database layered on top of them so the
// state trie and raw metadata share one physical store.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	TrieDB() *triedb.Database
	Close()
}

type backend struct {
	disk ethdb.Database

	once   sync.Once
	trieDB *triedb.Database
}

func (b *backend) Put(key []byte, value []byte) error {
	return b.disk.Put(key, value)
}

func (b *backend) Get(key []byte) ([]byte, error) {
	ok, err := b.disk.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return b.disk.Get(key)
}

func (b *backend) Has(key []byte) (bool, error) {
	return b.disk.Has(key)
}

// TrieDB lazily opens the hash-based trie database over the backend.
func (b *backend) TrieDB() *triedb.Database {
	b.once.Do(func() {
		b.trieDB = triedb.NewDatabase(b.disk, nil)
	})
	return b.trieDB
}

func (b *backend) close() {
	if b.trieDB != nil {
		_ = b.trieDB.Close()
	}
	_ = b.disk.Close()
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	backend
}

func NewMemDB() *MemDB {
	return &MemDB{backend: backend{disk: rawdb.NewMemoryDatabase()}}
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	db.close()
}

// --- Persistent DB ---

// LevelDBOptions tunes the LevelDB backend. Zero values fall back to defaults.
type LevelDBOptions struct {
	CacheMB int
	Handles int
}

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	backend
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	return OpenLevelDB(path, LevelDBOptions{})
}

// OpenLevelDB opens a LevelDB database with explicit cache and handle limits.
func OpenLevelDB(path string, opts LevelDBOptions) (*LevelDB, error) {
	cache := opts.CacheMB
	if cache <= 0 {
		cache = 16
	}
	handles := opts.Handles
	if handles <= 0 {
		handles = 64
	}
	kv, err := gethleveldb.NewCustom(path, "exchange/db/", func(o *opt.Options) {
		o.OpenFilesCacheCapacity = handles
		o.BlockCacheCapacity = cache / 2 * opt.MiB
		o.WriteBuffer = cache / 4 * opt.MiB
	})
	if err != nil {
		return nil, fmt.Errorf("storage: open leveldb %s: %w", path, err)
	}
	return &LevelDB{backend: backend{disk: rawdb.NewDatabase(kv)}}, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.close()
}
