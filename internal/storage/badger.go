package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/nqkv/quadstore/pkg/store"
)

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	mu       sync.RWMutex
	db       *badger.DB
	opts     badger.Options
	stopSync chan struct{}
}

// NewBadgerStorage opens a directory read-write (exclusive).
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // library code doesn't log; see SPEC_FULL.md Ambient Stack

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	return &BadgerStorage{db: db, opts: opts}, nil
}

// NewBadgerStorageReadOnly opens a directory without permitting mutation
// or WAL writes.
func NewBadgerStorageReadOnly(path string) (*BadgerStorage, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	opts.ReadOnly = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db read-only: %w", err)
	}

	return &BadgerStorage{db: db, opts: opts}, nil
}

// NewBadgerStorageSecondary opens primaryPath read-only and periodically
// reopens the handle so newly flushed data from a read-write Open in the
// same process becomes visible. Badger has no native cross-process
// secondary-replica mode (unlike the abstract sorted-engine §4.3
// describes); see SPEC_FULL.md's Open Question Decisions for the scope
// of this approximation. catchUpInterval defaults to one second when <= 0.
func NewBadgerStorageSecondary(primaryPath string, catchUpInterval time.Duration) (*BadgerStorage, error) {
	if catchUpInterval <= 0 {
		catchUpInterval = time.Second
	}

	s, err := NewBadgerStorageReadOnly(primaryPath)
	if err != nil {
		return nil, err
	}
	s.stopSync = make(chan struct{})

	go func() {
		ticker := time.NewTicker(catchUpInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopSync:
				return
			case <-ticker.C:
				s.reopen()
			}
		}
	}()

	return s, nil
}

func (s *BadgerStorage) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.Close(); err != nil {
		return
	}
	db, err := badger.Open(s.opts)
	if err != nil {
		return
	}
	s.db = db
}

// Begin starts a new transaction
func (s *BadgerStorage) Begin(writable bool) (store.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn := s.db.NewTransaction(writable)
	return &BadgerTransaction{
		txn:      txn,
		writable: writable,
	}, nil
}

// IngestSorted writes entries via a Badger WriteBatch, Badger's
// bulk-insertion primitive that skips per-key conflict detection — the
// Index Set's "ingest a prepared sorted file atomically" capability.
func (s *BadgerStorage) IngestSorted(entries []store.BulkEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, e := range entries {
		key := store.PrefixKey(e.Table, e.Key)
		if err := wb.Set(key, e.Value); err != nil {
			return fmt.Errorf("write batch set: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write batch flush: %w", err)
	}
	return nil
}

// Close closes the storage
func (s *BadgerStorage) Close() error {
	if s.stopSync != nil {
		close(s.stopSync)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BadgerStorage) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Sync()
}

// Flush forces buffered memtable contents to stable storage.
func (s *BadgerStorage) Flush() error {
	return s.Sync()
}

// Compact triggers Badger's level-flattening compaction.
func (s *BadgerStorage) Compact() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return s.db.Flatten(workers)
}

// Backup streams a consistent point-in-time copy of the store into dir.
func (s *BadgerStorage) Backup(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	f, err := os.Create(filepath.Join(dir, "quadstore.backup"))
	if err != nil {
		return fmt.Errorf("create backup file: %w", err)
	}
	defer f.Close()

	if _, err := s.db.Backup(f, 0); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// BadgerTransaction implements Transaction using BadgerDB
type BadgerTransaction struct {
	txn      *badger.Txn
	writable bool
}

// Get retrieves a value by key
func (t *BadgerTransaction) Get(table store.Table, key []byte) ([]byte, error) {
	prefixedKey := store.PrefixKey(table, key)
	item, err := t.txn.Get(prefixedKey)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores a key-value pair
func (t *BadgerTransaction) Set(table store.Table, key, value []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}

	prefixedKey := store.PrefixKey(table, key)
	return t.txn.Set(prefixedKey, value)
}

// Delete removes a key
func (t *BadgerTransaction) Delete(table store.Table, key []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}

	prefixedKey := store.PrefixKey(table, key)
	return t.txn.Delete(prefixedKey)
}

// Scan iterates over the keys of table that begin with start (the whole
// table when start is nil), stopping before end when end is non-nil
func (t *BadgerTransaction) Scan(table store.Table, start, end []byte) (store.Iterator, error) {
	opts := badger.DefaultIteratorOptions

	// Seek to start position
	var seekKey []byte
	var scanPrefix []byte
	tablePrefix := store.TablePrefix(table)

	if start != nil {
		seekKey = store.PrefixKey(table, start)
		// Use the start key as prefix to narrow down the scan
		scanPrefix = seekKey
	} else {
		seekKey = tablePrefix
		// Use the table prefix for full table scans
		scanPrefix = tablePrefix
	}

	opts.Prefix = scanPrefix
	it := t.txn.NewIterator(opts)

	// Calculate end key with prefix
	var endKey []byte
	if end != nil {
		endKey = store.PrefixKey(table, end)
	}

	return &BadgerIterator{
		it:         it,
		prefix:     tablePrefix, // Use table prefix for stripping
		scanPrefix: scanPrefix,  // Use full prefix for validation
		endKey:     endKey,
		seekKey:    seekKey,
		started:    false,
		hasValue:   false,
	}, nil
}

// Commit commits the transaction
func (t *BadgerTransaction) Commit() error {
	return t.txn.Commit()
}

// Rollback rolls back the transaction
func (t *BadgerTransaction) Rollback() error {
	t.txn.Discard()
	return nil
}

// BadgerIterator implements Iterator using BadgerDB
type BadgerIterator struct {
	it         *badger.Iterator
	prefix     []byte // Table prefix for stripping from keys
	scanPrefix []byte // Full prefix used for BadgerDB filtering
	endKey     []byte
	seekKey    []byte
	started    bool
	hasValue   bool
}

// Next advances to the next item
func (i *BadgerIterator) Next() bool {
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}

	// Check if iterator is still valid
	if !i.it.Valid() {
		i.hasValue = false
		return false
	}

	// Check if we've reached the end key
	if i.endKey != nil {
		if bytes.Compare(i.it.Item().Key(), i.endKey) >= 0 {
			i.hasValue = false
			return false
		}
	}

	i.hasValue = true
	return true
}

// Key returns the current key (without the table prefix)
func (i *BadgerIterator) Key() []byte {
	if !i.hasValue {
		return nil
	}

	key := i.it.Item().Key()
	// Remove table prefix
	if len(key) > len(i.prefix) {
		return key[len(i.prefix):]
	}
	return nil
}

// Value returns the current value
func (i *BadgerIterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, store.ErrNotFound
	}

	var value []byte
	err := i.it.Item().Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	i.it.Close()
	return nil
}
