package store

import (
	"fmt"
	"time"

	"github.com/nqkv/quadstore/internal/encoding"
	"github.com/nqkv/quadstore/internal/storage"
)

// QuadStore is the top-level handle callers open: one *badger.DB, one
// TermEncoder/TermDecoder pair, shared by every Reader and Writer it
// hands out.
type QuadStore struct {
	storage *storage.BadgerStorage
	encoder *encoding.TermEncoder
	decoder *encoding.TermDecoder
}

func wrap(bs *storage.BadgerStorage) (*QuadStore, error) {
	qs := &QuadStore{
		storage: bs,
		encoder: encoding.NewTermEncoder(),
		decoder: encoding.NewTermDecoder(),
	}

	txn, err := qs.storage.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("begin version check: %w", err)
	}
	if err := CheckVersion(txn); err != nil {
		_ = txn.Rollback()
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, NewIOError("commit version stamp", err)
	}
	return qs, nil
}

// Open opens (or creates) a quadstore directory for read-write access,
// refusing to open a directory stamped with a storage version other than
// LatestStorageVersion (invariant 6).
func Open(path string) (*QuadStore, error) {
	bs, err := storage.NewBadgerStorage(path)
	if err != nil {
		return nil, err
	}
	qs, err := wrap(bs)
	if err != nil {
		_ = bs.Close()
		return nil, err
	}
	return qs, nil
}

// OpenReadOnly opens a directory without permitting any mutation.
// Version stamping is skipped: a read-only handle never writes, so an
// unstamped (freshly created) directory is rejected instead of adopted.
func OpenReadOnly(path string) (*QuadStore, error) {
	bs, err := storage.NewBadgerStorageReadOnly(path)
	if err != nil {
		return nil, err
	}

	qs := &QuadStore{storage: bs, encoder: encoding.NewTermEncoder(), decoder: encoding.NewTermDecoder()}
	txn, err := qs.storage.Begin(false)
	if err != nil {
		_ = bs.Close()
		return nil, fmt.Errorf("begin version check: %w", err)
	}
	defer txn.Rollback()
	v, err := ReadVersion(txn)
	if err != nil {
		_ = bs.Close()
		if err == ErrNotFound {
			return nil, NewCorruptionError("read-only open of unstamped store")
		}
		return nil, err
	}
	if v != LatestStorageVersion {
		_ = bs.Close()
		return nil, NewCorruptionError("invalid storage version")
	}
	return qs, nil
}

// OpenSecondary opens primaryPath read-only and periodically refreshes
// its view to observe writes committed elsewhere in this process. See
// SPEC_FULL.md's Open Question Decisions for why this approximates,
// rather than truly implements, a cross-process secondary replica.
func OpenSecondary(primaryPath string, catchUpInterval time.Duration) (*QuadStore, error) {
	bs, err := storage.NewBadgerStorageSecondary(primaryPath, catchUpInterval)
	if err != nil {
		return nil, err
	}
	txn, err := bs.Begin(false)
	if err != nil {
		_ = bs.Close()
		return nil, fmt.Errorf("begin version check: %w", err)
	}
	v, err := ReadVersion(txn)
	_ = txn.Rollback()
	if err == nil && v != LatestStorageVersion {
		err = NewCorruptionError("invalid storage version")
	} else if err == ErrNotFound {
		err = NewCorruptionError("secondary open of unstamped store")
	}
	if err != nil {
		_ = bs.Close()
		return nil, err
	}
	return &QuadStore{storage: bs, encoder: encoding.NewTermEncoder(), decoder: encoding.NewTermDecoder()}, nil
}

// Snapshot returns a point-in-time Reader.
func (qs *QuadStore) Snapshot() (*StoreReader, error) {
	txn, err := qs.storage.Begin(false)
	if err != nil {
		return nil, NewIOError("begin snapshot", err)
	}
	return NewStoreReader(txn, qs.encoder, qs.decoder), nil
}

// StartTransaction returns a new read-write Writer. Exactly one of
// Commit/Rollback must be called on the result.
func (qs *QuadStore) StartTransaction() (*Writer, error) {
	txn, err := qs.storage.Begin(true)
	if err != nil {
		return nil, NewIOError("begin writer", err)
	}
	return NewWriter(txn, qs.encoder, qs.decoder), nil
}

// BulkLoader returns a builder for a parallel bulk-ingestion pipeline
// targeting this store, per spec.md §4.7.
func (qs *QuadStore) BulkLoader() *BulkLoaderBuilder {
	return newBulkLoaderBuilder(qs)
}

// Flush forces buffered writes to stable storage.
func (qs *QuadStore) Flush() error {
	return qs.storage.Flush()
}

// Compact triggers the backend's compaction routine.
func (qs *QuadStore) Compact() error {
	return qs.storage.Compact()
}

// Backup streams a consistent point-in-time copy of the store to dir.
func (qs *QuadStore) Backup(dir string) error {
	return qs.storage.Backup(dir)
}

// Close releases the underlying storage handle.
func (qs *QuadStore) Close() error {
	return qs.storage.Close()
}
