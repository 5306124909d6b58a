package store

import (
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrTransactionRO = errors.New("transaction is read-only")
)

// Storage is the interface for the underlying key-value store
type Storage interface {
	// Begin starts a new transaction
	Begin(writable bool) (Transaction, error)

	// IngestSorted atomically writes a batch of already-deduplicated,
	// presorted entries across one or more tables (empty values for the
	// quad and graphs tables, dictionary payloads for id2str), bypassing
	// the per-call conflict detection of a normal transaction. This is
	// the "prepare a sorted file off-line, then ingest it atomically"
	// primitive the Bulk Loader relies on; entries need not be sorted
	// relative to previously ingested batches.
	IngestSorted(entries []BulkEntry) error

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error

	// Flush forces any buffered writes to stable storage
	Flush() error

	// Compact triggers the backend's compaction/space-reclaim routine
	Compact() error

	// Backup streams a consistent point-in-time copy of the store to dir
	Backup(dir string) error
}

// BulkEntry is one key/value pair destined for a specific column family,
// produced by a Bulk Loader worker.
type BulkEntry struct {
	Table Table
	Key   []byte
	Value []byte
}

// Transaction represents a database transaction with snapshot isolation
type Transaction interface {
	// Get retrieves a value by key
	Get(table Table, key []byte) ([]byte, error)

	// Set stores a key-value pair
	Set(table Table, key, value []byte) error

	// Delete removes a key
	Delete(table Table, key []byte) error

	// Scan iterates over the keys of table that begin with start
	// If start is nil, every key of the table is visited
	// If end is non-nil, iteration stops before the first key >= end
	Scan(table Table, start, end []byte) (Iterator, error)

	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error
}

// Iterator iterates over key-value pairs
type Iterator interface {
	// Next advances to the next item
	Next() bool

	// Key returns the current key
	Key() []byte

	// Value returns the current value
	Value() ([]byte, error)

	// Close closes the iterator
	Close() error
}

// Table represents a logical table/column family in the storage
type Table byte

const (
	// Metadata table: hash -> string
	TableID2Str Table = iota

	// Default graph indexes (3 permutations)
	TableDSPO
	TableDPOS
	TableDOSP

	// Named graph indexes (6 permutations)
	TableSPOG
	TablePOSG
	TableOSPG
	TableGSPO
	TableGPOS
	TableGOSP

	// Named graphs metadata
	TableGraphs

	// Single key holding the storage format version
	TableVersion

	// Total number of tables
	TableCount
)

func (t Table) String() string {
	switch t {
	case TableID2Str:
		return "id2str"
	case TableDSPO:
		return "dspo"
	case TableDPOS:
		return "dpos"
	case TableDOSP:
		return "dosp"
	case TableSPOG:
		return "spog"
	case TablePOSG:
		return "posg"
	case TableOSPG:
		return "ospg"
	case TableGSPO:
		return "gspo"
	case TableGPOS:
		return "gpos"
	case TableGOSP:
		return "gosp"
	case TableGraphs:
		return "graphs"
	case TableVersion:
		return "version"
	default:
		return "unknown"
	}
}

// TablePrefix returns a byte prefix for a table to namespace keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	prefix := TablePrefix(table)
	result := make([]byte, len(prefix)+len(key))
	copy(result, prefix)
	copy(result[len(prefix):], key)
	return result
}
