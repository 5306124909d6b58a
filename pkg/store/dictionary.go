package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// dictZstdEncoder/dictZstdDecoder are the choke point every id2str write
// and read goes through, whether it arrives via Put (the transactional
// Writer path) or via a Bulk Loader shard built directly from
// compressDictValue (pkg/store/bulkloader.go): id2str is the only column
// family carrying non-empty values, so it's the one place compression
// earns its keep both on disk and in the Bulk Loader's in-flight shards.
// zstd.NewWriter/NewReader with nil options cannot fail; mirrors the
// pack's own pooled-encoder panic-on-err construction.
var (
	dictZstdEncoder = mustZstdEncoder()
	dictZstdDecoder = mustZstdDecoder()
)

func mustZstdEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("create zstd encoder: %v", err))
	}
	return enc
}

func mustZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("create zstd decoder: %v", err))
	}
	return dec
}

// compressDictValue zstd-compresses a dictionary payload before it is
// written to id2str.
func compressDictValue(b []byte) []byte {
	return dictZstdEncoder.EncodeAll(b, make([]byte, 0, len(b)))
}

// decompressDictValue reverses compressDictValue. A failure here means
// the stored bytes aren't valid zstd output: corruption, not an I/O fault.
func decompressDictValue(b []byte) ([]byte, error) {
	out, err := dictZstdDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, NewCorruptionError(fmt.Sprintf("zstd decompress dictionary value: %v", err))
	}
	return out, nil
}

// Dictionary resolves hash references produced by the term codec against
// the id2str column family. It is a thin wrapper over a Transaction so
// Reader and Writer can share the same put/get/contains semantics.
type Dictionary struct {
	txn Transaction
}

// NewDictionary wraps an existing transaction for dictionary access.
func NewDictionary(txn Transaction) *Dictionary {
	return &Dictionary{txn: txn}
}

// Put stores bytes under hash h, idempotently. Returns an error only on
// a genuine backend fault or a hash collision between distinct strings
// (reported as KindCorruption, per §4.6's failure mode for interning).
func (d *Dictionary) Put(h, bytes []byte) error {
	existing, err := d.txn.Get(TableID2Str, h)
	if err == nil {
		decoded, derr := decompressDictValue(existing)
		if derr != nil {
			return derr
		}
		if stringsEqual(decoded, bytes) {
			return nil
		}
		return NewCorruptionError("dictionary hash collision between distinct strings")
	}
	if err != ErrNotFound {
		return NewIOError("dictionary get", err)
	}
	if err := d.txn.Set(TableID2Str, h, compressDictValue(bytes)); err != nil {
		return NewIOError("dictionary set", err)
	}
	return nil
}

// Get returns the bytes stored under hash h, or ErrNotFound.
func (d *Dictionary) Get(h []byte) ([]byte, error) {
	raw, err := d.txn.Get(TableID2Str, h)
	if err != nil {
		return nil, err
	}
	return decompressDictValue(raw)
}

// Contains reports whether hash h has a dictionary entry.
func (d *Dictionary) Contains(h []byte) (bool, error) {
	_, err := d.txn.Get(TableID2Str, h)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, NewIOError("dictionary contains", err)
	}
	return true, nil
}

func stringsEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
