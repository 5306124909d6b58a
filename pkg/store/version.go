package store

import "encoding/binary"

// LatestStorageVersion is the on-disk format version this implementation
// writes and the only one it will open.
const LatestStorageVersion uint32 = 1

// ReadVersion returns the persisted storage-format version, or
// (0, ErrNotFound) for a freshly created store that has never been
// stamped.
func ReadVersion(txn Transaction) (uint32, error) {
	raw, err := txn.Get(TableVersion, []byte("version"))
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, NewCorruptionError("invalid storage version")
	}
	return binary.BigEndian.Uint32(raw), nil
}

// WriteVersion stamps the store with LatestStorageVersion. Called once,
// the first time a directory is opened read-write.
func WriteVersion(txn Transaction) error {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, LatestStorageVersion)
	return txn.Set(TableVersion, []byte("version"), buf)
}

// CheckVersion enforces invariant 6: the store refuses to open unless the
// persisted version matches LatestStorageVersion exactly.
func CheckVersion(txn Transaction) error {
	v, err := ReadVersion(txn)
	if err == ErrNotFound {
		return WriteVersion(txn)
	}
	if err != nil {
		return err
	}
	if v != LatestStorageVersion {
		return NewCorruptionError("invalid storage version")
	}
	return nil
}
