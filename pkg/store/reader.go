package store

import "github.com/nqkv/quadstore/pkg/rdf"

// Reader is the extension point §9 designates: anything implementing it
// — the native multi-index backend below, or an alternate backend that
// synthesizes quads from some other graph structure — can serve reads.
type Reader interface {
	Len() (int64, error)
	IsEmpty() (bool, error)
	Contains(quad *rdf.Quad) (bool, error)
	ContainsNamedGraph(graph rdf.Term) (bool, error)
	NamedGraphs() (GraphIterator, error)
	QuadsForPattern(pattern *Pattern) (QuadIterator, error)
	Close() error
}

// StoreReader is a point-in-time snapshot over the multi-index Index
// Set. Concurrent writers never perturb an outstanding StoreReader; two
// StoreReaders taken in sequence may see different data.
type StoreReader struct {
	txn     Transaction
	encoder TermEncoder
	decoder TermDecoder
	closed  bool
}

// NewStoreReader wraps a read-only transaction as a Reader. Callers
// normally obtain one via QuadStore.Snapshot rather than directly.
func NewStoreReader(txn Transaction, encoder TermEncoder, decoder TermDecoder) *StoreReader {
	return &StoreReader{txn: txn, encoder: encoder, decoder: decoder}
}

// Len is the sum of sizes of dspo and spog — the two indexes that each
// carry exactly one entry per committed quad (invariants 1 and 2).
func (r *StoreReader) Len() (int64, error) {
	defaultCount, err := r.countTable(TableDSPO)
	if err != nil {
		return 0, err
	}
	namedCount, err := r.countTable(TableSPOG)
	if err != nil {
		return 0, err
	}
	return defaultCount + namedCount, nil
}

func (r *StoreReader) countTable(table Table) (int64, error) {
	it, err := r.txn.Scan(table, nil, nil)
	if err != nil {
		return 0, NewIOError("scan "+table.String(), err)
	}
	defer it.Close()

	var n int64
	for it.Next() {
		n++
	}
	return n, nil
}

// IsEmpty is a quick check equivalent to Len() == 0, short-circuiting on
// the first entry found in either table.
func (r *StoreReader) IsEmpty() (bool, error) {
	for _, table := range []Table{TableDSPO, TableSPOG} {
		it, err := r.txn.Scan(table, nil, nil)
		if err != nil {
			return false, NewIOError("scan "+table.String(), err)
		}
		hasAny := it.Next()
		_ = it.Close()
		if hasAny {
			return false, nil
		}
	}
	return true, nil
}

// Contains looks the quad up by its primary index (dspo for the default
// graph, spog otherwise) — any single permutation suffices per
// invariants 1/2.
func (r *StoreReader) Contains(quad *rdf.Quad) (bool, error) {
	subjEnc, _, err := r.encoder.EncodeTerm(quad.Subject)
	if err != nil {
		return false, err
	}
	predEnc, _, err := r.encoder.EncodeTerm(quad.Predicate)
	if err != nil {
		return false, err
	}
	objEnc, _, err := r.encoder.EncodeTerm(quad.Object)
	if err != nil {
		return false, err
	}

	isDefault := quad.Graph == nil || quad.Graph.Type() == rdf.TermTypeDefaultGraph
	if isDefault {
		key := r.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc)
		_, err := r.txn.Get(TableDSPO, key)
		if err == ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, NewIOError("get dspo", err)
		}
		return true, nil
	}

	graphEnc, _, err := r.encoder.EncodeTerm(quad.Graph)
	if err != nil {
		return false, err
	}
	key := r.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc)
	_, err = r.txn.Get(TableSPOG, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, NewIOError("get spog", err)
	}
	return true, nil
}

// ContainsNamedGraph reports whether g is tracked in the graphs set.
func (r *StoreReader) ContainsNamedGraph(g rdf.Term) (bool, error) {
	enc, _, err := r.encoder.EncodeTerm(g)
	if err != nil {
		return false, err
	}
	_, err = r.txn.Get(TableGraphs, enc[:])
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, NewIOError("get graphs", err)
	}
	return true, nil
}

// NamedGraphs scans the graphs set.
func (r *StoreReader) NamedGraphs() (GraphIterator, error) {
	it, err := r.txn.Scan(TableGraphs, nil, nil)
	if err != nil {
		return nil, NewIOError("scan graphs", err)
	}
	return &graphScan{txn: r.txn, decoder: r.decoder, it: it}, nil
}

// QuadsForPattern delegates to the Pattern Dispatcher.
func (r *StoreReader) QuadsForPattern(pattern *Pattern) (QuadIterator, error) {
	return dispatch(r.txn, r.encoder, r.decoder, pattern)
}

// Close discards the underlying snapshot transaction.
func (r *StoreReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.txn.Rollback()
}

type graphScan struct {
	txn     Transaction
	decoder TermDecoder
	it      Iterator
	closed  bool
}

func (g *graphScan) Next() bool {
	if g.closed {
		return false
	}
	return g.it.Next()
}

func (g *graphScan) Graph() (rdf.Term, error) {
	key := g.it.Key()
	if len(key) != WrittenTermMaxSize {
		return nil, NewCorruptionError("invalid graph key length")
	}
	var encoded EncodedTerm
	copy(encoded[:], key)
	return decodeStoredTerm(g.txn, g.decoder, encoded)
}

func (g *graphScan) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	return g.it.Close()
}
