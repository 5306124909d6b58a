package store

import (
	"fmt"

	"github.com/nqkv/quadstore/pkg/rdf"
)

// Writer is a transactional mutator: every Insert/Remove/Clear* call
// before Commit buffers into the same backend transaction. Either
// Commit succeeds and every mutation is durable (subject to Flush), or
// the whole transaction is discarded — the Writer never reports partial
// success.
type Writer struct {
	txn     Transaction
	encoder TermEncoder
	decoder TermDecoder
	done    bool
}

// NewWriter wraps a writable transaction. Callers normally obtain one via
// QuadStore.StartTransaction rather than directly.
func NewWriter(txn Transaction, encoder TermEncoder, decoder TermDecoder) *Writer {
	return &Writer{txn: txn, encoder: encoder, decoder: decoder}
}

// Insert encodes quad, probes its primary index under Badger's
// optimistic read-for-update conflict tracking, and — if absent — writes
// it into every permutation for its graph kind plus interns its string
// components. Returns true iff the quad was not already present.
func (w *Writer) Insert(quad *rdf.Quad) (bool, error) {
	subjEnc, subjStr, err := w.encoder.EncodeTerm(quad.Subject)
	if err != nil {
		return false, fmt.Errorf("encode subject: %w", err)
	}
	predEnc, predStr, err := w.encoder.EncodeTerm(quad.Predicate)
	if err != nil {
		return false, fmt.Errorf("encode predicate: %w", err)
	}
	objEnc, objStr, err := w.encoder.EncodeTerm(quad.Object)
	if err != nil {
		return false, fmt.Errorf("encode object: %w", err)
	}

	isDefault := quad.Graph == nil || quad.Graph.Type() == rdf.TermTypeDefaultGraph

	if isDefault {
		key := w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc)
		if _, err := w.txn.Get(TableDSPO, key); err == nil {
			return false, nil
		} else if err != ErrNotFound {
			return false, NewIOError("probe dspo", err)
		}

		if err := w.setEmpty(TableDSPO, w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc)); err != nil {
			return false, err
		}
		if err := w.setEmpty(TableDPOS, w.encoder.EncodeQuadKey(predEnc, objEnc, subjEnc)); err != nil {
			return false, err
		}
		if err := w.setEmpty(TableDOSP, w.encoder.EncodeQuadKey(objEnc, subjEnc, predEnc)); err != nil {
			return false, err
		}

		if err := w.intern(subjEnc, subjStr); err != nil {
			return false, err
		}
		if err := w.intern(predEnc, predStr); err != nil {
			return false, err
		}
		if err := w.intern(objEnc, objStr); err != nil {
			return false, err
		}
		return true, nil
	}

	graphEnc, graphStr, err := w.encoder.EncodeTerm(quad.Graph)
	if err != nil {
		return false, fmt.Errorf("encode graph: %w", err)
	}

	key := w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc)
	if _, err := w.txn.Get(TableSPOG, key); err == nil {
		return false, nil
	} else if err != ErrNotFound {
		return false, NewIOError("probe spog", err)
	}

	if err := w.setEmpty(TableSPOG, w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.setEmpty(TablePOSG, w.encoder.EncodeQuadKey(predEnc, objEnc, subjEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.setEmpty(TableOSPG, w.encoder.EncodeQuadKey(objEnc, subjEnc, predEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.setEmpty(TableGSPO, w.encoder.EncodeQuadKey(graphEnc, subjEnc, predEnc, objEnc)); err != nil {
		return false, err
	}
	if err := w.setEmpty(TableGPOS, w.encoder.EncodeQuadKey(graphEnc, predEnc, objEnc, subjEnc)); err != nil {
		return false, err
	}
	if err := w.setEmpty(TableGOSP, w.encoder.EncodeQuadKey(graphEnc, objEnc, subjEnc, predEnc)); err != nil {
		return false, err
	}

	if err := w.intern(subjEnc, subjStr); err != nil {
		return false, err
	}
	if err := w.intern(predEnc, predStr); err != nil {
		return false, err
	}
	if err := w.intern(objEnc, objStr); err != nil {
		return false, err
	}

	if _, err := w.txn.Get(TableGraphs, graphEnc[:]); err == ErrNotFound {
		if err := w.setEmpty(TableGraphs, graphEnc[:]); err != nil {
			return false, err
		}
		if err := w.intern(graphEnc, graphStr); err != nil {
			return false, err
		}
	} else if err != nil {
		return false, NewIOError("probe graphs", err)
	}

	return true, nil
}

// Remove deletes quad from every permutation for its graph kind. It does
// not remove the graph name from graphs — graph names have an
// independent lifecycle (§4.6).
func (w *Writer) Remove(quad *rdf.Quad) (bool, error) {
	subjEnc, _, err := w.encoder.EncodeTerm(quad.Subject)
	if err != nil {
		return false, err
	}
	predEnc, _, err := w.encoder.EncodeTerm(quad.Predicate)
	if err != nil {
		return false, err
	}
	objEnc, _, err := w.encoder.EncodeTerm(quad.Object)
	if err != nil {
		return false, err
	}

	isDefault := quad.Graph == nil || quad.Graph.Type() == rdf.TermTypeDefaultGraph

	if isDefault {
		key := w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc)
		if _, err := w.txn.Get(TableDSPO, key); err == ErrNotFound {
			return false, nil
		} else if err != nil {
			return false, NewIOError("probe dspo", err)
		}
		if err := w.delete(TableDSPO, w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc)); err != nil {
			return false, err
		}
		if err := w.delete(TableDPOS, w.encoder.EncodeQuadKey(predEnc, objEnc, subjEnc)); err != nil {
			return false, err
		}
		if err := w.delete(TableDOSP, w.encoder.EncodeQuadKey(objEnc, subjEnc, predEnc)); err != nil {
			return false, err
		}
		return true, nil
	}

	graphEnc, _, err := w.encoder.EncodeTerm(quad.Graph)
	if err != nil {
		return false, err
	}
	key := w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc)
	if _, err := w.txn.Get(TableSPOG, key); err == ErrNotFound {
		return false, nil
	} else if err != nil {
		return false, NewIOError("probe spog", err)
	}

	if err := w.delete(TableSPOG, w.encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.delete(TablePOSG, w.encoder.EncodeQuadKey(predEnc, objEnc, subjEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.delete(TableOSPG, w.encoder.EncodeQuadKey(objEnc, subjEnc, predEnc, graphEnc)); err != nil {
		return false, err
	}
	if err := w.delete(TableGSPO, w.encoder.EncodeQuadKey(graphEnc, subjEnc, predEnc, objEnc)); err != nil {
		return false, err
	}
	if err := w.delete(TableGPOS, w.encoder.EncodeQuadKey(graphEnc, predEnc, objEnc, subjEnc)); err != nil {
		return false, err
	}
	if err := w.delete(TableGOSP, w.encoder.EncodeQuadKey(graphEnc, objEnc, subjEnc, predEnc)); err != nil {
		return false, err
	}
	return true, nil
}

// InsertNamedGraph adds g to the graphs set if absent. Returns whether
// it was added.
func (w *Writer) InsertNamedGraph(g rdf.Term) (bool, error) {
	enc, str, err := w.encoder.EncodeTerm(g)
	if err != nil {
		return false, err
	}
	if _, err := w.txn.Get(TableGraphs, enc[:]); err == nil {
		return false, nil
	} else if err != ErrNotFound {
		return false, NewIOError("probe graphs", err)
	}
	if err := w.setEmpty(TableGraphs, enc[:]); err != nil {
		return false, err
	}
	if err := w.intern(enc, str); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveNamedGraph deletes every quad in graph g (via a gspo prefix
// scan), then removes g from graphs. Returns whether g had been present.
func (w *Writer) RemoveNamedGraph(g rdf.Term) (bool, error) {
	existed, err := w.clearGraphQuads(g)
	if err != nil {
		return false, err
	}
	enc, _, err := w.encoder.EncodeTerm(g)
	if err != nil {
		return false, err
	}
	if err := w.delete(TableGraphs, enc[:]); err != nil {
		return false, err
	}
	return existed, nil
}

// ClearGraph behaves like RemoveNamedGraph but leaves g in graphs.
func (w *Writer) ClearGraph(g rdf.Term) error {
	_, err := w.clearGraphQuads(g)
	return err
}

// clearGraphQuads removes every quad in graph g without touching the
// graphs set; returns whether g had any entry in graphs.
func (w *Writer) clearGraphQuads(g rdf.Term) (bool, error) {
	enc, _, err := w.encoder.EncodeTerm(g)
	if err != nil {
		return false, err
	}
	_, err = w.txn.Get(TableGraphs, enc[:])
	existed := err == nil
	if err != nil && err != ErrNotFound {
		return false, NewIOError("probe graphs", err)
	}

	it, err := dispatch(w.txn, w.encoder, w.decoder, &Pattern{Graph: Named(g)})
	if err != nil {
		return existed, err
	}
	defer it.Close()

	var quads []*rdf.Quad
	for it.Next() {
		q, err := it.Quad()
		if err != nil {
			return existed, err
		}
		quads = append(quads, q)
	}

	for _, q := range quads {
		if _, err := w.Remove(q); err != nil {
			return existed, err
		}
	}
	return existed, nil
}

// ClearAllNamedGraphs removes every quad in every named graph, keeping
// every graph name in graphs.
func (w *Writer) ClearAllNamedGraphs() error {
	it, err := w.txn.Scan(TableGraphs, nil, nil)
	if err != nil {
		return NewIOError("scan graphs", err)
	}
	defer it.Close()

	var graphs []rdf.Term
	for it.Next() {
		key := it.Key()
		var enc EncodedTerm
		copy(enc[:], key)
		g, err := decodeStoredTerm(w.txn, w.decoder, enc)
		if err != nil {
			return err
		}
		graphs = append(graphs, g)
	}

	for _, g := range graphs {
		if err := w.ClearGraph(g); err != nil {
			return err
		}
	}
	return nil
}

// ClearAllGraphs removes every default-graph triple and every
// named-graph quad, keeping graph names and the dictionary intact.
func (w *Writer) ClearAllGraphs() error {
	it, err := dispatch(w.txn, w.encoder, w.decoder, &Pattern{Graph: Default()})
	if err != nil {
		return err
	}
	var quads []*rdf.Quad
	for it.Next() {
		q, qerr := it.Quad()
		if qerr != nil {
			_ = it.Close()
			return qerr
		}
		quads = append(quads, q)
	}
	_ = it.Close()

	for _, q := range quads {
		if _, err := w.Remove(q); err != nil {
			return err
		}
	}

	return w.ClearAllNamedGraphs()
}

// Clear removes every quad and every entry in graphs. The dictionary is
// append-only and is never touched by Clear (§3 Lifecycle).
func (w *Writer) Clear() error {
	if err := w.ClearAllGraphs(); err != nil {
		return err
	}
	it, err := w.txn.Scan(TableGraphs, nil, nil)
	if err != nil {
		return NewIOError("scan graphs", err)
	}
	var keys [][]byte
	for it.Next() {
		k := append([]byte{}, it.Key()...)
		keys = append(keys, k)
	}
	_ = it.Close()
	for _, k := range keys {
		if err := w.delete(TableGraphs, k); err != nil {
			return err
		}
	}
	return nil
}

// Commit durably applies every buffered mutation, atomically.
func (w *Writer) Commit() error {
	if w.done {
		return fmt.Errorf("writer already finished")
	}
	w.done = true
	if err := w.txn.Commit(); err != nil {
		return NewIOError("commit", err)
	}
	return nil
}

// Rollback discards every buffered mutation.
func (w *Writer) Rollback() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.txn.Rollback()
}

func (w *Writer) setEmpty(table Table, key []byte) error {
	if err := w.txn.Set(table, key, []byte{}); err != nil {
		return NewIOError("set "+table.String(), err)
	}
	return nil
}

func (w *Writer) delete(table Table, key []byte) error {
	if err := w.txn.Delete(table, key); err != nil {
		return NewIOError("delete "+table.String(), err)
	}
	return nil
}

// intern stores str under encoded's hash/data portion in id2str, if the
// codec produced one.
func (w *Writer) intern(encoded EncodedTerm, str *string) error {
	if str == nil {
		return nil
	}
	dict := NewDictionary(w.txn)
	if err := dict.Put(encoded[1:], []byte(*str)); err != nil {
		return err
	}
	return nil
}
