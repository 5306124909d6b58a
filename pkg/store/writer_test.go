package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqkv/quadstore/internal/encoding"
	"github.com/nqkv/quadstore/internal/storage"
	"github.com/nqkv/quadstore/pkg/rdf"
	"github.com/nqkv/quadstore/pkg/store"
)

func mustOpen(t *testing.T) *store.QuadStore {
	t.Helper()
	qs, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = qs.Close() })
	return qs
}

func sampleQuad(s, p, o string, g rdf.Term) *rdf.Quad {
	return rdf.NewQuad(rdf.NewNamedNode(s), rdf.NewNamedNode(p), rdf.NewLiteral(o), g)
}

// TestWriterInsertIdempotent covers property P3: inserting the same quad
// twice within independent transactions leaves exactly one copy behind,
// and the second Insert reports it was already present.
func TestWriterInsertIdempotent(t *testing.T) {
	qs := mustOpen(t)
	q := sampleQuad("http://ex/a", "http://ex/p", "v1", rdf.NewDefaultGraph())

	w1, err := qs.StartTransaction()
	require.NoError(t, err)
	inserted, err := w1.Insert(q)
	require.NoError(t, err)
	assert.True(t, inserted)
	require.NoError(t, w1.Commit())

	w2, err := qs.StartTransaction()
	require.NoError(t, err)
	inserted, err = w2.Insert(q)
	require.NoError(t, err)
	assert.False(t, inserted, "second insert of an identical quad must report no-op")
	require.NoError(t, w2.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader.Close()

	n, err := reader.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

// TestWriterIndexConsistency checks that after a commit a default-graph
// and a named-graph quad are both found through their primary index
// (dspo/spog), the named quad's graph is registered in graphs, and Len
// counts both.
func TestWriterIndexConsistency(t *testing.T) {
	qs := mustOpen(t)

	defaultQuad := sampleQuad("http://ex/s1", "http://ex/p1", "o1", rdf.NewDefaultGraph())
	namedQuad := sampleQuad("http://ex/s2", "http://ex/p2", "o2", rdf.NewNamedNode("http://ex/g1"))

	w, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w.Insert(defaultQuad)
	require.NoError(t, err)
	_, err = w.Insert(namedQuad)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader.Close()

	ok, err := reader.Contains(defaultQuad)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reader.Contains(namedQuad)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = reader.ContainsNamedGraph(rdf.NewNamedNode("http://ex/g1"))
	require.NoError(t, err)
	assert.True(t, ok, "inserting a named-graph quad must register its graph in the graphs set")

	n, err := reader.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

// TestWriterRemoveThenRoundtrip checks that removing a committed
// default-graph quad leaves the store empty (dspo and spog) and the quad
// no longer found through dspo.
func TestWriterRemoveThenRoundtrip(t *testing.T) {
	qs := mustOpen(t)
	q := sampleQuad("http://ex/s", "http://ex/p", "o", rdf.NewDefaultGraph())

	w, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w.Insert(q)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	w2, err := qs.StartTransaction()
	require.NoError(t, err)
	removed, err := w2.Remove(q)
	require.NoError(t, err)
	assert.True(t, removed)
	require.NoError(t, w2.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader.Close()

	empty, err := reader.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)

	ok, err := reader.Contains(q)
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestClearGraphKeepsGraphName covers §4.6: ClearGraph empties a named
// graph's quads but leaves its entry in the graphs set, while
// RemoveNamedGraph removes both.
func TestClearGraphKeepsGraphName(t *testing.T) {
	qs := mustOpen(t)
	g := rdf.NewNamedNode("http://ex/g1")
	q := sampleQuad("http://ex/s", "http://ex/p", "o", g)

	w, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w.Insert(q)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	w2, err := qs.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, w2.ClearGraph(g))
	require.NoError(t, w2.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	ok, err := reader.ContainsNamedGraph(g)
	require.NoError(t, err)
	assert.True(t, ok, "ClearGraph must not remove the graph name itself")
	n, err := reader.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
	reader.Close()

	w3, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w3.Insert(q)
	require.NoError(t, err)
	existed, err := w3.RemoveNamedGraph(g)
	require.NoError(t, err)
	assert.True(t, existed)
	require.NoError(t, w3.Commit())

	reader2, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader2.Close()
	ok, err = reader2.ContainsNamedGraph(g)
	require.NoError(t, err)
	assert.False(t, ok, "RemoveNamedGraph must drop the graph name")
}

// TestClearPreservesDictionary covers §3 Lifecycle: Clear wipes every
// quad and graph but the dictionary is append-only and survives.
func TestClearPreservesDictionary(t *testing.T) {
	dir := t.TempDir()
	qs, err := store.Open(dir)
	require.NoError(t, err)
	subject := "http://ex/subject-with-a-long-iri-to-force-hash-referencing-in-the-dictionary"
	q := sampleQuad(subject, "http://ex/p", "o", rdf.NewDefaultGraph())

	w, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w.Insert(q)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	w2, err := qs.StartTransaction()
	require.NoError(t, err)
	require.NoError(t, w2.Clear())
	require.NoError(t, w2.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	empty, err := reader.IsEmpty()
	require.NoError(t, err)
	assert.True(t, empty)
	require.NoError(t, reader.Close())
	require.NoError(t, qs.Close())

	bs, err := storage.NewBadgerStorage(dir)
	require.NoError(t, err)
	defer bs.Close()
	txn, err := bs.Begin(false)
	require.NoError(t, err)
	defer txn.Rollback()
	h := encoding.NewTermEncoder().Hash128(subject)
	kept, err := store.NewDictionary(txn).Contains(h[:])
	require.NoError(t, err)
	assert.True(t, kept, "Clear must leave the subject's dictionary entry in place")
}

// TestPatternDispatchAllBoundCombinations exercises the full 2^3 bound
// combination space for default-graph patterns, plus a sample of
// specific-named, any-named and union patterns, confirming the dispatcher
// returns exactly the matching quads for each (§4.5 coverage, property P4).
func TestPatternDispatchAllBoundCombinations(t *testing.T) {
	qs := mustOpen(t)

	s := rdf.NewNamedNode("http://ex/s")
	p := rdf.NewNamedNode("http://ex/p")
	o := rdf.NewLiteral("o")
	g := rdf.NewNamedNode("http://ex/g")

	defaultQuad := rdf.NewQuad(s, p, o, rdf.NewDefaultGraph())
	namedQuad := rdf.NewQuad(s, p, o, g)
	decoyQuad := rdf.NewQuad(rdf.NewNamedNode("http://ex/other"), p, o, rdf.NewDefaultGraph())

	w, err := qs.StartTransaction()
	require.NoError(t, err)
	_, err = w.Insert(defaultQuad)
	require.NoError(t, err)
	_, err = w.Insert(namedQuad)
	require.NoError(t, err)
	_, err = w.Insert(decoyQuad)
	require.NoError(t, err)
	require.NoError(t, w.Commit())

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader.Close()

	countMatches := func(pattern *store.Pattern) int {
		it, err := reader.QuadsForPattern(pattern)
		require.NoError(t, err)
		defer it.Close()
		n := 0
		for it.Next() {
			_, err := it.Quad()
			require.NoError(t, err)
			n++
		}
		return n
	}

	cases := []struct {
		name    string
		pattern *store.Pattern
		want    int
	}{
		{"default:spo-bound", &store.Pattern{Subject: s, Predicate: p, Object: o, Graph: store.Default()}, 1},
		{"default:sp-bound", &store.Pattern{Subject: s, Predicate: p, Graph: store.Default()}, 1},
		{"default:po-bound", &store.Pattern{Predicate: p, Object: o, Graph: store.Default()}, 2},
		{"default:os-bound", &store.Pattern{Object: o, Subject: s, Graph: store.Default()}, 1},
		{"default:s-bound", &store.Pattern{Subject: s, Graph: store.Default()}, 1},
		{"default:p-bound", &store.Pattern{Predicate: p, Graph: store.Default()}, 2},
		{"default:o-bound", &store.Pattern{Object: o, Graph: store.Default()}, 2},
		{"default:unbound", &store.Pattern{Graph: store.Default()}, 2},
		{"named-specific:spo-bound", &store.Pattern{Subject: s, Predicate: p, Object: o, Graph: store.Named(g)}, 1},
		{"named-specific:unbound", &store.Pattern{Graph: store.Named(g)}, 1},
		{"any-named:sp-bound", &store.Pattern{Subject: s, Predicate: p, Graph: store.AnyNamed()}, 1},
		{"any-named:unbound", &store.Pattern{Graph: store.AnyNamed()}, 1},
		{"union:unbound", &store.Pattern{Graph: store.Union()}, 3},
		{"union:s-bound", &store.Pattern{Subject: s, Graph: store.Union()}, 2},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, countMatches(c.pattern), c.name)
		})
	}
}

// TestOpenRejectsFutureStorageVersion covers invariant 6: a directory
// stamped with any version other than the latest is refused.
func TestOpenRejectsFutureStorageVersion(t *testing.T) {
	dir := t.TempDir()
	bs, err := storage.NewBadgerStorage(dir)
	require.NoError(t, err)

	txn, err := bs.Begin(true)
	require.NoError(t, err)
	require.NoError(t, store.WriteVersion(txn))
	require.NoError(t, txn.Commit())
	require.NoError(t, bs.Close())

	qs, err := store.Open(dir)
	assert.NoError(t, err, "stamping at the current latest version must still open cleanly")
	if qs != nil {
		require.NoError(t, qs.Close())
	}

	// Corrupt the stamp to a version this build doesn't understand.
	bs2, err := storage.NewBadgerStorage(dir)
	require.NoError(t, err)
	txn2, err := bs2.Begin(true)
	require.NoError(t, err)
	buf := make([]byte, 4)
	buf[3] = byte(store.LatestStorageVersion) + 1
	require.NoError(t, txn2.Set(store.TableVersion, []byte("version"), buf))
	require.NoError(t, txn2.Commit())
	require.NoError(t, bs2.Close())

	_, err = store.Open(dir)
	assert.Error(t, err, "a mismatched storage version must be rejected")
}
