package store_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nqkv/quadstore/pkg/rdf"
	"github.com/nqkv/quadstore/pkg/store"
)

// sliceSource adapts a plain slice of quads to store.QuadSource.
type sliceSource struct {
	quads []*rdf.Quad
	pos   int
}

func (s *sliceSource) Next() (*rdf.Quad, error) {
	if s.pos >= len(s.quads) {
		return nil, io.EOF
	}
	q := s.quads[s.pos]
	s.pos++
	return q, nil
}

func generateQuads(n int, graph func(i int) rdf.Term) []*rdf.Quad {
	quads := make([]*rdf.Quad, n)
	for i := 0; i < n; i++ {
		quads[i] = rdf.NewQuad(
			rdf.NewNamedNode("http://ex/s"),
			rdf.NewNamedNode("http://ex/p"),
			rdf.NewIntegerLiteral(int64(i)),
			graph(i),
		)
	}
	return quads
}

// TestBulkLoaderEquivalentToOneByOneInsert covers property P5: loading a
// batch through the Bulk Loader produces the same Reader-visible result
// as inserting the same quads one at a time through a Writer.
func TestBulkLoaderEquivalentToOneByOneInsert(t *testing.T) {
	quads := generateQuads(500, func(i int) rdf.Term {
		if i%3 == 0 {
			return rdf.NewNamedNode("http://ex/g1")
		}
		return rdf.NewDefaultGraph()
	})

	bulkQS := mustOpen(t)
	var progressed int64
	err := bulkQS.BulkLoader().
		WithWorkers(4).
		WithBatchSize(64).
		WithProgressCallback(func(n int64) { progressed = n }).
		Load(&sliceSource{quads: quads})
	require.NoError(t, err)
	assert.EqualValues(t, len(quads), progressed)

	onebyoneQS := mustOpen(t)
	w, err := onebyoneQS.StartTransaction()
	require.NoError(t, err)
	for _, q := range quads {
		_, err := w.Insert(q)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())

	bulkReader, err := bulkQS.Snapshot()
	require.NoError(t, err)
	defer bulkReader.Close()
	onebyoneReader, err := onebyoneQS.Snapshot()
	require.NoError(t, err)
	defer onebyoneReader.Close()

	bulkLen, err := bulkReader.Len()
	require.NoError(t, err)
	onebyoneLen, err := onebyoneReader.Len()
	require.NoError(t, err)
	assert.Equal(t, onebyoneLen, bulkLen)

	for _, q := range quads {
		bulkHas, err := bulkReader.Contains(q)
		require.NoError(t, err)
		assert.True(t, bulkHas)
	}

	bulkHasGraph, err := bulkReader.ContainsNamedGraph(rdf.NewNamedNode("http://ex/g1"))
	require.NoError(t, err)
	assert.True(t, bulkHasGraph)
}

// TestBulkLoaderRejectsTooFewWorkers covers the §7 contract-violation
// category: fewer than the minimum worker count fails fast without
// touching storage.
func TestBulkLoaderRejectsTooFewWorkers(t *testing.T) {
	qs := mustOpen(t)
	err := qs.BulkLoader().WithWorkers(1).Load(&sliceSource{quads: generateQuads(10, func(int) rdf.Term { return rdf.NewDefaultGraph() })})
	require.Error(t, err)

	var loaderErr *store.LoaderError
	require.ErrorAs(t, err, &loaderErr)
}

// TestBulkLoaderDefaultGraphQuadStaysOnDefaultPath is a guard against a
// regression of §4.7's corruption check: a quad whose graph is the
// default-graph marker must load through the default-graph tables, never
// the named-graph path (where it would trip the marker-on-named-path
// corruption guard in ingestBatch).
func TestBulkLoaderDefaultGraphQuadStaysOnDefaultPath(t *testing.T) {
	qs := mustOpen(t)

	q := &rdf.Quad{
		Subject:   rdf.NewNamedNode("http://ex/s"),
		Predicate: rdf.NewNamedNode("http://ex/p"),
		Object:    rdf.NewLiteral("o"),
		Graph:     rdf.NewDefaultGraph(),
	}
	err := qs.BulkLoader().WithWorkers(2).Load(&sliceSource{quads: []*rdf.Quad{q}})
	require.NoError(t, err)

	reader, err := qs.Snapshot()
	require.NoError(t, err)
	defer reader.Close()
	n, err := reader.Len()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	contains, err := reader.Contains(q)
	require.NoError(t, err)
	assert.True(t, contains)
}

// TestBulkLoaderCancelsOnFirstError covers §5 Cancellation: a read error
// mid-stream is reported with the quad position it occurred at.
func TestBulkLoaderCancelsOnFirstError(t *testing.T) {
	qs := mustOpen(t)

	failSource := &failingSource{
		good: generateQuads(5, func(int) rdf.Term { return rdf.NewDefaultGraph() }),
	}
	err := qs.BulkLoader().WithWorkers(2).WithBatchSize(2).Load(failSource)
	require.Error(t, err)

	var loaderErr *store.LoaderError
	require.ErrorAs(t, err, &loaderErr)
	assert.GreaterOrEqual(t, loaderErr.Position, int64(0))
}

type failingSource struct {
	good []*rdf.Quad
	pos  int
}

func (f *failingSource) Next() (*rdf.Quad, error) {
	if f.pos >= len(f.good) {
		return nil, assert.AnError
	}
	q := f.good[f.pos]
	f.pos++
	return q, nil
}
