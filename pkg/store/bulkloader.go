package store

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nqkv/quadstore/pkg/rdf"
)

// defaultTotalBudgetQuads is the default max-memory-budget, expressed in
// quads, that a BulkLoaderBuilder divides across its worker count to get
// a per-batch target (§4.7 Configuration).
const defaultTotalBudgetQuads = 1_000_000

// minBulkWorkers is the contract-violation floor (§7 category 3).
const minBulkWorkers = 2

// ProgressFunc is invoked with a monotonically nondecreasing count of
// quads ingested so far. Callers wanting structured logging attach their
// own logger here; the core itself never logs (see SPEC_FULL.md).
type ProgressFunc func(ingested int64)

// QuadSource is a possibly-fallible pull sequence of quads. Next returns
// io.EOF once the source is exhausted.
type QuadSource interface {
	Next() (*rdf.Quad, error)
}

// BulkLoaderBuilder configures and runs a parallel bulk-ingestion
// pipeline against a QuadStore, per spec.md §4.7.
type BulkLoaderBuilder struct {
	qs         *QuadStore
	workers    int
	batchQuads int
	progress   ProgressFunc
}

func newBulkLoaderBuilder(qs *QuadStore) *BulkLoaderBuilder {
	return &BulkLoaderBuilder{qs: qs, workers: minBulkWorkers}
}

// WithWorkers sets the worker pool size. Values below minBulkWorkers are
// rejected at Load time as a contract violation.
func (b *BulkLoaderBuilder) WithWorkers(n int) *BulkLoaderBuilder {
	b.workers = n
	return b
}

// WithBatchSize overrides the per-worker batch target in quads. Zero or
// negative falls back to defaultTotalBudgetQuads / workers.
func (b *BulkLoaderBuilder) WithBatchSize(quads int) *BulkLoaderBuilder {
	b.batchQuads = quads
	return b
}

// WithProgressCallback attaches fn, invoked at a coarse cadence (once per
// batch ingested) with the running total.
func (b *BulkLoaderBuilder) WithProgressCallback(fn ProgressFunc) *BulkLoaderBuilder {
	b.progress = fn
	return b
}

func (b *BulkLoaderBuilder) batchTarget() int {
	if b.batchQuads > 0 {
		return b.batchQuads
	}
	n := defaultTotalBudgetQuads / b.workers
	if n < 1 {
		n = 1
	}
	return n
}

// Load drains source to completion, batching, encoding, and ingesting
// concurrently across the worker pool. It returns the first worker
// failure (cancel-on-first-error, §5 Cancellation); in-flight workers are
// awaited before returning, and any files they already ingested remain
// visible — partial effects are documented behavior, not rolled back.
func (b *BulkLoaderBuilder) Load(source QuadSource) error {
	if b.workers < minBulkWorkers {
		return &LoaderError{Err: NewOtherError(
			fmt.Sprintf("bulk loader requires at least %d workers, got %d (contract violation)", minBulkWorkers, b.workers), nil)}
	}

	target := b.batchTarget()
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(b.workers)

	var counter int64
	var counterMu sync.Mutex
	poisoned := false

	// bumpCounter fires the progress callback while still holding the
	// lock, so callbacks observe totals in increasing order.
	bumpCounter := func(n int64) error {
		counterMu.Lock()
		defer counterMu.Unlock()
		if poisoned {
			return NewIOError("bulk load progress counter poisoned by a panicked worker", nil)
		}
		counter += n
		if b.progress != nil {
			b.progress(counter)
		}
		return nil
	}

	var pos int64
	for {
		// A failed worker cancels ctx: stop handing out new batches.
		if ctx.Err() != nil {
			break
		}
		batch, readErr := b.nextBatch(source, target, &pos)
		if readErr != nil && readErr != io.EOF {
			_ = g.Wait()
			return &LoaderError{Position: pos, Err: NewIOError("read quad source", readErr)}
		}
		if len(batch) == 0 {
			break
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					counterMu.Lock()
					poisoned = true
					counterMu.Unlock()
					err = NewIOError(fmt.Sprintf("bulk loader worker panicked: %v", r), nil)
				}
			}()

			n, ierr := b.ingestBatch(batch)
			if ierr != nil {
				return ierr
			}
			return bumpCounter(n)
		})

		if readErr == io.EOF {
			break
		}
	}

	return g.Wait()
}

// nextBatch pulls up to target quads from source. It returns whatever it
// read together with the error (possibly io.EOF) that stopped it.
func (b *BulkLoaderBuilder) nextBatch(source QuadSource, target int, pos *int64) ([]*rdf.Quad, error) {
	batch := make([]*rdf.Quad, 0, target)
	for len(batch) < target {
		q, err := source.Next()
		if err != nil {
			return batch, err
		}
		batch = append(batch, q)
		*pos++
	}
	return batch, nil
}

// shardKey is a sortable (table, key) pair awaiting ingestion.
type shardKey struct {
	table Table
	key   []byte
}

// compositeKey builds a map key that dedupes on (table, key) together,
// since the same raw key bytes can legitimately recur across tables.
func compositeKey(table Table, key []byte) string {
	buf := make([]byte, 1+len(key))
	buf[0] = byte(table)
	copy(buf[1:], key)
	return string(buf)
}

// ingestBatch implements pipeline step 2-3: encode the batch into four
// in-memory structures (dictionary, default-graph quads, named-graph
// quads, graph names), sort each, and atomically ingest them.
func (b *BulkLoaderBuilder) ingestBatch(batch []*rdf.Quad) (int64, error) {
	encoder := b.qs.encoder

	dict := map[string][]byte{}           // hash bytes -> original string, deduped
	defaultKeys := map[string]shardKey{}  // dedup by composite (table, key)
	namedKeys := map[string]shardKey{}
	graphKeys := map[string]shardKey{}
	quadCount := 0 // one per distinct quad, not per index permutation

	addDict := func(enc EncodedTerm, str *string) {
		if str == nil {
			return
		}
		dict[string(enc[1:])] = []byte(*str)
	}

	for _, q := range batch {
		subjEnc, subjStr, err := encoder.EncodeTerm(q.Subject)
		if err != nil {
			return 0, NewIOError("encode subject", err)
		}
		predEnc, predStr, err := encoder.EncodeTerm(q.Predicate)
		if err != nil {
			return 0, NewIOError("encode predicate", err)
		}
		objEnc, objStr, err := encoder.EncodeTerm(q.Object)
		if err != nil {
			return 0, NewIOError("encode object", err)
		}

		isDefault := q.Graph == nil || q.Graph.Type() == rdf.TermTypeDefaultGraph

		if isDefault {
			primary := compositeKey(TableDSPO, encoder.EncodeQuadKey(subjEnc, predEnc, objEnc))
			if _, seen := defaultKeys[primary]; !seen {
				quadCount++
			}

			addDict(subjEnc, subjStr)
			addDict(predEnc, predStr)
			addDict(objEnc, objStr)

			for table, key := range map[Table][]byte{
				TableDSPO: encoder.EncodeQuadKey(subjEnc, predEnc, objEnc),
				TableDPOS: encoder.EncodeQuadKey(predEnc, objEnc, subjEnc),
				TableDOSP: encoder.EncodeQuadKey(objEnc, subjEnc, predEnc),
			} {
				defaultKeys[compositeKey(table, key)] = shardKey{table: table, key: key}
			}
			continue
		}

		graphEnc, graphStr, err := encoder.EncodeTerm(q.Graph)
		if err != nil {
			return 0, NewIOError("encode graph", err)
		}

		// Corruption check (§4.7): isDefault classified this quad as
		// named-graph based on q.Graph.Type(), but the codec's own
		// independent encoding of that same term disagrees and tags it as
		// the default-graph marker. A term whose logical type and wire
		// encoding diverge has no place on the named-graph path.
		if rdf.TermType(graphEnc[0]) == rdf.TermTypeDefaultGraph {
			return 0, NewCorruptionError("default-graph marker arrived on named-graph path")
		}

		primary := compositeKey(TableSPOG, encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc))
		if _, seen := namedKeys[primary]; !seen {
			quadCount++
		}

		addDict(subjEnc, subjStr)
		addDict(predEnc, predStr)
		addDict(objEnc, objStr)
		addDict(graphEnc, graphStr)

		for table, key := range map[Table][]byte{
			TableSPOG: encoder.EncodeQuadKey(subjEnc, predEnc, objEnc, graphEnc),
			TablePOSG: encoder.EncodeQuadKey(predEnc, objEnc, subjEnc, graphEnc),
			TableOSPG: encoder.EncodeQuadKey(objEnc, subjEnc, predEnc, graphEnc),
			TableGSPO: encoder.EncodeQuadKey(graphEnc, subjEnc, predEnc, objEnc),
			TableGPOS: encoder.EncodeQuadKey(graphEnc, predEnc, objEnc, subjEnc),
			TableGOSP: encoder.EncodeQuadKey(graphEnc, objEnc, subjEnc, predEnc),
		} {
			namedKeys[compositeKey(table, key)] = shardKey{table: table, key: key}
		}

		graphKeys[compositeKey(TableGraphs, graphEnc[:])] = shardKey{table: TableGraphs, key: append([]byte{}, graphEnc[:]...)}
	}

	entries := make([]BulkEntry, 0, len(defaultKeys)+len(namedKeys)+len(graphKeys)+len(dict))
	entries = appendSortedShard(entries, defaultKeys)
	entries = appendSortedShard(entries, namedKeys)
	entries = appendSortedShard(entries, graphKeys)

	dictKeys := make([]string, 0, len(dict))
	for h := range dict {
		dictKeys = append(dictKeys, h)
	}
	sort.Strings(dictKeys)
	for _, h := range dictKeys {
		// compressDictValue is the same choke point Dictionary.Put writes
		// through, so id2str never mixes compressed and raw bytes under
		// the same hash regardless of which path wrote them.
		entries = append(entries, BulkEntry{Table: TableID2Str, Key: []byte(h), Value: compressDictValue(dict[h])})
	}

	if err := b.qs.storage.IngestSorted(entries); err != nil {
		return 0, NewIOError("ingest sorted batch", err)
	}

	return int64(quadCount), nil
}

func appendSortedShard(entries []BulkEntry, shard map[string]shardKey) []BulkEntry {
	composite := make([]string, 0, len(shard))
	for k := range shard {
		composite = append(composite, k)
	}
	sort.Strings(composite)
	for _, k := range composite {
		sk := shard[k]
		entries = append(entries, BulkEntry{Table: sk.table, Key: sk.key, Value: []byte{}})
	}
	return entries
}
