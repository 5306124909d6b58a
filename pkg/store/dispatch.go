package store

import (
	"errors"
	"fmt"

	"github.com/nqkv/quadstore/pkg/rdf"
)

// errNoCurrentQuad distinguishes "Next returned false because the scan is
// exhausted" from "Next returned false because it hit a decode error",
// letting chainIterator tell the two apart via Quad after Next fails.
var errNoCurrentQuad = errors.New("no current quad; call Next first")

// QuadIterator is a lazy, suspend-between-fetches sequence of quads
// matching a Pattern; the full result set is never materialized. Next()
// reads index entries until it reaches one that passes the post-filter,
// so a single call may read more than one entry.
type QuadIterator interface {
	Next() bool
	Quad() (*rdf.Quad, error)
	Close() error
}

// GraphIterator is a lazy sequence of named-graph names (scans `graphs`).
type GraphIterator interface {
	Next() bool
	Graph() (rdf.Term, error)
	Close() error
}

// dispatch selects the tightest-prefix index for pattern, builds the scan
// key, and returns a decoding QuadIterator. txn may be a read-only
// snapshot (Reader) or a read-write transaction mid-mutation (Writer,
// e.g. RemoveNamedGraph's internal scan of gspo).
func dispatch(txn Transaction, encoder TermEncoder, decoder TermDecoder, pattern *Pattern) (QuadIterator, error) {
	switch pattern.Graph.Kind {
	case GraphDefault:
		table, keyPattern := selectDefaultIndex(pattern)
		return newIndexScan(txn, encoder, decoder, table, keyPattern, pattern)

	case GraphSpecific:
		table, keyPattern := selectSpecificGraphIndex(pattern)
		return newIndexScan(txn, encoder, decoder, table, keyPattern, pattern)

	case GraphAnyNamed:
		table, keyPattern := selectAnyNamedIndex(pattern)
		return newIndexScan(txn, encoder, decoder, table, keyPattern, pattern)

	case GraphUnion:
		defaultIt, err := newIndexScan(txn, encoder, decoder, TableDSPO, []int{0, 1, 2}, pattern)
		if err != nil {
			return nil, err
		}
		table, keyPattern := selectAnyNamedIndex(pattern)
		namedIt, err := newIndexScan(txn, encoder, decoder, table, keyPattern, pattern)
		if err != nil {
			_ = defaultIt.Close()
			return nil, err
		}
		return &chainIterator{first: defaultIt, second: namedIt}, nil

	default:
		return nil, fmt.Errorf("unknown graph constraint kind: %d", pattern.Graph.Kind)
	}
}

// selectDefaultIndex picks among dspo/dpos/dosp. Key order: key_position
// -> S=0,P=1,O=2.
func selectDefaultIndex(p *Pattern) (Table, []int) {
	sBound := p.Subject != nil
	pBound := p.Predicate != nil
	oBound := p.Object != nil

	switch {
	case sBound && pBound:
		return TableDSPO, []int{0, 1, 2}
	case pBound && oBound:
		return TableDPOS, []int{1, 2, 0}
	case oBound && sBound:
		return TableDOSP, []int{2, 0, 1}
	case sBound:
		return TableDSPO, []int{0, 1, 2}
	case pBound:
		return TableDPOS, []int{1, 2, 0}
	case oBound:
		return TableDOSP, []int{2, 0, 1}
	default:
		return TableDSPO, []int{0, 1, 2}
	}
}

// selectSpecificGraphIndex picks among gspo/gpos/gosp. Key order:
// key_position -> G=3,S=0,P=1,O=2, with G always the leading component.
func selectSpecificGraphIndex(p *Pattern) (Table, []int) {
	sBound := p.Subject != nil
	pBound := p.Predicate != nil
	oBound := p.Object != nil

	switch {
	case sBound && pBound:
		return TableGSPO, []int{3, 0, 1, 2}
	case pBound && oBound:
		return TableGPOS, []int{3, 1, 2, 0}
	case oBound && sBound:
		return TableGOSP, []int{3, 2, 0, 1}
	case sBound:
		return TableGSPO, []int{3, 0, 1, 2}
	case pBound:
		return TableGPOS, []int{3, 1, 2, 0}
	case oBound:
		return TableGOSP, []int{3, 2, 0, 1}
	default:
		return TableGSPO, []int{3, 0, 1, 2}
	}
}

// selectAnyNamedIndex picks among spog/posg/ospg. Key order: key_position
// -> S=0,P=1,O=2,G=3, with G always trailing and never bound (so the
// prefix walk stops before it regardless of which pattern it scans).
func selectAnyNamedIndex(p *Pattern) (Table, []int) {
	sBound := p.Subject != nil
	pBound := p.Predicate != nil
	oBound := p.Object != nil

	switch {
	case sBound && pBound:
		return TableSPOG, []int{0, 1, 2, 3}
	case pBound && oBound:
		return TablePOSG, []int{1, 2, 0, 3}
	case oBound && sBound:
		return TableOSPG, []int{2, 0, 1, 3}
	case sBound:
		return TableSPOG, []int{0, 1, 2, 3}
	case pBound:
		return TablePOSG, []int{1, 2, 0, 3}
	case oBound:
		return TableOSPG, []int{2, 0, 1, 3}
	default:
		return TableSPOG, []int{0, 1, 2, 3}
	}
}

// buildPrefix walks keyPattern in key order, encoding bound terms until it
// hits the first unbound position (or the graph position of an
// any-named/union sub-scan, which is never bound).
func buildPrefix(encoder TermEncoder, pattern *Pattern, keyPattern []int) ([]byte, error) {
	positions := [4]rdf.Term{pattern.Subject, pattern.Predicate, pattern.Object, nil}
	if pattern.Graph.Kind == GraphSpecific {
		positions[3] = pattern.Graph.Name
	}

	var prefix []byte
	for _, idx := range keyPattern {
		term := positions[idx]
		if term == nil {
			break
		}
		encoded, _, err := encoder.EncodeTerm(term)
		if err != nil {
			return nil, err
		}
		prefix = append(prefix, encoded[:]...)
	}
	return prefix, nil
}

// indexScan implements QuadIterator over a single column family.
type indexScan struct {
	encoder    TermEncoder
	decoder    TermDecoder
	txn        Transaction
	it         Iterator
	pattern    *Pattern
	keyPattern []int
	closed     bool
	current    *rdf.Quad
	err        error
}

func newIndexScan(txn Transaction, encoder TermEncoder, decoder TermDecoder, table Table, keyPattern []int, pattern *Pattern) (QuadIterator, error) {
	prefix, err := buildPrefix(encoder, pattern, keyPattern)
	if err != nil {
		return nil, err
	}
	it, err := txn.Scan(table, prefix, nil)
	if err != nil {
		return nil, NewIOError("scan "+table.String(), err)
	}
	return &indexScan{encoder: encoder, decoder: decoder, txn: txn, it: it, pattern: pattern, keyPattern: keyPattern}, nil
}

func (s *indexScan) Next() bool {
	if s.closed || s.err != nil {
		return false
	}
	for s.it.Next() {
		quad, err := s.decodeCurrent()
		if err != nil {
			// A stored key that fails to decode is corruption, not a
			// row to skip past (§4.4): surface it instead of silently
			// shrinking the result set.
			s.err = NewCorruptionError(fmt.Sprintf("decode index entry: %v", err))
			return false
		}
		if matchesPattern(quad, s.pattern) {
			s.current = quad
			return true
		}
	}
	return false
}

func (s *indexScan) decodeCurrent() (*rdf.Quad, error) {
	key := s.it.Key()
	if key == nil {
		return nil, fmt.Errorf("no current key")
	}
	if len(key) < len(s.keyPattern)*WrittenTermMaxSize {
		return nil, NewCorruptionError(fmt.Sprintf("invalid key length: %d", len(key)))
	}

	terms := make([]EncodedTerm, len(s.keyPattern))
	for i := range s.keyPattern {
		offset := i * WrittenTermMaxSize
		copy(terms[i][:], key[offset:offset+WrittenTermMaxSize])
	}

	var positions [4]EncodedTerm
	for i, idx := range s.keyPattern {
		positions[idx] = terms[i]
	}

	subject, err := s.decodeTerm(positions[0])
	if err != nil {
		return nil, fmt.Errorf("decode subject: %w", err)
	}
	predicate, err := s.decodeTerm(positions[1])
	if err != nil {
		return nil, fmt.Errorf("decode predicate: %w", err)
	}
	object, err := s.decodeTerm(positions[2])
	if err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}

	var graph rdf.Term
	if len(s.keyPattern) > 3 {
		graph, err = s.decodeTerm(positions[3])
		if err != nil {
			return nil, fmt.Errorf("decode graph: %w", err)
		}
	} else {
		graph = rdf.NewDefaultGraph()
	}

	return &rdf.Quad{Subject: subject, Predicate: predicate, Object: object, Graph: graph}, nil
}

func (s *indexScan) decodeTerm(encoded EncodedTerm) (rdf.Term, error) {
	return decodeStoredTerm(s.txn, s.decoder, encoded)
}

// decodeStoredTerm decodes an EncodedTerm read back from an index,
// resolving a dictionary hash reference if the term type carries one.
func decodeStoredTerm(txn Transaction, decoder TermDecoder, encoded EncodedTerm) (rdf.Term, error) {
	termType := rdf.TermType(encoded[0])

	var stringValue *string
	if needsDictionaryLookup(termType) {
		dict := NewDictionary(txn)
		raw, err := dict.Get(encoded[1:])
		if err == nil {
			str := string(raw)
			stringValue = &str
		} else if err != ErrNotFound {
			return nil, NewIOError("dictionary lookup", err)
		}
	}

	return decoder.DecodeTerm(encoded, stringValue)
}

func needsDictionaryLookup(t rdf.TermType) bool {
	switch t {
	case rdf.TermTypeNamedNode, rdf.TermTypeBlankNode, rdf.TermTypeStringLiteral,
		rdf.TermTypeLangStringLiteral, rdf.TermTypeQuotedTriple, rdf.TermTypeTypedLiteral:
		return true
	default:
		return false
	}
}

func (s *indexScan) Quad() (*rdf.Quad, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.current == nil {
		return nil, errNoCurrentQuad
	}
	return s.current, nil
}

func (s *indexScan) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.it.Close()
}

// matchesPattern re-checks every bound position against a decoded
// candidate. Positions already covered by the scan prefix always match
// trivially; this also catches positions the chosen index's prefix
// didn't cover (§4.5's post-filter).
func matchesPattern(q *rdf.Quad, p *Pattern) bool {
	if p.Subject != nil && !q.Subject.Equals(p.Subject) {
		return false
	}
	if p.Predicate != nil && !q.Predicate.Equals(p.Predicate) {
		return false
	}
	if p.Object != nil && !q.Object.Equals(p.Object) {
		return false
	}
	switch p.Graph.Kind {
	case GraphDefault:
		return q.Graph.Type() == rdf.TermTypeDefaultGraph
	case GraphSpecific:
		return q.Graph.Equals(p.Graph.Name)
	case GraphAnyNamed:
		return q.Graph.Type() != rdf.TermTypeDefaultGraph
	default: // GraphUnion
		return true
	}
}

// chainIterator concatenates two QuadIterators without duplicate
// suppression, implementing §4.5's union semantics.
type chainIterator struct {
	first, second QuadIterator
	onSecond      bool
	err           error
}

func (c *chainIterator) Next() bool {
	if c.err != nil {
		return false
	}
	if !c.onSecond {
		if c.first.Next() {
			return true
		}
		// first.Next() can return false either because the sub-scan is
		// exhausted or because it hit a decode error; only the former
		// should fall through to the second sub-scan.
		if _, err := c.first.Quad(); err != nil && !errors.Is(err, errNoCurrentQuad) {
			c.err = err
			_ = c.first.Close()
			return false
		}
		_ = c.first.Close()
		c.onSecond = true
	}
	if c.second.Next() {
		return true
	}
	if _, err := c.second.Quad(); err != nil && !errors.Is(err, errNoCurrentQuad) {
		c.err = err
		return false
	}
	return false
}

func (c *chainIterator) Quad() (*rdf.Quad, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.onSecond {
		return c.second.Quad()
	}
	return c.first.Quad()
}

func (c *chainIterator) Close() error {
	if !c.onSecond {
		_ = c.first.Close()
	}
	return c.second.Close()
}
