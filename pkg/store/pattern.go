package store

import "github.com/nqkv/quadstore/pkg/rdf"

// GraphConstraintKind distinguishes the four graph? shapes a pattern can
// carry, per §4.5.
type GraphConstraintKind int

const (
	// GraphUnion means the graph position is wholly absent: results are
	// the concatenation of the default-graph match and the named-graph
	// match, duplicates and all (§4.5's "union across all graphs").
	GraphUnion GraphConstraintKind = iota

	// GraphDefault restricts the match to the default graph.
	GraphDefault

	// GraphSpecific restricts the match to one named graph, given by Name.
	GraphSpecific

	// GraphAnyNamed restricts the match to named graphs in general,
	// without binding which one.
	GraphAnyNamed
)

// GraphConstraint is the graph? component of a Pattern.
type GraphConstraint struct {
	Kind GraphConstraintKind
	Name rdf.Term // set iff Kind == GraphSpecific
}

// Default returns the constraint that matches only the default graph.
func Default() GraphConstraint { return GraphConstraint{Kind: GraphDefault} }

// AnyNamed returns the constraint that matches any named graph.
func AnyNamed() GraphConstraint { return GraphConstraint{Kind: GraphAnyNamed} }

// Union returns the constraint that matches across all graphs.
func Union() GraphConstraint { return GraphConstraint{Kind: GraphUnion} }

// Named returns the constraint that matches exactly graph g.
func Named(g rdf.Term) GraphConstraint { return GraphConstraint{Kind: GraphSpecific, Name: g} }

// Pattern is a triple pattern with 0-3 bound term positions plus a graph
// constraint. A nil Subject/Predicate/Object means that position is
// unbound (a wildcard).
type Pattern struct {
	Subject   rdf.Term
	Predicate rdf.Term
	Object    rdf.Term
	Graph     GraphConstraint
}
