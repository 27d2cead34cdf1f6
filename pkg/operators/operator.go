// Package operators provides the binary relations between two node matches
// that make up the constraints of a query.
package operators

import (
	"errors"
	"fmt"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/graphstorage"
)

// DefaultSelectivity is used when an operator has no statistics to estimate from.
const DefaultSelectivity = 0.1

// Operator is a binary predicate over two matches.
type Operator interface {
	// RetrieveMatches returns all right hand candidates that could satisfy the
	// relation with lhs. Every returned match also passes Filter.
	RetrieveMatches(lhs types.Match) annosearch.Iterator
	// Filter is the authoritative pairwise test.
	Filter(lhs, rhs types.Match) bool
	// IsReflexive reports whether a node may be related to itself.
	IsReflexive() bool
	IsCommutative() bool
	// Selectivity estimates the fraction of pairs that pass, in (0, 1].
	Selectivity() float64
	String() string
}

// optionalStorage returns the storage of c or an empty one if the corpus does
// not have the component.
func optionalStorage(db *core.DB, c types.Component) (graphstorage.ReadableGraphStorage, error) {
	gs, err := db.GraphStorage(c)
	if errors.Is(err, core.ErrComponentNotFound) {
		return graphstorage.NewAdjacencyListStorage(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("operator needs %s: %w", c, err)
	}
	return gs, nil
}

// anyNodeAnno is the annotation operators attach to the matches they
// retrieve. It only names the key, join strategies resolve the real
// annotation through the right hand search.
func anyNodeAnno(db *core.DB) types.Annotation {
	key := db.BuiltinKey(types.AnnisNodeName)
	return types.Annotation{Name: key.Name, NS: key.NS}
}

// dedupList collects node matches once each in insertion order.
type dedupList struct {
	anno    types.Annotation
	seen    map[types.NodeID]struct{}
	matches []types.Match
}

func newDedupList(anno types.Annotation) *dedupList {
	return &dedupList{anno: anno, seen: make(map[types.NodeID]struct{})}
}

func (l *dedupList) add(n types.NodeID) {
	if _, ok := l.seen[n]; ok {
		return
	}
	l.seen[n] = struct{}{}
	l.matches = append(l.matches, types.Match{Node: n, Anno: l.anno})
}

// iterator returns the cheapest iterator shape for the collected matches.
func (l *dedupList) iterator() annosearch.Iterator {
	switch len(l.matches) {
	case 0:
		return annosearch.Empty()
	case 1:
		return annosearch.NewSingleElement(l.matches[0])
	default:
		return annosearch.NewListWrapper(l.matches)
	}
}
