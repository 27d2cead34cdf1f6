package operators

import (
	"fmt"
	"math"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/graphstorage"
)

// EdgeAnnoFilter restricts the edges an edge operator may use. Zero fields
// match anything.
type EdgeAnnoFilter struct {
	NS   uint32
	Name uint32
	Val  uint32
}

func (f EdgeAnnoFilter) empty() bool {
	return f == EdgeAnnoFilter{}
}

func (f EdgeAnnoFilter) accepts(annos []types.Annotation) bool {
	for _, a := range annos {
		if (f.Name == 0 || a.Name == f.Name) && (f.NS == 0 || a.NS == f.NS) && (f.Val == 0 || a.Val == f.Val) {
			return true
		}
	}
	return false
}

// edgeOperator reaches nodes over the edges of all components of one type and
// name, within a distance range.
type edgeOperator struct {
	symbol      string
	typ         types.ComponentType
	name        string
	storages    []graphstorage.ReadableGraphStorage
	minDistance uint32
	maxDistance uint32
	edgeAnno    EdgeAnnoFilter
	anyNodeAnno types.Annotation
}

func newEdgeOperator(db *core.DB, symbol string, typ types.ComponentType, name string, minDistance, maxDistance uint32, edgeAnno EdgeAnnoFilter) (*edgeOperator, error) {
	if minDistance > maxDistance {
		return nil, fmt.Errorf("%s: min distance %d exceeds max distance %d", symbol, minDistance, maxDistance)
	}
	if !edgeAnno.empty() && maxDistance != 1 {
		return nil, fmt.Errorf("%s: edge annotations can only be used for direct edges", symbol)
	}
	storages, err := db.AllGraphStorages(typ, name)
	if err != nil {
		return nil, err
	}
	if len(storages) == 0 {
		return nil, fmt.Errorf("%w: no %s component named %q", core.ErrComponentNotFound, typ, name)
	}
	return &edgeOperator{
		symbol:      symbol,
		typ:         typ,
		name:        name,
		storages:    storages,
		minDistance: minDistance,
		maxDistance: maxDistance,
		edgeAnno:    edgeAnno,
		anyNodeAnno: anyNodeAnno(db),
	}, nil
}

// NewDominance creates the dominance operator (lhs > rhs). An empty name
// uses all dominance components.
func NewDominance(db *core.DB, name string, minDistance, maxDistance uint32, edgeAnno EdgeAnnoFilter) (Operator, error) {
	return newEdgeOperator(db, ">", types.Dominance, name, minDistance, maxDistance, edgeAnno)
}

// NewPointing creates the pointing relation operator (lhs ->name rhs).
func NewPointing(db *core.DB, name string, minDistance, maxDistance uint32, edgeAnno EdgeAnnoFilter) (Operator, error) {
	return newEdgeOperator(db, "->", types.Pointing, name, minDistance, maxDistance, edgeAnno)
}

func (o *edgeOperator) RetrieveMatches(lhs types.Match) annosearch.Iterator {
	result := newDedupList(o.anyNodeAnno)
	for _, gs := range o.storages {
		it := gs.FindConnected(lhs.Node, o.minDistance, o.maxDistance)
		for n, ok := it.Next(); ok; n, ok = it.Next() {
			if o.edgeAnno.empty() || o.edgeAnno.accepts(gs.EdgeAnnotations(types.Edge{Source: lhs.Node, Target: n})) {
				result.add(n)
			}
		}
	}
	return result.iterator()
}

func (o *edgeOperator) Filter(lhs, rhs types.Match) bool {
	edge := types.Edge{Source: lhs.Node, Target: rhs.Node}
	for _, gs := range o.storages {
		if !gs.IsConnected(edge, o.minDistance, o.maxDistance) {
			continue
		}
		if o.edgeAnno.empty() || o.edgeAnno.accepts(gs.EdgeAnnotations(edge)) {
			return true
		}
	}
	return false
}

func (o *edgeOperator) IsReflexive() bool   { return false }
func (o *edgeOperator) IsCommutative() bool { return false }

// Selectivity estimates how many nodes are reachable within the distance
// range from the average fan-out and divides that by the number of nodes.
// The worst estimate of all components is used.
func (o *edgeOperator) Selectivity() float64 {
	worst := 0.0
	for _, gs := range o.storages {
		stats := gs.Statistics()
		if !stats.Valid || stats.Nodes == 0 {
			return DefaultSelectivity
		}
		if stats.Cyclic {
			// cycles can reach everything
			return 1.0
		}
		maxPath := min(o.maxDistance, uint32(stats.MaxDepth))
		minPath := max(o.minDistance, 1)

		reachable := 0.0
		for d := minPath; d <= maxPath; d++ {
			reachable += math.Pow(stats.AvgFanOut, float64(d))
		}
		worst = max(worst, reachable/float64(stats.Nodes))
	}
	if !o.edgeAnno.empty() {
		// an edge annotation halves the number of usable edges
		worst /= 2
	}
	switch {
	case worst <= 0:
		return 1.0 / float64(math.MaxUint32)
	case worst > 1:
		return 1.0
	}
	return worst
}

func (o *edgeOperator) String() string {
	var dist string
	switch {
	case o.minDistance == 1 && o.maxDistance == 1:
	case o.minDistance == 1 && o.maxDistance == math.MaxUint32:
		dist = "*"
	default:
		dist = fmt.Sprintf("%d,%d", o.minDistance, o.maxDistance)
	}
	return o.symbol + o.name + dist
}
