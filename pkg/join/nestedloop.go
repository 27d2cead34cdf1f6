package join

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/operators"
)

// NestedLoopJoin checks every pair of the two input streams. The outer stream
// is read once, the inner one is reset for every outer tuple.
type NestedLoopJoin struct {
	op          operators.Operator
	outer       TupleIterator
	inner       TupleIterator
	outerIdx    int
	innerIdx    int
	leftIsOuter bool

	current []types.Match
	emitted prometheus.Counter
}

// NewNestedLoop joins lhs and rhs on op(lhs[lhsIdx], rhs[rhsIdx]). If
// leftIsOuter is false the rhs stream drives the outer loop.
func NewNestedLoop(op operators.Operator, lhs, rhs TupleIterator, lhsIdx, rhsIdx int, leftIsOuter bool) *NestedLoopJoin {
	j := &NestedLoopJoin{
		op:          op,
		leftIsOuter: leftIsOuter,
		emitted:     metrics.JoinTuplesTotal.WithLabelValues(NestedLoop.String()),
	}
	if leftIsOuter {
		j.outer, j.inner, j.outerIdx, j.innerIdx = lhs, rhs, lhsIdx, rhsIdx
	} else {
		j.outer, j.inner, j.outerIdx, j.innerIdx = rhs, lhs, rhsIdx, lhsIdx
	}
	return j
}

func (j *NestedLoopJoin) Next() ([]types.Match, bool) {
	for {
		if j.current == nil {
			t, ok := j.outer.Next()
			if !ok {
				return nil, false
			}
			j.current = t
			j.inner.Reset()
		}
		for in, ok := j.inner.Next(); ok; in, ok = j.inner.Next() {
			if t, ok := j.pair(j.current, in); ok {
				j.emitted.Inc()
				return t, true
			}
		}
		j.current = nil
	}
}

func (j *NestedLoopJoin) pair(outer, inner []types.Match) ([]types.Match, bool) {
	return pairTuples(j.op, j.leftIsOuter, outer, inner, j.outerIdx, j.innerIdx)
}

// pairTuples orders an outer and an inner tuple as lhs, rhs and applies op.
func pairTuples(op operators.Operator, leftIsOuter bool, outer, inner []types.Match, outerIdx, innerIdx int) ([]types.Match, bool) {
	if leftIsOuter {
		if !related(op, outer[outerIdx], inner[innerIdx]) {
			return nil, false
		}
		return concat(outer, inner), true
	}
	if !related(op, inner[innerIdx], outer[outerIdx]) {
		return nil, false
	}
	return concat(inner, outer), true
}

func (j *NestedLoopJoin) Reset() {
	j.current = nil
	j.outer.Reset()
	j.inner.Reset()
}

func (j *NestedLoopJoin) Close() {
	closeIterator(j.outer)
	closeIterator(j.inner)
}
