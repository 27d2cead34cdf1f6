package join

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/operators"
)

// SeedJoin retrieves the rhs candidates of every lhs tuple from the operator
// and keeps the ones the rhs search would have produced. The rhs search is
// never executed itself.
type SeedJoin struct {
	op     operators.Operator
	lhs    TupleIterator
	lhsIdx int
	rhs    annosearch.EstimatedSearch

	current    []types.Match
	candidates annosearch.Iterator
	pending    []types.Match
	emitted    prometheus.Counter
}

func NewSeed(op operators.Operator, lhs TupleIterator, lhsIdx int, rhs annosearch.EstimatedSearch) *SeedJoin {
	return &SeedJoin{
		op:      op,
		lhs:     lhs,
		lhsIdx:  lhsIdx,
		rhs:     rhs,
		emitted: metrics.JoinTuplesTotal.WithLabelValues(Seed.String()),
	}
}

func (j *SeedJoin) Next() ([]types.Match, bool) {
	for {
		if len(j.pending) > 0 {
			m := j.pending[0]
			j.pending = j.pending[1:]
			j.emitted.Inc()
			return concat(j.current, []types.Match{m}), true
		}
		if j.candidates != nil {
			if c, ok := j.candidates.Next(); ok {
				lhs := j.current[j.lhsIdx]
				for _, m := range j.rhs.MatchesFor(c.Node) {
					if j.op.IsReflexive() || m.Node != lhs.Node || m.Anno.Key() != lhs.Anno.Key() {
						j.pending = append(j.pending, m)
					}
				}
				continue
			}
		}
		t, ok := j.lhs.Next()
		if !ok {
			j.candidates = nil
			return nil, false
		}
		j.current = t
		j.candidates = j.op.RetrieveMatches(t[j.lhsIdx])
	}
}

func (j *SeedJoin) Reset() {
	j.current = nil
	j.candidates = nil
	j.pending = nil
	j.lhs.Reset()
}

func (j *SeedJoin) Close() {
	closeIterator(j.lhs)
}
