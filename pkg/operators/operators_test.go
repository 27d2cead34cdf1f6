package operators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/annisdb/internal/testcorpus"
	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

func nodesOf(it annosearch.Iterator) []types.NodeID {
	var result []types.NodeID
	for m, ok := it.Next(); ok; m, ok = it.Next() {
		result = append(result, m.Node)
	}
	return result
}

func match(n types.NodeID) types.Match {
	return types.Match{Node: n}
}

// corpora runs a test against the unoptimized and the optimized corpus.
func corpora(t *testing.T, test func(t *testing.T, db *core.DB, n testcorpus.Nodes)) {
	t.Run("adjacencylist", func(t *testing.T) {
		db, n := testcorpus.New()
		test(t, db, n)
	})
	t.Run("optimized", func(t *testing.T) {
		db, n := testcorpus.Optimized()
		test(t, db, n)
	})
}

func TestTokenHelper(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		h, err := NewTokenHelper(db)
		require.NoError(t, err)

		assert.True(t, h.IsToken(n["t0"]))
		assert.False(t, h.IsToken(n["np1"]))

		l, r, ok := h.LeftRightToken(n["s"])
		require.True(t, ok)
		assert.Equal(t, n["t0"], l)
		assert.Equal(t, n["t5"], r)

		l, r, ok = h.LeftRightToken(n["t3"])
		require.True(t, ok)
		assert.Equal(t, n["t3"], l)
		assert.Equal(t, n["t3"], r)

		assert.Equal(t, 6, h.TokenCount())
		assert.ElementsMatch(t, []types.NodeID{n["np1"], n["s"], n["x"], n["ne"]}, h.LeftAligned(n["t0"]))
	})
}

func TestIdenticalCoverage_ResultShapes(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		op, err := NewIdenticalCoverage(db)
		require.NoError(t, err)

		// a token nothing else is aligned with
		it := op.RetrieveMatches(match(n["t3"]))
		require.IsType(t, &annosearch.SingleElement{}, it)
		assert.Equal(t, []types.NodeID{n["t3"]}, nodesOf(it))

		// three spans cover exactly Der Hund
		it = op.RetrieveMatches(match(n["np1"]))
		require.IsType(t, &annosearch.ListWrapper{}, it)
		assert.Equal(t, []types.NodeID{n["np1"], n["x"], n["ne"]}, nodesOf(it))

		// a single token span is identical to its token
		assert.Equal(t, []types.NodeID{n["t2"], n["vp"]}, nodesOf(op.RetrieveMatches(match(n["vp"]))))

		// np2 is the only span over die Katze
		it = op.RetrieveMatches(match(n["np2"]))
		require.IsType(t, &annosearch.SingleElement{}, it)
		assert.Equal(t, []types.NodeID{n["np2"]}, nodesOf(it))

		assert.True(t, op.Filter(match(n["np1"]), match(n["ne"])))
		assert.True(t, op.Filter(match(n["ne"]), match(n["np1"])))
		assert.False(t, op.Filter(match(n["np1"]), match(n["s"])))
		assert.True(t, op.IsCommutative())
		assert.InDelta(t, 1.0/6.0, op.Selectivity(), 1e-9)
	})
}

func TestIdenticalCoverage_RetrieveAgreesWithFilter(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		op, err := NewIdenticalCoverage(db)
		require.NoError(t, err)
		assertRetrieveAgreesWithFilter(t, op, n)
	})
}

func TestPrecedence(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		op, err := NewPrecedence(db, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, ".", op.String())

		assert.Equal(t, []types.NodeID{n["t2"], n["vp"]}, nodesOf(op.RetrieveMatches(match(n["np1"]))))
		assert.Empty(t, nodesOf(op.RetrieveMatches(match(n["t5"]))))
		assert.True(t, op.Filter(match(n["np1"]), match(n["vp"])))
		assert.False(t, op.Filter(match(n["np1"]), match(n["t3"])))

		far, err := NewPrecedence(db, 2, 3)
		require.NoError(t, err)
		assert.ElementsMatch(t, []types.NodeID{n["t3"], n["t4"], n["np2"]}, nodesOf(far.RetrieveMatches(match(n["t1"]))))
		assertRetrieveAgreesWithFilter(t, far, n)

		_, err = NewPrecedence(db, 3, 2)
		assert.Error(t, err)
	})
}

func TestDominance(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		direct, err := NewDominance(db, "", 1, 1, EdgeAnnoFilter{})
		require.NoError(t, err)
		assert.ElementsMatch(t,
			[]types.NodeID{n["np1"], n["vp"], n["t3"], n["np2"]},
			nodesOf(direct.RetrieveMatches(match(n["s"]))))
		assert.Equal(t, ">", direct.String())

		indirect, err := NewDominance(db, "", 1, math.MaxUint32, EdgeAnnoFilter{})
		require.NoError(t, err)
		assert.Len(t, nodesOf(indirect.RetrieveMatches(match(n["s"]))), 9)
		assert.True(t, indirect.Filter(match(n["s"]), match(n["t5"])))
		assert.False(t, indirect.Filter(match(n["np1"]), match(n["t5"])))
		assertRetrieveAgreesWithFilter(t, indirect, n)

		funcName, _ := db.Strings.FindID("func")
		sb, _ := db.Strings.FindID("SB")
		withAnno, err := NewDominance(db, "", 1, 1, EdgeAnnoFilter{Name: funcName, Val: sb})
		require.NoError(t, err)
		assert.Equal(t, []types.NodeID{n["np1"]}, nodesOf(withAnno.RetrieveMatches(match(n["s"]))))
		assert.False(t, withAnno.Filter(match(n["s"]), match(n["np2"])))

		_, err = NewDominance(db, "", 1, 2, EdgeAnnoFilter{Name: funcName})
		assert.Error(t, err)

		sel := indirect.Selectivity()
		assert.Greater(t, sel, 0.0)
		assert.LessOrEqual(t, sel, 1.0)
	})
}

func TestPointing(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		op, err := NewPointing(db, "dep", 1, 1, EdgeAnnoFilter{})
		require.NoError(t, err)
		assert.Equal(t, []types.NodeID{n["t1"]}, nodesOf(op.RetrieveMatches(match(n["t2"]))))
		assert.Equal(t, "->dep", op.String())

		chain, err := NewPointing(db, "dep", 2, 2, EdgeAnnoFilter{})
		require.NoError(t, err)
		assert.Equal(t, []types.NodeID{n["t0"]}, nodesOf(chain.RetrieveMatches(match(n["t2"]))))

		_, err = NewPointing(db, "coref", 1, 1, EdgeAnnoFilter{})
		assert.ErrorIs(t, err, core.ErrComponentNotFound)
	})
}

func TestInclusion(t *testing.T) {
	corpora(t, func(t *testing.T, db *core.DB, n testcorpus.Nodes) {
		op, err := NewInclusion(db)
		require.NoError(t, err)

		assert.Equal(t,
			[]types.NodeID{n["t0"], n["np1"], n["x"], n["ne"], n["t1"]},
			nodesOf(op.RetrieveMatches(match(n["np1"]))))
		assert.Len(t, nodesOf(op.RetrieveMatches(match(n["s"]))), 12)
		assert.True(t, op.Filter(match(n["s"]), match(n["vp"])))
		assert.False(t, op.Filter(match(n["vp"]), match(n["s"])))
		assertRetrieveAgreesWithFilter(t, op, n)
	})
}

// assertRetrieveAgreesWithFilter checks both directions of the operator
// contract for every pair of nodes in the corpus.
func assertRetrieveAgreesWithFilter(t *testing.T, op Operator, n testcorpus.Nodes) {
	t.Helper()
	for lhsName, lhs := range n {
		retrieved := make(map[types.NodeID]bool)
		for _, rhs := range nodesOf(op.RetrieveMatches(match(lhs))) {
			retrieved[rhs] = true
			assert.True(t, op.Filter(match(lhs), match(rhs)), "%s %s retrieved %d but filter rejects it", lhsName, op, rhs)
		}
		for rhsName, rhs := range n {
			if op.Filter(match(lhs), match(rhs)) {
				assert.True(t, retrieved[rhs], "%s %s %s passes the filter but was not retrieved", lhsName, op, rhsName)
			}
		}
	}
}
