package join

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/annisdb/internal/testcorpus"
	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/operators"
)

func nodeTuples(it TupleIterator) [][]types.NodeID {
	var result [][]types.NodeID
	for t, ok := it.Next(); ok; t, ok = it.Next() {
		nodes := make([]types.NodeID, len(t))
		for i, m := range t {
			nodes[i] = m.Node
		}
		result = append(result, nodes)
	}
	return result
}

func nps(db *core.DB) TupleIterator {
	return FromSearch(annosearch.NewExactValueSearch(db, "tiger", "cat", "NP"))
}

func tokens(db *core.DB) TupleIterator {
	return FromSearch(annosearch.NewTokenSearch(db))
}

func nodes(db *core.DB) TupleIterator {
	return FromSearch(annosearch.NewNodeSearch(db))
}

func nothing(db *core.DB) TupleIterator {
	return FromSearch(annosearch.NewExactValueSearch(db, "tiger", "cat", "ADJP"))
}

func dominance(t *testing.T, db *core.DB) operators.Operator {
	op, err := operators.NewDominance(db, "", 1, 1, operators.EdgeAnnoFilter{})
	require.NoError(t, err)
	return op
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []Strategy{NestedLoop, Seed, ParallelNestedLoop} {
		parsed, err := ParseStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, NestedLoop, s)

	_, err = ParseStrategy("hash")
	assert.Error(t, err)
}

func TestNestedLoop(t *testing.T) {
	db, n := testcorpus.New()
	want := [][]types.NodeID{
		{n["np1"], n["t0"]}, {n["np1"], n["t1"]},
		{n["np2"], n["t4"]}, {n["np2"], n["t5"]},
	}

	for _, leftIsOuter := range []bool{true, false} {
		j := NewNestedLoop(dominance(t, db), nps(db), tokens(db), 0, 0, leftIsOuter)
		assert.ElementsMatch(t, want, nodeTuples(j), "leftIsOuter=%v", leftIsOuter)

		j.Reset()
		assert.ElementsMatch(t, want, nodeTuples(j), "after reset, leftIsOuter=%v", leftIsOuter)
	}
}

func TestNestedLoop_EmptyInputs(t *testing.T) {
	db, _ := testcorpus.New()
	op := dominance(t, db)

	assert.Empty(t, nodeTuples(NewNestedLoop(op, nothing(db), tokens(db), 0, 0, true)))
	assert.Empty(t, nodeTuples(NewNestedLoop(op, nps(db), nothing(db), 0, 0, true)))
}

func TestSeedAgreesWithNestedLoop(t *testing.T) {
	db, n := testcorpus.Optimized()

	cases := []struct {
		name string
		op   func() (operators.Operator, error)
	}{
		{"dominance", func() (operators.Operator, error) {
			return operators.NewDominance(db, "", 1, 3, operators.EdgeAnnoFilter{})
		}},
		{"precedence", func() (operators.Operator, error) { return operators.NewPrecedence(db, 1, 2) }},
		{"identical coverage", func() (operators.Operator, error) { return operators.NewIdenticalCoverage(db) }},
		{"inclusion", func() (operators.Operator, error) { return operators.NewInclusion(db) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op, err := tc.op()
			require.NoError(t, err)

			seed := NewSeed(op, nodes(db), 0, annosearch.NewTokenSearch(db))
			nested := NewNestedLoop(op, nodes(db), tokens(db), 0, 0, true)

			expected := nodeTuples(nested)
			assert.ElementsMatch(t, expected, nodeTuples(seed))

			seed.Reset()
			assert.ElementsMatch(t, expected, nodeTuples(seed))
		})
	}

	// s dominates the single token und directly
	op := dominance(t, db)
	seed := NewSeed(op, FromSearch(annosearch.NewExactValueSearch(db, "tiger", "cat", "S")), 0, annosearch.NewTokenSearch(db))
	assert.Equal(t, [][]types.NodeID{{n["s"], n["t3"]}}, nodeTuples(seed))
}

func TestSeed_RhsAnnotationResolved(t *testing.T) {
	db, n := testcorpus.New()
	pos := annosearch.NewExactValueSearch(db, "tiger", "pos", "NN")
	seed := NewSeed(dominance(t, db), nps(db), 0, pos)

	var got []types.Match
	for tuple, ok := seed.Next(); ok; tuple, ok = seed.Next() {
		got = append(got, tuple[1])
	}
	require.Len(t, got, 2)
	posKey, _ := db.Strings.FindID("pos")
	for _, m := range got {
		assert.Contains(t, []types.NodeID{n["t1"], n["t5"]}, m.Node)
		assert.Equal(t, posKey, m.Anno.Name)
	}
}

func TestFilter(t *testing.T) {
	db, n := testcorpus.New()
	precedence, err := operators.NewPrecedence(db, 1, 1)
	require.NoError(t, err)

	// NP > token . token, keeping only tuples where the NP dominates both
	joined := NewNestedLoop(dominance(t, db), nps(db), tokens(db), 0, 0, true)
	pairs := NewNestedLoop(precedence, joined, tokens(db), 1, 0, true)
	f := NewFilter(pairs, dominance(t, db), 0, 2)

	assert.ElementsMatch(t, [][]types.NodeID{
		{n["np1"], n["t0"], n["t1"]},
		{n["np2"], n["t4"], n["t5"]},
	}, nodeTuples(f))
}

func TestParallelNestedLoop_EqualsNestedLoop(t *testing.T) {
	db, _ := testcorpus.New()
	inclusion, err := operators.NewInclusion(db)
	require.NoError(t, err)
	pool := NewWorkerPool(4)

	inputs := []struct {
		name     string
		lhs, rhs func(*core.DB) TupleIterator
	}{
		{"nodes x nodes", nodes, nodes},
		{"nps x tokens", nps, tokens},
		{"empty outer", nothing, nodes},
		{"empty inner", nodes, nothing},
		{"both empty", nothing, nothing},
	}
	for _, in := range inputs {
		for _, opts := range []ParallelOptions{
			{},
			{Workers: 3, QueueSize: 1, ChunkSize: 1},
			{Workers: 2, QueueSize: 7, ChunkSize: 5},
		} {
			for _, leftIsOuter := range []bool{true, false} {
				serial := nodeTuples(NewNestedLoop(inclusion, in.lhs(db), in.rhs(db), 0, 0, leftIsOuter))
				parallel := NewParallelNestedLoop(inclusion, in.lhs(db), in.rhs(db), 0, 0, leftIsOuter, pool, opts)
				assert.ElementsMatch(t, serial, nodeTuples(parallel), "%s %+v leftIsOuter=%v", in.name, opts, leftIsOuter)
				parallel.Close()
			}
		}
	}
}

func TestParallelNestedLoop_ResetMidScan(t *testing.T) {
	db, _ := testcorpus.New()
	inclusion, err := operators.NewInclusion(db)
	require.NoError(t, err)

	want := len(nodeTuples(NewNestedLoop(inclusion, nodes(db), nodes(db), 0, 0, true)))
	require.Greater(t, want, 10)

	j := NewParallelNestedLoop(inclusion, nodes(db), nodes(db), 0, 0, true, NewWorkerPool(4),
		ParallelOptions{QueueSize: 2, ChunkSize: 1})
	defer j.Close()

	for round := range 5 {
		for range round + 1 {
			_, ok := j.Next()
			require.True(t, ok)
		}
		j.Reset()
		assert.Len(t, nodeTuples(j), want, "round %d", round)
		j.Reset()
	}
}

func TestParallelNestedLoop_DegradesWithoutWorkers(t *testing.T) {
	db, _ := testcorpus.New()
	op := dominance(t, db)

	pool := NewWorkerPool(1)
	block := make(chan struct{})
	require.True(t, pool.TryGo(func() { <-block }))
	defer close(block)

	before := testutil.ToFloat64(metrics.ParallelJoinDegradedTotal)
	serial := nodeTuples(NewNestedLoop(op, nps(db), tokens(db), 0, 0, false))
	j := NewParallelNestedLoop(op, nps(db), tokens(db), 0, 0, false, pool, ParallelOptions{})
	assert.ElementsMatch(t, serial, nodeTuples(j))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ParallelJoinDegradedTotal))

	// the inner side is cached and not read again
	j.Reset()
	assert.ElementsMatch(t, serial, nodeTuples(j))
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(0)
	assert.GreaterOrEqual(t, pool.Size(), 1)

	small := NewWorkerPool(2)
	block := make(chan struct{})
	done := make(chan struct{}, 2)
	for range 2 {
		require.True(t, small.TryGo(func() { <-block; done <- struct{}{} }))
	}
	assert.False(t, small.TryGo(func() {}))
	close(block)
	<-done
	<-done
}
