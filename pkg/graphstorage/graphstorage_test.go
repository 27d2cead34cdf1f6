package graphstorage

import (
	"bytes"
	"errors"
	"iter"
	"math"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/annisdb/pkg/core/types"
)

type nodeList []types.NodeID

func (l nodeList) Nodes() iter.Seq[types.NodeID] {
	return slices.Values(l)
}

func nodesUpTo(n int) nodeList {
	l := make(nodeList, 0, n)
	for i := 1; i <= n; i++ {
		l = append(l, types.NodeID(i))
	}
	return l
}

func buildAdjacency(nodes nodeList, edges ...types.Edge) *AdjacencyListStorage {
	gs := NewAdjacencyListStorage()
	for _, e := range edges {
		gs.AddEdge(e)
	}
	gs.CalculateStatistics(nodes)
	return gs
}

func buildPrePost(t *testing.T, nodes nodeList, orig ReadableGraphStorage) *PrePostOrderStorage {
	t.Helper()
	gs := NewPrePostOrderStorage(DedupAlways)
	require.NoError(t, gs.Copy(nodes, orig))
	return gs
}

func collect(it EdgeIterator) []types.NodeID {
	var result []types.NodeID
	for n, ok := it.Next(); ok; n, ok = it.Next() {
		result = append(result, n)
	}
	slices.Sort(result)
	return result
}

// randomDAG only creates edges from smaller to larger ids, so it is acyclic
// but has plenty of nodes with several parents.
func randomDAG(seed int64, n, edges int) (nodeList, *AdjacencyListStorage) {
	rnd := rand.New(rand.NewSource(seed))
	nodes := nodesUpTo(n)
	gs := NewAdjacencyListStorage()
	for i := 0; i < edges; i++ {
		a := types.NodeID(rnd.Intn(n) + 1)
		b := types.NodeID(rnd.Intn(n) + 1)
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		gs.AddEdge(types.Edge{Source: a, Target: b})
	}
	gs.CalculateStatistics(nodes)
	return nodes, gs
}

const (
	r1 types.NodeID = iota + 1
	na
	nb
	r2
	nc
)

func twoRootForest() (nodeList, *AdjacencyListStorage) {
	nodes := nodeList{r1, na, nb, r2, nc}
	return nodes, buildAdjacency(nodes,
		types.Edge{Source: r1, Target: na},
		types.Edge{Source: na, Target: nb},
		types.Edge{Source: r2, Target: nc},
		types.Edge{Source: r2, Target: nb},
	)
}

func TestPrePostOrder_MultiParentForest(t *testing.T) {
	nodes, orig := twoRootForest()
	gs := buildPrePost(t, nodes, orig)

	assert.Len(t, gs.Orders(nb), 2, "B is reachable over two paths")
	assert.Len(t, gs.Orders(na), 1)

	assert.Equal(t, []types.NodeID{nb, nc}, collect(gs.FindConnected(r2, 1, 2)))
	assert.Equal(t, []types.NodeID{na, nb}, collect(gs.FindConnected(r1, 1, 2)))
	assert.Equal(t, []types.NodeID{na}, collect(gs.FindConnected(r1, 1, 1)))
	assert.Empty(t, collect(gs.FindConnected(nc, 1, 10)))

	assert.True(t, gs.IsConnected(types.Edge{Source: r2, Target: nb}, 1, 1))
	assert.False(t, gs.IsConnected(types.Edge{Source: r1, Target: nb}, 1, 1))
	assert.True(t, gs.IsConnected(types.Edge{Source: r1, Target: nb}, 2, 2))
	assert.False(t, gs.IsConnected(types.Edge{Source: r2, Target: na}, 1, math.MaxUint32))

	d, ok := gs.Distance(types.Edge{Source: r1, Target: nb})
	require.True(t, ok)
	assert.EqualValues(t, 2, d)
	_, ok = gs.Distance(types.Edge{Source: nc, Target: r2})
	assert.False(t, ok)
}

func TestPrePostOrder_NestingInvariant(t *testing.T) {
	nodes, orig := randomDAG(42, 60, 150)
	gs := buildPrePost(t, nodes, orig)

	entries := gs.order2node
	require.NotEmpty(t, entries)
	for i, e := range entries {
		require.Less(t, e.Order.Pre, e.Order.Post)
		if i > 0 {
			require.Less(t, entries[i-1].Order.Pre, e.Order.Pre, "order2node must be sorted by pre")
		}
	}
	for _, x := range entries {
		for _, y := range entries {
			if x == y {
				continue
			}
			// intervals of one DFS forest either nest or are disjoint
			nested := x.Order.Contains(y.Order) || y.Order.Contains(x.Order)
			disjoint := x.Order.Post < y.Order.Pre || y.Order.Post < x.Order.Pre
			require.True(t, nested != disjoint, "%v and %v overlap partially", x, y)
			if x.Order.Contains(y.Order) {
				require.False(t, y.Order.Contains(x.Order), "nesting must be antisymmetric")
				require.Greater(t, y.Order.Level, x.Order.Level)
			}
		}
	}
}

func TestPrePostOrder_AgreesWithAdjacencyList(t *testing.T) {
	nodes, orig := randomDAG(7, 40, 90)
	gs := buildPrePost(t, nodes, orig)

	ranges := [][2]uint32{{1, 1}, {1, 2}, {2, 3}, {1, math.MaxUint32}, {3, 3}}
	for _, n := range nodes {
		for _, r := range ranges {
			want := collect(orig.FindConnected(n, r[0], r[1]))
			got := collect(gs.FindConnected(n, r[0], r[1]))
			require.Equal(t, want, got, "node %d range %v", n, r)
		}
	}
}

func TestPrePostOrder_ReachabilityAdjacencyAgreement(t *testing.T) {
	nodes, orig := randomDAG(11, 50, 120)
	gs := buildPrePost(t, nodes, orig)

	for _, n := range nodes {
		direct := collect(gs.FindConnected(n, 1, 1))
		for _, target := range orig.OutgoingEdges(n) {
			assert.True(t, gs.IsConnected(types.Edge{Source: n, Target: target}, 1, 1))
			assert.Contains(t, direct, target)
		}
	}
}

func TestPrePostOrder_DistanceMonotonicity(t *testing.T) {
	nodes, orig := randomDAG(3, 40, 80)
	gs := buildPrePost(t, nodes, orig)

	for _, s := range nodes {
		for _, target := range nodes {
			e := types.Edge{Source: s, Target: target}
			d, ok := gs.Distance(e)
			want, wantOK := orig.Distance(e)
			require.Equal(t, wantOK, ok, "edge %v", e)
			if !ok || s == target {
				continue
			}
			require.Equal(t, want, d, "edge %v", e)
			require.True(t, gs.IsConnected(e, d, d))
			for shorter := uint32(1); shorter < d; shorter++ {
				require.False(t, gs.IsConnected(e, shorter, shorter), "edge %v connected below its distance", e)
			}
		}
	}
}

func TestPrePostOrder_ResetRestartsIteration(t *testing.T) {
	nodes, orig := twoRootForest()
	gs := buildPrePost(t, nodes, orig)

	it := gs.FindConnected(r2, 1, 2)
	first, ok := it.Next()
	require.True(t, ok)
	it.Reset()
	again, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, first, again)
	assert.Len(t, collect(it), 1)
}

func TestPrePostOrder_HeuristicDedup(t *testing.T) {
	nodes := nodesUpTo(4)
	orig := buildAdjacency(nodes,
		types.Edge{Source: 1, Target: 2},
		types.Edge{Source: 2, Target: 3},
		types.Edge{Source: 2, Target: 4},
	)
	require.True(t, orig.Statistics().RootedTree)

	gs := NewPrePostOrderStorage(DedupHeuristic)
	require.NoError(t, gs.Copy(nodes, orig))
	assert.False(t, gs.needsDedup())
	assert.Equal(t, []types.NodeID{2, 3, 4}, collect(gs.FindConnected(1, 1, 5)))

	_, dag := twoRootForest()
	gs = NewPrePostOrderStorage(DedupHeuristic)
	require.NoError(t, gs.Copy(nodeList{r1, na, nb, r2, nc}, dag))
	assert.True(t, gs.needsDedup())
}

func TestPrePostOrder_PanicsBeforeCopy(t *testing.T) {
	gs := NewPrePostOrderStorage(DedupAlways)
	defer func() {
		err, ok := recover().(error)
		require.True(t, ok, "expected a panic with an error value")
		assert.True(t, errors.Is(err, ErrNotBuilt))
	}()
	gs.IsConnected(types.Edge{Source: 1, Target: 2}, 1, 1)
}

func TestPrePostOrder_SaveLoad(t *testing.T) {
	nodes, orig := twoRootForest()
	anno := types.Annotation{Name: 3, NS: 1, Val: 9}
	orig.AddEdgeAnnotation(types.Edge{Source: r2, Target: nb}, anno)
	gs := buildPrePost(t, nodes, orig)

	var buf bytes.Buffer
	require.NoError(t, gs.Save(&buf))

	loaded := NewPrePostOrderStorage(DedupAlways)
	require.NoError(t, loaded.Load(&buf))

	assert.Equal(t, gs.order2node, loaded.order2node)
	assert.Equal(t, gs.Statistics(), loaded.Statistics())
	assert.Equal(t, []types.Annotation{anno}, loaded.EdgeAnnotations(types.Edge{Source: r2, Target: nb}))
	assert.Equal(t, []types.NodeID{nb, nc}, collect(loaded.FindConnected(r2, 1, 2)))
}

func TestPrePostOrder_LoadRejectsOtherKind(t *testing.T) {
	_, orig := twoRootForest()
	var buf bytes.Buffer
	require.NoError(t, orig.Save(&buf))

	err := NewPrePostOrderStorage(DedupAlways).Load(&buf)
	assert.Error(t, err)
}

func TestAdjacencyList_CyclicStatistics(t *testing.T) {
	nodes := nodesUpTo(3)
	gs := buildAdjacency(nodes,
		types.Edge{Source: 1, Target: 2},
		types.Edge{Source: 2, Target: 3},
		types.Edge{Source: 3, Target: 1},
	)

	stats := gs.Statistics()
	assert.True(t, stats.Valid)
	assert.True(t, stats.Cyclic)
	assert.False(t, stats.RootedTree)
	assert.Equal(t, ImplAdjacencyList, OptimalImplName(stats))

	assert.Equal(t, []types.NodeID{1, 2, 3}, collect(gs.FindConnected(1, 0, math.MaxUint32)))
	assert.True(t, gs.IsConnected(types.Edge{Source: 3, Target: 2}, 2, 2))
	d, ok := gs.Distance(types.Edge{Source: 2, Target: 1})
	require.True(t, ok)
	assert.EqualValues(t, 2, d)
}

func TestAdjacencyList_TreeStatistics(t *testing.T) {
	nodes := nodesUpTo(5)
	gs := buildAdjacency(nodes,
		types.Edge{Source: 1, Target: 2},
		types.Edge{Source: 1, Target: 3},
		types.Edge{Source: 3, Target: 4},
	)

	stats := gs.Statistics()
	assert.True(t, stats.RootedTree)
	assert.False(t, stats.Cyclic)
	assert.Equal(t, 4, stats.Nodes)
	assert.Equal(t, 2, stats.MaxFanOut)
	assert.Equal(t, 2, stats.MaxDepth)
	assert.InDelta(t, 1.5, stats.AvgFanOut, 1e-9)
	assert.InDelta(t, 1.0, stats.DFSVisitRatio, 1e-9)
	assert.Equal(t, ImplPrePostOrder, OptimalImplName(stats))
}

func TestAdjacencyList_EdgeAnnotations(t *testing.T) {
	gs := NewAdjacencyListStorage()
	e := types.Edge{Source: 1, Target: 2}
	anno := types.Annotation{Name: 1, NS: 2, Val: 3}

	gs.AddEdgeAnnotation(e, anno)
	assert.Zero(t, gs.NumberOfEdgeAnnotations(), "annotations need an existing edge")

	gs.AddEdge(e)
	gs.AddEdgeAnnotation(e, anno)
	assert.Equal(t, []types.Annotation{anno}, gs.EdgeAnnotations(e))

	gs.DeleteEdge(e)
	assert.Zero(t, gs.NumberOfEdges())
	assert.Zero(t, gs.NumberOfEdgeAnnotations())
}

func TestOrderedIndex_SearchRange(t *testing.T) {
	idx := NewOrderedIndex(5)
	for _, k := range []uint32{1, 3, 3, 5, 9} {
		idx.Append(k)
	}
	require.Equal(t, 5, idx.Len())

	assert.Equal(t, RangeResult{StartIdx: 1, EndIdx: 3, Count: 3}, idx.SearchRange(2, 5))
	assert.Equal(t, RangeResult{StartIdx: 0, EndIdx: 0, Count: 1}, idx.SearchRange(0, 1))
	assert.Equal(t, RangeResult{StartIdx: 1, EndIdx: 2, Count: 2}, idx.SearchRange(3, 3))
	assert.Zero(t, idx.SearchRange(6, 8).Count)
	assert.Zero(t, idx.SearchRange(10, 20).Count)
	assert.Zero(t, idx.SearchRange(5, 2).Count)
	assert.Zero(t, NewOrderedIndex(0).SearchRange(0, 10).Count)
}

func TestOrderedIndex_Degree(t *testing.T) {
	assert.Equal(t, minIndexDegree, indexDegree(0))
	assert.Equal(t, minIndexDegree, indexDegree(16))
	for _, expected := range []float64{1e3, 1e5, 1e7, 1e9} {
		d := indexDegree(expected)
		assert.GreaterOrEqual(t, d, minIndexDegree)
		assert.LessOrEqual(t, d, maxIndexDegree)
	}
	assert.LessOrEqual(t, indexDegree(1e3), indexDegree(1e9))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(DedupAlways, map[string]string{"DOMINANCE//": ImplAdjacencyList})
	assert.Equal(t, []string{ImplAdjacencyList, ImplPrePostOrder}, r.Names())

	acyclic := Statistics{Valid: true}
	assert.Equal(t, ImplAdjacencyList, r.Optimal("DOMINANCE//", acyclic))
	assert.Equal(t, ImplPrePostOrder, r.Optimal("ORDERING/annis/", acyclic))
	assert.Equal(t, ImplAdjacencyList, r.Optimal("ORDERING/annis/", Statistics{}))

	gs, err := r.Create(ImplPrePostOrder)
	require.NoError(t, err)
	assert.Equal(t, ImplPrePostOrder, gs.ImplName())

	_, err = r.Create("skiplist")
	assert.ErrorIs(t, err, ErrUnknownImpl)
}

func TestParseDedupPolicy(t *testing.T) {
	p, err := ParseDedupPolicy("heuristic")
	require.NoError(t, err)
	assert.Equal(t, DedupHeuristic, p)
	p, err = ParseDedupPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DedupAlways, p)
	_, err = ParseDedupPolicy("never")
	assert.Error(t, err)
}
