package graphstorage

import (
	"fmt"
	"io"
	"math"

	"github.com/tidwall/btree"
	"gonum.org/v1/gonum/stat"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/persistence"
)

// ImplAdjacencyList is the registry name of AdjacencyListStorage.
const ImplAdjacencyList = "adjacencylist"

type edgeAnnoItem struct {
	Edge types.Edge
	Anno types.Annotation
}

func edgeAnnoItemLess(a, b edgeAnnoItem) bool {
	if c := types.CompareEdges(a.Edge, b.Edge); c != 0 {
		return c < 0
	}
	return types.CompareAnnotations(a.Anno, b.Anno) < 0
}

func edgeLess(a, b types.Edge) bool {
	return types.CompareEdges(a, b) < 0
}

// AdjacencyListStorage keeps the edges of a component in ordered sets, one
// keyed by source and one keyed by target. It accepts any graph, including
// cyclic ones, and is the source every optimized storage is copied from.
type AdjacencyListStorage struct {
	edges        *btree.BTreeG[types.Edge]
	inverseEdges *btree.BTreeG[types.Edge]
	annos        *btree.BTreeG[edgeAnnoItem]
	stats        Statistics
}

// NewAdjacencyListStorage creates an empty storage.
func NewAdjacencyListStorage() *AdjacencyListStorage {
	return &AdjacencyListStorage{
		edges:        btree.NewBTreeG(edgeLess),
		inverseEdges: btree.NewBTreeG(edgeLess),
		annos:        btree.NewBTreeG(edgeAnnoItemLess),
	}
}

func (gs *AdjacencyListStorage) ImplName() string {
	return ImplAdjacencyList
}

// Clear removes all edges and annotations.
func (gs *AdjacencyListStorage) Clear() {
	*gs = *NewAdjacencyListStorage()
}

// Copy replaces the content with all edges reachable in one hop from the nodes
// of the given universe and recalculates the statistics.
func (gs *AdjacencyListStorage) Copy(nodes NodeSource, orig ReadableGraphStorage) error {
	if orig == nil {
		return fmt.Errorf("cannot copy %s storage from nil source", ImplAdjacencyList)
	}
	gs.Clear()
	for n := range nodes.Nodes() {
		for _, t := range orig.OutgoingEdges(n) {
			e := types.Edge{Source: n, Target: t}
			gs.AddEdge(e)
			for _, a := range orig.EdgeAnnotations(e) {
				gs.AddEdgeAnnotation(e, a)
			}
		}
	}
	gs.CalculateStatistics(nodes)
	return nil
}

// AddEdge inserts an edge. Self loops are ignored.
func (gs *AdjacencyListStorage) AddEdge(edge types.Edge) {
	if edge.Source == edge.Target {
		return
	}
	gs.edges.Set(edge)
	gs.inverseEdges.Set(edge.Inverse())
	gs.stats.Valid = false
}

func (gs *AdjacencyListStorage) AddEdgeAnnotation(edge types.Edge, anno types.Annotation) {
	if _, ok := gs.edges.Get(edge); !ok {
		return
	}
	gs.annos.Set(edgeAnnoItem{Edge: edge, Anno: anno})
}

// DeleteEdge removes an edge and all of its annotations.
func (gs *AdjacencyListStorage) DeleteEdge(edge types.Edge) {
	gs.edges.Delete(edge)
	gs.inverseEdges.Delete(edge.Inverse())
	for _, a := range gs.EdgeAnnotations(edge) {
		gs.annos.Delete(edgeAnnoItem{Edge: edge, Anno: a})
	}
	gs.stats.Valid = false
}

func (gs *AdjacencyListStorage) OutgoingEdges(node types.NodeID) []types.NodeID {
	return neighbours(gs.edges, node)
}

// IngoingEdges returns the direct predecessors of node.
func (gs *AdjacencyListStorage) IngoingEdges(node types.NodeID) []types.NodeID {
	return neighbours(gs.inverseEdges, node)
}

func neighbours(tree *btree.BTreeG[types.Edge], node types.NodeID) []types.NodeID {
	var result []types.NodeID
	tree.Ascend(types.Edge{Source: node}, func(e types.Edge) bool {
		if e.Source != node {
			return false
		}
		result = append(result, e.Target)
		return true
	})
	return result
}

func (gs *AdjacencyListStorage) IsConnected(edge types.Edge, minDistance, maxDistance uint32) bool {
	if minDistance == 1 && maxDistance == 1 {
		_, ok := gs.edges.Get(edge)
		return ok
	}
	dfs := NewCycleSafeDFS(gs, edge.Source, minDistance, maxDistance)
	for step, ok := dfs.Next(); ok; step, ok = dfs.Next() {
		if step.Node == edge.Target {
			return true
		}
	}
	return false
}

// Distance performs a breadth first search, so the first hit is the shortest.
func (gs *AdjacencyListStorage) Distance(edge types.Edge) (uint32, bool) {
	if edge.Source == edge.Target {
		return 0, true
	}
	visited := map[types.NodeID]struct{}{edge.Source: {}}
	frontier := []types.NodeID{edge.Source}
	for dist := uint32(1); len(frontier) > 0; dist++ {
		var next []types.NodeID
		for _, n := range frontier {
			for _, t := range gs.OutgoingEdges(n) {
				if t == edge.Target {
					return dist, true
				}
				if _, seen := visited[t]; !seen {
					visited[t] = struct{}{}
					next = append(next, t)
				}
			}
		}
		frontier = next
	}
	return 0, false
}

func (gs *AdjacencyListStorage) FindConnected(source types.NodeID, minDistance, maxDistance uint32) EdgeIterator {
	return &uniqueDFSIterator{
		dfs:     NewCycleSafeDFS(gs, source, minDistance, maxDistance),
		visited: make(map[types.NodeID]struct{}),
	}
}

func (gs *AdjacencyListStorage) EdgeAnnotations(edge types.Edge) []types.Annotation {
	var result []types.Annotation
	gs.annos.Ascend(edgeAnnoItem{Edge: edge}, func(item edgeAnnoItem) bool {
		if item.Edge != edge {
			return false
		}
		result = append(result, item.Anno)
		return true
	})
	return result
}

func (gs *AdjacencyListStorage) NumberOfEdges() int {
	return gs.edges.Len()
}

func (gs *AdjacencyListStorage) NumberOfEdgeAnnotations() int {
	return gs.annos.Len()
}

func (gs *AdjacencyListStorage) Statistics() Statistics {
	return gs.stats
}

// CalculateStatistics traverses the component once from every root to collect
// fan-out, depth, cycle and DFS visit information.
func (gs *AdjacencyListStorage) CalculateStatistics(nodes NodeSource) {
	stats := Statistics{Valid: true, RootedTree: true}

	var fanOuts []float64
	var roots []types.NodeID
	for n := range nodes.Nodes() {
		out := gs.OutgoingEdges(n)
		in := gs.IngoingEdges(n)
		if len(out) == 0 && len(in) == 0 {
			continue
		}
		stats.Nodes++
		if len(in) > 1 {
			stats.RootedTree = false
		}
		if len(out) > 0 {
			fanOuts = append(fanOuts, float64(len(out)))
			if len(out) > stats.MaxFanOut {
				stats.MaxFanOut = len(out)
			}
			if len(in) == 0 {
				roots = append(roots, n)
			}
		}
	}
	if len(fanOuts) > 0 {
		stats.AvgFanOut = stat.Mean(fanOuts, nil)
	}

	if len(roots) > 1 {
		stats.RootedTree = false
	}

	visits := 0
	reached := make(map[types.NodeID]struct{}, stats.Nodes)
	for _, root := range roots {
		dfs := NewCycleSafeDFS(gs, root, 0, math.MaxUint32)
		for step, ok := dfs.Next(); ok; step, ok = dfs.Next() {
			visits++
			reached[step.Node] = struct{}{}
			if int(step.Distance) > stats.MaxDepth {
				stats.MaxDepth = int(step.Distance)
			}
		}
		if dfs.Cyclic() {
			stats.Cyclic = true
		}
	}
	// nodes not reachable from any root can only be part of a cycle
	if len(reached) < stats.Nodes {
		stats.Cyclic = true
	}
	if stats.Cyclic {
		stats.RootedTree = false
		stats.DFSVisitRatio = 0
	} else if stats.Nodes > 0 {
		stats.DFSVisitRatio = float64(visits) / float64(stats.Nodes)
	}
	gs.stats = stats
}

const adjacencyArchiveKind = "graphstorage/" + ImplAdjacencyList

type adjacencyArchive struct {
	Edges []types.Edge
	Annos []edgeAnnoItem
	Stats Statistics
}

// Save writes all edges, annotations and the last calculated statistics.
func (gs *AdjacencyListStorage) Save(w io.Writer) error {
	archive := adjacencyArchive{
		Edges: make([]types.Edge, 0, gs.edges.Len()),
		Stats: gs.stats,
	}
	gs.edges.Scan(func(e types.Edge) bool {
		archive.Edges = append(archive.Edges, e)
		return true
	})
	gs.annos.Scan(func(item edgeAnnoItem) bool {
		archive.Annos = append(archive.Annos, item)
		return true
	})
	return persistence.WriteArchive(w, adjacencyArchiveKind, &archive)
}

// Load replaces the content of the storage with a saved archive.
func (gs *AdjacencyListStorage) Load(r io.Reader) error {
	var archive adjacencyArchive
	if err := persistence.ReadArchive(r, adjacencyArchiveKind, &archive); err != nil {
		return err
	}
	gs.Clear()
	for _, e := range archive.Edges {
		gs.AddEdge(e)
	}
	for _, item := range archive.Annos {
		gs.annos.Set(item)
	}
	gs.stats = archive.Stats
	return nil
}

// uniqueDFSIterator reports every reachable node at most once.
type uniqueDFSIterator struct {
	dfs     *CycleSafeDFS
	visited map[types.NodeID]struct{}
}

func (it *uniqueDFSIterator) Next() (types.NodeID, bool) {
	for step, ok := it.dfs.Next(); ok; step, ok = it.dfs.Next() {
		if _, seen := it.visited[step.Node]; seen {
			continue
		}
		it.visited[step.Node] = struct{}{}
		return step.Node, true
	}
	return 0, false
}

func (it *uniqueDFSIterator) Reset() {
	it.dfs.Reset()
	clear(it.visited)
}
