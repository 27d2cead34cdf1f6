package graphstorage

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/tidwall/btree"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/persistence"
)

// ImplPrePostOrder is the registry name of PrePostOrderStorage.
const ImplPrePostOrder = "prepostorder"

// OrderEntry is the numbering a node receives during one DFS visit.
type OrderEntry struct {
	Pre   uint32
	Post  uint32
	Level int32
}

// Contains reports whether o is an ancestor-or-self of other in the DFS forest.
func (o OrderEntry) Contains(other OrderEntry) bool {
	return o.Pre <= other.Pre && other.Post <= o.Post
}

// NodeOrder pairs a node with one of its order entries.
type NodeOrder struct {
	Node  types.NodeID
	Order OrderEntry
}

func nodeOrderLess(a, b NodeOrder) bool {
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return a.Order.Pre < b.Order.Pre
}

// DedupPolicy decides whether FindConnected suppresses duplicate results.
type DedupPolicy int

const (
	// DedupAlways keeps a visited set for every iterator.
	DedupAlways DedupPolicy = iota
	// DedupHeuristic skips the visited set if the statistics prove that every
	// node is visited at most once (rooted tree, visit ratio <= 1).
	DedupHeuristic
)

// ParseDedupPolicy maps the configuration names "always" and "heuristic".
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch s {
	case "", "always":
		return DedupAlways, nil
	case "heuristic":
		return DedupHeuristic, nil
	}
	return DedupAlways, fmt.Errorf("unknown dedup policy %q", s)
}

// PrePostOrderStorage answers reachability queries with an interval
// containment test on a pre/post order numbering of the component. A node
// reachable over several paths gets one order entry per path.
//
// The storage is read-only once Copy or Load returned; querying it before
// panics with ErrNotBuilt.
type PrePostOrderStorage struct {
	node2order *btree.BTreeG[NodeOrder]
	// order2node is sorted by pre order and mirrored by preIdx
	order2node []NodeOrder
	preIdx     *OrderedIndex
	annos      *btree.BTreeG[edgeAnnoItem]
	stats      Statistics
	dedup      DedupPolicy
	built      bool
}

// NewPrePostOrderStorage creates an empty, unbuilt storage.
func NewPrePostOrderStorage(dedup DedupPolicy) *PrePostOrderStorage {
	gs := &PrePostOrderStorage{dedup: dedup}
	gs.Clear()
	return gs
}

func (gs *PrePostOrderStorage) ImplName() string {
	return ImplPrePostOrder
}

// Clear drops all indexes. The storage has to be rebuilt before it can be queried again.
func (gs *PrePostOrderStorage) Clear() {
	gs.node2order = btree.NewBTreeGOptions(nodeOrderLess, btree.Options{NoLocks: true})
	gs.order2node = nil
	gs.preIdx = NewOrderedIndex(0)
	gs.annos = btree.NewBTreeGOptions(edgeAnnoItemLess, btree.Options{NoLocks: true})
	gs.stats = Statistics{}
	gs.built = false
}

// Copy rebuilds the storage from orig. The node universe is needed to find
// the roots of the component.
func (gs *PrePostOrderStorage) Copy(nodes NodeSource, orig ReadableGraphStorage) error {
	if orig == nil {
		return fmt.Errorf("cannot copy %s storage from nil source", ImplPrePostOrder)
	}
	gs.Clear()

	stats := orig.Statistics()

	// roots have outgoing edges but are never the target of one
	candidates := make(map[types.NodeID]struct{})
	targets := make(map[types.NodeID]struct{})
	for n := range nodes.Nodes() {
		out := orig.OutgoingEdges(n)
		if len(out) > 0 {
			candidates[n] = struct{}{}
		}
		for _, t := range out {
			targets[t] = struct{}{}
			e := types.Edge{Source: n, Target: t}
			for _, a := range orig.EdgeAnnotations(e) {
				gs.annos.Set(edgeAnnoItem{Edge: e, Anno: a})
			}
		}
	}
	roots := make([]types.NodeID, 0, len(candidates))
	for n := range candidates {
		if _, isTarget := targets[n]; !isTarget {
			roots = append(roots, n)
		}
	}
	slices.Sort(roots)

	entries := make([]NodeOrder, 0, int(expectedVisits(stats, orig.NumberOfEdges())))
	// 0 is reserved, numbering starts at 1
	currentOrder := uint32(1)
	for _, root := range roots {
		stack := []NodeOrder{{Node: root, Order: OrderEntry{Pre: currentOrder}}}
		currentOrder++

		dfs := NewCycleSafeDFS(orig, root, 1, math.MaxUint32)
		for step, ok := dfs.Next(); ok; step, ok = dfs.Next() {
			// the parent of this step is the entry at index Distance-1, every
			// entry above it has been completely traversed
			for len(stack) > int(step.Distance) {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				top.Order.Post = currentOrder
				currentOrder++
				entries = append(entries, top)
			}
			stack = append(stack, NodeOrder{
				Node:  step.Node,
				Order: OrderEntry{Pre: currentOrder, Level: int32(step.Distance)},
			})
			currentOrder++
		}
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			top.Order.Post = currentOrder
			currentOrder++
			entries = append(entries, top)
		}
	}

	gs.index(entries, stats)
	return nil
}

// index builds both lookup structures from the collected entries.
func (gs *PrePostOrderStorage) index(entries []NodeOrder, stats Statistics) {
	slices.SortFunc(entries, func(a, b NodeOrder) int {
		return cmp.Compare(a.Order.Pre, b.Order.Pre)
	})

	gs.preIdx = NewOrderedIndex(float64(len(entries)))
	for _, e := range entries {
		gs.preIdx.Append(e.Order.Pre)
		gs.node2order.Set(e)
	}
	gs.order2node = entries
	gs.stats = stats
	gs.built = true
}

func (gs *PrePostOrderStorage) mustBeBuilt() {
	if !gs.built {
		panic(fmt.Errorf("%w: %s", ErrNotBuilt, ImplPrePostOrder))
	}
}

// orders returns all order entries of a node.
func (gs *PrePostOrderStorage) orders(node types.NodeID) []OrderEntry {
	var result []OrderEntry
	gs.node2order.Ascend(NodeOrder{Node: node}, func(e NodeOrder) bool {
		if e.Node != node {
			return false
		}
		result = append(result, e.Order)
		return true
	})
	return result
}

// Orders exposes the order entries of a node, mainly for diagnostics.
func (gs *PrePostOrderStorage) Orders(node types.NodeID) []OrderEntry {
	gs.mustBeBuilt()
	return gs.orders(node)
}

func (gs *PrePostOrderStorage) OutgoingEdges(node types.NodeID) []types.NodeID {
	it := gs.FindConnected(node, 1, 1)
	var result []types.NodeID
	for n, ok := it.Next(); ok; n, ok = it.Next() {
		result = append(result, n)
	}
	return result
}

func (gs *PrePostOrderStorage) IsConnected(edge types.Edge, minDistance, maxDistance uint32) bool {
	gs.mustBeBuilt()
	sources := gs.orders(edge.Source)
	targets := gs.orders(edge.Target)
	for _, s := range sources {
		for _, t := range targets {
			if !s.Contains(t) {
				continue
			}
			diff := levelDiff(s.Level, t.Level)
			if minDistance <= diff && diff <= maxDistance {
				return true
			}
		}
	}
	return false
}

func (gs *PrePostOrderStorage) Distance(edge types.Edge) (uint32, bool) {
	gs.mustBeBuilt()
	if edge.Source == edge.Target {
		return 0, true
	}
	found := false
	minLevel := int32(math.MaxInt32)
	for _, s := range gs.orders(edge.Source) {
		for _, t := range gs.orders(edge.Target) {
			if !s.Contains(t) {
				continue
			}
			if diff := t.Level - s.Level; diff >= 0 && diff < minLevel {
				minLevel = diff
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}
	return uint32(minLevel), true
}

func (gs *PrePostOrderStorage) FindConnected(source types.NodeID, minDistance, maxDistance uint32) EdgeIterator {
	gs.mustBeBuilt()
	it := &prePostIterator{
		gs:          gs,
		source:      source,
		minDistance: minDistance,
		maxDistance: maxDistance,
		unique:      gs.needsDedup(),
	}
	it.init()
	return it
}

func (gs *PrePostOrderStorage) needsDedup() bool {
	if gs.dedup == DedupAlways {
		return true
	}
	s := gs.stats
	return !(s.Valid && s.RootedTree && s.DFSVisitRatio <= 1.0)
}

func (gs *PrePostOrderStorage) EdgeAnnotations(edge types.Edge) []types.Annotation {
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

// NumberOfEdges counts order entries, which is the number of edges of the
// tree the DFS numbering unfolds the component into.
func (gs *PrePostOrderStorage) NumberOfEdges() int {
	return gs.node2order.Len()
}

func (gs *PrePostOrderStorage) NumberOfEdgeAnnotations() int {
	return gs.annos.Len()
}

func (gs *PrePostOrderStorage) Statistics() Statistics {
	return gs.stats
}

const prePostArchiveKind = "graphstorage/" + ImplPrePostOrder

type prePostArchive struct {
	Entries []NodeOrder
	Annos   []edgeAnnoItem
	Stats   Statistics
}

// Save writes the order entries, edge annotations and statistics.
func (gs *PrePostOrderStorage) Save(w io.Writer) error {
	gs.mustBeBuilt()
	archive := prePostArchive{Entries: gs.order2node, Stats: gs.stats}
	gs.annos.Scan(func(item edgeAnnoItem) bool {
		archive.Annos = append(archive.Annos, item)
		return true
	})
	return persistence.WriteArchive(w, prePostArchiveKind, &archive)
}

// Load replaces the content of the storage with a saved archive.
func (gs *PrePostOrderStorage) Load(r io.Reader) error {
	var archive prePostArchive
	if err := persistence.ReadArchive(r, prePostArchiveKind, &archive); err != nil {
		return err
	}
	gs.Clear()
	for _, a := range archive.Annos {
		gs.annos.Set(a)
	}
	gs.index(archive.Entries, archive.Stats)
	return nil
}

func levelDiff(a, b int32) uint32 {
	if a > b {
		return uint32(a - b)
	}
	return uint32(b - a)
}

// searchRange is the slice of order2node nested under one visit of the source.
type searchRange struct {
	startIdx    int
	endIdx      int
	maximumPost uint32
	startLevel  int32
}

type prePostIterator struct {
	gs          *PrePostOrderStorage
	source      types.NodeID
	minDistance uint32
	maxDistance uint32

	ranges  []searchRange
	current int
	unique  bool
	visited btree.Set[types.NodeID]
}

func (it *prePostIterator) init() {
	it.ranges = it.ranges[:0]
	for _, order := range it.gs.orders(it.source) {
		r := it.gs.preIdx.SearchRange(order.Pre, order.Post)
		if r.Count > 0 {
			it.ranges = append(it.ranges, searchRange{
				startIdx:    r.StartIdx,
				endIdx:      r.EndIdx,
				maximumPost: order.Post,
				startLevel:  order.Level,
			})
		}
	}
	if len(it.ranges) > 0 {
		it.current = it.ranges[len(it.ranges)-1].startIdx
	}
}

func (it *prePostIterator) Next() (types.NodeID, bool) {
	order2node := it.gs.order2node
	for len(it.ranges) > 0 {
		r := it.ranges[len(it.ranges)-1]
		for it.current <= r.endIdx && it.current < len(order2node) &&
			order2node[it.current].Order.Pre < r.maximumPost {

			candidate := order2node[it.current]
			it.current++

			diff := levelDiff(candidate.Order.Level, r.startLevel)
			if candidate.Order.Post > r.maximumPost || diff < it.minDistance || diff > it.maxDistance {
				continue
			}
			if it.unique {
				if it.visited.Contains(candidate.Node) {
					continue
				}
				it.visited.Insert(candidate.Node)
			}
			return candidate.Node, true
		}

		// this range is exhausted, continue with the next one
		it.ranges = it.ranges[:len(it.ranges)-1]
		if len(it.ranges) > 0 {
			it.current = it.ranges[len(it.ranges)-1].startIdx
		}
	}
	return 0, false
}

func (it *prePostIterator) Reset() {
	it.visited = btree.Set[types.NodeID]{}
	it.init()
}
