// Package graphstorage provides the storages for a single relation type between
// nodes of a corpus graph.
//
// This file defines the ReadableGraphStorage interface, which establishes the
// contract shared by all implementations (adjacency list and pre/post order
// reachability index), together with the statistics used to pick the best
// implementation for a component and to size its indexes.
package graphstorage

import (
	"errors"
	"iter"

	"github.com/sanonone/annisdb/pkg/core/types"
)

var (
	// ErrNotBuilt is raised when a storage is queried before it was constructed.
	ErrNotBuilt = errors.New("graph storage queried before construction")
	// ErrUnknownImpl indicates a registry lookup for an implementation that does not exist.
	ErrUnknownImpl = errors.New("unknown graph storage implementation")
)

// EdgeIterator is a lazy, restartable sequence of reachable nodes.
// Iterators are stateful and must not be advanced concurrently.
type EdgeIterator interface {
	Next() (types.NodeID, bool)
	Reset()
}

// NodeSource enumerates the node universe of a corpus.
type NodeSource interface {
	Nodes() iter.Seq[types.NodeID]
}

// ReadableGraphStorage answers adjacency, reachability and distance queries for
// one component. All methods are safe for concurrent use once the storage has
// been constructed.
type ReadableGraphStorage interface {
	// OutgoingEdges returns the direct successors of node.
	OutgoingEdges(node types.NodeID) []types.NodeID
	// IsConnected reports whether edge.Target is reachable from edge.Source
	// with a hop distance in [minDistance, maxDistance].
	IsConnected(edge types.Edge, minDistance, maxDistance uint32) bool
	// Distance returns the minimum hop count from source to target. The second
	// result is false if the target is unreachable.
	Distance(edge types.Edge) (uint32, bool)
	// FindConnected returns all nodes reachable from source within the inclusive
	// distance range. The order is unspecified.
	FindConnected(source types.NodeID, minDistance, maxDistance uint32) EdgeIterator
	EdgeAnnotations(edge types.Edge) []types.Annotation
	NumberOfEdges() int
	NumberOfEdgeAnnotations() int
	Statistics() Statistics
	// ImplName is the registry name of the implementation.
	ImplName() string
}

// WriteableGraphStorage is a storage that can be modified edge by edge.
type WriteableGraphStorage interface {
	ReadableGraphStorage
	AddEdge(edge types.Edge)
	AddEdgeAnnotation(edge types.Edge, anno types.Annotation)
	DeleteEdge(edge types.Edge)
	CalculateStatistics(nodes NodeSource)
}

// Statistics describes the shape of the relation stored in a component.
type Statistics struct {
	// Valid is false if the statistics were never calculated.
	Valid bool
	// Nodes is the number of nodes that take part in at least one edge.
	Nodes      int
	AvgFanOut  float64
	MaxFanOut  int
	MaxDepth   int
	Cyclic     bool
	RootedTree bool
	// DFSVisitRatio is the number of DFS visits needed to traverse the
	// component from all roots, divided by the number of nodes.
	DFSVisitRatio float64
}

// expectedVisits estimates how many order entries a DFS numbering of a
// storage with these statistics produces. Unusable statistics fall back to the
// conservative raw edge count.
func expectedVisits(stats Statistics, edges int) float64 {
	expected := float64(edges)
	if stats.Valid && !stats.Cyclic && stats.DFSVisitRatio > 0 {
		expected *= stats.DFSVisitRatio
	}
	return expected
}

// sliceIterator is an EdgeIterator over a materialized result.
type sliceIterator struct {
	nodes []types.NodeID
	pos   int
}

func (it *sliceIterator) Next() (types.NodeID, bool) {
	if it.pos >= len(it.nodes) {
		return 0, false
	}
	n := it.nodes[it.pos]
	it.pos++
	return n, true
}

func (it *sliceIterator) Reset() {
	it.pos = 0
}
