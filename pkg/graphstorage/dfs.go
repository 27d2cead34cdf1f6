package graphstorage

import (
	"github.com/sanonone/annisdb/pkg/core/types"
)

// adjacency is the part of a storage a traversal needs.
type adjacency interface {
	OutgoingEdges(node types.NodeID) []types.NodeID
}

// DFSStep is a single visit of a depth first traversal.
type DFSStep struct {
	Node     types.NodeID
	Distance uint32
}

// CycleSafeDFS is an iterative depth first traversal that visits a node once
// per distinct path leading to it. Nodes already on the current path are not
// entered again, so cyclic input terminates.
type CycleSafeDFS struct {
	gs          adjacency
	start       types.NodeID
	minDistance uint32
	maxDistance uint32

	stack  []DFSStep
	path   []types.NodeID
	inPath map[types.NodeID]struct{}
	cyclic bool
}

// NewCycleSafeDFS starts a traversal at start. Only visits with a distance in
// [minDistance, maxDistance] are returned, and no node deeper than maxDistance
// is expanded.
func NewCycleSafeDFS(gs adjacency, start types.NodeID, minDistance, maxDistance uint32) *CycleSafeDFS {
	d := &CycleSafeDFS{
		gs:          gs,
		start:       start,
		minDistance: minDistance,
		maxDistance: maxDistance,
	}
	d.Reset()
	return d
}

// Reset restarts the traversal at its start node.
func (d *CycleSafeDFS) Reset() {
	d.stack = append(d.stack[:0], DFSStep{Node: d.start, Distance: 0})
	d.path = d.path[:0]
	d.inPath = make(map[types.NodeID]struct{})
	d.cyclic = false
}

// Cyclic reports whether the traversal so far ran into a cycle.
func (d *CycleSafeDFS) Cyclic() bool {
	return d.cyclic
}

// Next returns the next visit within the distance range.
func (d *CycleSafeDFS) Next() (DFSStep, bool) {
	for len(d.stack) > 0 {
		step := d.stack[len(d.stack)-1]
		d.stack = d.stack[:len(d.stack)-1]

		// leave all nodes of the path that are not ancestors of this step
		for uint32(len(d.path)) > step.Distance {
			last := d.path[len(d.path)-1]
			d.path = d.path[:len(d.path)-1]
			delete(d.inPath, last)
		}

		if _, onPath := d.inPath[step.Node]; onPath {
			d.cyclic = true
			continue
		}
		d.path = append(d.path, step.Node)
		d.inPath[step.Node] = struct{}{}

		if step.Distance < d.maxDistance {
			out := d.gs.OutgoingEdges(step.Node)
			// push in reverse so the first successor is visited first
			for i := len(out) - 1; i >= 0; i-- {
				d.stack = append(d.stack, DFSStep{Node: out[i], Distance: step.Distance + 1})
			}
		}

		if step.Distance >= d.minDistance {
			return step, true
		}
	}
	return DFSStep{}, false
}
