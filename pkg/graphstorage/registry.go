package graphstorage

import (
	"fmt"
	"io"
	"slices"
	"sort"
)

// Storage is a graph storage that can be rebuilt from another storage and
// written to and read from an archive.
type Storage interface {
	ReadableGraphStorage
	Copy(nodes NodeSource, orig ReadableGraphStorage) error
	Save(w io.Writer) error
	Load(r io.Reader) error
}

// Registry creates storages by implementation name.
type Registry struct {
	dedup     DedupPolicy
	overrides map[string]string
	factories map[string]func() Storage
}

// NewRegistry returns a registry knowing all built-in implementations.
// overrides maps a component key (see types.Component.String) to the
// implementation that should be used for it regardless of its statistics.
func NewRegistry(dedup DedupPolicy, overrides map[string]string) *Registry {
	r := &Registry{
		dedup:     dedup,
		overrides: overrides,
		factories: make(map[string]func() Storage),
	}
	r.factories[ImplAdjacencyList] = func() Storage { return NewAdjacencyListStorage() }
	r.factories[ImplPrePostOrder] = func() Storage { return NewPrePostOrderStorage(r.dedup) }
	return r
}

// Create instantiates an empty storage of the given implementation.
func (r *Registry) Create(impl string) (Storage, error) {
	factory, ok := r.factories[impl]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownImpl, impl)
	}
	return factory(), nil
}

// Names lists the known implementations in lexical order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Optimal returns the implementation that should serve the component.
func (r *Registry) Optimal(component string, stats Statistics) string {
	if impl, ok := r.overrides[component]; ok && slices.Contains(r.Names(), impl) {
		return impl
	}
	return OptimalImplName(stats)
}

// OptimalImplName chooses the implementation from the statistics alone.
// Only acyclic relations can be numbered in pre/post order, and without
// statistics nothing is known about cycles.
func OptimalImplName(stats Statistics) string {
	if !stats.Valid || stats.Cyclic {
		return ImplAdjacencyList
	}
	return ImplPrePostOrder
}
