// Package core provides the corpus level data structures the query core runs on.
//
// This file defines the main DB struct, which orchestrates all data of one
// corpus: the string table, the node annotations and the registry of graph
// storages (components). Components can be loaded lazily from disk, converted
// to their optimal implementation and saved again.
package core

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/btree"
	"golang.org/x/sync/singleflight"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/graphstorage"
	"github.com/sanonone/annisdb/pkg/metrics"
	"github.com/sanonone/annisdb/pkg/persistence"
)

var (
	// ErrComponentNotFound is returned when a component is not part of the corpus.
	ErrComponentNotFound = errors.New("component not found")
	// ErrReadOnlyComponent is returned when edges are added to an optimized component.
	ErrReadOnlyComponent = errors.New("component is read-only")
)

const (
	stringsFile     = "strings.annis"
	nodeAnnosFile   = "nodes.annis"
	componentsFile  = "components.annis"
	componentsDir   = "gs"
	componentSuffix = ".annis"
)

// componentEntry is one registered graph storage. Storage is nil while the
// component is not loaded.
type componentEntry struct {
	Component types.Component
	Impl      string
	File      string
	Storage   graphstorage.Storage
}

func componentEntryLess(a, b *componentEntry) bool {
	return types.CompareComponents(a.Component, b.Component) < 0
}

// ComponentInfo describes a registered component.
type ComponentInfo struct {
	Component types.Component         `json:"component"`
	Impl      string                  `json:"impl"`
	Loaded    bool                    `json:"loaded"`
	Edges     int                     `json:"edges"`
	Stats     graphstorage.Statistics `json:"stats"`
}

// CorpusInfo models the public-facing information about a corpus.
type CorpusInfo struct {
	Name        string          `json:"name"`
	Nodes       int             `json:"nodes"`
	Annotations int             `json:"annotations"`
	Strings     int             `json:"strings"`
	MemoryBytes int64           `json:"memory_bytes"`
	Components  []ComponentInfo `json:"components"`
}

// DB is one corpus.
type DB struct {
	mu   sync.RWMutex
	name string
	dir  string

	Strings   *StringStorage
	NodeAnnos *NodeAnnoStorage

	components *btree.BTreeG[*componentEntry]
	registry   *graphstorage.Registry
	loads      singleflight.Group
	nextNode   types.NodeID

	logger *slog.Logger
}

// NewDB creates an empty corpus. A nil registry uses the built-in
// implementations with always-on de-duplication.
func NewDB(name string, registry *graphstorage.Registry) *DB {
	if registry == nil {
		registry = graphstorage.NewRegistry(graphstorage.DedupAlways, nil)
	}
	strs := NewStringStorage()
	db := &DB{
		name:       name,
		Strings:    strs,
		NodeAnnos:  NewNodeAnnoStorage(strs),
		components: btree.NewBTreeG(componentEntryLess),
		registry:   registry,
		logger:     slog.Default().With("corpus", name),
	}
	db.internBuiltins()
	return db
}

func (s *DB) internBuiltins() {
	for _, str := range []string{types.AnnisNS, types.AnnisNodeName, types.AnnisNodeType, types.AnnisTok} {
		s.Strings.Add(str)
	}
}

// Name returns the corpus name.
func (s *DB) Name() string {
	return s.name
}

// Nodes enumerates all nodes of the corpus.
func (s *DB) Nodes() iter.Seq[types.NodeID] {
	return s.NodeAnnos.Nodes()
}

// BuiltinKey returns the key of an annotation in the annis namespace.
func (s *DB) BuiltinKey(name string) types.AnnotationKey {
	ns, _ := s.Strings.FindID(types.AnnisNS)
	id, _ := s.Strings.FindID(name)
	return types.AnnotationKey{Name: id, NS: ns}
}

// --- Corpus construction ---

// AddNode creates a node with the given unique name and returns its id.
func (s *DB) AddNode(name string) types.NodeID {
	s.mu.Lock()
	id := s.nextNode
	s.nextNode++
	s.mu.Unlock()

	s.AddNodeAnnotation(id, types.AnnisNS, types.AnnisNodeName, name)
	s.AddNodeAnnotation(id, types.AnnisNS, types.AnnisNodeType, "node")
	return id
}

// AddToken creates a node carrying the token text.
func (s *DB) AddToken(name, text string) types.NodeID {
	id := s.AddNode(name)
	s.AddNodeAnnotation(id, types.AnnisNS, types.AnnisTok, text)
	return id
}

// AddNodeAnnotation interns the strings and annotates node.
func (s *DB) AddNodeAnnotation(node types.NodeID, ns, name, val string) types.Annotation {
	anno := types.Annotation{
		NS:   s.Strings.Add(ns),
		Name: s.Strings.Add(name),
		Val:  s.Strings.Add(val),
	}
	s.NodeAnnos.AddAnnotation(node, anno)
	return anno
}

// AddEdge adds an edge to a component, creating the component if needed.
// Only components with a writeable implementation accept new edges.
func (s *DB) AddEdge(c types.Component, edge types.Edge) error {
	gs, err := s.writeable(c)
	if err != nil {
		return err
	}
	gs.AddEdge(edge)
	return nil
}

// AddEdgeAnnotation annotates an existing edge of a component.
func (s *DB) AddEdgeAnnotation(c types.Component, edge types.Edge, ns, name, val string) error {
	gs, err := s.writeable(c)
	if err != nil {
		return err
	}
	gs.AddEdgeAnnotation(edge, types.Annotation{
		NS:   s.Strings.Add(ns),
		Name: s.Strings.Add(name),
		Val:  s.Strings.Add(val),
	})
	return nil
}

func (s *DB) writeable(c types.Component) (graphstorage.WriteableGraphStorage, error) {
	s.mu.Lock()
	entry, ok := s.components.Get(&componentEntry{Component: c})
	if !ok {
		storage := graphstorage.NewAdjacencyListStorage()
		s.components.Set(&componentEntry{
			Component: c,
			Impl:      storage.ImplName(),
			Storage:   storage,
		})
		s.mu.Unlock()
		return storage, nil
	}
	s.mu.Unlock()

	gs, err := s.ensureLoaded(entry)
	if err != nil {
		return nil, err
	}
	w, ok := gs.(graphstorage.WriteableGraphStorage)
	if !ok {
		return nil, fmt.Errorf("%w: %s uses %s", ErrReadOnlyComponent, c, gs.ImplName())
	}
	return w, nil
}

// --- Component registry ---

// Components returns all components of the given type, or all components if
// typ is nil.
func (s *DB) Components(typ *types.ComponentType) []types.Component {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Component
	s.components.Scan(func(e *componentEntry) bool {
		if typ == nil || e.Component.Type == *typ {
			result = append(result, e.Component)
		}
		return true
	})
	return result
}

// GraphStorage returns the storage of a component, loading it if necessary.
func (s *DB) GraphStorage(c types.Component) (graphstorage.ReadableGraphStorage, error) {
	s.mu.RLock()
	entry, ok := s.components.Get(&componentEntry{Component: c})
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, c)
	}
	return s.ensureLoaded(entry)
}

// AllGraphStorages returns the storages of all components with the given type
// and name, across all layers. An empty name matches every name.
func (s *DB) AllGraphStorages(typ types.ComponentType, name string) ([]graphstorage.ReadableGraphStorage, error) {
	var result []graphstorage.ReadableGraphStorage
	for _, c := range s.Components(&typ) {
		if name != "" && c.Name != name {
			continue
		}
		gs, err := s.GraphStorage(c)
		if err != nil {
			return nil, err
		}
		result = append(result, gs)
	}
	return result, nil
}

// IsLoaded reports whether the storage of a component is resident in memory.
func (s *DB) IsLoaded(c types.Component) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.components.Get(&componentEntry{Component: c})
	return ok && entry.Storage != nil
}

// EnsureAllLoaded loads every component that is still on disk.
func (s *DB) EnsureAllLoaded() error {
	s.mu.RLock()
	var entries []*componentEntry
	s.components.Scan(func(e *componentEntry) bool {
		entries = append(entries, e)
		return true
	})
	s.mu.RUnlock()

	for _, e := range entries {
		if _, err := s.ensureLoaded(e); err != nil {
			return err
		}
	}
	return nil
}

// ensureLoaded returns the storage of entry. Concurrent callers for the same
// component share one load.
func (s *DB) ensureLoaded(entry *componentEntry) (graphstorage.Storage, error) {
	s.mu.RLock()
	gs := entry.Storage
	s.mu.RUnlock()
	if gs != nil {
		return gs, nil
	}

	v, err, _ := s.loads.Do(entry.Component.String(), func() (any, error) {
		s.mu.RLock()
		loaded := entry.Storage
		s.mu.RUnlock()
		if loaded != nil {
			return loaded, nil
		}

		storage, err := s.registry.Create(entry.Impl)
		if err != nil {
			return nil, fmt.Errorf("component %s: %w", entry.Component, err)
		}
		path := filepath.Join(s.dir, componentsDir, entry.File)
		if err := persistence.LoadFile(path, storage.Load); err != nil {
			return nil, fmt.Errorf("failed to load component %s: %w", entry.Component, err)
		}

		s.mu.Lock()
		entry.Storage = storage
		s.mu.Unlock()
		metrics.LoadedComponents.WithLabelValues(s.name).Inc()
		s.logger.Debug("component loaded", "component", entry.Component.String(), "impl", entry.Impl)
		return storage, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(graphstorage.Storage), nil
}

// --- Optimization ---

// CalculateStatistics refreshes the node annotation histograms and the
// statistics of all writeable components.
func (s *DB) CalculateStatistics() error {
	s.NodeAnnos.CalculateStatistics()
	if err := s.EnsureAllLoaded(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.components.Scan(func(e *componentEntry) bool {
		if w, ok := e.Storage.(graphstorage.WriteableGraphStorage); ok {
			w.CalculateStatistics(s)
		}
		return true
	})
	return nil
}

// Optimize converts every component to the implementation that suits its
// statistics best.
func (s *DB) Optimize() error {
	if err := s.CalculateStatistics(); err != nil {
		return err
	}

	s.mu.RLock()
	var entries []*componentEntry
	s.components.Scan(func(e *componentEntry) bool {
		entries = append(entries, e)
		return true
	})
	s.mu.RUnlock()

	for _, e := range entries {
		if err := s.convert(e); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) convert(e *componentEntry) error {
	s.mu.RLock()
	orig := e.Storage
	s.mu.RUnlock()

	impl := s.registry.Optimal(e.Component.String(), orig.Statistics())
	if impl == orig.ImplName() {
		return nil
	}

	start := time.Now()
	storage, err := s.registry.Create(impl)
	if err != nil {
		return fmt.Errorf("component %s: %w", e.Component, err)
	}
	if err := storage.Copy(s, orig); err != nil {
		return fmt.Errorf("failed to convert component %s to %s: %w", e.Component, impl, err)
	}
	elapsed := time.Since(start)
	metrics.GraphStorageBuildDuration.WithLabelValues(impl).Observe(elapsed.Seconds())

	s.mu.Lock()
	e.Storage = storage
	e.Impl = impl
	s.mu.Unlock()

	s.logger.Info("component optimized",
		"component", e.Component.String(),
		"from", orig.ImplName(),
		"to", impl,
		"edges", storage.NumberOfEdges(),
		"duration", elapsed)
	return nil
}

// --- Persistence ---

const manifestArchiveKind = "core/components"

type manifestEntry struct {
	Component types.Component
	Impl      string
	File      string
}

type manifest struct {
	NextNode   types.NodeID
	Components []manifestEntry
}

// Save writes the whole corpus to dir. All components are loaded first.
func (s *DB) Save(dir string) error {
	if err := s.EnsureAllLoaded(); err != nil {
		return err
	}

	if err := persistence.SaveFile(filepath.Join(dir, stringsFile), s.Strings.Save); err != nil {
		return fmt.Errorf("failed to save strings: %w", err)
	}
	if err := persistence.SaveFile(filepath.Join(dir, nodeAnnosFile), s.NodeAnnos.Save); err != nil {
		return fmt.Errorf("failed to save node annotations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var m manifest
	var saveErr error
	i := 0
	s.components.Scan(func(e *componentEntry) bool {
		e.File = fmt.Sprintf("%04d%s", i, componentSuffix)
		i++
		path := filepath.Join(dir, componentsDir, e.File)
		if err := persistence.SaveFile(path, e.Storage.Save); err != nil {
			saveErr = fmt.Errorf("failed to save component %s: %w", e.Component, err)
			return false
		}
		m.Components = append(m.Components, manifestEntry{Component: e.Component, Impl: e.Impl, File: e.File})
		return true
	})
	if saveErr != nil {
		return saveErr
	}

	m.NextNode = s.nextNode
	err := persistence.SaveFile(filepath.Join(dir, componentsFile), func(w io.Writer) error {
		return persistence.WriteArchive(w, manifestArchiveKind, &m)
	})
	if err != nil {
		return fmt.Errorf("failed to save component manifest: %w", err)
	}
	s.dir = dir
	s.logger.Info("corpus saved", "dir", dir, "components", len(m.Components))
	return nil
}

// Exists reports whether dir contains a saved corpus.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, componentsFile))
	return err == nil
}

// Load opens a corpus saved with Save. Components stay on disk until they are
// first used, unless preload is set.
func Load(name, dir string, registry *graphstorage.Registry, preload bool) (*DB, error) {
	if _, err := os.Stat(filepath.Join(dir, componentsFile)); err != nil {
		return nil, fmt.Errorf("corpus %q not found in %s: %w", name, dir, err)
	}

	db := NewDB(name, registry)
	db.dir = dir
	if err := persistence.LoadFile(filepath.Join(dir, stringsFile), db.Strings.Load); err != nil {
		return nil, fmt.Errorf("failed to load strings: %w", err)
	}
	if err := persistence.LoadFile(filepath.Join(dir, nodeAnnosFile), db.NodeAnnos.Load); err != nil {
		return nil, fmt.Errorf("failed to load node annotations: %w", err)
	}

	var m manifest
	err := persistence.LoadFile(filepath.Join(dir, componentsFile), func(r io.Reader) error {
		return persistence.ReadArchive(r, manifestArchiveKind, &m)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load component manifest: %w", err)
	}
	db.nextNode = m.NextNode
	for _, c := range m.Components {
		db.components.Set(&componentEntry{Component: c.Component, Impl: c.Impl, File: c.File})
	}

	if preload {
		if err := db.EnsureAllLoaded(); err != nil {
			return nil, err
		}
	}
	db.logger.Info("corpus loaded", "dir", dir, "components", len(m.Components), "preload", preload)
	return db, nil
}

// --- Introspection ---

// EstimateMemorySize approximates the bytes held by the loaded parts of the corpus.
func (s *DB) EstimateMemorySize() int64 {
	size := s.Strings.EstimateMemorySize() + s.NodeAnnos.EstimateMemorySize()

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.components.Scan(func(e *componentEntry) bool {
		if e.Storage != nil {
			// an edge or order entry plus its tree or slice overhead
			size += int64(e.Storage.NumberOfEdges())*32 + int64(e.Storage.NumberOfEdgeAnnotations())*40
		}
		return true
	})
	return size
}

// Info returns a summary of the corpus without loading further components.
func (s *DB) Info() CorpusInfo {
	nodes := 0
	for range s.Nodes() {
		nodes++
	}
	info := CorpusInfo{
		Name:        s.name,
		Nodes:       nodes,
		Annotations: s.NodeAnnos.NumberOfAnnotations(),
		Strings:     s.Strings.Len(),
		MemoryBytes: s.EstimateMemorySize(),
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.components.Scan(func(e *componentEntry) bool {
		ci := ComponentInfo{Component: e.Component, Impl: e.Impl, Loaded: e.Storage != nil}
		if e.Storage != nil {
			ci.Edges = e.Storage.NumberOfEdges()
			ci.Stats = e.Storage.Statistics()
		}
		info.Components = append(info.Components, ci)
		return true
	})
	return info
}
