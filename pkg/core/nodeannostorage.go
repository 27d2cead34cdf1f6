package core

import (
	"io"
	"iter"
	"slices"
	"sort"
	"sync"
	"unicode/utf8"

	"github.com/tidwall/btree"

	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/persistence"
)

const (
	// maxHistogramBuckets bounds the number of value buckets kept per key.
	maxHistogramBuckets = 250
	// maxSampledAnnotations bounds the number of values read per key while
	// building a histogram.
	maxSampledAnnotations = 2500
)

// nodeAnno orders annotations by node so all annotations of a node are adjacent.
type nodeAnno struct {
	Node types.NodeID
	Anno types.Annotation
}

func nodeAnnoLess(a, b nodeAnno) bool {
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return types.CompareAnnotations(a.Anno, b.Anno) < 0
}

// annoNode orders annotations by (name, namespace, value) so a search for a
// key or a key/value pair is a contiguous range.
func annoNodeLess(a, b nodeAnno) bool {
	if c := types.CompareAnnotations(a.Anno, b.Anno); c != 0 {
		return c < 0
	}
	return a.Node < b.Node
}

// NodeAnnoStorage holds the annotations of all nodes of a corpus together with
// per key statistics for cardinality estimation.
type NodeAnnoStorage struct {
	mu      sync.RWMutex
	strings *StringStorage

	byNode *btree.BTreeG[nodeAnno]
	byAnno *btree.BTreeG[nodeAnno]
	keys   map[types.AnnotationKey]int
	// histograms holds sorted bucket bounds per key, see CalculateStatistics
	histograms map[types.AnnotationKey][]string
}

// NewNodeAnnoStorage creates an empty storage resolving values with strings.
func NewNodeAnnoStorage(strings *StringStorage) *NodeAnnoStorage {
	s := &NodeAnnoStorage{strings: strings}
	s.clear()
	return s
}

func (s *NodeAnnoStorage) clear() {
	s.byNode = btree.NewBTreeG(nodeAnnoLess)
	s.byAnno = btree.NewBTreeG(annoNodeLess)
	s.keys = make(map[types.AnnotationKey]int)
	s.histograms = make(map[types.AnnotationKey][]string)
}

// AddAnnotation sets an annotation of node. An existing annotation with the
// same key is replaced.
func (s *NodeAnnoStorage) AddAnnotation(node types.NodeID, anno types.Annotation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.annotation(node, anno.Key()); ok {
		s.byNode.Delete(nodeAnno{Node: node, Anno: old})
		s.byAnno.Delete(nodeAnno{Node: node, Anno: old})
		s.keys[old.Key()]--
	}
	item := nodeAnno{Node: node, Anno: anno}
	s.byNode.Set(item)
	s.byAnno.Set(item)
	s.keys[anno.Key()]++
}

// Annotations returns all annotations of node.
func (s *NodeAnnoStorage) Annotations(node types.NodeID) []types.Annotation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Annotation
	s.byNode.Ascend(nodeAnno{Node: node}, func(item nodeAnno) bool {
		if item.Node != node {
			return false
		}
		result = append(result, item.Anno)
		return true
	})
	return result
}

// Annotation returns the annotation of node with the given key.
func (s *NodeAnnoStorage) Annotation(node types.NodeID, key types.AnnotationKey) (types.Annotation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.annotation(node, key)
}

func (s *NodeAnnoStorage) annotation(node types.NodeID, key types.AnnotationKey) (types.Annotation, bool) {
	var found types.Annotation
	ok := false
	s.byNode.Ascend(nodeAnno{Node: node, Anno: types.Annotation{Name: key.Name, NS: key.NS}}, func(item nodeAnno) bool {
		if item.Node == node && item.Anno.Key() == key {
			found, ok = item.Anno, true
		}
		return false
	})
	return found, ok
}

// Search returns all matches with the given name. A zero namespace or value
// matches any namespace or value. Matches are ordered by value, then node.
func (s *NodeAnnoStorage) Search(ns, name, val uint32) []types.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []types.Match
	pivot := nodeAnno{Anno: types.Annotation{Name: name, NS: ns, Val: val}}
	s.byAnno.Ascend(pivot, func(item nodeAnno) bool {
		a := item.Anno
		if a.Name != name || (ns != 0 && a.NS != ns) {
			return false
		}
		if val != 0 && a.Val != val {
			// values are only contiguous inside one namespace
			return ns == 0
		}
		result = append(result, types.Match{Node: item.Node, Anno: a})
		return true
	})
	return result
}

// Keys returns all annotation keys with the given name, or all keys if name is 0.
func (s *NodeAnnoStorage) Keys(name uint32) []types.AnnotationKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []types.AnnotationKey
	for k, count := range s.keys {
		if count > 0 && (name == 0 || k.Name == name) {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, types.CompareAnnotationKeys)
	return keys
}

// NumberOfAnnotations returns the total number of node annotations.
func (s *NodeAnnoStorage) NumberOfAnnotations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byNode.Len()
}

// Nodes enumerates every annotated node once, in id order.
func (s *NodeAnnoStorage) Nodes() iter.Seq[types.NodeID] {
	return func(yield func(types.NodeID) bool) {
		s.mu.RLock()
		nodes := make([]types.NodeID, 0)
		s.byNode.Scan(func(item nodeAnno) bool {
			if len(nodes) == 0 || nodes[len(nodes)-1] != item.Node {
				nodes = append(nodes, item.Node)
			}
			return true
		})
		s.mu.RUnlock()

		for _, n := range nodes {
			if !yield(n) {
				return
			}
		}
	}
}

// CalculateStatistics samples the values of every key and stores sorted
// bucket bounds used by GuessCount.
func (s *NodeAnnoStorage) CalculateStatistics() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.histograms = make(map[types.AnnotationKey][]string, len(s.keys))
	for key, count := range s.keys {
		if count == 0 {
			continue
		}
		stride := 1
		if count > maxSampledAnnotations {
			stride = count / maxSampledAnnotations
		}

		var values []string
		i := 0
		pivot := nodeAnno{Anno: types.Annotation{Name: key.Name, NS: key.NS}}
		s.byAnno.Ascend(pivot, func(item nodeAnno) bool {
			if item.Anno.Key() != key {
				return false
			}
			if i%stride == 0 {
				if v, ok := s.strings.Str(item.Anno.Val); ok {
					values = append(values, v)
				}
			}
			i++
			return true
		})
		if len(values) == 0 {
			continue
		}
		sort.Strings(values)

		numBounds := min(maxHistogramBuckets+1, len(values))
		bounds := make([]string, numBounds)
		if numBounds == 1 {
			bounds[0] = values[0]
		} else {
			delta := float64(len(values)-1) / float64(numBounds-1)
			for b := range bounds {
				bounds[b] = values[int(float64(b)*delta)]
			}
		}
		s.histograms[key] = bounds
	}
}

// GuessCount estimates how many annotations with the given name (and namespace,
// unless ns is 0) have a value in [lower, upper].
func (s *NodeAnnoStorage) GuessCount(ns, name uint32, lower, upper string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := 0
	for key, count := range s.keys {
		if key.Name != name || (ns != 0 && key.NS != ns) || count == 0 {
			continue
		}
		bounds, ok := s.histograms[key]
		if !ok {
			// without statistics assume the worst case
			total += count
			continue
		}
		if len(bounds) == 1 {
			if lower <= bounds[0] && bounds[0] <= upper {
				total += count
			}
			continue
		}
		buckets := len(bounds) - 1
		matching := 0
		for b := 0; b < buckets; b++ {
			if bounds[b] <= upper && lower <= bounds[b+1] {
				matching++
			}
		}
		total += int(float64(count) * float64(matching) / float64(buckets))
	}
	return total
}

// GuessCountExact estimates the number of annotations with exactly the value val.
func (s *NodeAnnoStorage) GuessCountExact(ns, name uint32, val string) int {
	return s.GuessCount(ns, name, val, val)
}

// GuessCountPrefix estimates the number of annotations whose value starts with prefix.
func (s *NodeAnnoStorage) GuessCountPrefix(ns, name uint32, prefix string) int {
	return s.GuessCount(ns, name, prefix, prefix+string(utf8.MaxRune))
}

// EstimateMemorySize approximates the bytes held by both indexes.
func (s *NodeAnnoStorage) EstimateMemorySize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// two tree entries of 16 bytes plus node overhead per annotation
	return int64(s.byNode.Len()) * 48
}

const nodeAnnosArchiveKind = "core/nodeannos"

type nodeAnnoArchive struct {
	Annotations []nodeAnno
	Histograms  map[types.AnnotationKey][]string
}

// Save writes all annotations and histograms.
func (s *NodeAnnoStorage) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	archive := nodeAnnoArchive{
		Annotations: make([]nodeAnno, 0, s.byNode.Len()),
		Histograms:  s.histograms,
	}
	s.byNode.Scan(func(item nodeAnno) bool {
		archive.Annotations = append(archive.Annotations, item)
		return true
	})
	return persistence.WriteArchive(w, nodeAnnosArchiveKind, &archive)
}

// Load replaces the content with a saved archive.
func (s *NodeAnnoStorage) Load(r io.Reader) error {
	var archive nodeAnnoArchive
	if err := persistence.ReadArchive(r, nodeAnnosArchiveKind, &archive); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.clear()
	for _, item := range archive.Annotations {
		s.byNode.Set(item)
		s.byAnno.Set(item)
		s.keys[item.Anno.Key()]++
	}
	if archive.Histograms != nil {
		s.histograms = archive.Histograms
	}
	return nil
}
