// Package annosearch provides the node searches of a query: lazy, restartable
// producers of matches for a single query variable.
package annosearch

import (
	"github.com/sanonone/annisdb/pkg/core/types"
)

// Iterator is a lazy, restartable sequence of matches.
// Iterators are stateful and must not be advanced concurrently.
type Iterator interface {
	Next() (types.Match, bool)
	Reset()
}

// EstimatedSearch is a node search whose result size can be estimated before
// it is executed.
type EstimatedSearch interface {
	Iterator
	// GuessMaxCount estimates the number of matches, -1 if unknown.
	GuessMaxCount() int
	// MatchesFor returns the matches this search produces for a single node.
	// Index joins use it to check candidates without running the search.
	MatchesFor(node types.NodeID) []types.Match
	String() string
}

// ListWrapper iterates over a materialized list of matches in insertion order.
type ListWrapper struct {
	matches []types.Match
	pos     int
}

// NewListWrapper wraps matches without copying them.
func NewListWrapper(matches []types.Match) *ListWrapper {
	return &ListWrapper{matches: matches}
}

func (w *ListWrapper) Next() (types.Match, bool) {
	if w.pos >= len(w.matches) {
		return types.Match{}, false
	}
	m := w.matches[w.pos]
	w.pos++
	return m, true
}

func (w *ListWrapper) Reset() {
	w.pos = 0
}

// Len returns the number of wrapped matches.
func (w *ListWrapper) Len() int {
	return len(w.matches)
}

// SingleElement yields exactly one match.
type SingleElement struct {
	match    types.Match
	consumed bool
}

func NewSingleElement(m types.Match) *SingleElement {
	return &SingleElement{match: m}
}

func (s *SingleElement) Next() (types.Match, bool) {
	if s.consumed {
		return types.Match{}, false
	}
	s.consumed = true
	return s.match, true
}

func (s *SingleElement) Reset() {
	s.consumed = false
}

type emptyIterator struct{}

func (emptyIterator) Next() (types.Match, bool) { return types.Match{}, false }
func (emptyIterator) Reset()                    {}

// Empty returns an iterator without any match.
func Empty() Iterator {
	return emptyIterator{}
}

// Collect drains it into a slice.
func Collect(it Iterator) []types.Match {
	var result []types.Match
	for m, ok := it.Next(); ok; m, ok = it.Next() {
		result = append(result, m)
	}
	return result
}
