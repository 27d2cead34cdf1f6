// Package join combines the tuple streams of two query partitions under an
// operator.
//
// All strategies produce the lhs tuple followed by the rhs tuple, no matter
// which side drives the loop. Tuples returned by Next are freshly allocated
// and may be kept by the caller.
package join

import (
	"fmt"
	"strings"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/operators"
)

// Strategy selects how two partitions are joined.
type Strategy int

const (
	// NestedLoop filters the full cross product of both sides.
	NestedLoop Strategy = iota
	// Seed asks the operator for the candidates of every lhs match and only
	// checks those against the rhs node search.
	Seed
	// ParallelNestedLoop is NestedLoop with the filter calls spread over a
	// worker pool.
	ParallelNestedLoop
)

func (s Strategy) String() string {
	switch s {
	case NestedLoop:
		return "nestedloop"
	case Seed:
		return "seed"
	case ParallelNestedLoop:
		return "parallel"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses the names returned by Strategy.String. The empty
// string selects NestedLoop.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "nestedloop", "nested_loop":
		return NestedLoop, nil
	case "seed", "index":
		return Seed, nil
	case "parallel", "parallelnestedloop", "parallel_nested_loop":
		return ParallelNestedLoop, nil
	}
	return NestedLoop, fmt.Errorf("unknown join strategy %q", s)
}

// TupleIterator is a lazy, restartable sequence of match tuples.
type TupleIterator interface {
	Next() ([]types.Match, bool)
	Reset()
}

// concat returns a new tuple holding lhs followed by rhs.
func concat(lhs, rhs []types.Match) []types.Match {
	t := make([]types.Match, 0, len(lhs)+len(rhs))
	t = append(t, lhs...)
	return append(t, rhs...)
}

// related reports whether op accepts the pair, rejecting a match paired with
// itself unless the operator is reflexive.
func related(op operators.Operator, lhs, rhs types.Match) bool {
	if !op.IsReflexive() && lhs.Node == rhs.Node && lhs.Anno.Key() == rhs.Anno.Key() {
		return false
	}
	return op.Filter(lhs, rhs)
}

// searchTuples turns a node search into a stream of 1-tuples.
type searchTuples struct {
	search annosearch.Iterator
}

// FromSearch wraps a single variable search as a tuple stream.
func FromSearch(search annosearch.Iterator) TupleIterator {
	return &searchTuples{search: search}
}

func (s *searchTuples) Next() ([]types.Match, bool) {
	m, ok := s.search.Next()
	if !ok {
		return nil, false
	}
	return []types.Match{m}, true
}

func (s *searchTuples) Reset() {
	s.search.Reset()
}

// tupleList replays materialized tuples.
type tupleList struct {
	tuples [][]types.Match
	pos    int
}

func (l *tupleList) Next() ([]types.Match, bool) {
	if l.pos >= len(l.tuples) {
		return nil, false
	}
	t := l.tuples[l.pos]
	l.pos++
	return t, true
}

func (l *tupleList) Reset() {
	l.pos = 0
}

// Filter drops the tuples of a joined stream whose members at lhsIdx and
// rhsIdx do not satisfy op. It is used for operators between two variables
// that were already joined by another operator.
type Filter struct {
	src    TupleIterator
	op     operators.Operator
	lhsIdx int
	rhsIdx int
}

func NewFilter(src TupleIterator, op operators.Operator, lhsIdx, rhsIdx int) *Filter {
	return &Filter{src: src, op: op, lhsIdx: lhsIdx, rhsIdx: rhsIdx}
}

func (f *Filter) Next() ([]types.Match, bool) {
	for {
		t, ok := f.src.Next()
		if !ok {
			return nil, false
		}
		if related(f.op, t[f.lhsIdx], t[f.rhsIdx]) {
			return t, true
		}
	}
}

func (f *Filter) Reset() {
	f.src.Reset()
}

// Close releases the resources held by the wrapped stream.
func (f *Filter) Close() {
	closeIterator(f.src)
}

type closer interface {
	Close()
}

func closeIterator(it TupleIterator) {
	if c, ok := it.(closer); ok {
		c.Close()
	}
}
