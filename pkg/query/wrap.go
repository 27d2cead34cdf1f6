package query

import (
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/join"
)

// joinState owns the tuple stream of one partition and hands every tuple out
// to the wrappers of the partition's variables, one match each.
type joinState struct {
	src      join.TupleIterator
	wrappers []*wrapIterator
}

func newJoinState(src join.TupleIterator, width int) *joinState {
	s := &joinState{src: src, wrappers: make([]*wrapIterator, width)}
	for i := range s.wrappers {
		s.wrappers[i] = &wrapIterator{state: s}
	}
	return s
}

// fetch pulls the next tuple and buffers its matches in all wrappers.
func (s *joinState) fetch() bool {
	t, ok := s.src.Next()
	if !ok {
		return false
	}
	for i, w := range s.wrappers {
		w.current = t[i]
		w.pending = true
	}
	return true
}

func (s *joinState) reset() {
	s.src.Reset()
	for _, w := range s.wrappers {
		w.pending = false
	}
}

func (s *joinState) close() {
	if c, ok := s.src.(interface{ Close() }); ok {
		c.Close()
	}
}

// wrapIterator yields the matches of a single variable of a partition. It
// asks the shared state for a new tuple only when its own buffer is empty.
type wrapIterator struct {
	state   *joinState
	current types.Match
	pending bool
}

func (w *wrapIterator) peek() bool {
	return w.pending || w.state.fetch()
}

func (w *wrapIterator) Next() (types.Match, bool) {
	if !w.peek() {
		return types.Match{}, false
	}
	w.pending = false
	return w.current, true
}

func (w *wrapIterator) Reset() {
	w.state.reset()
}
