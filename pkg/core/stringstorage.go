// Package core provides the corpus level data structures the query core runs on.
//
// This file implements the string interning table. Every namespace, name and
// value of an annotation is stored once and referenced by a stable uint32 id.
// A read-write mutex allows concurrent lookups while ensuring exclusive access
// for Add.
package core

import (
	"io"
	"strings"
	"sync"

	"github.com/tidwall/btree"

	"github.com/sanonone/annisdb/pkg/persistence"
)

// StringStorage is a thread-safe, in-memory string interning table.
// Id 0 is never assigned so it can mean "any" in search templates.
type StringStorage struct {
	mu      sync.RWMutex
	byID    []string
	byValue btree.Map[string, uint32]
}

// NewStringStorage creates and returns a new, empty StringStorage.
func NewStringStorage() *StringStorage {
	return &StringStorage{byID: []string{""}}
}

// Add interns s and returns its id. Adding an existing string returns the id
// it already has.
func (s *StringStorage) Add(str string) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byValue.Get(str); ok {
		return id
	}
	id := uint32(len(s.byID))
	s.byID = append(s.byID, str)
	s.byValue.Set(str, id)
	return id
}

// FindID returns the id of an interned string.
func (s *StringStorage) FindID(str string) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.byValue.Get(str)
}

// Str resolves an id. The second result is false for unknown ids and for 0.
func (s *StringStorage) Str(id uint32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == 0 || int(id) >= len(s.byID) {
		return "", false
	}
	return s.byID[id], true
}

// FindPrefix returns the ids of all strings starting with prefix, in lexical
// order of the strings.
func (s *StringStorage) FindPrefix(prefix string) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uint32
	s.byValue.Ascend(prefix, func(str string, id uint32) bool {
		if !strings.HasPrefix(str, prefix) {
			return false
		}
		ids = append(ids, id)
		return true
	})
	return ids
}

// Len returns the number of interned strings.
func (s *StringStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byID) - 1
}

// EstimateMemorySize approximates the bytes held by the table.
func (s *StringStorage) EstimateMemorySize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var size int64
	for _, str := range s.byID {
		// stored twice plus the id and slice/tree overhead
		size += int64(2*len(str)) + 40
	}
	return size
}

const stringsArchiveKind = "core/strings"

// Save writes all strings in id order.
func (s *StringStorage) Save(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return persistence.WriteArchive(w, stringsArchiveKind, s.byID)
}

// Load replaces the table with a saved one. Ids are preserved.
func (s *StringStorage) Load(r io.Reader) error {
	var byID []string
	if err := persistence.ReadArchive(r, stringsArchiveKind, &byID); err != nil {
		return err
	}
	if len(byID) == 0 {
		byID = []string{""}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID = byID
	s.byValue = btree.Map[string, uint32]{}
	for id, str := range byID[1:] {
		s.byValue.Set(str, uint32(id+1))
	}
	return nil
}
