package annosearch

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

// AnnoSearch finds all nodes carrying an annotation with a given name and,
// optionally, namespace and value. Results are materialized on the first call
// to Next and reused after Reset.
type AnnoSearch struct {
	db *core.DB

	ns, name, val uint32
	// unresolvable is set if a requested string is not interned at all, in
	// which case the search cannot match anything
	unresolvable bool
	valueFilter  *regexp.Regexp
	desc         string

	results []types.Match
	loaded  bool
	pos     int
}

func newAnnoSearch(db *core.DB, ns, name string) *AnnoSearch {
	s := &AnnoSearch{db: db}
	if ns != "" {
		id, ok := db.Strings.FindID(ns)
		s.ns, s.unresolvable = id, !ok
	}
	id, ok := db.Strings.FindID(name)
	s.name = id
	s.unresolvable = s.unresolvable || !ok
	return s
}

// NewExactValueSearch matches annotations ns:name=val. An empty namespace
// matches every namespace.
func NewExactValueSearch(db *core.DB, ns, name, val string) *AnnoSearch {
	s := newAnnoSearch(db, ns, name)
	id, ok := db.Strings.FindID(val)
	s.val = id
	s.unresolvable = s.unresolvable || !ok
	s.desc = fmt.Sprintf("%s=%q", qualifiedName(ns, name), val)
	return s
}

// NewExactKeySearch matches annotations ns:name with any value.
func NewExactKeySearch(db *core.DB, ns, name string) *AnnoSearch {
	s := newAnnoSearch(db, ns, name)
	s.desc = qualifiedName(ns, name)
	return s
}

// NewRegexValueSearch matches annotations ns:name whose complete value matches pattern.
func NewRegexValueSearch(db *core.DB, ns, name, pattern string) (*AnnoSearch, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid value pattern %q: %w", pattern, err)
	}
	s := newAnnoSearch(db, ns, name)
	s.valueFilter = re
	s.desc = fmt.Sprintf("%s=/%s/", qualifiedName(ns, name), pattern)
	return s, nil
}

// NewNodeSearch matches every node.
func NewNodeSearch(db *core.DB) *AnnoSearch {
	s := NewExactKeySearch(db, types.AnnisNS, types.AnnisNodeName)
	s.desc = "node"
	return s
}

// NewTokenSearch matches every token.
func NewTokenSearch(db *core.DB) *AnnoSearch {
	s := NewExactKeySearch(db, types.AnnisNS, types.AnnisTok)
	s.desc = "tok"
	return s
}

// NewTokenValueSearch matches tokens with the given text.
func NewTokenValueSearch(db *core.DB, text string) *AnnoSearch {
	s := NewExactValueSearch(db, types.AnnisNS, types.AnnisTok, text)
	s.desc = fmt.Sprintf("tok=%q", text)
	return s
}

func qualifiedName(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + ":" + name
}

func (s *AnnoSearch) String() string {
	return s.desc
}

func (s *AnnoSearch) load() {
	s.loaded = true
	if s.unresolvable {
		return
	}
	for _, m := range s.db.NodeAnnos.Search(s.ns, s.name, s.val) {
		if s.acceptValue(m.Anno.Val) {
			s.results = append(s.results, m)
		}
	}
}

func (s *AnnoSearch) acceptValue(val uint32) bool {
	if s.valueFilter == nil {
		return true
	}
	str, ok := s.db.Strings.Str(val)
	return ok && s.valueFilter.MatchString(str)
}

func (s *AnnoSearch) Next() (types.Match, bool) {
	if !s.loaded {
		s.load()
	}
	if s.pos >= len(s.results) {
		return types.Match{}, false
	}
	m := s.results[s.pos]
	s.pos++
	return m, true
}

func (s *AnnoSearch) Reset() {
	s.pos = 0
}

func (s *AnnoSearch) MatchesFor(node types.NodeID) []types.Match {
	if s.unresolvable {
		return nil
	}
	var result []types.Match
	for _, a := range s.db.NodeAnnos.Annotations(node) {
		if a.Name != s.name || (s.ns != 0 && a.NS != s.ns) || (s.val != 0 && a.Val != s.val) {
			continue
		}
		if s.acceptValue(a.Val) {
			result = append(result, types.Match{Node: node, Anno: a})
		}
	}
	return result
}

func (s *AnnoSearch) GuessMaxCount() int {
	if s.unresolvable {
		return 0
	}
	if s.val != 0 {
		val, _ := s.db.Strings.Str(s.val)
		return s.db.NodeAnnos.GuessCountExact(s.ns, s.name, val)
	}
	return s.db.NodeAnnos.GuessCount(s.ns, s.name, "", string(utf8.MaxRune))
}
