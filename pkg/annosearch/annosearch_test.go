package annosearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

func newCorpus() (*core.DB, []types.NodeID) {
	db := core.NewDB("search", nil)
	nodes := []types.NodeID{
		db.AddToken("t1", "Der"),
		db.AddToken("t2", "Hund"),
		db.AddToken("t3", "Hunde"),
		db.AddNode("np"),
	}
	db.AddNodeAnnotation(nodes[0], "tiger", "pos", "ART")
	db.AddNodeAnnotation(nodes[1], "tiger", "pos", "NN")
	db.AddNodeAnnotation(nodes[2], "tiger", "pos", "NN")
	db.AddNodeAnnotation(nodes[3], "other", "pos", "NN")
	return db, nodes
}

func nodesOf(matches []types.Match) []types.NodeID {
	var result []types.NodeID
	for _, m := range matches {
		result = append(result, m.Node)
	}
	return result
}

func TestExactValueSearch(t *testing.T) {
	db, n := newCorpus()

	s := NewExactValueSearch(db, "tiger", "pos", "NN")
	assert.Equal(t, []types.NodeID{n[1], n[2]}, nodesOf(Collect(s)))
	assert.Equal(t, `tiger:pos="NN"`, s.String())

	s.Reset()
	assert.Len(t, Collect(s), 2, "search must be restartable")

	anyNS := NewExactValueSearch(db, "", "pos", "NN")
	assert.ElementsMatch(t, []types.NodeID{n[1], n[2], n[3]}, nodesOf(Collect(anyNS)))

	assert.Len(t, s.MatchesFor(n[1]), 1)
	assert.Empty(t, s.MatchesFor(n[0]))
	assert.Empty(t, s.MatchesFor(n[3]), "namespace must match")
}

func TestExactKeySearch(t *testing.T) {
	db, n := newCorpus()

	s := NewExactKeySearch(db, "tiger", "pos")
	assert.Equal(t, []types.NodeID{n[0], n[1], n[2]}, nodesOf(Collect(s)))
	assert.Equal(t, 3, s.GuessMaxCount())

	assert.Len(t, Collect(NewNodeSearch(db)), 4)
	assert.Len(t, Collect(NewTokenSearch(db)), 3)
	assert.Equal(t, []types.NodeID{n[1]}, nodesOf(Collect(NewTokenValueSearch(db, "Hund"))))
}

func TestUnknownStringsMatchNothing(t *testing.T) {
	db, n := newCorpus()

	s := NewExactValueSearch(db, "tiger", "pos", "VVFIN")
	assert.Empty(t, Collect(s))
	assert.Zero(t, s.GuessMaxCount())
	assert.Empty(t, s.MatchesFor(n[0]))

	assert.Empty(t, Collect(NewExactKeySearch(db, "tiger", "lemma")))
}

func TestRegexValueSearch(t *testing.T) {
	db, n := newCorpus()

	s, err := NewRegexValueSearch(db, "", "tok", "Hund.*")
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{n[1], n[2]}, nodesOf(Collect(s)))

	// the pattern has to match the complete value
	s, err = NewRegexValueSearch(db, "", "tok", "und")
	require.NoError(t, err)
	assert.Empty(t, Collect(s))

	_, err = NewRegexValueSearch(db, "", "tok", "(")
	assert.Error(t, err)
}

func TestWrappers(t *testing.T) {
	a := types.Match{Node: 1}
	b := types.Match{Node: 2}

	list := NewListWrapper([]types.Match{b, a})
	assert.Equal(t, []types.Match{b, a}, Collect(list))
	list.Reset()
	assert.Equal(t, 2, list.Len())
	assert.Len(t, Collect(list), 2)

	single := NewSingleElement(a)
	assert.Equal(t, []types.Match{a}, Collect(single))
	assert.Empty(t, Collect(single))
	single.Reset()
	assert.Len(t, Collect(single), 1)

	assert.Empty(t, Collect(Empty()))
}
