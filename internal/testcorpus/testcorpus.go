// Package testcorpus builds the small annotated sentence the package tests
// query against:
//
//	                 s (S)
//	       /         |     \       \
//	   np1 (NP)   vp (VP)   |     np2 (NP)
//	   /    \        |      |      /    \
//	 Der   Hund    bellt   und   die   Katze
//	 ART    NN     VVFIN   KON   ART    NN
//
// Additionally x (X) and ne (ne=animal, separate coverage layer) cover
// exactly the same tokens as np1, and there are two "dep" pointing relations
// Hund->Der and bellt->Hund.
package testcorpus

import (
	"fmt"

	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/graphstorage"
)

// Components used by the corpus besides the built-in ones.
var (
	Dominance   = types.Component{Type: types.Dominance, Layer: "tiger", Name: ""}
	Pointing    = types.Component{Type: types.Pointing, Layer: "dep", Name: "dep"}
	Coverage    = types.Component{Type: types.Coverage, Layer: "default_ns", Name: ""}
	NERCoverage = types.Component{Type: types.Coverage, Layer: "ner", Name: ""}
)

// Nodes maps the node names used in the picture above to their ids. Tokens
// are named t0 to t5.
type Nodes map[string]types.NodeID

// New builds the corpus with adjacency list storages only.
func New() (*core.DB, Nodes) {
	return NewWithRegistry(nil)
}

// Optimized builds the corpus and converts all components to their optimal
// implementation.
func Optimized() (*core.DB, Nodes) {
	db, n := New()
	must(db.Optimize())
	return db, n
}

// NewWithRegistry builds the corpus with a custom graph storage registry.
func NewWithRegistry(registry *graphstorage.Registry) (*core.DB, Nodes) {
	db := core.NewDB("testcorpus", registry)
	n := Nodes{}

	words := []string{"Der", "Hund", "bellt", "und", "die", "Katze"}
	pos := []string{"ART", "NN", "VVFIN", "KON", "ART", "NN"}
	for i, w := range words {
		name := fmt.Sprintf("t%d", i)
		n[name] = db.AddToken(name, w)
		db.AddNodeAnnotation(n[name], "tiger", "pos", pos[i])
		if i > 0 {
			prev := n[fmt.Sprintf("t%d", i-1)]
			must(db.AddEdge(core.OrderingComponent, types.Edge{Source: prev, Target: n[name]}))
		}
	}

	spans := []struct {
		name, cat string
		covers    []string
	}{
		{"np1", "NP", []string{"t0", "t1"}},
		{"np2", "NP", []string{"t4", "t5"}},
		{"s", "S", []string{"t0", "t1", "t2", "t3", "t4", "t5"}},
		{"vp", "VP", []string{"t2"}},
		{"x", "X", []string{"t0", "t1"}},
	}
	for _, sp := range spans {
		n[sp.name] = db.AddNode(sp.name)
		db.AddNodeAnnotation(n[sp.name], "tiger", "cat", sp.cat)
		for _, tok := range sp.covers {
			must(db.AddEdge(Coverage, types.Edge{Source: n[sp.name], Target: n[tok]}))
		}
	}
	n["ne"] = db.AddNode("ne")
	db.AddNodeAnnotation(n["ne"], "ner", "ne", "animal")
	for _, tok := range []string{"t0", "t1"} {
		must(db.AddEdge(NERCoverage, types.Edge{Source: n["ne"], Target: n[tok]}))
	}

	dominance := [][2]string{
		{"s", "np1"}, {"s", "vp"}, {"s", "t3"}, {"s", "np2"},
		{"np1", "t0"}, {"np1", "t1"}, {"vp", "t2"}, {"np2", "t4"}, {"np2", "t5"},
	}
	for _, e := range dominance {
		must(db.AddEdge(Dominance, types.Edge{Source: n[e[0]], Target: n[e[1]]}))
	}
	must(db.AddEdgeAnnotation(Dominance, types.Edge{Source: n["s"], Target: n["np1"]}, "tiger", "func", "SB"))
	must(db.AddEdgeAnnotation(Dominance, types.Edge{Source: n["s"], Target: n["np2"]}, "tiger", "func", "OA"))

	must(db.AddEdge(Pointing, types.Edge{Source: n["t1"], Target: n["t0"]}))
	must(db.AddEdge(Pointing, types.Edge{Source: n["t2"], Target: n["t1"]}))

	must(db.CalculateTokenAlignment())
	must(db.CalculateStatistics())
	return db, n
}

func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("testcorpus: %v", err))
	}
}
