package operators

import (
	"math"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

// Inclusion relates a node to all nodes whose covered tokens lie completely
// inside its own token range.
type Inclusion struct {
	tokens      *TokenHelper
	anyNodeAnno types.Annotation
}

func NewInclusion(db *core.DB) (*Inclusion, error) {
	tokens, err := NewTokenHelper(db)
	if err != nil {
		return nil, err
	}
	return &Inclusion{tokens: tokens, anyNodeAnno: anyNodeAnno(db)}, nil
}

// before reports whether token a is at or left of token b.
func (o *Inclusion) before(a, b types.NodeID) bool {
	return a == b || o.tokens.Order().IsConnected(types.Edge{Source: a, Target: b}, 1, math.MaxUint32)
}

func (o *Inclusion) RetrieveMatches(lhs types.Match) annosearch.Iterator {
	left, right, ok := o.tokens.LeftRightToken(lhs.Node)
	if !ok {
		return annosearch.Empty()
	}
	width, ok := o.tokens.Order().Distance(types.Edge{Source: left, Target: right})
	if !ok {
		return annosearch.Empty()
	}

	result := newDedupList(o.anyNodeAnno)
	covered := o.tokens.Order().FindConnected(left, 0, width)
	for tok, ok := covered.Next(); ok; tok, ok = covered.Next() {
		result.add(tok)
		for _, n := range o.tokens.LeftAligned(tok) {
			if r, ok := o.tokens.RightToken(n); ok && o.before(r, right) {
				result.add(n)
			}
		}
	}
	return result.iterator()
}

func (o *Inclusion) Filter(lhs, rhs types.Match) bool {
	left, right, ok := o.tokens.LeftRightToken(lhs.Node)
	if !ok {
		return false
	}
	rl, rr, ok := o.tokens.LeftRightToken(rhs.Node)
	return ok && o.before(left, rl) && o.before(rr, right)
}

func (o *Inclusion) IsReflexive() bool   { return false }
func (o *Inclusion) IsCommutative() bool { return false }

func (o *Inclusion) Selectivity() float64 {
	return DefaultSelectivity
}

func (o *Inclusion) String() string {
	return "_i_"
}
