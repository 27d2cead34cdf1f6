package operators

import (
	"fmt"
	"math"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

// Precedence relates a node to the nodes starting between minDistance and
// maxDistance tokens after it ends.
type Precedence struct {
	tokens      *TokenHelper
	anyNodeAnno types.Annotation
	minDistance uint32
	maxDistance uint32
}

func NewPrecedence(db *core.DB, minDistance, maxDistance uint32) (*Precedence, error) {
	if minDistance > maxDistance {
		return nil, fmt.Errorf("precedence: min distance %d exceeds max distance %d", minDistance, maxDistance)
	}
	tokens, err := NewTokenHelper(db)
	if err != nil {
		return nil, err
	}
	return &Precedence{
		tokens:      tokens,
		anyNodeAnno: anyNodeAnno(db),
		minDistance: minDistance,
		maxDistance: maxDistance,
	}, nil
}

func (o *Precedence) RetrieveMatches(lhs types.Match) annosearch.Iterator {
	right, ok := o.tokens.RightToken(lhs.Node)
	if !ok {
		return annosearch.Empty()
	}
	result := newDedupList(o.anyNodeAnno)
	reached := o.tokens.Order().FindConnected(right, o.minDistance, o.maxDistance)
	for tok, ok := reached.Next(); ok; tok, ok = reached.Next() {
		result.add(tok)
		for _, n := range o.tokens.LeftAligned(tok) {
			result.add(n)
		}
	}
	return result.iterator()
}

func (o *Precedence) Filter(lhs, rhs types.Match) bool {
	right, ok := o.tokens.RightToken(lhs.Node)
	if !ok {
		return false
	}
	left, ok := o.tokens.LeftToken(rhs.Node)
	if !ok {
		return false
	}
	return o.tokens.Order().IsConnected(types.Edge{Source: right, Target: left}, o.minDistance, o.maxDistance)
}

func (o *Precedence) IsReflexive() bool   { return false }
func (o *Precedence) IsCommutative() bool { return false }

func (o *Precedence) Selectivity() float64 {
	return DefaultSelectivity
}

func (o *Precedence) String() string {
	switch {
	case o.minDistance == 1 && o.maxDistance == 1:
		return "."
	case o.minDistance == 1 && o.maxDistance == math.MaxUint32:
		return ".*"
	}
	return fmt.Sprintf(".%d,%d", o.minDistance, o.maxDistance)
}
