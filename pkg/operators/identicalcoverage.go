package operators

import (
	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
)

// IdenticalCoverage relates two nodes that cover exactly the same tokens.
type IdenticalCoverage struct {
	tokens      *TokenHelper
	anyNodeAnno types.Annotation
}

func NewIdenticalCoverage(db *core.DB) (*IdenticalCoverage, error) {
	tokens, err := NewTokenHelper(db)
	if err != nil {
		return nil, err
	}
	return &IdenticalCoverage{tokens: tokens, anyNodeAnno: anyNodeAnno(db)}, nil
}

func (o *IdenticalCoverage) Filter(lhs, rhs types.Match) bool {
	ll, lr, ok := o.tokens.LeftRightToken(lhs.Node)
	if !ok {
		return false
	}
	rl, rr, ok := o.tokens.LeftRightToken(rhs.Node)
	return ok && ll == rl && lr == rr
}

func (o *IdenticalCoverage) RetrieveMatches(lhs types.Match) annosearch.Iterator {
	leftToken, rightToken, ok := o.tokens.LeftRightToken(lhs.Node)
	if !ok {
		return annosearch.Empty()
	}

	// every node that is left-aligned with the left token is a candidate,
	// the token itself only if the span covers a single token
	leftAligned := o.tokens.LeftAligned(leftToken)
	includeToken := leftToken == rightToken

	// shortcuts for results with at most one match
	if includeToken && len(leftAligned) == 0 {
		return annosearch.NewSingleElement(types.Match{Node: leftToken, Anno: o.anyNodeAnno})
	}
	if !includeToken && len(leftAligned) == 1 {
		if right, ok := o.tokens.RightToken(leftAligned[0]); ok && right == rightToken {
			return annosearch.NewSingleElement(types.Match{Node: leftAligned[0], Anno: o.anyNodeAnno})
		}
		return annosearch.Empty()
	}

	var matches []types.Match
	seen := make(map[types.NodeID]struct{}, len(leftAligned)+1)
	if includeToken {
		matches = append(matches, types.Match{Node: leftToken, Anno: o.anyNodeAnno})
		seen[leftToken] = struct{}{}
	}
	for _, candidate := range leftAligned {
		if _, dup := seen[candidate]; dup {
			continue
		}
		if right, ok := o.tokens.RightToken(candidate); ok && right == rightToken {
			seen[candidate] = struct{}{}
			matches = append(matches, types.Match{Node: candidate, Anno: o.anyNodeAnno})
		}
	}
	if len(matches) == 0 {
		return annosearch.Empty()
	}
	return annosearch.NewListWrapper(matches)
}

func (o *IdenticalCoverage) IsReflexive() bool   { return false }
func (o *IdenticalCoverage) IsCommutative() bool { return true }

// Selectivity assumes two nodes are identically aligned if they start at the
// same token, which happens with a probability of one over the number of tokens.
func (o *IdenticalCoverage) Selectivity() float64 {
	n := o.tokens.TokenCount()
	if n == 0 {
		return DefaultSelectivity
	}
	return 1.0 / float64(n)
}

func (o *IdenticalCoverage) String() string {
	return "_=_"
}
