package operators

import (
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/graphstorage"
)

// TokenHelper resolves nodes to the tokens they cover.
type TokenHelper struct {
	db              *core.DB
	tokKey          types.AnnotationKey
	order           graphstorage.ReadableGraphStorage
	leftToken       graphstorage.ReadableGraphStorage
	rightToken      graphstorage.ReadableGraphStorage
	coverage        []graphstorage.ReadableGraphStorage
	inverseCoverage []graphstorage.ReadableGraphStorage
}

// NewTokenHelper loads all components needed for token resolution.
func NewTokenHelper(db *core.DB) (*TokenHelper, error) {
	h := &TokenHelper{db: db, tokKey: db.BuiltinKey(types.AnnisTok)}
	var err error
	if h.order, err = optionalStorage(db, core.OrderingComponent); err != nil {
		return nil, err
	}
	if h.leftToken, err = optionalStorage(db, core.LeftTokenComponent); err != nil {
		return nil, err
	}
	if h.rightToken, err = optionalStorage(db, core.RightTokenComponent); err != nil {
		return nil, err
	}
	if h.coverage, err = db.AllGraphStorages(types.Coverage, ""); err != nil {
		return nil, err
	}
	if h.inverseCoverage, err = db.AllGraphStorages(types.InverseCoverage, ""); err != nil {
		return nil, err
	}
	return h, nil
}

// IsToken reports whether n is a token, i.e. it has a token annotation and
// does not cover other nodes.
func (h *TokenHelper) IsToken(n types.NodeID) bool {
	if _, ok := h.db.NodeAnnos.Annotation(n, h.tokKey); !ok {
		return false
	}
	for _, gs := range h.coverage {
		if len(gs.OutgoingEdges(n)) > 0 {
			return false
		}
	}
	return true
}

// LeftRightToken returns the leftmost and rightmost token covered by n. A
// token covers itself. The last result is false for nodes without coverage.
func (h *TokenHelper) LeftRightToken(n types.NodeID) (types.NodeID, types.NodeID, bool) {
	if h.IsToken(n) {
		return n, n, true
	}
	left := h.leftToken.OutgoingEdges(n)
	right := h.rightToken.OutgoingEdges(n)
	if len(left) == 0 || len(right) == 0 {
		return 0, 0, false
	}
	return left[0], right[0], true
}

// LeftToken returns the leftmost token covered by n.
func (h *TokenHelper) LeftToken(n types.NodeID) (types.NodeID, bool) {
	if h.IsToken(n) {
		return n, true
	}
	left := h.leftToken.OutgoingEdges(n)
	if len(left) == 0 {
		return 0, false
	}
	return left[0], true
}

// RightToken returns the rightmost token covered by n.
func (h *TokenHelper) RightToken(n types.NodeID) (types.NodeID, bool) {
	if h.IsToken(n) {
		return n, true
	}
	right := h.rightToken.OutgoingEdges(n)
	if len(right) == 0 {
		return 0, false
	}
	return right[0], true
}

// Covering returns all non-token nodes covering tok.
func (h *TokenHelper) Covering(tok types.NodeID) []types.NodeID {
	var result []types.NodeID
	for _, gs := range h.inverseCoverage {
		result = append(result, gs.OutgoingEdges(tok)...)
	}
	return result
}

// LeftAligned returns the non-token nodes whose leftmost token is tok.
func (h *TokenHelper) LeftAligned(tok types.NodeID) []types.NodeID {
	var result []types.NodeID
	for _, n := range h.Covering(tok) {
		if left, ok := h.LeftToken(n); ok && left == tok {
			result = append(result, n)
		}
	}
	return result
}

// TokenCount returns the number of tokens in the ordering, falling back to
// the number of token annotations if the ordering has no statistics.
func (h *TokenHelper) TokenCount() int {
	if stats := h.order.Statistics(); stats.Valid && stats.Nodes > 0 {
		return stats.Nodes
	}
	return len(h.db.NodeAnnos.Search(h.tokKey.NS, h.tokKey.Name, 0))
}

// Order returns the ordering storage.
func (h *TokenHelper) Order() graphstorage.ReadableGraphStorage {
	return h.order
}
