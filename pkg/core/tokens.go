package core

import (
	"fmt"

	"github.com/sanonone/annisdb/pkg/core/types"
)

// Built-in components every corpus with tokens has.
var (
	OrderingComponent   = types.Component{Type: types.Ordering, Layer: types.AnnisNS}
	LeftTokenComponent  = types.Component{Type: types.LeftToken, Layer: types.AnnisNS}
	RightTokenComponent = types.Component{Type: types.RightToken, Layer: types.AnnisNS}
)

// CalculateTokenAlignment derives the left token, right token and inverse
// coverage components from the ordering and coverage components. Each node
// covering at least one token gets an edge to its leftmost and rightmost
// covered token.
func (s *DB) CalculateTokenAlignment() error {
	ordering, err := s.GraphStorage(OrderingComponent)
	if err != nil {
		return fmt.Errorf("token alignment needs the ordering: %w", err)
	}

	followers := make(map[types.NodeID]struct{})
	for n := range s.Nodes() {
		for _, t := range ordering.OutgoingEdges(n) {
			followers[t] = struct{}{}
		}
	}

	// position of every token in its text
	position := make(map[types.NodeID]int)
	tokKey := s.BuiltinKey(types.AnnisTok)
	for n := range s.Nodes() {
		if _, isToken := s.NodeAnnos.Annotation(n, tokKey); !isToken {
			continue
		}
		if _, follows := followers[n]; follows {
			continue
		}
		pos := 0
		for cur, ok := n, true; ok; {
			position[cur] = pos
			pos++
			next := ordering.OutgoingEdges(cur)
			ok = len(next) > 0
			if ok {
				cur = next[0]
			}
		}
	}

	coverageType := types.Coverage
	covered := make(map[types.NodeID][]types.NodeID)
	for _, c := range s.Components(&coverageType) {
		gs, err := s.GraphStorage(c)
		if err != nil {
			return err
		}
		inverse := types.Component{Type: types.InverseCoverage, Layer: c.Layer, Name: c.Name}
		for n := range s.Nodes() {
			for _, tok := range gs.OutgoingEdges(n) {
				covered[n] = append(covered[n], tok)
				if err := s.AddEdge(inverse, types.Edge{Source: tok, Target: n}); err != nil {
					return err
				}
			}
		}
	}

	for n, toks := range covered {
		left, right := toks[0], toks[0]
		for _, t := range toks[1:] {
			if position[t] < position[left] {
				left = t
			}
			if position[t] > position[right] {
				right = t
			}
		}
		if err := s.AddEdge(LeftTokenComponent, types.Edge{Source: n, Target: left}); err != nil {
			return err
		}
		if err := s.AddEdge(RightTokenComponent, types.Edge{Source: n, Target: right}); err != nil {
			return err
		}
	}
	s.logger.Debug("token alignment calculated", "tokens", len(position), "spans", len(covered))
	return nil
}
