package query

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/sanonone/annisdb/pkg/annosearch"
	"github.com/sanonone/annisdb/pkg/core"
	"github.com/sanonone/annisdb/pkg/core/types"
	"github.com/sanonone/annisdb/pkg/join"
	"github.com/sanonone/annisdb/pkg/operators"
)

// Text matching modes of annotation conditions.
const (
	ExactEqual  = "EXACT_EQUAL"
	RegexpEqual = "REGEXP_EQUAL"
)

// Description is the JSON form of a query as produced by the AQL parser.
type Description struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is a single conjunction. Nodes are keyed by their variable
// number.
type Alternative struct {
	Nodes map[string]NodeDescription `json:"nodes"`
	Joins []JoinDescription          `json:"joins"`
}

type AnnotationDescription struct {
	Namespace    string `json:"namespace,omitempty"`
	Name         string `json:"name"`
	Value        string `json:"value,omitempty"`
	TextMatching string `json:"textMatching,omitempty"`
}

type NodeDescription struct {
	NodeAnnotations  []AnnotationDescription `json:"nodeAnnotations,omitempty"`
	Token            bool                    `json:"token,omitempty"`
	SpannedText      string                  `json:"spannedText,omitempty"`
	SpanTextMatching string                  `json:"spanTextMatching,omitempty"`
}

type JoinDescription struct {
	Op              string                  `json:"op"`
	Left            int                     `json:"left"`
	Right           int                     `json:"right"`
	Name            string                  `json:"name,omitempty"`
	MinDistance     uint32                  `json:"minDistance,omitempty"`
	MaxDistance     uint32                  `json:"maxDistance,omitempty"`
	EdgeAnnotations []AnnotationDescription `json:"edgeAnnotations,omitempty"`
	Strategy        string                  `json:"strategy,omitempty"`
}

// ParseJSON builds a query over db from its JSON description. Only
// descriptions with a single alternative are supported.
func ParseJSON(db *core.DB, data []byte, opts Options) (*Query, error) {
	var desc Description
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	return Build(db, desc, opts)
}

// Build creates the query for desc.
func Build(db *core.DB, desc Description, opts Options) (*Query, error) {
	if len(desc.Alternatives) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one alternative, got %d", ErrInvalidPlan, len(desc.Alternatives))
	}
	alt := desc.Alternatives[0]

	ids := make([]int, 0, len(alt.Nodes))
	for key := range alt.Nodes {
		id, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: node key %q is not a number", ErrInvalidPlan, key)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	q := New(opts)
	varOf := make(map[int]int, len(ids))
	for _, id := range ids {
		search, err := nodeSearch(db, alt.Nodes[strconv.Itoa(id)])
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		varOf[id] = q.AddNode(search)
	}

	for i, j := range alt.Joins {
		lhs, ok := varOf[j.Left]
		if !ok {
			return nil, fmt.Errorf("%w: join %d references unknown node %d", ErrInvalidPlan, i, j.Left)
		}
		rhs, ok := varOf[j.Right]
		if !ok {
			return nil, fmt.Errorf("%w: join %d references unknown node %d", ErrInvalidPlan, i, j.Right)
		}
		op, err := operator(db, j)
		if err != nil {
			return nil, fmt.Errorf("join %d: %w", i, err)
		}
		strategy := opts.DefaultStrategy
		if j.Strategy != "" {
			if strategy, err = join.ParseStrategy(j.Strategy); err != nil {
				return nil, fmt.Errorf("join %d: %w", i, err)
			}
		}
		q.AddOperator(op, lhs, rhs, strategy)
	}
	return q, nil
}

func nodeSearch(db *core.DB, n NodeDescription) (annosearch.EstimatedSearch, error) {
	if len(n.NodeAnnotations) > 0 {
		a := n.NodeAnnotations[0]
		switch {
		case a.Value == "":
			return annosearch.NewExactKeySearch(db, a.Namespace, a.Name), nil
		case a.TextMatching == RegexpEqual:
			return annosearch.NewRegexValueSearch(db, a.Namespace, a.Name, a.Value)
		case a.TextMatching == "" || a.TextMatching == ExactEqual:
			return annosearch.NewExactValueSearch(db, a.Namespace, a.Name, a.Value), nil
		}
		return nil, fmt.Errorf("unsupported text matching %q", a.TextMatching)
	}
	if n.SpannedText != "" {
		switch n.SpanTextMatching {
		case "", ExactEqual:
			return annosearch.NewTokenValueSearch(db, n.SpannedText), nil
		case RegexpEqual:
			return annosearch.NewRegexValueSearch(db, types.AnnisNS, types.AnnisTok, n.SpannedText)
		}
		return nil, fmt.Errorf("unsupported text matching %q", n.SpanTextMatching)
	}
	if n.Token {
		return annosearch.NewTokenSearch(db), nil
	}
	return annosearch.NewNodeSearch(db), nil
}

// distanceRange applies the defaults of the JSON format: no distance means
// direct neighbours, a minimum without a maximum is unbounded.
func distanceRange(j JoinDescription) (uint32, uint32) {
	switch {
	case j.MinDistance == 0 && j.MaxDistance == 0:
		return 1, 1
	case j.MaxDistance == 0:
		return j.MinDistance, math.MaxUint32
	}
	return max(j.MinDistance, 1), j.MaxDistance
}

func edgeAnnoFilter(db *core.DB, annos []AnnotationDescription) (operators.EdgeAnnoFilter, error) {
	var f operators.EdgeAnnoFilter
	if len(annos) == 0 {
		return f, nil
	}
	a := annos[0]
	if a.TextMatching != "" && a.TextMatching != ExactEqual {
		return f, fmt.Errorf("edge annotations only support %s", ExactEqual)
	}
	// strings missing from the corpus can never match, keep an impossible id
	lookup := func(s string) uint32 {
		if s == "" {
			return 0
		}
		if id, ok := db.Strings.FindID(s); ok {
			return id
		}
		return math.MaxUint32
	}
	f.NS, f.Name, f.Val = lookup(a.Namespace), lookup(a.Name), lookup(a.Value)
	return f, nil
}

func operator(db *core.DB, j JoinDescription) (operators.Operator, error) {
	minDist, maxDist := distanceRange(j)
	switch j.Op {
	case "Precedence":
		return operators.NewPrecedence(db, minDist, maxDist)
	case "Dominance", "Pointing":
		filter, err := edgeAnnoFilter(db, j.EdgeAnnotations)
		if err != nil {
			return nil, err
		}
		if j.Op == "Dominance" {
			return operators.NewDominance(db, j.Name, minDist, maxDist, filter)
		}
		return operators.NewPointing(db, j.Name, minDist, maxDist, filter)
	case "IdenticalCoverage":
		return operators.NewIdenticalCoverage(db)
	case "Inclusion":
		return operators.NewInclusion(db)
	}
	return nil, fmt.Errorf("unsupported operator %q", j.Op)
}
