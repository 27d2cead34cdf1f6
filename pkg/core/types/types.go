// Package types holds the small value types shared by every layer of the query
// core: node identifiers, edges, components, annotations and matches.
package types

import (
	"cmp"
	"fmt"
)

// NodeID identifies a node of a corpus graph. It is stable for the lifetime of
// a loaded corpus.
type NodeID = uint32

// Reserved names of the built-in annotation namespace.
const (
	AnnisNS       = "annis"
	AnnisNodeName = "node_name"
	AnnisNodeType = "node_type"
	AnnisTok      = "tok"
)

// Edge is a directed pair of nodes.
type Edge struct {
	Source NodeID
	Target NodeID
}

// Inverse returns the edge with source and target swapped.
func (e Edge) Inverse() Edge {
	return Edge{Source: e.Target, Target: e.Source}
}

// CompareEdges orders edges by source, then target.
func CompareEdges(a, b Edge) int {
	if c := cmp.Compare(a.Source, b.Source); c != 0 {
		return c
	}
	return cmp.Compare(a.Target, b.Target)
}

// ComponentType is the relation kind stored by one graph storage.
type ComponentType uint8

const (
	Coverage ComponentType = iota
	InverseCoverage
	Dominance
	Pointing
	Ordering
	LeftToken
	RightToken
)

var componentTypeNames = [...]string{
	Coverage:        "COVERAGE",
	InverseCoverage: "INVERSE_COVERAGE",
	Dominance:       "DOMINANCE",
	Pointing:        "POINTING",
	Ordering:        "ORDERING",
	LeftToken:       "LEFT_TOKEN",
	RightToken:      "RIGHT_TOKEN",
}

func (t ComponentType) String() string {
	if int(t) < len(componentTypeNames) {
		return componentTypeNames[t]
	}
	return fmt.Sprintf("ComponentType(%d)", t)
}

// ParseComponentType is the inverse of ComponentType.String.
func ParseComponentType(s string) (ComponentType, error) {
	for i, n := range componentTypeNames {
		if n == s {
			return ComponentType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown component type %q", s)
}

// Component identifies a single graph storage by relation type, layer and name.
type Component struct {
	Type  ComponentType
	Layer string
	Name  string
}

func (c Component) String() string {
	return fmt.Sprintf("%s/%s/%s", c.Type, c.Layer, c.Name)
}

// CompareComponents gives components a total order so they can key ordered maps.
func CompareComponents(a, b Component) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Layer, b.Layer); c != 0 {
		return c
	}
	return cmp.Compare(a.Name, b.Name)
}

// Annotation is a (namespace, name, value) triple of string ids. A zero id in a
// search template means "any".
type Annotation struct {
	Name uint32
	NS   uint32
	Val  uint32
}

// AnnotationKey is the qualified name part of an annotation.
type AnnotationKey struct {
	Name uint32
	NS   uint32
}

// Key returns the qualified name of the annotation.
func (a Annotation) Key() AnnotationKey {
	return AnnotationKey{Name: a.Name, NS: a.NS}
}

// CompareAnnotations orders annotations by name, namespace and value.
func CompareAnnotations(a, b Annotation) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(a.NS, b.NS); c != 0 {
		return c
	}
	return cmp.Compare(a.Val, b.Val)
}

// CompareAnnotationKeys orders keys by name, then namespace.
func CompareAnnotationKeys(a, b AnnotationKey) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.NS, b.NS)
}

// Match is one candidate binding of a query variable.
type Match struct {
	Node NodeID
	Anno Annotation
}

// CompareMatches orders matches by node, then annotation.
func CompareMatches(a, b Match) int {
	if c := cmp.Compare(a.Node, b.Node); c != 0 {
		return c
	}
	return CompareAnnotations(a.Anno, b.Anno)
}
