package qgraph

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/proximity/pkg/algebra"
)

// Annotation bounds the number of distinct items that may fill a role within
// one match. Max of -1 means unbounded. A nil *Annotation means [1,1].
type Annotation struct {
	Min int
	Max int
}

// NewAnnotation returns the annotation [min, max].
func NewAnnotation(min, max int) *Annotation {
	return &Annotation{Min: min, Max: max}
}

// Bounds returns min and max, treating a nil annotation as [1,1].
func (a *Annotation) Bounds() (int, int) {
	if a == nil {
		return 1, 1
	}
	return a.Min, a.Max
}

// Contains reports whether n lies within the annotation.
func (a *Annotation) Contains(n int) bool {
	min, max := a.Bounds()
	return algebra.WithinRange(n, min, max)
}

func (a *Annotation) String() string {
	if a == nil {
		return "[1,1]"
	}
	if a.Max == algebra.Unbounded {
		return fmt.Sprintf("[%d..]", a.Min)
	}
	return fmt.Sprintf("[%d..%d]", a.Min, a.Max)
}

func (a *Annotation) check() error {
	if a == nil {
		return nil
	}
	if a.Min < 0 {
		return fmt.Errorf("annotation %s: min must not be negative", a)
	}
	if a.Max != algebra.Unbounded && (a.Max < 1 || a.Max < a.Min) {
		return fmt.Errorf("annotation %s: max must be -1 or at least max(min, 1)", a)
	}
	return nil
}

// UnmarshalYAML reads an annotation written as a [min, max] list.
func (a *Annotation) UnmarshalYAML(node *yaml.Node) error {
	var bounds []int
	if err := node.Decode(&bounds); err != nil {
		return fmt.Errorf("%w: annotation must be a [min, max] list", ErrInvalidPattern)
	}
	if len(bounds) != 2 {
		return fmt.Errorf("%w: annotation must have exactly two bounds, got %d", ErrInvalidPattern, len(bounds))
	}
	a.Min, a.Max = bounds[0], bounds[1]
	return nil
}

// MarshalYAML writes the annotation as a flow-style [min, max] list.
func (a Annotation) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, v := range []int{a.Min, a.Max} {
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(v)})
	}
	return node, nil
}
