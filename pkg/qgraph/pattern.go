package qgraph

import (
	"errors"
	"fmt"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// Vertex is a pattern vertex: a role filled by objects.
type Vertex struct {
	Name       string
	Condition  Condition
	Annotation *Annotation
}

// Edge is a pattern edge: a role filled by links between the objects
// filling From and To. An undirected edge matches links in either
// direction.
type Edge struct {
	Name       string
	Condition  Condition
	Annotation *Annotation
	From       string
	To         string
	Directed   bool
}

// Constraint compares values of two bound roles of the same match. An empty
// attribute compares item identity instead of an attribute value.
//
// With an Annotation the constraint is quantified over AnnotItem: items of
// that role are checked one by one against the fixed partner, and the
// annotation bounds how many of them must pass.
type Constraint struct {
	Op         Op
	Item1      string
	Attr1      string
	Item2      string
	Attr2      string
	AnnotItem  string
	Annotation *Annotation
	IsEdge     bool
}

// Quantified reports whether the constraint carries an annotation.
func (c Constraint) Quantified() bool {
	return c.Annotation != nil
}

func (c Constraint) String() string {
	side := func(item, attr string) string {
		if attr == "" {
			return item
		}
		return item + "." + attr
	}
	s := fmt.Sprintf("%s %s %s", side(c.Item1, c.Attr1), c.Op, side(c.Item2, c.Attr2))
	if c.Annotation != nil {
		s += fmt.Sprintf(" %s%s", c.AnnotItem, c.Annotation)
	}
	return s
}

// normalized returns the constraint with the quantified role in Item2.
func (c Constraint) normalized() Constraint {
	if c.AnnotItem != "" && c.AnnotItem == c.Item1 && c.Item1 != c.Item2 {
		c.Item1, c.Item2 = c.Item2, c.Item1
		c.Attr1, c.Attr2 = c.Attr2, c.Attr1
		c.Op = c.Op.Flip()
	}
	return c
}

// Pattern is a query: vertices and edges to embed, and cross constraints on
// the embedded values. AddLinks name links to create between the matched
// objects once the result is exported.
type Pattern struct {
	Name        string
	Vertices    []Vertex
	Edges       []Edge
	Constraints []Constraint
	AddLinks    []AddLink
}

// Vertex returns the vertex named name.
func (p *Pattern) Vertex(name string) (Vertex, bool) {
	for _, v := range p.Vertices {
		if v.Name == name {
			return v, true
		}
	}
	return Vertex{}, false
}

// Edge returns the edge named name.
func (p *Pattern) Edge(name string) (Edge, bool) {
	for _, e := range p.Edges {
		if e.Name == name {
			return e, true
		}
	}
	return Edge{}, false
}

// Root returns the first unannotated vertex, where matching starts.
func (p *Pattern) Root() (Vertex, bool) {
	for _, v := range p.Vertices {
		if v.Annotation == nil {
			return v, true
		}
	}
	return Vertex{}, false
}

func (p *Pattern) degree(vertex string) int {
	n := 0
	for _, e := range p.Edges {
		if e.From == vertex {
			n++
		}
		if e.To == vertex {
			n++
		}
	}
	return n
}

func (p *Pattern) roleEdges() []roleEdge {
	out := make([]roleEdge, len(p.Edges))
	for i, e := range p.Edges {
		out[i] = roleEdge{name: e.Name, from: e.From, to: e.To}
	}
	return out
}

func (p *Pattern) vertexNames() []string {
	return algebra.Project(p.Vertices, func(v Vertex) string { return v.Name })
}

// DependentRoles returns, sorted, the vertex and edge roles that are only
// reachable from the root through role. When a constrained role loses
// items, bindings of these roles that hang off the lost items go too.
func (p *Pattern) DependentRoles(role string) []string {
	root, ok := p.Root()
	if !ok {
		return nil
	}
	anchor := root.Name
	if anchor == role {
		anchor = ""
		for _, v := range p.Vertices {
			if v.Name != role {
				anchor = v.Name
				break
			}
		}
	}
	return unreachable(p.vertexNames(), p.roleEdges(), anchor, role).Sorted()
}

// CascadeRole returns the vertex role whose items a quantified constraint
// removes: the quantified vertex, or for edge constraints the endpoint of
// the quantified edge that is not shared with the fixed edge.
func (p *Pattern) CascadeRole(c Constraint) string {
	c = c.normalized()
	if !c.IsEdge {
		return c.Item2
	}
	x, _ := p.Edge(c.Item1)
	y, _ := p.Edge(c.Item2)
	return quantifiedEndpoint(x.From, x.To, y.From, y.To)
}

// quantifiedEndpoint picks the endpoint of the quantified edge (yFrom, yTo)
// that the fixed edge (xFrom, xTo) does not touch.
func quantifiedEndpoint(xFrom, xTo, yFrom, yTo string) string {
	shared := func(v string) bool { return v == xFrom || v == xTo }
	switch {
	case shared(yFrom) && !shared(yTo):
		return yTo
	case shared(yTo) && !shared(yFrom):
		return yFrom
	}
	return yTo
}

// Validate checks the pattern for configuration errors and returns a
// *ValidationError listing all of them. With a non-nil catalog, attribute
// references and literal types are checked as well.
func (p *Pattern) Validate(catalog AttributeCatalog) error {
	verr := &ValidationError{Pattern: p.Name}

	names := make(map[string]string)
	declare := func(kind, name string) {
		if name == "" {
			verr.addf("%s without name", kind)
			return
		}
		if prev, ok := names[name]; ok {
			verr.addf("duplicate name %q (%s and %s)", name, prev, kind)
			return
		}
		names[name] = kind
	}

	if len(p.Vertices) == 0 {
		verr.addf("pattern has no vertices")
	}
	for _, v := range p.Vertices {
		declare("vertex", v.Name)
		if err := v.Annotation.check(); err != nil {
			verr.addf("vertex %s: %v", v.Name, err)
		}
		if err := checkCondition(v.Condition, storage.KindObject, catalog, "vertex "+v.Name, verr); err != nil {
			return err
		}
	}
	if _, ok := p.Root(); !ok && len(p.Vertices) > 0 {
		verr.addf("pattern needs at least one unannotated vertex")
	}

	for _, e := range p.Edges {
		declare("edge", e.Name)
		from, okFrom := p.Vertex(e.From)
		to, okTo := p.Vertex(e.To)
		if !okFrom {
			verr.addf("edge %s: unknown from vertex %q", e.Name, e.From)
		}
		if !okTo {
			verr.addf("edge %s: unknown to vertex %q", e.Name, e.To)
		}
		if err := e.Annotation.check(); err != nil {
			verr.addf("edge %s: %v", e.Name, err)
		} else if e.Annotation != nil && e.Annotation.Min == 0 {
			verr.addf("edge %s: annotation min must be at least 1", e.Name)
		}
		if okFrom && okTo {
			if from.Annotation != nil && to.Annotation != nil {
				verr.addf("edge %s: adjacent vertices %s and %s cannot both be annotated", e.Name, from.Name, to.Name)
			}
			if (from.Annotation != nil || to.Annotation != nil) && e.Annotation == nil {
				verr.addf("edge %s: edges of annotated vertices must be annotated", e.Name)
			}
		}
		if err := checkCondition(e.Condition, storage.KindLink, catalog, "edge "+e.Name, verr); err != nil {
			return err
		}
	}

	if len(p.Vertices) > 0 {
		if lost := unreachable(p.vertexNames(), p.roleEdges(), p.Vertices[0].Name, ""); lost.Len() > 0 {
			verr.addf("pattern is not connected: %v unreachable from %s", lost.Sorted(), p.Vertices[0].Name)
		}
	}

	for i, c := range p.Constraints {
		if err := p.checkConstraint(c, fmt.Sprintf("constraint %d (%s)", i+1, c), catalog, verr); err != nil {
			return err
		}
	}

	for _, a := range p.AddLinks {
		if err := p.checkAddLink(a, catalog, verr); err != nil {
			return err
		}
	}

	return verr.orNil()
}

func (p *Pattern) checkAddLink(a AddLink, catalog AttributeCatalog, verr *ValidationError) error {
	where := "add-link " + a.String()
	for _, name := range []string{a.Vertex1, a.Vertex2} {
		if _, ok := p.Vertex(name); !ok {
			verr.addf("%s: unknown vertex %q", where, name)
		}
	}
	if a.Attr == "" {
		verr.addf("%s: attribute name required", where)
		return nil
	}
	if catalog == nil {
		return nil
	}
	def, err := catalog.AttrDef(storage.KindLink, a.Attr)
	if errors.Is(err, storage.ErrUnknownAttr) {
		return nil
	}
	if err != nil {
		return err
	}
	if def.Type != storage.TypeStr {
		verr.addf("%s: link attribute %s has type %s, want %s", where, a.Attr, def.Type, storage.TypeStr)
	}
	return nil
}

func (p *Pattern) checkConstraint(c Constraint, where string, catalog AttributeCatalog, verr *ValidationError) error {
	if !c.Op.valid() || c.Op == OpExists {
		verr.addf("%s: operator must be one of eq, ne, lt, le, gt, ge", where)
	}
	kind := storage.KindObject
	annotation := func(name string) (*Annotation, bool) { v, ok := p.Vertex(name); return v.Annotation, ok }
	if c.IsEdge {
		kind = storage.KindLink
		annotation = func(name string) (*Annotation, bool) { e, ok := p.Edge(name); return e.Annotation, ok }
	}
	annotated := 0
	for _, item := range []string{c.Item1, c.Item2} {
		a, ok := annotation(item)
		if !ok {
			verr.addf("%s: unknown %s role %q", where, kind, item)
		} else if a != nil {
			annotated++
		}
	}
	if annotated == 2 {
		verr.addf("%s: %s and %s are both annotated", where, c.Item1, c.Item2)
	}
	if (c.Attr1 == "") != (c.Attr2 == "") {
		verr.addf("%s: attributes must be given on both sides or on neither", where)
	}
	if c.Annotation != nil {
		if err := c.Annotation.check(); err != nil {
			verr.addf("%s: %v", where, err)
		}
		if c.AnnotItem != c.Item1 && c.AnnotItem != c.Item2 {
			verr.addf("%s: annotated item %q must be one of the compared roles", where, c.AnnotItem)
		}
	} else if c.AnnotItem != "" {
		verr.addf("%s: annotated item %q without annotation", where, c.AnnotItem)
	}
	if catalog == nil || c.Attr1 == "" || c.Attr2 == "" {
		return nil
	}

	var domains []storage.AttrDef
	for _, attr := range []string{c.Attr1, c.Attr2} {
		def, err := catalog.AttrDef(kind, attr)
		if errors.Is(err, storage.ErrUnknownAttr) {
			verr.addf("%s: unknown %s attribute %q", where, kind, attr)
			continue
		}
		if err != nil {
			return err
		}
		domains = append(domains, def)
	}
	if len(domains) == 2 && domains[0].Type.Domain() != domains[1].Type.Domain() {
		verr.addf("%s: cannot compare %s (%s) with %s (%s)", where,
			domains[0].Name, domains[0].Type, domains[1].Name, domains[1].Type)
	}
	return nil
}
