package qgraph

import (
	"cmp"
	"errors"
	"fmt"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/convert"
	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/storage"
)

// comparator tells whether an item of the fixed side and an item of the
// other side satisfy a constraint.
type comparator func(fixed, other storage.ItemID) bool

// Constrain filters rel by a cross constraint between two bound roles.
//
// Unquantified, the constraint holds for a match when any pair of items of
// the two roles passes; failing matches are dropped whole.
//
// Quantified over a vertex role, each item of that role is compared with the
// fixed partner and failing items are removed along with the bindings that
// only hang off them. The constraint's annotation then bounds the number of
// surviving items; with min 0 a match may keep none.
//
// Quantified over an edge role Y against a fixed edge role X, failing Y links
// are removed and the passing ones are counted per object on Y's far side.
// Objects whose count is outside the annotation are removed with their Y
// links and dependents.
//
// dependentRoles lists the roles whose bindings must stay connected to the
// rest of the match after removals; nil derives them from rel's roles.
// Missing attribute values fail a comparison. Comparing attributes of
// different types, or an attribute with an identity, is a configuration
// error reported before any match is touched.
func (m *Matcher) Constrain(rel *MatchRelation, c Constraint, quantified bool, dependentRoles []string) (*MatchRelation, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	if quantified {
		if c.Annotation == nil {
			return nil, invalidf("constraint %s: quantified without annotation", c)
		}
		if err := c.Annotation.check(); err != nil {
			return nil, invalidf("constraint %s: %v", c, err)
		}
		if c.AnnotItem != c.Item1 && c.AnnotItem != c.Item2 {
			return nil, invalidf("constraint %s: annotated item %q is not compared", c, c.AnnotItem)
		}
		c = c.normalized()
	}
	passes, err := m.comparator(rel, c)
	if err != nil {
		return nil, err
	}

	var objects, links []storage.Binding
	switch {
	case !quantified:
		objects, links = m.constrainWhole(rel, c, passes)
	case c.IsEdge:
		objects, links = m.constrainEdges(rel, c, passes, dependentRoles)
	default:
		objects, links = m.constrainVertices(rel, c, passes, dependentRoles)
	}

	out := m.newRelation(rel.schema, objects, links)
	log.Debug("constrain {{constraint}}: {{before}} -> {{after}} matches",
		"constraint", c.String(), "before", rel.Len(), "after", out.Len())
	return out, nil
}

func (m *Matcher) constrainWhole(rel *MatchRelation, c Constraint, passes comparator) ([]storage.Binding, []storage.Binding) {
	rows := rel.objects
	if c.IsEdge {
		rows = rel.links
	}
	xs, ys := itemsByMatch(rows, c.Item1), itemsByMatch(rows, c.Item2)
	defer releaseItems(xs)
	defer releaseItems(ys)

	drop := matchSet(rel.objects, rel.links).Select(func(match int64) bool {
		for _, x := range xs[match] {
			for _, y := range ys[match] {
				if passes(x, y) {
					return false
				}
			}
		}
		return true
	})
	return dropMatches(rel.objects, drop), dropMatches(rel.links, drop)
}

func (m *Matcher) constrainVertices(rel *MatchRelation, c Constraint, passes comparator, dependentRoles []string) ([]storage.Binding, []storage.Binding) {
	xs := itemsByMatch(rel.objects, c.Item1)
	defer releaseItems(xs)
	objects := algebra.Filter(rel.objects, func(b storage.Binding) bool {
		return b.Role != c.Item2 || anyPasses(passes, xs[b.Match], b.Item)
	})

	deps := dependencies(rel.schema, c.Item2, dependentRoles)
	objects, links := m.cascade(rel.schema, rel.objects, rel.links, objects, rel.links, deps, c.Item2)

	counts := algebra.CountDistinct(
		algebra.Filter(objects, func(b storage.Binding) bool { return b.Role == c.Item2 }),
		func(b storage.Binding) int64 { return b.Match },
		func(b storage.Binding) storage.ItemID { return b.Item },
	)
	drop := matchSet(objects, links).Select(func(match int64) bool {
		return !c.Annotation.Contains(counts[match])
	})
	return dropMatches(objects, drop), dropMatches(links, drop)
}

func (m *Matcher) constrainEdges(rel *MatchRelation, c Constraint, passes comparator, dependentRoles []string) ([]storage.Binding, []storage.Binding) {
	x, _ := rel.schema.lookup(c.Item1)
	y, _ := rel.schema.lookup(c.Item2)
	far := quantifiedEndpoint(x.From, x.To, y.From, y.To)
	near := y.From
	if far == y.From {
		near = y.To
	}

	present := make(map[int64]map[roleItem]bool)
	for _, b := range rel.objects {
		if present[b.Match] == nil {
			present[b.Match] = make(map[roleItem]bool)
		}
		present[b.Match][roleItem{b.Role, b.Item}] = true
	}

	type matchItem struct {
		match int64
		item  storage.ItemID
	}
	xs := itemsByMatch(rel.links, c.Item1)
	defer releaseItems(xs)
	counts := make(map[matchItem]int)
	for _, b := range rel.links {
		if b.Role != c.Item2 || !anyPasses(passes, xs[b.Match], b.Item) {
			continue
		}
		if item, ok := m.farSide(b.Item, near, far, present[b.Match]); ok {
			counts[matchItem{b.Match, item}]++
		}
	}

	objects := algebra.Filter(rel.objects, func(b storage.Binding) bool {
		return b.Role != far || c.Annotation.Contains(counts[matchItem{b.Match, b.Item}])
	})
	links := algebra.Filter(rel.links, func(b storage.Binding) bool {
		return b.Role != c.Item2 || anyPasses(passes, xs[b.Match], b.Item)
	})
	deps := dependencies(rel.schema, far, dependentRoles)
	return m.cascade(rel.schema, rel.objects, rel.links, objects, links, deps, "")
}

// farSide returns the endpoint of a link bound under far, with the other
// endpoint bound under near.
func (m *Matcher) farSide(id storage.ItemID, near, far string, present map[roleItem]bool) (storage.ItemID, bool) {
	l, ok := m.link(id)
	if !ok {
		return 0, false
	}
	switch {
	case present[roleItem{near, l.O1}] && present[roleItem{far, l.O2}]:
		return l.O2, true
	case present[roleItem{near, l.O2}] && present[roleItem{far, l.O1}]:
		return l.O1, true
	}
	return 0, false
}

// comparator checks c against rel and the attribute declarations and
// returns the pair test.
func (m *Matcher) comparator(rel *MatchRelation, c Constraint) (comparator, error) {
	if !c.Op.valid() || c.Op == OpExists {
		return nil, invalidf("constraint %s: operator must be one of eq, ne, lt, le, gt, ge", c)
	}
	want, kind := VertexRole, storage.KindObject
	if c.IsEdge {
		want, kind = EdgeRole, storage.KindLink
	}
	for _, role := range []string{c.Item1, c.Item2} {
		info, ok := rel.schema.lookup(role)
		if !ok {
			return nil, invalidf("constraint %s: role %q is not bound", c, role)
		}
		if info.Kind != want {
			return nil, invalidf("constraint %s: role %q is a %s role", c, role, info.Kind)
		}
	}

	op := c.Op
	if c.Attr1 == "" && c.Attr2 == "" {
		return func(a, b storage.ItemID) bool { return op.holds(cmp.Compare(a, b)) }, nil
	}
	if c.Attr1 == "" || c.Attr2 == "" {
		return nil, invalidf("constraint %s: cannot compare an attribute with an identity", c)
	}

	var defs [2]storage.AttrDef
	var values [2]map[storage.ItemID][]any
	for i, attr := range []string{c.Attr1, c.Attr2} {
		def, err := m.store.AttrDef(kind, attr)
		if errors.Is(err, storage.ErrUnknownAttr) {
			return nil, invalidf("constraint %s: unknown %s attribute %q", c, kind, attr)
		}
		if err != nil {
			return nil, err
		}
		vs, err := m.eval.attrValues(kind, attr)
		if err != nil {
			return nil, fmt.Errorf("constraint %s: %w", c, err)
		}
		defs[i], values[i] = def, vs
	}
	domain := defs[0].Type.Domain()
	if domain != defs[1].Type.Domain() {
		return nil, invalidf("constraint %s: cannot compare %s (%s) with %s (%s)",
			c, defs[0].Name, defs[0].Type, defs[1].Name, defs[1].Type)
	}

	return func(a, b storage.ItemID) bool {
		for _, va := range values[0][a] {
			for _, vb := range values[1][b] {
				if r, ok := convert.Compare(va, vb, domain); ok && op.holds(r) {
					return true
				}
			}
		}
		return false
	}, nil
}

func anyPasses(passes comparator, fixed []storage.ItemID, other storage.ItemID) bool {
	for _, f := range fixed {
		if passes(f, other) {
			return true
		}
	}
	return false
}

func itemsByMatch(rows []storage.Binding, role string) map[int64][]storage.ItemID {
	out := make(map[int64][]storage.ItemID)
	for _, b := range rows {
		if b.Role != role {
			continue
		}
		ids, ok := out[b.Match]
		if !ok {
			ids = pool.GetIDs()
		}
		out[b.Match] = append(ids, b.Item)
	}
	return out
}

func releaseItems(items map[int64][]storage.ItemID) {
	for _, ids := range items {
		pool.PutIDs(ids)
	}
}

func dependencies(sch schema, removed string, given []string) algebra.Set[string] {
	if given == nil {
		return sch.dependents(removed)
	}
	return algebra.NewSet(given...)
}
