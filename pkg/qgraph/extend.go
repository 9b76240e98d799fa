package qgraph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// linkEnd is a candidate link oriented from the A side to the B side.
type linkEnd struct {
	link storage.ItemID
	a    storage.ItemID
	b    storage.ItemID
}

// pairRow is one qualifying link between an A binding and a B binding.
type pairRow struct {
	aMatch int64
	a      storage.ItemID
	link   storage.ItemID
	bMatch int64
	b      storage.ItemID
}

type pairKey struct {
	aMatch int64
	a      storage.ItemID
	bMatch int64
	b      storage.ItemID
}

func (r pairRow) key() pairKey {
	return pairKey{aMatch: r.aMatch, a: r.a, bMatch: r.bMatch, b: r.b}
}

type matchLink struct {
	match int64
	link  storage.ItemID
}

// unit is one output match: an A match and the rows attached to it.
type unit struct {
	aMatch int64
	rows   []pairRow
}

// Extend grows every match of rel through edge e from the bound vertex role
// from to the new vertex to.
//
// With an unannotated edge and destination, every qualifying (link, object)
// pair yields its own copy of the match. With an annotated edge the links
// between one A object and one B object are grouped, and the group survives
// when its size fits the edge annotation. With an annotated destination all
// qualifying B objects attach to the one A match, which survives when their
// number fits the destination's annotation.
//
// Links already bound in the same match under one of the used edge roles are
// not considered.
//
// Example:
//
//	// A -Y-> B, every Y link becomes its own match
//	people, _ := m.Seed(qgraph.Vertex{Name: "A"})
//	pairs, err := m.Extend(people, qgraph.Edge{Name: "Y", From: "A", To: "B", Directed: true},
//		"A", qgraph.Vertex{Name: "B"}, nil)
func (m *Matcher) Extend(rel *MatchRelation, e Edge, from string, to Vertex, used []string) (*MatchRelation, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	if _, err := rel.vertexRole(from); err != nil {
		return nil, fmt.Errorf("extend %s: %w", e.Name, err)
	}
	if rel.schema.has(to.Name) {
		return nil, invalidf("extend %s: vertex %s is already bound", e.Name, to.Name)
	}
	if err := checkEdge(e, from, to.Name, rel.schema.with(RoleInfo{Name: to.Name, Kind: VertexRole, Annotation: to.Annotation})); err != nil {
		return nil, err
	}

	frontier, err := m.Seed(to)
	if err != nil {
		return nil, err
	}
	defer frontier.Release()

	return m.join(rel, frontier, e, from, to.Name, used, "extend")
}

// Merge joins two independently built fragments, one bound at roleA and
// one at roleB, through edge e. Surviving matches keep the A fragment's
// match id. The cardinality rules are the ones of Extend, with whole B
// fragments in place of single B objects.
func (m *Matcher) Merge(relA, relB *MatchRelation, e Edge, roleA, roleB string) (*MatchRelation, error) {
	if err := relA.check(); err != nil {
		return nil, err
	}
	if err := relB.check(); err != nil {
		return nil, err
	}
	if relA == relB {
		return nil, invalidf("merge %s: fragments must differ", e.Name)
	}
	if _, err := relA.vertexRole(roleA); err != nil {
		return nil, fmt.Errorf("merge %s: %w", e.Name, err)
	}
	if _, err := relB.vertexRole(roleB); err != nil {
		return nil, fmt.Errorf("merge %s: %w", e.Name, err)
	}
	for _, r := range relB.schema.roles {
		if relA.schema.has(r.Name) {
			return nil, invalidf("merge %s: role %s is bound in both fragments", e.Name, r.Name)
		}
	}
	if err := checkEdge(e, roleA, roleB, relA.schema.with(relB.schema.roles...)); err != nil {
		return nil, err
	}

	used := append(relA.schema.names(EdgeRole), relB.schema.names(EdgeRole)...)
	return m.join(relA, relB, e, roleA, roleB, used, "merge")
}

// Close binds edge e between two vertex roles that are both already bound
// in rel, closing a cycle of the pattern. Only links between objects of the
// same match qualify.
//
// When one endpoint is annotated, its objects without a qualifying link to
// the other endpoint are removed along with what hangs off them, and the
// match must still satisfy the endpoint's annotation. An object bound on
// both sides therefore stays only if a qualifying self-loop exists.
func (m *Matcher) Close(rel *MatchRelation, e Edge) (*MatchRelation, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	fromInfo, err := rel.vertexRole(e.From)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", e.Name, err)
	}
	toInfo, err := rel.vertexRole(e.To)
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", e.Name, err)
	}
	if err := checkEdge(e, e.From, e.To, rel.schema); err != nil {
		return nil, err
	}
	if fromInfo.Annotation != nil && toInfo.Annotation != nil && e.From != e.To {
		return nil, invalidf("close %s: adjacent vertices %s and %s cannot both be annotated", e.Name, e.From, e.To)
	}

	aRole, bInfo := e.From, toInfo
	if fromInfo.Annotation != nil {
		aRole, bInfo = e.To, fromInfo
	}
	rows, err := m.connect(rel, aRole, rel, bInfo.Name, e, rel.schema.names(EdgeRole), true)
	if err != nil {
		return nil, err
	}
	sch := rel.schema.with(edgeRole(e))

	if bInfo.Annotation == nil {
		units := unitsFor(rows, e.Annotation)
		objects, links := m.emit(units, rel, nil, e.Name, matchSet(rel.objects, rel.links).Max()+1)
		log.Debug("close {{edge}}: {{rows}} links, {{matches}} matches", "edge", e.Name, "rows", len(rows), "matches", len(units))
		return m.newRelation(sch, objects, links), nil
	}

	// Annotated endpoint: keep the B objects with a qualifying link group.
	type matchItem struct {
		match int64
		item  storage.ItemID
	}
	keep := make(map[matchItem]struct{})
	links := slices.Clone(rel.links)
	for _, g := range algebra.GroupBy(rows, pairRow.key) {
		if !e.Annotation.Contains(len(g.Rows)) {
			continue
		}
		keep[matchItem{g.Key.aMatch, g.Key.b}] = struct{}{}
		for _, r := range g.Rows {
			links = append(links, storage.Binding{Item: r.link, Match: r.aMatch, Role: e.Name})
		}
	}
	objects := algebra.Filter(rel.objects, func(b storage.Binding) bool {
		if b.Role != bInfo.Name {
			return true
		}
		_, ok := keep[matchItem{b.Match, b.Item}]
		return ok
	})
	links = distinctBindings(links)

	objects, links = m.cascade(sch, rel.objects, rel.links, objects, links, sch.dependents(bInfo.Name), bInfo.Name)
	lo, hi := bInfo.Annotation.Bounds()
	objects, links = floorBindings(objects, links, matchSet(rel.objects, rel.links), bInfo.Name, lo)
	objects, links, _ = gateBindings(objects, links, bInfo.Name, hi)

	log.Debug("close {{edge}}: {{rows}} links, {{matches}} matches", "edge", e.Name, "rows", len(rows),
		"matches", matchSet(objects, links).Len())
	return m.newRelation(sch, objects, links), nil
}

// join is the shared body of Extend and Merge.
func (m *Matcher) join(relA, relB *MatchRelation, e Edge, roleA, roleB string, used []string, op string) (*MatchRelation, error) {
	rows, err := m.connect(relA, roleA, relB, roleB, e, used, false)
	if err != nil {
		return nil, err
	}
	bInfo, _ := relB.schema.lookup(roleB)
	sch := relA.schema.with(relB.schema.roles...).with(edgeRole(e))
	next := max(matchSet(relA.objects, relA.links).Max(), matchSet(relB.objects, relB.links).Max()) + 1

	var units []unit
	if bInfo.Annotation == nil {
		units = unitsFor(rows, e.Annotation)
	} else {
		// every A match collects all qualifying B items
		qualifying := make([]pairRow, 0, len(rows))
		for _, g := range algebra.GroupBy(rows, pairRow.key) {
			if e.Annotation.Contains(len(g.Rows)) {
				qualifying = append(qualifying, g.Rows...)
			}
		}
		perA := make(map[int64][]pairRow)
		for _, r := range qualifying {
			perA[r.aMatch] = append(perA[r.aMatch], r)
		}
		for _, match := range matchSet(relA.objects, relA.links).Sorted() {
			attached := perA[match]
			n := algebra.KeySet(attached, func(r pairRow) storage.ItemID { return r.b }).Len()
			if n >= bInfo.Annotation.Min {
				units = append(units, unit{aMatch: match, rows: attached})
			}
		}
	}

	objects, links := m.emit(units, relA, relB, e.Name, next)
	dropped := 0
	if bInfo.Annotation != nil {
		objects, links, dropped = gateBindings(objects, links, roleB, bInfo.Annotation.Max)
	}

	out := m.newRelation(sch, objects, links)
	log.Debug("{{op}} {{edge}}: {{rows}} links, {{matches}} matches ({{dropped}} over max)",
		"op", op, "edge", e.Name, "rows", len(rows), "matches", out.Len(), "dropped", dropped)
	return out, nil
}

// unitsFor builds output matches for an unannotated destination. An
// unannotated edge makes every row a match; an annotated edge groups rows
// per object pair and keeps the groups within the annotation.
func unitsFor(rows []pairRow, edgeAnnotation *Annotation) []unit {
	var units []unit
	if edgeAnnotation == nil {
		for _, r := range rows {
			units = append(units, unit{aMatch: r.aMatch, rows: []pairRow{r}})
		}
		return units
	}
	for _, g := range algebra.GroupBy(rows, pairRow.key) {
		if edgeAnnotation.Contains(len(g.Rows)) {
			units = append(units, unit{aMatch: g.Key.aMatch, rows: g.Rows})
		}
	}
	return units
}

// emit materializes units. The first unit of an A match keeps its id, later
// ones take fresh ids starting at next. relB may be nil when B is bound in
// relA already.
func (m *Matcher) emit(units []unit, relA, relB *MatchRelation, edge string, next int64) ([]storage.Binding, []storage.Binding) {
	aObjects, aLinks := byMatch(relA.objects), byMatch(relA.links)
	var bObjects, bLinks map[int64][]storage.Binding
	if relB != nil {
		bObjects, bLinks = byMatch(relB.objects), byMatch(relB.links)
	}

	var objects, links []storage.Binding
	seen := algebra.NewSet[int64]()
	for _, u := range units {
		id := u.aMatch
		if seen.Has(id) {
			id = next
			next++
		}
		seen.Add(id)

		objects = append(objects, withMatch(aObjects[u.aMatch], id)...)
		links = append(links, withMatch(aLinks[u.aMatch], id)...)
		if relB != nil {
			for _, bm := range algebra.Distinct(u.rows, func(r pairRow) int64 { return r.bMatch }) {
				objects = append(objects, withMatch(bObjects[bm.bMatch], id)...)
				links = append(links, withMatch(bLinks[bm.bMatch], id)...)
			}
		}
		for _, r := range u.rows {
			links = append(links, storage.Binding{Item: r.link, Match: id, Role: edge})
		}
	}
	return distinctBindings(objects), distinctBindings(links)
}

// connect joins the A bindings of relA to the B bindings of relB through
// the candidate links of e. With sameMatch, relA and relB are the same
// relation and only rows within one match qualify.
func (m *Matcher) connect(relA *MatchRelation, roleA string, relB *MatchRelation, roleB string, e Edge, used []string, sameMatch bool) ([]pairRow, error) {
	candidates, err := m.candidateLinks(e)
	if err != nil {
		return nil, err
	}
	ends := orient(candidates, e.From == roleA, e.Directed)

	step := algebra.HashJoin(relA.Bindings(roleA), ends,
		func(b storage.Binding) storage.ItemID { return b.Item },
		func(le linkEnd) storage.ItemID { return le.a },
		func(b storage.Binding, le linkEnd) pairRow {
			return pairRow{aMatch: b.Match, a: b.Item, link: le.link, b: le.b}
		})
	rows := algebra.HashJoin(step, relB.Bindings(roleB),
		func(r pairRow) storage.ItemID { return r.b },
		func(b storage.Binding) storage.ItemID { return b.Item },
		func(r pairRow, b storage.Binding) pairRow {
			r.bMatch = b.Match
			return r
		})

	if sameMatch {
		rows = algebra.Filter(rows, func(r pairRow) bool { return r.aMatch == r.bMatch })
	}
	if !m.allowLinkReuse && len(used) > 0 {
		takenA := takenLinks(relA, used)
		takenB := takenA
		if relB != relA {
			takenB = takenLinks(relB, used)
		}
		rows = algebra.Filter(rows, func(r pairRow) bool {
			_, inA := takenA[matchLink{r.aMatch, r.link}]
			_, inB := takenB[matchLink{r.bMatch, r.link}]
			return !inA && !inB
		})
	}

	slices.SortFunc(rows, func(x, y pairRow) int {
		return cmp.Or(
			cmp.Compare(x.aMatch, y.aMatch),
			cmp.Compare(x.a, y.a),
			cmp.Compare(x.bMatch, y.bMatch),
			cmp.Compare(x.b, y.b),
			cmp.Compare(x.link, y.link),
		)
	})
	return rows, nil
}

// takenLinks collects the (match, link) pairs of rel bound under the used
// roles.
func takenLinks(rel *MatchRelation, used []string) map[matchLink]struct{} {
	roles := algebra.NewSet(used...)
	taken := make(map[matchLink]struct{})
	for _, b := range rel.links {
		if roles.Has(b.Role) {
			taken[matchLink{b.Match, b.Item}] = struct{}{}
		}
	}
	return taken
}

// orient turns candidate links into A→B rows. An undirected edge also
// yields the reverse orientation, except for self-loops, which are counted
// once.
func orient(links []storage.Link, aIsFrom, directed bool) []linkEnd {
	out := make([]linkEnd, 0, len(links))
	for _, l := range links {
		if aIsFrom {
			out = append(out, linkEnd{link: l.ID, a: l.O1, b: l.O2})
		} else {
			out = append(out, linkEnd{link: l.ID, a: l.O2, b: l.O1})
		}
		if !directed && l.O1 != l.O2 {
			if aIsFrom {
				out = append(out, linkEnd{link: l.ID, a: l.O2, b: l.O1})
			} else {
				out = append(out, linkEnd{link: l.ID, a: l.O1, b: l.O2})
			}
		}
	}
	return out
}

func edgeRole(e Edge) RoleInfo {
	return RoleInfo{Name: e.Name, Kind: EdgeRole, Annotation: e.Annotation, From: e.From, To: e.To}
}

// checkEdge validates e as the edge between vertex roles a and b.
func checkEdge(e Edge, a, b string, bound schema) error {
	if e.Name == "" {
		return invalidf("edge without name")
	}
	if bound.has(e.Name) {
		return invalidf("edge %s is already bound", e.Name)
	}
	if !(e.From == a && e.To == b) && !(e.From == b && e.To == a) {
		return invalidf("edge %s connects %s and %s, not %s and %s", e.Name, e.From, e.To, a, b)
	}
	if err := e.Annotation.check(); err != nil {
		return invalidf("edge %s: %v", e.Name, err)
	}
	if e.Annotation != nil && e.Annotation.Min == 0 {
		return invalidf("edge %s: annotation min must be at least 1", e.Name)
	}
	for _, end := range []string{a, b} {
		if info, ok := bound.lookup(end); ok && info.Annotation != nil && e.Annotation == nil {
			return invalidf("edge %s: edges of annotated vertex %s must be annotated", e.Name, end)
		}
	}
	return nil
}
