package qgraph

import (
	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// roleItem is a binding within one match.
type roleItem struct {
	role string
	item storage.ItemID
}

// link returns the endpoints of a link, falling back to the store for links
// outside the universe (relations loaded from a container).
func (m *Matcher) link(id storage.ItemID) (storage.Link, bool) {
	if l, ok := m.links[id]; ok {
		return l, true
	}
	l, err := m.store.GetLink(id)
	if err != nil {
		return storage.Link{}, false
	}
	m.links[id] = l
	return l, true
}

// endpoints resolves the vertex bindings an edge binding connects, in
// whichever orientation both are present. With reachedOnly both endpoints
// must also be marked reached.
func (m *Matcher) endpoints(sch schema, b storage.Binding, present map[roleItem]bool, reachedOnly bool) (roleItem, roleItem, bool) {
	info, ok := sch.lookup(b.Role)
	if !ok || info.Kind != EdgeRole {
		return roleItem{}, roleItem{}, false
	}
	l, ok := m.link(b.Item)
	if !ok {
		return roleItem{}, roleItem{}, false
	}
	for _, o := range [][2]storage.ItemID{{l.O1, l.O2}, {l.O2, l.O1}} {
		x := roleItem{info.From, o[0]}
		y := roleItem{info.To, o[1]}
		xr, xok := present[x]
		yr, yok := present[y]
		if xok && yok && (!reachedOnly || (xr && yr)) {
			return x, y, true
		}
	}
	return roleItem{}, roleItem{}, false
}

// cascade removes the bindings that lost their support after some vertex
// bindings were removed from before to objects.
//
// Per match, bindings of roles outside dependents are anchors. Dependent
// vertex bindings stay only when a chain of edge bindings connects them to
// an anchor, and edge bindings stay only when both their endpoints stay. A
// match that loses every binding of an unannotated, non-dependent role other
// than exempt is dropped whole.
func (m *Matcher) cascade(sch schema, beforeObjects, beforeLinks, objects, links []storage.Binding, dependents algebra.Set[string], exempt string) ([]storage.Binding, []storage.Binding) {
	objByMatch, linkByMatch := byMatch(objects), byMatch(links)
	hadRoles := make(map[int64]algebra.Set[string])
	for _, rows := range [][]storage.Binding{beforeObjects, beforeLinks} {
		for _, b := range rows {
			if hadRoles[b.Match] == nil {
				hadRoles[b.Match] = algebra.NewSet[string]()
			}
			hadRoles[b.Match].Add(b.Role)
		}
	}

	var outObjects, outLinks []storage.Binding
	for _, match := range matchSet(beforeObjects, beforeLinks).Sorted() {
		present := make(map[roleItem]bool)
		for _, b := range objByMatch[match] {
			present[roleItem{b.Role, b.Item}] = !dependents.Has(b.Role)
		}
		edges := linkByMatch[match]
		for changed := true; changed; {
			changed = false
			for _, b := range edges {
				x, y, ok := m.endpoints(sch, b, present, false)
				if ok && present[x] != present[y] {
					present[x], present[y] = true, true
					changed = true
				}
			}
		}

		keptObjects := algebra.Filter(objByMatch[match], func(b storage.Binding) bool {
			return present[roleItem{b.Role, b.Item}]
		})
		keptLinks := algebra.Filter(edges, func(b storage.Binding) bool {
			_, _, ok := m.endpoints(sch, b, present, true)
			return ok
		})

		after := algebra.Union(
			algebra.KeySet(keptObjects, func(b storage.Binding) string { return b.Role }),
			algebra.KeySet(keptLinks, func(b storage.Binding) string { return b.Role }),
		)
		lost := false
		for role := range hadRoles[match] {
			info, _ := sch.lookup(role)
			if info.Annotation == nil && role != exempt && !dependents.Has(role) && !after.Has(role) {
				lost = true
				break
			}
		}
		if lost {
			continue
		}
		outObjects = append(outObjects, keptObjects...)
		outLinks = append(outLinks, keptLinks...)
	}
	return outObjects, outLinks
}

// floorBindings drops the matches among candidates in which fewer than min
// distinct items fill role.
func floorBindings(objects, links []storage.Binding, candidates algebra.Set[int64], role string, min int) ([]storage.Binding, []storage.Binding) {
	if min <= 0 {
		return objects, links
	}
	counts := make(map[int64]int)
	for _, rows := range [][]storage.Binding{objects, links} {
		for match, n := range algebra.CountDistinct(
			algebra.Filter(rows, func(b storage.Binding) bool { return b.Role == role }),
			func(b storage.Binding) int64 { return b.Match },
			func(b storage.Binding) storage.ItemID { return b.Item },
		) {
			counts[match] += n
		}
	}
	drop := candidates.Select(func(match int64) bool { return counts[match] < min })
	return dropMatches(objects, drop), dropMatches(links, drop)
}
