package qgraph

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// AddLink asks for a new link from every Vertex1 object to every Vertex2
// object of the same match, once per distinct pair. Each new link gets the
// string attribute Attr set to Value.
type AddLink struct {
	Vertex1 string
	Vertex2 string
	Attr    string
	Value   string
}

func (a AddLink) String() string {
	return fmt.Sprintf("%s->%s %s=%q", a.Vertex1, a.Vertex2, a.Attr, a.Value)
}

type linkPair struct {
	from, to storage.ItemID
}

// linkPairs joins the bindings of two vertex roles on match id and returns
// the distinct (from, to) pairs in order.
func linkPairs(objects []storage.Binding, from, to string) []linkPair {
	role := func(name string) []storage.Binding {
		return algebra.Filter(objects, func(b storage.Binding) bool { return b.Role == name })
	}
	byMatch := func(b storage.Binding) int64 { return b.Match }
	pairs := algebra.HashJoin(role(from), role(to), byMatch, byMatch, func(a, b storage.Binding) linkPair {
		return linkPair{a.Item, b.Item}
	})
	pairs = algebra.Distinct(pairs, func(p linkPair) linkPair { return p })
	slices.SortFunc(pairs, func(a, b linkPair) int {
		if c := cmp.Compare(a.from, b.from); c != 0 {
			return c
		}
		return cmp.Compare(a.to, b.to)
	})
	return pairs
}

// createLinks adds the links requested by adds between the objects of the
// exported container c and returns how many were created. New link ids
// continue after the largest id in the store.
func createLinks(store storage.Engine, c *storage.Container, adds []AddLink) (int, error) {
	if len(adds) == 0 {
		return 0, nil
	}
	links, err := store.Links()
	if err != nil {
		return 0, err
	}
	var next storage.ItemID
	for _, l := range links {
		next = max(next, l.ID)
	}
	next++

	created := 0
	for _, a := range adds {
		def := storage.AttrDef{Name: a.Attr, Kind: storage.KindLink, Type: storage.TypeStr}
		if err := store.DefineAttribute(def); err != nil {
			return created, fmt.Errorf("add-link %s: %w", a, err)
		}
		pairs := linkPairs(c.Objects, a.Vertex1, a.Vertex2)
		for _, p := range pairs {
			if err := store.CreateLink(storage.Link{ID: next, O1: p.from, O2: p.to}); err != nil {
				return created, fmt.Errorf("add-link %s: %w", a, err)
			}
			if err := store.SetAttribute(storage.KindLink, a.Attr, next, a.Value); err != nil {
				return created, fmt.Errorf("add-link %s: %w", a, err)
			}
			next++
			created++
		}
		log.Info("add-link {{link}}: {{count}} links created", "link", a.String(), "count", len(pairs))
	}
	return created, nil
}
