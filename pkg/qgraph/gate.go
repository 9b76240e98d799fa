package qgraph

import (
	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// Gate drops every match in which more than max distinct items fill role.
// Matches at or below the bound pass unchanged; a max of -1 keeps every
// match. Gate never removes single bindings.
func (m *Matcher) Gate(rel *MatchRelation, role string, max int) (*MatchRelation, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	if !rel.schema.has(role) {
		return nil, invalidf("gate: role %q is not bound", role)
	}
	if max < algebra.Unbounded {
		return nil, invalidf("gate: bad bound %d for role %s", max, role)
	}

	objects, links, dropped := gateBindings(rel.objects, rel.links, role, max)
	log.Debug("gate {{role}} <= {{max}}: dropped {{dropped}} matches", "role", role, "max", max, "dropped", dropped)
	return m.newRelation(rel.schema, objects, links), nil
}

// gateBindings removes the matches with more than max distinct items bound
// to role, and returns how many were dropped.
func gateBindings(objects, links []storage.Binding, role string, max int) ([]storage.Binding, []storage.Binding, int) {
	if max == algebra.Unbounded {
		return objects, links, 0
	}
	drop := algebra.NewSet[int64]()
	for _, rows := range [][]storage.Binding{objects, links} {
		counts := algebra.CountDistinct(
			algebra.Filter(rows, func(b storage.Binding) bool { return b.Role == role }),
			func(b storage.Binding) int64 { return b.Match },
			func(b storage.Binding) storage.ItemID { return b.Item },
		)
		for match, n := range counts {
			if n > max {
				drop.Add(match)
			}
		}
	}
	return dropMatches(objects, drop), dropMatches(links, drop), drop.Len()
}
