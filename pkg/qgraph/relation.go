package qgraph

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/storage"
)

// MatchRelation holds the vertex and edge bindings of a set of matches.
// Bindings sharing a match id belong to the same candidate embedding.
//
// A relation is an owned handle: it is created by an operator of a Matcher,
// registered with the Matcher's innermost open scope, and must be released
// exactly once, either explicitly with Release or in bulk when its scope
// closes. Operators never modify their inputs.
type MatchRelation struct {
	objects  []storage.Binding
	links    []storage.Binding
	schema   schema
	owner    *Scope
	released bool
}

// Objects returns a copy of the vertex bindings.
func (r *MatchRelation) Objects() []storage.Binding {
	return slices.Clone(r.objects)
}

// Links returns a copy of the edge bindings.
func (r *MatchRelation) Links() []storage.Binding {
	return slices.Clone(r.links)
}

// Roles returns the roles bound by the relation in binding order.
func (r *MatchRelation) Roles() []RoleInfo {
	return slices.Clone(r.schema.roles)
}

// Role returns the description of a bound role.
func (r *MatchRelation) Role(name string) (RoleInfo, bool) {
	return r.schema.lookup(name)
}

// Bindings returns the bindings of one role.
func (r *MatchRelation) Bindings(role string) []storage.Binding {
	info, ok := r.schema.lookup(role)
	if !ok {
		return nil
	}
	rows := r.objects
	if info.Kind == EdgeRole {
		rows = r.links
	}
	return algebra.Filter(rows, func(b storage.Binding) bool { return b.Role == role })
}

// MatchIDs returns the distinct match ids in ascending order.
func (r *MatchRelation) MatchIDs() []int64 {
	return matchSet(r.objects, r.links).Sorted()
}

// Len returns the number of matches.
func (r *MatchRelation) Len() int {
	return matchSet(r.objects, r.links).Len()
}

// Released reports whether the relation has been released.
func (r *MatchRelation) Released() bool {
	return r.released
}

// Signature describes the relation independent of match ids: one sorted
// "role.item" list per match, and the matches sorted. Two relations with the
// same signature hold the same embeddings.
func (r *MatchRelation) Signature() []string {
	tokens := make(map[int64][]string)
	for _, rows := range [][]storage.Binding{r.objects, r.links} {
		for _, b := range rows {
			tokens[b.Match] = append(tokens[b.Match], fmt.Sprintf("%s.%d", b.Role, b.Item))
		}
	}
	out := make([]string, 0, len(tokens))
	for _, ts := range tokens {
		sort.Strings(ts)
		out = append(out, strings.Join(ts, " "))
	}
	sort.Strings(out)
	return out
}

// Release returns the relation's buffers. Releasing twice returns
// ErrReleased.
func (r *MatchRelation) Release() error {
	if r == nil {
		return nil
	}
	if r.released {
		return ErrReleased
	}
	pool.PutBindings(r.objects)
	pool.PutBindings(r.links)
	r.objects, r.links = nil, nil
	r.released = true
	if r.owner != nil {
		delete(r.owner.owned, r)
		r.owner = nil
	}
	return nil
}

func (r *MatchRelation) check() error {
	if r == nil {
		return fmt.Errorf("%w: nil relation", ErrInvalidPattern)
	}
	if r.released {
		return ErrReleased
	}
	return nil
}

func (r *MatchRelation) vertexRole(name string) (RoleInfo, error) {
	info, ok := r.schema.lookup(name)
	if !ok {
		return RoleInfo{}, invalidf("role %q is not bound", name)
	}
	if info.Kind != VertexRole {
		return RoleInfo{}, invalidf("role %q is an edge role", name)
	}
	return info, nil
}

func matchSet(rows ...[]storage.Binding) algebra.Set[int64] {
	out := algebra.NewSet[int64]()
	for _, rs := range rows {
		for _, b := range rs {
			out.Add(b.Match)
		}
	}
	return out
}

func byMatch(rows []storage.Binding) map[int64][]storage.Binding {
	out := make(map[int64][]storage.Binding)
	for _, b := range rows {
		out[b.Match] = append(out[b.Match], b)
	}
	return out
}

func withMatch(rows []storage.Binding, match int64) []storage.Binding {
	return algebra.Project(rows, func(b storage.Binding) storage.Binding {
		b.Match = match
		return b
	})
}

func distinctBindings(rows []storage.Binding) []storage.Binding {
	return algebra.Distinct(rows, func(b storage.Binding) storage.Binding { return b })
}

// dropMatches removes every binding of the given matches.
func dropMatches(rows []storage.Binding, drop algebra.Set[int64]) []storage.Binding {
	if drop.Len() == 0 {
		return rows
	}
	return algebra.AntiJoin(rows, drop, func(b storage.Binding) int64 { return b.Match })
}
