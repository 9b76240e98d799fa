package qgraph

import (
	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// RoleKind tells vertex roles from edge roles.
type RoleKind int

const (
	VertexRole RoleKind = iota
	EdgeRole
)

func (k RoleKind) String() string {
	if k == EdgeRole {
		return "edge"
	}
	return "vertex"
}

// RoleInfo is what a relation knows about one of its roles.
type RoleInfo struct {
	Name       string
	Kind       RoleKind
	Annotation *Annotation
	// From and To name the endpoint vertex roles of an edge role.
	From string
	To   string
}

// schema is the ordered list of roles bound by a relation. The first vertex
// role is the anchor of the relation. Schemas are never modified in place.
type schema struct {
	roles []RoleInfo
}

func (s schema) lookup(name string) (RoleInfo, bool) {
	for _, r := range s.roles {
		if r.Name == name {
			return r, true
		}
	}
	return RoleInfo{}, false
}

func (s schema) has(name string) bool {
	_, ok := s.lookup(name)
	return ok
}

func (s schema) with(roles ...RoleInfo) schema {
	out := make([]RoleInfo, 0, len(s.roles)+len(roles))
	out = append(out, s.roles...)
	out = append(out, roles...)
	return schema{roles: out}
}

func (s schema) names(kind RoleKind) []string {
	var out []string
	for _, r := range s.roles {
		if r.Kind == kind {
			out = append(out, r.Name)
		}
	}
	return out
}

// anchor returns the first vertex role other than skip.
func (s schema) anchor(skip string) string {
	for _, r := range s.roles {
		if r.Kind == VertexRole && r.Name != skip {
			return r.Name
		}
	}
	return ""
}

// dependents returns the roles that can only be reached from the anchor
// through removed.
func (s schema) dependents(removed string) algebra.Set[string] {
	var edges []roleEdge
	for _, r := range s.roles {
		if r.Kind == EdgeRole {
			edges = append(edges, roleEdge{name: r.Name, from: r.From, to: r.To})
		}
	}
	return unreachable(s.names(VertexRole), edges, s.anchor(removed), removed)
}

func (s schema) defs() []storage.RoleDef {
	out := make([]storage.RoleDef, len(s.roles))
	for i, r := range s.roles {
		d := storage.RoleDef{Name: r.Name, Edge: r.Kind == EdgeRole, From: r.From, To: r.To}
		if r.Annotation != nil {
			d.Annotated = true
			d.Min, d.Max = r.Annotation.Min, r.Annotation.Max
		} else {
			d.Min, d.Max = 1, 1
		}
		out[i] = d
	}
	return out
}

func schemaFromDefs(defs []storage.RoleDef) schema {
	roles := make([]RoleInfo, len(defs))
	for i, d := range defs {
		r := RoleInfo{Name: d.Name, From: d.From, To: d.To}
		if d.Edge {
			r.Kind = EdgeRole
		}
		if d.Annotated {
			r.Annotation = NewAnnotation(d.Min, d.Max)
		}
		roles[i] = r
	}
	return schema{roles: roles}
}

type roleEdge struct {
	name, from, to string
}

// unreachable walks the role graph from root without passing through
// removed. It returns every vertex role not reached, and every edge role
// touching one of them or removed. removed itself is not included.
func unreachable(vertices []string, edges []roleEdge, root, removed string) algebra.Set[string] {
	reached := algebra.NewSet[string]()
	if root != "" && root != removed {
		reached.Add(root)
	}
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			if e.from == removed || e.to == removed {
				continue
			}
			switch {
			case reached.Has(e.from) && !reached.Has(e.to):
				reached.Add(e.to)
				changed = true
			case reached.Has(e.to) && !reached.Has(e.from):
				reached.Add(e.from)
				changed = true
			}
		}
	}

	out := algebra.NewSet[string]()
	for _, v := range vertices {
		if v != removed && !reached.Has(v) {
			out.Add(v)
		}
	}
	for _, e := range edges {
		if e.from == removed || e.to == removed || out.Has(e.from) || out.Has(e.to) {
			out.Add(e.name)
		}
	}
	return out
}
