package qgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/proximity/pkg/storage"
)

// seedGraph is the five-object attribute fixture.
const seedGraph = `
attributes:
  objects: {attr1: str, attr2: str}
objects:
  - {id: 1, attrs: {attr1: F, attr2: A}}
  - {id: 2, attrs: {attr1: M, attr2: B}}
  - {id: 3, attrs: {attr1: F}}
  - {id: 4, attrs: {attr1: M}}
  - {id: 5, attrs: {attr1: F, attr2: C}}
`

// linkGraph has parallel links 1->3, a two-way pair between 2 and 5 and a
// self-loop on 6.
const linkGraph = `
attributes:
  objects: {kind: str}
  links: {type: str}
objects:
  - {id: 1, attrs: {kind: a}}
  - {id: 2, attrs: {kind: a}}
  - {id: 3, attrs: {kind: b}}
  - {id: 4, attrs: {kind: b}}
  - {id: 5, attrs: {kind: b}}
  - {id: 6, attrs: {kind: a}}
links:
  - {id: 10, o1: 1, o2: 3, attrs: {type: Y}}
  - {id: 11, o1: 1, o2: 3, attrs: {type: Y}}
  - {id: 12, o1: 1, o2: 4, attrs: {type: Y}}
  - {id: 13, o1: 2, o2: 5, attrs: {type: Y}}
  - {id: 14, o1: 5, o2: 2, attrs: {type: Y}}
  - {id: 15, o1: 6, o2: 6, attrs: {type: Y}}
  - {id: 16, o1: 3, o2: 1, attrs: {type: X}}
`

// jobGraph has persons (p) working jobs (j) at a company (c); jobs 3 and 4
// have a perk (k).
const jobGraph = `
attributes:
  objects: {role: str, income: int, salary: int, name: str}
  links: {type: str, since: int}
objects:
  - {id: 1, attrs: {role: p, income: 100, name: ann}}
  - {id: 2, attrs: {role: p, income: 50, name: bob}}
  - {id: 3, attrs: {role: j, salary: 80}}
  - {id: 4, attrs: {role: j, salary: 120}}
  - {id: 5, attrs: {role: j, salary: 40}}
  - {id: 7, attrs: {role: c}}
  - {id: 8, attrs: {role: k}}
  - {id: 9, attrs: {role: k}}
links:
  - {id: 20, o1: 1, o2: 3, attrs: {type: w, since: 2000}}
  - {id: 21, o1: 1, o2: 4, attrs: {type: w, since: 2010}}
  - {id: 22, o1: 1, o2: 5, attrs: {type: w, since: 1990}}
  - {id: 23, o1: 2, o2: 3, attrs: {type: w, since: 2005}}
  - {id: 24, o1: 2, o2: 5, attrs: {type: w, since: 2015}}
  - {id: 30, o1: 1, o2: 7, attrs: {type: e, since: 2000}}
  - {id: 31, o1: 2, o2: 7, attrs: {type: e, since: 2010}}
  - {id: 40, o1: 3, o2: 8, attrs: {type: h}}
  - {id: 41, o1: 4, o2: 9, attrs: {type: h}}
`

func newStore(t *testing.T, graph string) *storage.MemoryEngine {
	t.Helper()
	store := storage.NewMemoryEngine()
	t.Cleanup(func() { store.Close() })
	_, err := storage.LoadGraphYAML(store, []byte(graph))
	require.NoError(t, err)
	return store
}

func newTestMatcher(t *testing.T, graph string, opts ...Option) *Matcher {
	t.Helper()
	m, err := NewMatcher(newStore(t, graph), storage.Universe{}, opts...)
	require.NoError(t, err)
	return m
}

func eq(attr string, value any) Test {
	return Test{Attr: attr, Op: OpEq, Value: value}
}

func exists(attr string) Test {
	return Test{Attr: attr, Op: OpExists}
}

func ann(min, max int) *Annotation {
	return NewAnnotation(min, max)
}

func vertex(name, kind string) Vertex {
	return Vertex{Name: name, Condition: eq("kind", kind)}
}

func person(name string) Vertex {
	return Vertex{Name: name, Condition: eq("role", "p")}
}

func job(name string, a *Annotation) Vertex {
	return Vertex{Name: name, Condition: eq("role", "j"), Annotation: a}
}

func typed(name, from, to, typ string, directed bool, a *Annotation) Edge {
	return Edge{Name: name, From: from, To: to, Directed: directed, Annotation: a, Condition: eq("type", typ)}
}

// seedAndExtend seeds from and extends it over e to to.
func seedAndExtend(t *testing.T, m *Matcher, from Vertex, e Edge, to Vertex) *MatchRelation {
	t.Helper()
	seed, err := m.Seed(from)
	require.NoError(t, err)
	rel, err := m.Extend(seed, e, from.Name, to, nil)
	require.NoError(t, err)
	return rel
}

func itemsOf(rows []storage.Binding) []storage.ItemID {
	out := make([]storage.ItemID, len(rows))
	for i, b := range rows {
		out[i] = b.Item
	}
	return out
}
