package qgraph

import (
	"testing"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perksPattern = `
name: perks
vertices:
  - name: P
    condition:
      test: {attr: role, op: eq, value: p}
  - name: J
    annotation: [1, -1]
    condition:
      Test: {attr: role, op: "=", value: j}
  - name: K
    condition:
      test: {attr: role, op: eq, value: ${KIND}}
edges:
  - name: W
    from: P
    to: J
    directed: true
    annotation: [1, -1]
    condition:
      test: {attr: type, op: eq, value: w}
  - {name: H, from: J, to: K, directed: true, annotation: [1, -1], condition: {test: {attr: type, op: eq, value: h}}}
constraints:
  - {op: ge, item1: P, attr1: income, item2: J, attr2: salary, annotItem: J, annotation: [1, -1]}
`

func kindEnv(name string) string {
	if name == "KIND" {
		return "k"
	}
	return ""
}

func TestParsePattern(t *testing.T) {
	p, err := ParsePattern([]byte(perksPattern), kindEnv)
	require.NoError(t, err)

	assert.Equal(t, "perks", p.Name)
	require.Len(t, p.Vertices, 3)
	assert.Equal(t, eq("role", "j"), p.Vertices[1].Condition)
	assert.Equal(t, ann(1, -1), p.Vertices[1].Annotation)
	assert.Equal(t, eq("role", "k"), p.Vertices[2].Condition)

	require.Len(t, p.Edges, 2)
	assert.Equal(t, typed("H", "J", "K", "h", true, ann(1, -1)), p.Edges[1])

	require.Len(t, p.Constraints, 1)
	assert.Equal(t, Constraint{
		Op: OpGe, Item1: "P", Attr1: "income", Item2: "J", Attr2: "salary",
		AnnotItem: "J", Annotation: ann(1, -1),
	}, p.Constraints[0])

	assert.NoError(t, p.Validate(newStore(t, jobGraph)))
}

func TestParsePattern_Conditions(t *testing.T) {
	doc := `
vertices:
  - name: A
    condition:
      or:
        - and:
            - test: {attr: attr1, op: eq, value: M}
            - test: {attr: attr2, op: exists}
        - not:
            test: {attr: attr1, op: ne, value: F}
`
	p, err := ParsePattern([]byte(doc), kindEnv)
	require.NoError(t, err)
	assert.Equal(t, Or{
		And{eq("attr1", "M"), exists("attr2")},
		Not{Child: Test{Attr: "attr1", Op: OpNe, Value: "F"}},
	}, p.Vertices[0].Condition)
}

func TestParsePattern_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field":     "vertices:\n  - name: A\n    colour: red\n",
		"unknown condition": "vertices:\n  - name: A\n    condition: {xor: []}\n",
		"two conditions":    "vertices:\n  - name: A\n    condition: {test: {attr: a, op: eq, value: 1}, not: {test: {attr: a, op: exists}}}\n",
		"unknown operator":  "vertices:\n  - name: A\n    condition: {test: {attr: a, op: like, value: x}}\n",
		"bad annotation":    "vertices:\n  - name: A\n    annotation: [1, 2, 3]\n",
		"constraint op":     "constraints:\n  - {op: approx, item1: A, item2: B}\n",
		"not yaml":          "vertices: [:",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePattern([]byte(doc), kindEnv)
			assert.ErrorIs(t, err, ErrInvalidPattern)
		})
	}
}

func TestMarshalPattern(t *testing.T) {
	p, err := ParsePattern([]byte(perksPattern), kindEnv)
	require.NoError(t, err)
	p.Vertices[0].Condition = Or{
		And{eq("role", "p"), exists("income")},
		Not{Child: Test{Attr: "income", Op: OpLt, Value: 0}},
	}
	p.Constraints = append(p.Constraints, Constraint{Op: OpLe, Item1: "W", Attr1: "since", Item2: "H", Attr2: "since", IsEdge: true})
	p.AddLinks = []AddLink{{Vertex1: "P", Vertex2: "K", Attr: "perk", Value: "5"}}

	data, err := MarshalPattern(p)
	require.NoError(t, err)
	assert.Contains(t, string(data), "annotation: [1, -1]")

	back, err := ParsePattern(data, nil)
	require.NoError(t, err)
	assert.Equal(t, p, back)
}

func TestLoadPatternFile(t *testing.T) {
	fs := memoryfs.New()
	defer vfs.Cleanup(fs)

	require.NoError(t, fs.MkdirAll("/patterns", 0o700))
	unnamed := "vertices:\n  - name: A\n"
	require.NoError(t, vfs.WriteFile(fs, "/patterns/single.yaml", []byte(unnamed), 0o600))

	p, err := LoadPatternFile(fs, "/patterns/single.yaml", kindEnv)
	require.NoError(t, err)
	assert.Equal(t, "single", p.Name)

	_, err = LoadPatternFile(fs, "/patterns/missing.yaml", kindEnv)
	assert.Error(t, err)
}

func TestPattern_Validate(t *testing.T) {
	store := newStore(t, jobGraph)
	p := person("P")
	j := job("J", nil)

	tests := []struct {
		name    string
		pattern Pattern
		problem string
	}{
		{"no vertices", Pattern{}, "no vertices"},
		{"duplicate name", Pattern{Vertices: []Vertex{p, person("P")}}, "duplicate name"},
		{"edge named like vertex", Pattern{
			Vertices: []Vertex{p, j},
			Edges:    []Edge{typed("J", "P", "J", "w", true, nil)},
		}, "duplicate name"},
		{"no root", Pattern{Vertices: []Vertex{job("J", ann(0, -1))}}, "unannotated vertex"},
		{"unknown endpoint", Pattern{
			Vertices: []Vertex{p},
			Edges:    []Edge{typed("W", "P", "Q", "w", true, nil)},
		}, "unknown to vertex"},
		{"bad annotation", Pattern{Vertices: []Vertex{p, job("J", ann(3, 2))}}, "max must be"},
		{"edge min zero", Pattern{
			Vertices: []Vertex{p, job("J", ann(0, -1))},
			Edges:    []Edge{typed("W", "P", "J", "w", true, ann(0, -1))},
		}, "min must be at least 1"},
		{"adjacent annotated", Pattern{
			Vertices: []Vertex{p, job("J", ann(0, -1)), {Name: "K", Annotation: ann(1, 2)}},
			Edges: []Edge{
				typed("W", "P", "J", "w", true, ann(1, -1)),
				typed("H", "J", "K", "h", true, ann(1, -1)),
			},
		}, "cannot both be annotated"},
		{"unannotated edge of annotated vertex", Pattern{
			Vertices: []Vertex{p, job("J", ann(0, -1))},
			Edges:    []Edge{typed("W", "P", "J", "w", true, nil)},
		}, "must be annotated"},
		{"disconnected", Pattern{Vertices: []Vertex{p, j}}, "not connected"},
		{"unknown attribute", Pattern{Vertices: []Vertex{{Name: "P", Condition: eq("height", 1)}}}, "unknown object attribute"},
		{"constraint types", Pattern{
			Vertices:    []Vertex{p},
			Constraints: []Constraint{{Op: OpEq, Item1: "P", Attr1: "income", Item2: "P", Attr2: "name"}},
		}, "cannot compare"},
		{"constraint one attribute", Pattern{
			Vertices:    []Vertex{p},
			Constraints: []Constraint{{Op: OpEq, Item1: "P", Attr1: "income", Item2: "P"}},
		}, "both sides"},
		{"constraint role kind", Pattern{
			Vertices:    []Vertex{p, j},
			Edges:       []Edge{typed("W", "P", "J", "w", true, nil)},
			Constraints: []Constraint{{Op: OpEq, Item1: "P", Item2: "W"}},
		}, "unknown object role"},
		{"constraint annot item", Pattern{
			Vertices:    []Vertex{p, j},
			Edges:       []Edge{typed("W", "P", "J", "w", true, nil)},
			Constraints: []Constraint{{Op: OpEq, Item1: "P", Item2: "J", AnnotItem: "W", Annotation: ann(1, 1)}},
		}, "must be one of the compared roles"},
		{"constraint between annotated roles", Pattern{
			Vertices: []Vertex{p, job("J", ann(1, -1)), {Name: "C", Condition: eq("role", "c"), Annotation: ann(1, -1)}},
			Edges: []Edge{
				typed("W", "P", "J", "w", true, ann(1, -1)),
				typed("E", "P", "C", "e", true, ann(1, -1)),
			},
			Constraints: []Constraint{{Op: OpLe, Item1: "J", Attr1: "salary", Item2: "C", Attr2: "income"}},
		}, "J and C are both annotated"},
		{"add-link unknown vertex", Pattern{
			Vertices: []Vertex{p, j},
			Edges:    []Edge{typed("W", "P", "J", "w", true, nil)},
			AddLinks: []AddLink{{Vertex1: "P", Vertex2: "Q", Attr: "perk", Value: "yes"}},
		}, `unknown vertex "Q"`},
		{"add-link without attribute", Pattern{
			Vertices: []Vertex{p, j},
			Edges:    []Edge{typed("W", "P", "J", "w", true, nil)},
			AddLinks: []AddLink{{Vertex1: "P", Vertex2: "J", Value: "yes"}},
		}, "attribute name required"},
		{"add-link attribute type", Pattern{
			Vertices: []Vertex{p, j},
			Edges:    []Edge{typed("W", "P", "J", "w", true, nil)},
			AddLinks: []AddLink{{Vertex1: "P", Vertex2: "J", Attr: "since", Value: "2020"}},
		}, "has type int"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pattern.Validate(store)
			require.ErrorIs(t, err, ErrInvalidPattern)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Error(), tt.problem)
		})
	}

	t.Run("all problems reported", func(t *testing.T) {
		bad := Pattern{
			Name:     "bad",
			Vertices: []Vertex{{Name: "P", Condition: eq("height", 1)}, person("P")},
		}
		var verr *ValidationError
		require.ErrorAs(t, bad.Validate(store), &verr)
		assert.Len(t, verr.Problems, 2)
		assert.Contains(t, verr.Error(), "invalid pattern bad")
	})

	t.Run("catalog optional", func(t *testing.T) {
		ok := Pattern{Vertices: []Vertex{{Name: "P", Condition: eq("height", 1)}}}
		assert.NoError(t, ok.Validate(nil))
	})
}

func TestPattern_Roles(t *testing.T) {
	p := &Pattern{
		Vertices: []Vertex{person("P"), job("J", ann(1, -1)), {Name: "K"}, {Name: "C"}},
		Edges: []Edge{
			typed("W", "P", "J", "w", true, ann(1, -1)),
			typed("H", "J", "K", "h", true, ann(1, -1)),
			typed("E", "P", "C", "e", true, nil),
		},
	}

	root, ok := p.Root()
	require.True(t, ok)
	assert.Equal(t, "P", root.Name)

	assert.Equal(t, []string{"H", "K", "W"}, p.DependentRoles("J"))
	assert.Equal(t, []string{"E"}, p.DependentRoles("C"))
	assert.Equal(t, []string{"C", "E", "W"}, p.DependentRoles("P"))

	assert.Equal(t, "J", p.CascadeRole(Constraint{Item1: "J", Item2: "P", AnnotItem: "J", Annotation: ann(1, 1)}))
	assert.Equal(t, "J", p.CascadeRole(Constraint{Item1: "E", Item2: "W", AnnotItem: "W", Annotation: ann(1, 1), IsEdge: true}))

	assert.Equal(t, 2, p.degree("J"))
	assert.Equal(t, 1, p.degree("C"))
}
