package qgraph

import (
	"context"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/proximity/pkg/cache"
	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/storage"
)

func TestExecutor_Run(t *testing.T) {
	store := newStore(t, jobGraph)
	p, err := ParsePattern([]byte(perksPattern), kindEnv)
	require.NoError(t, err)

	x := NewExecutor(store, time.Minute, WithCache(cache.NewResultCache(100, 0)))
	outstanding := pool.Outstanding()

	res, err := x.Run(context.Background(), Query{Pattern: p, Output: "perks-out"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, "perks-out", res.Container.Name)
	assert.NotEmpty(t, res.Container.Digest)
	assert.Equal(t, outstanding, pool.Outstanding(), "intermediate relations released")

	m, err := NewMatcher(store, storage.Universe{})
	require.NoError(t, err)
	loaded, err := m.LoadRelation("perks-out")
	require.NoError(t, err)
	assert.Equal(t, []string{"H.40 J.3 K.8 P.1 W.20"}, loaded.Signature())
	assert.Equal(t, []int64{1}, loaded.MatchIDs())
	if diff := deep.Equal(loaded.Objects(), res.Container.Objects); diff != nil {
		t.Errorf("loaded relation differs from container: %v", diff)
	}

	j, ok := loaded.Role("J")
	require.True(t, ok)
	assert.Equal(t, ann(1, -1), j.Annotation)
	w, ok := loaded.Role("W")
	require.True(t, ok)
	assert.Equal(t, EdgeRole, w.Kind)
	assert.Equal(t, "P", w.From)

	t.Run("source round trip", func(t *testing.T) {
		again, err := x.Run(context.Background(), Query{Pattern: p, Source: "perks-out", Output: "perks-again"})
		require.NoError(t, err)
		assert.Equal(t, 1, again.Matches)

		rel, err := m.LoadRelation("perks-again")
		require.NoError(t, err)
		assert.Equal(t, loaded.Signature(), rel.Signature())
		assert.Equal(t, []int64{1}, rel.MatchIDs())
	})

	t.Run("default output name", func(t *testing.T) {
		res, err := x.Run(context.Background(), Query{Pattern: p})
		require.NoError(t, err)
		assert.Regexp(t, `^qgraph-[0-9a-f-]{36}$`, res.Container.Name)
	})
}

func TestExecutor_AddLinks(t *testing.T) {
	store := newStore(t, jobGraph)
	p, err := ParsePattern([]byte(perksPattern+`addLinks:
  - {vertex1: P, vertex2: K, attr: perk, value: "yes"}
`), kindEnv)
	require.NoError(t, err)
	require.Equal(t, []AddLink{{Vertex1: "P", Vertex2: "K", Attr: "perk", Value: "yes"}}, p.AddLinks)

	res, err := NewExecutor(store, 0, WithCache(cache.NewResultCache(100, 0))).Run(context.Background(), Query{Pattern: p, Output: "perks"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matches)
	assert.Equal(t, 1, res.LinksAdded)

	links, err := store.Links()
	require.NoError(t, err)
	assert.Equal(t, storage.Link{ID: 42, O1: 1, O2: 8}, links[len(links)-1])
	perks, err := store.AttrValues(storage.KindLink, "perk")
	require.NoError(t, err)
	assert.Equal(t, map[storage.ItemID][]any{42: {"yes"}}, perks)

	t.Run("query recorded", func(t *testing.T) {
		saved, err := store.GetContainer("perks")
		require.NoError(t, err)
		require.NotEmpty(t, saved.Query)
		q, err := ParsePattern([]byte(saved.Query), kindEnv)
		require.NoError(t, err)
		assert.Equal(t, p, q)
	})

	t.Run("new links are matched", func(t *testing.T) {
		perk := &Pattern{
			Name:     "perk",
			Vertices: []Vertex{person("P"), {Name: "K", Condition: eq("role", "k")}},
			Edges:    []Edge{{Name: "L", From: "P", To: "K", Directed: true, Condition: eq("perk", "yes")}},
		}
		res, err := NewExecutor(store, 0).Run(context.Background(), Query{Pattern: perk, Output: "perk"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Matches)
		assert.Zero(t, res.LinksAdded)
	})

	t.Run("string attribute required", func(t *testing.T) {
		bad := *p
		bad.AddLinks = []AddLink{{Vertex1: "P", Vertex2: "K", Attr: "since", Value: "2020"}}
		_, err := NewExecutor(store, 0).Run(context.Background(), Query{Pattern: &bad})
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})
}

func TestLinkPairs(t *testing.T) {
	objects := []storage.Binding{
		{Match: 1, Role: "P", Item: 1},
		{Match: 1, Role: "J", Item: 3},
		{Match: 1, Role: "J", Item: 4},
		{Match: 2, Role: "P", Item: 2},
		{Match: 2, Role: "J", Item: 3},
		{Match: 3, Role: "P", Item: 1},
		{Match: 3, Role: "J", Item: 4},
	}
	assert.Equal(t, []linkPair{{1, 3}, {1, 4}, {2, 3}}, linkPairs(objects, "P", "J"))
	assert.Equal(t, []linkPair{{3, 1}, {3, 2}, {4, 1}}, linkPairs(objects, "J", "P"))
	assert.Empty(t, linkPairs(objects, "P", "K"))
}

func TestExecutor_UnannotatedChain(t *testing.T) {
	store := newStore(t, linkGraph)
	p := &Pattern{
		Name:     "cycle",
		Vertices: []Vertex{vertex("A", "a"), vertex("B", "b")},
		Edges: []Edge{
			typed("Y", "A", "B", "Y", true, nil),
			typed("X", "B", "A", "X", true, nil),
		},
	}
	res, err := NewExecutor(store, 0).Run(context.Background(), Query{Pattern: p, Output: "cycle"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Matches)
}

func TestExecutor_Errors(t *testing.T) {
	store := newStore(t, jobGraph)
	x := NewExecutor(store, 0)

	t.Run("no pattern", func(t *testing.T) {
		_, err := x.Run(context.Background(), Query{})
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := x.Run(context.Background(), Query{Pattern: &Pattern{Vertices: []Vertex{{Name: "P", Condition: eq("height", 1)}}}})
		assert.ErrorIs(t, err, ErrInvalidPattern)
	})

	t.Run("unknown source", func(t *testing.T) {
		_, err := x.Run(context.Background(), Query{Pattern: &Pattern{Vertices: []Vertex{person("P")}}, Source: "nope"})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("cancelled", func(t *testing.T) {
		p, err := ParsePattern([]byte(perksPattern), kindEnv)
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = x.Run(ctx, Query{Pattern: p})
		assert.ErrorIs(t, err, context.Canceled)

		names, err := store.ContainerNames()
		require.NoError(t, err)
		assert.Empty(t, names, "nothing exported")
	})
}
