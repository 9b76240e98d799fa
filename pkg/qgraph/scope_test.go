package qgraph

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/storage"
)

func TestScope_ReleasesOnClose(t *testing.T) {
	m := newTestMatcher(t, linkGraph)
	outstanding := pool.Outstanding()

	scope := m.OpenScope()
	seed, err := m.Seed(vertex("A", "a"))
	require.NoError(t, err)
	rel, err := m.Extend(seed, typed("Y", "A", "B", "Y", true, nil), "A", vertex("B", "b"), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, scope.Len())
	assert.NotEmpty(t, scope.ID())

	require.NoError(t, scope.Close())
	assert.True(t, seed.Released())
	assert.True(t, rel.Released())
	assert.Equal(t, outstanding, pool.Outstanding(), "every buffer returned")
}

func TestScope_Keep(t *testing.T) {
	m := newTestMatcher(t, linkGraph)

	outer := m.OpenScope()
	inner := m.OpenScope()
	seed, err := m.Seed(vertex("A", "a"))
	require.NoError(t, err)
	tmp, err := m.Seed(vertex("B", "b"))
	require.NoError(t, err)

	require.NoError(t, inner.Keep(seed))
	require.NoError(t, inner.Close())
	assert.False(t, seed.Released())
	assert.True(t, tmp.Released())
	assert.Equal(t, 1, outer.Len())

	t.Run("keep by non-owner", func(t *testing.T) {
		assert.ErrorIs(t, inner.Keep(seed), ErrScopeMisuse)
	})

	require.NoError(t, outer.Keep(seed))
	require.NoError(t, outer.Close())
	assert.False(t, seed.Released(), "kept by the outermost scope, owned by the caller")
	require.NoError(t, seed.Release())
}

func TestScope_Misuse(t *testing.T) {
	m := newTestMatcher(t, linkGraph)

	outer := m.OpenScope()
	inner := m.OpenScope()
	assert.ErrorIs(t, outer.Close(), ErrScopeMisuse, "inner scope still open")

	require.NoError(t, inner.Close())
	assert.ErrorIs(t, inner.Close(), ErrScopeMisuse, "closed twice")
	require.NoError(t, outer.Close())
}

func TestRelease(t *testing.T) {
	m := newTestMatcher(t, linkGraph)
	scope := m.OpenScope()
	defer scope.Close()

	seed, err := m.Seed(vertex("A", "a"))
	require.NoError(t, err)
	require.NoError(t, seed.Release())
	assert.Zero(t, scope.Len(), "released relations leave their scope")
	assert.ErrorIs(t, seed.Release(), ErrReleased)

	t.Run("operators reject released input", func(t *testing.T) {
		_, err := m.Extend(seed, typed("Y", "A", "B", "Y", true, nil), "A", vertex("B", "b"), nil)
		assert.ErrorIs(t, err, ErrReleased)
		_, err = m.Gate(seed, "A", 1)
		assert.ErrorIs(t, err, ErrReleased)
		_, err = m.Constrain(seed, Constraint{Op: OpEq, Item1: "A", Item2: "A"}, false, nil)
		assert.ErrorIs(t, err, ErrReleased)
		_, err = m.Export(seed, "x")
		assert.ErrorIs(t, err, ErrReleased)
	})
}

func TestRelationAccessors(t *testing.T) {
	m := newTestMatcher(t, linkGraph)
	rel := seedAndExtend(t, m, vertex("A", "a"), typed("Y", "A", "B", "Y", true, nil), vertex("B", "b"))

	assert.Equal(t, []storage.ItemID{3, 3, 4, 5}, sortedItems(rel.Bindings("B")))
	assert.Equal(t, []storage.ItemID{10, 11, 12, 13}, sortedItems(rel.Bindings("Y")))
	assert.Nil(t, rel.Bindings("Z"))

	roles := rel.Roles()
	require.Len(t, roles, 3)
	assert.Equal(t, RoleInfo{Name: "Y", Kind: EdgeRole, From: "A", To: "B"}, roles[2])

	objects := rel.Objects()
	objects[0].Item = 999
	assert.NotContains(t, itemsOf(rel.Objects()), storage.ItemID(999), "accessors return copies")
}

func sortedItems(rows []storage.Binding) []storage.ItemID {
	items := itemsOf(rows)
	slices.Sort(items)
	return items
}
