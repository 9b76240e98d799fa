package qgraph

import (
	"fmt"

	"github.com/orneryd/proximity/pkg/cache"
	"github.com/orneryd/proximity/pkg/pool"
	"github.com/orneryd/proximity/pkg/storage"
)

// Matcher runs the pattern operators over one universe of a store.
//
// A Matcher is not safe for concurrent use: operators run one at a time and
// each completes before its result is handed on. The store must not change
// while a Matcher is in use.
type Matcher struct {
	store    storage.Engine
	universe storage.Universe
	links    map[storage.ItemID]storage.Link
	linkIDs  storage.IDSet
	eval     *Evaluator
	scope    *Scope

	allowLinkReuse bool
	resultCache    *cache.ResultCache
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCache memoizes condition results in c.
func WithCache(c *cache.ResultCache) Option {
	return func(m *Matcher) {
		m.resultCache = c
	}
}

// WithLinkReuse lets one link fill several edge roles of the same match.
func WithLinkReuse(allow bool) Option {
	return func(m *Matcher) {
		m.allowLinkReuse = allow
	}
}

// NewMatcher creates a matcher over universe. A universe with nil Objects
// covers the whole graph; nil Links covers every link whose endpoints are
// both visible objects.
func NewMatcher(store storage.Engine, universe storage.Universe, opts ...Option) (*Matcher, error) {
	m := &Matcher{store: store}
	for _, opt := range opts {
		opt(m)
	}
	m.eval = NewEvaluator(store, m.resultCache)

	if universe.Objects == nil {
		objects, err := store.Objects()
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		universe.Objects = objects
	}
	all, err := store.Links()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	m.links = make(map[storage.ItemID]storage.Link, len(all))
	m.linkIDs = make(storage.IDSet, len(all))
	for _, l := range all {
		if universe.Links != nil && !universe.Links.Has(l.ID) {
			continue
		}
		if !universe.Objects.Has(l.O1) || !universe.Objects.Has(l.O2) {
			continue
		}
		m.links[l.ID] = l
		m.linkIDs.Add(l.ID)
	}
	universe.Links = m.linkIDs
	m.universe = universe

	log.Debug("matcher over {{objects}} objects and {{links}} links",
		"objects", universe.Objects.Len(), "links", m.linkIDs.Len())
	return m, nil
}

// Universe returns the objects and links the matcher sees.
func (m *Matcher) Universe() storage.Universe {
	return m.universe
}

// Evaluator returns the matcher's condition evaluator.
func (m *Matcher) Evaluator() *Evaluator {
	return m.eval
}

// newRelation copies the bindings into pooled buffers and registers the
// relation with the innermost open scope.
func (m *Matcher) newRelation(sch schema, objects, links []storage.Binding) *MatchRelation {
	r := &MatchRelation{
		objects: append(pool.GetBindings(), objects...),
		links:   append(pool.GetBindings(), links...),
		schema:  sch,
	}
	if m.scope != nil {
		r.owner = m.scope
		m.scope.owned[r] = struct{}{}
	}
	return r
}

// candidateLinks returns the universe links satisfying the edge condition.
func (m *Matcher) candidateLinks(e Edge) ([]storage.Link, error) {
	ids, err := m.eval.Evaluate(e.Condition, storage.KindLink, m.linkIDs)
	if err != nil {
		return nil, fmt.Errorf("edge %s: %w", e.Name, err)
	}
	out := make([]storage.Link, 0, ids.Len())
	for _, id := range ids.Sorted() {
		out = append(out, m.links[id])
	}
	return out, nil
}

// Seed gives every object satisfying the vertex condition its own match,
// numbered by the object's id.
func (m *Matcher) Seed(v Vertex) (*MatchRelation, error) {
	if v.Name == "" {
		return nil, invalidf("vertex without name")
	}
	if err := v.Annotation.check(); err != nil {
		return nil, invalidf("vertex %s: %v", v.Name, err)
	}
	ids, err := m.eval.Evaluate(v.Condition, storage.KindObject, m.universe.Objects)
	if err != nil {
		return nil, fmt.Errorf("vertex %s: %w", v.Name, err)
	}

	objects := pool.GetBindings()
	defer func() { pool.PutBindings(objects) }()
	for _, id := range ids.Sorted() {
		objects = append(objects, storage.Binding{Item: id, Match: int64(id), Role: v.Name})
	}

	sch := schema{}.with(RoleInfo{Name: v.Name, Kind: VertexRole, Annotation: v.Annotation})
	log.Debug("seed {{role}}: {{matches}} matches", "role", v.Name, "matches", len(objects))
	return m.newRelation(sch, objects, nil), nil
}
