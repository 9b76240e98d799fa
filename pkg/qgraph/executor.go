package qgraph

import (
	"context"
	"time"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/storage"
)

// Query is one pattern run.
type Query struct {
	Pattern *Pattern
	// Source restricts the run to the objects and links of a stored
	// container. Empty means the whole graph.
	Source string
	// Output names the container the result is exported to. Empty picks a
	// fresh name.
	Output string
}

// Result describes an exported run.
type Result struct {
	Container *storage.Container
	Matches   int
	// LinksAdded counts the links created by the pattern's add-links.
	LinksAdded int
	Elapsed    time.Duration
}

// Executor validates patterns, drives the operators over them and exports
// the matches.
//
// Matching starts at the pattern's first unannotated vertex and walks the
// edges in declaration order:
//   - an edge to an unbound, unannotated vertex extends the matches
//   - an edge to an annotated vertex with no other edges extends them too,
//     attaching every qualifying object to the one match
//   - an edge to an annotated vertex with further edges first builds that
//     vertex's own fragment, then merges it in
//   - an edge between two bound vertices closes a cycle
//
// Constraints are applied afterwards in declaration order. Every
// intermediate relation lives in a scope that is closed when the run ends.
// The exported container records the pattern definition; the pattern's
// add-links are then created between the exported objects.
type Executor struct {
	store   storage.Engine
	timeout time.Duration
	opts    []Option
}

// NewExecutor creates an executor over store. A positive timeout bounds
// each run; it is checked between operators.
func NewExecutor(store storage.Engine, timeout time.Duration, opts ...Option) *Executor {
	return &Executor{store: store, timeout: timeout, opts: opts}
}

// Run evaluates q and exports the result.
func (x *Executor) Run(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	if q.Pattern == nil {
		return nil, invalidf("query without pattern")
	}
	if x.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.timeout)
		defer cancel()
	}

	p := q.Pattern
	if err := p.Validate(x.store); err != nil {
		return nil, err
	}

	universe := storage.Universe{}
	if q.Source != "" {
		var err error
		if universe, err = storage.SourceUniverse(x.store, q.Source); err != nil {
			return nil, err
		}
	}
	m, err := NewMatcher(x.store, universe, x.opts...)
	if err != nil {
		return nil, err
	}

	scope := m.OpenScope()
	defer func() {
		if err := scope.Close(); err != nil {
			log.LogError(err, "failed to close scope {{scope}}", "scope", scope.ID())
		}
	}()

	log.Info("running pattern {{pattern}}", "pattern", p.Name, "source", q.Source)
	rel, err := x.match(ctx, m, p)
	if err != nil {
		return nil, err
	}

	definition, err := MarshalPattern(p)
	if err != nil {
		return nil, err
	}
	c, err := m.ExportQuery(rel, q.Output, string(definition))
	if err != nil {
		return nil, err
	}
	added, err := createLinks(x.store, c, p.AddLinks)
	if err != nil {
		return nil, err
	}
	if added > 0 {
		// Cached link results no longer describe the graph.
		m.eval.Reset()
	}
	res := &Result{Container: c, Matches: c.MatchCount(), LinksAdded: added, Elapsed: time.Since(start)}
	log.Info("pattern {{pattern}}: {{matches}} matches in {{elapsed}}",
		"pattern", p.Name, "matches", res.Matches, "elapsed", res.Elapsed)
	return res, nil
}

// match evaluates a validated pattern with m and returns the final
// relation, owned by m's innermost scope.
func (x *Executor) match(ctx context.Context, m *Matcher, p *Pattern) (*MatchRelation, error) {
	root, ok := p.Root()
	if !ok {
		return nil, invalidf("pattern %s has no unannotated vertex", p.Name)
	}

	d := &driver{
		ctx:     ctx,
		m:       m,
		p:       p,
		claimed: algebra.NewSet[string](),
		done:    algebra.NewSet[string](),
	}
	rel, err := d.fragment(root)
	if err != nil {
		return nil, err
	}
	for _, v := range p.Vertices {
		if !rel.schema.has(v.Name) {
			return nil, invalidf("pattern %s: vertex %s is not connected to %s", p.Name, v.Name, root.Name)
		}
	}

	for _, c := range p.Constraints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var deps []string
		if c.Quantified() {
			deps = p.DependentRoles(p.CascadeRole(c))
		}
		next, err := m.Constrain(rel, c, c.Quantified(), deps)
		if err != nil {
			return nil, err
		}
		if err := rel.Release(); err != nil {
			return nil, err
		}
		rel = next
	}
	return rel, nil
}

type driver struct {
	ctx     context.Context
	m       *Matcher
	p       *Pattern
	claimed algebra.Set[string]
	done    algebra.Set[string]
}

// fragment seeds root and grows it over every edge it can reach without
// entering vertices claimed by other fragments.
func (d *driver) fragment(root Vertex) (*MatchRelation, error) {
	rel, err := d.m.Seed(root)
	if err != nil {
		return nil, err
	}
	d.claimed.Add(root.Name)

	for progressed := true; progressed; {
		progressed = false
		for _, e := range d.p.Edges {
			if d.done.Has(e.Name) {
				continue
			}
			if err := d.ctx.Err(); err != nil {
				return nil, err
			}

			next, err := d.step(rel, e)
			if err != nil {
				return nil, err
			}
			if next == nil {
				continue
			}
			d.done.Add(e.Name)
			if err := rel.Release(); err != nil {
				return nil, err
			}
			rel = next
			progressed = true
			break
		}
	}
	return rel, nil
}

// step applies the operator for edge e, or returns nil when e cannot be
// processed from rel yet.
func (d *driver) step(rel *MatchRelation, e Edge) (*MatchRelation, error) {
	fromBound, toBound := rel.schema.has(e.From), rel.schema.has(e.To)
	switch {
	case fromBound && toBound:
		return d.m.Close(rel, e)
	case !fromBound && !toBound:
		return nil, nil
	}

	bound, other := e.From, e.To
	if toBound {
		bound, other = e.To, e.From
	}
	if d.claimed.Has(other) {
		return nil, nil
	}
	v, ok := d.p.Vertex(other)
	if !ok {
		return nil, invalidf("edge %s: unknown vertex %s", e.Name, other)
	}
	d.claimed.Add(other)

	if v.Annotation == nil || d.p.degree(other) == 1 {
		return d.m.Extend(rel, e, bound, v, rel.schema.names(EdgeRole))
	}

	d.done.Add(e.Name)
	frag, err := d.fragment(v)
	if err != nil {
		return nil, err
	}
	defer frag.Release()
	return d.m.Merge(rel, frag, e, bound, other)
}
