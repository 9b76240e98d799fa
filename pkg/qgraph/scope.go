package qgraph

import (
	"github.com/google/uuid"
)

// Scope releases, on Close, every relation created while it was the
// innermost open scope of its Matcher, except those transferred out with
// Keep.
//
// Scopes nest like lexical blocks:
//
//	scope := m.OpenScope()
//	defer scope.Close()
//
//	seed, err := m.Seed(a)
//	...
//	result, err := m.Extend(seed, y, "A", b, nil)
//	...
//	return result, scope.Keep(result)
type Scope struct {
	id     string
	m      *Matcher
	parent *Scope
	owned  map[*MatchRelation]struct{}
	closed bool
}

// OpenScope pushes a new innermost scope.
func (m *Matcher) OpenScope() *Scope {
	s := &Scope{
		id:     uuid.NewString(),
		m:      m,
		parent: m.scope,
		owned:  make(map[*MatchRelation]struct{}),
	}
	m.scope = s
	log.Trace("opened scope {{scope}}", "scope", s.id)
	return s
}

// ID returns the scope's unique id.
func (s *Scope) ID() string {
	return s.id
}

// Len returns the number of relations the scope currently owns.
func (s *Scope) Len() int {
	return len(s.owned)
}

// Keep transfers relations out of the scope: to the enclosing scope, or to
// the caller when s is the outermost scope. Keeping a relation the scope
// does not own is ErrScopeMisuse.
func (s *Scope) Keep(rels ...*MatchRelation) error {
	if s.closed {
		return ErrScopeMisuse
	}
	for _, r := range rels {
		if r == nil || r.owner != s {
			return ErrScopeMisuse
		}
	}
	for _, r := range rels {
		delete(s.owned, r)
		r.owner = s.parent
		if s.parent != nil {
			s.parent.owned[r] = struct{}{}
		}
	}
	return nil
}

// Close releases every relation still owned by the scope and pops it.
// Closing a scope twice, or while an inner scope is still open, is
// ErrScopeMisuse.
func (s *Scope) Close() error {
	if s.closed || s.m.scope != s {
		return ErrScopeMisuse
	}
	n := len(s.owned)
	for r := range s.owned {
		r.owner = nil
		if err := r.Release(); err != nil {
			return err
		}
	}
	s.owned = nil
	s.closed = true
	s.m.scope = s.parent
	log.Trace("closed scope {{scope}}, released {{count}} relations", "scope", s.id, "count", n)
	return nil
}
