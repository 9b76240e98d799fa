// Package algebra provides the set and relational operations the pattern
// engine is expressed in.
//
// Two shapes are supported:
//   - Set: an unordered set of comparable ids (object ids, link ids, match ids)
//   - row slices: ordered tables of arbitrary row structs, operated on by the
//     generic Filter, Project, Distinct, GroupBy, HashJoin, SemiJoin and
//     AntiJoin functions
//
// Every operation returns a new value; inputs are never modified. Row order
// of every table operation is deterministic: it follows the left input, and
// for joins the insertion order of the right input within one key.
//
// Example:
//
//	persons := algebra.NewSet[int64](1, 2, 3)
//	females := algebra.NewSet[int64](1, 3, 5)
//	both := algebra.Intersect(persons, females) // {1, 3}
package algebra

import (
	"cmp"
	"slices"
)

// Set is an unordered set of ids.
//
// The zero value (nil) is a valid empty set for reading; use NewSet or make
// before adding.
type Set[T cmp.Ordered] map[T]struct{}

// NewSet creates a set holding the given ids.
func NewSet[T cmp.Ordered](ids ...T) Set[T] {
	s := make(Set[T], len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set.
func (s Set[T]) Add(id T) {
	s[id] = struct{}{}
}

// Remove deletes id from the set.
func (s Set[T]) Remove(id T) {
	delete(s, id)
}

// Has reports whether id is in the set.
func (s Set[T]) Has(id T) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids.
func (s Set[T]) Len() int {
	return len(s)
}

// Sorted returns the ids in ascending order.
func (s Set[T]) Sorted() []T {
	out := make([]T, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// Clone returns an independent copy.
func (s Set[T]) Clone() Set[T] {
	out := make(Set[T], len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold exactly the same ids.
func (s Set[T]) Equal(o Set[T]) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Select returns the ids for which keep returns true.
func (s Set[T]) Select(keep func(T) bool) Set[T] {
	out := make(Set[T])
	for id := range s {
		if keep(id) {
			out[id] = struct{}{}
		}
	}
	return out
}

// Max returns the largest id, or the zero value for an empty set.
func (s Set[T]) Max() T {
	var m T
	first := true
	for id := range s {
		if first || id > m {
			m = id
			first = false
		}
	}
	return m
}

// Union returns the ids present in any of the sets.
func Union[T cmp.Ordered](sets ...Set[T]) Set[T] {
	out := make(Set[T])
	for _, s := range sets {
		for id := range s {
			out[id] = struct{}{}
		}
	}
	return out
}

// Intersect returns the ids present in every set. With no sets it returns
// an empty set.
func Intersect[T cmp.Ordered](sets ...Set[T]) Set[T] {
	if len(sets) == 0 {
		return make(Set[T])
	}
	// iterate the smallest set
	smallest := 0
	for i, s := range sets {
		if len(s) < len(sets[smallest]) {
			smallest = i
		}
	}
	out := make(Set[T])
outer:
	for id := range sets[smallest] {
		for i, s := range sets {
			if i != smallest && !s.Has(id) {
				continue outer
			}
		}
		out[id] = struct{}{}
	}
	return out
}

// Difference returns the ids of a that are not in b.
func Difference[T cmp.Ordered](a, b Set[T]) Set[T] {
	out := make(Set[T], len(a))
	for id := range a {
		if !b.Has(id) {
			out[id] = struct{}{}
		}
	}
	return out
}
