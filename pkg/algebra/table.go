package algebra

import "cmp"

// Filter returns the rows for which keep returns true.
func Filter[R any](rows []R, keep func(R) bool) []R {
	out := make([]R, 0, len(rows))
	for _, r := range rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

// Project maps every row through fn.
func Project[R, S any](rows []R, fn func(R) S) []S {
	out := make([]S, len(rows))
	for i, r := range rows {
		out[i] = fn(r)
	}
	return out
}

// Distinct keeps the first row for every key.
func Distinct[R any, K comparable](rows []R, key func(R) K) []R {
	seen := make(map[K]struct{}, len(rows))
	out := make([]R, 0, len(rows))
	for _, r := range rows {
		k := key(r)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Group is one group produced by GroupBy.
type Group[K comparable, R any] struct {
	Key  K
	Rows []R
}

// GroupBy partitions rows by key. Groups are returned in order of first
// appearance of their key.
func GroupBy[R any, K comparable](rows []R, key func(R) K) []Group[K, R] {
	index := make(map[K]int)
	var groups []Group[K, R]
	for _, r := range rows {
		k := key(r)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group[K, R]{Key: k})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups
}

// CountBy returns the number of rows per key.
func CountBy[R any, K comparable](rows []R, key func(R) K) map[K]int {
	out := make(map[K]int)
	for _, r := range rows {
		out[key(r)]++
	}
	return out
}

// CountDistinct returns, per group key, the number of distinct values.
func CountDistinct[R any, K, V comparable](rows []R, key func(R) K, value func(R) V) map[K]int {
	seen := make(map[K]map[V]struct{})
	for _, r := range rows {
		k := key(r)
		vs, ok := seen[k]
		if !ok {
			vs = make(map[V]struct{})
			seen[k] = vs
		}
		vs[value(r)] = struct{}{}
	}
	out := make(map[K]int, len(seen))
	for k, vs := range seen {
		out[k] = len(vs)
	}
	return out
}

// HashJoin is an equi-join of left and right on the given keys. combine
// builds the output row for every matching pair.
func HashJoin[L, R, O any, K comparable](left []L, right []R, lkey func(L) K, rkey func(R) K, combine func(L, R) O) []O {
	index := make(map[K][]R, len(right))
	for _, r := range right {
		k := rkey(r)
		index[k] = append(index[k], r)
	}
	var out []O
	for _, l := range left {
		for _, r := range index[lkey(l)] {
			out = append(out, combine(l, r))
		}
	}
	return out
}

// SemiJoin returns the left rows whose key appears in keys.
func SemiJoin[R any, K cmp.Ordered](rows []R, keys Set[K], key func(R) K) []R {
	return Filter(rows, func(r R) bool { return keys.Has(key(r)) })
}

// AntiJoin returns the left rows whose key does not appear in keys.
func AntiJoin[R any, K cmp.Ordered](rows []R, keys Set[K], key func(R) K) []R {
	return Filter(rows, func(r R) bool { return !keys.Has(key(r)) })
}

// KeySet collects the keys of all rows.
func KeySet[R any, K cmp.Ordered](rows []R, key func(R) K) Set[K] {
	out := make(Set[K], len(rows))
	for _, r := range rows {
		out[key(r)] = struct{}{}
	}
	return out
}

// Unbounded is the max value of a range with no upper limit.
const Unbounded = -1

// WithinRange reports whether n lies in [min, max]. A negative min means no
// lower bound and a max of Unbounded means no upper bound.
func WithinRange(n, min, max int) bool {
	if min >= 0 && n < min {
		return false
	}
	if max != Unbounded && n > max {
		return false
	}
	return true
}
