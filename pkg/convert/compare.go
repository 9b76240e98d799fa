package convert

import "strings"

// Domain is the ordering a value is compared under.
type Domain int

const (
	// Numeric values are ordered as float64.
	Numeric Domain = iota
	// Text values are ordered lexicographically.
	Text
	// Boolean values only support equality; false orders before true.
	Boolean
)

// Compare orders a against b in the given domain. It returns -1, 0 or 1, and
// false when either side cannot be represented in the domain.
func Compare(a, b any, domain Domain) (int, bool) {
	switch domain {
	case Numeric:
		x, ok1 := ToFloat64(a)
		y, ok2 := ToFloat64(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case Boolean:
		x, ok1 := ToBool(a)
		y, ok2 := ToBool(b)
		if !ok1 || !ok2 {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		}
		return 1, true
	default:
		if a == nil || b == nil {
			return 0, false
		}
		return strings.Compare(ToString(a), ToString(b)), true
	}
}
