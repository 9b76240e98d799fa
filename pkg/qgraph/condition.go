package qgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
)

// Op is a comparison operator of a condition test or a cross constraint.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	// OpExists tests that an attribute has at least one value. It is only
	// valid in condition tests.
	OpExists
)

var opNames = [...]string{"eq", "ne", "lt", "le", "gt", "ge", "exists"}

var opAliases = map[string]Op{
	"=":  OpEq,
	"==": OpEq,
	"!=": OpNe,
	"<>": OpNe,
	"<":  OpLt,
	"<=": OpLe,
	">":  OpGt,
	">=": OpGe,
}

// ParseOp parses an operator name. Matching is case-insensitive and the
// usual symbols are accepted as aliases.
func ParseOp(s string) (Op, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range opNames {
		if n == name {
			return Op(i), nil
		}
	}
	if op, ok := opAliases[name]; ok {
		return op, nil
	}
	return 0, fmt.Errorf("%w: unknown operator %q", ErrInvalidPattern, s)
}

func (o Op) String() string {
	if o.valid() {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

func (o Op) valid() bool {
	return o >= OpEq && o <= OpExists
}

// MarshalText implements encoding.TextMarshaler.
func (o Op) MarshalText() ([]byte, error) {
	if !o.valid() {
		return nil, fmt.Errorf("%w: unknown operator %d", ErrInvalidPattern, int(o))
	}
	return []byte(o.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (o *Op) UnmarshalText(text []byte) error {
	op, err := ParseOp(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Flip returns the operator that gives the same result with swapped
// operands: a < b is b > a.
func (o Op) Flip() Op {
	switch o {
	case OpLt:
		return OpGt
	case OpLe:
		return OpGe
	case OpGt:
		return OpLt
	case OpGe:
		return OpLe
	}
	return o
}

// holds reports whether a three-way comparison result satisfies the
// operator. OpExists never holds on a comparison.
func (o Op) holds(c int) bool {
	switch o {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// Condition is a boolean tree of attribute tests. The variants are Test,
// And, Or and Not; a nil Condition selects every item of the universe.
type Condition interface {
	fmt.Stringer
	condition()
}

// Test compares an attribute of an item against a literal. With OpExists
// the value is ignored and the test holds when the item has any value.
type Test struct {
	Attr  string
	Op    Op
	Value any
}

// And holds when every child holds.
type And []Condition

// Or holds when any child holds.
type Or []Condition

// Not holds when its child does not.
type Not struct {
	Child Condition
}

func (Test) condition() {}
func (And) condition()  {}
func (Or) condition()   {}
func (Not) condition()  {}

func (t Test) String() string {
	if t.Op == OpExists {
		return fmt.Sprintf("exists(%s)", t.Attr)
	}
	if s, ok := t.Value.(string); ok {
		return fmt.Sprintf("%s %s %q", t.Attr, t.Op, s)
	}
	return fmt.Sprintf("%s %s %v", t.Attr, t.Op, t.Value)
}

func (a And) String() string { return joinConditions("and", a) }
func (o Or) String() string  { return joinConditions("or", o) }

func (n Not) String() string {
	if n.Child == nil {
		return "not()"
	}
	return "not(" + n.Child.String() + ")"
}

func joinConditions(name string, children []Condition) string {
	parts := make([]string, len(children))
	for i, c := range children {
		if c == nil {
			parts[i] = "<nil>"
			continue
		}
		parts[i] = c.String()
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}

// conditionKey returns a canonical text for a condition. And/Or children are
// ordered so that commutative rewrites map to the same key. Tests are
// rendered as canonical JSON.
func conditionKey(c Condition) (string, error) {
	switch c := c.(type) {
	case nil:
		return "*", nil
	case Test:
		value := c.Value
		if c.Op == OpExists {
			value = nil
		}
		raw, err := json.Marshal(map[string]any{"attr": c.Attr, "op": c.Op.String(), "value": value})
		if err != nil {
			return "", fmt.Errorf("%w: cannot encode test %s: %v", ErrInvalidPattern, c, err)
		}
		canon, err := jcs.Transform(raw)
		if err != nil {
			return "", err
		}
		return string(canon), nil
	case And:
		return childKeys("and", c)
	case Or:
		return childKeys("or", c)
	case Not:
		k, err := conditionKey(c.Child)
		if err != nil {
			return "", err
		}
		return "not(" + k + ")", nil
	}
	return "", fmt.Errorf("%w: unsupported condition %T", ErrInvalidPattern, c)
}

func childKeys(name string, children []Condition) (string, error) {
	keys := make([]string, len(children))
	for i, child := range children {
		k, err := conditionKey(child)
		if err != nil {
			return "", err
		}
		keys[i] = k
	}
	sort.Strings(keys)
	return name + "(" + strings.Join(keys, ",") + ")", nil
}
