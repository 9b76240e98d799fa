package qgraph

import (
	"errors"
	"fmt"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/cache"
	"github.com/orneryd/proximity/pkg/convert"
	"github.com/orneryd/proximity/pkg/storage"
)

// AttributeCatalog resolves attribute declarations. storage.Engine
// implements it.
type AttributeCatalog interface {
	AttrDef(kind storage.ItemKind, name string) (storage.AttrDef, error)
}

type attrRef struct {
	kind storage.ItemKind
	name string
}

// Evaluator turns conditions into item id sets.
//
// Results are a pure function of the store contents, so they are memoized in
// a ResultCache and attribute value tables are read once per attribute. Call
// Reset after the store changes.
//
// Example:
//
//	ev := NewEvaluator(store, cache.NewResultCache(1000, 0))
//	women, err := ev.Evaluate(qgraph.And{
//		qgraph.Test{Attr: "gender", Op: qgraph.OpEq, Value: "F"},
//		qgraph.Test{Attr: "income", Op: qgraph.OpExists},
//	}, storage.KindObject, universe.Objects)
type Evaluator struct {
	store  storage.Engine
	cache  *cache.ResultCache
	values map[attrRef]map[storage.ItemID][]any
}

// NewEvaluator creates an evaluator over store. A nil cache disables result
// caching.
func NewEvaluator(store storage.Engine, c *cache.ResultCache) *Evaluator {
	return &Evaluator{
		store:  store,
		cache:  c,
		values: make(map[attrRef]map[storage.ItemID][]any),
	}
}

// Reset drops memoized attribute values and cached results.
func (e *Evaluator) Reset() {
	e.values = make(map[attrRef]map[storage.ItemID][]any)
	if e.cache != nil {
		e.cache.Clear()
	}
}

// Check validates a condition against the attribute declarations of kind.
// Configuration problems are reported as a *ValidationError.
func (e *Evaluator) Check(cond Condition, kind storage.ItemKind) error {
	verr := &ValidationError{}
	if err := checkCondition(cond, kind, e.store, "condition", verr); err != nil {
		return err
	}
	return verr.orNil()
}

// Evaluate returns the items of universe that satisfy cond. A nil condition
// returns a copy of the universe. The returned set is owned by the caller.
func (e *Evaluator) Evaluate(cond Condition, kind storage.ItemKind, universe storage.IDSet) (storage.IDSet, error) {
	if cond == nil {
		return universe.Clone(), nil
	}
	if err := e.Check(cond, kind); err != nil {
		return nil, err
	}

	var key uint64
	if e.cache != nil {
		ck, err := conditionKey(cond)
		if err != nil {
			return nil, err
		}
		key = cache.Key(kind.String(), ck, fingerprint(universe))
		if hit, ok := e.cache.Get(key); ok {
			return hit.Clone(), nil
		}
	}

	result, err := e.eval(cond, kind, universe)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Put(key, result.Clone())
	}
	log.Trace("evaluated {{condition}} over {{kind}}s: {{count}} of {{universe}}",
		"condition", cond.String(), "kind", kind, "count", result.Len(), "universe", universe.Len())
	return result, nil
}

func (e *Evaluator) eval(cond Condition, kind storage.ItemKind, universe storage.IDSet) (storage.IDSet, error) {
	switch c := cond.(type) {
	case nil:
		return universe.Clone(), nil
	case Test:
		return e.test(c, kind, universe)
	case And:
		cur := universe
		for _, child := range c {
			next, err := e.eval(child, kind, cur)
			if err != nil {
				return nil, err
			}
			cur = next
		}
		return cur.Clone(), nil
	case Or:
		parts := make([]storage.IDSet, 0, len(c))
		for _, child := range c {
			part, err := e.eval(child, kind, universe)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return algebra.Union(parts...), nil
	case Not:
		inner, err := e.eval(c.Child, kind, universe)
		if err != nil {
			return nil, err
		}
		return algebra.Difference(universe, inner), nil
	}
	return nil, fmt.Errorf("%w: unsupported condition %T", ErrInvalidPattern, cond)
}

func (e *Evaluator) test(t Test, kind storage.ItemKind, universe storage.IDSet) (storage.IDSet, error) {
	def, err := e.store.AttrDef(kind, t.Attr)
	if err != nil {
		return nil, err
	}
	values, err := e.attrValues(kind, t.Attr)
	if err != nil {
		return nil, err
	}

	out := make(storage.IDSet)
	if t.Op == OpExists {
		for id, vs := range values {
			if len(vs) > 0 && universe.Has(id) {
				out.Add(id)
			}
		}
		return out, nil
	}

	literal, err := coerceLiteral(def, t.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPattern, t, err)
	}
	domain := def.Type.Domain()
	for id, vs := range values {
		if !universe.Has(id) {
			continue
		}
		for _, v := range vs {
			if c, ok := convert.Compare(v, literal, domain); ok && t.Op.holds(c) {
				out.Add(id)
				break
			}
		}
	}
	return out, nil
}

// coerceLiteral converts a test literal to the attribute's comparison
// domain. Numeric attributes accept any number, so income > 100.5 is valid
// on an int attribute.
func coerceLiteral(def storage.AttrDef, v any) (any, error) {
	if def.Type.Domain() == convert.Numeric {
		if f, ok := convert.ToFloat64(v); ok {
			return f, nil
		}
	}
	return def.Type.Coerce(v)
}

// attrValues returns the value table of an attribute, reading it from the
// store on first use.
func (e *Evaluator) attrValues(kind storage.ItemKind, name string) (map[storage.ItemID][]any, error) {
	ref := attrRef{kind, name}
	if vs, ok := e.values[ref]; ok {
		return vs, nil
	}
	vs, err := e.store.AttrValues(kind, name)
	if err != nil {
		return nil, err
	}
	e.values[ref] = vs
	return vs, nil
}

// checkCondition records configuration problems of cond in verr. It returns
// an error only when the catalog itself fails. A nil catalog skips attribute
// checks.
func checkCondition(cond Condition, kind storage.ItemKind, catalog AttributeCatalog, where string, verr *ValidationError) error {
	switch c := cond.(type) {
	case nil:
		return nil
	case Test:
		if c.Attr == "" {
			verr.addf("%s: test without attribute", where)
			return nil
		}
		if !c.Op.valid() {
			verr.addf("%s: unknown operator %s", where, c.Op)
			return nil
		}
		if c.Op == OpExists {
			if c.Value != nil {
				verr.addf("%s: exists(%s) takes no value", where, c.Attr)
			}
		} else if c.Value == nil {
			verr.addf("%s: %s %s needs a value", where, c.Attr, c.Op)
		}
		if catalog == nil {
			return nil
		}
		def, err := catalog.AttrDef(kind, c.Attr)
		if errors.Is(err, storage.ErrUnknownAttr) {
			verr.addf("%s: unknown %s attribute %q", where, kind, c.Attr)
			return nil
		}
		if err != nil {
			return err
		}
		if c.Op != OpExists && c.Value != nil {
			if _, err := coerceLiteral(def, c.Value); err != nil {
				verr.addf("%s: %s: literal %v does not fit type %s", where, c, c.Value, def.Type)
			}
		}
		return nil
	case And:
		return checkChildren("and", c, kind, catalog, where, verr)
	case Or:
		return checkChildren("or", c, kind, catalog, where, verr)
	case Not:
		if c.Child == nil {
			verr.addf("%s: not without child", where)
			return nil
		}
		return checkCondition(c.Child, kind, catalog, where, verr)
	}
	verr.addf("%s: unsupported condition %T", where, cond)
	return nil
}

func checkChildren(name string, children []Condition, kind storage.ItemKind, catalog AttributeCatalog, where string, verr *ValidationError) error {
	if len(children) == 0 {
		verr.addf("%s: %s without children", where, name)
		return nil
	}
	for _, child := range children {
		if child == nil {
			verr.addf("%s: %s with nil child", where, name)
			continue
		}
		if err := checkCondition(child, kind, catalog, where, verr); err != nil {
			return err
		}
	}
	return nil
}

// fingerprint identifies a set independent of iteration order.
func fingerprint(s storage.IDSet) string {
	var sum, xor uint64
	for id := range s {
		h := mix(uint64(id))
		sum += h
		xor ^= h
	}
	return fmt.Sprintf("%d:%x:%x", len(s), sum, xor)
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
