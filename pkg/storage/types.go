// Package storage provides the object/link graph store the pattern engine
// runs against.
//
// The store holds three kinds of data:
//   - Objects: bare graph vertices identified by an ItemID
//   - Links: directed connections (O1 -> O2) between objects, also ItemIDs
//   - Attributes: typed, possibly multi-valued per-item values, declared once
//     per item kind with a ValueType
//
// and one kind of derived data:
//   - Containers: named, persisted match collections produced by queries.
//     A container can be read back as a source universe restricting a later
//     query to the objects and links it holds.
//
// Two engines implement the Engine interface:
//   - MemoryEngine: maps guarded by a RWMutex, for tests and small graphs
//   - BadgerEngine: BadgerDB key/value store, persistent across restarts
//
// Example Usage:
//
//	engine := storage.NewMemoryEngine()
//	defer engine.Close()
//
//	engine.DefineAttribute(storage.AttrDef{Name: "gender", Kind: storage.KindObject, Type: storage.TypeStr})
//	engine.CreateObject(1)
//	engine.CreateObject(2)
//	engine.CreateLink(storage.Link{ID: 10, O1: 1, O2: 2})
//	engine.SetAttribute(storage.KindObject, "gender", 1, "F")
//
//	objects, _ := engine.Objects()
//	fmt.Printf("%d objects\n", objects.Len())
package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orneryd/proximity/pkg/algebra"
	"github.com/orneryd/proximity/pkg/convert"
)

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidID      = errors.New("invalid id")
	ErrInvalidData    = errors.New("invalid data")
	ErrInvalidLink    = errors.New("invalid link: endpoint object not found")
	ErrUnknownAttr    = errors.New("attribute not defined")
	ErrStorageClosed  = errors.New("storage closed")
	ErrDigestMismatch = errors.New("container digest mismatch")
)

// ItemID identifies an object or a link. Objects and links live in separate
// id spaces, so an object and a link may share the same numeric id.
type ItemID int64

// IDSet is a set of item ids.
type IDSet = algebra.Set[ItemID]

// ItemKind distinguishes objects from links.
type ItemKind int

const (
	KindObject ItemKind = iota
	KindLink
)

// String returns "object" or "link".
func (k ItemKind) String() string {
	if k == KindLink {
		return "link"
	}
	return "object"
}

// ValueType is the declared type of an attribute.
//
// The declared type decides how values are compared: int and float compare
// numerically, str lexicographically, bool by equality.
type ValueType string

const (
	TypeInt   ValueType = "int"
	TypeFloat ValueType = "float"
	TypeStr   ValueType = "str"
	TypeBool  ValueType = "bool"
)

// ParseValueType parses a type name. "string", "integer", "double" and
// "boolean" are accepted as aliases.
func ParseValueType(s string) (ValueType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer":
		return TypeInt, nil
	case "float", "dbl", "double":
		return TypeFloat, nil
	case "str", "string":
		return TypeStr, nil
	case "bool", "boolean":
		return TypeBool, nil
	}
	return "", fmt.Errorf("%w: unknown attribute type %q", ErrInvalidData, s)
}

// Domain returns the comparison domain for values of this type.
func (t ValueType) Domain() convert.Domain {
	switch t {
	case TypeInt, TypeFloat:
		return convert.Numeric
	case TypeBool:
		return convert.Boolean
	}
	return convert.Text
}

// Coerce converts v to the canonical Go representation of the type:
// int64, float64, string or bool.
func (t ValueType) Coerce(v any) (any, error) {
	switch t {
	case TypeInt:
		if i, ok := convert.ToInt64(v); ok {
			return i, nil
		}
	case TypeFloat:
		if f, ok := convert.ToFloat64(v); ok {
			return f, nil
		}
	case TypeBool:
		if b, ok := convert.ToBool(v); ok {
			return b, nil
		}
	case TypeStr:
		if v != nil {
			return convert.ToString(v), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %v (%T) as %s", ErrInvalidData, v, v, t)
}

// Link is a directed connection from object O1 to object O2.
type Link struct {
	ID ItemID `json:"id" yaml:"id"`
	O1 ItemID `json:"o1" yaml:"o1"`
	O2 ItemID `json:"o2" yaml:"o2"`
}

// AttrDef declares an attribute for one item kind.
type AttrDef struct {
	Name string    `json:"name"`
	Kind ItemKind  `json:"kind"`
	Type ValueType `json:"type"`
}

// Binding records that an item fills a named role inside one match
// (one subgraph of a container).
type Binding struct {
	Item  ItemID `json:"item"`
	Match int64  `json:"match"`
	Role  string `json:"role"`
}

// RoleDef describes a role of the pattern a container was produced from.
// Edge roles carry the names of their endpoint vertex roles. Min and Max are
// only meaningful when Annotated is set.
type RoleDef struct {
	Name      string `json:"name"`
	Edge      bool   `json:"edge,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Annotated bool   `json:"annotated,omitempty"`
	Min       int    `json:"min"`
	Max       int    `json:"max"`
}

// Container is a named, persisted collection of matches.
//
// Objects and Links hold the vertex and edge bindings; bindings sharing a
// Match id belong to the same subgraph. Query optionally holds the
// definition of the query that produced the container. Digest is computed
// by the engine on save and verified on load.
type Container struct {
	Name      string    `json:"name"`
	Objects   []Binding `json:"objects"`
	Links     []Binding `json:"links"`
	Roles     []RoleDef `json:"roles,omitempty"`
	Query     string    `json:"query,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Digest    string    `json:"digest,omitempty"`
}

// MatchCount returns the number of distinct match ids in the container.
func (c *Container) MatchCount() int {
	ids := make(map[int64]struct{})
	for _, b := range c.Objects {
		ids[b.Match] = struct{}{}
	}
	for _, b := range c.Links {
		ids[b.Match] = struct{}{}
	}
	return len(ids)
}

// Engine is the storage collaborator consumed by the pattern engine.
//
// Implementations must be safe for concurrent use. Returned slices, sets and
// maps are copies owned by the caller.
type Engine interface {
	// Graph
	CreateObject(id ItemID) error
	CreateLink(link Link) error
	Objects() (IDSet, error)
	Links() ([]Link, error)
	GetLink(id ItemID) (Link, error)
	ObjectCount() (int64, error)
	LinkCount() (int64, error)

	// Attributes
	DefineAttribute(def AttrDef) error
	AttrDef(kind ItemKind, name string) (AttrDef, error)
	Attributes(kind ItemKind) ([]AttrDef, error)
	SetAttribute(kind ItemKind, name string, id ItemID, value any) error
	AttrValues(kind ItemKind, name string) (map[ItemID][]any, error)

	// Containers
	SaveContainer(c *Container) error
	GetContainer(name string) (*Container, error)
	DeleteContainer(name string) error
	ContainerNames() ([]string, error)

	Close() error
}

// Universe is the set of objects and links a query may see.
//
// A nil Links set means "every link whose endpoints are both visible".
type Universe struct {
	Objects IDSet
	Links   IDSet
}

// WholeGraph returns the universe of every object and link in the engine.
func WholeGraph(e Engine) (Universe, error) {
	objects, err := e.Objects()
	if err != nil {
		return Universe{}, err
	}
	links, err := e.Links()
	if err != nil {
		return Universe{}, err
	}
	linkIDs := make(IDSet, len(links))
	for _, l := range links {
		linkIDs.Add(l.ID)
	}
	return Universe{Objects: objects, Links: linkIDs}, nil
}

// SourceUniverse returns the objects and links of a stored container as a
// universe. An empty container yields an empty universe.
func SourceUniverse(e Engine, name string) (Universe, error) {
	c, err := e.GetContainer(name)
	if err != nil {
		return Universe{}, fmt.Errorf("failed to load source container %q: %w", name, err)
	}
	u := Universe{Objects: make(IDSet), Links: make(IDSet)}
	for _, b := range c.Objects {
		u.Objects.Add(b.Item)
	}
	for _, b := range c.Links {
		u.Links.Add(b.Item)
	}
	return u, nil
}
