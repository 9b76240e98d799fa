package qgraph

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/drone/envsubst"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// Pattern files are YAML documents:
//
//	name: rich-friends
//	vertices:
//	  - name: A
//	    condition:
//	      and:
//	        - test: {attr: gender, op: eq, value: F}
//	        - test: {attr: income, op: exists}
//	  - name: B
//	    annotation: [1, -1]
//	edges:
//	  - {name: Y, from: A, to: B, directed: true, annotation: [1, -1]}
//	constraints:
//	  - {op: ge, item1: A, attr1: income, item2: B, attr2: income, annotItem: B, annotation: [1, -1]}
//	addLinks:
//	  - {vertex1: A, vertex2: B, attr: type, value: richer}
//
// ${VAR} references are expanded before parsing.

type patternDoc struct {
	Name        string          `yaml:"name,omitempty"`
	Vertices    []vertexDoc     `yaml:"vertices"`
	Edges       []edgeDoc       `yaml:"edges,omitempty"`
	Constraints []constraintDoc `yaml:"constraints,omitempty"`
	AddLinks    []addLinkDoc    `yaml:"addLinks,omitempty"`
}

type vertexDoc struct {
	Name       string        `yaml:"name"`
	Condition  *conditionDoc `yaml:"condition,omitempty"`
	Annotation *Annotation   `yaml:"annotation,omitempty"`
}

type edgeDoc struct {
	Name       string        `yaml:"name"`
	From       string        `yaml:"from"`
	To         string        `yaml:"to"`
	Directed   bool          `yaml:"directed,omitempty"`
	Condition  *conditionDoc `yaml:"condition,omitempty"`
	Annotation *Annotation   `yaml:"annotation,omitempty"`
}

type constraintDoc struct {
	Op         string      `yaml:"op"`
	Item1      string      `yaml:"item1"`
	Attr1      string      `yaml:"attr1,omitempty"`
	Item2      string      `yaml:"item2"`
	Attr2      string      `yaml:"attr2,omitempty"`
	AnnotItem  string      `yaml:"annotItem,omitempty"`
	Annotation *Annotation `yaml:"annotation,omitempty"`
	Edge       bool        `yaml:"edge,omitempty"`
}

type addLinkDoc struct {
	Vertex1 string `yaml:"vertex1"`
	Vertex2 string `yaml:"vertex2"`
	Attr    string `yaml:"attr"`
	Value   string `yaml:"value"`
}

type testDoc struct {
	Attr  string `yaml:"attr"`
	Op    string `yaml:"op"`
	Value any    `yaml:"value,omitempty"`
}

// conditionDoc is a condition node. Exactly one of its keys is set; key
// names are case-insensitive.
type conditionDoc struct {
	test *testDoc
	and  []conditionDoc
	or   []conditionDoc
	not  *conditionDoc
	kind string
}

func (c *conditionDoc) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := node.Decode(&raw); err != nil {
		return fmt.Errorf("line %d: condition must be a mapping", node.Line)
	}
	if len(raw) != 1 {
		return fmt.Errorf("line %d: condition needs exactly one of test, and, or, not", node.Line)
	}
	for key, value := range raw {
		c.kind = strings.ToLower(key)
		switch c.kind {
		case "test":
			c.test = &testDoc{}
			return value.Decode(c.test)
		case "and":
			return value.Decode(&c.and)
		case "or":
			return value.Decode(&c.or)
		case "not":
			c.not = &conditionDoc{}
			return value.Decode(c.not)
		}
		return fmt.Errorf("line %d: unknown condition %q", value.Line, key)
	}
	return nil
}

func (c conditionDoc) MarshalYAML() (any, error) {
	switch c.kind {
	case "test":
		return map[string]any{"test": c.test}, nil
	case "and":
		return map[string]any{"and": c.and}, nil
	case "or":
		return map[string]any{"or": c.or}, nil
	case "not":
		return map[string]any{"not": c.not}, nil
	}
	return nil, fmt.Errorf("%w: empty condition", ErrInvalidPattern)
}

// docOf is the inverse of condition.
func docOf(c Condition) *conditionDoc {
	switch c := c.(type) {
	case Test:
		return &conditionDoc{kind: "test", test: &testDoc{Attr: c.Attr, Op: c.Op.String(), Value: c.Value}}
	case And:
		return &conditionDoc{kind: "and", and: docsOf(c)}
	case Or:
		return &conditionDoc{kind: "or", or: docsOf(c)}
	case Not:
		return &conditionDoc{kind: "not", not: docOf(c.Child)}
	}
	return nil
}

func docsOf(children []Condition) []conditionDoc {
	docs := make([]conditionDoc, 0, len(children))
	for _, child := range children {
		if d := docOf(child); d != nil {
			docs = append(docs, *d)
		}
	}
	return docs
}

func (c *conditionDoc) condition() (Condition, error) {
	if c == nil {
		return nil, nil
	}
	switch c.kind {
	case "test":
		op, err := ParseOp(c.test.Op)
		if err != nil {
			return nil, err
		}
		return Test{Attr: c.test.Attr, Op: op, Value: c.test.Value}, nil
	case "and", "or":
		docs := c.and
		if c.kind == "or" {
			docs = c.or
		}
		children := make([]Condition, 0, len(docs))
		for i := range docs {
			child, err := docs[i].condition()
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if c.kind == "or" {
			return Or(children), nil
		}
		return And(children), nil
	case "not":
		child, err := c.not.condition()
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	}
	return nil, fmt.Errorf("%w: empty condition", ErrInvalidPattern)
}

// ParsePattern reads a pattern document. ${VAR} references are resolved
// with env, or with the process environment when env is nil. The result is
// not validated; call Validate before running it.
func ParsePattern(data []byte, env func(string) string) (*Pattern, error) {
	if env == nil {
		env = os.Getenv
	}
	expanded, err := envsubst.Eval(string(data), env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	var doc patternDoc
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		if errors.Is(err, ErrInvalidPattern) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidPattern, err)
	}

	p := &Pattern{Name: doc.Name}
	for _, v := range doc.Vertices {
		cond, err := v.Condition.condition()
		if err != nil {
			return nil, fmt.Errorf("vertex %s: %w", v.Name, err)
		}
		p.Vertices = append(p.Vertices, Vertex{Name: v.Name, Condition: cond, Annotation: v.Annotation})
	}
	for _, e := range doc.Edges {
		cond, err := e.Condition.condition()
		if err != nil {
			return nil, fmt.Errorf("edge %s: %w", e.Name, err)
		}
		p.Edges = append(p.Edges, Edge{
			Name:       e.Name,
			Condition:  cond,
			Annotation: e.Annotation,
			From:       e.From,
			To:         e.To,
			Directed:   e.Directed,
		})
	}
	for i, c := range doc.Constraints {
		op, err := ParseOp(c.Op)
		if err != nil {
			return nil, fmt.Errorf("constraint %d: %w", i+1, err)
		}
		p.Constraints = append(p.Constraints, Constraint{
			Op:         op,
			Item1:      c.Item1,
			Attr1:      c.Attr1,
			Item2:      c.Item2,
			Attr2:      c.Attr2,
			AnnotItem:  c.AnnotItem,
			Annotation: c.Annotation,
			IsEdge:     c.Edge,
		})
	}
	for _, a := range doc.AddLinks {
		p.AddLinks = append(p.AddLinks, AddLink(a))
	}
	return p, nil
}

// MarshalPattern renders p as a pattern document that ParsePattern reads
// back into an equivalent pattern.
func MarshalPattern(p *Pattern) ([]byte, error) {
	doc := patternDoc{Name: p.Name}
	for _, v := range p.Vertices {
		doc.Vertices = append(doc.Vertices, vertexDoc{Name: v.Name, Condition: docOf(v.Condition), Annotation: v.Annotation})
	}
	for _, e := range p.Edges {
		doc.Edges = append(doc.Edges, edgeDoc{
			Name:       e.Name,
			From:       e.From,
			To:         e.To,
			Directed:   e.Directed,
			Condition:  docOf(e.Condition),
			Annotation: e.Annotation,
		})
	}
	for _, c := range p.Constraints {
		doc.Constraints = append(doc.Constraints, constraintDoc{
			Op:         c.Op.String(),
			Item1:      c.Item1,
			Attr1:      c.Attr1,
			Item2:      c.Item2,
			Attr2:      c.Attr2,
			AnnotItem:  c.AnnotItem,
			Annotation: c.Annotation,
			Edge:       c.IsEdge,
		})
	}
	for _, a := range p.AddLinks {
		doc.AddLinks = append(doc.AddLinks, addLinkDoc(a))
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode pattern %s: %w", p.Name, err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// LoadPatternFile reads and parses a pattern document from fs.
func LoadPatternFile(fs vfs.FileSystem, path string, env func(string) string) (*Pattern, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pattern file: %w", err)
	}
	p, err := ParsePattern(data, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return p, nil
}
