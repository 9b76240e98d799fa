package storage

import (
	"fmt"
	"sort"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

// GraphFile is the YAML fixture format for loading a graph.
//
// Example:
//
//	attributes:
//	  objects:
//	    gender: str
//	    income: int
//	  links:
//	    type: str
//	objects:
//	  - id: 1
//	    attrs: {gender: F, income: 40000}
//	  - id: 2
//	    attrs: {gender: M, nickname: [Bob, Bobby]}
//	links:
//	  - {id: 1, o1: 1, o2: 2, attrs: {type: knows}}
//
// An attribute value may be a scalar or a list (multi-valued attribute).
type GraphFile struct {
	Attributes struct {
		Objects map[string]string `yaml:"objects"`
		Links   map[string]string `yaml:"links"`
	} `yaml:"attributes"`
	Objects []struct {
		ID    ItemID         `yaml:"id"`
		Attrs map[string]any `yaml:"attrs"`
	} `yaml:"objects"`
	Links []struct {
		Link  `yaml:",inline"`
		Attrs map[string]any `yaml:"attrs"`
	} `yaml:"links"`
}

// LoadStats reports what a load created.
type LoadStats struct {
	Attributes int
	Objects    int
	Links      int
	Values     int
}

// LoadGraphYAML parses a GraphFile document and creates its attributes,
// objects, links and values in the engine.
//
// Attributes are defined first, then objects, then links, so links may refer
// to any object of the document. Loading stops at the first error; what was
// created before stays in the engine.
func LoadGraphYAML(engine Engine, data []byte) (*LoadStats, error) {
	var gf GraphFile
	if err := yaml.Unmarshal(data, &gf); err != nil {
		return nil, fmt.Errorf("failed to parse graph: %w", err)
	}

	stats := &LoadStats{}
	for _, section := range []struct {
		kind  ItemKind
		attrs map[string]string
	}{
		{KindObject, gf.Attributes.Objects},
		{KindLink, gf.Attributes.Links},
	} {
		for _, name := range sortedKeys(section.attrs) {
			typ, err := ParseValueType(section.attrs[name])
			if err != nil {
				return stats, fmt.Errorf("%s attribute %q: %w", section.kind, name, err)
			}
			if err := engine.DefineAttribute(AttrDef{Name: name, Kind: section.kind, Type: typ}); err != nil {
				return stats, err
			}
			stats.Attributes++
		}
	}

	for _, o := range gf.Objects {
		if err := engine.CreateObject(o.ID); err != nil {
			return stats, err
		}
		stats.Objects++
		n, err := setValues(engine, KindObject, o.ID, o.Attrs)
		stats.Values += n
		if err != nil {
			return stats, err
		}
	}

	for _, l := range gf.Links {
		if err := engine.CreateLink(l.Link); err != nil {
			return stats, err
		}
		stats.Links++
		n, err := setValues(engine, KindLink, l.ID, l.Attrs)
		stats.Values += n
		if err != nil {
			return stats, err
		}
	}

	log.Debug("loaded graph: {{objects}} objects, {{links}} links, {{values}} values",
		"objects", stats.Objects, "links", stats.Links, "values", stats.Values)
	return stats, nil
}

// LoadGraphFile reads a GraphFile from fs and loads it.
func LoadGraphFile(fs vfs.FileSystem, engine Engine, path string) (*LoadStats, error) {
	data, err := vfs.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph file: %w", err)
	}
	return LoadGraphYAML(engine, data)
}

func setValues(engine Engine, kind ItemKind, id ItemID, attrs map[string]any) (int, error) {
	n := 0
	for _, name := range sortedKeys(attrs) {
		values, ok := attrs[name].([]any)
		if !ok {
			values = []any{attrs[name]}
		}
		for _, v := range values {
			if err := engine.SetAttribute(kind, name, id, v); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
