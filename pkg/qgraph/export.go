package qgraph

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/orneryd/proximity/pkg/storage"
)

// DefaultContainerName returns a fresh name for an export without one.
func DefaultContainerName() string {
	return "qgraph-" + uuid.NewString()
}

// Export persists rel as the named container and returns the stored copy,
// digest included. An empty name picks a fresh one. The relation stays
// owned by the caller.
func (m *Matcher) Export(rel *MatchRelation, name string) (*storage.Container, error) {
	return m.ExportQuery(rel, name, "")
}

// ExportQuery is Export with the definition of the query that produced rel
// stored on the container.
func (m *Matcher) ExportQuery(rel *MatchRelation, name, query string) (*storage.Container, error) {
	if err := rel.check(); err != nil {
		return nil, err
	}
	if name == "" {
		name = DefaultContainerName()
	}
	c := &storage.Container{
		Name:      name,
		Objects:   rel.Objects(),
		Links:     rel.Links(),
		Roles:     rel.schema.defs(),
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveContainer(c); err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", name, err)
	}
	saved, err := m.store.GetContainer(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read back %s: %w", name, err)
	}
	log.Info("exported {{matches}} matches to {{container}}", "matches", saved.MatchCount(), "container", name)
	return saved, nil
}

// LoadRelation reads a stored container back into a relation owned by the
// innermost open scope.
func (m *Matcher) LoadRelation(name string) (*MatchRelation, error) {
	c, err := m.store.GetContainer(name)
	if err != nil {
		return nil, err
	}
	return m.newRelation(schemaFromDefs(c.Roles), c.Objects, c.Links), nil
}
